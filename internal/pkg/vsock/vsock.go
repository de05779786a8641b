// Package vsock wraps github.com/mdlayher/vsock with a Unix-socket
// fallback for platforms or sandboxes where AF_VSOCK is unavailable.
package vsock

import (
	"fmt"
	"net"
	"os"

	mvsock "github.com/mdlayher/vsock"
)

// Listen opens a vsock listener on the given port. If the kernel does not
// support AF_VSOCK (non-Linux hosts, containers without /dev/vsock), it
// falls back to a Unix domain socket at fallbackPath so callers can still
// develop and test the transport locally.
func Listen(port uint32, fallbackPath string) (net.Listener, error) {
	lis, err := mvsock.Listen(port, nil)
	if err == nil {
		return lis, nil
	}

	fallbackErr := err
	if fallbackPath == "" {
		return nil, fmt.Errorf("vsock listen on port %d: %w", port, fallbackErr)
	}

	os.Remove(fallbackPath)
	ulis, uerr := net.Listen("unix", fallbackPath)
	if uerr != nil {
		return nil, fmt.Errorf("vsock listen on port %d failed (%w), unix fallback %s also failed: %v", port, fallbackErr, fallbackPath, uerr)
	}
	return ulis, nil
}

// Dial connects to a vsock listener at (contextID, port). If that fails,
// it falls back to dialing a Unix domain socket at fallbackPath.
func Dial(contextID, port uint32, fallbackPath string) (net.Conn, error) {
	conn, err := mvsock.Dial(contextID, port, nil)
	if err == nil {
		return conn, nil
	}

	fallbackErr := err
	if fallbackPath == "" {
		return nil, fmt.Errorf("vsock dial %d:%d: %w", contextID, port, fallbackErr)
	}

	uconn, uerr := net.Dial("unix", fallbackPath)
	if uerr != nil {
		return nil, fmt.Errorf("vsock dial %d:%d failed (%w), unix fallback %s also failed: %v", contextID, port, fallbackErr, fallbackPath, uerr)
	}
	return uconn, nil
}
