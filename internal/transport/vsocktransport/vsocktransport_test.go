package vsocktransport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probed/probed/internal/transport"
	"github.com/probed/probed/internal/value"
)

func TestFrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	want := wireFrame{
		Kind:    frameRequest,
		RID:     transport.RID(7),
		Payload: value.Map(map[string]value.Value{"id": value.String("oid-1")}),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- writeFrame(client, want) }()

	got, err := readFrame(server)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	assert.Equal(t, want.Kind, got.Kind)
	assert.Equal(t, want.RID, got.RID)
	id, ok := got.Payload.GetAttribute("id")
	require.True(t, ok)
	s, _ := id.AsString()
	assert.Equal(t, "oid-1", s)
}

func TestAdapterRequestReplyOverPipe(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	adapter := New(server)
	defer adapter.Close()

	req := wireFrame{Kind: frameRequest, RID: transport.RID(1), Payload: value.Map(map[string]value.Value{"id": value.String("oid-x")})}
	require.NoError(t, writeFrame(client, req))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := adapter.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, transport.RID(1), got.RID)

	replyErrCh := make(chan error, 1)
	go func() { replyErrCh <- adapter.Reply(got, value.String("ok")) }()

	reply, err := readFrame(client)
	require.NoError(t, err)
	require.NoError(t, <-replyErrCh)
	assert.Equal(t, frameReply, reply.Kind)
	s, _ := reply.Payload.AsString()
	assert.Equal(t, "ok", s)
}

func TestAdapterReplyErrorOverPipe(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	adapter := New(server)
	defer adapter.Close()

	req := &transport.Request{RID: transport.RID(2)}
	replyErrCh := make(chan error, 1)
	go func() { replyErrCh <- adapter.ReplyError(req, transport.ENoAttr) }()

	reply, err := readFrame(client)
	require.NoError(t, err)
	require.NoError(t, <-replyErrCh)
	assert.Equal(t, frameReplyError, reply.Kind)
	assert.Equal(t, string(transport.ENoAttr), reply.ErrorCode)
}

func TestAdapterCloseIsIdempotent(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	adapter := New(server)
	require.NoError(t, adapter.Close())
	require.NoError(t, adapter.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := adapter.Recv(ctx)
	assert.Equal(t, transport.ErrClosed, err)
}
