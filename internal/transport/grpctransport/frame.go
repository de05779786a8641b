package grpctransport

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/probed/probed/internal/transport"
	"github.com/probed/probed/internal/value"
)

// frameKind tags the direction/meaning of a Dispatch stream frame.
type frameKind string

const (
	frameRequest     frameKind = "req"
	frameReply       frameKind = "reply"
	frameReplyError  frameKind = "reply_error"
)

// frame is the wire envelope carried over the bidi-streaming Dispatch
// RPC. There is no generated .proto for this service — every frame is a
// structpb.Struct (a real proto.Message shipped by
// google.golang.org/protobuf) with a small fixed field set, hand-encoded
// below instead of through protoc-generated marshal code.
type frame struct {
	rid       transport.RID
	kind      frameKind
	payload   value.Value
	errorCode transport.ErrorCode
}

func encodeFrame(f frame) (*structpb.Struct, error) {
	fields := map[string]*structpb.Value{
		"rid":  structpb.NewNumberValue(float64(f.rid)),
		"kind": structpb.NewStringValue(string(f.kind)),
	}

	switch f.kind {
	case frameRequest, frameReply:
		payloadStruct, err := value.ToStruct(f.payload)
		if err != nil {
			return nil, fmt.Errorf("grpctransport: encode payload: %w", err)
		}
		fields["payload"] = structpb.NewStructValue(payloadStruct)
	case frameReplyError:
		fields["error_code"] = structpb.NewStringValue(string(f.errorCode))
	default:
		return nil, fmt.Errorf("grpctransport: unknown frame kind %q", f.kind)
	}

	return &structpb.Struct{Fields: fields}, nil
}

func decodeFrame(s *structpb.Struct) (frame, error) {
	if s == nil {
		return frame{}, fmt.Errorf("grpctransport: nil frame")
	}

	ridField, ok := s.Fields["rid"]
	if !ok {
		return frame{}, fmt.Errorf("grpctransport: frame missing rid")
	}
	kindField, ok := s.Fields["kind"]
	if !ok {
		return frame{}, fmt.Errorf("grpctransport: frame missing kind")
	}

	f := frame{
		rid:  transport.RID(ridField.GetNumberValue()),
		kind: frameKind(kindField.GetStringValue()),
	}

	switch f.kind {
	case frameRequest, frameReply:
		if p, ok := s.Fields["payload"]; ok {
			f.payload = value.FromStruct(p.GetStructValue())
		}
	case frameReplyError:
		f.errorCode = transport.ErrorCode(s.Fields["error_code"].GetStringValue())
	default:
		return frame{}, fmt.Errorf("grpctransport: unknown frame kind %q", f.kind)
	}

	return f, nil
}
