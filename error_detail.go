package rpccore

import (
	"encoding/base64"
	"fmt"

	spbstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// ErrorDetailParser converts between the wire form of an error's structured
// details (a binary-protobuf-serialized google.rpc.Status, as carried
// base64-encoded in the grpc-status-details-bin trailer) and the
// []ErrorDetail this package hands back to callers. It is used for gRPC and
// gRPC-Web only; the "details" array of a Connect JSON error envelope is
// decoded directly by wireToError without going through this parser.
type ErrorDetailParser interface {
	// EncodeBinary serializes code, message, and details as a
	// google.rpc.Status and returns it ready to base64-encode into a
	// grpc-status-details-bin trailer.
	EncodeBinary(code Code, message string, details []ErrorDetail) ([]byte, error)
	// DecodeBinary parses a google.rpc.Status out of raw (already
	// base64-decoded) protobuf bytes.
	DecodeBinary(raw []byte) (Code, string, []ErrorDetail, error)
}

// statusDetailParser is the default ErrorDetailParser, grounded directly on
// the google.rpc.Status wire format gRPC and Connect both use for
// structured error details.
type statusDetailParser struct{}

// NewStatusDetailParser returns the default google.rpc.Status-backed
// ErrorDetailParser.
func NewStatusDetailParser() ErrorDetailParser { return statusDetailParser{} }

func (statusDetailParser) EncodeBinary(code Code, message string, details []ErrorDetail) ([]byte, error) {
	anys := make([]*anypb.Any, 0, len(details))
	for _, detail := range details {
		anys = append(anys, &anypb.Any{TypeUrl: detail.TypeURL, Value: detail.Value})
	}
	st := &spbstatus.Status{
		Code:    int32(code),
		Message: message,
		Details: anys,
	}
	return proto.Marshal(st)
}

func (statusDetailParser) DecodeBinary(raw []byte) (Code, string, []ErrorDetail, error) {
	var st spbstatus.Status
	if err := proto.Unmarshal(raw, &st); err != nil {
		return 0, "", nil, fmt.Errorf("unmarshal google.rpc.Status: %w", err)
	}
	details := make([]ErrorDetail, 0, len(st.GetDetails()))
	for _, any := range st.GetDetails() {
		details = append(details, ErrorDetail{TypeURL: any.GetTypeUrl(), Value: any.GetValue()})
	}
	return Code(st.GetCode()), st.GetMessage(), details, nil
}

// decodeGRPCStatusDetailsBin base64-decodes the grpc-status-details-bin
// trailer value and parses it as a google.rpc.Status, returning the
// structured details only (code/message for that trailer are redundant
// with Grpc-Status/Grpc-Message and are ignored here).
func decodeGRPCStatusDetailsBin(parser ErrorDetailParser, encoded string) ([]ErrorDetail, error) {
	raw, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		// grpc-status-details-bin may or may not be padded depending on the
		// peer; fall back to standard padded encoding before giving up.
		raw, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode grpc-status-details-bin: %w", err)
		}
	}
	_, _, details, err := parser.DecodeBinary(raw)
	return details, err
}
