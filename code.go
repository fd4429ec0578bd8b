package rpccore

import "strconv"

// Code is the closed set of RPC status codes shared by gRPC, gRPC-Web, and
// Connect. The numeric values and lowercase names match the gRPC status
// registry; Connect's JSON error envelope uses the lowercase name, while
// gRPC and gRPC-Web use the numeric value.
type Code uint32

const (
	CodeOK                 Code = 0
	CodeCanceled           Code = 1
	CodeUnknown            Code = 2
	CodeInvalidArgument    Code = 3
	CodeDeadlineExceeded   Code = 4
	CodeNotFound           Code = 5
	CodeAlreadyExists      Code = 6
	CodePermissionDenied   Code = 7
	CodeResourceExhausted  Code = 8
	CodeFailedPrecondition Code = 9
	CodeAborted            Code = 10
	CodeOutOfRange         Code = 11
	CodeUnimplemented      Code = 12
	CodeInternal           Code = 13
	CodeUnavailable        Code = 14
	CodeDataLoss           Code = 15
	CodeUnauthenticated    Code = 16
)

var codeNames = map[Code]string{
	CodeOK:                 "ok",
	CodeCanceled:           "canceled",
	CodeUnknown:            "unknown",
	CodeInvalidArgument:    "invalid_argument",
	CodeDeadlineExceeded:   "deadline_exceeded",
	CodeNotFound:           "not_found",
	CodeAlreadyExists:      "already_exists",
	CodePermissionDenied:   "permission_denied",
	CodeResourceExhausted:  "resource_exhausted",
	CodeFailedPrecondition: "failed_precondition",
	CodeAborted:            "aborted",
	CodeOutOfRange:         "out_of_range",
	CodeUnimplemented:      "unimplemented",
	CodeInternal:           "internal",
	CodeUnavailable:        "unavailable",
	CodeDataLoss:           "data_loss",
	CodeUnauthenticated:    "unauthenticated",
}

var namesToCode = func() map[string]Code {
	out := make(map[string]Code, len(codeNames))
	for code, name := range codeNames {
		out[name] = code
	}
	return out
}()

// String returns the canonical lowercase name, e.g. "resource_exhausted".
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "code_" + strconv.FormatUint(uint64(c), 10)
}

// CodeFromString parses the canonical lowercase name used on the wire by
// Connect's unary JSON error envelope and end-stream error frames. Unknown
// names decode to CodeUnknown. (An unrecognized numeric gRPC status, by
// contrast, is kept as Code(n) and renders as "code_<n>".)
func CodeFromString(name string) Code {
	if code, ok := namesToCode[name]; ok {
		return code
	}
	return CodeUnknown
}
