package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"TroveLedger/internal/core"
	"TroveLedger/internal/ingestion"
	"TroveLedger/internal/protocol"
)

var errProjectionsDisabled = status.Error(codes.Unavailable, "projections require postgres")

// CodeOf maps a command or query error to a gRPC code.
func CodeOf(err error) codes.Code {
	if st, ok := status.FromError(err); ok {
		return st.Code()
	}
	switch {
	case errors.Is(err, ingestion.ErrMalformedCommand):
		return codes.InvalidArgument
	case errors.Is(err, core.ErrSequenceGap):
		return codes.FailedPrecondition
	case errors.Is(err, core.ErrOutOfOrder), errors.Is(err, core.ErrStalePrice):
		return codes.Aborted
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}

	switch protocol.KindOf(err) {
	case protocol.KindValidation:
		return codes.InvalidArgument
	case protocol.KindNotFound:
		return codes.NotFound
	case protocol.KindInvariant:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := CodeOf(err)
	body := errorBody{Code: code.String(), Message: err.Error()}
	if st, ok := status.FromError(err); ok {
		body.Message = st.Message()
	} else if k := protocol.KindOf(err); k != protocol.KindUnknown {
		body.Kind = k.String()
	}
	writeJSON(w, runtime.HTTPStatusFromCode(code), body)
}

func invalidArgument(format string, args ...any) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}
