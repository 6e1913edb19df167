package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
	"github.com/angelmondragon/freightlane-backend/pkg/types"
)

type requestIDKey struct{}

// WithRequestID stores the request's correlation id for error bodies.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteError renders err as the error envelope and logs it. Untyped errors
// are internal; their text never reaches the client.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())
	if logg != nil {
		logError(ctx, logg, err, meta)
	}
	writeJSON(w, meta.HTTPStatus, types.ErrorEnvelope{Error: publicError(ctx, typed, meta)})
}

func publicError(ctx context.Context, typed *pkgerrors.Error, meta pkgerrors.Metadata) types.APIError {
	out := types.APIError{
		Code:      string(typed.Code()),
		Message:   meta.PublicMessage,
		Retryable: meta.Retryable,
		RequestID: RequestIDFromContext(ctx),
	}
	switch meta.Category {
	case pkgerrors.CategoryClient, pkgerrors.CategoryDomainRejection, pkgerrors.CategoryStaleState:
		if typed.Message() != "" {
			out.Message = typed.Message()
		}
	}
	if meta.DetailsAllowed {
		out.Details = typed.Details()
	}
	return out
}

func logError(ctx context.Context, logg *logger.Logger, err error, meta pkgerrors.Metadata) {
	fields := pkgerrors.Diagnose(err).LogFields()
	fields["http_status"] = meta.HTTPStatus
	ctx = logg.WithFields(ctx, fields)
	switch meta.Category {
	case pkgerrors.CategoryInternal, pkgerrors.CategoryUnreachable:
		logg.Error(ctx, "request.error", err)
	default:
		logg.Warn(ctx, "request.rejected")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status line is already out; an encode failure here only means the
	// client hung up.
	_ = json.NewEncoder(w).Encode(payload)
}
