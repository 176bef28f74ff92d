package errs

import (
	"errors"
	"net/http"
)

// Body is the structured error object returned to callers.
type Body struct {
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// ToBody converts err into a caller-facing Body. Unclassified errors get a generic
// message so internal details never leak.
func ToBody(err error) *Body {
	if err == nil {
		return nil
	}
	k := KindOf(err)
	b := &Body{Kind: k, Retryable: Retryable(k)}
	var e *Error
	switch {
	case k == Internal:
		b.Message = "internal error"
	case k == Cancelled && !errors.As(err, &e):
		b.Message = "request cancelled or timed out"
	case errors.As(err, &e) && e.Message != "":
		b.Message = e.Message
	default:
		b.Message = string(k)
	}
	return b
}

// HTTPStatus maps a kind to the status code used by the HTTP API.
func HTTPStatus(k Kind) int {
	switch k {
	case InvalidInput:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	case UnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case Parse, NoEvidence:
		return http.StatusUnprocessableEntity
	case SourceUnavailable:
		return http.StatusBadGateway
	case EmbeddingUnavailable, RerankUnavailable, GenerationUnavailable:
		return http.StatusServiceUnavailable
	case Cancelled:
		return 499
	}
	return http.StatusInternalServerError
}
