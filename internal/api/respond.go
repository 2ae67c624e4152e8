package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/kalambet/parity/internal/httpapi"
	"github.com/kalambet/parity/internal/privileged"
	"github.com/kalambet/parity/internal/reconcile"
)

const maxRequestBodySize = 1 << 20 // 1MB

// failure maps an engine or executor error to a status code and error type.
func failure(err error) (int, string) {
	switch {
	case errors.Is(err, reconcile.ErrUnknownItem):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, reconcile.ErrNoLiveValue):
		return http.StatusConflict, "conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	switch privileged.KindOf(err) {
	case privileged.KindBackendUnavailable:
		return http.StatusServiceUnavailable, "backend_unavailable"
	case privileged.KindPermissionDenied:
		return http.StatusForbidden, "permission_denied"
	case privileged.KindUnsupportedAccessor:
		return http.StatusUnprocessableEntity, "unsupported_accessor"
	case privileged.KindCommandFailed:
		return http.StatusBadGateway, "command_failed"
	}
	return http.StatusInternalServerError, "api_error"
}

func writeFailure(w http.ResponseWriter, err error) {
	code, typ := failure(err)
	httpapi.Error(w, code, typ, "%v", err)
}
