// Package handlers contains the HTTP handlers of the device registration and
// admin APIs. Each handler declares the narrow interfaces it needs so tests
// can substitute fakes for the repositories, dispatcher and poll runner.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"tubenotify/internal/core"
	"tubenotify/internal/types"
)

// respondFailure writes AppErrors caused by the request (validation,
// conflict) as they are and everything else as a 500 carrying message. The
// cause is only logged.
func respondFailure(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, message string) {
	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Code.CallerCaused() {
		core.Error(w, r, appErr)
		return
	}
	logger.ErrorContext(r.Context(), message,
		"error", err,
		"request_id", types.GetRequestID(r.Context()),
	)
	core.Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected, message, err))
}
