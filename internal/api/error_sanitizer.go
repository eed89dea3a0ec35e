package api

import (
	"net/http"

	"github.com/ignite/phase-funnel/internal/pkg/httputil"
	"github.com/ignite/phase-funnel/internal/pkg/logger"
)

// respondSafeError logs the full internal error and sends publicMsg only.
// Upstream and database details never reach API consumers.
func respondSafeError(w http.ResponseWriter, code int, internalErr error, publicMsg string) {
	if internalErr != nil {
		logger.Error("api: request failed", "status", code, "message", publicMsg, "error", internalErr)
	}
	httputil.Error(w, code, publicMsg)
}
