package httpapi

import (
	"errors"
	"net/http"

	"auctoritas.org/internal/authz"
	"auctoritas.org/internal/obs"
)

// handleAuthorize is the decision endpoint:
// GET /v1/authorize?applicationName=...&authenticatorName=...&externalUserId=...
func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()
	decision, err := a.engine.AuthorizeAccess(
		r.Context(),
		q.Get("applicationName"),
		q.Get("authenticatorName"),
		q.Get("externalUserId"),
	)
	if err != nil {
		obs.RecordDecision(decisionOutcome(err))
		handleDomainError(w, r, err)
		return
	}
	obs.RecordDecision("granted")
	writeJSON(w, http.StatusOK, decision)
}

func decisionOutcome(err error) string {
	switch {
	case errors.Is(err, authz.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, authz.ErrNotFound):
		return "denied"
	default:
		return "error"
	}
}
