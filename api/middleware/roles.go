package middleware

import (
	"net/http"

	"github.com/tant/service-center-backend/api/responses"
	pkgerrors "github.com/tant/service-center-backend/pkg/errors"
	"github.com/tant/service-center-backend/pkg/logger"
)

// RequireApprover rejects requests whose actor cannot approve documents.
// Services enforce the same gate; this keeps unauthorized calls out of the
// transaction path entirely.
func RequireApprover(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor context missing"))
				return
			}
			if !actor.Role.CanApprove() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "admin or manager role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
