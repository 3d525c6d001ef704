package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/tant/service-center-backend/api/responses"
	"github.com/tant/service-center-backend/api/validators"
	lifecyclesvc "github.com/tant/service-center-backend/internal/lifecycle"
	"github.com/tant/service-center-backend/pkg/auth"
	"github.com/tant/service-center-backend/pkg/db/models"
	pkgerrors "github.com/tant/service-center-backend/pkg/errors"
	"github.com/tant/service-center-backend/pkg/logger"
)

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type optionalReasonRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

// transition adapts one lifecycle call into an HTTP handler. All transition
// endpoints share the same shape: path id in, updated document out.
func transition(svc lifecyclesvc.Service, logg *logger.Logger, fn func(svc lifecyclesvc.Service, r *http.Request, actor auth.Actor, id uuid.UUID) (*models.StockDocument, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "lifecycle service unavailable"))
			return
		}

		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		id, err := pathUUID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		doc, err := fn(svc, r, actor, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, doc)
	}
}

// SubmitDocument moves a draft to pending approval.
func SubmitDocument(svc lifecyclesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return transition(svc, logg, func(svc lifecyclesvc.Service, r *http.Request, actor auth.Actor, id uuid.UUID) (*models.StockDocument, error) {
		return svc.Submit(r.Context(), actor, id)
	})
}

// ApproveDocument applies declared quantities to stock.
func ApproveDocument(svc lifecyclesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return transition(svc, logg, func(svc lifecyclesvc.Service, r *http.Request, actor auth.Actor, id uuid.UUID) (*models.StockDocument, error) {
		return svc.Approve(r.Context(), actor, id)
	})
}

// RejectDocument cancels a pending document with a mandatory reason.
func RejectDocument(svc lifecyclesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return transition(svc, logg, func(svc lifecyclesvc.Service, r *http.Request, actor auth.Actor, id uuid.UUID) (*models.StockDocument, error) {
		var payload reasonRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		return svc.Reject(r.Context(), actor, id, payload.Reason)
	})
}

// CancelDocument abandons a draft or pending document.
func CancelDocument(svc lifecyclesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return transition(svc, logg, func(svc lifecyclesvc.Service, r *http.Request, actor auth.Actor, id uuid.UUID) (*models.StockDocument, error) {
		var payload optionalReasonRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				return nil, err
			}
		}
		return svc.Cancel(r.Context(), actor, id, payload.Reason)
	})
}

// CompleteDocument settles serial paperwork on a fully reconciled document.
func CompleteDocument(svc lifecyclesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return transition(svc, logg, func(svc lifecyclesvc.Service, r *http.Request, actor auth.Actor, id uuid.UUID) (*models.StockDocument, error) {
		return svc.Complete(r.Context(), actor, id)
	})
}

// ConfirmDocumentReceived lands an in-transit transfer at its destination.
func ConfirmDocumentReceived(svc lifecyclesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return transition(svc, logg, func(svc lifecyclesvc.Service, r *http.Request, actor auth.Actor, id uuid.UUID) (*models.StockDocument, error) {
		return svc.ConfirmReceived(r.Context(), actor, id)
	})
}
