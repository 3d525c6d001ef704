package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/go-chi/chi/v5"

	"github.com/tant/service-center-backend/api/responses"
	"github.com/tant/service-center-backend/api/validators"
	registrysvc "github.com/tant/service-center-backend/internal/registry"
	pkgerrors "github.com/tant/service-center-backend/pkg/errors"
	"github.com/tant/service-center-backend/pkg/logger"
)

// LookupSerial returns the physical unit carrying a serial number.
func LookupSerial(svc registrysvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "registry service unavailable"))
			return
		}

		serial := strings.TrimSpace(chi.URLParam(r, "serial"))
		if serial == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "serial required"))
			return
		}

		unit, err := svc.Lookup(r.Context(), serial)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, unit)
	}
}

type relocateSerialRequest struct {
	WarehouseID string `json:"warehouse_id" validate:"required,uuid4"`
}

// RelocateSerial moves a unit to another warehouse outside the document flow.
func RelocateSerial(svc registrysvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "registry service unavailable"))
			return
		}

		serial := strings.TrimSpace(chi.URLParam(r, "serial"))
		if serial == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "serial required"))
			return
		}

		var payload relocateSerialRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		warehouseID, err := uuid.Parse(payload.WarehouseID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid warehouse id"))
			return
		}

		if err := svc.Relocate(r.Context(), serial, warehouseID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		unit, err := svc.Lookup(r.Context(), serial)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, unit)
	}
}
