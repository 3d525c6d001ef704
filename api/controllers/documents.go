package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tant/service-center-backend/api/responses"
	"github.com/tant/service-center-backend/api/validators"
	documentsvc "github.com/tant/service-center-backend/internal/documents"
	"github.com/tant/service-center-backend/pkg/enums"
	pkgerrors "github.com/tant/service-center-backend/pkg/errors"
	"github.com/tant/service-center-backend/pkg/logger"
	"github.com/tant/service-center-backend/pkg/pagination"
)

type createDocumentRequest struct {
	Kind              string                `json:"kind" validate:"required"`
	SourceWarehouseID *string               `json:"source_warehouse_id,omitempty"`
	DestWarehouseID   *string               `json:"dest_warehouse_id,omitempty"`
	Adjustment        bool                  `json:"adjustment"`
	Reference         *string               `json:"reference,omitempty" validate:"omitempty,max=200"`
	Lines             []documentLineRequest `json:"lines" validate:"omitempty,dive"`
}

type documentLineRequest struct {
	ProductID   string  `json:"product_id" validate:"required,uuid4"`
	DeclaredQty int     `json:"declared_qty" validate:"required"`
	UnitPrice   *string `json:"unit_price,omitempty"`
}

func (r createDocumentRequest) toCreateInput() (documentsvc.CreateInput, error) {
	kind, err := enums.ParseDocumentKind(strings.TrimSpace(r.Kind))
	if err != nil {
		return documentsvc.CreateInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid document kind")
	}

	source, err := parseOptionalUUID(r.SourceWarehouseID, "source_warehouse_id")
	if err != nil {
		return documentsvc.CreateInput{}, err
	}
	dest, err := parseOptionalUUID(r.DestWarehouseID, "dest_warehouse_id")
	if err != nil {
		return documentsvc.CreateInput{}, err
	}

	lines := make([]documentsvc.LineInput, 0, len(r.Lines))
	for _, line := range r.Lines {
		parsed, lerr := line.toLineInput()
		if lerr != nil {
			return documentsvc.CreateInput{}, lerr
		}
		lines = append(lines, parsed)
	}

	return documentsvc.CreateInput{
		Kind:              kind,
		SourceWarehouseID: source,
		DestWarehouseID:   dest,
		Adjustment:        r.Adjustment,
		Reference:         r.Reference,
		Lines:             lines,
	}, nil
}

func (r documentLineRequest) toLineInput() (documentsvc.LineInput, error) {
	productID, err := uuid.Parse(r.ProductID)
	if err != nil {
		return documentsvc.LineInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id")
	}

	var unitPrice *decimal.Decimal
	if r.UnitPrice != nil {
		price, perr := decimal.NewFromString(strings.TrimSpace(*r.UnitPrice))
		if perr != nil {
			return documentsvc.LineInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, perr, "invalid unit price")
		}
		unitPrice = &price
	}

	return documentsvc.LineInput{
		ProductID:   productID,
		DeclaredQty: r.DeclaredQty,
		UnitPrice:   unitPrice,
	}, nil
}

func parseOptionalUUID(raw *string, field string) (*uuid.UUID, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	id, err := uuid.Parse(strings.TrimSpace(*raw))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+field).
			WithDetails(map[string]any{"field": field})
	}
	return &id, nil
}

// CreateDocument opens a new draft stock document.
func CreateDocument(svc documentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "document service unavailable"))
			return
		}

		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createDocumentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := payload.toCreateInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		doc, err := svc.Create(r.Context(), actor, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, doc)
	}
}

func GetDocument(svc documentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "document service unavailable"))
			return
		}

		id, err := pathUUID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		doc, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, doc)
	}
}

// ListDocuments supports kind/status/warehouse/RMA filters with cursor
// pagination.
func ListDocuments(svc documentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "document service unavailable"))
			return
		}

		filter, err := parseDocumentFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		docs, next, err := svc.List(r.Context(), filter, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"documents":   docs,
			"next_cursor": next,
		})
	}
}

func parseDocumentFilter(r *http.Request) (documentsvc.ListFilter, error) {
	var filter documentsvc.ListFilter

	if raw := strings.TrimSpace(r.URL.Query().Get("kind")); raw != "" {
		kind, err := enums.ParseDocumentKind(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid document kind")
		}
		filter.Kind = &kind
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := enums.ParseDocumentStatus(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid document status")
		}
		filter.Status = &status
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("warehouse_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid warehouse id")
		}
		filter.WarehouseID = &id
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("rma_batch_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid rma batch id")
		}
		filter.RMABatchID = &id
	}

	return filter, nil
}

// AddDocumentLine appends a product line to a draft document.
func AddDocumentLine(svc documentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "document service unavailable"))
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

		var payload documentLineRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := payload.toLineInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		line, err := svc.AddLine(r.Context(), actor, id, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, line)
	}
}

func RemoveDocumentLine(svc documentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "document service unavailable"))
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

		lineID, err := pathUUID(r, "lineID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.RemoveLine(r.Context(), actor, id, lineID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "removed"})
	}
}
