package document

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tant/service-center-backend/pkg/auth"
	"github.com/tant/service-center-backend/pkg/db/models"
	"github.com/tant/service-center-backend/pkg/enums"
	pkgerrors "github.com/tant/service-center-backend/pkg/errors"
	"github.com/tant/service-center-backend/pkg/pagination"
)

// Service manages stock document CRUD. Lifecycle transitions live in the
// lifecycle package; this one only ever touches draft-state structure.
type Service interface {
	Create(ctx context.Context, actor auth.Actor, input CreateInput) (*models.StockDocument, error)
	CreateTx(tx *gorm.DB, actor auth.Actor, input CreateInput) (*models.StockDocument, error)
	Get(ctx context.Context, id uuid.UUID) (*models.StockDocument, error)
	List(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.StockDocument, string, error)
	AddLine(ctx context.Context, actor auth.Actor, documentID uuid.UUID, input LineInput) (*models.DocumentLine, error)
	RemoveLine(ctx context.Context, actor auth.Actor, documentID, lineID uuid.UUID) error
}

// LineInput declares one product/quantity pair.
type LineInput struct {
	ProductID   uuid.UUID
	DeclaredQty int
	UnitPrice   *decimal.Decimal
}

// CreateInput holds the validated payload to create a document.
type CreateInput struct {
	Kind              enums.DocumentKind
	SourceWarehouseID *uuid.UUID
	DestWarehouseID   *uuid.UUID
	Adjustment        bool
	Reference         *string
	RMABatchID        *uuid.UUID
	Lines             []LineInput
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	repo     *Repository
	dbClient txRunner
}

// NewService constructs a document service instance.
func NewService(repo *Repository, dbClient txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("document repository required")
	}
	if dbClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	return &service{repo: repo, dbClient: dbClient}, nil
}

func (s *service) Create(ctx context.Context, actor auth.Actor, input CreateInput) (*models.StockDocument, error) {
	var doc *models.StockDocument
	err := s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		created, terr := s.CreateTx(tx, actor, input)
		if terr != nil {
			return terr
		}
		doc = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// CreateTx runs Create inside the caller's transaction.
func (s *service) CreateTx(tx *gorm.DB, actor auth.Actor, input CreateInput) (*models.StockDocument, error) {
	if err := validateHeader(input); err != nil {
		return nil, err
	}
	if err := validateLineQuantities(input.Adjustment, input.Lines); err != nil {
		return nil, err
	}

	doc := &models.StockDocument{
		ID:                uuid.New(),
		Kind:              input.Kind,
		Status:            enums.DocumentStatusDraft,
		SourceWarehouseID: input.SourceWarehouseID,
		DestWarehouseID:   input.DestWarehouseID,
		Adjustment:        input.Adjustment,
		Reference:         input.Reference,
		RMABatchID:        input.RMABatchID,
		CreatedBy:         actor.ID,
	}
	for _, line := range input.Lines {
		doc.Lines = append(doc.Lines, models.DocumentLine{
			ID:          uuid.New(),
			DocumentID:  doc.ID,
			ProductID:   line.ProductID,
			DeclaredQty: line.DeclaredQty,
			UnitPrice:   line.UnitPrice,
		})
	}

	txRepo := s.repo.WithTx(tx)
	if err := txRepo.Create(tx.Statement.Context, doc); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create document")
	}
	return doc, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.StockDocument, error) {
	doc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load document")
	}
	if doc == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "document not found")
	}
	return doc, nil
}

func (s *service) List(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.StockDocument, string, error) {
	docs, next, err := s.repo.List(ctx, filter, params)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list documents")
	}
	return docs, next, nil
}

func (s *service) AddLine(ctx context.Context, actor auth.Actor, documentID uuid.UUID, input LineInput) (*models.DocumentLine, error) {
	var line *models.DocumentLine
	err := s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		txCtx := tx.Statement.Context

		doc, terr := txRepo.FindByID(txCtx, documentID)
		if terr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, terr, "load document")
		}
		if doc == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "document not found")
		}
		if doc.Status != enums.DocumentStatusDraft {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "lines can only change on draft documents")
		}
		if terr := validateLineQuantities(doc.Adjustment, []LineInput{input}); terr != nil {
			return terr
		}

		line = &models.DocumentLine{
			ID:          uuid.New(),
			DocumentID:  doc.ID,
			ProductID:   input.ProductID,
			DeclaredQty: input.DeclaredQty,
			UnitPrice:   input.UnitPrice,
		}
		if terr := txRepo.AddLine(txCtx, line); terr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, terr, "add line")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

func (s *service) RemoveLine(ctx context.Context, actor auth.Actor, documentID, lineID uuid.UUID) error {
	return s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		txCtx := tx.Statement.Context

		doc, err := txRepo.FindByID(txCtx, documentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load document")
		}
		if doc == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "document not found")
		}
		if doc.Status != enums.DocumentStatusDraft {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "lines can only change on draft documents")
		}

		line, err := txRepo.FindLineByID(txCtx, lineID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load line")
		}
		if line == nil || line.DocumentID != documentID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "line not found")
		}
		if err := txRepo.RemoveLine(txCtx, lineID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "remove line")
		}
		return nil
	})
}

func validateHeader(input CreateInput) error {
	if !input.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid document kind")
	}
	if input.Kind.RequiresSourceWarehouse() && input.SourceWarehouseID == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s documents require a source warehouse", input.Kind))
	}
	if input.Kind.RequiresDestWarehouse() && input.DestWarehouseID == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s documents require a destination warehouse", input.Kind))
	}
	if input.Kind == enums.DocumentKindTransfer &&
		input.SourceWarehouseID != nil && input.DestWarehouseID != nil &&
		*input.SourceWarehouseID == *input.DestWarehouseID {
		return pkgerrors.New(pkgerrors.CodeValidation, "transfer source and destination warehouses must differ")
	}
	return nil
}

// validateLineQuantities enforces the sign rules: normal documents take only
// positive quantities, adjustment documents take any non-zero quantity.
func validateLineQuantities(adjustment bool, lines []LineInput) error {
	var offending []int
	for i, line := range lines {
		if line.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "line product is required")
		}
		if adjustment {
			if line.DeclaredQty == 0 {
				offending = append(offending, i)
			}
			continue
		}
		if line.DeclaredQty <= 0 {
			offending = append(offending, i)
		}
	}
	if len(offending) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid line quantity").
			WithDetails(map[string]any{"line_indexes": offending})
	}
	return nil
}
