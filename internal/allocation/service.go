package allocation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tant/service-center-backend/pkg/auth"
	"github.com/tant/service-center-backend/pkg/db"
	"github.com/tant/service-center-backend/pkg/db/models"
	"github.com/tant/service-center-backend/pkg/enums"
	pkgerrors "github.com/tant/service-center-backend/pkg/errors"
)

// Service binds serials to document lines and releases them again. A serial
// can sit on at most one open document at a time; the partial unique index on
// active bindings backstops the in-transaction checks against races.
type Service interface {
	Bind(ctx context.Context, actor auth.Actor, lineID uuid.UUID, serial string) (*models.SerialBinding, error)
	BindTx(tx *gorm.DB, actor auth.Actor, lineID uuid.UUID, serial string) (*models.SerialBinding, error)
	Unbind(ctx context.Context, actor auth.Actor, lineID uuid.UUID, serial string) error
	UnbindTx(tx *gorm.DB, actor auth.Actor, lineID uuid.UUID, serial string) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type registryOps interface {
	MarkReservedTx(tx *gorm.DB, unitID uuid.UUID) error
	MarkActiveTx(tx *gorm.DB, unitID uuid.UUID) error
}

type lifecycleHook interface {
	TryAutoCompleteTx(tx *gorm.DB, actor auth.Actor, documentID uuid.UUID) (bool, error)
}

type service struct {
	repo      *Repository
	dbClient  txRunner
	registry  registryOps
	lifecycle lifecycleHook
}

func NewService(repo *Repository, dbClient txRunner, registrySvc registryOps, lifecycleSvc lifecycleHook) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("allocation repository required")
	}
	if dbClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	if registrySvc == nil {
		return nil, fmt.Errorf("registry service required")
	}
	if lifecycleSvc == nil {
		return nil, fmt.Errorf("lifecycle service required")
	}
	return &service{repo: repo, dbClient: dbClient, registry: registrySvc, lifecycle: lifecycleSvc}, nil
}

func (s *service) Bind(ctx context.Context, actor auth.Actor, lineID uuid.UUID, serial string) (*models.SerialBinding, error) {
	var binding *models.SerialBinding
	err := s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		result, terr := s.BindTx(tx, actor, lineID, serial)
		if terr != nil {
			return terr
		}
		binding = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return binding, nil
}

// BindTx validates and records one serial against one line. Checks run in a
// fixed order so callers get stable error codes: serial identity first, then
// location, then double-binding, then the line ceiling.
func (s *service) BindTx(tx *gorm.DB, actor auth.Actor, lineID uuid.UUID, serial string) (*models.SerialBinding, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "serial is required")
	}

	txRepo := s.repo.WithTx(tx)
	ctx := tx.Statement.Context

	line, doc, err := s.loadLine(ctx, txRepo, lineID)
	if err != nil {
		return nil, err
	}
	if doc.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "document no longer accepts bindings").
			WithDetails(map[string]any{"document_id": doc.ID.String(), "status": doc.Status.String()})
	}

	unit, err := txRepo.FindUnitBySerial(ctx, serial)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup unit")
	}

	switch doc.Kind {
	case enums.DocumentKindReceipt:
		// Receipts introduce new serials; one that already exists in the
		// registry cannot arrive again.
		if unit != nil {
			return nil, pkgerrors.New(pkgerrors.CodeInvariant, "duplicate serial").
				WithDetails(map[string]any{"serials": []string{serial}})
		}
	default:
		if unit == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "serial is not registered").
				WithDetails(map[string]any{"serial": serial})
		}
		if unit.ProductID != line.ProductID {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "serial belongs to a different product").
				WithDetails(map[string]any{"serial": serial, "product_id": unit.ProductID.String()})
		}
		if doc.SourceWarehouseID == nil || unit.WarehouseID != *doc.SourceWarehouseID {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "serial is not in the source warehouse").
				WithDetails(map[string]any{"serial": serial, "warehouse_id": unit.WarehouseID.String()})
		}
		if unit.Status == enums.UnitStatusDisposed {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "unit is disposed").
				WithDetails(map[string]any{"serial": serial})
		}
	}

	existing, err := txRepo.FindActiveBindingBySerial(ctx, serial)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup binding")
	}
	if existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "serial already bound to an open document").
			WithDetails(map[string]any{"serial": serial, "document_id": existing.DocumentID.String()})
	}

	count, err := txRepo.CountActiveBindingsForLine(ctx, line.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count bindings")
	}
	ceiling := line.DeclaredQty
	if ceiling < 0 {
		ceiling = -ceiling
	}
	if count >= ceiling {
		return nil, pkgerrors.New(pkgerrors.CodeInvariant, "line quantity exceeded").
			WithDetails(map[string]any{"line_id": line.ID.String(), "declared_qty": line.DeclaredQty, "bound_count": count})
	}

	binding := &models.SerialBinding{
		ID:         uuid.New(),
		DocumentID: doc.ID,
		LineID:     line.ID,
		Serial:     serial,
		Active:     true,
	}
	if unit != nil {
		binding.UnitID = &unit.ID
	}
	if err := txRepo.CreateBinding(ctx, binding); err != nil {
		// A concurrent bind that committed first trips the partial unique
		// index on active serials.
		if db.IsUniqueViolation(err, "ux_serial_bindings_open_serial") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "serial already bound to an open document").
				WithDetails(map[string]any{"serial": serial})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create binding")
	}

	if unit != nil {
		if err := s.registry.MarkReservedTx(tx, unit.ID); err != nil {
			return nil, err
		}
	}

	if _, err := s.lifecycle.TryAutoCompleteTx(tx, actor, doc.ID); err != nil {
		return nil, err
	}
	return binding, nil
}

func (s *service) Unbind(ctx context.Context, actor auth.Actor, lineID uuid.UUID, serial string) error {
	return s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		return s.UnbindTx(tx, actor, lineID, serial)
	})
}

// UnbindTx removes an open binding and releases the reserved unit, if any.
func (s *service) UnbindTx(tx *gorm.DB, actor auth.Actor, lineID uuid.UUID, serial string) error {
	serial = strings.TrimSpace(serial)
	txRepo := s.repo.WithTx(tx)
	ctx := tx.Statement.Context

	_, doc, err := s.loadLine(ctx, txRepo, lineID)
	if err != nil {
		return err
	}
	if doc.Status.IsTerminal() {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "document no longer accepts binding changes").
			WithDetails(map[string]any{"document_id": doc.ID.String(), "status": doc.Status.String()})
	}

	binding, err := txRepo.FindActiveBindingByLineAndSerial(ctx, lineID, serial)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup binding")
	}
	if binding == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "binding not found")
	}

	if binding.UnitID != nil {
		if err := s.registry.MarkActiveTx(tx, *binding.UnitID); err != nil {
			return err
		}
	}
	if err := txRepo.DeleteBinding(ctx, binding.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete binding")
	}
	return nil
}

func (s *service) loadLine(ctx context.Context, txRepo *Repository, lineID uuid.UUID) (*models.DocumentLine, *models.StockDocument, error) {
	line, err := txRepo.FindLineByID(ctx, lineID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load line")
	}
	if line == nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "document line not found")
	}
	doc, err := txRepo.FindDocumentByID(ctx, line.DocumentID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load document")
	}
	if doc == nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "document not found")
	}
	return line, doc, nil
}
