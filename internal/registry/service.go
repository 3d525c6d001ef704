package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tant/service-center-backend/pkg/db"
	"github.com/tant/service-center-backend/pkg/db/models"
	"github.com/tant/service-center-backend/pkg/enums"
	pkgerrors "github.com/tant/service-center-backend/pkg/errors"
)

// Service is the source of truth mapping each serial to one physical unit.
// Relocate is the only legal way a unit's warehouse changes; other packages
// reference units by serial, never by cached location.
type Service interface {
	Register(ctx context.Context, input RegisterInput) (*models.PhysicalUnit, error)
	RegisterTx(tx *gorm.DB, input RegisterInput) (*models.PhysicalUnit, error)
	Lookup(ctx context.Context, serial string) (*models.PhysicalUnit, error)
	Relocate(ctx context.Context, serial string, toWarehouseID uuid.UUID) error
	RelocateTx(tx *gorm.DB, serial string, toWarehouseID uuid.UUID) error
	MarkReservedTx(tx *gorm.DB, unitID uuid.UUID) error
	MarkActiveTx(tx *gorm.DB, unitID uuid.UUID) error
	MarkDisposedTx(tx *gorm.DB, unitID uuid.UUID) error
	ListByWarehouse(ctx context.Context, warehouseID uuid.UUID) ([]models.PhysicalUnit, error)
}

// RegisterInput holds the validated payload to register a unit.
type RegisterInput struct {
	Serial      string
	ProductID   uuid.UUID
	WarehouseID uuid.UUID
	TicketRef   *string
	// OriginDocumentID names the receipt registering this serial, so its own
	// binding does not trip the pending-receipt duplicate check.
	OriginDocumentID *uuid.UUID
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	repo     *Repository
	dbClient txRunner
}

// NewService constructs a registry service instance.
func NewService(repo *Repository, dbClient txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("registry repository required")
	}
	if dbClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	return &service{repo: repo, dbClient: dbClient}, nil
}

// Register creates the unit after the global duplicate-serial check.
func (s *service) Register(ctx context.Context, input RegisterInput) (*models.PhysicalUnit, error) {
	var unit *models.PhysicalUnit
	err := s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		created, terr := s.RegisterTx(tx, input)
		if terr != nil {
			return terr
		}
		unit = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return unit, nil
}

// RegisterTx runs Register inside the caller's transaction.
func (s *service) RegisterTx(tx *gorm.DB, input RegisterInput) (*models.PhysicalUnit, error) {
	serial := strings.TrimSpace(input.Serial)
	if serial == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "serial is required")
	}
	if input.ProductID == uuid.Nil || input.WarehouseID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product and warehouse are required")
	}

	txRepo := s.repo.WithTx(tx)
	ctx := tx.Statement.Context

	existing, err := txRepo.FindBySerial(ctx, serial)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup serial")
	}
	if existing != nil {
		return nil, duplicateSerial(serial)
	}
	pending, err := txRepo.CountPendingReceiptBindings(ctx, serial, input.OriginDocumentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check pending receipts")
	}
	if pending > 0 {
		return nil, duplicateSerial(serial)
	}

	unit := &models.PhysicalUnit{
		ID:          uuid.New(),
		Serial:      serial,
		ProductID:   input.ProductID,
		WarehouseID: input.WarehouseID,
		Status:      enums.UnitStatusActive,
		TicketRef:   input.TicketRef,
	}
	if err := txRepo.Create(ctx, unit); err != nil {
		if db.IsUniqueViolation(err, "ux_physical_units_serial") {
			return nil, duplicateSerial(serial)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create unit")
	}
	return unit, nil
}

// Lookup loads a unit by serial.
func (s *service) Lookup(ctx context.Context, serial string) (*models.PhysicalUnit, error) {
	unit, err := s.repo.FindBySerial(ctx, strings.TrimSpace(serial))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup serial")
	}
	if unit == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "serial not found")
	}
	return unit, nil
}

// Relocate moves the unit to another warehouse in its own transaction.
func (s *service) Relocate(ctx context.Context, serial string, toWarehouseID uuid.UUID) error {
	return s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		return s.RelocateTx(tx, serial, toWarehouseID)
	})
}

// RelocateTx runs Relocate inside the caller's transaction.
func (s *service) RelocateTx(tx *gorm.DB, serial string, toWarehouseID uuid.UUID) error {
	if toWarehouseID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "destination warehouse is required")
	}
	txRepo := s.repo.WithTx(tx)
	ctx := tx.Statement.Context

	unit, err := txRepo.FindBySerial(ctx, strings.TrimSpace(serial))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load unit")
	}
	if unit == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "serial not found")
	}
	if unit.WarehouseID == toWarehouseID {
		return nil
	}
	if err := txRepo.UpdateWarehouse(ctx, unit.ID, toWarehouseID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "relocate unit")
	}
	return nil
}

// MarkReservedTx flags the unit as claimed by an open document binding.
func (s *service) MarkReservedTx(tx *gorm.DB, unitID uuid.UUID) error {
	return s.updateStatusTx(tx, unitID, enums.UnitStatusReserved)
}

// MarkActiveTx returns the unit to free stock.
func (s *service) MarkActiveTx(tx *gorm.DB, unitID uuid.UUID) error {
	return s.updateStatusTx(tx, unitID, enums.UnitStatusActive)
}

// MarkDisposedTx takes the unit out of stock permanently.
func (s *service) MarkDisposedTx(tx *gorm.DB, unitID uuid.UUID) error {
	return s.updateStatusTx(tx, unitID, enums.UnitStatusDisposed)
}

// ListByWarehouse lists units sitting in the warehouse.
func (s *service) ListByWarehouse(ctx context.Context, warehouseID uuid.UUID) ([]models.PhysicalUnit, error) {
	units, err := s.repo.ListByWarehouse(ctx, warehouseID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list units")
	}
	return units, nil
}

func (s *service) updateStatusTx(tx *gorm.DB, unitID uuid.UUID, status enums.UnitStatus) error {
	txRepo := s.repo.WithTx(tx)
	ctx := tx.Statement.Context

	unit, err := txRepo.FindByID(ctx, unitID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load unit")
	}
	if unit == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "unit not found")
	}
	if unit.Status == status {
		return nil
	}
	if err := txRepo.UpdateStatus(ctx, unitID, status); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update unit status")
	}
	return nil
}

func duplicateSerial(serial string) error {
	return pkgerrors.New(pkgerrors.CodeInvariant, "serial already registered").
		WithDetails(map[string]any{"serials": []string{serial}})
}
