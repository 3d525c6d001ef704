package registry

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tant/service-center-backend/pkg/db/models"
	"github.com/tant/service-center-backend/pkg/enums"
)

// Repository persists physical units. Warehouse and status columns are only
// written through the service's relocate/mark operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// Create inserts a unit.
func (r *Repository) Create(ctx context.Context, unit *models.PhysicalUnit) error {
	return r.db.WithContext(ctx).Create(unit).Error
}

// FindBySerial loads a unit by serial, nil when absent.
func (r *Repository) FindBySerial(ctx context.Context, serial string) (*models.PhysicalUnit, error) {
	var unit models.PhysicalUnit
	err := r.db.WithContext(ctx).First(&unit, "serial = ?", serial).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &unit, nil
}

// FindByID loads a unit by primary key, nil when absent.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PhysicalUnit, error) {
	var unit models.PhysicalUnit
	err := r.db.WithContext(ctx).First(&unit, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &unit, nil
}

// ListBySerials loads every unit whose serial appears in the set.
func (r *Repository) ListBySerials(ctx context.Context, serials []string) ([]models.PhysicalUnit, error) {
	if len(serials) == 0 {
		return nil, nil
	}
	var units []models.PhysicalUnit
	err := r.db.WithContext(ctx).Where("serial IN ?", serials).Find(&units).Error
	return units, err
}

// ListByRMABatch loads every unit attached to the batch.
func (r *Repository) ListByRMABatch(ctx context.Context, batchID uuid.UUID) ([]models.PhysicalUnit, error) {
	var units []models.PhysicalUnit
	err := r.db.WithContext(ctx).
		Where("rma_batch_id = ?", batchID).
		Order("serial ASC").
		Find(&units).Error
	return units, err
}

// ListByWarehouse loads units currently sitting in the warehouse.
func (r *Repository) ListByWarehouse(ctx context.Context, warehouseID uuid.UUID) ([]models.PhysicalUnit, error) {
	var units []models.PhysicalUnit
	err := r.db.WithContext(ctx).
		Where("warehouse_id = ?", warehouseID).
		Order("serial ASC").
		Find(&units).Error
	return units, err
}

// UpdateWarehouse rewrites the unit's location.
func (r *Repository) UpdateWarehouse(ctx context.Context, unitID, warehouseID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.PhysicalUnit{}).
		Where("id = ?", unitID).
		Update("warehouse_id", warehouseID).Error
}

// UpdateStatus rewrites the unit's lifecycle status.
func (r *Repository) UpdateStatus(ctx context.Context, unitID uuid.UUID, status enums.UnitStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.PhysicalUnit{}).
		Where("id = ?", unitID).
		Update("status", status).Error
}

// UpdateRMABatch attaches or clears the batch reference. A nil batchID clears it.
func (r *Repository) UpdateRMABatch(ctx context.Context, unitID uuid.UUID, batchID *uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.PhysicalUnit{}).
		Where("id = ?", unitID).
		Update("rma_batch_id", batchID).Error
}

// CountPendingReceiptBindings counts active bindings for the serial that sit
// on open receipt documents. Used by the duplicate-serial check on register.
func (r *Repository) CountPendingReceiptBindings(ctx context.Context, serial string, excludeDocumentID *uuid.UUID) (int64, error) {
	var count int64
	q := r.db.WithContext(ctx).
		Model(&models.SerialBinding{}).
		Joins("JOIN stock_documents ON stock_documents.id = serial_bindings.document_id").
		Where("serial_bindings.serial = ? AND serial_bindings.active", serial)
	if excludeDocumentID != nil {
		q = q.Where("serial_bindings.document_id <> ?", *excludeDocumentID)
	}
	err := q.
		Where("stock_documents.kind = ?", enums.DocumentKindReceipt).
		Where("stock_documents.status NOT IN ?", []enums.DocumentStatus{
			enums.DocumentStatusCompleted,
			enums.DocumentStatusCancelled,
		}).
		Count(&count).Error
	return count, err
}
