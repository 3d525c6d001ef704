package lifecycle

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tant/service-center-backend/pkg/db/models"
	"github.com/tant/service-center-backend/pkg/enums"
)

// Repository reads and mutates documents for lifecycle transitions. All
// writes happen inside the caller's transaction.
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

// FindByID loads the document with lines, nil when absent.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.StockDocument, error) {
	var doc models.StockDocument
	err := r.db.WithContext(ctx).
		Preload("Lines").
		First(&doc, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

// UpdateDocument writes the given column set.
func (r *Repository) UpdateDocument(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.StockDocument{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateDocumentFromStatus writes the column set only while the row still
// holds the expected status. Zero rows affected means a concurrent transition
// committed first.
func (r *Repository) UpdateDocumentFromStatus(ctx context.Context, id uuid.UUID, expected enums.DocumentStatus, updates map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.StockDocument{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	return res.RowsAffected, res.Error
}

// ListActiveBindings loads the document's active bindings ordered by serial.
func (r *Repository) ListActiveBindings(ctx context.Context, documentID uuid.UUID) ([]models.SerialBinding, error) {
	var bindings []models.SerialBinding
	err := r.db.WithContext(ctx).
		Where("document_id = ? AND active", documentID).
		Order("serial ASC").
		Find(&bindings).Error
	return bindings, err
}

// CountActiveBindingsByLine counts active bindings per line.
func (r *Repository) CountActiveBindingsByLine(ctx context.Context, documentID uuid.UUID) (map[uuid.UUID]int, error) {
	type row struct {
		LineID uuid.UUID
		N      int
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&models.SerialBinding{}).
		Select("line_id, COUNT(*) AS n").
		Where("document_id = ? AND active", documentID).
		Group("line_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[uuid.UUID]int, len(rows))
	for _, r := range rows {
		counts[r.LineID] = r.N
	}
	return counts, nil
}

// DeactivateBindings flips every active binding to permanent history.
func (r *Repository) DeactivateBindings(ctx context.Context, documentID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.SerialBinding{}).
		Where("document_id = ? AND active", documentID).
		Update("active", false).Error
}

// DeleteBindings removes every binding row for the document.
func (r *Repository) DeleteBindings(ctx context.Context, documentID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Delete(&models.SerialBinding{}).Error
}

// UpdateBindingUnit attaches the registered unit to a binding.
func (r *Repository) UpdateBindingUnit(ctx context.Context, bindingID, unitID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.SerialBinding{}).
		Where("id = ?", bindingID).
		Update("unit_id", unitID).Error
}

// ListUnitsBySerials loads units for the given serials keyed by serial.
func (r *Repository) ListUnitsBySerials(ctx context.Context, serials []string) (map[string]models.PhysicalUnit, error) {
	if len(serials) == 0 {
		return map[string]models.PhysicalUnit{}, nil
	}
	var units []models.PhysicalUnit
	err := r.db.WithContext(ctx).Where("serial IN ?", serials).Find(&units).Error
	if err != nil {
		return nil, err
	}
	bySerial := make(map[string]models.PhysicalUnit, len(units))
	for _, unit := range units {
		bySerial[unit.Serial] = unit
	}
	return bySerial, nil
}
