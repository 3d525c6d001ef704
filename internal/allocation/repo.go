package allocation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tant/service-center-backend/pkg/db/models"
)

// Repository covers the line, unit and binding lookups a bind needs. All
// mutation happens inside the caller's transaction.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) FindLineByID(ctx context.Context, lineID uuid.UUID) (*models.DocumentLine, error) {
	var line models.DocumentLine
	err := r.db.WithContext(ctx).First(&line, "id = ?", lineID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &line, nil
}

func (r *Repository) FindDocumentByID(ctx context.Context, id uuid.UUID) (*models.StockDocument, error) {
	var doc models.StockDocument
	err := r.db.WithContext(ctx).First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *Repository) FindUnitBySerial(ctx context.Context, serial string) (*models.PhysicalUnit, error) {
	var unit models.PhysicalUnit
	err := r.db.WithContext(ctx).First(&unit, "serial = ?", serial).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &unit, nil
}

// FindActiveBindingBySerial finds the open binding holding a serial,
// regardless of which document it belongs to.
func (r *Repository) FindActiveBindingBySerial(ctx context.Context, serial string) (*models.SerialBinding, error) {
	var binding models.SerialBinding
	err := r.db.WithContext(ctx).First(&binding, "serial = ? AND active", serial).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &binding, nil
}

func (r *Repository) FindActiveBindingByLineAndSerial(ctx context.Context, lineID uuid.UUID, serial string) (*models.SerialBinding, error) {
	var binding models.SerialBinding
	err := r.db.WithContext(ctx).First(&binding, "line_id = ? AND serial = ? AND active", lineID, serial).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &binding, nil
}

func (r *Repository) CountActiveBindingsForLine(ctx context.Context, lineID uuid.UUID) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.SerialBinding{}).
		Where("line_id = ? AND active", lineID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *Repository) CreateBinding(ctx context.Context, binding *models.SerialBinding) error {
	return r.db.WithContext(ctx).Create(binding).Error
}

func (r *Repository) DeleteBinding(ctx context.Context, bindingID uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.SerialBinding{}, "id = ?", bindingID).Error
}
