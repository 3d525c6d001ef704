package rma

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tant/service-center-backend/pkg/db/models"
	"github.com/tant/service-center-backend/pkg/enums"
	"github.com/tant/service-center-backend/pkg/pagination"
)

// Repository persists RMA batches and their unit membership. Membership is a
// nullable back-reference on physical units, not a join table.
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

func (r *Repository) Create(ctx context.Context, batch *models.RMABatch) error {
	return r.db.WithContext(ctx).Create(batch).Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.RMABatch, error) {
	var batch models.RMABatch
	err := r.db.WithContext(ctx).First(&batch, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *Repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.RMABatch{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *Repository) List(ctx context.Context, status *enums.RMABatchStatus, params pagination.Params) ([]models.RMABatch, string, error) {
	limit := pagination.NormalizeLimit(params.Limit)

	q := r.db.WithContext(ctx).Model(&models.RMABatch{})
	if status != nil {
		q = q.Where("status = ?", *status)
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", err
	}
	if cursor != nil {
		q = q.Where(
			"created_at < ? OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var batches []models.RMABatch
	err = q.Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(limit)).
		Find(&batches).Error
	if err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(batches) > limit {
		batches = batches[:limit]
		last := batches[len(batches)-1]
		nextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return batches, nextCursor, nil
}

func (r *Repository) ListUnits(ctx context.Context, batchID uuid.UUID) ([]models.PhysicalUnit, error) {
	var units []models.PhysicalUnit
	err := r.db.WithContext(ctx).
		Where("rma_batch_id = ?", batchID).
		Order("serial ASC").
		Find(&units).Error
	if err != nil {
		return nil, err
	}
	return units, nil
}

func (r *Repository) ListUnitsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.PhysicalUnit, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var units []models.PhysicalUnit
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&units).Error
	if err != nil {
		return nil, err
	}
	return units, nil
}

func (r *Repository) AttachUnits(ctx context.Context, batchID uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.PhysicalUnit{}).
		Where("id IN ?", ids).
		Update("rma_batch_id", batchID).Error
}

func (r *Repository) DetachUnits(ctx context.Context, batchID uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.PhysicalUnit{}).
		Where("rma_batch_id = ? AND id IN ?", batchID, ids).
		Update("rma_batch_id", nil).Error
}

func (r *Repository) DetachAll(ctx context.Context, batchID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.PhysicalUnit{}).
		Where("rma_batch_id = ?", batchID).
		Update("rma_batch_id", nil).Error
}
