package document

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tant/service-center-backend/pkg/db/models"
	"github.com/tant/service-center-backend/pkg/enums"
	"github.com/tant/service-center-backend/pkg/pagination"
)

// ListFilter narrows document listings.
type ListFilter struct {
	Kind        *enums.DocumentKind
	Status      *enums.DocumentStatus
	WarehouseID *uuid.UUID
	RMABatchID  *uuid.UUID
}

// Repository persists stock documents and their lines.
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

// Create inserts the document together with its lines.
func (r *Repository) Create(ctx context.Context, doc *models.StockDocument) error {
	return r.db.WithContext(ctx).Create(doc).Error
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

// FindLineByID loads one line, nil when absent.
func (r *Repository) FindLineByID(ctx context.Context, lineID uuid.UUID) (*models.DocumentLine, error) {
	var line models.DocumentLine
	err := r.db.WithContext(ctx).First(&line, "id = ?", lineID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &line, nil
}

// AddLine appends a line to the document.
func (r *Repository) AddLine(ctx context.Context, line *models.DocumentLine) error {
	return r.db.WithContext(ctx).Create(line).Error
}

// RemoveLine drops the line and its bindings (FK cascade).
func (r *Repository) RemoveLine(ctx context.Context, lineID uuid.UUID) error {
	if err := r.db.WithContext(ctx).
		Where("line_id = ?", lineID).
		Delete(&models.SerialBinding{}).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Where("id = ?", lineID).
		Delete(&models.DocumentLine{}).Error
}

// CountActiveBindingsByLine counts active bindings per line id for a document.
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

// List pages documents newest-first with cursor pagination.
func (r *Repository) List(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.StockDocument, string, error) {
	limit := pagination.NormalizeLimit(params.Limit)

	q := r.db.WithContext(ctx).Model(&models.StockDocument{}).Preload("Lines")
	if filter.Kind != nil {
		q = q.Where("kind = ?", *filter.Kind)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.WarehouseID != nil {
		q = q.Where("source_warehouse_id = ? OR dest_warehouse_id = ?", *filter.WarehouseID, *filter.WarehouseID)
	}
	if filter.RMABatchID != nil {
		q = q.Where("rma_batch_id = ?", *filter.RMABatchID)
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

	var docs []models.StockDocument
	err = q.Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(limit)).
		Find(&docs).Error
	if err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(docs) > limit {
		docs = docs[:limit]
		last := docs[len(docs)-1]
		nextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return docs, nextCursor, nil
}
