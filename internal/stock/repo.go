package stock

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tant/service-center-backend/pkg/db/models"
	pkgerrors "github.com/tant/service-center-backend/pkg/errors"
)

// Repository maintains the per-product per-warehouse on-hand counts. Levels
// change only through lifecycle hooks running inside the caller's transaction.
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

// GetLevel returns the stored quantity, zero when no row exists yet.
func (r *Repository) GetLevel(ctx context.Context, productID, warehouseID uuid.UUID) (int, error) {
	var level models.StockLevel
	err := r.db.WithContext(ctx).
		First(&level, "product_id = ? AND warehouse_id = ?", productID, warehouseID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return level.Qty, nil
}

// ListByWarehouse returns every non-zero level in the warehouse.
func (r *Repository) ListByWarehouse(ctx context.Context, warehouseID uuid.UUID) ([]models.StockLevel, error) {
	var rows []models.StockLevel
	err := r.db.WithContext(ctx).
		Where("warehouse_id = ? AND qty <> 0", warehouseID).
		Order("product_id ASC").
		Find(&rows).Error
	return rows, err
}

// AdjustTx adds delta to the level row, creating it on first touch. A negative
// delta that would push the level below zero fails with an invariant error.
// The mutation is a single upsert so two concurrent adjustments never read
// the same starting quantity.
func (r *Repository) AdjustTx(tx *gorm.DB, productID, warehouseID uuid.UUID, delta int) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if delta == 0 {
		return nil
	}

	if delta > 0 {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_id"}, {Name: "warehouse_id"}},
			DoUpdates: clause.Assignments(map[string]any{"qty": gorm.Expr("stock_levels.qty + ?", delta)}),
		}).Create(&models.StockLevel{
			ProductID:   productID,
			WarehouseID: warehouseID,
			Qty:         delta,
		}).Error
	}

	res := tx.Model(&models.StockLevel{}).
		Where("product_id = ? AND warehouse_id = ? AND qty + ? >= 0", productID, warehouseID, delta).
		Update("qty", gorm.Expr("qty + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		qty, err := r.WithTx(tx).GetLevel(tx.Statement.Context, productID, warehouseID)
		if err != nil {
			return err
		}
		return insufficientStock(productID, warehouseID, qty, delta)
	}
	return nil
}

// MoveTx shifts qty units of a product from one warehouse to another.
func (r *Repository) MoveTx(tx *gorm.DB, productID, fromWarehouseID, toWarehouseID uuid.UUID, qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "move quantity must be positive")
	}
	if err := r.AdjustTx(tx, productID, fromWarehouseID, -qty); err != nil {
		return err
	}
	return r.AdjustTx(tx, productID, toWarehouseID, qty)
}

func insufficientStock(productID, warehouseID uuid.UUID, current, delta int) error {
	return pkgerrors.New(pkgerrors.CodeInvariant, "stock level cannot go negative").
		WithDetails(map[string]any{
			"product_id":   productID.String(),
			"warehouse_id": warehouseID.String(),
			"current_qty":  current,
			"delta":        delta,
		})
}
