package stock

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tant/service-center-backend/pkg/db/models"
	pkgerrors "github.com/tant/service-center-backend/pkg/errors"
)

func TestAdjustTxCreatesAndAccumulates(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	productID := uuid.New()
	warehouseID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := repo.AdjustTx(tx, productID, warehouseID, 5); err != nil {
			return err
		}
		return repo.AdjustTx(tx, productID, warehouseID, 3)
	})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}

	qty, err := repo.GetLevel(ctx, productID, warehouseID)
	if err != nil {
		t.Fatalf("get level: %v", err)
	}
	if qty != 8 {
		t.Fatalf("expected qty 8, got %d", qty)
	}
}

func TestAdjustTxRejectsNegativeLevel(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	productID := uuid.New()
	warehouseID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := repo.AdjustTx(tx, productID, warehouseID, 2); err != nil {
			return err
		}
		return repo.AdjustTx(tx, productID, warehouseID, -3)
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeInvariant {
		t.Fatalf("expected invariant violation, got %v", err)
	}

	qty, err := repo.GetLevel(context.Background(), productID, warehouseID)
	if err != nil {
		t.Fatalf("get level: %v", err)
	}
	if qty != 0 {
		t.Fatalf("expected rollback to leave qty 0, got %d", qty)
	}
}

func TestMoveTx(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	productID := uuid.New()
	from := uuid.New()
	to := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		return repo.AdjustTx(tx, productID, from, 4)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		return repo.MoveTx(tx, productID, from, to, 3)
	})
	if err != nil {
		t.Fatalf("move: %v", err)
	}

	fromQty, _ := repo.GetLevel(ctx, productID, from)
	toQty, _ := repo.GetLevel(ctx, productID, to)
	if fromQty != 1 || toQty != 3 {
		t.Fatalf("unexpected levels from=%d to=%d", fromQty, toQty)
	}
}

func TestMoveTxInsufficientSource(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	productID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		return repo.MoveTx(tx, productID, uuid.New(), uuid.New(), 1)
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeInvariant {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:stock_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.StockLevel{}); err != nil {
		t.Fatalf("migrate stock levels: %v", err)
	}
	return db
}
