package allocation

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tant/service-center-backend/internal/lifecycle"
	"github.com/tant/service-center-backend/internal/registry"
	"github.com/tant/service-center-backend/internal/stock"
	"github.com/tant/service-center-backend/pkg/auth"
	"github.com/tant/service-center-backend/pkg/db/models"
	"github.com/tant/service-center-backend/pkg/enums"
	pkgerrors "github.com/tant/service-center-backend/pkg/errors"
	"github.com/tant/service-center-backend/pkg/logger"
	"github.com/tant/service-center-backend/pkg/outbox"
)

type txClient struct {
	db *gorm.DB
}

func (c txClient) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return c.db.WithContext(ctx).Transaction(fn)
}

type fixture struct {
	db  *gorm.DB
	svc Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := "file:allocation_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.PhysicalUnit{},
		&models.StockDocument{},
		&models.DocumentLine{},
		&models.SerialBinding{},
		&models.StockLevel{},
		&models.OutboxEvent{},
	); err != nil {
		t.Fatalf("migrate models: %v", err)
	}

	registrySvc, err := registry.NewService(registry.NewRepository(db), txClient{db: db})
	if err != nil {
		t.Fatalf("build registry service: %v", err)
	}
	logg := logger.New(logger.Options{ServiceName: "allocation-test", Output: io.Discard})
	outboxSvc := outbox.NewService(outbox.NewRepository(db), logg)
	lifecycleSvc, err := lifecycle.NewService(lifecycle.NewRepository(db), txClient{db: db}, registrySvc, stock.NewRepository(db), outboxSvc, nil)
	if err != nil {
		t.Fatalf("build lifecycle service: %v", err)
	}

	svc, err := NewService(NewRepository(db), txClient{db: db}, registrySvc, lifecycleSvc)
	if err != nil {
		t.Fatalf("build allocation service: %v", err)
	}
	return &fixture{db: db, svc: svc}
}

func (f *fixture) seedDocument(t *testing.T, doc *models.StockDocument) *models.StockDocument {
	t.Helper()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.CreatedBy == uuid.Nil {
		doc.CreatedBy = uuid.New()
	}
	for i := range doc.Lines {
		if doc.Lines[i].ID == uuid.Nil {
			doc.Lines[i].ID = uuid.New()
		}
	}
	if err := f.db.Create(doc).Error; err != nil {
		t.Fatalf("seed document: %v", err)
	}
	return doc
}

func (f *fixture) seedUnit(t *testing.T, serial string, productID, warehouseID uuid.UUID) *models.PhysicalUnit {
	t.Helper()
	unit := &models.PhysicalUnit{
		ID:          uuid.New(),
		Serial:      serial,
		ProductID:   productID,
		WarehouseID: warehouseID,
		Status:      enums.UnitStatusActive,
	}
	if err := f.db.Create(unit).Error; err != nil {
		t.Fatalf("seed unit: %v", err)
	}
	return unit
}

func tech() auth.Actor {
	return auth.Actor{ID: uuid.New(), Role: enums.ActorRoleTechnician}
}

func TestBindReceiptHonorsLineCeiling(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	dest := uuid.New()

	doc := f.seedDocument(t, &models.StockDocument{
		Kind:            enums.DocumentKindReceipt,
		Status:          enums.DocumentStatusDraft,
		DestWarehouseID: &dest,
		Lines:           []models.DocumentLine{{ProductID: uuid.New(), DeclaredQty: 2}},
	})
	lineID := doc.Lines[0].ID

	first, err := f.svc.Bind(ctx, tech(), lineID, "SN-A1")
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if first.UnitID != nil {
		t.Fatal("receipt binding must not reference a unit yet")
	}
	if _, err := f.svc.Bind(ctx, tech(), lineID, "SN-A2"); err != nil {
		t.Fatalf("bind: %v", err)
	}

	_, err = f.svc.Bind(ctx, tech(), lineID, "SN-A3")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInvariant {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestBindReceiptRejectsKnownSerial(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	dest := uuid.New()
	productID := uuid.New()

	f.seedUnit(t, "SN-KNOWN", productID, dest)
	doc := f.seedDocument(t, &models.StockDocument{
		Kind:            enums.DocumentKindReceipt,
		Status:          enums.DocumentStatusDraft,
		DestWarehouseID: &dest,
		Lines:           []models.DocumentLine{{ProductID: productID, DeclaredQty: 1}},
	})

	_, err := f.svc.Bind(ctx, tech(), doc.Lines[0].ID, "SN-KNOWN")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInvariant {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestBindIssueValidatesAndReserves(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	source := uuid.New()
	productID := uuid.New()

	doc := f.seedDocument(t, &models.StockDocument{
		Kind:              enums.DocumentKindIssue,
		Status:            enums.DocumentStatusDraft,
		SourceWarehouseID: &source,
		Lines:             []models.DocumentLine{{ProductID: productID, DeclaredQty: 3}},
	})
	lineID := doc.Lines[0].ID

	unit := f.seedUnit(t, "SN-I1", productID, source)
	f.seedUnit(t, "SN-WRONG-PRODUCT", uuid.New(), source)
	f.seedUnit(t, "SN-WRONG-WAREHOUSE", productID, uuid.New())

	binding, err := f.svc.Bind(ctx, tech(), lineID, "SN-I1")
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if binding.UnitID == nil || *binding.UnitID != unit.ID {
		t.Fatal("expected binding to reference the unit")
	}
	var loaded models.PhysicalUnit
	if err := f.db.First(&loaded, "id = ?", unit.ID).Error; err != nil {
		t.Fatalf("load unit: %v", err)
	}
	if loaded.Status != enums.UnitStatusReserved {
		t.Fatalf("expected reserved unit, got %s", loaded.Status)
	}

	for _, serial := range []string{"SN-MISSING", "SN-WRONG-PRODUCT", "SN-WRONG-WAREHOUSE"} {
		_, err := f.svc.Bind(ctx, tech(), lineID, serial)
		typed := pkgerrors.As(err)
		if typed == nil || typed.Code() != pkgerrors.CodeValidation {
			t.Fatalf("serial %s: expected validation error, got %v", serial, err)
		}
	}
}

func TestBindRejectsSerialOnAnotherOpenDocument(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	source := uuid.New()
	productID := uuid.New()

	f.seedUnit(t, "SN-HELD", productID, source)
	docA := f.seedDocument(t, &models.StockDocument{
		Kind:              enums.DocumentKindIssue,
		Status:            enums.DocumentStatusDraft,
		SourceWarehouseID: &source,
		Lines:             []models.DocumentLine{{ProductID: productID, DeclaredQty: 1}},
	})
	docB := f.seedDocument(t, &models.StockDocument{
		Kind:              enums.DocumentKindIssue,
		Status:            enums.DocumentStatusDraft,
		SourceWarehouseID: &source,
		Lines:             []models.DocumentLine{{ProductID: productID, DeclaredQty: 1}},
	})

	if _, err := f.svc.Bind(ctx, tech(), docA.Lines[0].ID, "SN-HELD"); err != nil {
		t.Fatalf("bind: %v", err)
	}

	_, err := f.svc.Bind(ctx, tech(), docB.Lines[0].ID, "SN-HELD")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestBindAutoCompletesApprovedReceipt(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	dest := uuid.New()
	productID := uuid.New()

	doc := f.seedDocument(t, &models.StockDocument{
		Kind:            enums.DocumentKindReceipt,
		Status:          enums.DocumentStatusApproved,
		DestWarehouseID: &dest,
		Lines:           []models.DocumentLine{{ProductID: productID, DeclaredQty: 1}},
	})

	if _, err := f.svc.Bind(ctx, tech(), doc.Lines[0].ID, "SN-LAST"); err != nil {
		t.Fatalf("bind: %v", err)
	}

	var docRow models.StockDocument
	if err := f.db.First(&docRow, "id = ?", doc.ID).Error; err != nil {
		t.Fatalf("load document: %v", err)
	}
	if docRow.Status != enums.DocumentStatusCompleted {
		t.Fatalf("expected auto completion, got %s", docRow.Status)
	}
	var unit models.PhysicalUnit
	if err := f.db.First(&unit, "serial = ?", "SN-LAST").Error; err != nil {
		t.Fatalf("expected registered unit: %v", err)
	}
	if unit.WarehouseID != dest {
		t.Fatalf("expected unit in destination, got %s", unit.WarehouseID)
	}
}

func TestUnbindReleasesUnit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	source := uuid.New()
	productID := uuid.New()

	unit := f.seedUnit(t, "SN-U1", productID, source)
	doc := f.seedDocument(t, &models.StockDocument{
		Kind:              enums.DocumentKindIssue,
		Status:            enums.DocumentStatusDraft,
		SourceWarehouseID: &source,
		Lines:             []models.DocumentLine{{ProductID: productID, DeclaredQty: 1}},
	})
	lineID := doc.Lines[0].ID

	if _, err := f.svc.Bind(ctx, tech(), lineID, "SN-U1"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := f.svc.Unbind(ctx, tech(), lineID, "SN-U1"); err != nil {
		t.Fatalf("unbind: %v", err)
	}

	var loaded models.PhysicalUnit
	if err := f.db.First(&loaded, "id = ?", unit.ID).Error; err != nil {
		t.Fatalf("load unit: %v", err)
	}
	if loaded.Status != enums.UnitStatusActive {
		t.Fatalf("expected unit released, got %s", loaded.Status)
	}

	err := f.svc.Unbind(ctx, tech(), lineID, "SN-U1")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConcurrentBindsOnOneSerialYieldSingleWinner(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	dest := uuid.New()

	// One connection serializes the transactions the way Postgres would
	// order two competing commits.
	sqlDB, err := f.db.DB()
	if err != nil {
		t.Fatalf("unwrap db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	doc := f.seedDocument(t, &models.StockDocument{
		Kind:            enums.DocumentKindReceipt,
		Status:          enums.DocumentStatusDraft,
		DestWarehouseID: &dest,
		Lines:           []models.DocumentLine{{ProductID: uuid.New(), DeclaredQty: 2}},
	})
	lineID := doc.Lines[0].ID

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Bind(ctx, tech(), lineID, "SN-RACE")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var successes, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			successes++
		default:
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() != pkgerrors.CodeConflict {
				t.Fatalf("expected conflict for the losing bind, got %v", err)
			}
			conflicts++
		}
	}
	if successes != 1 || conflicts != 1 {
		t.Fatalf("expected one winner and one conflict, got %d/%d", successes, conflicts)
	}

	var count int64
	if err := f.db.Model(&models.SerialBinding{}).Where("serial = ?", "SN-RACE").Count(&count).Error; err != nil {
		t.Fatalf("count bindings: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single binding row, got %d", count)
	}
}
