package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tant/service-center-backend/pkg/db/models"
	"github.com/tant/service-center-backend/pkg/enums"
	"github.com/tant/service-center-backend/pkg/outbox/payloads"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:outbox_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.OutboxEvent{}); err != nil {
		t.Fatalf("migrate models: %v", err)
	}
	return db
}

func TestEmitAssignsDistinctIDs(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	svc := NewService(NewRepository(db), nil)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		err := db.Transaction(func(tx *gorm.DB) error {
			return svc.Emit(ctx, tx, DomainEvent{
				EventType:     enums.EventDocumentSubmitted,
				AggregateType: enums.AggregateStockDocument,
				AggregateID:   uuid.New(),
				Data:          payloads.DocumentSubmittedEvent{},
			})
		})
		if err != nil {
			t.Fatalf("emit %d: %v", i, err)
		}
	}

	var rows []models.OutboxEvent
	if err := db.Find(&rows).Error; err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 events, got %d", len(rows))
	}
	if rows[0].ID == uuid.Nil || rows[1].ID == uuid.Nil {
		t.Fatal("event inserted with a zero id")
	}
	if rows[0].ID == rows[1].ID {
		t.Fatalf("events share id %s", rows[0].ID)
	}
}

func TestFetchUnpublishedForPublishSkipsExhaustedEvents(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	repo := NewRepository(db)

	fresh := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventDocumentSubmitted,
		AggregateType: enums.AggregateStockDocument,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{}`),
	}
	exhausted := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventDocumentSubmitted,
		AggregateType: enums.AggregateStockDocument,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{}`),
		AttemptCount:  5,
	}
	if err := db.Create(&fresh).Error; err != nil {
		t.Fatalf("seed fresh event: %v", err)
	}
	if err := db.Create(&exhausted).Error; err != nil {
		t.Fatalf("seed exhausted event: %v", err)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		rows, err := repo.FetchUnpublishedForPublish(tx, 10, 5)
		if err != nil {
			return err
		}
		if len(rows) != 1 || rows[0].ID != fresh.ID {
			t.Fatalf("expected only the fresh event, got %d rows", len(rows))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
}

func TestMarkTerminalTxRetiresEvent(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	repo := NewRepository(db)

	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventDocumentSubmitted,
		AggregateType: enums.AggregateStockDocument,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{}`),
		AttemptCount:  2,
	}
	if err := db.Create(&event).Error; err != nil {
		t.Fatalf("seed event: %v", err)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		return repo.MarkTerminalTx(tx, event.ID, errors.New("schema drift"), 5)
	})
	if err != nil {
		t.Fatalf("mark terminal: %v", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		rows, err := repo.FetchUnpublishedForPublish(tx, 10, 5)
		if err != nil {
			return err
		}
		if len(rows) != 0 {
			t.Fatalf("terminal event still fetched: %d rows", len(rows))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("refetch: %v", err)
	}

	var stored models.OutboxEvent
	if err := db.First(&stored, "id = ?", event.ID).Error; err != nil {
		t.Fatalf("load event: %v", err)
	}
	if stored.PublishedAt == nil || stored.AttemptCount != 5 || stored.LastError == nil {
		t.Fatalf("terminal event not retired: %+v", stored)
	}
}
