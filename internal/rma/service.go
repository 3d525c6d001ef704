package rma

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	documents "github.com/tant/service-center-backend/internal/documents"
	"github.com/tant/service-center-backend/pkg/auth"
	"github.com/tant/service-center-backend/pkg/db/models"
	"github.com/tant/service-center-backend/pkg/enums"
	pkgerrors "github.com/tant/service-center-backend/pkg/errors"
	"github.com/tant/service-center-backend/pkg/outbox"
	"github.com/tant/service-center-backend/pkg/outbox/payloads"
	"github.com/tant/service-center-backend/pkg/pagination"
)

// Service manages return-to-supplier batches. A batch collects dead-stock
// units while draft, freezes its membership on finalize, and on completion
// generates and settles the transfer (dead stock → RMA staging) and issue
// (RMA staging → out) documents in one transaction.
type Service interface {
	Create(ctx context.Context, actor auth.Actor, note *string) (*models.RMABatch, error)
	Get(ctx context.Context, id uuid.UUID) (*models.RMABatch, error)
	List(ctx context.Context, status *enums.RMABatchStatus, params pagination.Params) ([]models.RMABatch, string, error)
	ListUnits(ctx context.Context, batchID uuid.UUID) ([]models.PhysicalUnit, error)
	AddUnits(ctx context.Context, actor auth.Actor, batchID uuid.UUID, unitIDs []uuid.UUID) error
	RemoveUnits(ctx context.Context, actor auth.Actor, batchID uuid.UUID, unitIDs []uuid.UUID) error
	Finalize(ctx context.Context, actor auth.Actor, batchID uuid.UUID) (*models.RMABatch, error)
	Complete(ctx context.Context, actor auth.Actor, batchID uuid.UUID) (*models.RMABatch, error)
	Cancel(ctx context.Context, actor auth.Actor, batchID uuid.UUID, reason string) (*models.RMABatch, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type documentCreator interface {
	CreateTx(tx *gorm.DB, actor auth.Actor, input documents.CreateInput) (*models.StockDocument, error)
}

type binder interface {
	BindTx(tx *gorm.DB, actor auth.Actor, lineID uuid.UUID, serial string) (*models.SerialBinding, error)
}

type transitioner interface {
	SubmitTx(tx *gorm.DB, actor auth.Actor, documentID uuid.UUID) (*models.StockDocument, error)
	ApproveTx(tx *gorm.DB, actor auth.Actor, documentID uuid.UUID) (*models.StockDocument, error)
	CompleteTx(tx *gorm.DB, actor auth.Actor, documentID uuid.UUID) (*models.StockDocument, error)
	ConfirmReceivedTx(tx *gorm.DB, actor auth.Actor, documentID uuid.UUID) (*models.StockDocument, error)
}

type warehouseOps interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Warehouse, error)
	FirstByType(ctx context.Context, warehouseType enums.WarehouseType) (*models.Warehouse, error)
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type service struct {
	repo       *Repository
	dbClient   txRunner
	documents  documentCreator
	allocation binder
	lifecycle  transitioner
	warehouses warehouseOps
	outbox     outboxEmitter
}

func NewService(repo *Repository, dbClient txRunner, documentSvc documentCreator, allocationSvc binder, lifecycleSvc transitioner, warehouseRepo warehouseOps, outboxSvc outboxEmitter) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("rma repository required")
	}
	if dbClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	if documentSvc == nil {
		return nil, fmt.Errorf("document service required")
	}
	if allocationSvc == nil {
		return nil, fmt.Errorf("allocation service required")
	}
	if lifecycleSvc == nil {
		return nil, fmt.Errorf("lifecycle service required")
	}
	if warehouseRepo == nil {
		return nil, fmt.Errorf("warehouse repository required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	return &service{
		repo:       repo,
		dbClient:   dbClient,
		documents:  documentSvc,
		allocation: allocationSvc,
		lifecycle:  lifecycleSvc,
		warehouses: warehouseRepo,
		outbox:     outboxSvc,
	}, nil
}

func (s *service) Create(ctx context.Context, actor auth.Actor, note *string) (*models.RMABatch, error) {
	batch := &models.RMABatch{
		ID:        uuid.New(),
		Status:    enums.RMABatchStatusDraft,
		Note:      note,
		CreatedBy: actor.ID,
	}
	if err := s.repo.Create(ctx, batch); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create rma batch")
	}
	return batch, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.RMABatch, error) {
	batch, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load rma batch")
	}
	if batch == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "rma batch not found")
	}
	return batch, nil
}

func (s *service) List(ctx context.Context, status *enums.RMABatchStatus, params pagination.Params) ([]models.RMABatch, string, error) {
	batches, next, err := s.repo.List(ctx, status, params)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list rma batches")
	}
	return batches, next, nil
}

func (s *service) ListUnits(ctx context.Context, batchID uuid.UUID) ([]models.PhysicalUnit, error) {
	if _, err := s.Get(ctx, batchID); err != nil {
		return nil, err
	}
	units, err := s.repo.ListUnits(ctx, batchID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list batch units")
	}
	return units, nil
}

// AddUnits attaches dead-stock units to a draft batch. Every unit must be an
// unreserved registry unit sitting in a dead-stock warehouse, unattached to
// any other batch, and the whole batch must stay within one warehouse so the
// generated transfer has a single source.
func (s *service) AddUnits(ctx context.Context, actor auth.Actor, batchID uuid.UUID, unitIDs []uuid.UUID) error {
	if len(unitIDs) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "unit ids are required")
	}
	return s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		batch, err := s.loadBatch(ctx, txRepo, batchID)
		if err != nil {
			return err
		}
		if batch.Status != enums.RMABatchStatusDraft {
			return illegalBatchTransition(batch, "add_units")
		}

		units, err := txRepo.ListUnitsByIDs(ctx, unitIDs)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load units")
		}
		if len(units) != len(unitIDs) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "one or more units not found")
		}

		existing, err := txRepo.ListUnits(ctx, batch.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load batch units")
		}
		var batchWarehouse *uuid.UUID
		if len(existing) > 0 {
			batchWarehouse = &existing[0].WarehouseID
		}

		for _, unit := range units {
			if unit.Status != enums.UnitStatusActive {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "unit is not available").
					WithDetails(map[string]any{"serial": unit.Serial, "status": unit.Status.String()})
			}
			if unit.RMABatchID != nil {
				return pkgerrors.New(pkgerrors.CodeConflict, "unit already belongs to a batch").
					WithDetails(map[string]any{"serial": unit.Serial, "batch_id": unit.RMABatchID.String()})
			}
			warehouse, werr := s.warehouses.FindByID(ctx, unit.WarehouseID)
			if werr != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, werr, "load warehouse")
			}
			if warehouse == nil || warehouse.Type != enums.WarehouseTypeDeadStock {
				return pkgerrors.New(pkgerrors.CodeValidation, "unit is not in a dead-stock warehouse").
					WithDetails(map[string]any{"serial": unit.Serial})
			}
			if batchWarehouse == nil {
				batchWarehouse = &unit.WarehouseID
			} else if unit.WarehouseID != *batchWarehouse {
				return pkgerrors.New(pkgerrors.CodeValidation, "batch units must share one warehouse").
					WithDetails(map[string]any{"serial": unit.Serial})
			}
		}

		if err := txRepo.AttachUnits(ctx, batch.ID, unitIDs); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "attach units")
		}
		return nil
	})
}

func (s *service) RemoveUnits(ctx context.Context, actor auth.Actor, batchID uuid.UUID, unitIDs []uuid.UUID) error {
	if len(unitIDs) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "unit ids are required")
	}
	return s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		batch, err := s.loadBatch(ctx, txRepo, batchID)
		if err != nil {
			return err
		}
		if batch.Status != enums.RMABatchStatusDraft {
			return illegalBatchTransition(batch, "remove_units")
		}
		if err := txRepo.DetachUnits(ctx, batch.ID, unitIDs); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "detach units")
		}
		return nil
	})
}

// Finalize freezes the membership of a draft batch.
func (s *service) Finalize(ctx context.Context, actor auth.Actor, batchID uuid.UUID) (*models.RMABatch, error) {
	var batch *models.RMABatch
	err := s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		loaded, err := s.loadBatch(ctx, txRepo, batchID)
		if err != nil {
			return err
		}
		if loaded.Status != enums.RMABatchStatusDraft {
			return illegalBatchTransition(loaded, "finalize")
		}
		units, err := txRepo.ListUnits(ctx, loaded.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load batch units")
		}
		if len(units) == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "batch has no units")
		}

		loaded.Status = enums.RMABatchStatusSubmitted
		if err := txRepo.Update(ctx, loaded.ID, map[string]any{"status": loaded.Status}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update batch status")
		}

		err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRMASubmitted,
			AggregateType: enums.AggregateRMABatch,
			AggregateID:   loaded.ID,
			Actor:         actorRef(actor),
			Version:       1,
			Data: payloads.RMASubmittedEvent{
				BatchID:   loaded.ID,
				UnitCount: len(units),
			},
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit submitted event")
		}
		batch = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// Complete settles a submitted batch. The generated transfer walks its full
// lifecycle first so the issue can pull the freshly staged units; everything
// happens inside one transaction, so a failure anywhere leaves the batch and
// both documents unwritten.
func (s *service) Complete(ctx context.Context, actor auth.Actor, batchID uuid.UUID) (*models.RMABatch, error) {
	staging, err := s.warehouses.FirstByType(ctx, enums.WarehouseTypeRMAStaging)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve staging warehouse")
	}
	if staging == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no rma staging warehouse configured")
	}

	var batch *models.RMABatch
	err = s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		loaded, err := s.loadBatch(ctx, txRepo, batchID)
		if err != nil {
			return err
		}
		if loaded.Status != enums.RMABatchStatusSubmitted {
			return illegalBatchTransition(loaded, "complete")
		}

		units, err := txRepo.ListUnits(ctx, loaded.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load batch units")
		}
		if len(units) == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "batch has no units")
		}
		source := units[0].WarehouseID
		for _, unit := range units {
			if unit.WarehouseID != source {
				return pkgerrors.New(pkgerrors.CodeInvariant, "batch units no longer share one warehouse").
					WithDetails(map[string]any{"serial": unit.Serial})
			}
		}

		lines := buildLines(units)
		reference := "RMA-" + loaded.ID.String()

		transfer, err := s.runDocument(tx, actor, documents.CreateInput{
			Kind:              enums.DocumentKindTransfer,
			SourceWarehouseID: &source,
			DestWarehouseID:   &staging.ID,
			Reference:         &reference,
			RMABatchID:        &loaded.ID,
			Lines:             lines,
		}, units, s.settleTransfer)
		if err != nil {
			return err
		}

		issue, err := s.runDocument(tx, actor, documents.CreateInput{
			Kind:              enums.DocumentKindIssue,
			SourceWarehouseID: &staging.ID,
			Reference:         &reference,
			RMABatchID:        &loaded.ID,
			Lines:             lines,
		}, units, s.settleIssue)
		if err != nil {
			return err
		}

		loaded.Status = enums.RMABatchStatusCompleted
		loaded.TransferDocumentID = &transfer.ID
		loaded.IssueDocumentID = &issue.ID
		if err := txRepo.Update(ctx, loaded.ID, map[string]any{
			"status":               loaded.Status,
			"transfer_document_id": transfer.ID,
			"issue_document_id":    issue.ID,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update batch")
		}

		err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRMACompleted,
			AggregateType: enums.AggregateRMABatch,
			AggregateID:   loaded.ID,
			Actor:         actorRef(actor),
			Version:       1,
			Data: payloads.RMACompletedEvent{
				BatchID:     loaded.ID,
				CompletedAt: time.Now().UTC(),
				UnitCount:   len(units),
			},
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit completed event")
		}
		batch = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// Cancel abandons a draft or submitted batch and releases its units. No stock
// has moved yet at either stage, so membership cleanup is the only effect.
func (s *service) Cancel(ctx context.Context, actor auth.Actor, batchID uuid.UUID, reason string) (*models.RMABatch, error) {
	var batch *models.RMABatch
	err := s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		loaded, err := s.loadBatch(ctx, txRepo, batchID)
		if err != nil {
			return err
		}
		if loaded.Status != enums.RMABatchStatusDraft && loaded.Status != enums.RMABatchStatusSubmitted {
			return illegalBatchTransition(loaded, "cancel")
		}

		if err := txRepo.DetachAll(ctx, loaded.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "detach units")
		}
		loaded.Status = enums.RMABatchStatusCancelled
		if err := txRepo.Update(ctx, loaded.ID, map[string]any{"status": loaded.Status}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update batch status")
		}

		err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRMACancelled,
			AggregateType: enums.AggregateRMABatch,
			AggregateID:   loaded.ID,
			Actor:         actorRef(actor),
			Version:       1,
			Data: payloads.RMACancelledEvent{
				BatchID:     loaded.ID,
				CancelledAt: time.Now().UTC(),
				Reason:      reason,
			},
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit cancelled event")
		}
		batch = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// runDocument creates a document, binds every batch unit to its product line
// and walks the document through the given settlement path.
func (s *service) runDocument(tx *gorm.DB, actor auth.Actor, input documents.CreateInput, units []models.PhysicalUnit, settle func(tx *gorm.DB, actor auth.Actor, documentID uuid.UUID) (*models.StockDocument, error)) (*models.StockDocument, error) {
	doc, err := s.documents.CreateTx(tx, actor, input)
	if err != nil {
		return nil, err
	}

	lineByProduct := make(map[uuid.UUID]uuid.UUID, len(doc.Lines))
	for _, line := range doc.Lines {
		lineByProduct[line.ProductID] = line.ID
	}
	for _, unit := range units {
		lineID, ok := lineByProduct[unit.ProductID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeInternal, "missing line for batch product")
		}
		if _, err := s.allocation.BindTx(tx, actor, lineID, unit.Serial); err != nil {
			return nil, err
		}
	}

	if _, err := s.lifecycle.SubmitTx(tx, actor, doc.ID); err != nil {
		return nil, err
	}
	if _, err := s.lifecycle.ApproveTx(tx, actor, doc.ID); err != nil {
		return nil, err
	}
	return settle(tx, actor, doc.ID)
}

func (s *service) settleTransfer(tx *gorm.DB, actor auth.Actor, documentID uuid.UUID) (*models.StockDocument, error) {
	return s.lifecycle.ConfirmReceivedTx(tx, actor, documentID)
}

func (s *service) settleIssue(tx *gorm.DB, actor auth.Actor, documentID uuid.UUID) (*models.StockDocument, error) {
	return s.lifecycle.CompleteTx(tx, actor, documentID)
}

func (s *service) loadBatch(ctx context.Context, txRepo *Repository, batchID uuid.UUID) (*models.RMABatch, error) {
	batch, err := txRepo.FindByID(ctx, batchID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load rma batch")
	}
	if batch == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "rma batch not found")
	}
	return batch, nil
}

func buildLines(units []models.PhysicalUnit) []documents.LineInput {
	counts := make(map[uuid.UUID]int)
	order := make([]uuid.UUID, 0)
	for _, unit := range units {
		if _, seen := counts[unit.ProductID]; !seen {
			order = append(order, unit.ProductID)
		}
		counts[unit.ProductID]++
	}
	lines := make([]documents.LineInput, 0, len(order))
	for _, productID := range order {
		lines = append(lines, documents.LineInput{ProductID: productID, DeclaredQty: counts[productID]})
	}
	return lines
}

func illegalBatchTransition(batch *models.RMABatch, transition string) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "illegal batch transition").
		WithDetails(map[string]any{
			"batch_id":   batch.ID.String(),
			"status":     batch.Status.String(),
			"transition": transition,
		})
}

func actorRef(actor auth.Actor) *outbox.ActorRef {
	return &outbox.ActorRef{UserID: actor.ID, Role: actor.Role.String()}
}
