package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tant/service-center-backend/internal/registry"
	"github.com/tant/service-center-backend/pkg/auth"
	"github.com/tant/service-center-backend/pkg/db/models"
	"github.com/tant/service-center-backend/pkg/enums"
	pkgerrors "github.com/tant/service-center-backend/pkg/errors"
	"github.com/tant/service-center-backend/pkg/metrics"
	"github.com/tant/service-center-backend/pkg/outbox"
	"github.com/tant/service-center-backend/pkg/outbox/payloads"
)

// Service drives document lifecycle transitions. Every transition runs inside
// one transaction together with its side effects (stock adjustment, unit
// relocation, outbox event) so partial application is never observable.
type Service interface {
	Submit(ctx context.Context, actor auth.Actor, documentID uuid.UUID) (*models.StockDocument, error)
	SubmitTx(tx *gorm.DB, actor auth.Actor, documentID uuid.UUID) (*models.StockDocument, error)
	Approve(ctx context.Context, actor auth.Actor, documentID uuid.UUID) (*models.StockDocument, error)
	ApproveTx(tx *gorm.DB, actor auth.Actor, documentID uuid.UUID) (*models.StockDocument, error)
	Reject(ctx context.Context, actor auth.Actor, documentID uuid.UUID, reason string) (*models.StockDocument, error)
	Cancel(ctx context.Context, actor auth.Actor, documentID uuid.UUID, reason string) (*models.StockDocument, error)
	Complete(ctx context.Context, actor auth.Actor, documentID uuid.UUID) (*models.StockDocument, error)
	CompleteTx(tx *gorm.DB, actor auth.Actor, documentID uuid.UUID) (*models.StockDocument, error)
	ConfirmReceived(ctx context.Context, actor auth.Actor, documentID uuid.UUID) (*models.StockDocument, error)
	ConfirmReceivedTx(tx *gorm.DB, actor auth.Actor, documentID uuid.UUID) (*models.StockDocument, error)
	TryAutoCompleteTx(tx *gorm.DB, actor auth.Actor, documentID uuid.UUID) (bool, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type registryOps interface {
	RegisterTx(tx *gorm.DB, input registry.RegisterInput) (*models.PhysicalUnit, error)
	RelocateTx(tx *gorm.DB, serial string, toWarehouseID uuid.UUID) error
	MarkActiveTx(tx *gorm.DB, unitID uuid.UUID) error
	MarkDisposedTx(tx *gorm.DB, unitID uuid.UUID) error
}

type stockOps interface {
	AdjustTx(tx *gorm.DB, productID, warehouseID uuid.UUID, delta int) error
	MoveTx(tx *gorm.DB, productID, fromWarehouseID, toWarehouseID uuid.UUID, qty int) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type service struct {
	repo       *Repository
	dbClient   txRunner
	registry   registryOps
	stock      stockOps
	outbox     outboxEmitter
	transition *metrics.TransitionMetrics
}

// NewService constructs a lifecycle service instance. Metrics may be nil.
func NewService(repo *Repository, dbClient txRunner, registrySvc registryOps, stockRepo stockOps, outboxSvc outboxEmitter, transition *metrics.TransitionMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("lifecycle repository required")
	}
	if dbClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	if registrySvc == nil {
		return nil, fmt.Errorf("registry service required")
	}
	if stockRepo == nil {
		return nil, fmt.Errorf("stock repository required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	return &service{
		repo:       repo,
		dbClient:   dbClient,
		registry:   registrySvc,
		stock:      stockRepo,
		outbox:     outboxSvc,
		transition: transition,
	}, nil
}

func (s *service) Submit(ctx context.Context, actor auth.Actor, documentID uuid.UUID) (*models.StockDocument, error) {
	return s.run(ctx, "submit", func(tx *gorm.DB) (*models.StockDocument, error) {
		return s.SubmitTx(tx, actor, documentID)
	})
}

// SubmitTx moves draft → pending_approval, re-validating serial locations
// for issue and transfer documents.
func (s *service) SubmitTx(tx *gorm.DB, actor auth.Actor, documentID uuid.UUID) (*models.StockDocument, error) {
	txRepo := s.repo.WithTx(tx)
	ctx := tx.Statement.Context

	doc, err := s.loadDocument(ctx, txRepo, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != enums.DocumentStatusDraft {
		return nil, illegalTransition(doc, "submit")
	}
	if err := s.validateSourceLocations(ctx, txRepo, doc); err != nil {
		return nil, err
	}

	from := doc.Status
	doc.Status = enums.DocumentStatusPendingApproval
	if err := txRepo.UpdateDocument(ctx, doc.ID, map[string]any{"status": doc.Status}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update document status")
	}

	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventDocumentSubmitted,
		AggregateType: enums.AggregateStockDocument,
		AggregateID:   doc.ID,
		Actor:         actorRef(actor),
		Version:       1,
		Data: payloads.DocumentSubmittedEvent{
			DocumentID:        doc.ID,
			Kind:              doc.Kind,
			FromStatus:        from,
			ToStatus:          doc.Status,
			SourceWarehouseID: doc.SourceWarehouseID,
			DestWarehouseID:   doc.DestWarehouseID,
			LineCount:         len(doc.Lines),
		},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit submitted event")
	}
	return doc, nil
}

func (s *service) Approve(ctx context.Context, actor auth.Actor, documentID uuid.UUID) (*models.StockDocument, error) {
	return s.run(ctx, "approve", func(tx *gorm.DB) (*models.StockDocument, error) {
		return s.ApproveTx(tx, actor, documentID)
	})
}

// ApproveTx moves pending_approval → approved (receipt/issue) or in_transit
// (transfer). Serial locations are re-validated even though Submit already
// checked them: stock can move between the checkpoints. Calling Approve again
// on an already approved or in-transit document re-runs only the location
// check, so an idempotent retry surfaces drift instead of silently passing.
func (s *service) ApproveTx(tx *gorm.DB, actor auth.Actor, documentID uuid.UUID) (*models.StockDocument, error) {
	if !actor.Role.CanApprove() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "approval requires admin or manager role")
	}
	txRepo := s.repo.WithTx(tx)
	ctx := tx.Statement.Context

	doc, err := s.loadDocument(ctx, txRepo, documentID)
	if err != nil {
		return nil, err
	}

	if doc.Status == enums.DocumentStatusApproved || doc.Status == enums.DocumentStatusInTransit {
		if err := s.validateSourceLocations(ctx, txRepo, doc); err != nil {
			return nil, err
		}
		return doc, nil
	}
	if doc.Status != enums.DocumentStatusPendingApproval {
		return nil, illegalTransition(doc, "approve")
	}
	if err := s.validateSourceLocations(ctx, txRepo, doc); err != nil {
		return nil, err
	}

	from := doc.Status
	if doc.Kind == enums.DocumentKindTransfer {
		doc.Status = enums.DocumentStatusInTransit
	} else {
		doc.Status = enums.DocumentStatusApproved
	}
	doc.ApprovedBy = &actor.ID
	// The status flip is guarded on the prior status. A concurrent approval
	// that committed first makes this a zero-row update, and bailing here
	// keeps the stock adjustments from running twice.
	affected, err := txRepo.UpdateDocumentFromStatus(ctx, doc.ID, from, map[string]any{
		"status":      doc.Status,
		"approved_by": actor.ID,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update document status")
	}
	if affected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "document was transitioned concurrently").
			WithDetails(map[string]any{"document_id": doc.ID.String()})
	}

	// Stock levels change at approval, not at completion. Completion only
	// settles the serial paperwork.
	switch doc.Kind {
	case enums.DocumentKindReceipt:
		for _, line := range doc.Lines {
			if err := s.stock.AdjustTx(tx, line.ProductID, *doc.DestWarehouseID, line.DeclaredQty); err != nil {
				return nil, err
			}
		}
	case enums.DocumentKindIssue:
		for _, line := range doc.Lines {
			if err := s.stock.AdjustTx(tx, line.ProductID, *doc.SourceWarehouseID, -line.DeclaredQty); err != nil {
				return nil, err
			}
		}
	}

	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventDocumentApproved,
		AggregateType: enums.AggregateStockDocument,
		AggregateID:   doc.ID,
		Actor:         actorRef(actor),
		Version:       1,
		Data: payloads.DocumentApprovedEvent{
			DocumentID:        doc.ID,
			Kind:              doc.Kind,
			FromStatus:        from,
			ToStatus:          doc.Status,
			SourceWarehouseID: doc.SourceWarehouseID,
			DestWarehouseID:   doc.DestWarehouseID,
		},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit approved event")
	}
	return doc, nil
}

func (s *service) Reject(ctx context.Context, actor auth.Actor, documentID uuid.UUID, reason string) (*models.StockDocument, error) {
	return s.run(ctx, "reject", func(tx *gorm.DB) (*models.StockDocument, error) {
		return s.rejectTx(tx, actor, documentID, reason)
	})
}

func (s *service) rejectTx(tx *gorm.DB, actor auth.Actor, documentID uuid.UUID, reason string) (*models.StockDocument, error) {
	if !actor.Role.CanApprove() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "rejection requires admin or manager role")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rejection reason is required")
	}
	txRepo := s.repo.WithTx(tx)
	ctx := tx.Statement.Context

	doc, err := s.loadDocument(ctx, txRepo, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != enums.DocumentStatusPendingApproval {
		return nil, illegalTransition(doc, "reject")
	}

	if err := s.releaseBindings(ctx, tx, txRepo, doc); err != nil {
		return nil, err
	}

	from := doc.Status
	doc.Status = enums.DocumentStatusCancelled
	doc.RejectionReason = &reason
	if err := txRepo.UpdateDocument(ctx, doc.ID, map[string]any{
		"status":           doc.Status,
		"rejection_reason": reason,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update document status")
	}

	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventDocumentRejected,
		AggregateType: enums.AggregateStockDocument,
		AggregateID:   doc.ID,
		Actor:         actorRef(actor),
		Version:       1,
		Data: payloads.DocumentRejectedEvent{
			DocumentID: doc.ID,
			Kind:       doc.Kind,
			FromStatus: from,
			ToStatus:   doc.Status,
			Reason:     reason,
		},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit rejected event")
	}
	return doc, nil
}

func (s *service) Cancel(ctx context.Context, actor auth.Actor, documentID uuid.UUID, reason string) (*models.StockDocument, error) {
	return s.run(ctx, "cancel", func(tx *gorm.DB) (*models.StockDocument, error) {
		return s.cancelTx(tx, actor, documentID, reason)
	})
}

func (s *service) cancelTx(tx *gorm.DB, actor auth.Actor, documentID uuid.UUID, reason string) (*models.StockDocument, error) {
	txRepo := s.repo.WithTx(tx)
	ctx := tx.Statement.Context

	doc, err := s.loadDocument(ctx, txRepo, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != enums.DocumentStatusDraft && doc.Status != enums.DocumentStatusPendingApproval {
		return nil, illegalTransition(doc, "cancel")
	}

	if err := s.releaseBindings(ctx, tx, txRepo, doc); err != nil {
		return nil, err
	}

	from := doc.Status
	doc.Status = enums.DocumentStatusCancelled
	if err := txRepo.UpdateDocument(ctx, doc.ID, map[string]any{"status": doc.Status}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update document status")
	}

	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventDocumentCancelled,
		AggregateType: enums.AggregateStockDocument,
		AggregateID:   doc.ID,
		Actor:         actorRef(actor),
		Version:       1,
		Data: payloads.DocumentCancelledEvent{
			DocumentID:  doc.ID,
			Kind:        doc.Kind,
			FromStatus:  from,
			ToStatus:    doc.Status,
			CancelledAt: time.Now().UTC(),
			Reason:      reason,
		},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit cancelled event")
	}
	return doc, nil
}

func (s *service) Complete(ctx context.Context, actor auth.Actor, documentID uuid.UUID) (*models.StockDocument, error) {
	return s.run(ctx, "complete", func(tx *gorm.DB) (*models.StockDocument, error) {
		return s.CompleteTx(tx, actor, documentID)
	})
}

// CompleteTx settles an approved receipt or issue once every line is fully
// reconciled. Receipt completion registers the pending serials as physical
// units in the destination warehouse; issue completion disposes the bound
// units. Transfers complete through ConfirmReceivedTx instead.
func (s *service) CompleteTx(tx *gorm.DB, actor auth.Actor, documentID uuid.UUID) (*models.StockDocument, error) {
	if !actor.Role.CanApprove() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "completion requires admin or manager role")
	}
	return s.completeTx(tx, actor, documentID)
}

func (s *service) completeTx(tx *gorm.DB, actor auth.Actor, documentID uuid.UUID) (*models.StockDocument, error) {
	txRepo := s.repo.WithTx(tx)
	ctx := tx.Statement.Context

	doc, err := s.loadDocument(ctx, txRepo, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Kind == enums.DocumentKindTransfer {
		return nil, illegalTransition(doc, "complete")
	}
	if doc.Status != enums.DocumentStatusApproved {
		return nil, illegalTransition(doc, "complete")
	}
	if err := s.checkFullReconciliation(ctx, txRepo, doc); err != nil {
		return nil, err
	}

	bindings, err := txRepo.ListActiveBindings(ctx, doc.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load bindings")
	}

	linesByID := make(map[uuid.UUID]models.DocumentLine, len(doc.Lines))
	for _, line := range doc.Lines {
		linesByID[line.ID] = line
	}

	serials := make([]string, 0, len(bindings))
	for _, binding := range bindings {
		serials = append(serials, binding.Serial)
		switch doc.Kind {
		case enums.DocumentKindReceipt:
			line, ok := linesByID[binding.LineID]
			if !ok {
				return nil, pkgerrors.New(pkgerrors.CodeInternal, "binding references unknown line")
			}
			unit, rerr := s.registry.RegisterTx(tx, registry.RegisterInput{
				Serial:           binding.Serial,
				ProductID:        line.ProductID,
				WarehouseID:      *doc.DestWarehouseID,
				OriginDocumentID: &doc.ID,
			})
			if rerr != nil {
				return nil, rerr
			}
			if err := txRepo.UpdateBindingUnit(ctx, binding.ID, unit.ID); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "attach unit to binding")
			}
		case enums.DocumentKindIssue:
			if binding.UnitID == nil {
				return nil, pkgerrors.New(pkgerrors.CodeInternal, "issue binding missing unit")
			}
			if err := s.registry.MarkDisposedTx(tx, *binding.UnitID); err != nil {
				return nil, err
			}
		}
	}

	if err := txRepo.DeactivateBindings(ctx, doc.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "archive bindings")
	}

	from := doc.Status
	doc.Status = enums.DocumentStatusCompleted
	doc.CompletedBy = &actor.ID
	if err := txRepo.UpdateDocument(ctx, doc.ID, map[string]any{
		"status":       doc.Status,
		"completed_by": actor.ID,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update document status")
	}

	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventDocumentCompleted,
		AggregateType: enums.AggregateStockDocument,
		AggregateID:   doc.ID,
		Actor:         actorRef(actor),
		Version:       1,
		Data: payloads.DocumentCompletedEvent{
			DocumentID: doc.ID,
			Kind:       doc.Kind,
			FromStatus: from,
			ToStatus:   doc.Status,
			Serials:    serials,
		},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit completed event")
	}
	return doc, nil
}

// TryAutoCompleteTx completes an approved receipt or issue the moment the
// final binding lands. Invoked by the allocator inside the bind transaction;
// the role gate is skipped because completion here is a system consequence of
// an approved document, not a separate privileged action.
func (s *service) TryAutoCompleteTx(tx *gorm.DB, actor auth.Actor, documentID uuid.UUID) (bool, error) {
	txRepo := s.repo.WithTx(tx)
	ctx := tx.Statement.Context

	doc, err := s.loadDocument(ctx, txRepo, documentID)
	if err != nil {
		return false, err
	}
	if doc.Kind == enums.DocumentKindTransfer || doc.Status != enums.DocumentStatusApproved {
		return false, nil
	}
	if err := s.checkFullReconciliation(ctx, txRepo, doc); err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeInvariant {
			return false, nil
		}
		return false, err
	}
	if _, err := s.completeTx(tx, actor, documentID); err != nil {
		return false, err
	}
	return true, nil
}

func (s *service) ConfirmReceived(ctx context.Context, actor auth.Actor, documentID uuid.UUID) (*models.StockDocument, error) {
	return s.run(ctx, "confirm_received", func(tx *gorm.DB) (*models.StockDocument, error) {
		return s.ConfirmReceivedTx(tx, actor, documentID)
	})
}

// ConfirmReceivedTx settles an in-transit transfer: every bound unit is
// relocated source → dest and the aggregate stock levels move with them,
// all inside one transaction.
func (s *service) ConfirmReceivedTx(tx *gorm.DB, actor auth.Actor, documentID uuid.UUID) (*models.StockDocument, error) {
	if !actor.Role.CanApprove() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "confirmation requires admin or manager role")
	}
	txRepo := s.repo.WithTx(tx)
	ctx := tx.Statement.Context

	doc, err := s.loadDocument(ctx, txRepo, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Kind != enums.DocumentKindTransfer || doc.Status != enums.DocumentStatusInTransit {
		return nil, illegalTransition(doc, "confirm_received")
	}
	if err := s.checkFullReconciliation(ctx, txRepo, doc); err != nil {
		return nil, err
	}

	bindings, err := txRepo.ListActiveBindings(ctx, doc.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load bindings")
	}

	serials := make([]string, 0, len(bindings))
	for _, binding := range bindings {
		serials = append(serials, binding.Serial)
		if err := s.registry.RelocateTx(tx, binding.Serial, *doc.DestWarehouseID); err != nil {
			return nil, err
		}
		if binding.UnitID != nil {
			if err := s.registry.MarkActiveTx(tx, *binding.UnitID); err != nil {
				return nil, err
			}
		}
		emitErr := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventUnitRelocated,
			AggregateType: enums.AggregatePhysicalUnit,
			AggregateID:   unitAggregateID(binding),
			Actor:         actorRef(actor),
			Version:       1,
			Data: payloads.UnitRelocatedEvent{
				UnitID:          unitAggregateID(binding),
				Serial:          binding.Serial,
				FromWarehouseID: doc.SourceWarehouseID,
				ToWarehouseID:   doc.DestWarehouseID,
				DocumentID:      doc.ID,
			},
		})
		if emitErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, emitErr, "emit relocated event")
		}
	}

	for _, line := range doc.Lines {
		qty := line.DeclaredQty
		if qty < 0 {
			qty = -qty
		}
		if err := s.stock.MoveTx(tx, line.ProductID, *doc.SourceWarehouseID, *doc.DestWarehouseID, qty); err != nil {
			return nil, err
		}
	}

	if err := txRepo.DeactivateBindings(ctx, doc.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "archive bindings")
	}

	from := doc.Status
	doc.Status = enums.DocumentStatusCompleted
	doc.CompletedBy = &actor.ID
	if err := txRepo.UpdateDocument(ctx, doc.ID, map[string]any{
		"status":       doc.Status,
		"completed_by": actor.ID,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update document status")
	}

	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventDocumentCompleted,
		AggregateType: enums.AggregateStockDocument,
		AggregateID:   doc.ID,
		Actor:         actorRef(actor),
		Version:       1,
		Data: payloads.DocumentCompletedEvent{
			DocumentID: doc.ID,
			Kind:       doc.Kind,
			FromStatus: from,
			ToStatus:   doc.Status,
			Serials:    serials,
		},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit completed event")
	}
	return doc, nil
}

func (s *service) run(ctx context.Context, transition string, fn func(tx *gorm.DB) (*models.StockDocument, error)) (*models.StockDocument, error) {
	start := time.Now()
	var doc *models.StockDocument
	err := s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		result, terr := fn(tx)
		if terr != nil {
			return terr
		}
		doc = result
		return nil
	})

	kind := ""
	if doc != nil {
		kind = doc.Kind.String()
	}
	s.transition.ObserveDuration(kind, transition, time.Since(start))
	if err != nil {
		s.transition.IncFailure(kind, transition)
		return nil, err
	}
	s.transition.IncSuccess(kind, transition)
	return doc, nil
}

func (s *service) loadDocument(ctx context.Context, txRepo *Repository, documentID uuid.UUID) (*models.StockDocument, error) {
	doc, err := txRepo.FindByID(ctx, documentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load document")
	}
	if doc == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "document not found")
	}
	return doc, nil
}

// validateSourceLocations enforces that every bound serial of an issue or
// transfer still sits in the document's source warehouse. The full offending
// serial list is reported, not just the first hit.
func (s *service) validateSourceLocations(ctx context.Context, txRepo *Repository, doc *models.StockDocument) error {
	if !doc.Kind.RequiresSourceWarehouse() || doc.SourceWarehouseID == nil {
		return nil
	}

	bindings, err := txRepo.ListActiveBindings(ctx, doc.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load bindings")
	}
	if len(bindings) == 0 {
		return nil
	}

	serials := make([]string, 0, len(bindings))
	for _, binding := range bindings {
		serials = append(serials, binding.Serial)
	}
	units, err := txRepo.ListUnitsBySerials(ctx, serials)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load units")
	}

	var offending []string
	for _, binding := range bindings {
		unit, ok := units[binding.Serial]
		if !ok || unit.WarehouseID != *doc.SourceWarehouseID {
			offending = append(offending, binding.Serial)
		}
	}
	if len(offending) > 0 {
		return pkgerrors.New(pkgerrors.CodeInvariant, "serial location mismatch").
			WithDetails(map[string]any{"serials": offending})
	}
	return nil
}

// checkFullReconciliation enforces that the active binding count equals the
// declared quantity for every line.
func (s *service) checkFullReconciliation(ctx context.Context, txRepo *Repository, doc *models.StockDocument) error {
	counts, err := txRepo.CountActiveBindingsByLine(ctx, doc.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count bindings")
	}

	type mismatch struct {
		LineID      string `json:"line_id"`
		DeclaredQty int    `json:"declared_qty"`
		BoundCount  int    `json:"bound_count"`
	}
	var offending []mismatch
	for _, line := range doc.Lines {
		want := line.DeclaredQty
		if want < 0 {
			want = -want
		}
		if counts[line.ID] != want {
			offending = append(offending, mismatch{
				LineID:      line.ID.String(),
				DeclaredQty: line.DeclaredQty,
				BoundCount:  counts[line.ID],
			})
		}
	}
	if len(offending) > 0 {
		return pkgerrors.New(pkgerrors.CodeInvariant, "quantity mismatch").
			WithDetails(map[string]any{"lines": offending})
	}
	return nil
}

// releaseBindings frees reserved units and removes every binding row.
func (s *service) releaseBindings(ctx context.Context, tx *gorm.DB, txRepo *Repository, doc *models.StockDocument) error {
	bindings, err := txRepo.ListActiveBindings(ctx, doc.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load bindings")
	}
	for _, binding := range bindings {
		if binding.UnitID == nil {
			continue
		}
		if err := s.registry.MarkActiveTx(tx, *binding.UnitID); err != nil {
			return err
		}
	}
	if err := txRepo.DeleteBindings(ctx, doc.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete bindings")
	}
	return nil
}

func illegalTransition(doc *models.StockDocument, transition string) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "illegal transition").
		WithDetails(map[string]any{
			"document_id": doc.ID.String(),
			"kind":        doc.Kind.String(),
			"status":      doc.Status.String(),
			"transition":  transition,
		})
}

func actorRef(actor auth.Actor) *outbox.ActorRef {
	return &outbox.ActorRef{UserID: actor.ID, Role: actor.Role.String()}
}

func unitAggregateID(binding models.SerialBinding) uuid.UUID {
	if binding.UnitID != nil {
		return *binding.UnitID
	}
	return binding.ID
}
