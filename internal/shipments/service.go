package shipments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	dbpkg "github.com/groupbuyhq/fulfillment-backend/pkg/db"
	"github.com/groupbuyhq/fulfillment-backend/pkg/db/models"
	"github.com/groupbuyhq/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/groupbuyhq/fulfillment-backend/pkg/errors"
	"github.com/groupbuyhq/fulfillment-backend/pkg/logger"
	"github.com/groupbuyhq/fulfillment-backend/pkg/outbox"
)

// numberRetries bounds collision retries when two creations race for the same
// per-day sequence slot.
const numberRetries = 5

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type parentCompleter interface {
	CompleteParentIfDone(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
}

// LineInput describes one shipment line to create.
type LineInput struct {
	OrderID     uuid.UUID
	OrderLineID uuid.UUID
	ProductID   uuid.UUID
	Quantity    int
}

// CreateInput carries the data required to create a shipment.
type CreateInput struct {
	CustomerID     uuid.UUID
	SellerID       uuid.UUID
	ShippingMethod *string
	Lines          []LineInput
}

// MarkShippedResult reports best-effort batch progress: how many shipments
// transitioned plus the reasons for every id that did not.
type MarkShippedResult struct {
	Shipped int      `json:"shipped"`
	Skipped []string `json:"skipped,omitempty"`
}

// ShipmentMarkedShippedEvent is emitted once per shipment that transitions.
type ShipmentMarkedShippedEvent struct {
	ShipmentID     uuid.UUID   `json:"shipment_id"`
	ShipmentNumber string      `json:"shipment_number"`
	CustomerID     uuid.UUID   `json:"customer_id"`
	OrderIDs       []uuid.UUID `json:"order_ids"`
}

// Service manages the shipment lifecycle: creation, consolidation, dispatch.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Shipment, error)
	// CreateInTx persists a shipment inside the caller's transaction; used by
	// the fulfillment orchestrator so shipment creation and ledger mutation
	// commit atomically.
	CreateInTx(ctx context.Context, tx *gorm.DB, input CreateInput) (*models.Shipment, error)
	Merge(ctx context.Context, shipmentIDs []uuid.UUID) (*models.Shipment, error)
	MarkShipped(ctx context.Context, shipmentIDs []uuid.UUID) (*MarkShippedResult, error)
	Find(ctx context.Context, id uuid.UUID) (*models.Shipment, error)
}

type service struct {
	repo      Repository
	tx        txRunner
	outbox    outbox.Emitter
	completer parentCompleter
	logg      *logger.Logger
	now       func() time.Time
}

// NewService builds a shipment lifecycle service with the required dependencies.
func NewService(repo Repository, tx txRunner, emitter outbox.Emitter, completer parentCompleter, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("shipments repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if completer == nil {
		return nil, fmt.Errorf("parent completer required")
	}
	return &service{
		repo:      repo,
		tx:        tx,
		outbox:    emitter,
		completer: completer,
		logg:      logg,
		now:       time.Now,
	}, nil
}

func validateCreateInput(input CreateInput) error {
	if input.CustomerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	if input.SellerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	}
	if len(input.Lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "shipment requires at least one line")
	}
	for _, line := range input.Lines {
		if line.OrderID == uuid.Nil || line.OrderLineID == uuid.Nil || line.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "shipment line references must not be empty")
		}
		if line.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "shipment line quantity must be positive")
		}
	}
	return nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Shipment, error) {
	var created *models.Shipment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		shipment, err := s.CreateInTx(ctx, tx, input)
		if err != nil {
			return err
		}
		created = shipment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) CreateInTx(ctx context.Context, tx *gorm.DB, input CreateInput) (*models.Shipment, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required for shipment creation")
	}
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	repo := s.repo.WithTx(tx)

	prefix := dayPrefix(s.now())
	highestSeq, err := repo.MaxSeqForPrefix(ctx, prefix)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve shipment number")
	}
	number := nextNumber(prefix, highestSeq)

	shipment := &models.Shipment{
		ID:             uuid.New(),
		CustomerID:     input.CustomerID,
		SellerID:       input.SellerID,
		Status:         enums.ShipmentStatusPending,
		ShippingMethod: input.ShippingMethod,
	}

	inserted := false
	for attempt := 0; attempt < numberRetries; attempt++ {
		shipment.ShipmentNumber = number
		err = repo.CreateShipment(ctx, shipment)
		if err == nil {
			inserted = true
			break
		}
		if !dbpkg.IsUniqueViolation(err, "ux_shipments_number") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert shipment")
		}
		number = bumpNumber(number)
	}
	if !inserted {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "shipment number collisions exhausted retries")
	}

	lines := make([]models.ShipmentLine, 0, len(input.Lines))
	for _, line := range input.Lines {
		lines = append(lines, models.ShipmentLine{
			ID:          uuid.New(),
			ShipmentID:  shipment.ID,
			OrderID:     line.OrderID,
			OrderLineID: line.OrderLineID,
			ProductID:   line.ProductID,
			Quantity:    line.Quantity,
		})
	}
	if err := repo.CreateLines(ctx, lines); err != nil {
		// The surrounding transaction rolls the shipment row back too; the
		// explicit delete keeps standalone callers from leaking a header row
		// when they run without one.
		_ = repo.DeleteShipment(ctx, shipment.ID)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert shipment lines")
	}
	shipment.Lines = lines

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"shipment_id":     shipment.ID.String(),
			"shipment_number": shipment.ShipmentNumber,
			"lines":           len(lines),
		})
		s.logg.Info(logCtx, "shipment created")
	}
	return shipment, nil
}

func (s *service) Merge(ctx context.Context, shipmentIDs []uuid.UUID) (*models.Shipment, error) {
	if len(shipmentIDs) < 2 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "merge requires at least two shipment ids")
	}
	seen := make(map[uuid.UUID]struct{}, len(shipmentIDs))
	for _, id := range shipmentIDs {
		if id == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipment id must not be empty")
		}
		if _, dup := seen[id]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "duplicate shipment id in merge request")
		}
		seen[id] = struct{}{}
	}

	var merged *models.Shipment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		sources, err := repo.FindShipments(ctx, shipmentIDs)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipments")
		}
		if len(sources) != len(shipmentIDs) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "one or more shipments not found")
		}

		customerID := sources[0].CustomerID
		for _, src := range sources {
			if src.CustomerID != customerID {
				return pkgerrors.New(pkgerrors.CodeConflict, "shipments belong to different customers")
			}
			if src.Status != enums.ShipmentStatusPending {
				return pkgerrors.New(pkgerrors.CodeAlreadyShipped, "only pending shipments can be merged").
					WithDetails(map[string]any{
						"shipment_id": src.ID.String(),
						"status":      src.Status,
					})
			}
		}

		// Union of source lines keeps original order-line references; the
		// underlying counters were never touched by Create or Merge.
		union := make([]LineInput, 0)
		for _, src := range sources {
			for _, line := range src.Lines {
				union = append(union, LineInput{
					OrderID:     line.OrderID,
					OrderLineID: line.OrderLineID,
					ProductID:   line.ProductID,
					Quantity:    line.Quantity,
				})
			}
		}

		shipment, err := s.CreateInTx(ctx, tx, CreateInput{
			CustomerID: customerID,
			SellerID:   sources[0].SellerID,
			Lines:      union,
		})
		if err != nil {
			return err
		}

		if err := repo.DeleteShipments(ctx, shipmentIDs); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete source shipments")
		}
		merged = shipment
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"shipment_id": merged.ID.String(),
			"sources":     len(shipmentIDs),
		})
		s.logg.Info(logCtx, "shipments merged")
	}
	return merged, nil
}

func (s *service) MarkShipped(ctx context.Context, shipmentIDs []uuid.UUID) (*MarkShippedResult, error) {
	if len(shipmentIDs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one shipment id required")
	}

	result := &MarkShippedResult{}
	var reasons error
	for _, id := range shipmentIDs {
		if err := s.markOneShipped(ctx, id); err != nil {
			reason := fmt.Sprintf("%s: %v", id, err)
			result.Skipped = append(result.Skipped, reason)
			reasons = multierr.Append(reasons, fmt.Errorf("shipment %s: %w", id, err))
			continue
		}
		result.Shipped++
	}

	if result.Shipped == 0 {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, reasons, "no shipments transitioned").
			WithDetails(map[string]any{"skipped": result.Skipped})
	}
	return result, nil
}

// markOneShipped transitions a single shipment and runs the parent-completion
// cascade, atomically as a unit.
func (s *service) markOneShipped(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "shipment id must not be empty")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		shipment, err := repo.FindShipment(ctx, id)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment")
		}
		if enums.ShipmentDispatched(shipment.Status) {
			return pkgerrors.New(pkgerrors.CodeAlreadyShipped, "shipment already dispatched").
				WithDetails(map[string]any{"status": shipment.Status})
		}

		shippedAt := s.now()
		if err := repo.UpdateShipment(ctx, id, map[string]any{
			"status":     enums.ShipmentStatusShipped,
			"shipped_at": shippedAt,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update shipment status")
		}

		orderIDs := distinctOrderIDs(shipment.Lines)
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventShipmentMarkedShipped,
			AggregateType: enums.AggregateShipment,
			AggregateID:   shipment.ID,
			Version:       1,
			Data: ShipmentMarkedShippedEvent{
				ShipmentID:     shipment.ID,
				ShipmentNumber: shipment.ShipmentNumber,
				CustomerID:     shipment.CustomerID,
				OrderIDs:       orderIDs,
			},
		}); err != nil {
			return err
		}

		for _, orderID := range orderIDs {
			if err := s.completer.CompleteParentIfDone(ctx, tx, orderID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *service) Find(ctx context.Context, id uuid.UUID) (*models.Shipment, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipment id required")
	}
	shipment, err := s.repo.FindShipment(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment")
	}
	return shipment, nil
}

func distinctOrderIDs(lines []models.ShipmentLine) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(lines))
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.OrderID]; ok {
			continue
		}
		seen[line.OrderID] = struct{}{}
		ids = append(ids, line.OrderID)
	}
	return ids
}
