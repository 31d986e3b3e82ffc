package fulfillment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/groupbuyhq/fulfillment-backend/internal/orderstatus"
	"github.com/groupbuyhq/fulfillment-backend/internal/shipments"
	"github.com/groupbuyhq/fulfillment-backend/pkg/db/models"
	"github.com/groupbuyhq/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/groupbuyhq/fulfillment-backend/pkg/errors"
	"github.com/groupbuyhq/fulfillment-backend/pkg/logger"
	"github.com/groupbuyhq/fulfillment-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type shipmentCreator interface {
	CreateInTx(ctx context.Context, tx *gorm.DB, input shipments.CreateInput) (*models.Shipment, error)
}

type statusTransitioner interface {
	Transition(ctx context.Context, tx *gorm.DB, input orderstatus.TransitionInput) error
}

// Actor identifies who requested the shipment and with which capability.
type Actor struct {
	UserID uuid.UUID
	Role   enums.ActorRole
}

// ShipLine is one requested line of a shipment.
type ShipLine struct {
	OrderLineID uuid.UUID
	ProductID   uuid.UUID
	Quantity    int
}

// ShipInput carries a ship request for one order.
type ShipInput struct {
	OrderID uuid.UUID
	Actor   *Actor
	Lines   []ShipLine
}

// LineCounters is the post-ship counter state returned for UI refresh.
type LineCounters struct {
	OrderLineID  uuid.UUID `json:"order_line_id"`
	Quantity     int       `json:"quantity"`
	AllocatedQty int       `json:"allocated_qty"`
	ShippedQty   int       `json:"shipped_qty"`
	PendingQty   int       `json:"pending_qty"`
}

// ShipResult is the outcome of a successful ship call.
type ShipResult struct {
	ShipmentID     uuid.UUID            `json:"shipment_id"`
	ShipmentNumber string               `json:"shipment_number"`
	SellerID       uuid.UUID            `json:"seller_id"`
	ShippingStatus enums.ShippingStatus `json:"shipping_status"`
	Lines          []LineCounters       `json:"lines"`
}

// OrderShippedEvent is emitted when all of an order's lines have shipped.
type OrderShippedEvent struct {
	OrderID    uuid.UUID `json:"order_id"`
	CustomerID uuid.UUID `json:"customer_id"`
	ShipmentID uuid.UUID `json:"shipment_id"`
}

// Service validates an order is shippable, realizes the shipment, moves the
// shipped quantities out of allocation, and reconciles the order's aggregate
// shipping status.
type Service interface {
	Ship(ctx context.Context, input ShipInput) (*ShipResult, error)
}

type service struct {
	repo         Repository
	tx           txRunner
	creator      shipmentCreator
	transitioner statusTransitioner
	outbox       outbox.Emitter
	fallbackID   uuid.UUID
	logg         *logger.Logger
}

// ServiceParams configure the fulfillment orchestrator.
type ServiceParams struct {
	Repo         Repository
	Tx           txRunner
	Creator      shipmentCreator
	Transitioner statusTransitioner
	Outbox       outbox.Emitter
	// FallbackSellerID is the designated site actor used when no seller can
	// be resolved from the actor or product owners. May be uuid.Nil.
	FallbackSellerID uuid.UUID
	Logger           *logger.Logger
}

// NewService builds a fulfillment orchestrator.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("fulfillment repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Creator == nil {
		return nil, fmt.Errorf("shipment creator required")
	}
	if params.Transitioner == nil {
		return nil, fmt.Errorf("status transitioner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{
		repo:         params.Repo,
		tx:           params.Tx,
		creator:      params.Creator,
		transitioner: params.Transitioner,
		outbox:       params.Outbox,
		fallbackID:   params.FallbackSellerID,
		logg:         params.Logger,
	}, nil
}

func (s *service) Ship(ctx context.Context, input ShipInput) (*ShipResult, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if len(input.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no items to ship")
	}
	requested := make(map[uuid.UUID]struct{}, len(input.Lines))
	for _, line := range input.Lines {
		if line.OrderLineID == uuid.Nil || line.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line references must not be empty")
		}
		if line.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line quantity must be positive")
		}
		// Each order line may appear once; duplicates would each check the
		// same allocation snapshot and then drain the counter twice.
		if _, dup := requested[line.OrderLineID]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "duplicate order line in ship request").
				WithDetails(map[string]any{"order_line_id": line.OrderLineID.String()})
		}
		requested[line.OrderLineID] = struct{}{}
	}

	var result *ShipResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		order, err := repo.FindOrder(ctx, input.OrderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if !order.Shippable() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not in a shippable state").
				WithDetails(map[string]any{"shipping_status": order.ShippingStatus})
		}

		orderLines, err := repo.FindOrderLines(ctx, input.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order lines")
		}
		linesByID := make(map[uuid.UUID]*models.OrderLine, len(orderLines))
		for i := range orderLines {
			linesByID[orderLines[i].ID] = &orderLines[i]
		}

		for _, req := range input.Lines {
			line, ok := linesByID[req.OrderLineID]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order line not found on order").
					WithDetails(map[string]any{"order_line_id": req.OrderLineID.String()})
			}
			if line.ProductID != req.ProductID {
				return pkgerrors.New(pkgerrors.CodeValidation, "product does not match order line").
					WithDetails(map[string]any{"order_line_id": req.OrderLineID.String()})
			}
			// Shipping only consumes stock already reserved by allocation; the
			// product-level pool is never re-checked here.
			if req.Quantity > line.AllocatedQty {
				return pkgerrors.New(pkgerrors.CodeInsufficientAllocation, "requested quantity exceeds allocated stock").
					WithDetails(map[string]any{
						"order_line_id": req.OrderLineID.String(),
						"requested":     req.Quantity,
						"allocated_qty": line.AllocatedQty,
					})
			}
		}

		sellerID, err := s.resolveSeller(ctx, repo, input, orderLines)
		if err != nil {
			return err
		}

		createLines := make([]shipments.LineInput, 0, len(input.Lines))
		for _, req := range input.Lines {
			createLines = append(createLines, shipments.LineInput{
				OrderID:     input.OrderID,
				OrderLineID: req.OrderLineID,
				ProductID:   req.ProductID,
				Quantity:    req.Quantity,
			})
		}
		shipment, err := s.creator.CreateInTx(ctx, tx, shipments.CreateInput{
			CustomerID: order.CustomerID,
			SellerID:   sellerID,
			Lines:      createLines,
		})
		if err != nil {
			return err
		}

		// Move quantities from allocated to shipped; their sum is invariant.
		counters := make([]LineCounters, 0, len(input.Lines))
		for _, req := range input.Lines {
			line := linesByID[req.OrderLineID]
			line.AllocatedQty -= req.Quantity
			line.ShippedQty += req.Quantity
			if err := repo.UpdateLineCounters(ctx, line.ID, line.AllocatedQty, line.ShippedQty); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update line counters")
			}
			counters = append(counters, LineCounters{
				OrderLineID:  line.ID,
				Quantity:     line.Quantity,
				AllocatedQty: line.AllocatedQty,
				ShippedQty:   line.ShippedQty,
				PendingQty:   line.PendingQty(),
			})
		}

		totalOrdered := 0
		totalShipped := 0
		for _, line := range orderLines {
			totalOrdered += line.Quantity
			totalShipped += line.ShippedQty
		}

		shippingStatus := order.ShippingStatus
		if totalShipped >= totalOrdered {
			if err := s.transitioner.Transition(ctx, tx, orderstatus.TransitionInput{
				OrderID:   order.ID,
				Field:     enums.StatusFieldShipping,
				NewStatus: string(enums.ShippingStatusShipped),
				Reason:    "all lines shipped",
			}); err != nil {
				return err
			}
			shippingStatus = enums.ShippingStatusShipped
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderShipped,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Version:       1,
				Data: OrderShippedEvent{
					OrderID:    order.ID,
					CustomerID: order.CustomerID,
					ShipmentID: shipment.ID,
				},
			}); err != nil {
				return err
			}
		} else if shippingStatus == enums.ShippingStatusPending || shippingStatus == enums.ShippingStatusPreparing {
			if err := s.transitioner.Transition(ctx, tx, orderstatus.TransitionInput{
				OrderID:   order.ID,
				Field:     enums.StatusFieldShipping,
				NewStatus: string(enums.ShippingStatusPartiallyShipped),
				Reason:    "partial shipment created",
			}); err != nil {
				return err
			}
			shippingStatus = enums.ShippingStatusPartiallyShipped
		}

		result = &ShipResult{
			ShipmentID:     shipment.ID,
			ShipmentNumber: shipment.ShipmentNumber,
			SellerID:       sellerID,
			ShippingStatus: shippingStatus,
			Lines:          counters,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":        input.OrderID.String(),
			"shipment_id":     result.ShipmentID.String(),
			"shipping_status": result.ShippingStatus,
		})
		s.logg.Info(logCtx, "order shipped")
	}
	return result, nil
}

// resolveSeller walks the ordered fallback chain used to attribute the
// shipment: capable actor, then the first shippable line's product owner,
// then the order's first line's product owner, then the site fallback. The
// result never authorizes the action, only attributes it.
func (s *service) resolveSeller(ctx context.Context, repo Repository, input ShipInput, orderLines []models.OrderLine) (uuid.UUID, error) {
	if input.Actor != nil && input.Actor.UserID != uuid.Nil && enums.SellerCapable(input.Actor.Role) {
		return input.Actor.UserID, nil
	}

	if owner, err := repo.FindProductOwner(ctx, input.Lines[0].ProductID); err == nil && owner != uuid.Nil {
		return owner, nil
	}

	if len(orderLines) > 0 {
		if owner, err := repo.FindProductOwner(ctx, orderLines[0].ProductID); err == nil && owner != uuid.Nil {
			return owner, nil
		}
	}

	if s.fallbackID != uuid.Nil {
		return s.fallbackID, nil
	}
	return uuid.Nil, pkgerrors.New(pkgerrors.CodeDependency, "no seller could be resolved for shipment attribution")
}
