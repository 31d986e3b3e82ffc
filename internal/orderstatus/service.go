package orderstatus

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/groupbuyhq/fulfillment-backend/pkg/db/models"
	"github.com/groupbuyhq/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/groupbuyhq/fulfillment-backend/pkg/errors"
	"github.com/groupbuyhq/fulfillment-backend/pkg/logger"
	"github.com/groupbuyhq/fulfillment-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// TransitionInput carries one manual status transition.
type TransitionInput struct {
	OrderID   uuid.UUID
	Field     enums.StatusField
	NewStatus string
	Reason    string
	Actor     *outbox.ActorRef
}

// ParentCompletedEvent is emitted when the last split child of a parent ships.
type ParentCompletedEvent struct {
	OrderID    uuid.UUID `json:"order_id"`
	CustomerID uuid.UUID `json:"customer_id"`
	ChildCount int       `json:"child_count"`
}

// Service synchronizes status across parent and split-child orders and owns
// the manual transition primitive with its audit history.
type Service interface {
	// Transition applies one status change inside the caller's transaction.
	// Abnormal (backward) shipping moves are recorded as warnings, not
	// rejected, so forced corrections remain possible.
	Transition(ctx context.Context, tx *gorm.DB, input TransitionInput) error
	// ApplyTransition wraps Transition in its own transaction and, for a
	// normal parent order's payment/fulfillment change, propagates the new
	// value to all non-terminal split children.
	ApplyTransition(ctx context.Context, input TransitionInput) error
	// PropagateParentStatus copies a parent's status value to every
	// non-terminal split child. Fire-and-forget: per-child failures are
	// logged and skipped. Returns the number of children updated.
	PropagateParentStatus(ctx context.Context, parentID uuid.UUID, field enums.StatusField, value string) (int, error)
	// CompleteParentIfDone promotes the parent to completed when every split
	// sibling of the given order has shipped. Idempotent per shipment event.
	CompleteParentIfDone(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
	History(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outbox.Emitter
	logg   *logger.Logger
}

// NewService builds an order status synchronizer.
func NewService(repo Repository, tx txRunner, emitter outbox.Emitter, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orderstatus repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{repo: repo, tx: tx, outbox: emitter, logg: logg}, nil
}

func validateStatusValue(field enums.StatusField, value string) error {
	switch field {
	case enums.StatusFieldPayment:
		if !enums.ValidPaymentStatus(enums.PaymentStatus(value)) {
			return pkgerrors.New(pkgerrors.CodeValidation, "unknown payment status").
				WithDetails(map[string]any{"status": value})
		}
	case enums.StatusFieldShipping:
		if !enums.ValidShippingStatus(enums.ShippingStatus(value)) {
			return pkgerrors.New(pkgerrors.CodeValidation, "unknown shipping status").
				WithDetails(map[string]any{"status": value})
		}
	case enums.StatusFieldFulfillment:
		if !enums.ValidFulfillmentStatus(enums.FulfillmentStatus(value)) {
			return pkgerrors.New(pkgerrors.CodeValidation, "unknown fulfillment status").
				WithDetails(map[string]any{"status": value})
		}
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown status field").
			WithDetails(map[string]any{"field": field})
	}
	return nil
}

func currentStatusValue(order *models.Order, field enums.StatusField) string {
	switch field {
	case enums.StatusFieldPayment:
		return string(order.PaymentStatus)
	case enums.StatusFieldShipping:
		return string(order.ShippingStatus)
	case enums.StatusFieldFulfillment:
		return string(order.FulfillmentStatus)
	default:
		return ""
	}
}

func (s *service) Transition(ctx context.Context, tx *gorm.DB, input TransitionInput) error {
	if input.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if err := validateStatusValue(input.Field, input.NewStatus); err != nil {
		return err
	}

	repo := s.repo.WithTx(tx)
	order, err := repo.FindOrder(ctx, input.OrderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	oldStatus := currentStatusValue(order, input.Field)
	if oldStatus == input.NewStatus {
		return nil
	}

	abnormal := input.Field == enums.StatusFieldShipping &&
		enums.IsBackwardShippingTransition(enums.ShippingStatus(oldStatus), enums.ShippingStatus(input.NewStatus))
	if abnormal && s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":   input.OrderID.String(),
			"old_status": oldStatus,
			"new_status": input.NewStatus,
			"reason":     input.Reason,
		})
		s.logg.Warn(logCtx, "abnormal backward status transition applied")
	}

	if err := repo.UpdateStatusField(ctx, input.OrderID, input.Field, input.NewStatus); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}

	entry := &models.OrderStatusHistory{
		ID:        uuid.New(),
		OrderID:   input.OrderID,
		Field:     input.Field,
		OldStatus: oldStatus,
		NewStatus: input.NewStatus,
		Reason:    input.Reason,
		Abnormal:  abnormal,
	}
	if err := repo.CreateHistory(ctx, entry); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append status history")
	}
	return nil
}

func (s *service) ApplyTransition(ctx context.Context, input TransitionInput) error {
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		loaded, err := s.repo.WithTx(tx).FindOrder(ctx, input.OrderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		order = loaded
		return s.Transition(ctx, tx, input)
	})
	if err != nil {
		return err
	}

	// Downward propagation happens after commit and never fails the caller.
	if order.Kind == enums.OrderKindNormal && input.Field != enums.StatusFieldShipping {
		if _, propErr := s.PropagateParentStatus(ctx, input.OrderID, input.Field, input.NewStatus); propErr != nil && s.logg != nil {
			s.logg.Error(ctx, "downward status propagation failed", propErr)
		}
	}
	return nil
}

func (s *service) PropagateParentStatus(ctx context.Context, parentID uuid.UUID, field enums.StatusField, value string) (int, error) {
	if parentID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "parent order id required")
	}
	if err := validateStatusValue(field, value); err != nil {
		return 0, err
	}

	children, err := s.repo.FindSplitChildren(ctx, parentID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load split children")
	}

	updated := 0
	for _, child := range children {
		switch child.ShippingStatus {
		case enums.ShippingStatusCancelled, enums.ShippingStatusRefunded:
			continue
		}
		if currentStatusValue(&child, field) == value {
			continue
		}
		childID := child.ID
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.Transition(ctx, tx, TransitionInput{
				OrderID:   childID,
				Field:     field,
				NewStatus: value,
				Reason:    "propagated from parent " + parentID.String(),
			})
		})
		logCtx := ctx
		if s.logg != nil {
			logCtx = s.logg.WithFields(ctx, map[string]any{
				"parent_id": parentID.String(),
				"child_id":  childID.String(),
				"field":     field,
				"value":     value,
			})
		}
		if err != nil {
			if s.logg != nil {
				s.logg.Error(logCtx, "failed to propagate status to child", err)
			}
			continue
		}
		if s.logg != nil {
			s.logg.Info(logCtx, "status propagated to split child")
		}
		updated++
	}
	return updated, nil
}

func (s *service) CompleteParentIfDone(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	repo := s.repo.WithTx(tx)

	order, err := repo.FindOrder(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.Kind != enums.OrderKindSplit || order.ParentID == nil {
		return nil
	}
	if order.ShippingStatus != enums.ShippingStatusShipped {
		return nil
	}

	unshipped, err := repo.CountUnshippedSiblings(ctx, *order.ParentID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count unshipped siblings")
	}
	if unshipped > 0 {
		return nil
	}

	parent, err := repo.FindOrder(ctx, *order.ParentID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return pkgerrors.New(pkgerrors.CodeNotFound, "parent order not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load parent order")
	}
	// Re-evaluated per shipment event; already-completed parents are a no-op.
	if parent.ShippingStatus == enums.ShippingStatusCompleted {
		return nil
	}

	if err := s.Transition(ctx, tx, TransitionInput{
		OrderID:   parent.ID,
		Field:     enums.StatusFieldShipping,
		NewStatus: string(enums.ShippingStatusCompleted),
		Reason:    "all split children shipped",
	}); err != nil {
		return err
	}

	children, err := repo.FindSplitChildren(ctx, parent.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load split children")
	}

	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventParentCompleted,
		AggregateType: enums.AggregateOrder,
		AggregateID:   parent.ID,
		Version:       1,
		Data: ParentCompletedEvent{
			OrderID:    parent.ID,
			CustomerID: parent.CustomerID,
			ChildCount: len(children),
		},
	})
}

func (s *service) History(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	entries, err := s.repo.ListHistory(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list status history")
	}
	return entries, nil
}
