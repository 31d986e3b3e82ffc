package controllers

import (
	"net/http"

	"github.com/groupbuyhq/fulfillment-backend/api/middleware"
	"github.com/groupbuyhq/fulfillment-backend/api/responses"
	"github.com/groupbuyhq/fulfillment-backend/api/validators"
	"github.com/groupbuyhq/fulfillment-backend/internal/orderstatus"
	"github.com/groupbuyhq/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/groupbuyhq/fulfillment-backend/pkg/errors"
	"github.com/groupbuyhq/fulfillment-backend/pkg/logger"
	"github.com/groupbuyhq/fulfillment-backend/pkg/outbox"
)

type transitionRequest struct {
	Field  string `json:"field" validate:"required,oneof=payment_status shipping_status fulfillment_status"`
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// TransitionOrderStatus applies a manual status change to an order and, for a
// parent order, propagates it to split children.
func TransitionOrderStatus(svc orderstatus.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order status service unavailable"))
			return
		}

		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req transitionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := orderstatus.TransitionInput{
			OrderID:   orderID,
			Field:     enums.StatusField(req.Field),
			NewStatus: req.Status,
			Reason:    req.Reason,
		}
		if actor, ok := middleware.ActorFromContext(r.Context()); ok {
			input.Actor = &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)}
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID.String())
		}

		if err := svc.ApplyTransition(ctx, input); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"order_id": orderID,
			"field":    req.Field,
			"status":   req.Status,
		})
	}
}

// OrderStatusHistory lists the audit trail of status changes for one order.
func OrderStatusHistory(svc orderstatus.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order status service unavailable"))
			return
		}

		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entries, err := svc.History(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, entries)
	}
}
