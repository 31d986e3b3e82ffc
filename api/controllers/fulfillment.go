package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/groupbuyhq/fulfillment-backend/api/middleware"
	"github.com/groupbuyhq/fulfillment-backend/api/responses"
	"github.com/groupbuyhq/fulfillment-backend/api/validators"
	"github.com/groupbuyhq/fulfillment-backend/internal/fulfillment"
	pkgerrors "github.com/groupbuyhq/fulfillment-backend/pkg/errors"
	"github.com/groupbuyhq/fulfillment-backend/pkg/logger"
)

type shipLineRequest struct {
	OrderLineID uuid.UUID `json:"order_line_id" validate:"required"`
	ProductID   uuid.UUID `json:"product_id" validate:"required"`
	Quantity    int       `json:"quantity" validate:"required,min=1"`
}

type shipOrderRequest struct {
	Lines []shipLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// ShipOrder turns allocated quantities of one order into a shipment.
func ShipOrder(svc fulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment service unavailable"))
			return
		}

		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req shipOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := fulfillment.ShipInput{OrderID: orderID}
		if actor, ok := middleware.ActorFromContext(r.Context()); ok {
			input.Actor = &fulfillment.Actor{UserID: actor.UserID, Role: actor.Role}
		}
		for _, line := range req.Lines {
			input.Lines = append(input.Lines, fulfillment.ShipLine{
				OrderLineID: line.OrderLineID,
				ProductID:   line.ProductID,
				Quantity:    line.Quantity,
			})
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID.String())
		}

		result, err := svc.Ship(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}
