package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/groupbuyhq/fulfillment-backend/api/responses"
	"github.com/groupbuyhq/fulfillment-backend/api/validators"
	"github.com/groupbuyhq/fulfillment-backend/internal/shipments"
	pkgerrors "github.com/groupbuyhq/fulfillment-backend/pkg/errors"
	"github.com/groupbuyhq/fulfillment-backend/pkg/logger"
)

type shipmentLineRequest struct {
	OrderID     uuid.UUID `json:"order_id" validate:"required"`
	OrderLineID uuid.UUID `json:"order_line_id" validate:"required"`
	ProductID   uuid.UUID `json:"product_id" validate:"required"`
	Quantity    int       `json:"quantity" validate:"required,min=1"`
}

type createShipmentRequest struct {
	CustomerID     uuid.UUID             `json:"customer_id" validate:"required"`
	SellerID       uuid.UUID             `json:"seller_id" validate:"required"`
	ShippingMethod *string               `json:"shipping_method,omitempty"`
	Lines          []shipmentLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type mergeShipmentsRequest struct {
	ShipmentIDs []uuid.UUID `json:"shipment_ids" validate:"required,min=2,dive,required"`
}

type markShippedRequest struct {
	ShipmentIDs []uuid.UUID `json:"shipment_ids" validate:"required,min=1,dive,required"`
}

// CreateShipment registers a pending shipment with a day-scoped number.
func CreateShipment(svc shipments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "shipments service unavailable"))
			return
		}

		var req createShipmentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := shipments.CreateInput{
			CustomerID:     req.CustomerID,
			SellerID:       req.SellerID,
			ShippingMethod: req.ShippingMethod,
		}
		for _, line := range req.Lines {
			input.Lines = append(input.Lines, shipments.LineInput{
				OrderID:     line.OrderID,
				OrderLineID: line.OrderLineID,
				ProductID:   line.ProductID,
				Quantity:    line.Quantity,
			})
		}

		shipment, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, shipment)
	}
}

// GetShipment returns one shipment with its lines.
func GetShipment(svc shipments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "shipments service unavailable"))
			return
		}

		id, err := validators.ParseUUIDParam(r, "shipmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		shipment, err := svc.Find(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, shipment)
	}
}

// MergeShipments consolidates pending shipments of one customer into a new
// shipment and removes the sources.
func MergeShipments(svc shipments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "shipments service unavailable"))
			return
		}

		var req mergeShipmentsRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		merged, err := svc.Merge(r.Context(), req.ShipmentIDs)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, merged)
	}
}

// MarkShipmentsShipped dispatches a batch of shipments best effort and reports
// per-id skip reasons.
func MarkShipmentsShipped(svc shipments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "shipments service unavailable"))
			return
		}

		var req markShippedRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.MarkShipped(r.Context(), req.ShipmentIDs)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
