package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/groupbuyhq/fulfillment-backend/api/responses"
	"github.com/groupbuyhq/fulfillment-backend/api/validators"
	"github.com/groupbuyhq/fulfillment-backend/internal/allocation"
	pkgerrors "github.com/groupbuyhq/fulfillment-backend/pkg/errors"
	"github.com/groupbuyhq/fulfillment-backend/pkg/logger"
)

type allocateRequest struct {
	ProductID uuid.UUID   `json:"product_id" validate:"required"`
	OrderIDs  []uuid.UUID `json:"order_ids" validate:"required,min=1,dive,required"`
}

// Allocate reserves purchased stock for the given orders' lines, all or
// nothing.
func Allocate(svc allocation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "allocation service unavailable"))
			return
		}

		var req allocateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithProductID(ctx, req.ProductID.String())
		}

		result, err := svc.Allocate(ctx, req.ProductID, req.OrderIDs)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
