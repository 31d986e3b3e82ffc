package allocation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/groupbuyhq/fulfillment-backend/pkg/db/models"
	pkgerrors "github.com/groupbuyhq/fulfillment-backend/pkg/errors"
	"github.com/groupbuyhq/fulfillment-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// LineAllocation reports the per-line outcome of an allocation.
type LineAllocation struct {
	OrderLineID  uuid.UUID `json:"order_line_id"`
	OrderID      uuid.UUID `json:"order_id"`
	Allocated    int       `json:"allocated"`
	AllocatedQty int       `json:"allocated_qty"`
	ShippedQty   int       `json:"shipped_qty"`
	PendingQty   int       `json:"pending_qty"`
}

// Result is the outcome of a successful allocation.
type Result struct {
	ProductID      uuid.UUID        `json:"product_id"`
	UnitsAllocated int              `json:"units_allocated"`
	PurchasedQty   int              `json:"purchased_qty"`
	AllocatedQty   int              `json:"allocated_qty"`
	AvailableQty   int              `json:"available_qty"`
	Lines          []LineAllocation `json:"lines"`
}

// Service distributes newly available purchased stock across competing order
// lines. Allocation is all-or-nothing: either every eligible line is fully
// satisfied or nothing changes.
type Service interface {
	Allocate(ctx context.Context, productID uuid.UUID, candidateOrderIDs []uuid.UUID) (*Result, error)
}

type service struct {
	repo Repository
	tx   txRunner
	logg *logger.Logger
}

// NewService builds an allocation service with the required dependencies.
func NewService(repo Repository, tx txRunner, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("allocation repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx, logg: logg}, nil
}

// stillNeededQty is the unallocated remainder of a line. Shipped units are
// already out the door and must never be granted again, so the line cap is
// quantity minus allocated minus shipped, floored at zero.
func stillNeededQty(line *models.OrderLine) int {
	needed := line.PendingQty()
	if needed < 0 {
		return 0
	}
	return needed
}

func (s *service) Allocate(ctx context.Context, productID uuid.UUID, candidateOrderIDs []uuid.UUID) (*Result, error) {
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if len(candidateOrderIDs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one candidate order required")
	}
	for _, id := range candidateOrderIDs {
		if id == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "candidate order id must not be empty")
		}
	}

	var result *Result
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		stock, err := repo.FindStockForUpdate(ctx, productID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "product stock not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product stock")
		}

		available := stock.AvailableQty()
		if available <= 0 {
			return pkgerrors.New(pkgerrors.CodeNoStock, "no available stock for product").
				WithDetails(map[string]any{
					"purchased_qty": stock.PurchasedQty,
					"allocated_qty": stock.AllocatedQty,
				})
		}

		lines, err := repo.FindEligibleLines(ctx, productID, candidateOrderIDs)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load eligible lines")
		}
		if len(lines) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "no eligible order lines for product")
		}

		totalNeeded := 0
		for i := range lines {
			totalNeeded += stillNeededQty(&lines[i])
		}
		if totalNeeded > available {
			return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock for requested allocation").
				WithDetails(map[string]any{
					"total_needed":  totalNeeded,
					"available_qty": available,
				})
		}

		remaining := available
		allocated := 0
		outcome := make([]LineAllocation, 0, len(lines))
		for _, line := range lines {
			stillNeeded := stillNeededQty(&line)
			if stillNeeded <= 0 {
				continue
			}
			// totalNeeded <= available guarantees full satisfaction; the min
			// is an invariant guard, not a rationing mechanism.
			grant := stillNeeded
			if grant > remaining {
				grant = remaining
			}
			newAllocated := line.AllocatedQty + grant
			if err := repo.UpdateLineAllocated(ctx, line.ID, newAllocated); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update line allocation")
			}
			remaining -= grant
			allocated += grant
			outcome = append(outcome, LineAllocation{
				OrderLineID:  line.ID,
				OrderID:      line.OrderID,
				Allocated:    grant,
				AllocatedQty: newAllocated,
				ShippedQty:   line.ShippedQty,
				PendingQty:   line.Quantity - newAllocated - line.ShippedQty,
			})
		}

		newStockAllocated := stock.AllocatedQty + allocated
		if err := repo.UpdateStockAllocated(ctx, productID, newStockAllocated); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update stock aggregate")
		}

		result = &Result{
			ProductID:      productID,
			UnitsAllocated: allocated,
			PurchasedQty:   stock.PurchasedQty,
			AllocatedQty:   newStockAllocated,
			AvailableQty:   stock.PurchasedQty - newStockAllocated,
			Lines:          outcome,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"product_id":      productID.String(),
			"units_allocated": result.UnitsAllocated,
			"lines":           len(result.Lines),
		})
		s.logg.Info(logCtx, "stock allocated")
	}
	return result, nil
}
