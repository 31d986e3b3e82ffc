package enums

// OrderKind distinguishes a normal order from a split child carved out of it.
type OrderKind string

const (
	OrderKindNormal OrderKind = "normal"
	OrderKindSplit  OrderKind = "split"
)

// PaymentStatus tracks the money side of an order.
type PaymentStatus string

const (
	PaymentStatusPending       PaymentStatus = "pending"
	PaymentStatusPaid          PaymentStatus = "paid"
	PaymentStatusPartiallyPaid PaymentStatus = "partially_paid"
	PaymentStatusRefunded      PaymentStatus = "refunded"
	PaymentStatusCancelled     PaymentStatus = "cancelled"
)

// ShippingStatus tracks the physical-quantity side of an order.
type ShippingStatus string

const (
	ShippingStatusPending          ShippingStatus = "pending"
	ShippingStatusPreparing        ShippingStatus = "preparing"
	ShippingStatusPartiallyShipped ShippingStatus = "partially_shipped"
	ShippingStatusShipped          ShippingStatus = "shipped"
	ShippingStatusCompleted        ShippingStatus = "completed"
	ShippingStatusCancelled        ShippingStatus = "cancelled"
	ShippingStatusRefunded         ShippingStatus = "refunded"
)

// shippingStatusRank orders the forward progression of shipping statuses.
// A transition to a lower rank is recorded as abnormal but not blocked.
var shippingStatusRank = map[ShippingStatus]int{
	ShippingStatusPending:          0,
	ShippingStatusPreparing:        1,
	ShippingStatusPartiallyShipped: 2,
	ShippingStatusShipped:          3,
	ShippingStatusCompleted:        4,
}

// IsBackwardShippingTransition reports whether moving from old to new walks
// the shipping progression backward (e.g. shipped -> preparing).
func IsBackwardShippingTransition(old, new ShippingStatus) bool {
	oldRank, okOld := shippingStatusRank[old]
	newRank, okNew := shippingStatusRank[new]
	if !okOld || !okNew {
		return false
	}
	return newRank < oldRank
}

// TerminalShippingStatus reports whether the order can no longer ship.
func TerminalShippingStatus(s ShippingStatus) bool {
	switch s {
	case ShippingStatusCancelled, ShippingStatusRefunded, ShippingStatusCompleted:
		return true
	default:
		return false
	}
}

// FulfillmentStatus tracks seller-side processing of an order.
type FulfillmentStatus string

const (
	FulfillmentStatusPending    FulfillmentStatus = "pending"
	FulfillmentStatusProcessing FulfillmentStatus = "processing"
	FulfillmentStatusFulfilled  FulfillmentStatus = "fulfilled"
	FulfillmentStatusCancelled  FulfillmentStatus = "cancelled"
)

// ShipmentStatus is the lifecycle of a physical dispatch unit. Shipments only
// move forward and are never reopened.
type ShipmentStatus string

const (
	ShipmentStatusPending     ShipmentStatus = "pending"
	ShipmentStatusReadyToShip ShipmentStatus = "ready_to_ship"
	ShipmentStatusShipped     ShipmentStatus = "shipped"
	ShipmentStatusArchived    ShipmentStatus = "archived"
)

// ShipmentDispatched reports whether the shipment already left the warehouse
// (or was archived) and must not transition again.
func ShipmentDispatched(s ShipmentStatus) bool {
	return s == ShipmentStatusShipped || s == ShipmentStatusArchived
}

// StatusField names the order status column a transition targets.
type StatusField string

const (
	StatusFieldPayment     StatusField = "payment_status"
	StatusFieldShipping    StatusField = "shipping_status"
	StatusFieldFulfillment StatusField = "fulfillment_status"
)

// EventType enumerates domain events emitted through the outbox.
type EventType string

const (
	EventOrderCreated          EventType = "order.created"
	EventOrderShipped          EventType = "order.shipped"
	EventShipmentMarkedShipped EventType = "shipment.marked_shipped"
	EventParentCompleted       EventType = "order.parent_completed"
)

// AggregateType identifies the aggregate a domain event belongs to.
type AggregateType string

const (
	AggregateOrder    AggregateType = "order"
	AggregateShipment AggregateType = "shipment"
)

// NotificationStatus is the delivery-attempt state, not business state.
type NotificationStatus string

const (
	NotificationStatusScheduled NotificationStatus = "scheduled"
	NotificationStatusRetrying  NotificationStatus = "retrying"
	NotificationStatusSent      NotificationStatus = "sent"
	NotificationStatusFailed    NotificationStatus = "failed"
)

// ActorRole is the capability attached to the acting user by the identity
// resolver. Only seller and admin may be attributed as the responsible seller.
type ActorRole string

const (
	ActorRoleBuyer  ActorRole = "buyer"
	ActorRoleSeller ActorRole = "seller"
	ActorRoleAdmin  ActorRole = "admin"
)

// SellerCapable reports whether the role can be attributed as a seller.
func SellerCapable(r ActorRole) bool {
	return r == ActorRoleSeller || r == ActorRoleAdmin
}

// ValidPaymentStatus reports whether the value belongs to the payment enum.
func ValidPaymentStatus(s PaymentStatus) bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusPartiallyPaid,
		PaymentStatusRefunded, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

// ValidShippingStatus reports whether the value belongs to the shipping enum.
func ValidShippingStatus(s ShippingStatus) bool {
	switch s {
	case ShippingStatusPending, ShippingStatusPreparing, ShippingStatusPartiallyShipped,
		ShippingStatusShipped, ShippingStatusCompleted, ShippingStatusCancelled,
		ShippingStatusRefunded:
		return true
	default:
		return false
	}
}

// ValidFulfillmentStatus reports whether the value belongs to the fulfillment enum.
func ValidFulfillmentStatus(s FulfillmentStatus) bool {
	switch s {
	case FulfillmentStatusPending, FulfillmentStatusProcessing,
		FulfillmentStatusFulfilled, FulfillmentStatusCancelled:
		return true
	default:
		return false
	}
}
