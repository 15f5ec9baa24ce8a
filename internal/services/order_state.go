package services

import (
	"fmt"
	"slices"

	domain "github.com/bookporter/api/internal/domain"
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped: {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
}

// buyerTransitions lists the only edges a buyer may drive on their own order.
var buyerTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending: {domain.OrderStatusCancelled},
}

// orderCapacity is the role an actor plays with respect to one order.
type orderCapacity int

const (
	capacityNone orderCapacity = iota
	capacityBuyer
	capacitySeller
	capacityAdmin
)

func canTransition(current, target domain.OrderStatus) bool {
	return slices.Contains(orderStateTransitions[current], target)
}

func capacityFor(order domain.Order, actor Actor) orderCapacity {
	switch {
	case actor.Kind == ActorAdmin || actor.Kind == ActorSystem:
		return capacityAdmin
	case actor.ID == "":
		return capacityNone
	case actor.Kind == ActorSeller && actor.ID == order.SellerID():
		return capacitySeller
	case actor.ID == order.BuyerID:
		return capacityBuyer
	default:
		return capacityNone
	}
}

// authorizeTransition applies the checks in a fixed order so callers see the same error for
// the same situation: party membership, then edge validity, then role permission.
func authorizeTransition(order domain.Order, target domain.OrderStatus, actor Actor) error {
	capacity := capacityFor(order, actor)
	if capacity == capacityNone {
		return fmt.Errorf("%w: actor is not a party to order %s", ErrOrderForbidden, order.ID)
	}
	if !canTransition(order.Status, target) {
		return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, target)
	}
	if capacity == capacityBuyer && !slices.Contains(buyerTransitions[order.Status], target) {
		return fmt.Errorf("%w: buyers may only cancel pending orders", ErrOrderForbidden)
	}
	return nil
}
