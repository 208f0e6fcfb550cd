package models

// OrderStatus is the pipeline state of an order
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusRouting   OrderStatus = "routing"
	StatusBuilding  OrderStatus = "building"
	StatusSubmitted OrderStatus = "submitted"
	StatusConfirmed OrderStatus = "confirmed"
	StatusFailed    OrderStatus = "failed"
)

// ActiveStatuses are the statuses of orders still in flight
var ActiveStatuses = []OrderStatus{StatusPending, StatusRouting, StatusBuilding, StatusSubmitted}

var statusRank = map[OrderStatus]int{
	StatusPending:   0,
	StatusRouting:   1,
	StatusBuilding:  2,
	StatusSubmitted: 3,
	StatusConfirmed: 4,
	StatusFailed:    4,
}

// IsTerminal reports whether no further transition is possible
func (s OrderStatus) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// IsValid reports whether s is a known status
func (s OrderStatus) IsValid() bool {
	_, ok := statusRank[s]
	return ok
}

// Reached reports whether an order in status s has already passed target on the happy path
func (s OrderStatus) Reached(target OrderStatus) bool {
	if s.IsTerminal() {
		return true
	}
	return statusRank[s] >= statusRank[target]
}

// CanTransition reports whether from -> to is an edge of the order state graph:
//
//	pending -> routing -> building -> submitted -> confirmed
//	any non-terminal -> failed
func CanTransition(from, to OrderStatus) bool {
	if !from.IsValid() || !to.IsValid() || from.IsTerminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusRouting
	case StatusRouting:
		return to == StatusBuilding
	case StatusBuilding:
		return to == StatusSubmitted
	case StatusSubmitted:
		return to == StatusConfirmed
	}
	return false
}
