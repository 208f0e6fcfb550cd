package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderKind is the execution style requested by the client
type OrderKind string

const (
	OrderKindMarket OrderKind = "market"
	OrderKindLimit  OrderKind = "limit"
	OrderKindSniper OrderKind = "sniper"
)

// OrderKinds lists every recognized order kind
var OrderKinds = []OrderKind{OrderKindMarket, OrderKindLimit, OrderKindSniper}

// DefaultSlippageTolerance is applied when a request omits slippage_tolerance
var DefaultSlippageTolerance = decimal.NewFromFloat(0.01)

// Order represents an order in the system
type Order struct {
	ID                string           `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Kind              OrderKind        `json:"kind" gorm:"type:varchar(16);not null"`
	TokenIn           string           `json:"token_in" gorm:"type:varchar(32);not null"`
	TokenOut          string           `json:"token_out" gorm:"type:varchar(32);not null"`
	AmountIn          decimal.Decimal  `json:"amount_in" gorm:"type:decimal(38,18);not null"`
	AmountOut         *decimal.Decimal `json:"amount_out,omitempty" gorm:"type:decimal(38,18)"` // target output, limit/sniper orders
	SlippageTolerance decimal.Decimal  `json:"slippage_tolerance" gorm:"type:decimal(10,6);not null"`
	UserID            string           `json:"user_id" gorm:"type:varchar(128);not null;index:idx_orders_user_created,priority:1"`
	Status            OrderStatus      `json:"status" gorm:"type:varchar(16);not null;index"`
	TxHash            *string          `json:"tx_hash,omitempty" gorm:"type:varchar(80)"`
	ExecutedPrice     *decimal.Decimal `json:"executed_price,omitempty" gorm:"type:decimal(38,18)"`
	FailureReason     *string          `json:"failure_reason,omitempty" gorm:"type:text"`
	RetryCount        int              `json:"retry_count" gorm:"not null;default:0"`
	CreatedAt         time.Time        `json:"created_at" gorm:"index:idx_orders_user_created,priority:2,sort:desc"`
	UpdatedAt         time.Time        `json:"updated_at"`
	ExecutedAt        *time.Time       `json:"executed_at,omitempty"`
}

// TableName pins the table name used by gorm
func (Order) TableName() string { return "orders" }

// Clone returns a deep copy so callers can mutate without sharing pointer fields
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.AmountOut != nil {
		v := *o.AmountOut
		c.AmountOut = &v
	}
	if o.TxHash != nil {
		v := *o.TxHash
		c.TxHash = &v
	}
	if o.ExecutedPrice != nil {
		v := *o.ExecutedPrice
		c.ExecutedPrice = &v
	}
	if o.FailureReason != nil {
		v := *o.FailureReason
		c.FailureReason = &v
	}
	if o.ExecutedAt != nil {
		v := *o.ExecutedAt
		c.ExecutedAt = &v
	}
	return &c
}

// Pair returns the token pair in BASE/QUOTE form
func (o *Order) Pair() string {
	return o.TokenIn + "/" + o.TokenOut
}

// OrderUpdate is a partial mutation of an order. Nil fields are left untouched.
type OrderUpdate struct {
	Status        *OrderStatus
	TxHash        *string
	ExecutedPrice *decimal.Decimal
	FailureReason *string
	RetryCount    *int
	ExecutedAt    *time.Time
	UpdatedAt     time.Time
}

// Apply writes the update onto order in place
func (u OrderUpdate) Apply(order *Order) {
	if u.Status != nil {
		order.Status = *u.Status
	}
	if u.TxHash != nil {
		order.TxHash = u.TxHash
	}
	if u.ExecutedPrice != nil {
		order.ExecutedPrice = u.ExecutedPrice
	}
	if u.FailureReason != nil {
		order.FailureReason = u.FailureReason
	}
	if u.RetryCount != nil && *u.RetryCount > order.RetryCount {
		order.RetryCount = *u.RetryCount
	}
	if u.ExecutedAt != nil && order.ExecutedAt == nil {
		order.ExecutedAt = u.ExecutedAt
	}
	if !u.UpdatedAt.IsZero() && u.UpdatedAt.After(order.UpdatedAt) {
		order.UpdatedAt = u.UpdatedAt
	}
}

// Columns returns the column assignments for a gorm Updates call
func (u OrderUpdate) Columns() map[string]interface{} {
	cols := map[string]interface{}{"updated_at": u.UpdatedAt}
	if u.Status != nil {
		cols["status"] = *u.Status
	}
	if u.TxHash != nil {
		cols["tx_hash"] = *u.TxHash
	}
	if u.ExecutedPrice != nil {
		cols["executed_price"] = *u.ExecutedPrice
	}
	if u.FailureReason != nil {
		cols["failure_reason"] = *u.FailureReason
	}
	if u.RetryCount != nil {
		cols["retry_count"] = *u.RetryCount
	}
	if u.ExecutedAt != nil {
		cols["executed_at"] = *u.ExecutedAt
	}
	return cols
}

// OrderTransition is an audit row written for every status change
type OrderTransition struct {
	ID         uint64      `json:"id" gorm:"primaryKey;autoIncrement"`
	OrderID    string      `json:"order_id" gorm:"type:varchar(36);not null;index"`
	FromStatus OrderStatus `json:"from_status" gorm:"type:varchar(16);not null"`
	ToStatus   OrderStatus `json:"to_status" gorm:"type:varchar(16);not null"`
	Reason     string      `json:"reason" gorm:"type:text"`
	TraceID    string      `json:"trace_id,omitempty" gorm:"type:varchar(32)"`
	CreatedAt  time.Time   `json:"created_at"`
}

// TableName pins the table name used by gorm
func (OrderTransition) TableName() string { return "order_transitions" }

// CreateOrderRequest is the client payload for a new order
type CreateOrderRequest struct {
	Kind              OrderKind        `json:"kind" validate:"required,order_kind"`
	TokenIn           string           `json:"token_in" validate:"required,token_symbol"`
	TokenOut          string           `json:"token_out" validate:"required,token_symbol,nefield=TokenIn"`
	AmountIn          decimal.Decimal  `json:"amount_in" validate:"gt=0"`
	AmountOut         *decimal.Decimal `json:"amount_out,omitempty" validate:"omitempty,gt=0"`
	SlippageTolerance *decimal.Decimal `json:"slippage_tolerance,omitempty" validate:"omitempty,gte=0,lte=1"`
	UserID            string           `json:"user_id" validate:"required,max=128"`
	Priority          int              `json:"priority,omitempty" validate:"gte=0,lte=100"`
}

// Quote is a single venue's price for a pair, valid for one execution attempt
type Quote struct {
	Venue             string          `json:"venue"`
	TokenIn           string          `json:"token_in"`
	TokenOut          string          `json:"token_out"`
	AmountIn          decimal.Decimal `json:"amount_in"`
	Price             decimal.Decimal `json:"price"`
	Fee               decimal.Decimal `json:"fee"`
	Liquidity         decimal.Decimal `json:"liquidity"`
	EstimatedSlippage decimal.Decimal `json:"estimated_slippage"`
	QuotedAt          time.Time       `json:"quoted_at"`
}

// EffectivePrice is the quoted price net of the venue fee
func (q *Quote) EffectivePrice() decimal.Decimal {
	return q.Price.Mul(decimal.NewFromInt(1).Sub(q.Fee))
}

// SettlementResult is the outcome of a successful execution
type SettlementResult struct {
	Venue            string          `json:"venue"`
	TxHash           string          `json:"tx_hash"`
	ExecutedPrice    decimal.Decimal `json:"executed_price"`
	RealizedSlippage decimal.Decimal `json:"realized_slippage"`
	SettledAt        time.Time       `json:"settled_at"`
}

// StatusUpdate is published to subscribers on every order transition
type StatusUpdate struct {
	OrderID       string           `json:"order_id"`
	Status        OrderStatus      `json:"status"`
	Message       string           `json:"message"`
	Timestamp     time.Time        `json:"timestamp"`
	Venue         string           `json:"venue,omitempty"`
	TxHash        *string          `json:"tx_hash,omitempty"`
	ExecutedPrice *decimal.Decimal `json:"executed_price,omitempty"`
	Error         *string          `json:"error,omitempty"`
}
