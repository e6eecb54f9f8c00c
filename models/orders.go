package models

import "time"

// Order is a resting order as the exchange reports it. Identity is the
// exchange-assigned id; price and size change across amends but the id is
// retained.
type Order struct {
	ID    string  `json:"order_id"`
	Side  Side    `json:"side"`
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Quote is a desired order that has not been submitted yet. It becomes an
// Order only after the gateway confirms the submission.
type Quote struct {
	Side  Side    `json:"side"`
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderStatus mirrors the exchange's order lifecycle states that the
// engine cares about.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "New"
	OrderStatusFilled    OrderStatus = "Filled"
	OrderStatusCancelled OrderStatus = "Cancelled"
)

// OrderUpdate is a private-feed order state transition.
type OrderUpdate struct {
	OrderID string      `json:"order_id"`
	Side    Side        `json:"side"`
	Price   float64     `json:"price"`
	Size    float64     `json:"size"`
	Status  OrderStatus `json:"status"`
}

// Execution is a private-feed fill notification.
type Execution struct {
	OrderID string  `json:"order_id"`
	Side    Side    `json:"side"`
	Price   float64 `json:"price"`
	Size    float64 `json:"size"`
	Time    int64   `json:"time"`
}

// Position is a row from the position feed. Side is empty when flat;
// the inventory tracker skips such rows.
type Position struct {
	Side  Side    `json:"side"`
	Value float64 `json:"position_value"`
}

// PrivateEventType discriminates the payload carried by a PrivateEvent.
type PrivateEventType string

const (
	EventOrder        PrivateEventType = "order"
	EventExecution    PrivateEventType = "execution"
	EventPosition     PrivateEventType = "position"
	EventOrderSync    PrivateEventType = "order_sync"
	EventPositionSeed PrivateEventType = "position_seed"
)

// PrivateEvent is a normalized account message. OpenOrders is only set for
// EventOrderSync and replaces the current-order map wholesale.
type PrivateEvent struct {
	Type       PrivateEventType
	Orders     []OrderUpdate
	Executions []Execution
	Positions  []Position
	OpenOrders map[string]Order
	Timestamp  time.Time
}

// FillRecord is the flattened form of an execution handed to the recorder
// for parquet/Kafka capture.
type FillRecord struct {
	Symbol   string  `json:"symbol"`
	OrderID  string  `json:"order_id"`
	Side     string  `json:"side"`
	Price    float64 `json:"price"`
	Size     float64 `json:"size"`
	ExecTime int64   `json:"exec_time"`
	RecvTime int64   `json:"recv_time"`
}
