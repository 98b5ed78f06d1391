package dashboard

import (
	"time"

	"tradebridge/pkg/types"
)

// Event wraps every push sent to connected dashboard clients.
type Event struct {
	Type      string      `json:"type"` // "snapshot", "fill", "response", "reject"
	Timestamp time.Time   `json:"timestamp"`
	TickerID  types.TickerId `json:"ticker_id,omitempty"`
	Data      interface{} `json:"data"`
}

// ResponseEvent mirrors a ClientResponse the gateway emitted, for the
// activity feed.
type ResponseEvent struct {
	Type         string         `json:"type"`
	ClientID     int64          `json:"client_id"`
	OrderID      int64          `json:"order_id"`
	TickerID     types.TickerId `json:"ticker_id"`
	Side         string         `json:"side"`
	Price        types.Price    `json:"price"`
	ExecQty      types.Qty      `json:"exec_qty,omitempty"`
	LeavesQty    types.Qty      `json:"leaves_qty,omitempty"`
	RejectReason string         `json:"reject_reason,omitempty"`
}

// NewResponseEvent projects a ClientResponse into its dashboard-facing form.
func NewResponseEvent(resp types.ClientResponse) ResponseEvent {
	return ResponseEvent{
		Type:         string(resp.Type),
		ClientID:     resp.ClientID,
		OrderID:      resp.OrderID,
		TickerID:     resp.TickerID,
		Side:         string(resp.Side),
		Price:        resp.Price,
		ExecQty:      resp.ExecQty,
		LeavesQty:    resp.LeavesQty,
		RejectReason: string(resp.RejectReason),
	}
}
