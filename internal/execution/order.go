package execution

import (
	"time"

	"github.com/quanthelm/quanthelm/internal/models"
)

// OrderState is a stage in the order lifecycle. The progression is
// sizing -> slippage_estimate -> risk_check -> {vetoed | executing ->
// {filled | rejected}}; terminal states are never mutated again.
type OrderState string

const (
	OrderStateSizing           OrderState = "sizing"
	OrderStateSlippageEstimate OrderState = "slippage_estimate"
	OrderStateRiskCheck        OrderState = "risk_check"
	OrderStateVetoed           OrderState = "vetoed"
	OrderStateExecuting        OrderState = "executing"
	OrderStateFilled           OrderState = "filled"
	OrderStateRejected         OrderState = "rejected"
)

// Terminal reports whether the state ends the lifecycle.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderStateVetoed, OrderStateFilled, OrderStateRejected:
		return true
	}
	return false
}

// ExecutionOrder tracks one proposal through sizing, risk check, and
// execution. Mutable while in flight, immutable once terminal.
type ExecutionOrder struct {
	ID         string               `json:"id"`
	Proposal   models.TradeProposal `json:"proposal"`
	Symbol     string               `json:"symbol"`
	StrategyID string               `json:"strategy_id"`
	Direction  models.Direction     `json:"direction"`
	State      OrderState           `json:"state"`

	Quantity       float64 `json:"quantity"`
	EstimatedPrice float64 `json:"estimated_price"`
	SlippageBps    float64 `json:"slippage_bps"`
	RiskAmount     float64 `json:"risk_amount"`

	FillPrice float64   `json:"fill_price,omitempty"`
	FillTime  time.Time `json:"fill_time,omitempty"`

	VetoReason   string `json:"veto_reason,omitempty"`
	RejectReason string `json:"reject_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Fill is the event payload published when an order fills.
type Fill struct {
	OrderID    string           `json:"order_id"`
	StrategyID string           `json:"strategy_id"`
	Symbol     string           `json:"symbol"`
	Direction  models.Direction `json:"direction"`
	Quantity   float64          `json:"quantity"`
	Price      float64          `json:"price"`
	Timestamp  time.Time        `json:"timestamp"`
}
