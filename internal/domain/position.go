package domain

import "time"

// TradeEvent is a single swap applied to a user's position: amount_in of
// token_in leaves the position, amount_out of token_out enters it. Events for
// one user arrive already ordered from the event source.
type TradeEvent struct {
	UserID    string    `json:"user_id"`
	TokenIn   string    `json:"token_in"`
	TokenOut  string    `json:"token_out"`
	AmountIn  float64   `json:"amount_in"`
	AmountOut float64   `json:"amount_out"`
	Timestamp time.Time `json:"timestamp"`
}

// TokenBalance is a single token holding inside a user's position. A balance
// that nets to exactly zero is pruned from the position, never stored.
type TokenBalance struct {
	Token     string
	Balance   float64
	USDValue  float64
	UpdatedAt time.Time
}

// UserPosition is a point-in-time copy of one user's ledger entry. The map is
// owned by the caller; mutating it does not affect the ledger.
type UserPosition struct {
	UserID    string
	Balances  map[string]TokenBalance
	TotalPnL  float64
	UpdatedAt time.Time
}
