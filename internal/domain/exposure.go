package domain

import "time"

// TokenExposure is the USD exposure contributed by one token in a snapshot.
type TokenExposure struct {
	Token    string  `json:"token"`
	Amount   float64 `json:"amount"`
	USDValue float64 `json:"usd_value"`
	Percent  float64 `json:"percent"`
}

// ExposureSnapshot is an immutable point-in-time exposure breakdown for one
// user. Tokens are ordered by USD value, largest first. Percentages sum to
// 100 within rounding whenever TotalUSD is nonzero, and are all zero when
// TotalUSD is zero.
type ExposureSnapshot struct {
	UserID   string          `json:"user_id"`
	TotalUSD float64         `json:"total_usd"`
	Tokens   []TokenExposure `json:"tokens"`
	TakenAt  time.Time       `json:"taken_at"`
	Elapsed  time.Duration   `json:"elapsed_ns"`
}
