package model

import "time"

// Quote last price of instrument received from price stream
type Quote struct {
	Ask  uint32
	Bid  uint32
	Time time.Time
	// Received local time of receiving, used for staleness check
	Received time.Time
}

// Value bid scaled to float price
func (q *Quote) Value(scale float64) float64 {
	if scale <= 0 {
		scale = 1
	}
	return float64(q.Bid) / scale
}

// Stale quote older than maxAge
func (q *Quote) Stale(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(q.Received) > maxAge
}
