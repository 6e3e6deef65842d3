// Package events typed position lifecycle events and in process bus
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mrdjehknhc/axtest/internal/metrics"
)

// Type of event
type Type string

const (
	PositionOpened Type = "position_opened"
	PositionClosed Type = "position_closed"
	StopLoss       Type = "stop_loss"
	TakeProfit     Type = "take_profit"
	Breakeven      Type = "breakeven"
	Error          Type = "error"
)

// Close reasons
const (
	ReasonManual = "manual"
	ReasonPanic  = "panic"
	ReasonSL     = "sl"
	ReasonTP     = "tp"
	ReasonEmpty  = "no_tokens"
)

// Event emitted on position lifecycle changes
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	UserID     string    `json:"user_id"`
	PositionID string    `json:"position_id,omitempty"`
	Contract   string    `json:"contract,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Rung       int       `json:"rung,omitempty"`
	Level      float64   `json:"level,omitempty"`
	Volume     float64   `json:"volume_percent,omitempty"`
	PnL        float64   `json:"pnl"`
	PnLSOL     float64   `json:"pnl_sol"`
	AmountSOL  float64   `json:"amount_sol,omitempty"`
	Tokens     float64   `json:"tokens,omitempty"`
	Price      float64   `json:"price,omitempty"`
	Context    string    `json:"context,omitempty"`
	Message    string    `json:"message,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher sink of events
type Publisher interface {
	Publish(e Event)
}

type subscriber struct {
	ch    chan Event
	types map[Type]bool
}

// Bus pub/sub of events. Publish never blocks, events for slow subscribers are dropped
type Bus struct {
	mu   sync.RWMutex
	subs []*subscriber
}

// NewBus Constructor
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe listener of given types, all types when none. Returns channel and unsubscribe func
func (b *Bus) Subscribe(buffer int, types ...Type) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s == sub {
					close(s.ch)
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					break
				}
			}
		})
	}
	return sub.ch, unsub
}

// Publish fan out event to subscribers
func (b *Bus) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	metrics.EventPublished(string(e.Type))
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.types != nil && !s.types[e.Type] {
			continue
		}
		select {
		case s.ch <- e:
		default:
			metrics.EventDropped()
		}
	}
}

// Discard publisher dropping all events
type Discard struct{}

// Publish nothing
func (Discard) Publish(Event) {}
