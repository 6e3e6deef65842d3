package priceStorage

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Kamieshi/price_service/protoc"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/mrdjehknhc/axtest/internal/model"
)

const (
	streamTimeLayout     = "2006-01-02T15:04:05.000TZ-07:00"
	reconnectDelay       = time.Second
	maxReconnectDelay    = 30 * time.Second
	defaultStreamScale   = 1e9
	defaultStreamMaxTime = 2 * time.Minute
)

// PriceStore latest quotes received from price service stream
type PriceStore struct {
	sync.RWMutex
	PricesStream protoc.OwnPriceStreamClient
	Quotes       map[string]*model.Quote
	Scale        float64
	MaxAge       time.Duration
	connected    atomic.Bool
	active       atomic.Bool
	now          func() time.Time
}

// NewPriceStore Constructor
func NewPriceStore(grpcStreamResponse protoc.OwnPriceStreamClient, scale float64, maxAge time.Duration) *PriceStore {
	if scale <= 0 {
		scale = defaultStreamScale
	}
	if maxAge <= 0 {
		maxAge = defaultStreamMaxTime
	}
	store := &PriceStore{
		PricesStream: grpcStreamResponse,
		Quotes:       make(map[string]*model.Quote),
		Scale:        scale,
		MaxAge:       maxAge,
		now:          time.Now,
	}
	store.active.Store(true)
	return store
}

// Price last not stale bid of instrument
func (p *PriceStore) Price(_ context.Context, contract string) (float64, bool) {
	p.RLock()
	quote, exist := p.Quotes[contract]
	p.RUnlock()
	if !exist {
		return 0, false
	}
	if quote.Stale(p.now(), p.MaxAge) {
		logrus.WithField("contract", contract).Debug("price store / Price / stale quote")
		return 0, false
	}
	return validPrice(quote.Value(p.Scale))
}

// SetQuote Set New or Update instrument last quote
func (p *PriceStore) SetQuote(contract string, quote *model.Quote) {
	if quote.Received.IsZero() {
		quote.Received = p.now()
	}
	p.Lock()
	if _, exist := p.Quotes[contract]; !exist {
		logrus.WithField("contract", contract).Info("price store / new instrument")
	}
	p.Quotes[contract] = quote
	p.Unlock()
}

// ListenStream G keep quotes in actual state with price service stream, reconnect on errors
func (p *PriceStore) ListenStream(ctx context.Context) error {
	delay := reconnectDelay
	for {
		err := p.listenOnce(ctx)
		p.connected.Store(false)
		if ctx.Err() != nil {
			logrus.Info("price store / ListenStream / done")
			return nil
		}
		logrus.WithError(err).Warnf("price store / ListenStream / reconnect in %v", delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if delay *= 2; delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (p *PriceStore) listenOnce(ctx context.Context) error {
	stream, err := p.PricesStream.GetPriceStream(ctx, &protoc.GetPriceStreamRequest{})
	if err != nil {
		return fmt.Errorf("price store / listenOnce / open stream : %v", err)
	}
	p.connected.Store(true)
	for {
		data, err := stream.Recv()
		if err != nil {
			return fmt.Errorf("price store / listenOnce / stream.Recv() : %v", err)
		}
		if data.Company == nil {
			continue
		}
		p.SetQuote(data.Company.ID, quoteFromStream(data.Ask, data.Bid, data.Time))
	}
}

func quoteFromStream(ask, bid uint32, at string) *model.Quote {
	tt, err := time.Parse(streamTimeLayout, at)
	if err != nil {
		logrus.WithError(err).Debug("price store / parse time")
	}
	return &model.Quote{Ask: ask, Bid: bid, Time: tt}
}

// Open mark session active
func (p *PriceStore) Open() {
	p.active.Store(true)
}

// Active stream is connected and session is open
func (p *PriceStore) Active() bool {
	return p.connected.Load() && p.active.Load()
}

// Close mark session inactive, stream keeps quotes fresh for manual commands
func (p *PriceStore) Close() error {
	p.active.Store(false)
	return nil
}
