package reports

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/mrdjehknhc/axtest/internal/events"
	"github.com/mrdjehknhc/axtest/internal/model"
)

// RecordedTypes events that produce journal rows
var RecordedTypes = []events.Type{events.PositionOpened, events.PositionClosed, events.TakeProfit}

// Recorder writes position lifecycle events to journal
type Recorder struct {
	Journal *Journal
}

// NewRecorder Constructor
func NewRecorder(journal *Journal) *Recorder {
	return &Recorder{Journal: journal}
}

// Listen G record events until ctx done or channel closed
func (r *Recorder) Listen(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			rec, ok := TradeFromEvent(e)
			if !ok {
				continue
			}
			if err := r.Journal.Record(ctx, rec); err != nil {
				log.WithError(err).WithField("event", e.ID).Error("reports / Recorder / record")
			}
		}
	}
}

// TradeFromEvent journal row of event, false for events that aren't trades
func TradeFromEvent(e events.Event) (model.TradeRecord, bool) {
	rec := model.TradeRecord{
		ID:              e.ID,
		UserID:          e.UserID,
		PositionID:      e.PositionID,
		ContractAddress: e.Contract,
		AmountSOL:       e.AmountSOL,
		TokenAmount:     e.Tokens,
		Price:           e.Price,
		PnLPercent:      e.PnL,
		PnLSOL:          e.PnLSOL,
		Time:            e.At,
		Details:         e.Reason,
	}
	switch e.Type {
	case events.PositionOpened:
		rec.Action = model.ActionOpen
		rec.PnLPercent, rec.PnLSOL = 0, 0
		rec.Details = e.Message
	case events.TakeProfit:
		rec.Action = model.ActionTP
		rec.Details = fmt.Sprintf("rung %d level %gx volume %g%%", e.Rung, e.Level, e.Volume)
	case events.PositionClosed:
		switch {
		case e.Reason == events.ReasonSL:
			rec.Action = model.ActionSL
		case e.Reason == events.ReasonPanic:
			rec.Action = model.ActionPanic
		case e.Reason == events.ReasonTP || e.Reason == events.ReasonEmpty:
			// profit of last rung is in its tp row
			rec.Action = model.ActionClose
			rec.PnLSOL = 0
		case e.Volume > 0 && e.Volume < 100:
			rec.Action = model.ActionPartial
		default:
			rec.Action = model.ActionClose
		}
	default:
		return model.TradeRecord{}, false
	}
	return rec, true
}
