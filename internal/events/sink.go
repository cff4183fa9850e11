// Package events delivers executed trades to the outside world: the
// structured log, Kafka, or several of those at once.
package events

import (
	"solbase-engine/internal/engine"
	"solbase-engine/pkg/utils"
)

// LogSink writes every trade to the shared logger.
type LogSink struct{}

func (LogSink) OnTrade(t engine.Trade) {
	utils.LogTrade(t.Pair, t.BuyOrderID, t.SellOrderID, t.Price, t.Amount)
}

// Fanout forwards each trade to every sink in order.
type Fanout []engine.TradeSink

func (f Fanout) OnTrade(t engine.Trade) {
	for _, s := range f {
		s.OnTrade(t)
	}
}
