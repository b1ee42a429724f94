package contract

import (
	"context"

	"confluence-backtest/internal/dto"
)

// SignalNarrator turns a finalized trade signal into human-readable
// reasoning text. It is a strictly optional post-processing consumer and
// must never gate the simulation path.
type SignalNarrator interface {
	Narrate(ctx context.Context, signal *dto.TradeSignal) (string, error)
}
