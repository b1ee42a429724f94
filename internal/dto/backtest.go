package dto

import "time"

type PositionStatus string

const (
	PositionPendingEntry    PositionStatus = "PENDING_ENTRY"
	PositionOpen            PositionStatus = "OPEN"
	PositionPartiallyClosed PositionStatus = "PARTIALLY_CLOSED"
	PositionClosed          PositionStatus = "CLOSED"
)

type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitTime       ExitReason = "time_exit"
)

type TakeProfitLevel struct {
	Price  float64 `json:"price"`
	Filled bool    `json:"filled"`
}

// SimulatedPosition is mutable while open and frozen once moved to the
// closed ledger. RealizedPnL is gross of commissions; CommissionPaid is
// tracked separately.
type SimulatedPosition struct {
	ID               int                `json:"id"`
	Signal           *TradeSignal       `json:"signal"`
	Direction        Direction          `json:"direction"`
	Status           PositionStatus     `json:"status"`
	EntryPrice       float64            `json:"entry_price"`
	EntryTime        time.Time          `json:"entry_time"`
	Quantity         float64            `json:"quantity"`
	RemainingQty     float64            `json:"remaining_qty"`
	StopPrice        float64            `json:"stop_price"`
	InitialStopPrice float64            `json:"initial_stop_price"`
	TakeProfits      []TakeProfitLevel  `json:"take_profits"`
	RealizedPnL      float64            `json:"realized_pnl"`
	CommissionPaid   float64            `json:"commission_paid"`
	MaxFavorable     float64            `json:"max_favorable_excursion"`
	MaxAdverse       float64            `json:"max_adverse_excursion"`
	ExitReason       ExitReason         `json:"exit_reason,omitempty"`
	CloseTime        time.Time          `json:"close_time,omitempty"`
}

// UnrealizedPnL marks the remaining quantity to the given price.
func (p *SimulatedPosition) UnrealizedPnL(markPrice float64) float64 {
	if p.Direction == DirectionShort {
		return p.RemainingQty * (p.EntryPrice - markPrice)
	}
	return p.RemainingQty * (markPrice - p.EntryPrice)
}

// RMultiple expresses the realized P&L as a multiple of the initial risk.
func (p *SimulatedPosition) RMultiple() float64 {
	riskPerUnit := p.EntryPrice - p.InitialStopPrice
	if riskPerUnit < 0 {
		riskPerUnit = -riskPerUnit
	}
	riskAmount := riskPerUnit * p.Quantity
	if riskAmount == 0 {
		return 0
	}
	return p.RealizedPnL / riskAmount
}

type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

type DiagnosticKind string

const (
	DiagnosticDataGap         DiagnosticKind = "data_gap"
	DiagnosticSignalDiscarded DiagnosticKind = "signal_discarded"
	DiagnosticSizingError     DiagnosticKind = "sizing_error"
	DiagnosticRiskLimit       DiagnosticKind = "risk_limit"
)

// Diagnostic records a skipped step or discarded signal for auditability.
type Diagnostic struct {
	Timestamp time.Time      `json:"timestamp"`
	Kind      DiagnosticKind `json:"kind"`
	Message   string         `json:"message"`
}

// BacktestRequest defines one simulation run.
type BacktestRequest struct {
	Asset           string      `json:"asset" validate:"required"`
	Timeframes      []Timeframe `json:"timeframes" validate:"min=1"`
	HigherTimeframe Timeframe   `json:"higher_timeframe" validate:"required"`
	EntryTimeframe  Timeframe   `json:"entry_timeframe" validate:"required"`
	StartTime       time.Time   `json:"start_time" validate:"required"`
	EndTime         time.Time   `json:"end_time" validate:"required,gtfield=StartTime"`
	CandleSource    string      `json:"candle_source,omitempty"`
	// Overrides; zero values fall back to the configured defaults.
	InitialEquity        float64   `json:"initial_equity,omitempty"`
	RiskPerTradePct      float64   `json:"risk_per_trade_pct,omitempty"`
	TakeProfitRMultiples []float64 `json:"take_profit_r_multiples,omitempty"`
}

// BacktestState is the single-run mutable aggregate. It is never shared
// across concurrent runs.
type BacktestState struct {
	Cash             float64
	OpenPositions    map[int]*SimulatedPosition
	ClosedPositions  []*SimulatedPosition
	EquityCurve      []EquityPoint
	PeakEquity       float64
	CurrentDrawdown  float64
	MaxDrawdown      float64
	DailyRealizedPnL map[string]float64
	DailyTradeCount  map[string]int
	DayStartEquity   map[string]float64
	Diagnostics      []Diagnostic

	nextPositionID int
}

func NewBacktestState(initialEquity float64) *BacktestState {
	return &BacktestState{
		Cash:             initialEquity,
		OpenPositions:    make(map[int]*SimulatedPosition),
		PeakEquity:       initialEquity,
		DailyRealizedPnL: make(map[string]float64),
		DailyTradeCount:  make(map[string]int),
		DayStartEquity:   make(map[string]float64),
		nextPositionID:   1,
	}
}

// NextPositionID hands out sequential ids so reruns stay deterministic.
func (s *BacktestState) NextPositionID() int {
	id := s.nextPositionID
	s.nextPositionID++
	return id
}

// Equity marks all open positions to the given price.
func (s *BacktestState) Equity(markPrice float64) float64 {
	equity := s.Cash
	for _, pos := range s.OpenPositions {
		equity += pos.RemainingQty*pos.EntryPrice + pos.UnrealizedPnL(markPrice)
	}
	return equity
}

// AppendEquity records an equity point and updates peak and drawdown.
func (s *BacktestState) AppendEquity(ts time.Time, equity float64) {
	s.EquityCurve = append(s.EquityCurve, EquityPoint{Timestamp: ts, Equity: equity})
	if equity > s.PeakEquity {
		s.PeakEquity = equity
	}
	if s.PeakEquity > 0 {
		s.CurrentDrawdown = (s.PeakEquity - equity) / s.PeakEquity
		if s.CurrentDrawdown > s.MaxDrawdown {
			s.MaxDrawdown = s.CurrentDrawdown
		}
	}
}

func (s *BacktestState) AddDiagnostic(ts time.Time, kind DiagnosticKind, message string) {
	s.Diagnostics = append(s.Diagnostics, Diagnostic{Timestamp: ts, Kind: kind, Message: message})
}

// BacktestStats is the summary reduction over the closed ledger and curve.
type BacktestStats struct {
	TotalTrades          int      `json:"total_trades"`
	WinningTrades        int      `json:"winning_trades"`
	LosingTrades         int      `json:"losing_trades"`
	WinRate              float64  `json:"win_rate"`
	GrossProfit          float64  `json:"gross_profit"`
	GrossLoss            float64  `json:"gross_loss"`
	ProfitFactor         *float64 `json:"profit_factor"`
	SharpeRatio          float64  `json:"sharpe_ratio"`
	SortinoRatio         float64  `json:"sortino_ratio"`
	MaxDrawdown          float64  `json:"max_drawdown"`
	AvgRMultiple         float64  `json:"avg_r_multiple"`
	BestRMultiple        float64  `json:"best_r_multiple"`
	WorstRMultiple       float64  `json:"worst_r_multiple"`
	Expectancy           float64  `json:"expectancy"`
	MaxConsecutiveWins   int      `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int      `json:"max_consecutive_losses"`
	TotalCommission      float64  `json:"total_commission"`
}

// BacktestResult is the sole artifact handed to downstream reporting.
type BacktestResult struct {
	Asset           string               `json:"asset"`
	StartTime       time.Time            `json:"start_time"`
	EndTime         time.Time            `json:"end_time"`
	InitialEquity   float64              `json:"initial_equity"`
	FinalEquity     float64              `json:"final_equity"`
	TotalReturnPct  float64              `json:"total_return_pct"`
	EquityCurve     []EquityPoint        `json:"equity_curve"`
	ClosedPositions []*SimulatedPosition `json:"closed_positions"`
	Stats           *BacktestStats       `json:"stats"`
	Diagnostics     []Diagnostic         `json:"diagnostics,omitempty"`
	Cancelled       bool                 `json:"cancelled,omitempty"`
}
