package engine

import (
	"sync"
	"time"
)

// Decision kinds written to the in-memory log.
const (
	DecisionSignal            = "signal"
	DecisionSkipMinNotional   = "skip_min_notional"
	DecisionSkipCooldown      = "skip_cooldown"
	DecisionSkipTradingPaused = "skip_trading_paused"
	DecisionTradeExecuted     = "trade_executed"
)

// Decision is one worker step outcome, kept for observability only.
type Decision struct {
	TS        int64   `json:"ts"`
	Bot       string  `json:"bot"`
	Symbol    string  `json:"symbol"`
	Kind      string  `json:"kind"`
	Detail    string  `json:"detail,omitempty"`
	Price     float64 `json:"price,omitempty"`
	TargetExp float64 `json:"target_exp"`
}

const decisionLogSize = 100

// DecisionLog is a bounded ring of recent decisions, newest first.
type DecisionLog struct {
	mu      sync.Mutex
	entries []Decision
}

func NewDecisionLog() *DecisionLog {
	return &DecisionLog{}
}

func (l *DecisionLog) Add(d Decision) {
	if d.TS == 0 {
		d.TS = time.Now().Unix()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, d)
	if len(l.entries) > decisionLogSize {
		l.entries = l.entries[len(l.entries)-decisionLogSize:]
	}
}

// Recent returns up to decisionLogSize decisions, newest first.
func (l *DecisionLog) Recent() []Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Decision, len(l.entries))
	for i, d := range l.entries {
		out[len(l.entries)-1-i] = d
	}
	return out
}
