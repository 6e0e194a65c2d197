package alerts

import (
	"context"
	"fmt"
	"time"

	"tradebot/internal/db"
	"tradebot/internal/logger"
	"tradebot/internal/market"
)

const checkInterval = 60 * time.Second

// Notifier receives triggered alerts.
type Notifier interface {
	Notify(alert db.PriceAlert, lastPrice float64)
}

// ConsoleNotifier writes triggered alerts to the log.
type ConsoleNotifier struct{}

func (ConsoleNotifier) Notify(a db.PriceAlert, lastPrice float64) {
	logger.Success("ALERT", fmt.Sprintf("#%d %s %s %.2f triggered at %.2f", a.ID, a.Symbol, a.Condition, a.Price, lastPrice))
}

// Monitor checks active price alerts against live prices once a minute and
// fires each at most once.
type Monitor struct {
	store    *db.DB
	data     market.DataProvider
	tf       string
	notifier Notifier
}

func NewMonitor(store *db.DB, data market.DataProvider, timeframe string, notifier Notifier) *Monitor {
	if notifier == nil {
		notifier = ConsoleNotifier{}
	}
	return &Monitor{store: store, data: data, tf: timeframe, notifier: notifier}
}

// Run loops until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	logger.Info("ALERT", "Price alert monitor started")
	t := time.NewTicker(checkInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("ALERT", "Price alert monitor stopped")
			return
		case <-t.C:
			m.checkOnce()
		}
	}
}

func (m *Monitor) checkOnce() {
	active, err := m.store.ListPriceAlerts(true)
	if err != nil {
		logger.Warn("ALERT", fmt.Sprintf("list alerts: %v", err))
		return
	}
	if len(active) == 0 {
		return
	}

	prices := make(map[string]float64)
	for _, a := range active {
		price, ok := prices[a.Symbol]
		if !ok {
			bars, err := m.data.History(a.Symbol, m.tf, 1)
			if err != nil || len(bars) == 0 {
				continue
			}
			price = bars[len(bars)-1].Close
			prices[a.Symbol] = price
		}

		triggered := (a.Condition == "above" && price >= a.Price) ||
			(a.Condition == "below" && price <= a.Price)
		if !triggered {
			continue
		}
		if err := m.store.MarkAlertTriggered(a.ID); err != nil {
			logger.Warn("ALERT", fmt.Sprintf("mark triggered #%d: %v", a.ID, err))
			continue
		}
		m.notifier.Notify(a, price)
	}
}
