package exec

// Fill is the outcome of one order placement.
type Fill struct {
	Status    string  `json:"status"` // filled | cancelled | timeout
	FilledQty float64 `json:"filled_qty"`
	AvgPrice  float64 `json:"avg_price"`
	Fee       float64 `json:"fee"`
	IsMaker   bool    `json:"is_maker"`
}

const (
	StatusFilled    = "filled"
	StatusCancelled = "cancelled"
	StatusTimeout   = "timeout"
)

// Client places orders for one worker. Implementations record every fill to
// the trade log before returning.
type Client interface {
	MarketOrder(symbol, side string, qty, priceHint float64) (Fill, error)
	LimitOrder(symbol, side string, qty, limitPrice float64, timeoutSeconds int) (Fill, error)
}

// TradeRecorder is the slice of the store the exec clients need.
type TradeRecorder interface {
	RecordTrade(bot, symbol, side string, qty, price, fee float64, isMaker bool, ts int64) error
}
