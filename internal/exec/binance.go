package exec

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradebot/internal/logger"
)

const binanceTestnetURL = "https://testnet.binance.vision"

// symbolFilters carries per-symbol lot and price rounding. Quantities round
// down to the step, prices to the tick.
var symbolFilters = map[string]struct {
	QtyStep   float64
	PriceTick float64
}{
	"BTC_USDT": {QtyStep: 0.00001, PriceTick: 0.01},
	"ETH_USDT": {QtyStep: 0.0001, PriceTick: 0.01},
	"SOL_USDT": {QtyStep: 0.01, PriceTick: 0.001},
}

// BinanceTestnetExec places real orders on the Binance spot testnet. Any
// network or authorization failure falls back to a paper fill for that call
// so a flaky testnet never stalls the portfolio.
type BinanceTestnetExec struct {
	bot       string
	apiKey    string
	apiSecret string
	http      *http.Client
	base      string
	pollEvery time.Duration
	paper     *PaperExec
}

func NewBinanceTestnetExec(bot, apiKey, apiSecret string, store TradeRecorder) *BinanceTestnetExec {
	return &BinanceTestnetExec{
		bot:       bot,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      &http.Client{Timeout: 15 * time.Second},
		base:      binanceTestnetURL,
		pollEvery: 2 * time.Second,
		paper:     NewPaperExec(bot, store),
	}
}

// NewBinanceTestnetExecWithBase is for tests pointing at a stub server.
func NewBinanceTestnetExecWithBase(bot, apiKey, apiSecret, base string, store TradeRecorder) *BinanceTestnetExec {
	e := NewBinanceTestnetExec(bot, apiKey, apiSecret, store)
	e.base = base
	e.pollEvery = 10 * time.Millisecond
	return e
}

func binanceSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "_", "")
}

func roundStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return math.Floor(v/step) * step
}

func formatQty(symbol string, qty float64) string {
	f, ok := symbolFilters[symbol]
	if !ok {
		return strconv.FormatFloat(qty, 'f', -1, 64)
	}
	decimals := int(math.Round(-math.Log10(f.QtyStep)))
	return strconv.FormatFloat(roundStep(qty, f.QtyStep), 'f', decimals, 64)
}

func formatPrice(symbol string, price float64) string {
	f, ok := symbolFilters[symbol]
	if !ok {
		return strconv.FormatFloat(price, 'f', 2, 64)
	}
	decimals := int(math.Round(-math.Log10(f.PriceTick)))
	return strconv.FormatFloat(roundStep(price, f.PriceTick), 'f', decimals, 64)
}

func (e *BinanceTestnetExec) sign(params url.Values) string {
	mac := hmac.New(sha256.New, []byte(e.apiSecret))
	mac.Write([]byte(params.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}

type binanceOrder struct {
	Status      string `json:"status"`
	ExecutedQty string `json:"executedQty"`
	CumQuote    string `json:"cummulativeQuoteQty"`
}

func (e *BinanceTestnetExec) call(method, path string, params url.Values) (*binanceOrder, error) {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("signature", e.sign(params))

	req, err := http.NewRequest(method, e.base+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", e.apiKey)

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance %d: %s", resp.StatusCode, string(body))
	}
	var order binanceOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("binance decode: %w", err)
	}
	return &order, nil
}

func (o *binanceOrder) fill() (qty, avgPrice float64) {
	qty, _ = strconv.ParseFloat(o.ExecutedQty, 64)
	quote, _ := strconv.ParseFloat(o.CumQuote, 64)
	if qty > 0 {
		avgPrice = quote / qty
	}
	return qty, avgPrice
}

// MarketOrder forwards a market order and records the fill as taker.
func (e *BinanceTestnetExec) MarketOrder(symbol, side string, qty, priceHint float64) (Fill, error) {
	params := url.Values{
		"symbol":           {binanceSymbol(symbol)},
		"side":             {strings.ToUpper(side)},
		"type":             {"MARKET"},
		"quantity":         {formatQty(symbol, qty)},
		"newClientOrderId": {"tb-" + uuid.NewString()},
	}
	order, err := e.call(http.MethodPost, "/api/v3/order", params)
	if err != nil {
		logger.Warn("EXEC", fmt.Sprintf("%s market order failed, paper fallback: %v", e.bot, err))
		return e.paper.MarketOrder(symbol, side, qty, priceHint)
	}

	filledQty, avgPrice := order.fill()
	if avgPrice == 0 {
		avgPrice = priceHint
	}
	fee := filledQty * avgPrice * takerFeeRate
	fill := Fill{Status: StatusFilled, FilledQty: filledQty, AvgPrice: avgPrice, Fee: fee, IsMaker: false}
	if err := e.paper.store.RecordTrade(e.bot, symbol, side, filledQty, avgPrice, fee, false, 0); err != nil {
		return Fill{}, err
	}
	return fill, nil
}

// LimitOrder places a GTC limit order and polls until filled or the timeout
// elapses, then cancels best-effort. Orders that rest before filling are
// classified maker (no fee); immediate fills pay the taker fee.
func (e *BinanceTestnetExec) LimitOrder(symbol, side string, qty, limitPrice float64, timeoutSeconds int) (Fill, error) {
	clientID := "tb-" + uuid.NewString()
	params := url.Values{
		"symbol":           {binanceSymbol(symbol)},
		"side":             {strings.ToUpper(side)},
		"type":             {"LIMIT"},
		"timeInForce":      {"GTC"},
		"quantity":         {formatQty(symbol, qty)},
		"price":            {formatPrice(symbol, limitPrice)},
		"newClientOrderId": {clientID},
	}
	order, err := e.call(http.MethodPost, "/api/v3/order", params)
	if err != nil {
		logger.Warn("EXEC", fmt.Sprintf("%s limit order failed, paper fallback: %v", e.bot, err))
		return e.paper.LimitOrder(symbol, side, qty, limitPrice, timeoutSeconds)
	}

	if order.Status == "FILLED" {
		return e.recordLimitFill(symbol, side, order, limitPrice, false)
	}

	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(e.pollEvery)
		status, err := e.call(http.MethodGet, "/api/v3/order", url.Values{
			"symbol":            {binanceSymbol(symbol)},
			"origClientOrderId": {clientID},
		})
		if err != nil {
			continue
		}
		switch status.Status {
		case "FILLED":
			return e.recordLimitFill(symbol, side, status, limitPrice, true)
		case "CANCELED", "REJECTED", "EXPIRED":
			return Fill{Status: StatusCancelled}, nil
		}
	}

	// best-effort cancel, the order may still fill in between
	if _, err := e.call(http.MethodDelete, "/api/v3/order", url.Values{
		"symbol":            {binanceSymbol(symbol)},
		"origClientOrderId": {clientID},
	}); err != nil {
		logger.Warn("EXEC", fmt.Sprintf("%s cancel failed: %v", e.bot, err))
	}
	return Fill{Status: StatusTimeout}, nil
}

func (e *BinanceTestnetExec) recordLimitFill(symbol, side string, order *binanceOrder, limitPrice float64, rested bool) (Fill, error) {
	filledQty, avgPrice := order.fill()
	if avgPrice == 0 {
		avgPrice = limitPrice
	}
	var fee float64
	if !rested {
		fee = filledQty * avgPrice * takerFeeRate
	}
	fill := Fill{Status: StatusFilled, FilledQty: filledQty, AvgPrice: avgPrice, Fee: fee, IsMaker: rested}
	if err := e.paper.store.RecordTrade(e.bot, symbol, side, filledQty, avgPrice, fee, rested, 0); err != nil {
		return Fill{}, err
	}
	return fill, nil
}
