// REST API CLIENT FOR PHEMEX USDT-M FUTURES
// RESTY ONLY + INTERNAL RETRY
package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
)

// -----------------------------
// API RESPONSE WRAPPER
// -----------------------------
type APIResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// -----------------------------
// WIRE STRUCTURES
// -----------------------------
type gProduct struct {
	Symbol          string `json:"symbol"`
	QtyStepSize     string `json:"qtyStepSize"`
	TickSize        string `json:"tickSize"`
	MaxLeverage     int    `json:"maxLeverage"`
	MinOrderValueRv string `json:"minOrderValueRv"`
	Status          string `json:"status"`
}

type gProductsData struct {
	PerpProductsV2 []gProduct `json:"perpProductsV2"`
}

type gAccountPositions struct {
	Account struct {
		UserID           int64  `json:"userID"`
		AccountID        int64  `json:"accountId"`
		Currency         string `json:"currency"`
		AccountBalanceRv string `json:"accountBalanceRv"`
	} `json:"account"`

	Positions []struct {
		Symbol          string `json:"symbol"`
		Side            string `json:"side"`
		PosSide         string `json:"posSide"`
		SizeRq          string `json:"sizeRq"`
		AvgEntryPriceRp string `json:"avgEntryPriceRp"`
		MarkPriceRp     string `json:"markPriceRp"`
		LeverageRr      string `json:"leverageRr"`
	} `json:"positions"`
}

type gOrderResponse struct {
	OrderID    string `json:"orderID"`
	ClOrdID    string `json:"clOrdID"`
	OrdStatus  string `json:"ordStatus"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	PriceRp    string `json:"priceRp"`
	OrderQtyRq string `json:"orderQtyRq"`
	CumQtyRq   string `json:"cumQtyRq"`
	AvgPriceRp string `json:"avgPriceRp"`
}

type gActiveOrder struct {
	OrderID    string `json:"orderID"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	PriceRp    string `json:"priceRp"`
	OrderQtyRq string `json:"orderQtyRq"`
	OrdStatus  string `json:"ordStatus"`
	ReduceOnly bool   `json:"reduceOnly"`
}

type gFill struct {
	OrderID        string `json:"orderID"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	ExecPriceRp    string `json:"execPriceRp"`
	ExecQtyRq      string `json:"execQtyRq"`
	TransactTimeNs int64  `json:"transactTimeNs"`
}

type riskUnit struct {
	Symbol                string  `json:"symbol"`
	TotalEquityRv         float64 `json:"totalEquityRv"`
	EstAvailableBalanceRv float64 `json:"estAvailableBalanceRv"`
	TotalPosCostRv        float64 `json:"totalPosCostRv"`
	TotalOrdUsedBalanceRv float64 `json:"totalOrdUsedBalanceRv"`
	FixedUsedRv           float64 `json:"fixedUsedRv"`
}

// -----------------------------
// AUTHENTICATED CLIENT
// -----------------------------

// PhemexClient is the USDT-M futures gateway for one account. It holds
// decrypted credentials in memory only, for its own lifetime.
type PhemexClient struct {
	apiKey        string
	apiSecret     string
	baseURL       string
	wsURL         string
	http          *resty.Client
	cfg           Config
	instrumentTTL time.Duration
	now           func() time.Time

	cacheMu     sync.RWMutex
	instruments map[string]*Instrument
	prices      map[string]pricePoint
}

type pricePoint struct {
	price     float64
	fetchedAt time.Time
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}

	code := r.StatusCode()

	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	return false
}

// retryAfterHint honors the server-supplied backoff on rate limits.
func retryAfterHint(c *resty.Client, r *resty.Response) (time.Duration, error) {
	if r != nil && r.StatusCode() == 429 {
		if hint := r.Header().Get("Retry-After"); hint != "" {
			if secs, err := strconv.Atoi(hint); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second, nil
			}
		}
	}
	return 0, nil
}

func NewPhemexClient(apiKey, apiSecret string, cfg Config) *PhemexClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://testnet-api.phemex.com"
		logger.Warnf("No base URL provided, using default: %s", baseURL)
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(1).
		SetRetryAfter(retryAfterHint).
		AddRetryCondition(isRetryableResp)

	// Without a live stream the metadata cache can hold much longer.
	instrumentTTL := cfg.InstrumentTTL
	if cfg.WsURL == "" && cfg.InstrumentTTLRestOnly > 0 {
		instrumentTTL = cfg.InstrumentTTLRestOnly
	}

	return &PhemexClient{
		apiKey:        apiKey,
		apiSecret:     apiSecret,
		baseURL:       baseURL,
		wsURL:         cfg.WsURL,
		http:          httpClient,
		cfg:           cfg,
		instrumentTTL: instrumentTTL,
		now:           time.Now,
		instruments:   make(map[string]*Instrument),
		prices:        make(map[string]pricePoint),
	}
}

func signRequest(path, query, body string, expiry int64, secret string) string {
	base := path
	if query != "" {
		base += query
	}
	base += fmt.Sprintf("%d", expiry)
	if body != "" {
		base += body
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *PhemexClient) doRequest(ctx context.Context, method, path, query string, body []byte) (*APIResponse, error) {
	expiry := c.now().Add(1 * time.Minute).Unix()

	sig := signRequest(path, query, string(body), expiry, c.apiSecret)

	req := c.http.R().
		SetContext(ctx).
		SetHeader("x-phemex-access-token", c.apiKey).
		SetHeader("x-phemex-request-expiry", fmt.Sprintf("%d", expiry)).
		SetHeader("x-phemex-request-signature", sig)

	if query != "" {
		req = req.SetQueryString(query)
	}
	if body != nil {
		req = req.SetBody(body).SetHeader("Content-Type", "application/json")
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, err
	}

	raw := resp.Body()

	if resp.StatusCode() == 429 {
		return nil, fmt.Errorf("%w: HTTP 429: %s", ErrRateLimited, string(raw))
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode(), string(raw))
	}

	var apiResp APIResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, err
	}

	if apiResp.Code != 0 {
		return nil, classifyBizError(apiResp.Code, apiResp.Msg)
	}

	return &apiResp, nil
}

// -----------------------------
// INSTRUMENT METADATA (TTL CACHE)
// -----------------------------

// GetInstrument resolves contract metadata from the in-memory cache,
// refreshing the whole product table on miss or expiry. Refresh is
// lazy: whichever caller first observes expiry pays for the refetch,
// last write wins.
func (c *PhemexClient) GetInstrument(ctx context.Context, symbol string) (*Instrument, error) {
	c.cacheMu.RLock()
	inst, ok := c.instruments[symbol]
	c.cacheMu.RUnlock()

	if ok && c.now().Sub(inst.FetchedAt) < c.instrumentTTL {
		if inst.Delisted {
			return nil, fmt.Errorf("%w: %s is delisted", ErrNotFound, symbol)
		}
		return inst, nil
	}

	if err := c.refreshInstruments(ctx); err != nil {
		// Serve a stale entry over a hard failure; metadata is
		// externally authoritative and changes rarely.
		if ok {
			logger.WithError(err).WithField("symbol", symbol).
				Warn("instrument refresh failed, serving stale metadata")
			return inst, nil
		}
		return nil, err
	}

	c.cacheMu.RLock()
	inst, ok = c.instruments[symbol]
	c.cacheMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}
	if inst.Delisted {
		return nil, fmt.Errorf("%w: %s is delisted", ErrNotFound, symbol)
	}
	return inst, nil
}

func (c *PhemexClient) refreshInstruments(ctx context.Context) error {
	resp, err := c.doRequest(ctx, "GET", "/public/products", "", nil)
	if err != nil {
		return fmt.Errorf("fetch products failed: %w", err)
	}

	var data gProductsData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return err
	}

	fetchedAt := c.now()

	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	for _, p := range data.PerpProductsV2 {
		step, _ := strconv.ParseFloat(p.QtyStepSize, 64)
		tick, _ := strconv.ParseFloat(p.TickSize, 64)
		minNotional, _ := strconv.ParseFloat(p.MinOrderValueRv, 64)
		if minNotional <= 0 {
			minNotional = 1 // venue floor for USDT-M contracts
		}

		c.instruments[p.Symbol] = &Instrument{
			Symbol:      p.Symbol,
			QtyStepSize: step,
			TickSize:    tick,
			MaxLeverage: p.MaxLeverage,
			MinNotional: minNotional,
			Delisted:    strings.EqualFold(p.Status, "Delisted"),
			FetchedAt:   fetchedAt,
		}
	}

	logger.WithField("count", len(data.PerpProductsV2)).Debug("instrument cache refreshed")
	return nil
}

// -----------------------------
// MARKET DATA
// -----------------------------

// GetPrice resolves the cached last price for a symbol. It fails
// loudly rather than silently substituting another price, so callers
// can distinguish "no liquidity" from "bad symbol".
func (c *PhemexClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	c.cacheMu.RLock()
	pt, ok := c.prices[symbol]
	c.cacheMu.RUnlock()

	if ok && c.now().Sub(pt.fetchedAt) < c.cfg.PriceTTL {
		return pt.price, nil
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		Get("/md/v3/ticker/24hr")
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, symbol, err)
	}
	if resp.StatusCode() != 200 {
		return 0, fmt.Errorf("%w: %s: HTTP %d", ErrPriceUnavailable, symbol, resp.StatusCode())
	}

	var md struct {
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Result struct {
			LastRp string `json:"lastRp"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp.Body(), &md); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, symbol, err)
	}
	if md.Error != nil {
		return 0, fmt.Errorf("%w: %s: %s", ErrPriceUnavailable, symbol, md.Error.Message)
	}

	price, err := strconv.ParseFloat(md.Result.LastRp, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("%w: invalid last price for %s", ErrPriceUnavailable, symbol)
	}

	c.setPrice(symbol, price)
	return price, nil
}

func (c *PhemexClient) setPrice(symbol string, price float64) {
	c.cacheMu.Lock()
	c.prices[symbol] = pricePoint{price: price, fetchedAt: c.now()}
	c.cacheMu.Unlock()
}

// -----------------------------
// ACCOUNT & POSITION METHODS
// -----------------------------

func (c *PhemexClient) getPositionsUSDT(ctx context.Context) (*gAccountPositions, error) {
	resp, err := c.doRequest(ctx, "GET", "/g-accounts/positions", "currency=USDT", nil)
	if err != nil {
		return nil, err
	}

	var parsed gAccountPositions
	return &parsed, json.Unmarshal(resp.Data, &parsed)
}

// GetAvailableBalance returns the USDT balance available for new
// positions, from the account's risk unit for the given symbol.
func (c *PhemexClient) GetAvailableBalance(ctx context.Context, symbol string) (float64, error) {
	resp, err := c.doRequest(ctx, "GET", "/g-accounts/risk-unit", "", nil)
	if err != nil {
		return 0, err
	}

	var units []riskUnit
	if err := json.Unmarshal(resp.Data, &units); err != nil {
		return 0, err
	}

	for _, u := range units {
		if u.Symbol != symbol {
			continue
		}
		if u.EstAvailableBalanceRv > 0 {
			return u.EstAvailableBalanceRv, nil
		}
		available := u.TotalEquityRv -
			u.TotalPosCostRv -
			u.TotalOrdUsedBalanceRv -
			u.FixedUsedRv

		if available < 0 {
			return 0, nil
		}
		return available, nil
	}

	// No risk unit yet for this symbol: fall back to the account
	// balance, which is what a fresh account has available.
	positions, err := c.getPositionsUSDT(ctx)
	if err != nil {
		return 0, err
	}
	balance, err := strconv.ParseFloat(positions.Account.AccountBalanceRv, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid account balance: %w", err)
	}
	return balance, nil
}

func (c *PhemexClient) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	positions, err := c.getPositionsUSDT(ctx)
	if err != nil {
		return nil, err
	}

	for _, p := range positions.Positions {
		if p.Symbol != symbol {
			continue
		}
		size, _ := strconv.ParseFloat(p.SizeRq, 64)
		if size == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.AvgEntryPriceRp, 64)
		mark, _ := strconv.ParseFloat(p.MarkPriceRp, 64)
		leverage, _ := strconv.ParseFloat(p.LeverageRr, 64)

		return &Position{
			Symbol:     p.Symbol,
			Side:       p.Side,
			Size:       size,
			EntryPrice: entry,
			MarkPrice:  mark,
			Leverage:   int(leverage),
		}, nil
	}

	return nil, nil
}

// GetFormattedPositions returns display-ready snapshots with derived
// direction and leveraged PnL%.
func (c *PhemexClient) GetFormattedPositions(ctx context.Context) ([]PositionView, error) {
	positions, err := c.getPositionsUSDT(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]PositionView, 0, len(positions.Positions))
	for _, p := range positions.Positions {
		size, _ := strconv.ParseFloat(p.SizeRq, 64)
		if size == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.AvgEntryPriceRp, 64)
		mark, _ := strconv.ParseFloat(p.MarkPriceRp, 64)
		leverage, _ := strconv.ParseFloat(p.LeverageRr, 64)

		direction := "LONG"
		sign := 1.0
		if p.Side == "Sell" {
			direction = "SHORT"
			sign = -1.0
		}

		pnlPct := 0.0
		if entry > 0 {
			pnlPct = (mark - entry) / entry * 100 * sign * leverage
		}

		views = append(views, PositionView{
			Symbol:       p.Symbol,
			Direction:    direction,
			Size:         size,
			EntryPrice:   entry,
			CurrentPrice: mark,
			Leverage:     int(leverage),
			PnlPercent:   pnlPct,
		})
	}

	return views, nil
}

// -----------------------------
// LEVERAGE
// -----------------------------

// SetLeverage clamps the requested leverage to the instrument maximum
// and applies it. Requests above the cap are clamped and logged, never
// rejected.
func (c *PhemexClient) SetLeverage(ctx context.Context, symbol string, requested int) (int, error) {
	if requested < 1 {
		requested = 1
	}

	actual := requested
	inst, err := c.GetInstrument(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if inst.MaxLeverage > 0 && actual > inst.MaxLeverage {
		logger.WithFields(map[string]interface{}{
			"symbol":    symbol,
			"requested": requested,
			"max":       inst.MaxLeverage,
		}).Warn("requested leverage above instrument max, clamping")
		actual = inst.MaxLeverage
	}

	query := fmt.Sprintf("symbol=%s&leverageRr=%d", symbol, actual)
	if _, err := c.doRequest(ctx, "PUT", "/g-positions/leverage", query, nil); err != nil {
		return 0, fmt.Errorf("set leverage failed: %w", err)
	}

	return actual, nil
}

// -----------------------------
// TRADING METHODS
// -----------------------------

// PlaceOrder rounds quantity down to the step size and price to the
// tick size before transmission; the venue rejects violations, so the
// rounding is mandatory, not cosmetic. Market-style entries (nil
// price) are sent as IOC limit orders offset by the slippage band in
// the order's favor, ensuring execution without unbounded slippage.
func (c *PhemexClient) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	inst, err := c.GetInstrument(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	qty := FloorToStep(req.Quantity, inst.QtyStepSize)
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity %v below step %v", ErrValidation, req.Quantity, inst.QtyStepSize)
	}

	tif := req.TimeInForce
	var price float64
	if req.Price != nil {
		price = RoundToTickSize(*req.Price, inst.TickSize)
	} else {
		last, err := c.GetPrice(ctx, req.Symbol)
		if err != nil {
			return nil, err
		}
		if req.Side == "Buy" {
			price = RoundToTickSize(last*(1+c.cfg.SlippageBand), inst.TickSize)
		} else {
			price = RoundToTickSize(last*(1-c.cfg.SlippageBand), inst.TickSize)
		}
		if tif == "" {
			tif = "ImmediateOrCancel"
		}
	}
	if tif == "" {
		tif = "GoodTillCancel"
	}

	clOrdID := fmt.Sprintf("pe-%s", uuid.NewString())
	body := map[string]interface{}{
		"symbol":      req.Symbol,
		"side":        req.Side,
		"posSide":     "Merged",
		"ordType":     "Limit",
		"priceRp":     formatFloat(price),
		"orderQtyRq":  formatFloat(qty),
		"reduceOnly":  req.ReduceOnly,
		"clOrdID":     clOrdID,
		"timeInForce": tif,
	}

	b, _ := json.Marshal(body)
	resp, err := c.doRequest(ctx, "POST", "/g-orders", "", b)
	if err != nil {
		return nil, err
	}

	return parseOrderResult(resp.Data, clOrdID)
}

// PlaceTriggerOrder places a stop/conditional order that rests dormant
// until the mark price crosses the trigger, then executes as a market
// order.
func (c *PhemexClient) PlaceTriggerOrder(ctx context.Context, req TriggerOrderRequest) (*OrderResult, error) {
	inst, err := c.GetInstrument(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	qty := FloorToStep(req.Quantity, inst.QtyStepSize)
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity %v below step %v", ErrValidation, req.Quantity, inst.QtyStepSize)
	}
	trigger := RoundToTickSize(req.TriggerPrice, inst.TickSize)

	clOrdID := fmt.Sprintf("pe-%s", uuid.NewString())
	body := map[string]interface{}{
		"symbol":      req.Symbol,
		"side":        req.Side,
		"posSide":     "Merged",
		"ordType":     "Stop",
		"stopPxRp":    formatFloat(trigger),
		"triggerType": "ByMarkPrice",
		"orderQtyRq":  formatFloat(qty),
		"reduceOnly":  req.ReduceOnly,
		"clOrdID":     clOrdID,
		"timeInForce": "GoodTillCancel",
	}

	b, _ := json.Marshal(body)
	resp, err := c.doRequest(ctx, "POST", "/g-orders", "", b)
	if err != nil {
		return nil, err
	}

	return parseOrderResult(resp.Data, clOrdID)
}

func parseOrderResult(data json.RawMessage, clOrdID string) (*OrderResult, error) {
	var ord gOrderResponse
	if err := json.Unmarshal(data, &ord); err != nil {
		return nil, err
	}

	avg, _ := strconv.ParseFloat(ord.AvgPriceRp, 64)
	filled, _ := strconv.ParseFloat(ord.CumQtyRq, 64)

	result := &OrderResult{
		OrderID:   ord.OrderID,
		ClOrdID:   ord.ClOrdID,
		Status:    ord.OrdStatus,
		AvgPrice:  avg,
		FilledQty: filled,
	}
	if result.ClOrdID == "" {
		result.ClOrdID = clOrdID
	}
	if result.Status == "" {
		result.Status = OrderStatusNew
	}
	return result, nil
}

func (c *PhemexClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	query := fmt.Sprintf("symbol=%s&orderID=%s", symbol, orderID)
	_, err := c.doRequest(ctx, "DELETE", "/g-orders/cancel", query, nil)
	return err
}

func (c *PhemexClient) cancelAll(ctx context.Context, symbol string) error {
	_, err := c.doRequest(ctx, "DELETE", "/g-orders/all", fmt.Sprintf("symbol=%s", symbol), nil)
	return err
}

// -----------------------------
// ORDER & FILL QUERY METHODS
// -----------------------------

func (c *PhemexClient) GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	resp, err := c.doRequest(ctx, "GET", "/g-orders/activeList", fmt.Sprintf("symbol=%s", symbol), nil)
	if err != nil {
		return nil, err
	}

	var data struct {
		Rows []gActiveOrder `json:"rows"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, err
	}

	orders := make([]OpenOrder, 0, len(data.Rows))
	for _, row := range data.Rows {
		price, _ := strconv.ParseFloat(row.PriceRp, 64)
		qty, _ := strconv.ParseFloat(row.OrderQtyRq, 64)
		orders = append(orders, OpenOrder{
			OrderID:    row.OrderID,
			Symbol:     row.Symbol,
			Side:       row.Side,
			Price:      price,
			Quantity:   qty,
			Status:     row.OrdStatus,
			ReduceOnly: row.ReduceOnly,
		})
	}
	return orders, nil
}

// GetFills returns the account's executions for a symbol after the
// given time, oldest first.
func (c *PhemexClient) GetFills(ctx context.Context, symbol string, since time.Time) ([]Fill, error) {
	resp, err := c.doRequest(ctx, "GET", "/g-trades/fills", fmt.Sprintf("symbol=%s", symbol), nil)
	if err != nil {
		return nil, err
	}

	var data struct {
		Rows []gFill `json:"rows"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, err
	}

	fills := make([]Fill, 0, len(data.Rows))
	for _, row := range data.Rows {
		ts := time.Unix(0, row.TransactTimeNs)
		if !since.IsZero() && !ts.After(since) {
			continue
		}
		price, _ := strconv.ParseFloat(row.ExecPriceRp, 64)
		qty, _ := strconv.ParseFloat(row.ExecQtyRq, 64)
		fills = append(fills, Fill{
			OrderID:   row.OrderID,
			Symbol:    row.Symbol,
			Side:      row.Side,
			Price:     price,
			Quantity:  qty,
			Timestamp: ts,
		})
	}

	// The venue interleaves pages and per-order groups, so the rows are
	// not reliably monotonic. Callers depend on oldest-first order.
	sort.Slice(fills, func(i, j int) bool {
		return fills[i].Timestamp.Before(fills[j].Timestamp)
	})
	return fills, nil
}

// -----------------------------
// POSITION CLOSE
// -----------------------------

// ClosePosition cancels resting orders for the symbol first, then
// submits a reduce-only market order for the full remaining size.
func (c *PhemexClient) ClosePosition(ctx context.Context, symbol string) error {
	logger.WithField("symbol", symbol).Info("closing position")

	if err := c.cancelAll(ctx, symbol); err != nil {
		logger.WithError(err).WithField("symbol", symbol).
			Warn("failed to cancel resting orders before close")
	}

	pos, err := c.GetPosition(ctx, symbol)
	if err != nil {
		return fmt.Errorf("get position failed: %w", err)
	}
	if pos == nil {
		logger.WithField("symbol", symbol).Info("no open position to close")
		return nil
	}

	closeSide := "Sell"
	if pos.Side == "Sell" {
		closeSide = "Buy"
	}

	_, err = c.PlaceOrder(ctx, OrderRequest{
		Symbol:     symbol,
		Side:       closeSide,
		Quantity:   pos.Size,
		ReduceOnly: true,
	})
	if err != nil {
		return fmt.Errorf("failed to close position %s: %w", symbol, err)
	}

	logger.WithFields(map[string]interface{}{
		"symbol":    symbol,
		"side":      pos.Side,
		"closeSide": closeSide,
		"size":      pos.Size,
	}).Info("position close order submitted")

	return nil
}

// CloseAllPositions closes every open position on the account by
// sending reduce-only market orders in the opposite direction.
func (c *PhemexClient) CloseAllPositions(ctx context.Context) error {
	positions, err := c.getPositionsUSDT(ctx)
	if err != nil {
		return fmt.Errorf("get positions failed: %w", err)
	}

	for _, p := range positions.Positions {
		if p.SizeRq == "0" || p.SizeRq == "" {
			continue
		}
		if err := c.ClosePosition(ctx, p.Symbol); err != nil {
			return err
		}
	}

	logger.Info("all positions successfully closed")
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
