package connectors

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"
)

const streamPingInterval = 5 * time.Second

// Raw Phemex AOP (account-order-position) stream message. Only the
// channels the engine consumes are decoded; everything else is dropped
// at this boundary.
type wsAopMessage struct {
	Accounts []struct {
		Currency         string `json:"currency"`
		AccountBalanceRv string `json:"accountBalanceRv"`
	} `json:"accounts_p"`

	Orders []struct {
		OrderID        string `json:"orderID"`
		ClOrdID        string `json:"clOrdID"`
		Symbol         string `json:"symbol"`
		Side           string `json:"side"`
		OrdStatus      string `json:"ordStatus"`
		PriceRp        string `json:"priceRp"`
		AvgPriceRp     string `json:"avgPriceRp"`
		CumQtyRq       string `json:"cumQtyRq"`
		TransactTimeNs int64  `json:"transactTimeNs"`
	} `json:"orders_p"`
}

// parseStreamMessage normalizes one raw stream frame into the closed
// set of tagged events. Frames that carry neither account nor order
// data return an empty slice.
func parseStreamMessage(raw []byte) []StreamEvent {
	var msg wsAopMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}

	events := make([]StreamEvent, 0, len(msg.Accounts)+len(msg.Orders))

	for _, a := range msg.Accounts {
		balance, err := strconv.ParseFloat(a.AccountBalanceRv, 64)
		if err != nil {
			continue
		}
		events = append(events, StreamEvent{Account: &AccountUpdate{
			Currency:  a.Currency,
			Balance:   balance,
			Timestamp: time.Now().UTC(),
		}})
	}

	for _, o := range msg.Orders {
		price, _ := strconv.ParseFloat(o.PriceRp, 64)
		avg, _ := strconv.ParseFloat(o.AvgPriceRp, 64)
		filled, _ := strconv.ParseFloat(o.CumQtyRq, 64)

		ts := time.Now().UTC()
		if o.TransactTimeNs > 0 {
			ts = time.Unix(0, o.TransactTimeNs).UTC()
		}

		events = append(events, StreamEvent{Order: &OrderUpdate{
			OrderID:   o.OrderID,
			ClOrdID:   o.ClOrdID,
			Symbol:    o.Symbol,
			Side:      o.Side,
			Status:    o.OrdStatus,
			Price:     price,
			AvgPrice:  avg,
			FilledQty: filled,
			Timestamp: ts,
		}})
	}

	return events
}

// StreamUpdates connects to the account websocket and emits normalized
// events. On disconnect it reconnects with exponential backoff (base
// delay doubling up to the cap) and re-authenticates/re-subscribes.
// The channel closes when ctx is canceled or the bounded reconnect
// budget is exhausted; after that the process requires a manual
// restart.
func (c *PhemexClient) StreamUpdates(ctx context.Context) <-chan StreamEvent {
	out := make(chan StreamEvent, 64)

	go func() {
		defer close(out)

		attempts := 0
		delay := c.cfg.ReconnectBaseDelay

		for {
			if ctx.Err() != nil {
				return
			}

			err := c.streamOnce(ctx, out)
			if ctx.Err() != nil {
				return
			}

			attempts++
			if c.cfg.ReconnectMaxAttempts > 0 && attempts >= c.cfg.ReconnectMaxAttempts {
				logger.WithError(err).WithField("attempts", attempts).
					Error("stream reconnect budget exhausted, giving up")
				return
			}

			logger.WithError(err).WithFields(map[string]interface{}{
				"attempt": attempts,
				"delay":   delay.String(),
			}).Warn("stream disconnected, reconnecting")

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			delay *= 2
			if delay > c.cfg.ReconnectMaxDelay {
				delay = c.cfg.ReconnectMaxDelay
			}
		}
	}()

	return out
}

// streamOnce runs one websocket session: dial, authenticate, subscribe,
// then pump events until the connection drops. A successful subscribe
// resets the caller's backoff via the returned nil-error bookkeeping
// (errors here always mean the session ended).
func (c *PhemexClient) streamOnce(ctx context.Context, out chan<- StreamEvent) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}

	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	expiry := c.now().Add(2 * time.Minute).Unix()
	sig := signRequest(c.apiKey, "", "", expiry, c.apiSecret)

	auth := map[string]interface{}{
		"method": "user.auth",
		"params": []interface{}{"API", c.apiKey, sig, expiry},
		"id":     1,
	}
	if err := conn.WriteJSON(auth); err != nil {
		return err
	}

	subscribe := map[string]interface{}{
		"method": "aop_p.subscribe",
		"params": []interface{}{},
		"id":     2,
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return err
	}

	logger.Info("account stream connected and subscribed")

	// Server-side heartbeat keepalive.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(streamPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ping := map[string]interface{}{"method": "server.ping", "params": []interface{}{}, "id": 0}
				if err := conn.WriteJSON(ping); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		for _, event := range parseStreamMessage(raw) {
			if event.Account != nil {
				logger.WithField("balance", event.Account.Balance).Debug("account update")
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
