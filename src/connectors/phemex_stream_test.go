package connectors

import (
	"testing"
	"time"
)

func TestParseStreamMessage(t *testing.T) {
	ts := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	raw := []byte(`{
		"accounts_p":[{"currency":"USDT","accountBalanceRv":"10250.5"}],
		"orders_p":[{
			"orderID":"ord-1","clOrdID":"pe-abc","symbol":"BTCUSDT","side":"Buy",
			"ordStatus":"Filled","priceRp":"100.5","avgPriceRp":"100.2","cumQtyRq":"20",
			"transactTimeNs":` + int64str(ts.UnixNano()) + `}]
	}`)

	events := parseStreamMessage(raw)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	account := events[0].Account
	if account == nil || account.Currency != "USDT" || account.Balance != 10250.5 {
		t.Fatalf("account event parsed wrong: %+v", events[0])
	}

	order := events[1].Order
	if order == nil {
		t.Fatalf("expected order event, got %+v", events[1])
	}
	if order.OrderID != "ord-1" || order.ClOrdID != "pe-abc" || order.Status != "Filled" {
		t.Fatalf("order identity parsed wrong: %+v", order)
	}
	if order.Price != 100.5 || order.AvgPrice != 100.2 || order.FilledQty != 20 {
		t.Fatalf("order prices parsed wrong: %+v", order)
	}
	if !order.Timestamp.Equal(ts) {
		t.Fatalf("expected venue timestamp %v, got %v", ts, order.Timestamp)
	}
}

func TestParseStreamMessageIgnoresOtherFrames(t *testing.T) {
	if events := parseStreamMessage([]byte(`{"result":{"status":"success"},"id":2}`)); len(events) != 0 {
		t.Fatalf("subscription ack must produce no events, got %+v", events)
	}
	if events := parseStreamMessage([]byte(`not json`)); events != nil {
		t.Fatalf("malformed frame must be dropped, got %+v", events)
	}
	if events := parseStreamMessage([]byte(`{"accounts_p":[{"currency":"USDT","accountBalanceRv":"bogus"}]}`)); len(events) != 0 {
		t.Fatalf("unparseable balance must be skipped, got %+v", events)
	}
}
