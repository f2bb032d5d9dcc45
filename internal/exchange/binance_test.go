package exchange

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestBinanceOrderResponseToOrder(t *testing.T) {
	tests := []struct {
		name          string
		resp          binanceOrderResponse
		wantID        string
		wantStatus    string
		wantAvgPrice  float64
		wantFilledQty float64
	}{
		{
			name: "filled market buy",
			resp: binanceOrderResponse{
				Symbol:             "BTCUSDT",
				OrderID:            12345,
				Price:              "0.00000000",
				OrigQty:            "0.50000000",
				ExecutedQty:        "0.50000000",
				CumulativeQuoteQty: "25000.00000000",
				Status:             "FILLED",
				Type:               "MARKET",
				Side:               "BUY",
				TransactTime:       1700000000000,
			},
			wantID:        "12345",
			wantStatus:    StatusFilled,
			wantAvgPrice:  50000,
			wantFilledQty: 0.5,
		},
		{
			name: "open limit sell",
			resp: binanceOrderResponse{
				Symbol:      "BTCUSDT",
				OrderID:     12346,
				Price:       "50500.00000000",
				OrigQty:     "0.50000000",
				ExecutedQty: "0.00000000",
				Status:      "NEW",
				Type:        "LIMIT",
				Side:        "SELL",
				Time:        1700000000000,
				UpdateTime:  1700000005000,
			},
			wantID:       "12346",
			wantStatus:   StatusNew,
			wantAvgPrice: 50500, // без исполнения AvgFillPrice падает на лимитную цену
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := tt.resp.toOrder()

			if order.ID != tt.wantID {
				t.Errorf("ID = %s, want %s", order.ID, tt.wantID)
			}
			if order.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", order.Status, tt.wantStatus)
			}
			if order.FilledQty != tt.wantFilledQty {
				t.Errorf("FilledQty = %f, want %f", order.FilledQty, tt.wantFilledQty)
			}
			if got := order.AvgFillPrice(); got != tt.wantAvgPrice {
				t.Errorf("AvgFillPrice = %f, want %f", got, tt.wantAvgPrice)
			}
			if order.CreatedAt.IsZero() {
				t.Error("CreatedAt not set")
			}
		})
	}
}

func TestBinanceSign(t *testing.T) {
	// Официальный пример подписи из документации Binance API
	b := NewBinance(
		"vmPUZE6mv9SD5VNHk4HlWFsOr6aKE2zvsw0MuIgwCIPy6utIco14y7Ju91duEh8A",
		"NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j",
	)

	payload := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	want := "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71"

	if got := b.sign(payload); got != want {
		t.Errorf("sign = %s, want %s", got, want)
	}
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0.5, "0.5"},
		{100, "100"},
		{0.00012345, "0.00012345"},
		{50000.1, "50000.1"},
	}

	for _, tt := range tests {
		if got := formatFloat(tt.in); got != tt.want {
			t.Errorf("formatFloat(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestIsOrderNotFound(t *testing.T) {
	for _, code := range []string{CodeOrderNotExists, CodeUnknownOrder} {
		err := &ExchangeError{Exchange: "binance", Code: code, Message: "Order does not exist"}
		if !IsOrderNotFound(err) {
			t.Errorf("expected code %s to be not-found", code)
		}
		// обёрнутая ошибка тоже распознаётся
		if !IsOrderNotFound(fmt.Errorf("refresh leg: %w", err)) {
			t.Errorf("expected wrapped code %s to be not-found", code)
		}
	}

	if IsOrderNotFound(&ExchangeError{Exchange: "binance", Code: "-1001", Message: "internal error"}) {
		t.Error("internal error must not count as not-found")
	}
	if IsOrderNotFound(errors.New("plain error")) {
		t.Error("plain error must not count as not-found")
	}
	if IsOrderNotFound(nil) {
		t.Error("nil must not count as not-found")
	}
}

func TestIsFinalStatus(t *testing.T) {
	finals := []string{StatusFilled, StatusCanceled, StatusRejected, StatusExpired}
	for _, status := range finals {
		if !IsFinalStatus(status) {
			t.Errorf("expected %s to be final", status)
		}
	}

	open := []string{StatusNew, StatusPartiallyFilled}
	for _, status := range open {
		if IsFinalStatus(status) {
			t.Errorf("expected %s to be open", status)
		}
	}
}

func TestParseExecutionReport(t *testing.T) {
	tests := []struct {
		name    string
		message string
		wantOK  bool
		check   func(t *testing.T, u *OrderUpdate)
	}{
		{
			name: "filled sell",
			message: `{"e":"executionReport","E":1700000000000,"s":"BTCUSDT","S":"SELL",
				"o":"LIMIT","X":"FILLED","i":12346,"p":"50500.00","q":"0.5",
				"z":"0.5","Z":"25250.00","n":"0.01","N":"USDT"}`,
			wantOK: true,
			check: func(t *testing.T, u *OrderUpdate) {
				if u.OrderID != "12346" {
					t.Errorf("OrderID = %s, want 12346", u.OrderID)
				}
				if u.Side != SideSell || u.Status != StatusFilled {
					t.Errorf("unexpected side/status: %s/%s", u.Side, u.Status)
				}
				if u.FilledQty != 0.5 || u.FilledQuoteQty != 25250 {
					t.Errorf("unexpected fills: %f/%f", u.FilledQty, u.FilledQuoteQty)
				}
				if !u.EventTime.Equal(time.UnixMilli(1700000000000)) {
					t.Errorf("unexpected event time: %v", u.EventTime)
				}
			},
		},
		{
			name:    "other event type skipped",
			message: `{"e":"outboundAccountPosition","E":1700000000000}`,
			wantOK:  false,
		},
		{
			name:    "garbage skipped",
			message: `not json`,
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			update, ok := parseExecutionReport([]byte(tt.message))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if tt.check != nil {
				tt.check(t, update)
			}
		})
	}
}
