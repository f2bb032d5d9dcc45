package exchange

import (
	"context"
	"errors"
	"time"
)

// Exchange определяет унифицированный интерфейс для работы со спотовой биржей.
// Торговое ядро работает только через этот интерфейс, конкретный
// REST/WebSocket протокол скрыт в реализации.
type Exchange interface {
	// GetName возвращает имя биржи
	GetName() string

	// GetBalance получает свободный баланс указанного актива
	GetBalance(ctx context.Context, asset string) (float64, error)

	// GetPrice получает текущую цену символа
	GetPrice(ctx context.Context, symbol string) (float64, error)

	// PlaceOrder размещает ордер. Для лимитного ордера price обязателен,
	// для рыночного игнорируется.
	PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error)

	// GetOrder запрашивает текущее состояние ордера по биржевому ID
	GetOrder(ctx context.Context, symbol, orderID string) (*Order, error)

	// GetOpenOrders возвращает открытые ордера по символу
	GetOpenOrders(ctx context.Context, symbol string) ([]*Order, error)

	// CancelOrder отменяет ордер. Возвращает false, если ордер уже
	// не существует на бирже.
	CancelOrder(ctx context.Context, symbol, orderID string) (bool, error)

	// GetTrades возвращает сделки, исполнившие ордер (для комиссий)
	GetTrades(ctx context.Context, symbol, orderID string) ([]*Trade, error)

	// GetSymbolInfo возвращает торговые ограничения символа (кэшируется)
	GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error)

	// GetListenKey создает listen key для user-data stream
	GetListenKey(ctx context.Context) (string, error)

	// KeepAliveListenKey продлевает действие listen key
	KeepAliveListenKey(ctx context.Context, listenKey string) error

	// Close закрывает соединения с биржей
	Close() error
}

// OrderRequest описывает размещаемый ордер
type OrderRequest struct {
	Symbol   string
	Side     string  // "BUY" или "SELL"
	Type     string  // "MARKET" или "LIMIT"
	Quantity float64
	Price    float64 // только для LIMIT
}

// Order представляет состояние ордера на бирже
type Order struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	Type           string    `json:"type"`
	Quantity       float64   `json:"quantity"`
	Price          float64   `json:"price"`            // цена лимитного ордера (0 для market)
	Status         string    `json:"status"`           // NEW, FILLED, CANCELED, ...
	FilledQty      float64   `json:"filled_qty"`       // исполненное количество
	FilledQuoteQty float64   `json:"filled_quote_qty"` // исполненная сумма в quote-валюте
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AvgFillPrice возвращает среднюю цену исполнения.
// Для рыночного ордера это единственная достоверная цена.
func (o *Order) AvgFillPrice() float64 {
	if o.FilledQty > 0 && o.FilledQuoteQty > 0 {
		return o.FilledQuoteQty / o.FilledQty
	}
	return o.Price
}

// Trade представляет одну сделку, исполнившую ордер
type Trade struct {
	ID       string  `json:"id"`
	OrderID  string  `json:"order_id"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Fee      float64 `json:"fee"`
	FeeAsset string  `json:"fee_asset"`
}

// OrderUpdate - событие user-data stream об изменении состояния ордера
type OrderUpdate struct {
	Symbol         string
	OrderID        string
	Side           string
	Type           string
	Status         string
	Price          float64 // цена из события (0 для market)
	Quantity       float64
	FilledQty      float64 // накопленное исполненное количество
	FilledQuoteQty float64 // накопленная исполненная сумма
	Commission     float64
	EventTime      time.Time
}

// SymbolInfo содержит торговые ограничения символа
type SymbolInfo struct {
	Symbol      string  `json:"symbol"`
	Base        string  `json:"base"`
	Quote       string  `json:"quote"`
	QtyStep     float64 `json:"qty_step"`     // шаг количества (lot size)
	PriceStep   float64 `json:"price_step"`   // шаг цены (tick size)
	MinQty      float64 `json:"min_qty"`      // минимальное количество
	MinNotional float64 `json:"min_notional"` // минимальная сумма ордера в quote
}

// ExchangeError представляет ошибку от биржи
type ExchangeError struct {
	Exchange string
	Code     string
	Message  string
	Original error
}

func (e *ExchangeError) Error() string {
	return e.Exchange + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Original
}

// Коды ошибок Binance, которые ядро различает
const (
	CodeUnknownOrder   = "-2011" // отмена ордера, которого уже нет
	CodeOrderNotExists = "-2013" // запрос ордера, неизвестного бирже
)

// IsOrderNotFound сообщает, что биржа не знает запрошенный ордер.
// Такая ошибка постоянна: повторные запросы того же ID ничего не дадут.
func IsOrderNotFound(err error) bool {
	var exErr *ExchangeError
	if !errors.As(err, &exErr) {
		return false
	}
	return exErr.Code == CodeOrderNotExists || exErr.Code == CodeUnknownOrder
}

// Side constants
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Order type constants
const (
	TypeMarket = "MARKET"
	TypeLimit  = "LIMIT"
)

// Order status constants (формат Binance)
const (
	StatusNew             = "NEW"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusCanceled        = "CANCELED"
	StatusRejected        = "REJECTED"
	StatusExpired         = "EXPIRED"
)

// IsFinalStatus сообщает, является ли статус терминальным
func IsFinalStatus(status string) bool {
	switch status {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}
