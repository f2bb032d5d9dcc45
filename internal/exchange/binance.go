package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"dcabot/pkg/ratelimit"
	"dcabot/pkg/retry"
	"dcabot/pkg/utils"
)

const (
	binanceBaseURL    = "https://api.binance.com"
	binanceWSBaseURL  = "wss://stream.binance.com:9443/ws"
	binanceRecvWindow = "5000"

	// Лимит Binance: 1200 весовых единиц в минуту. Держимся сильно ниже,
	// лимитер общий на клиента (одного пользователя).
	binanceRequestsPerSec = 8
	binanceBurst          = 16
)

// jsoniter быстрее stdlib на разборе больших ответов exchangeInfo
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Binance реализует интерфейс Exchange для спотового рынка Binance
type Binance struct {
	apiKey    string
	secretKey string

	httpClient *http.Client
	limiter    *ratelimit.RateLimiter
	retryCfg   retry.Config

	symbolCache   map[string]*SymbolInfo
	symbolCacheMu sync.RWMutex
}

// NewBinance создает клиента с учётными данными пользователя.
// HTTP клиент общий для всех пользователей (connection pooling),
// rate limiter - свой на каждого.
func NewBinance(apiKey, secretKey string) *Binance {
	retryCfg := retry.ConservativeConfig()
	retryCfg.RetryIf = isTransientError

	return &Binance{
		apiKey:      apiKey,
		secretKey:   secretKey,
		httpClient:  GetGlobalHTTPClient().GetClient(),
		limiter:     ratelimit.NewRateLimiter(binanceRequestsPerSec, binanceBurst),
		retryCfg:    retryCfg,
		symbolCache: make(map[string]*SymbolInfo),
	}
}

// isTransientError - ошибки, которые имеет смысл retry'ить: сетевые
// сбои, rate limit и 5xx. Ошибки API уровня (неверный символ, фильтры)
// постоянные.
func isTransientError(err error) bool {
	if !retry.RetryIfNotContext(err) {
		return false
	}

	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		switch exErr.Code {
		case "-1003", "418", "429", "500", "502", "503", "504":
			return true
		}
		return false
	}

	// сетевые ошибки без ответа API
	return true
}

// getWithRetry выполняет идемпотентный GET запрос с повторными
// попытками. Подпись пересчитывается на каждую попытку (свежий
// timestamp внутри doRequest).
//
// Размещение и отмена ордеров retry не используют: повтор POST при
// потерянном ответе может продублировать ордер.
func (b *Binance) getWithRetry(ctx context.Context, endpoint string, params url.Values, signed bool) ([]byte, error) {
	return retry.DoWithResult(ctx, func() ([]byte, error) {
		return b.doRequest(ctx, http.MethodGet, endpoint, params, signed)
	}, b.retryCfg)
}

func (b *Binance) GetName() string {
	return "binance"
}

// sign создает подпись HMAC-SHA256 для строки запроса
func (b *Binance) sign(payload string) string {
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest выполняет HTTP запрос к Binance API.
// signed=true добавляет timestamp, recvWindow и подпись.
func (b *Binance) doRequest(ctx context.Context, method, endpoint string, params url.Values, signed bool) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if params == nil {
		params = url.Values{}
	}

	if signed {
		// при retry в params остается подпись прошлой попытки
		params.Del("signature")
		params.Set("timestamp", strconv.FormatInt(utils.UnixMillis(), 10))
		params.Set("recvWindow", binanceRecvWindow)
		params.Set("signature", b.sign(params.Encode()))
	}

	query := params.Encode()
	reqURL := binanceBaseURL + endpoint
	if query != "" {
		reqURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, err
	}

	if b.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", b.apiKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Msg != "" {
			return nil, &ExchangeError{
				Exchange: "binance",
				Code:     strconv.Itoa(apiErr.Code),
				Message:  apiErr.Msg,
			}
		}
		return nil, &ExchangeError{
			Exchange: "binance",
			Code:     strconv.Itoa(resp.StatusCode),
			Message:  fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}
	}

	return body, nil
}

// GetBalance возвращает свободный баланс актива со спотового аккаунта
func (b *Binance) GetBalance(ctx context.Context, asset string) (float64, error) {
	body, err := b.getWithRetry(ctx, "/api/v3/account", nil, true)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}

	asset = strings.ToUpper(asset)
	for _, bal := range resp.Balances {
		if bal.Asset == asset {
			free, _ := strconv.ParseFloat(bal.Free, 64)
			return free, nil
		}
	}

	return 0, nil
}

// GetPrice возвращает текущую цену символа
func (b *Binance) GetPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := b.getWithRetry(ctx, "/api/v3/ticker/price", params, false)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}

	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("bad price %q for %s: %w", resp.Price, symbol, err)
	}

	return price, nil
}

// PlaceOrder размещает ордер и возвращает его состояние с кумулятивными
// полями исполнения
func (b *Binance) PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", req.Side)
	params.Set("type", req.Type)
	params.Set("quantity", formatFloat(req.Quantity))
	if req.Type == TypeLimit {
		params.Set("price", formatFloat(req.Price))
		params.Set("timeInForce", "GTC")
	}
	params.Set("newOrderRespType", "FULL")

	body, err := b.doRequest(ctx, http.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		return nil, err
	}

	var resp binanceOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	return resp.toOrder(), nil
}

// GetOrder запрашивает состояние ордера
func (b *Binance) GetOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	body, err := b.getWithRetry(ctx, "/api/v3/order", params, true)
	if err != nil {
		return nil, err
	}

	var resp binanceOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	return resp.toOrder(), nil
}

// GetOpenOrders возвращает открытые ордера по символу
func (b *Binance) GetOpenOrders(ctx context.Context, symbol string) ([]*Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := b.getWithRetry(ctx, "/api/v3/openOrders", params, true)
	if err != nil {
		return nil, err
	}

	var resp []binanceOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	orders := make([]*Order, 0, len(resp))
	for i := range resp {
		orders = append(orders, resp[i].toOrder())
	}

	return orders, nil
}

// CancelOrder отменяет ордер. Возвращает false без ошибки, если биржа
// ордер уже не знает.
func (b *Binance) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	_, err := b.doRequest(ctx, http.MethodDelete, "/api/v3/order", params, true)
	if err != nil {
		if IsOrderNotFound(err) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

// GetTrades возвращает сделки, исполнившие указанный ордер
func (b *Binance) GetTrades(ctx context.Context, symbol, orderID string) ([]*Trade, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	body, err := b.getWithRetry(ctx, "/api/v3/myTrades", params, true)
	if err != nil {
		return nil, err
	}

	var resp []struct {
		ID              int64  `json:"id"`
		OrderID         int64  `json:"orderId"`
		Price           string `json:"price"`
		Qty             string `json:"qty"`
		Commission      string `json:"commission"`
		CommissionAsset string `json:"commissionAsset"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	trades := make([]*Trade, 0, len(resp))
	for _, t := range resp {
		price, _ := strconv.ParseFloat(t.Price, 64)
		qty, _ := strconv.ParseFloat(t.Qty, 64)
		fee, _ := strconv.ParseFloat(t.Commission, 64)
		trades = append(trades, &Trade{
			ID:       strconv.FormatInt(t.ID, 10),
			OrderID:  strconv.FormatInt(t.OrderID, 10),
			Price:    price,
			Quantity: qty,
			Fee:      fee,
			FeeAsset: t.CommissionAsset,
		})
	}

	return trades, nil
}

// GetSymbolInfo возвращает торговые ограничения символа.
// Ответ кэшируется: фильтры символа меняются крайне редко.
func (b *Binance) GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error) {
	b.symbolCacheMu.RLock()
	if info, ok := b.symbolCache[symbol]; ok {
		b.symbolCacheMu.RUnlock()
		return info, nil
	}
	b.symbolCacheMu.RUnlock()

	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := b.getWithRetry(ctx, "/api/v3/exchangeInfo", params, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
			Filters    []struct {
				FilterType  string `json:"filterType"`
				StepSize    string `json:"stepSize"`
				TickSize    string `json:"tickSize"`
				MinQty      string `json:"minQty"`
				MinNotional string `json:"minNotional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	if len(resp.Symbols) == 0 {
		return nil, fmt.Errorf("symbol info not found for %s", symbol)
	}

	s := resp.Symbols[0]
	info := &SymbolInfo{
		Symbol: s.Symbol,
		Base:   s.BaseAsset,
		Quote:  s.QuoteAsset,
	}

	for _, f := range s.Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			info.QtyStep, _ = strconv.ParseFloat(f.StepSize, 64)
			info.MinQty, _ = strconv.ParseFloat(f.MinQty, 64)
		case "PRICE_FILTER":
			info.PriceStep, _ = strconv.ParseFloat(f.TickSize, 64)
		case "NOTIONAL", "MIN_NOTIONAL":
			info.MinNotional, _ = strconv.ParseFloat(f.MinNotional, 64)
		}
	}

	b.symbolCacheMu.Lock()
	b.symbolCache[symbol] = info
	b.symbolCacheMu.Unlock()

	return info, nil
}

// GetListenKey создает listen key для user-data stream.
// Endpoint подписи не требует, только API key в заголовке.
func (b *Binance) GetListenKey(ctx context.Context) (string, error) {
	body, err := b.doRequest(ctx, http.MethodPost, "/api/v3/userDataStream", nil, false)
	if err != nil {
		return "", err
	}

	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}

	if resp.ListenKey == "" {
		return "", fmt.Errorf("empty listen key in response")
	}

	return resp.ListenKey, nil
}

// KeepAliveListenKey продлевает listen key (биржа закрывает stream
// через 60 минут без keepalive)
func (b *Binance) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", listenKey)

	_, err := b.doRequest(ctx, http.MethodPut, "/api/v3/userDataStream", params, false)
	return err
}

// StreamURL возвращает WebSocket URL для listen key
func (b *Binance) StreamURL(listenKey string) string {
	return binanceWSBaseURL + "/" + listenKey
}

func (b *Binance) Close() error {
	// HTTP клиент общий, закрывать нечего
	return nil
}

// binanceOrderResponse - общий формат ответов ордерных endpoint'ов
type binanceOrderResponse struct {
	Symbol             string `json:"symbol"`
	OrderID            int64  `json:"orderId"`
	Price              string `json:"price"`
	OrigQty            string `json:"origQty"`
	ExecutedQty        string `json:"executedQty"`
	CumulativeQuoteQty string `json:"cummulativeQuoteQty"` // орфография Binance
	Status             string `json:"status"`
	Type               string `json:"type"`
	Side               string `json:"side"`
	Time               int64  `json:"time"`
	TransactTime       int64  `json:"transactTime"`
	UpdateTime         int64  `json:"updateTime"`
}

func (r *binanceOrderResponse) toOrder() *Order {
	price, _ := strconv.ParseFloat(r.Price, 64)
	qty, _ := strconv.ParseFloat(r.OrigQty, 64)
	filledQty, _ := strconv.ParseFloat(r.ExecutedQty, 64)
	filledQuote, _ := strconv.ParseFloat(r.CumulativeQuoteQty, 64)

	createdAt := r.Time
	if createdAt == 0 {
		createdAt = r.TransactTime
	}
	updatedAt := r.UpdateTime
	if updatedAt == 0 {
		updatedAt = r.TransactTime
	}

	return &Order{
		ID:             strconv.FormatInt(r.OrderID, 10),
		Symbol:         r.Symbol,
		Side:           r.Side,
		Type:           r.Type,
		Quantity:       qty,
		Price:          price,
		Status:         r.Status,
		FilledQty:      filledQty,
		FilledQuoteQty: filledQuote,
		CreatedAt:      utils.FromUnixMillis(createdAt),
		UpdatedAt:      utils.FromUnixMillis(updatedAt),
	}
}

// formatFloat форматирует число без экспоненты и хвостовых нулей
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
