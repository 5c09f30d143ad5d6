package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradebot/internal/models"
	"tradebot/pkg/ratelimit"
	"tradebot/pkg/retry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	bybitBaseURL    = "https://api.bybit.com"
	bybitWSPublic   = "wss://stream.bybit.com/v5/public/spot"
	bybitRecvWindow = "5000"

	// Лимит REST запросов Bybit: 10 rps с запасом на всплески
	bybitRateLimit = 10
	bybitRateBurst = 20
)

// Bybit - live коннектор к бирже Bybit (v5 API, spot)
//
// REST для ордеров и балансов, публичный WebSocket с автоматическим
// переподключением для потока цен.
type Bybit struct {
	apiKey    string
	secretKey string
	baseURL   string

	httpClient *http.Client
	limiter    *ratelimit.RateLimiter
	retryCfg   retry.Config
	wsManager  *WSReconnectManager
	logger     *zap.Logger

	mu        sync.RWMutex
	connected bool
}

// NewBybit создает новый коннектор Bybit
//
// Использует глобальный HTTP клиент с connection pooling. Запросы
// проходят через rate limiter, сетевые сбои ретраятся с backoff.
func NewBybit(apiKey, secretKey string, logger *zap.Logger) *Bybit {
	if logger == nil {
		logger = zap.NewNop()
	}
	zl := logger.Named("bybit")

	retryCfg := retry.NetworkConfig()
	retryCfg.RetryIf = retry.IsRetryable
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		zl.Warn("повтор запроса к бирже",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	return &Bybit{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    bybitBaseURL,
		httpClient: GetGlobalHTTPClient().GetClient(),
		limiter:    ratelimit.NewRateLimiter(bybitRateLimit, bybitRateBurst),
		retryCfg:   retryCfg,
		logger:     zl,
	}
}

// bybitSymbol переводит "BTC/USDT" в формат биржи "BTCUSDT"
func bybitSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

// sign создает подпись запроса для Bybit API v5
func (b *Bybit) sign(timestamp, params string) string {
	message := timestamp + b.apiKey + bybitRecvWindow + params
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest выполняет HTTP запрос к Bybit API
//
// Перед запросом берется токен rate limiter'а. Сетевые сбои ретраятся
// целыми попытками: подпись содержит timestamp, поэтому каждый повтор
// собирает и подписывает запрос заново.
func (b *Bybit) doRequest(ctx context.Context, method, endpoint string, params map[string]string, signed bool) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return retry.DoWithResult(ctx, func() ([]byte, error) {
		return b.attemptRequest(ctx, method, endpoint, params, signed)
	}, b.retryCfg)
}

// attemptRequest - одна попытка запроса без повторов
func (b *Bybit) attemptRequest(ctx context.Context, method, endpoint string, params map[string]string, signed bool) ([]byte, error) {
	var reqBody string
	var reqURL string

	if method == http.MethodGet {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		reqBody = query.Encode()
		reqURL = b.baseURL + endpoint
		if reqBody != "" {
			reqURL += "?" + reqBody
		}
	} else {
		reqURL = b.baseURL + endpoint
		if len(params) > 0 {
			jsonBytes, err := json.Marshal(params)
			if err != nil {
				return nil, err
			}
			reqBody = string(jsonBytes)
		}
	}

	var bodyReader io.Reader
	if method != http.MethodGet {
		bodyReader = strings.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("X-BAPI-API-KEY", b.apiKey)
		req.Header.Set("X-BAPI-SIGN", b.sign(timestamp, reqBody))
		req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
		req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, &ExchangeError{Exchange: "bybit", Code: "network", Message: err.Error(), Original: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var baseResp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(body, &baseResp); err != nil {
		return nil, err
	}
	if baseResp.RetCode != 0 {
		return nil, &ExchangeError{
			Exchange: "bybit",
			Code:     strconv.Itoa(baseResp.RetCode),
			Message:  baseResp.RetMsg,
		}
	}

	return body, nil
}

// Connect проверяет учетные данные запросом баланса
func (b *Bybit) Connect(ctx context.Context) error {
	if _, err := b.GetAccountBalance(ctx); err != nil {
		return fmt.Errorf("connect bybit: %w", err)
	}

	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()

	b.logger.Info("подключение к Bybit установлено")
	return nil
}

// GetName возвращает имя биржи
func (b *Bybit) GetName() string {
	return "bybit"
}

// GetAccountBalance возвращает баланс USDT на unified аккаунте
func (b *Bybit) GetAccountBalance(ctx context.Context) (decimal.Decimal, error) {
	params := map[string]string{
		"accountType": "UNIFIED",
		"coin":        "USDT",
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params, true)
	if err != nil {
		return decimal.Zero, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Coin []struct {
					Coin   string `json:"coin"`
					Equity string `json:"equity"`
				} `json:"coin"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, err
	}

	for _, list := range resp.Result.List {
		for _, coin := range list.Coin {
			if coin.Coin == "USDT" {
				return decimal.NewFromString(coin.Equity)
			}
		}
	}
	return decimal.Zero, nil
}

// GetTicker возвращает текущую цену инструмента
func (b *Bybit) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	params := map[string]string{
		"category": "spot",
		"symbol":   bybitSymbol(symbol),
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/market/tickers", params, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Bid1Price string `json:"bid1Price"`
				Ask1Price string `json:"ask1Price"`
				LastPrice string `json:"lastPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Result.List) == 0 {
		return nil, &ExchangeError{Exchange: "bybit", Code: "not_found", Message: "ticker not found: " + symbol}
	}

	t := resp.Result.List[0]
	bid, err := decimal.NewFromString(t.Bid1Price)
	if err != nil {
		return nil, err
	}
	ask, err := decimal.NewFromString(t.Ask1Price)
	if err != nil {
		return nil, err
	}
	last, err := decimal.NewFromString(t.LastPrice)
	if err != nil {
		return nil, err
	}

	return &Ticker{
		Symbol:    symbol,
		BidPrice:  bid,
		AskPrice:  ask,
		LastPrice: last,
		Timestamp: time.Now(),
	}, nil
}

// PlaceOrder размещает spot ордер
func (b *Bybit) PlaceOrder(ctx context.Context, order *models.Order) (*OrderResult, error) {
	params := map[string]string{
		"category":    "spot",
		"symbol":      bybitSymbol(order.Symbol),
		"side":        bybitSide(order.Side),
		"orderType":   bybitOrderType(order.Type),
		"qty":         order.Quantity.String(),
		"orderLinkId": order.ID,
	}
	if order.Type == models.OrderTypeLimit {
		params["price"] = order.Price.String()
	}

	body, err := b.doRequest(ctx, http.MethodPost, "/v5/order/create", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			OrderID string `json:"orderId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	b.logger.Info("ордер размещен",
		zap.String("order_id", order.ID),
		zap.String("exchange_order_id", resp.Result.OrderID),
		zap.String("symbol", order.Symbol))

	return &OrderResult{
		ExchangeOrderID: resp.Result.OrderID,
		Status:          ResultAccepted,
		Timestamp:       time.Now(),
	}, nil
}

// CancelOrder отменяет ордер по нашему orderLinkId
func (b *Bybit) CancelOrder(ctx context.Context, orderID string) error {
	params := map[string]string{
		"category":    "spot",
		"orderLinkId": orderID,
	}
	_, err := b.doRequest(ctx, http.MethodPost, "/v5/order/cancel", params, true)
	return err
}

// StreamPrices подписывается на публичный поток тикеров
//
// Соединение держит WSReconnectManager: при разрыве переподключение
// с exponential backoff и восстановлением подписок.
func (b *Bybit) StreamPrices(ctx context.Context, symbols []string, callback func(*Ticker)) error {
	manager := NewWSReconnectManager("bybit", bybitWSPublic, DefaultWSReconnectConfig(), b.logger)

	// Обратное отображение BTCUSDT -> BTC/USDT
	reverse := make(map[string]string, len(symbols))
	args := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		exchSymbol := bybitSymbol(symbol)
		reverse[exchSymbol] = symbol
		args = append(args, "tickers."+exchSymbol)
	}

	manager.SetOnMessage(func(message []byte) {
		var msg struct {
			Topic string `json:"topic"`
			Data  struct {
				Symbol    string `json:"symbol"`
				LastPrice string `json:"lastPrice"`
				Bid1Price string `json:"bid1Price"`
				Ask1Price string `json:"ask1Price"`
			} `json:"data"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		if !strings.HasPrefix(msg.Topic, "tickers.") {
			return
		}

		symbol, ok := reverse[msg.Data.Symbol]
		if !ok {
			return
		}
		last, err := decimal.NewFromString(msg.Data.LastPrice)
		if err != nil {
			return
		}
		bid, _ := decimal.NewFromString(msg.Data.Bid1Price)
		ask, _ := decimal.NewFromString(msg.Data.Ask1Price)

		callback(&Ticker{
			Symbol:    symbol,
			BidPrice:  bid,
			AskPrice:  ask,
			LastPrice: last,
			Timestamp: time.Now(),
		})
	})

	manager.AddSubscription(map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	})

	if err := manager.Connect(); err != nil {
		return fmt.Errorf("bybit ws connect: %w", err)
	}

	b.mu.Lock()
	b.wsManager = manager
	b.mu.Unlock()

	<-ctx.Done()
	manager.Close()
	return ctx.Err()
}

// Close закрывает соединения с биржей
func (b *Bybit) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.connected = false
	if b.wsManager != nil {
		b.wsManager.Close()
		b.wsManager = nil
	}
	return nil
}

func bybitSide(side models.OrderSide) string {
	if side == models.OrderSideBuy {
		return "Buy"
	}
	return "Sell"
}

func bybitOrderType(orderType models.OrderType) string {
	if orderType == models.OrderTypeLimit {
		return "Limit"
	}
	return "Market"
}
