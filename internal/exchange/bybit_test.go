package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tradebot/internal/models"
)

// newTestBybit создает коннектор, направленный на тестовый сервер
func newTestBybit(t *testing.T, handler http.HandlerFunc) *Bybit {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	b := NewBybit("test-key", "test-secret", nil)
	b.baseURL = server.URL
	return b
}

func TestBybit_Sign(t *testing.T) {
	b := NewBybit("test-key", "test-secret", nil)

	sig := b.sign("1700000000000", "category=spot&symbol=BTCUSDT")
	if len(sig) != 64 {
		t.Fatalf("подпись должна быть 64 hex символа, получено %d", len(sig))
	}

	// Подпись детерминирована
	if again := b.sign("1700000000000", "category=spot&symbol=BTCUSDT"); again != sig {
		t.Error("подпись для одинаковых данных должна совпадать")
	}

	// Разные параметры дают разные подписи
	if other := b.sign("1700000000000", "category=spot&symbol=ETHUSDT"); other == sig {
		t.Error("подпись для разных параметров не должна совпадать")
	}
}

func TestBybit_SymbolMapping(t *testing.T) {
	if got := bybitSymbol("BTC/USDT"); got != "BTCUSDT" {
		t.Errorf("ожидалось BTCUSDT, получено %s", got)
	}
	if got := bybitSide(models.OrderSideBuy); got != "Buy" {
		t.Errorf("ожидалось Buy, получено %s", got)
	}
	if got := bybitSide(models.OrderSideSell); got != "Sell" {
		t.Errorf("ожидалось Sell, получено %s", got)
	}
	if got := bybitOrderType(models.OrderTypeLimit); got != "Limit" {
		t.Errorf("ожидалось Limit, получено %s", got)
	}
	if got := bybitOrderType(models.OrderTypeMarket); got != "Market" {
		t.Errorf("ожидалось Market, получено %s", got)
	}
}

func TestBybit_GetTicker(t *testing.T) {
	b := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/market/tickers" {
			t.Errorf("неожиданный путь: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("ожидался символ BTCUSDT, получено %s", got)
		}
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[
			{"bid1Price":"59990.5","ask1Price":"60010.5","lastPrice":"60000.1"}]}}`))
	})

	ticker, err := b.GetTicker(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatalf("ошибка получения тикера: %v", err)
	}
	if ticker.Symbol != "BTC/USDT" {
		t.Errorf("символ должен остаться во внутреннем формате, получено %s", ticker.Symbol)
	}
	if !ticker.LastPrice.Equal(d("60000.1")) {
		t.Errorf("ожидалась цена 60000.1, получено %s", ticker.LastPrice)
	}
	if !ticker.BidPrice.Equal(d("59990.5")) || !ticker.AskPrice.Equal(d("60010.5")) {
		t.Errorf("неверные bid/ask: %s/%s", ticker.BidPrice, ticker.AskPrice)
	}
}

func TestBybit_GetAccountBalance(t *testing.T) {
	b := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
		// Приватный запрос должен быть подписан
		if r.Header.Get("X-BAPI-API-KEY") != "test-key" {
			t.Error("отсутствует заголовок X-BAPI-API-KEY")
		}
		if r.Header.Get("X-BAPI-SIGN") == "" {
			t.Error("отсутствует подпись запроса")
		}
		if r.Header.Get("X-BAPI-TIMESTAMP") == "" {
			t.Error("отсутствует timestamp")
		}
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[
			{"coin":[{"coin":"BTC","equity":"0.5"},{"coin":"USDT","equity":"12345.67"}]}]}}`))
	})

	balance, err := b.GetAccountBalance(context.Background())
	if err != nil {
		t.Fatalf("ошибка получения баланса: %v", err)
	}
	if !balance.Equal(d("12345.67")) {
		t.Errorf("ожидался баланс 12345.67, получено %s", balance)
	}
}

func TestBybit_PlaceOrder(t *testing.T) {
	b := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/order/create" {
			t.Errorf("неожиданный путь: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("ожидался POST, получено %s", r.Method)
		}
		var params map[string]string
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			t.Fatalf("ошибка разбора тела запроса: %v", err)
		}
		if params["symbol"] != "BTCUSDT" || params["side"] != "Buy" {
			t.Errorf("неверные параметры ордера: %v", params)
		}
		if params["orderLinkId"] != "ord-1" {
			t.Errorf("orderLinkId должен совпадать с нашим ID ордера, получено %s", params["orderLinkId"])
		}
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"orderId":"exch-123"}}`))
	})

	order := &models.Order{
		ID:       "ord-1",
		Symbol:   "BTC/USDT",
		Side:     models.OrderSideBuy,
		Type:     models.OrderTypeMarket,
		Quantity: d("0.01"),
	}
	result, err := b.PlaceOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("ошибка размещения ордера: %v", err)
	}
	if result.ExchangeOrderID != "exch-123" {
		t.Errorf("ожидался exchange ID exch-123, получено %s", result.ExchangeOrderID)
	}
	if result.Status != ResultAccepted {
		t.Errorf("ожидался статус accepted, получено %s", result.Status)
	}
}

func TestBybit_APIError(t *testing.T) {
	b := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":10003,"retMsg":"API key is invalid"}`))
	})

	_, err := b.GetAccountBalance(context.Background())
	if err == nil {
		t.Fatal("ошибка API должна вернуться вызывающему")
	}

	var exErr *ExchangeError
	if !errors.As(err, &exErr) {
		t.Fatalf("ожидался *ExchangeError, получено %T", err)
	}
	if exErr.Exchange != "bybit" || exErr.Code != "10003" {
		t.Errorf("неверные поля ошибки: exchange=%s code=%s", exErr.Exchange, exErr.Code)
	}
}

func TestBybit_RetriesNetworkErrors(t *testing.T) {
	calls := 0
	b := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			// Обрываем соединение до ответа - транспортная ошибка у клиента
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("httptest сервер должен поддерживать Hijack")
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				t.Fatalf("ошибка Hijack: %v", err)
			}
			conn.Close()
			return
		}
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[
			{"coin":[{"coin":"USDT","equity":"100"}]}]}}`))
	})
	b.retryCfg.InitialDelay = time.Millisecond

	balance, err := b.GetAccountBalance(context.Background())
	if err != nil {
		t.Fatalf("запрос должен пройти после повтора: %v", err)
	}
	if !balance.Equal(d("100")) {
		t.Errorf("ожидался баланс 100, получено %s", balance)
	}
	if calls != 2 {
		t.Errorf("ожидалось 2 запроса (сбой + повтор), получено %d", calls)
	}
}

func TestBybit_APIErrorsNotRetried(t *testing.T) {
	calls := 0
	b := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"retCode":110007,"retMsg":"insufficient balance"}`))
	})
	b.retryCfg.InitialDelay = time.Millisecond

	if _, err := b.GetAccountBalance(context.Background()); err == nil {
		t.Fatal("ошибка API должна вернуться вызывающему")
	}
	if calls != 1 {
		t.Errorf("ответ биржи с кодом ошибки не должен ретраиться, запросов: %d", calls)
	}
}

func TestExchangeErrorRetryable(t *testing.T) {
	network := &ExchangeError{Exchange: "bybit", Code: "network", Message: "eof"}
	if !network.Retryable() {
		t.Error("сетевая ошибка должна быть повторяемой")
	}
	api := &ExchangeError{Exchange: "bybit", Code: "10003", Message: "invalid key"}
	if api.Retryable() {
		t.Error("ошибка API не должна быть повторяемой")
	}
}

func TestBybit_ConnectVerifiesCredentials(t *testing.T) {
	b := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":10003,"retMsg":"API key is invalid"}`))
	})

	if err := b.Connect(context.Background()); err == nil {
		t.Fatal("подключение с неверным ключом должно вернуть ошибку")
	}

	ok := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[
			{"coin":[{"coin":"USDT","equity":"100"}]}]}}`))
	})
	if err := ok.Connect(context.Background()); err != nil {
		t.Fatalf("подключение должно пройти: %v", err)
	}
}

func TestNewLiveExchange(t *testing.T) {
	ex, err := NewLiveExchange("bybit", "k", "s", nil)
	if err != nil {
		t.Fatalf("bybit должен поддерживаться: %v", err)
	}
	if ex.GetName() != "bybit" {
		t.Errorf("ожидалось имя bybit, получено %s", ex.GetName())
	}

	// Пустое имя трактуется как bybit
	if _, err := NewLiveExchange("", "k", "s", nil); err != nil {
		t.Fatalf("пустое имя должно дать bybit: %v", err)
	}

	if _, err := NewLiveExchange("binance", "k", "s", nil); err == nil {
		t.Error("неподдерживаемая биржа должна вернуть ошибку")
	}

	if !IsSupported("bybit") || IsSupported("binance") {
		t.Error("IsSupported отвечает неверно")
	}
}
