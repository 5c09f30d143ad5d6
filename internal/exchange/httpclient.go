// Package exchange предоставляет унифицированный интерфейс коннекторов бирж.
package exchange

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"
)

// HTTPClientConfig - настройки HTTP клиента для REST API бирж
type HTTPClientConfig struct {
	ConnectTimeout time.Duration // установка TCP соединения
	ReadTimeout    time.Duration // ожидание заголовков ответа
	TotalTimeout   time.Duration // общий таймаут запроса

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration

	TLSHandshakeTimeout time.Duration
	DisableKeepAlives   bool
	KeepAliveInterval   time.Duration
}

// DefaultHTTPClientConfig возвращает конфигурацию, подобранную для
// торговых запросов: короткие таймауты, connection pooling, без сжатия
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    10 * time.Second,
		TotalTimeout:   30 * time.Second,

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout: 5 * time.Second,
		DisableKeepAlives:   false,
		KeepAliveInterval:   30 * time.Second,
	}
}

// HTTPClient - HTTP клиент с connection pooling для биржевых API
//
// Один клиент разделяется всеми коннекторами процесса, чтобы
// переиспользовать TCP/TLS соединения между запросами.
type HTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

var (
	globalClient     *HTTPClient
	globalClientOnce sync.Once
)

// GetGlobalHTTPClient возвращает глобальный HTTP клиент,
// создавая его при первом обращении
func GetGlobalHTTPClient() *HTTPClient {
	globalClientOnce.Do(func() {
		globalClient = NewHTTPClient(DefaultHTTPClientConfig())
	})
	return globalClient
}

// NewHTTPClient создает HTTP клиент с заданной конфигурацией
func NewHTTPClient(config HTTPClientConfig) *HTTPClient {
	dialer := &net.Dialer{
		Timeout:   config.ConnectTimeout,
		KeepAlive: config.KeepAliveInterval,
	}

	transport := &http.Transport{
		// Если у контекста запроса deadline короче ConnectTimeout,
		// соединение устанавливается в его пределах
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if deadline, ok := ctx.Deadline(); ok {
				if timeout := time.Until(deadline); timeout < config.ConnectTimeout {
					shortDialer := &net.Dialer{
						Timeout:   timeout,
						KeepAlive: config.KeepAliveInterval,
					}
					return shortDialer.DialContext(ctx, network, addr)
				}
			}
			return dialer.DialContext(ctx, network, addr)
		},

		MaxIdleConns:        config.MaxIdleConns,
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		MaxConnsPerHost:     config.MaxConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,

		TLSHandshakeTimeout: config.TLSHandshakeTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},

		DisableKeepAlives:     config.DisableKeepAlives,
		DisableCompression:    true, // биржевые ответы маленькие, сжатие только добавляет latency
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: config.ReadTimeout,
	}

	return &HTTPClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.TotalTimeout,
		},
		config: config,
	}
}

// Do выполняет HTTP запрос
func (hc *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	return hc.client.Do(req)
}

// DoWithTimeout выполняет запрос с нестандартным таймаутом
func (hc *HTTPClient) DoWithTimeout(req *http.Request, timeout time.Duration) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(req.Context(), timeout)
	defer cancel()
	return hc.client.Do(req.WithContext(ctx))
}

// GetClient возвращает базовый http.Client
func (hc *HTTPClient) GetClient() *http.Client {
	return hc.client
}

// GetConfig возвращает текущую конфигурацию клиента
func (hc *HTTPClient) GetConfig() HTTPClientConfig {
	return hc.config
}

// Close закрывает idle соединения; вызывается при graceful shutdown
func (hc *HTTPClient) Close() {
	if transport, ok := hc.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

// CloseGlobalClient закрывает глобальный HTTP клиент
func CloseGlobalClient() {
	if globalClient != nil {
		globalClient.Close()
	}
}
