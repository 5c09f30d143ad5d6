package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"tradebot/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Пул JSON буферов: убирает аллокации при каждом Broadcast
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Hub управляет всеми активными WebSocket соединениями
//
// Центральный менеджер для broadcast сообщений всем подключенным
// клиентам: поток событий шины, уведомления, обновления позиций и
// статистики в реальном времени без polling'а.
//
// Использование:
//  1. Создать hub: hub := NewHub(logger)
//  2. Запустить в горутине: go hub.Run()
//  3. Отправлять сообщения: hub.BroadcastEvent(ev)
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	// Broadcast канал для отправки сообщений всем клиентам
	broadcast chan []byte

	// Регистрация нового клиента
	register chan *Client

	// Отмена регистрации клиента
	unregister chan *Client

	// Сигнал остановки главного цикла
	done chan struct{}

	// Счетчик сообщений, отброшенных при переполнении broadcast канала
	dropped uint64 // atomic

	logger *zap.Logger

	mu sync.RWMutex
}

// NewHub создает новый Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.Named("ws_hub"),
	}
}

// Stop останавливает главный цикл Hub
func (h *Hub) Stop() {
	close(h.done)
}

// Run запускает главный цикл Hub
//
// Должен запускаться в отдельной горутине: go hub.Run()
//
// Рассылка идет по снимку списка клиентов под коротким RLock, чтобы
// не блокировать register/unregister; медленные клиенты (переполнен
// буфер send) отключаются.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("клиент подключен", zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("клиент отключен", zap.Int("total", total))

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					// Клиент не успевает обрабатывать сообщения
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				total := len(h.clients)
				h.mu.Unlock()
				h.logger.Warn("медленные клиенты отключены",
					zap.Int("removed", len(toRemove)), zap.Int("total", total))
			}
		}
	}
}

// Broadcast отправляет сообщение всем подключенным клиентам
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.logger.Error("ошибка сериализации broadcast сообщения", zap.Error(err))
		jsonBufferPool.Put(buf)
		return
	}

	// Убираем trailing newline от Encode
	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}

	// Копируем данные (буфер вернётся в пул)
	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)
	jsonBufferPool.Put(buf)

	h.BroadcastRaw(msgCopy)
}

// BroadcastRaw отправляет уже сериализованное сообщение
//
// Неблокирующая отправка: при переполнении broadcast канала сообщение
// отбрасывается, чтобы не тормозить издателей.
func (h *Hub) BroadcastRaw(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		atomic.AddUint64(&h.dropped, 1)
	}
}

// DroppedMessages возвращает количество отброшенных сообщений
func (h *Hub) DroppedMessages() uint64 {
	return atomic.LoadUint64(&h.dropped)
}

// BroadcastEvent транслирует событие шины на frontend
func (h *Hub) BroadcastEvent(ev *models.Event) {
	h.Broadcast(NewEventMessage(ev))
}

// BroadcastNotification отправляет новое уведомление
func (h *Hub) BroadcastNotification(notif *models.Notification) {
	h.Broadcast(NewNotificationMessage(notif))
}

// BroadcastPositionUpdate отправляет обновление позиции
func (h *Hub) BroadcastPositionUpdate(pos *models.Position) {
	h.Broadcast(NewPositionUpdateMessage(pos))
}

// BroadcastStatsUpdate отправляет обновление статистики движка
func (h *Hub) BroadcastStatsUpdate(stats interface{}) {
	h.Broadcast(NewStatsUpdateMessage(stats))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
