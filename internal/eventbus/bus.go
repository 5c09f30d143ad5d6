package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tradebot/internal/models"
)

// Размеры очередей по умолчанию
const (
	DefaultQueueSize   = 10000
	DefaultDLQSize     = 1000
	DefaultHistorySize = 1000
	DefaultWorkers     = 8
)

// DefaultHealthInterval - период публикации HealthCheck событий
const DefaultHealthInterval = 30 * time.Second

// Причины попадания события в dead letter queue
const (
	ReasonQueueFull        = "queue_full"
	ReasonRetriesExhausted = "retries_exhausted"
)

// Ошибки шины
var (
	ErrQueueFull       = errors.New("event queue is full")
	ErrInvalidPriority = errors.New("invalid event priority")
	ErrAlreadyRunning  = errors.New("event bus is already running")
	ErrNotRunning      = errors.New("event bus is not running")
)

// Handler - обработчик события
//
// Ошибка обработчика изолирована: её фиксирует breaker этого обработчика,
// остальные подписчики события её не видят, событие считается обработанным.
// Повторная доставка зарезервирована за сбоями самого шага доставки.
type Handler func(ctx context.Context, ev *models.Event) error

// HandlerOptions - параметры регистрации обработчика
type HandlerOptions struct {
	// Name - имя для логов и метрик (по умолчанию ID подписки)
	Name string

	// Priority - порядок вызова: больший приоритет вызывается раньше.
	// При равенстве порядок регистрации.
	Priority int

	// Async - выполнять в worker pool, а не в горутине очереди.
	// Для обработчиков с блокирующим I/O (БД, сеть).
	Async bool
}

// Config - конфигурация шины событий
type Config struct {
	QueueSize        int           // емкость каждой очереди приоритета
	DLQSize          int           // емкость dead letter queue
	HistorySize      int           // глубина истории для replay
	Workers          int           // размер worker pool для async обработчиков
	FailureThreshold int           // ошибок подряд до размыкания breaker'а
	RecoveryTimeout  time.Duration // пауза breaker'а до пробного вызова
	HealthInterval   time.Duration // период публикации HealthCheck событий
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		QueueSize:        DefaultQueueSize,
		DLQSize:          DefaultDLQSize,
		HistorySize:      DefaultHistorySize,
		Workers:          DefaultWorkers,
		FailureThreshold: DefaultFailureThreshold,
		RecoveryTimeout:  DefaultRecoveryTimeout,
		HealthInterval:   DefaultHealthInterval,
	}
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.DLQSize <= 0 {
		c.DLQSize = DefaultDLQSize
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = DefaultHealthInterval
	}
}

// DeadLetter - событие, которое не удалось доставить
type DeadLetter struct {
	Event  *models.Event `json:"event"`
	Reason string        `json:"reason"`
	Error  string        `json:"error,omitempty"`
	At     time.Time     `json:"at"`
}

// subscription - зарегистрированный обработчик
type subscription struct {
	id        string
	name      string
	eventType models.EventType
	wildcard  bool
	priority  int
	seq       uint64
	async     bool
	fn        Handler
	breaker   *CircuitBreaker

	calls       uint64 // atomic
	errs        uint64 // atomic
	totalMicros uint64 // atomic, суммарная латентность вызовов
}

// HandlerStats - статистика одного обработчика
type HandlerStats struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	EventType    string       `json:"event_type"`
	Calls        uint64       `json:"calls"`
	Errors       uint64       `json:"errors"`
	AvgLatencyMs float64      `json:"avg_latency_ms"`
	Breaker      BreakerState `json:"breaker"`
}

// TypeCounters - счётчики по типу события
type TypeCounters struct {
	Published uint64 `json:"published"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
}

// Stats - снимок состояния шины
type Stats struct {
	Running     bool                    `json:"running"`
	QueueDepths map[string]int          `json:"queue_depths"`
	DLQDepth    int                     `json:"dlq_depth"`
	HistorySize int                     `json:"history_size"`
	Counters    map[string]TypeCounters `json:"counters"`
	Handlers    []HandlerStats          `json:"handlers"`
}

// Bus - шина событий с приоритетными очередями
//
// Четыре ограниченные FIFO очереди (LOW..CRITICAL), у каждой свой
// потребитель, поэтому заполненная LOW очередь не задерживает CRITICAL
// события. Недоставленные события попадают в dead letter queue.
//
// Гарантия доставки: at-least-once. Обработчики должны быть идемпотентны.
type Bus struct {
	cfg    Config
	logger *zap.Logger

	// Очереди по приоритетам, индекс = приоритет - 1
	lanes [4]chan *models.Event

	// Dead letter queue: при переполнении выбрасывается самое старое
	dlq   chan *DeadLetter
	dlqMu sync.Mutex

	// Реестр обработчиков
	regMu    sync.RWMutex
	byType   map[models.EventType][]*subscription
	wildcard []*subscription
	byID     map[string]*subscription
	seq      uint64

	// История для replay
	histMu  sync.Mutex
	history []*models.Event

	// Разобранные dead letters (для инспекции через API)
	dlMu        sync.Mutex
	deadLetters []*DeadLetter

	// Счётчики по типам событий
	statsMu  sync.Mutex
	counters map[models.EventType]*TypeCounters

	// Жизненный цикл
	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	pool    *WorkerPool

	// Отложенные повторные доставки
	timersMu sync.Mutex
	timers   map[*time.Timer]struct{}
}

// NewBus создает шину событий (без запуска потребителей)
func NewBus(cfg Config, logger *zap.Logger) *Bus {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		cfg:      cfg,
		logger:   logger.Named("eventbus"),
		dlq:      make(chan *DeadLetter, cfg.DLQSize),
		byType:   make(map[models.EventType][]*subscription),
		byID:     make(map[string]*subscription),
		counters: make(map[models.EventType]*TypeCounters),
		timers:   make(map[*time.Timer]struct{}),
	}
	for i := range b.lanes {
		b.lanes[i] = make(chan *models.Event, cfg.QueueSize)
	}
	return b
}

// ============ Подписки ============

// Subscribe регистрирует обработчик на конкретный тип события
//
// Возвращает ID подписки для последующей отписки.
func (b *Bus) Subscribe(eventType models.EventType, fn Handler, opts HandlerOptions) string {
	return b.register(eventType, false, fn, opts)
}

// SubscribeAll регистрирует обработчик на все типы событий
//
// Wildcard обработчики вызываются после типизированных.
func (b *Bus) SubscribeAll(fn Handler, opts HandlerOptions) string {
	return b.register("", true, fn, opts)
}

func (b *Bus) register(eventType models.EventType, wildcard bool, fn Handler, opts HandlerOptions) string {
	b.regMu.Lock()
	defer b.regMu.Unlock()

	b.seq++
	sub := &subscription{
		id:        uuid.NewString(),
		name:      opts.Name,
		eventType: eventType,
		wildcard:  wildcard,
		priority:  opts.Priority,
		seq:       b.seq,
		async:     opts.Async,
		fn:        fn,
		breaker:   NewCircuitBreaker(b.cfg.FailureThreshold, b.cfg.RecoveryTimeout),
	}
	if sub.name == "" {
		sub.name = sub.id
	}

	if wildcard {
		b.wildcard = insertSorted(b.wildcard, sub)
	} else {
		b.byType[eventType] = insertSorted(b.byType[eventType], sub)
	}
	b.byID[sub.id] = sub

	b.logger.Debug("обработчик зарегистрирован",
		zap.String("handler", sub.name),
		zap.String("event_type", string(eventType)),
		zap.Bool("wildcard", wildcard),
		zap.Int("priority", opts.Priority))

	return sub.id
}

// insertSorted вставляет подписку с сохранением порядка вызова:
// по убыванию приоритета, при равенстве - по порядку регистрации
func insertSorted(subs []*subscription, s *subscription) []*subscription {
	i := sort.Search(len(subs), func(i int) bool {
		return subs[i].priority < s.priority
	})
	subs = append(subs, nil)
	copy(subs[i+1:], subs[i:])
	subs[i] = s
	return subs
}

// Unsubscribe снимает подписку и сообщает, была ли она найдена.
// Повторный вызов с тем же ID безопасен и возвращает false.
func (b *Bus) Unsubscribe(id string) bool {
	b.regMu.Lock()
	defer b.regMu.Unlock()

	sub, ok := b.byID[id]
	if !ok {
		return false
	}
	delete(b.byID, id)

	if sub.wildcard {
		b.wildcard = removeSub(b.wildcard, id)
	} else {
		b.byType[sub.eventType] = removeSub(b.byType[sub.eventType], id)
	}
	return true
}

func removeSub(subs []*subscription, id string) []*subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

// ============ Публикация ============

// Publish ставит событие в очередь его приоритета
//
// При переполненной очереди событие уходит в DLQ и возвращается
// ErrQueueFull. Публиковать можно и до Start: события будут разобраны
// после запуска потребителей.
func (b *Bus) Publish(ev *models.Event) error {
	if ev == nil {
		return errors.New("nil event")
	}
	if !ev.Priority.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, int(ev.Priority))
	}

	b.recordHistory(ev)
	b.bumpCounter(ev.Type, func(c *TypeCounters) { c.Published++ })
	RecordPublished(string(ev.Type), ev.Priority.String())

	lane := b.lanes[ev.Priority-1]
	select {
	case lane <- ev:
		QueueDepth.WithLabelValues(ev.Priority.String()).Set(float64(len(lane)))
		return nil
	default:
		b.logger.Warn("очередь переполнена, событие в DLQ",
			zap.String("event_id", ev.ID),
			zap.String("type", string(ev.Type)),
			zap.String("priority", ev.Priority.String()))
		b.toDLQ(ev, ReasonQueueFull, nil)
		return ErrQueueFull
	}
}

// requeue возвращает событие в очередь при повторной доставке
// (без записи в историю и счётчик публикаций)
func (b *Bus) requeue(ev *models.Event) {
	lane := b.lanes[ev.Priority-1]
	select {
	case lane <- ev:
	default:
		b.toDLQ(ev, ReasonQueueFull, nil)
	}
}

// toDLQ помещает событие в dead letter queue, выбрасывая самое старое
// при переполнении
func (b *Bus) toDLQ(ev *models.Event, reason string, handlerErr error) {
	entry := &DeadLetter{
		Event:  ev,
		Reason: reason,
		At:     time.Now(),
	}
	if handlerErr != nil {
		entry.Error = handlerErr.Error()
	}

	b.dlqMu.Lock()
	defer b.dlqMu.Unlock()
	for {
		select {
		case b.dlq <- entry:
			RecordDeadLettered(string(ev.Type), reason)
			DLQDepth.Set(float64(len(b.dlq)))
			return
		default:
			select {
			case old := <-b.dlq:
				b.logger.Warn("DLQ переполнена, выброшено самое старое событие",
					zap.String("event_id", old.Event.ID),
					zap.String("type", string(old.Event.Type)))
			default:
			}
		}
	}
}

// ============ Жизненный цикл ============

// Start запускает потребителей очередей и worker pool
func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return ErrAlreadyRunning
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.pool = NewWorkerPool(b.cfg.Workers, b.cfg.Workers*2)

	for i := range b.lanes {
		b.wg.Add(1)
		go b.consumeLane(models.EventPriority(i + 1))
	}
	b.wg.Add(1)
	go b.consumeDLQ()
	b.wg.Add(1)
	go b.healthLoop()

	b.running = true
	b.logger.Info("шина событий запущена",
		zap.Int("queue_size", b.cfg.QueueSize),
		zap.Int("dlq_size", b.cfg.DLQSize),
		zap.Int("workers", b.cfg.Workers))
	return nil
}

// Stop останавливает потребителей
//
// Перед остановкой публикуется SystemShutdown, чтобы подписчики успели
// среагировать. Остановка кооперативная: текущие события дорабатываются,
// оставшиеся в очередях не разбираются до следующего Start.
func (b *Bus) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return ErrNotRunning
	}

	b.Publish(models.NewEvent(models.EventSystemShutdown, "event_bus",
		models.PriorityCritical, map[string]interface{}{
			"component": "event_bus",
		}))

	b.cancel()

	// Гасим отложенные повторные доставки
	b.timersMu.Lock()
	for t := range b.timers {
		t.Stop()
	}
	b.timers = make(map[*time.Timer]struct{})
	b.timersMu.Unlock()

	b.wg.Wait()
	b.pool.Stop()

	b.running = false
	b.logger.Info("шина событий остановлена")
	return nil
}

// Running сообщает, запущена ли шина
func (b *Bus) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// ============ Потребители ============

func (b *Bus) consumeLane(priority models.EventPriority) {
	defer b.wg.Done()
	lane := b.lanes[priority-1]
	for {
		select {
		case <-b.ctx.Done():
			return
		case ev := <-lane:
			QueueDepth.WithLabelValues(priority.String()).Set(float64(len(lane)))
			b.dispatch(ev)
		}
	}
}

func (b *Bus) consumeDLQ() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case entry := <-b.dlq:
			DLQDepth.Set(float64(len(b.dlq)))
			b.logger.Warn("событие в dead letter queue",
				zap.String("event_id", entry.Event.ID),
				zap.String("type", string(entry.Event.Type)),
				zap.String("reason", entry.Reason),
				zap.String("error", entry.Error))
			b.keepDeadLetter(entry)
		}
	}
}

// healthLoop периодически публикует HealthCheck со снимком состояния шины
func (b *Bus) healthLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			// Снимок собирается без Stats(): тот берет b.mu,
			// которую Stop держит на время ожидания wg
			depths := make(map[string]int, len(b.lanes))
			for i, lane := range b.lanes {
				depths[models.EventPriority(i+1).String()] = len(lane)
			}
			b.histMu.Lock()
			histSize := len(b.history)
			b.histMu.Unlock()

			b.Publish(models.NewEvent(models.EventHealthCheck, "event_bus",
				models.PriorityLow, map[string]interface{}{
					"queue_depths": depths,
					"dlq_depth":    len(b.dlq),
					"history_size": histSize,
				}))
		}
	}
}

func (b *Bus) keepDeadLetter(entry *DeadLetter) {
	b.dlMu.Lock()
	defer b.dlMu.Unlock()
	b.deadLetters = append(b.deadLetters, entry)
	if len(b.deadLetters) > b.cfg.DLQSize {
		b.deadLetters = b.deadLetters[len(b.deadLetters)-b.cfg.DLQSize:]
	}
}

// DeadLetters возвращает разобранные dead letters (новые в конце)
func (b *Bus) DeadLetters() []*DeadLetter {
	b.dlMu.Lock()
	defer b.dlMu.Unlock()
	out := make([]*DeadLetter, len(b.deadLetters))
	copy(out, b.deadLetters)
	return out
}

// ============ Доставка ============

// dispatch вызывает обработчики события в порядке приоритета:
// сначала типизированные, затем wildcard
//
// Ошибки обработчиков изолированы друг от друга: сбой одного подписчика
// учитывается его breaker'ом и не влияет ни на остальных, ни на судьбу
// события. На повторную доставку событие уходит только при сбое самого
// шага доставки (worker pool отверг задачу при остановке шины).
func (b *Bus) dispatch(ev *models.Event) {
	b.regMu.RLock()
	typed := make([]*subscription, len(b.byType[ev.Type]))
	copy(typed, b.byType[ev.Type])
	wild := make([]*subscription, len(b.wildcard))
	copy(wild, b.wildcard)
	b.regMu.RUnlock()

	subs := append(typed, wild...)

	var (
		dispatchErr error
		asyncWg     sync.WaitGroup
	)

	for _, sub := range subs {
		sub := sub
		if !sub.breaker.Allow() {
			b.logger.Debug("обработчик пропущен: breaker разомкнут",
				zap.String("handler", sub.name),
				zap.String("event_id", ev.ID))
			continue
		}
		if sub.async {
			asyncWg.Add(1)
			ok := b.pool.Submit(b.ctx, func() {
				defer asyncWg.Done()
				b.invokeIsolated(sub, ev)
			})
			if !ok {
				asyncWg.Done()
				if dispatchErr == nil {
					dispatchErr = fmt.Errorf("worker pool rejected handler %s", sub.name)
				}
			}
		} else {
			b.invokeIsolated(sub, ev)
		}
	}
	asyncWg.Wait()

	if dispatchErr == nil {
		b.bumpCounter(ev.Type, func(c *TypeCounters) { c.Processed++ })
		RecordProcessed(string(ev.Type))
		return
	}

	b.bumpCounter(ev.Type, func(c *TypeCounters) { c.Failed++ })
	RecordFailed(string(ev.Type))
	b.retryOrDeadLetter(ev, dispatchErr)
}

// invokeIsolated вызывает обработчик, не выпуская его ошибку наружу:
// сбой фиксируется в breaker'е и метриках внутри invoke
func (b *Bus) invokeIsolated(sub *subscription, ev *models.Event) {
	if err := b.invoke(sub, ev); err != nil {
		b.logger.Warn("ошибка обработчика",
			zap.String("handler", sub.name),
			zap.String("event_id", ev.ID),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
	}
}

// retryOrDeadLetter планирует повторную доставку события после сбоя
// шага доставки; при исчерпании попыток событие уходит в DLQ
func (b *Bus) retryOrDeadLetter(ev *models.Event, cause error) {
	if ev.RetryCount >= ev.MaxRetries {
		b.toDLQ(ev, ReasonRetriesExhausted, cause)
		return
	}

	// Экспоненциальная задержка: 2^retry_count секунд после инкремента
	ev.RetryCount++
	delay := time.Duration(1<<uint(ev.RetryCount)) * time.Second
	b.logger.Warn("сбой доставки, событие будет доставлено повторно",
		zap.String("event_id", ev.ID),
		zap.String("type", string(ev.Type)),
		zap.Int("retry", ev.RetryCount),
		zap.Duration("delay", delay),
		zap.Error(cause))
	b.scheduleRetry(ev, delay)
}

func (b *Bus) scheduleRetry(ev *models.Event, delay time.Duration) {
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		b.timersMu.Lock()
		delete(b.timers, t)
		b.timersMu.Unlock()

		select {
		case <-b.ctx.Done():
		default:
			b.requeue(ev)
		}
	})
	b.timersMu.Lock()
	b.timers[t] = struct{}{}
	b.timersMu.Unlock()
}

// invoke вызывает один обработчик с защитой от паники и учётом метрик
func (b *Bus) invoke(sub *subscription, ev *models.Event) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", sub.name, r)
		}
		elapsed := time.Since(start)
		atomic.AddUint64(&sub.calls, 1)
		atomic.AddUint64(&sub.totalMicros, uint64(elapsed.Microseconds()))
		RecordHandlerLatency(sub.name, float64(elapsed.Microseconds())/1000.0)

		if err != nil {
			atomic.AddUint64(&sub.errs, 1)
			sub.breaker.RecordFailure()
			if sub.breaker.State() == BreakerOpen {
				b.logger.Error("breaker обработчика разомкнут",
					zap.String("handler", sub.name),
					zap.Error(err))
			}
		} else {
			sub.breaker.RecordSuccess()
		}
	}()

	return sub.fn(b.ctx, ev)
}

// ============ История и replay ============

func (b *Bus) recordHistory(ev *models.Event) {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	b.history = append(b.history, ev)
	if len(b.history) > b.cfg.HistorySize {
		b.history = b.history[len(b.history)-b.cfg.HistorySize:]
	}
}

// History возвращает снимок истории публикаций (новые в конце)
func (b *Bus) History() []*models.Event {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	out := make([]*models.Event, len(b.history))
	copy(out, b.history)
	return out
}

// Replay повторно публикует события из истории
//
// Каждое событие публикуется копией со свежим ID и временем. Пустой
// список типов означает "все". Возвращает число опубликованных событий.
func (b *Bus) Replay(types ...models.EventType) int {
	want := make(map[models.EventType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}

	count := 0
	for _, ev := range b.History() {
		if len(want) > 0 && !want[ev.Type] {
			continue
		}
		if err := b.Publish(ev.Copy()); err == nil {
			count++
		}
	}
	return count
}

// ============ Статистика ============

func (b *Bus) bumpCounter(t models.EventType, f func(*TypeCounters)) {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	c, ok := b.counters[t]
	if !ok {
		c = &TypeCounters{}
		b.counters[t] = c
	}
	f(c)
}

// Stats возвращает снимок состояния шины
func (b *Bus) Stats() Stats {
	s := Stats{
		Running:     b.Running(),
		QueueDepths: make(map[string]int, 4),
		DLQDepth:    len(b.dlq),
		Counters:    make(map[string]TypeCounters),
	}

	for i, lane := range b.lanes {
		s.QueueDepths[models.EventPriority(i+1).String()] = len(lane)
	}

	b.histMu.Lock()
	s.HistorySize = len(b.history)
	b.histMu.Unlock()

	b.statsMu.Lock()
	for t, c := range b.counters {
		s.Counters[string(t)] = *c
	}
	b.statsMu.Unlock()

	b.regMu.RLock()
	for _, sub := range b.byID {
		calls := atomic.LoadUint64(&sub.calls)
		micros := atomic.LoadUint64(&sub.totalMicros)
		hs := HandlerStats{
			ID:        sub.id,
			Name:      sub.name,
			EventType: string(sub.eventType),
			Calls:     calls,
			Errors:    atomic.LoadUint64(&sub.errs),
			Breaker:   sub.breaker.State(),
		}
		if sub.wildcard {
			hs.EventType = "*"
		}
		if calls > 0 {
			hs.AvgLatencyMs = float64(micros) / float64(calls) / 1000.0
		}
		s.Handlers = append(s.Handlers, hs)
	}
	b.regMu.RUnlock()

	sort.Slice(s.Handlers, func(i, j int) bool { return s.Handlers[i].Name < s.Handlers[j].Name })
	return s
}
