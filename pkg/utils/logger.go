package utils

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig - конфигурация логирования
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal
	Format      string // json или text
	Output      string // путь к файлу; пусто = stderr
	Development bool   // режим разработки (caller, stacktrace на warn)
}

// Logger оборачивает zap.Logger вместе с sugar-вариантом
//
// Структурированные вызовы идут через встроенный zap.Logger,
// форматированные (Infof и т.д.) - через sugar.
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

// parseLevel переводит строковый уровень в zapcore.Level
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitLogger создает и настраивает logger
//
// При недоступном файле вывода делает fallback на stderr вместо паники.
func InitLogger(cfg LogConfig) *Logger {
	var encoderCfg zapcore.EncoderConfig
	if cfg.Development {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderCfg = zap.NewProductionEncoderConfig()
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "text" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	sink := zapcore.AddSync(os.Stderr)
	if cfg.Output != "" {
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			sink = zapcore.AddSync(file)
		}
	}

	core := zapcore.NewCore(encoder, sink, parseLevel(cfg.Level))

	opts := []zap.Option{}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddCaller())
	}

	zl := zap.New(core, opts...)
	return &Logger{
		Logger: zl,
		sugar:  zl.Sugar(),
	}
}

// With возвращает новый логгер с добавленными полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	zl := l.Logger.With(fields...)
	return &Logger{
		Logger: zl,
		sugar:  zl.Sugar(),
	}
}

// Sugar возвращает sugar-вариант логгера
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// ============ Доменные помощники ============

// WithComponent возвращает логгер с полем component
func (l *Logger) WithComponent(component string) *Logger {
	return l.With(Component(component))
}

// WithExchange возвращает логгер с полем exchange
func (l *Logger) WithExchange(exchange string) *Logger {
	return l.With(Exchange(exchange))
}

// WithSymbol возвращает логгер с полем symbol
func (l *Logger) WithSymbol(symbol string) *Logger {
	return l.With(Symbol(symbol))
}

// WithStrategy возвращает логгер с полем strategy
func (l *Logger) WithStrategy(strategy string) *Logger {
	return l.With(Strategy(strategy))
}

// ============ Глобальный логгер ============

var (
	globalMu     sync.Mutex
	globalLogger *Logger
)

// GetGlobalLogger возвращает глобальный логгер, создавая его при
// первом обращении с настройками по умолчанию
func GetGlobalLogger() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{})
	}
	return globalLogger
}

// L - короткий алиас для GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// InitGlobalLogger инициализирует глобальный логгер из конфигурации
func InitGlobalLogger(cfg LogConfig) *Logger {
	logger := InitLogger(cfg)
	SetGlobalLogger(logger)
	return logger
}

// SetGlobalLogger устанавливает глобальный логгер
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// Глобальные функции логирования

func Debug(msg string, fields ...zap.Field) { GetGlobalLogger().Logger.Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { GetGlobalLogger().Logger.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { GetGlobalLogger().Logger.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { GetGlobalLogger().Logger.Error(msg, fields...) }

func Debugf(template string, args ...interface{}) { GetGlobalLogger().sugar.Debugf(template, args...) }
func Infof(template string, args ...interface{})  { GetGlobalLogger().sugar.Infof(template, args...) }
func Warnf(template string, args ...interface{})  { GetGlobalLogger().sugar.Warnf(template, args...) }
func Errorf(template string, args ...interface{}) { GetGlobalLogger().sugar.Errorf(template, args...) }

// ============ Конструкторы полей ============

// Доменные поля с фиксированными ключами, чтобы логи оставались
// консистентными по всему коду

func Exchange(name string) zap.Field     { return zap.String("exchange", name) }
func Symbol(symbol string) zap.Field     { return zap.String("symbol", symbol) }
func Strategy(strategy string) zap.Field { return zap.String("strategy", strategy) }
func OrderID(id string) zap.Field        { return zap.String("order_id", id) }
func PositionID(id string) zap.Field     { return zap.String("position_id", id) }
func Price(price float64) zap.Field      { return zap.Float64("price", price) }
func Quantity(qty float64) zap.Field     { return zap.Float64("quantity", qty) }
func PNL(pnl float64) zap.Field          { return zap.Float64("pnl", pnl) }
func Side(side string) zap.Field         { return zap.String("side", side) }
func State(state string) zap.Field       { return zap.String("state", state) }
func Latency(ms float64) zap.Field       { return zap.Float64("latency_ms", ms) }
func RequestID(id string) zap.Field      { return zap.String("request_id", id) }
func Component(name string) zap.Field    { return zap.String("component", name) }

// Переэкспорт стандартных конструкторов zap

func String(key, value string) zap.Field          { return zap.String(key, value) }
func Int(key string, value int) zap.Field         { return zap.Int(key, value) }
func Int64(key string, value int64) zap.Field     { return zap.Int64(key, value) }
func Float64(key string, value float64) zap.Field { return zap.Float64(key, value) }
func Bool(key string, value bool) zap.Field       { return zap.Bool(key, value) }
func Err(err error) zap.Field                     { return zap.Error(err) }
func Any(key string, value interface{}) zap.Field { return zap.Any(key, value) }

// fieldsToInterface разворачивает zap поля в плоский список key/value
// для sugar-логгера
func fieldsToInterface(fields []zap.Field) []interface{} {
	args := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		args = append(args, f.Key)
		switch {
		case f.Interface != nil:
			args = append(args, f.Interface)
		case f.String != "":
			args = append(args, f.String)
		default:
			args = append(args, f.Integer)
		}
	}
	return args
}
