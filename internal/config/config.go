package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"tradebot/pkg/crypto"
	"tradebot/pkg/utils"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Engine   EngineConfig
	Risk     RiskConfig
	Bus      BusConfig
	Journal  JournalConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к БД
//
// Пустой Host отключает персистентность: бот работает без журналов
// ордеров, позиций и уведомлений.
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
//
// API ключи биржи хранятся в окружении в зашифрованном виде (AES-256-GCM,
// base64) и расшифровываются ключом EncryptionKey только в live режиме.
type SecurityConfig struct {
	EncryptionKey     string
	ExchangeAPIKeyEnc string
	ExchangeSecretEnc string
	AdminTokenHash    string // bcrypt-хеш токена для управляющих эндпоинтов; пусто - авторизация выключена
}

// EngineConfig - настройки торгового движка
type EngineConfig struct {
	Mode            string  // paper или live
	RiskPerTrade    float64 // доля портфеля, рискуемая в сделке
	InitialBalance  float64 // стартовая стоимость портфеля (paper)
	StopDistancePct float64 // оценка дистанции стопа для сайзинга
	PaperFillDelay  time.Duration
}

// RiskConfig - лимиты риск-менеджера
type RiskConfig struct {
	MaxPositionSize      float64
	MaxDailyLoss         float64
	MaxDrawdown          float64
	MaxOpenPositions     int
	MaxCorrelation       float64
	MaxConsecutiveLosses int
	CoolingOffPeriod     time.Duration
}

// BusConfig - настройки шины событий
type BusConfig struct {
	QueueSize        int
	DLQSize          int
	HistorySize      int
	Workers          int
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// JournalConfig - настройки журнала событий в БД
type JournalConfig struct {
	Retention       time.Duration // сколько хранить события
	CleanupInterval time.Duration // как часто чистить
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Режимы работы движка
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "tradebot"),
			User:     getEnv("DB_USER", "tradebot"),
			Password: getEnv("DB_PASSWORD", ""),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			EncryptionKey:     getEnv("ENCRYPTION_KEY", ""),
			ExchangeAPIKeyEnc: getEnv("EXCHANGE_API_KEY_ENC", ""),
			ExchangeSecretEnc: getEnv("EXCHANGE_SECRET_ENC", ""),
			AdminTokenHash:    getEnv("ADMIN_TOKEN_HASH", ""),
		},
		Engine: EngineConfig{
			Mode:            getEnv("ENGINE_MODE", ModePaper),
			RiskPerTrade:    getEnvAsFloat("RISK_PER_TRADE", 0.02),
			InitialBalance:  getEnvAsFloat("INITIAL_BALANCE", 10000),
			StopDistancePct: getEnvAsFloat("STOP_DISTANCE_PCT", 0.03),
			PaperFillDelay:  getEnvAsDuration("PAPER_FILL_DELAY", 100*time.Millisecond),
		},
		Risk: RiskConfig{
			MaxPositionSize:      getEnvAsFloat("MAX_POSITION_SIZE", 0.10),
			MaxDailyLoss:         getEnvAsFloat("MAX_DAILY_LOSS", 0.05),
			MaxDrawdown:          getEnvAsFloat("MAX_DRAWDOWN", 0.15),
			MaxOpenPositions:     getEnvAsInt("MAX_OPEN_POSITIONS", 10),
			MaxCorrelation:       getEnvAsFloat("MAX_CORRELATION", 0.30),
			MaxConsecutiveLosses: getEnvAsInt("MAX_CONSECUTIVE_LOSSES", 5),
			CoolingOffPeriod:     getEnvAsDuration("COOLING_OFF_PERIOD", 24*time.Hour),
		},
		Bus: BusConfig{
			QueueSize:        getEnvAsInt("BUS_QUEUE_SIZE", 10000),
			DLQSize:          getEnvAsInt("BUS_DLQ_SIZE", 1000),
			HistorySize:      getEnvAsInt("BUS_HISTORY_SIZE", 1000),
			Workers:          getEnvAsInt("BUS_WORKERS", 8),
			FailureThreshold: getEnvAsInt("BUS_FAILURE_THRESHOLD", 5),
			RecoveryTimeout:  getEnvAsDuration("BUS_RECOVERY_TIMEOUT", 60*time.Second),
		},
		Journal: JournalConfig{
			Retention:       getEnvAsDuration("JOURNAL_RETENTION", 7*24*time.Hour),
			CleanupInterval: getEnvAsDuration("JOURNAL_CLEANUP_INTERVAL", time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate проверяет критичные параметры конфигурации
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Engine.Mode != ModePaper && c.Engine.Mode != ModeLive {
		return fmt.Errorf("ENGINE_MODE must be %q or %q, got %q", ModePaper, ModeLive, c.Engine.Mode)
	}
	if c.Engine.RiskPerTrade <= 0 || c.Engine.RiskPerTrade > 1 {
		return fmt.Errorf("RISK_PER_TRADE must be in (0, 1], got %v", c.Engine.RiskPerTrade)
	}
	if c.Engine.InitialBalance <= 0 {
		return fmt.Errorf("INITIAL_BALANCE must be positive, got %v", c.Engine.InitialBalance)
	}
	if c.Engine.StopDistancePct <= 0 || c.Engine.StopDistancePct >= 1 {
		return fmt.Errorf("STOP_DISTANCE_PCT must be in (0, 1), got %v", c.Engine.StopDistancePct)
	}

	if c.Risk.MaxDailyLoss <= 0 || c.Risk.MaxDailyLoss > 1 {
		return fmt.Errorf("MAX_DAILY_LOSS must be in (0, 1], got %v", c.Risk.MaxDailyLoss)
	}
	if c.Risk.MaxDrawdown <= 0 || c.Risk.MaxDrawdown > 1 {
		return fmt.Errorf("MAX_DRAWDOWN must be in (0, 1], got %v", c.Risk.MaxDrawdown)
	}
	if c.Risk.MaxOpenPositions < 0 {
		return fmt.Errorf("MAX_OPEN_POSITIONS cannot be negative, got %d", c.Risk.MaxOpenPositions)
	}

	if c.Bus.QueueSize < 1 {
		return fmt.Errorf("BUS_QUEUE_SIZE must be positive, got %d", c.Bus.QueueSize)
	}
	if c.Bus.Workers < 1 {
		return fmt.Errorf("BUS_WORKERS must be positive, got %d", c.Bus.Workers)
	}

	// Шифрование учетных данных требуется только в live режиме
	if c.Engine.Mode == ModeLive {
		if c.Security.EncryptionKey == "" {
			return fmt.Errorf("ENCRYPTION_KEY is required in live mode")
		}
		if len(c.Security.EncryptionKey) != 32 {
			return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
		}
		if c.Security.ExchangeAPIKeyEnc == "" || c.Security.ExchangeSecretEnc == "" {
			return fmt.Errorf("EXCHANGE_API_KEY_ENC and EXCHANGE_SECRET_ENC are required in live mode")
		}
	}

	return nil
}

// ExchangeCredentials расшифровывает API ключи биржи
//
// Используется только в live режиме: ключи хранятся в окружении
// зашифрованными, в память попадают только на время работы процесса.
func (s SecurityConfig) ExchangeCredentials() (apiKey, secret string, err error) {
	apiKey, err = crypto.DecryptWithKeyString(s.ExchangeAPIKeyEnc, s.EncryptionKey)
	if err != nil {
		return "", "", fmt.Errorf("decrypt exchange api key: %w", err)
	}
	secret, err = crypto.DecryptWithKeyString(s.ExchangeSecretEnc, s.EncryptionKey)
	if err != nil {
		return "", "", fmt.Errorf("decrypt exchange secret: %w", err)
	}
	if err := utils.ValidateAPIKey(apiKey); err != nil {
		return "", "", fmt.Errorf("exchange api key: %w", err)
	}
	if err := utils.ValidateAPISecret(secret); err != nil {
		return "", "", fmt.Errorf("exchange secret: %w", err)
	}
	return apiKey, secret, nil
}

// Enabled сообщает, сконфигурирована ли база данных
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
