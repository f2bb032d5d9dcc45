package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Bot      BotConfig
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
type SecurityConfig struct {
	// EncryptionKey - 32 байта для AES-256, шифрование API ключей пользователей
	EncryptionKey string
	// AdminPasswordHash - bcrypt хеш пароля администратора для API
	AdminPasswordHash string
	AdminUsername     string
}

// BotConfig - настройки торгового ядра
type BotConfig struct {
	// Polling торговый цикл
	PollInterval time.Duration // пауза между итерациями цикла пользователя
	ErrorBackoff time.Duration // увеличенная пауза после ошибки итерации

	// Debounce пересоздания пары после исполнения продажи
	DebounceQuietPeriod time.Duration

	// Таймаут захвата пользовательского lock'а на создание пары
	PairLockTimeout time.Duration

	// Таймаут одного вызова биржи
	OrderTimeout time.Duration

	// Допуски сверки
	FinalizeDeviationPct float64       // относительное отклонение remote/local, доли (0.01 = 1%)
	BackfillMaxAge       time.Duration // окно поиска существующей продажи от времени покупки
	BackfillQtyTolerance float64       // допуск объёма при сопоставлении, доли
	BackfillPriceTolerance float64     // абсолютный допуск цены при сопоставлении

	// WebSocket user-data stream
	WSReconnectDelay   time.Duration // задержка перед переподключением WS
	WSReadTimeout      time.Duration // таймаут чтения WS сообщений
	ListenKeyKeepalive time.Duration // период продления listen key
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

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
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "dcabot"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			EncryptionKey:     getEnv("ENCRYPTION_KEY", ""),
			AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
			AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		},
		Bot: BotConfig{
			PollInterval: getEnvAsDuration("POLL_INTERVAL", 10*time.Second),
			ErrorBackoff: getEnvAsDuration("ERROR_BACKOFF", 60*time.Second),

			DebounceQuietPeriod: getEnvAsDuration("DEBOUNCE_QUIET_PERIOD", 30*time.Second),
			PairLockTimeout:     getEnvAsDuration("PAIR_LOCK_TIMEOUT", 5*time.Second),
			OrderTimeout:        getEnvAsDuration("ORDER_TIMEOUT", 10*time.Second),

			FinalizeDeviationPct:   getEnvAsFloat("FINALIZE_DEVIATION_PCT", 0.01),
			BackfillMaxAge:         getEnvAsDuration("BACKFILL_MAX_AGE", 30*time.Minute),
			BackfillQtyTolerance:   getEnvAsFloat("BACKFILL_QTY_TOLERANCE", 0.01),
			BackfillPriceTolerance: getEnvAsFloat("BACKFILL_PRICE_TOLERANCE", 0.005),

			WSReconnectDelay:   getEnvAsDuration("WS_RECONNECT_DELAY", 2*time.Second),
			WSReadTimeout:      getEnvAsDuration("WS_READ_TIMEOUT", 60*time.Second),
			ListenKeyKeepalive: getEnvAsDuration("LISTEN_KEY_KEEPALIVE", 30*time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY обязателен для шифрования API ключей пользователей
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for encrypting user API keys")
	}

	if len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Bot.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %v", c.Bot.PollInterval)
	}

	if c.Bot.ErrorBackoff < c.Bot.PollInterval {
		return fmt.Errorf("ERROR_BACKOFF must not be shorter than POLL_INTERVAL, got %v", c.Bot.ErrorBackoff)
	}

	if c.Bot.DebounceQuietPeriod <= 0 {
		return fmt.Errorf("DEBOUNCE_QUIET_PERIOD must be positive, got %v", c.Bot.DebounceQuietPeriod)
	}

	if c.Bot.PairLockTimeout <= 0 {
		return fmt.Errorf("PAIR_LOCK_TIMEOUT must be positive, got %v", c.Bot.PairLockTimeout)
	}

	if c.Bot.OrderTimeout <= 0 {
		return fmt.Errorf("ORDER_TIMEOUT must be positive, got %v", c.Bot.OrderTimeout)
	}

	if c.Bot.FinalizeDeviationPct <= 0 || c.Bot.FinalizeDeviationPct >= 1 {
		return fmt.Errorf("FINALIZE_DEVIATION_PCT must be in (0, 1), got %v", c.Bot.FinalizeDeviationPct)
	}

	if c.Bot.BackfillQtyTolerance <= 0 || c.Bot.BackfillQtyTolerance >= 1 {
		return fmt.Errorf("BACKFILL_QTY_TOLERANCE must be in (0, 1), got %v", c.Bot.BackfillQtyTolerance)
	}

	if c.Bot.BackfillPriceTolerance <= 0 {
		return fmt.Errorf("BACKFILL_PRICE_TOLERANCE must be positive, got %v", c.Bot.BackfillPriceTolerance)
	}

	return nil
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
