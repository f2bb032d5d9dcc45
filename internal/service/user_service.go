package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"dcabot/internal/models"
	"dcabot/pkg/crypto"
)

// ErrInvalidUserInput - входные данные пользователя не прошли проверку
var ErrInvalidUserInput = errors.New("invalid user settings")

// CreateUserInput - данные регистрации пользователя.
// API ключи приходят открытым текстом и шифруются до записи в БД.
type CreateUserInput struct {
	ChatID    int64  `json:"chat_id"`
	Symbol    string `json:"symbol"`
	Base      string `json:"base"`
	Quote     string `json:"quote"`
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`

	SizingMode  models.SizingMode `json:"sizing_mode"`
	FixedAmount float64           `json:"fixed_amount"`
	Coefficient float64           `json:"coefficient"`
	Precision   int               `json:"precision"`
	MaxUsing    float64           `json:"max_using"`

	PercentProfit      float64 `json:"percent_profit"`
	PercentPriceChange float64 `json:"percent_price_change"`

	IsAutoTradeEnabled bool `json:"is_auto_trade_enabled"`
}

// UpdateUserInput - изменяемые поля настроек. Nil-поле не меняется.
// Новые API ключи (если заданы) шифруются заново.
type UpdateUserInput struct {
	APIKey    *string `json:"api_key,omitempty"`
	SecretKey *string `json:"secret_key,omitempty"`

	SizingMode  *models.SizingMode `json:"sizing_mode,omitempty"`
	FixedAmount *float64           `json:"fixed_amount,omitempty"`
	Coefficient *float64           `json:"coefficient,omitempty"`
	Precision   *int               `json:"precision,omitempty"`
	MaxUsing    *float64           `json:"max_using,omitempty"`

	PercentProfit      *float64 `json:"percent_profit,omitempty"`
	PercentPriceChange *float64 `json:"percent_price_change,omitempty"`
}

// UserService - управление пользователями: валидация, шифрование
// учётных данных и синхронизация с торговым ядром.
//
// API ключи хранятся только зашифрованными (AES-256-GCM); открытый
// текст существует в памяти между запросом и записью в БД.
type UserService struct {
	users         UserStore
	bot           BotController
	encryptionKey []byte
	log           *zap.Logger
}

// NewUserService создает сервис пользователей.
// bot может быть nil (миграции, CLI-утилиты).
func NewUserService(users UserStore, bot BotController, encryptionKey []byte, log *zap.Logger) *UserService {
	return &UserService{
		users:         users,
		bot:           bot,
		encryptionKey: encryptionKey,
		log:           log,
	}
}

// Create регистрирует пользователя и, если автоторговля включена,
// запускает его в ядре
func (s *UserService) Create(ctx context.Context, input *CreateUserInput) (*models.UserSettings, error) {
	if err := s.validateCreate(input); err != nil {
		return nil, err
	}

	encKey, err := crypto.Encrypt(input.APIKey, s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt api key: %w", err)
	}
	encSecret, err := crypto.Encrypt(input.SecretKey, s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt secret key: %w", err)
	}

	user := &models.UserSettings{
		ChatID:    input.ChatID,
		Symbol:    strings.ToUpper(strings.TrimSpace(input.Symbol)),
		Base:      strings.ToUpper(strings.TrimSpace(input.Base)),
		Quote:     strings.ToUpper(strings.TrimSpace(input.Quote)),
		APIKey:    encKey,
		SecretKey: encSecret,

		SizingMode:  input.SizingMode,
		FixedAmount: input.FixedAmount,
		Coefficient: input.Coefficient,
		Precision:   input.Precision,
		MaxUsing:    input.MaxUsing,

		PercentProfit:      input.PercentProfit,
		PercentPriceChange: input.PercentPriceChange,

		IsAutoTradeEnabled: input.IsAutoTradeEnabled,
	}

	if err := s.users.Create(user); err != nil {
		return nil, err
	}

	if user.IsAutoTradeEnabled && s.bot != nil {
		if err := s.bot.StartUser(ctx, user.ID); err != nil {
			s.log.Error("failed to start new user",
				zap.Int64("user_id", user.ID), zap.Error(err))
		}
	}

	s.log.Info("user created",
		zap.Int64("user_id", user.ID),
		zap.String("symbol", user.Symbol))
	return user, nil
}

// Get возвращает настройки пользователя
func (s *UserService) Get(id int64) (*models.UserSettings, error) {
	return s.users.GetByID(id)
}

// List возвращает всех пользователей
func (s *UserService) List() ([]*models.UserSettings, error) {
	return s.users.GetAll()
}

// Update изменяет настройки пользователя. Работающему пользователю
// изменения подхватываются торговым циклом на следующей итерации.
func (s *UserService) Update(id int64, input *UpdateUserInput) (*models.UserSettings, error) {
	user, err := s.users.GetByID(id)
	if err != nil {
		return nil, err
	}

	if input.APIKey != nil {
		enc, err := crypto.Encrypt(*input.APIKey, s.encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("encrypt api key: %w", err)
		}
		user.APIKey = enc
	}
	if input.SecretKey != nil {
		enc, err := crypto.Encrypt(*input.SecretKey, s.encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("encrypt secret key: %w", err)
		}
		user.SecretKey = enc
	}

	if input.SizingMode != nil {
		user.SizingMode = *input.SizingMode
	}
	if input.FixedAmount != nil {
		user.FixedAmount = *input.FixedAmount
	}
	if input.Coefficient != nil {
		user.Coefficient = *input.Coefficient
	}
	if input.Precision != nil {
		user.Precision = *input.Precision
	}
	if input.MaxUsing != nil {
		user.MaxUsing = *input.MaxUsing
	}
	if input.PercentProfit != nil {
		user.PercentProfit = *input.PercentProfit
	}
	if input.PercentPriceChange != nil {
		user.PercentPriceChange = *input.PercentPriceChange
	}

	if err := s.validateSettings(user); err != nil {
		return nil, err
	}

	if err := s.users.Update(user); err != nil {
		return nil, err
	}

	// ключи поменялись - биржевой клиент пересоздаётся перезапуском
	if (input.APIKey != nil || input.SecretKey != nil) && s.bot != nil && s.bot.IsUserRunning(id) {
		s.bot.StopUser(id)
		if err := s.bot.StartUser(context.Background(), id); err != nil {
			s.log.Error("failed to restart user after key rotation",
				zap.Int64("user_id", id), zap.Error(err))
		}
	}

	return user, nil
}

// SetAutoTrade включает или выключает автоторговлю и синхронизирует
// состояние ядра
func (s *UserService) SetAutoTrade(ctx context.Context, id int64, enabled bool) error {
	if err := s.users.SetAutoTrade(id, enabled); err != nil {
		return err
	}

	if s.bot == nil {
		return nil
	}

	if enabled {
		if err := s.bot.StartUser(ctx, id); err != nil {
			return fmt.Errorf("start user: %w", err)
		}
	} else {
		s.bot.StopUser(id)
	}

	s.log.Info("auto trade toggled",
		zap.Int64("user_id", id), zap.Bool("enabled", enabled))
	return nil
}

// Delete останавливает пользователя в ядре и удаляет его настройки
func (s *UserService) Delete(id int64) error {
	if s.bot != nil {
		s.bot.StopUser(id)
	}
	return s.users.Delete(id)
}

// IsRunning сообщает, запущен ли пользователь в ядре
func (s *UserService) IsRunning(id int64) bool {
	return s.bot != nil && s.bot.IsUserRunning(id)
}

func (s *UserService) validateCreate(input *CreateUserInput) error {
	if strings.TrimSpace(input.Symbol) == "" || strings.TrimSpace(input.Base) == "" || strings.TrimSpace(input.Quote) == "" {
		return fmt.Errorf("%w: symbol, base and quote are required", ErrInvalidUserInput)
	}
	if input.APIKey == "" || input.SecretKey == "" {
		return fmt.Errorf("%w: api key and secret key are required", ErrInvalidUserInput)
	}

	check := &models.UserSettings{
		SizingMode:         input.SizingMode,
		FixedAmount:        input.FixedAmount,
		Coefficient:        input.Coefficient,
		Precision:          input.Precision,
		MaxUsing:           input.MaxUsing,
		PercentProfit:      input.PercentProfit,
		PercentPriceChange: input.PercentPriceChange,
	}
	return s.validateSettings(check)
}

func (s *UserService) validateSettings(user *models.UserSettings) error {
	switch user.SizingMode {
	case models.SizingFixed, "":
		if user.FixedAmount <= 0 {
			return fmt.Errorf("%w: fixed_amount must be positive", ErrInvalidUserInput)
		}
	case models.SizingDynamic:
		if user.Coefficient <= 0 {
			return fmt.Errorf("%w: coefficient must be positive", ErrInvalidUserInput)
		}
		if user.MaxUsing < 1 {
			return fmt.Errorf("%w: max_using must be at least 1", ErrInvalidUserInput)
		}
		if user.Precision < 0 || user.Precision > 8 {
			return fmt.Errorf("%w: precision must be in [0, 8]", ErrInvalidUserInput)
		}
	default:
		return fmt.Errorf("%w: unknown sizing mode %q", ErrInvalidUserInput, user.SizingMode)
	}

	if user.PercentProfit <= 0 {
		return fmt.Errorf("%w: percent_profit must be positive", ErrInvalidUserInput)
	}
	if user.PercentPriceChange <= 0 {
		return fmt.Errorf("%w: percent_price_change must be positive", ErrInvalidUserInput)
	}

	return nil
}
