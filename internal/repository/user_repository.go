package repository

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"dcabot/internal/models"
)

// Ошибки репозитория пользователей
var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

const userColumns = `
	id, chat_id, symbol, base, quote, api_key, secret_key,
	sizing_mode, fixed_amount, coefficient, precision, max_using,
	percent_profit, percent_price_change, last_dca_buy_price,
	is_auto_trade_enabled, created_at, updated_at`

// UserRepository - работа с таблицей users: торговые настройки и
// зашифрованные учётные данные пользователей
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository создает новый экземпляр репозитория
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create создает нового пользователя
func (r *UserRepository) Create(user *models.UserSettings) error {
	query := `
		INSERT INTO users (
			chat_id, symbol, base, quote, api_key, secret_key,
			sizing_mode, fixed_amount, coefficient, precision, max_using,
			percent_profit, percent_price_change, last_dca_buy_price,
			is_auto_trade_enabled, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id`

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	if user.SizingMode == "" {
		user.SizingMode = models.SizingFixed
	}

	err := r.db.QueryRow(
		query,
		user.ChatID,
		user.Symbol,
		user.Base,
		user.Quote,
		user.APIKey,
		user.SecretKey,
		user.SizingMode,
		user.FixedAmount,
		user.Coefficient,
		user.Precision,
		user.MaxUsing,
		user.PercentProfit,
		user.PercentPriceChange,
		user.LastDcaBuyPrice,
		user.IsAutoTradeEnabled,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID)

	if err != nil {
		if isUserUniqueViolation(err) {
			return ErrUserExists
		}
		return err
	}

	return nil
}

// GetByID возвращает пользователя по ID
func (r *UserRepository) GetByID(id int64) (*models.UserSettings, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	return r.scanUser(r.db.QueryRow(query, id))
}

// GetAll возвращает всех пользователей
func (r *UserRepository) GetAll() ([]*models.UserSettings, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY id`

	return r.queryUsers(query)
}

// GetAutoTradeEnabled возвращает пользователей с включённой
// автоторговлей - для них запускаются торговые циклы
func (r *UserRepository) GetAutoTradeEnabled() ([]*models.UserSettings, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE is_auto_trade_enabled = TRUE ORDER BY id`

	return r.queryUsers(query)
}

// Update обновляет настройки пользователя
func (r *UserRepository) Update(user *models.UserSettings) error {
	query := `
		UPDATE users SET
			chat_id = $1, symbol = $2, base = $3, quote = $4,
			api_key = $5, secret_key = $6,
			sizing_mode = $7, fixed_amount = $8, coefficient = $9,
			precision = $10, max_using = $11,
			percent_profit = $12, percent_price_change = $13,
			last_dca_buy_price = $14, is_auto_trade_enabled = $15,
			updated_at = $16
		WHERE id = $17`

	user.UpdatedAt = time.Now()

	result, err := r.db.Exec(
		query,
		user.ChatID,
		user.Symbol,
		user.Base,
		user.Quote,
		user.APIKey,
		user.SecretKey,
		user.SizingMode,
		user.FixedAmount,
		user.Coefficient,
		user.Precision,
		user.MaxUsing,
		user.PercentProfit,
		user.PercentPriceChange,
		user.LastDcaBuyPrice,
		user.IsAutoTradeEnabled,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return err
	}

	return checkAffected(result)
}

// UpdateLastDcaBuyPrice записывает цену последней исполненной покупки.
// Единственное поле настроек, которое пишет торговое ядро.
func (r *UserRepository) UpdateLastDcaBuyPrice(id int64, price float64) error {
	query := `UPDATE users SET last_dca_buy_price = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.Exec(query, price, time.Now(), id)
	if err != nil {
		return err
	}

	return checkAffected(result)
}

// SetAutoTrade включает/выключает автоторговлю пользователя
func (r *UserRepository) SetAutoTrade(id int64, enabled bool) error {
	query := `UPDATE users SET is_auto_trade_enabled = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.Exec(query, enabled, time.Now(), id)
	if err != nil {
		return err
	}

	return checkAffected(result)
}

// Delete удаляет пользователя
func (r *UserRepository) Delete(id int64) error {
	query := `DELETE FROM users WHERE id = $1`

	result, err := r.db.Exec(query, id)
	if err != nil {
		return err
	}

	return checkAffected(result)
}

// Exists проверяет существование пользователя
func (r *UserRepository) Exists(id int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`

	var exists bool
	err := r.db.QueryRow(query, id).Scan(&exists)
	if err != nil {
		return false, err
	}

	return exists, nil
}

// scanUser сканирует одну строку users
func (r *UserRepository) scanUser(row *sql.Row) (*models.UserSettings, error) {
	user := &models.UserSettings{}
	err := row.Scan(
		&user.ID,
		&user.ChatID,
		&user.Symbol,
		&user.Base,
		&user.Quote,
		&user.APIKey,
		&user.SecretKey,
		&user.SizingMode,
		&user.FixedAmount,
		&user.Coefficient,
		&user.Precision,
		&user.MaxUsing,
		&user.PercentProfit,
		&user.PercentPriceChange,
		&user.LastDcaBuyPrice,
		&user.IsAutoTradeEnabled,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return user, nil
}

// queryUsers выполняет запрос, возвращающий множество пользователей
func (r *UserRepository) queryUsers(query string, args ...interface{}) ([]*models.UserSettings, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.UserSettings
	for rows.Next() {
		user := &models.UserSettings{}
		err := rows.Scan(
			&user.ID,
			&user.ChatID,
			&user.Symbol,
			&user.Base,
			&user.Quote,
			&user.APIKey,
			&user.SecretKey,
			&user.SizingMode,
			&user.FixedAmount,
			&user.Coefficient,
			&user.Precision,
			&user.MaxUsing,
			&user.PercentProfit,
			&user.PercentPriceChange,
			&user.LastDcaBuyPrice,
			&user.IsAutoTradeEnabled,
			&user.CreatedAt,
			&user.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

// checkAffected возвращает ErrUserNotFound если запрос не затронул строк
func checkAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// isUserUniqueViolation проверяет, является ли ошибка нарушением UNIQUE constraint
func isUserUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate key") || strings.Contains(errStr, "23505")
}
