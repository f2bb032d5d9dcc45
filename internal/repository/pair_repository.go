package repository

import (
	"database/sql"
	"errors"
	"time"

	"dcabot/internal/models"
)

// Ошибки репозитория пар
var (
	ErrPairNotFound = errors.New("order pair not found")
)

// pairColumns - полный список колонок таблицы order_pairs в порядке
// скана. Обе ноги хранятся в одной строке: покупка и продажа живут и
// умирают вместе с парой.
const pairColumns = `
	id, user_id,
	buy_exchange_id, buy_symbol, buy_type, buy_quantity, buy_limit_price,
	buy_status, buy_filled_qty, buy_filled_quote_qty, buy_commission,
	buy_created_at, buy_updated_at,
	sell_exchange_id, sell_symbol, sell_type, sell_quantity, sell_limit_price,
	sell_status, sell_filled_qty, sell_filled_quote_qty, sell_commission,
	sell_created_at, sell_updated_at,
	created_at, completed_at, profit`

// PairRepository - работа с таблицей order_pairs (Pair Store)
type PairRepository struct {
	db *sql.DB
}

// NewPairRepository создает новый экземпляр репозитория
func NewPairRepository(db *sql.DB) *PairRepository {
	return &PairRepository{db: db}
}

// Create создает новую пару. Заполняет pair.ID и pair.CreatedAt.
func (r *PairRepository) Create(pair *models.OrderPair) error {
	query := `
		INSERT INTO order_pairs (
			user_id,
			buy_exchange_id, buy_symbol, buy_type, buy_quantity, buy_limit_price,
			buy_status, buy_filled_qty, buy_filled_quote_qty, buy_commission,
			buy_created_at, buy_updated_at,
			sell_exchange_id, sell_symbol, sell_type, sell_quantity, sell_limit_price,
			sell_status, sell_filled_qty, sell_filled_quote_qty, sell_commission,
			sell_created_at, sell_updated_at,
			created_at, completed_at, profit
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
		RETURNING id`

	now := time.Now()
	pair.CreatedAt = now
	if pair.BuyOrder.CreatedAt.IsZero() {
		pair.BuyOrder.CreatedAt = now
		pair.BuyOrder.UpdatedAt = now
	}
	if pair.SellOrder.CreatedAt.IsZero() {
		pair.SellOrder.CreatedAt = now
		pair.SellOrder.UpdatedAt = now
	}
	if pair.BuyOrder.Status == "" {
		pair.BuyOrder.Status = models.StatusNew
	}
	if pair.SellOrder.Status == "" {
		pair.SellOrder.Status = models.StatusNew
	}

	err := r.db.QueryRow(
		query,
		pair.UserID,
		pair.BuyOrder.ID,
		pair.BuyOrder.Symbol,
		pair.BuyOrder.Type,
		pair.BuyOrder.Quantity,
		nullFloat(pair.BuyOrder.LimitPrice),
		pair.BuyOrder.Status,
		pair.BuyOrder.FilledQty,
		pair.BuyOrder.FilledQuoteQty,
		pair.BuyOrder.Commission,
		pair.BuyOrder.CreatedAt,
		pair.BuyOrder.UpdatedAt,
		pair.SellOrder.ID,
		pair.SellOrder.Symbol,
		pair.SellOrder.Type,
		pair.SellOrder.Quantity,
		nullFloat(pair.SellOrder.LimitPrice),
		pair.SellOrder.Status,
		pair.SellOrder.FilledQty,
		pair.SellOrder.FilledQuoteQty,
		pair.SellOrder.Commission,
		pair.SellOrder.CreatedAt,
		pair.SellOrder.UpdatedAt,
		pair.CreatedAt,
		nullTime(pair.CompletedAt),
		nullFloat(pair.Profit),
	).Scan(&pair.ID)

	return err
}

// GetByID возвращает пару по ID
func (r *PairRepository) GetByID(id int) (*models.OrderPair, error) {
	query := `SELECT ` + pairColumns + ` FROM order_pairs WHERE id = $1`

	pair, err := scanPair(r.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPairNotFound
		}
		return nil, err
	}

	return pair, nil
}

// GetBySellOrderID находит пару по биржевому ID ноги продажи.
// Используется обработчиком событий user-data stream.
func (r *PairRepository) GetBySellOrderID(userID int64, sellOrderID string) (*models.OrderPair, error) {
	query := `SELECT ` + pairColumns + ` FROM order_pairs WHERE user_id = $1 AND sell_exchange_id = $2`

	pair, err := scanPair(r.db.QueryRow(query, userID, sellOrderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPairNotFound
		}
		return nil, err
	}

	return pair, nil
}

// GetByBuyOrderID находит пару по биржевому ID ноги покупки
func (r *PairRepository) GetByBuyOrderID(userID int64, buyOrderID string) (*models.OrderPair, error) {
	query := `SELECT ` + pairColumns + ` FROM order_pairs WHERE user_id = $1 AND buy_exchange_id = $2`

	pair, err := scanPair(r.db.QueryRow(query, userID, buyOrderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPairNotFound
		}
		return nil, err
	}

	return pair, nil
}

// GetAllForUser возвращает все пары пользователя (новые первыми)
func (r *PairRepository) GetAllForUser(userID int64) ([]*models.OrderPair, error) {
	query := `SELECT ` + pairColumns + ` FROM order_pairs WHERE user_id = $1 ORDER BY created_at DESC`

	return r.queryPairs(query, userID)
}

// GetOpenForUser возвращает незавершённые пары пользователя
// (completed_at не установлен)
func (r *PairRepository) GetOpenForUser(userID int64) ([]*models.OrderPair, error) {
	query := `SELECT ` + pairColumns + ` FROM order_pairs WHERE user_id = $1 AND completed_at IS NULL ORDER BY created_at DESC`

	return r.queryPairs(query, userID)
}

// Update перезаписывает обе ноги и поля завершения пары
func (r *PairRepository) Update(pair *models.OrderPair) error {
	query := `
		UPDATE order_pairs SET
			buy_exchange_id = $1, buy_symbol = $2, buy_type = $3, buy_quantity = $4,
			buy_limit_price = $5, buy_status = $6, buy_filled_qty = $7,
			buy_filled_quote_qty = $8, buy_commission = $9, buy_updated_at = $10,
			sell_exchange_id = $11, sell_symbol = $12, sell_type = $13, sell_quantity = $14,
			sell_limit_price = $15, sell_status = $16, sell_filled_qty = $17,
			sell_filled_quote_qty = $18, sell_commission = $19, sell_updated_at = $20,
			completed_at = $21, profit = $22
		WHERE id = $23`

	result, err := r.db.Exec(
		query,
		pair.BuyOrder.ID,
		pair.BuyOrder.Symbol,
		pair.BuyOrder.Type,
		pair.BuyOrder.Quantity,
		nullFloat(pair.BuyOrder.LimitPrice),
		pair.BuyOrder.Status,
		pair.BuyOrder.FilledQty,
		pair.BuyOrder.FilledQuoteQty,
		pair.BuyOrder.Commission,
		pair.BuyOrder.UpdatedAt,
		pair.SellOrder.ID,
		pair.SellOrder.Symbol,
		pair.SellOrder.Type,
		pair.SellOrder.Quantity,
		nullFloat(pair.SellOrder.LimitPrice),
		pair.SellOrder.Status,
		pair.SellOrder.FilledQty,
		pair.SellOrder.FilledQuoteQty,
		pair.SellOrder.Commission,
		pair.SellOrder.UpdatedAt,
		nullTime(pair.CompletedAt),
		nullFloat(pair.Profit),
		pair.ID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrPairNotFound
	}

	return nil
}

// Delete удаляет пару
func (r *PairRepository) Delete(id int) error {
	query := `DELETE FROM order_pairs WHERE id = $1`

	result, err := r.db.Exec(query, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrPairNotFound
	}

	return nil
}

// CountOpenForUser возвращает количество незавершённых пар пользователя
func (r *PairRepository) CountOpenForUser(userID int64) (int, error) {
	query := `SELECT COUNT(*) FROM order_pairs WHERE user_id = $1 AND completed_at IS NULL`

	var count int
	err := r.db.QueryRow(query, userID).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}

// SumProfitForUser возвращает суммарную прибыль завершённых пар
// пользователя начиная с указанного времени
func (r *PairRepository) SumProfitForUser(userID int64, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(profit), 0)
		FROM order_pairs
		WHERE user_id = $1 AND completed_at IS NOT NULL AND completed_at >= $2`

	var sum float64
	err := r.db.QueryRow(query, userID, since).Scan(&sum)
	if err != nil {
		return 0, err
	}

	return sum, nil
}

// queryPairs выполняет запрос, возвращающий множество пар
func (r *PairRepository) queryPairs(query string, args ...interface{}) ([]*models.OrderPair, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []*models.OrderPair
	for rows.Next() {
		pair, err := scanPair(rows)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return pairs, nil
}

// scanner объединяет *sql.Row и *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanPair сканирует одну строку order_pairs в модель
func scanPair(s scanner) (*models.OrderPair, error) {
	pair := &models.OrderPair{}
	var buyLimitPrice, sellLimitPrice, profit sql.NullFloat64
	var completedAt sql.NullTime

	err := s.Scan(
		&pair.ID,
		&pair.UserID,
		&pair.BuyOrder.ID,
		&pair.BuyOrder.Symbol,
		&pair.BuyOrder.Type,
		&pair.BuyOrder.Quantity,
		&buyLimitPrice,
		&pair.BuyOrder.Status,
		&pair.BuyOrder.FilledQty,
		&pair.BuyOrder.FilledQuoteQty,
		&pair.BuyOrder.Commission,
		&pair.BuyOrder.CreatedAt,
		&pair.BuyOrder.UpdatedAt,
		&pair.SellOrder.ID,
		&pair.SellOrder.Symbol,
		&pair.SellOrder.Type,
		&pair.SellOrder.Quantity,
		&sellLimitPrice,
		&pair.SellOrder.Status,
		&pair.SellOrder.FilledQty,
		&pair.SellOrder.FilledQuoteQty,
		&pair.SellOrder.Commission,
		&pair.SellOrder.CreatedAt,
		&pair.SellOrder.UpdatedAt,
		&pair.CreatedAt,
		&completedAt,
		&profit,
	)
	if err != nil {
		return nil, err
	}

	pair.BuyOrder.Side = models.SideBuy
	pair.SellOrder.Side = models.SideSell

	if buyLimitPrice.Valid {
		pair.BuyOrder.LimitPrice = &buyLimitPrice.Float64
	}
	if sellLimitPrice.Valid {
		pair.SellOrder.LimitPrice = &sellLimitPrice.Float64
	}
	if completedAt.Valid {
		t := completedAt.Time
		pair.CompletedAt = &t
	}
	if profit.Valid {
		p := profit.Float64
		pair.Profit = &p
	}

	return pair, nil
}

// nullFloat преобразует *float64 в sql.NullFloat64
func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// nullTime преобразует *time.Time в sql.NullTime
func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}
