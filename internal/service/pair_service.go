package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dcabot/internal/models"
	"dcabot/internal/repository"
	"dcabot/pkg/utils"
)

// ProfitSummary - агрегированная сводка по пользователю для API
type ProfitSummary struct {
	UserID      int64   `json:"user_id"`
	OpenPairs   int     `json:"open_pairs"`
	ProfitToday float64 `json:"profit_today"`
	ProfitTotal float64 `json:"profit_total"`
}

// PairService - запросы торговых пар и ручные операции над ними.
// Вся торговая логика живёт в ядре; сервис только читает состояние
// и передаёт ядру ручные команды.
type PairService struct {
	pairs    PairStore
	bot      BotController
	reporter ReconcileReporter
	log      *zap.Logger
}

// NewPairService создает сервис торговых пар.
// bot может быть nil (режим read-only API без ядра).
func NewPairService(pairs PairStore, bot BotController, log *zap.Logger) *PairService {
	return &PairService{pairs: pairs, bot: bot, log: log}
}

// SetReporter задаёт журнал для отчётов ручной сверки
func (s *PairService) SetReporter(r ReconcileReporter) {
	s.reporter = r
}

// ListForUser возвращает пары пользователя.
// openOnly ограничивает выборку незавершёнными циклами.
func (s *PairService) ListForUser(userID int64, openOnly bool) ([]*models.OrderPair, error) {
	if openOnly {
		return s.pairs.GetOpenForUser(userID)
	}
	return s.pairs.GetAllForUser(userID)
}

// GetForUser возвращает пару по ID с проверкой владельца
func (s *PairService) GetForUser(userID int64, pairID int) (*models.OrderPair, error) {
	pair, err := s.pairs.GetByID(pairID)
	if err != nil {
		return nil, err
	}
	if pair.UserID != userID {
		// не раскрываем существование чужой пары
		return nil, repository.ErrPairNotFound
	}
	return pair, nil
}

// Summary возвращает сводку прибыли и открытых пар пользователя
func (s *PairService) Summary(userID int64) (*ProfitSummary, error) {
	open, err := s.pairs.CountOpenForUser(userID)
	if err != nil {
		return nil, fmt.Errorf("count open pairs: %w", err)
	}

	total, err := s.pairs.SumProfitForUser(userID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("sum total profit: %w", err)
	}

	today, err := s.pairs.SumProfitForUser(userID, utils.GetDayStart())
	if err != nil {
		return nil, fmt.Errorf("sum today profit: %w", err)
	}

	return &ProfitSummary{
		UserID:      userID,
		OpenPairs:   open,
		ProfitToday: today,
		ProfitTotal: total,
	}, nil
}

// TriggerReconcile запускает ручную сверку пользователя с биржей.
// Возвращает ошибку, если пользователь не запущен или занят.
// Результат пишется в журнал уведомлений.
func (s *PairService) TriggerReconcile(ctx context.Context, userID int64) error {
	if s.bot == nil {
		return errors.New("trading engine is not running")
	}

	if err := s.bot.TriggerReconcile(ctx, userID); err != nil {
		if s.reporter != nil {
			s.reporter.ReconcileReport(userID, fmt.Sprintf("manual reconcile failed: %v", err))
		}
		return err
	}

	if s.reporter != nil {
		s.reporter.ReconcileReport(userID, "manual reconcile completed")
	}
	s.log.Info("manual reconcile completed", zap.Int64("user_id", userID))
	return nil
}
