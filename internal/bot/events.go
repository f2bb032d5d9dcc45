package bot

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"dcabot/internal/exchange"
	"dcabot/internal/models"
	"dcabot/internal/repository"
)

// handleOrderUpdate - обработчик одного события user-data stream.
//
// Пару всегда ищем заново в хранилище: событие не несёт ссылки на
// локальное состояние, а замыкание на устаревшую копию между await'ами
// было бы гонкой.
//
// Panic внутри обработчика гасится: сбой обработки одного события не
// должен ронять stream и остальных пользователей.
func (e *Engine) handleOrderUpdate(userID int64, update *exchange.OrderUpdate) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic in order update handler",
				zap.Int64("user_id", userID),
				zap.Any("panic", r))
		}
	}()

	RecordOrderEvent(update.Side, update.Status)

	if update.Status != exchange.StatusFilled {
		return
	}

	switch update.Side {
	case exchange.SideSell:
		e.handleSellFilled(userID, update)
	case exchange.SideBuy:
		e.handleBuyFilled(userID, update)
	}
}

// handleSellFilled - продажа исполнена: завершаем цикл и через debounce
// планируем создание следующей пары
func (e *Engine) handleSellFilled(userID int64, update *exchange.OrderUpdate) {
	log := e.log.With(
		zap.Int64("user_id", userID),
		zap.String("order_id", update.OrderID))

	pair, err := e.pairs.GetBySellOrderID(userID, update.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrPairNotFound) {
			// чужое или повторное событие, не наша забота
			log.Debug("sell fill event for unknown pair ignored")
			return
		}
		log.Error("failed to load pair for sell fill", zap.Error(err))
		return
	}

	applyFillUpdate(&pair.SellOrder, update)

	if pair.Complete(update.EventTime, pair.CalcProfit()) {
		if err := e.pairs.Update(pair); err != nil {
			log.Error("failed to persist completed pair", zap.Error(err))
			return
		}

		log.Info("pair completed by sell fill",
			zap.Int("pair_id", pair.ID),
			zap.Float64("profit", *pair.Profit))
		RecordTradeCompleted(*pair.Profit)
		e.notifier.TradeCompleted(userID, pair)
	} else if err := e.pairs.Update(pair); err != nil {
		log.Error("failed to persist sell fill", zap.Error(err))
	}

	// Debounce: всплеск событий исполнения сворачивается в одно
	// пересоздание пары, таймер перезапускается последним событием
	e.scheduleRepairing(userID)
}

// handleBuyFilled - покупка исполнена: фиксируем авторитетную цену
// исполнения на ноге покупки
func (e *Engine) handleBuyFilled(userID int64, update *exchange.OrderUpdate) {
	log := e.log.With(
		zap.Int64("user_id", userID),
		zap.String("order_id", update.OrderID))

	pair, err := e.pairs.GetByBuyOrderID(userID, update.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrPairNotFound) {
			log.Debug("buy fill event for unknown pair ignored")
			return
		}
		log.Error("failed to load pair for buy fill", zap.Error(err))
		return
	}

	applyFillUpdate(&pair.BuyOrder, update)

	if err := e.pairs.Update(pair); err != nil {
		log.Error("failed to persist buy fill", zap.Error(err))
		return
	}

	log.Info("buy leg filled",
		zap.Int("pair_id", pair.ID),
		zap.Float64("fill_price", pair.BuyOrder.FillPrice()))
}

// applyFillUpdate переносит поля исполнения из события на ногу.
// Цена: предпочитаем кумулятивные quote/base (средняя цена исполнения),
// падаем на цену из события только если кумулятивных полей нет.
func applyFillUpdate(leg *models.Order, update *exchange.OrderUpdate) {
	leg.Status = mapOrderStatus(update.Status)
	leg.FilledQty = update.FilledQty
	leg.FilledQuoteQty = update.FilledQuoteQty
	if update.Commission > 0 {
		leg.Commission += update.Commission
	}

	var price float64
	if update.FilledQty > 0 && update.FilledQuoteQty > 0 {
		price = update.FilledQuoteQty / update.FilledQty
	} else if update.Price > 0 {
		price = update.Price
	}
	if price > 0 {
		leg.SetLimitPrice(price)
	}

	leg.UpdatedAt = time.Now()
}

// scheduleRepairing ставит (или перезапускает) debounce-таймер
// пересоздания пары для пользователя
func (e *Engine) scheduleRepairing(userID int64) {
	handle, ok := e.getHandle(userID)
	if !ok {
		return
	}

	RecordDebounceScheduled()

	handle.scheduleDebounce(e.cfg.DebounceQuietPeriod, func() {
		e.debouncedRepair(userID)
	})
}

// debouncedRepair выполняется по истечении тихого периода: под
// per-user lock'ом создает новую пару и сразу прогоняет сверку
func (e *Engine) debouncedRepair(userID int64) {
	log := e.log.With(zap.Int64("user_id", userID))

	handle, ok := e.getHandle(userID)
	if !ok {
		return
	}

	user, err := e.users.GetByID(userID)
	if err != nil {
		log.Error("failed to load user for re-pairing", zap.Error(err))
		return
	}

	if !handle.tryLock(e.cfg.PairLockTimeout) {
		// polling цикл успел первым - он создаст пару сам
		log.Info("re-pairing skipped, user lock is busy")
		RecordLockTimeout("debounce")
		return
	}
	defer handle.unlock()

	// создание пары и сверка - серия биржевых вызовов, каждый со своим
	// таймаутом; общий потолок просто страхует от зависшего цикла
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := e.createPair(ctx, user, handle, "repair"); err != nil {
		log.Error("debounced pair creation failed", zap.Error(err))
	}

	if err := e.reconcile(ctx, user, handle); err != nil {
		log.Error("post-repair reconcile failed", zap.Error(err))
	}
}
