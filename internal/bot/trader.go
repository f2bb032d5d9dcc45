package bot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dcabot/internal/exchange"
	"dcabot/internal/models"
	"dcabot/pkg/utils"
)

// runTradingLoop - polling торговый цикл одного пользователя.
// Любая ошибка итерации логируется и гасится увеличенной паузой,
// цикл не завершается на временных сбоях.
func (e *Engine) runTradingLoop(ctx context.Context, handle *userHandle) {
	log := e.log.With(zap.Int64("user_id", handle.userID))
	log.Info("trading loop started")

	for {
		delay := e.cfg.PollInterval

		if err := e.tradeIteration(ctx, handle); err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warn("trade iteration failed", zap.Error(err))
			RecordIterationError()
			delay = e.cfg.ErrorBackoff
		}

		select {
		case <-ctx.Done():
			log.Info("trading loop stopped")
			return
		case <-e.shutdown:
			log.Info("trading loop stopped")
			return
		case <-time.After(delay):
		}
	}

	log.Info("trading loop stopped")
}

// tradeIteration - одна итерация цикла: проверка баланса, вычисление
// базовой цены, детект просадки и (при необходимости) создание пары.
//
// Panic гасится так же, как в обработчике событий: сбой одного
// пользователя не трогает остальных.
func (e *Engine) tradeIteration(ctx context.Context, handle *userHandle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in trade iteration: %v", r)
		}
	}()

	user, err := e.users.GetByID(handle.userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if !user.IsAutoTradeEnabled {
		return nil
	}

	log := e.log.With(zap.Int64("user_id", user.ID))

	// Шаг 1: баланс. Предупреждаем один раз на эпизод нехватки.
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	balance, err := handle.ex.GetBalance(opCtx, user.Quote)
	cancel()
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}

	orderSize := calcQuoteOrderSize(user, balance)
	if balance < orderSize || orderSize <= 0 {
		if handle.markBalanceWarned() {
			log.Warn("insufficient balance",
				zap.Float64("balance", balance),
				zap.Float64("required", orderSize))
			e.notifier.InsufficientBalance(user.ID, balance, orderSize)
			RecordInsufficientBalance()
		}
		return nil
	}
	handle.resetBalanceWarned()

	// Шаг 2: базовая цена просадки
	lastBuyPrice, havePairs, err := e.lastBuyPrice(user)
	if err != nil {
		return fmt.Errorf("resolve last buy price: %w", err)
	}

	// Шаг 3: первая покупка - без проверки просадки
	if lastBuyPrice <= 0 {
		if havePairs {
			// покупка в полёте, ждём исполнения или сверки
			return nil
		}

		if !handle.tryLock(e.cfg.PairLockTimeout) {
			log.Info("first purchase skipped, user lock is busy")
			RecordLockTimeout("polling")
			return nil
		}
		defer handle.unlock()

		log.Info("first purchase for user")
		return e.createPair(ctx, user, handle, "first_purchase")
	}

	// Шаг 4: детект просадки. Проверка цены и создание пары идут под
	// lock'ом: параллельное debounce-создание не проскочит мимо той же
	// проверки.
	if !handle.tryLock(e.cfg.PairLockTimeout) {
		log.Debug("drop check skipped, user lock is busy")
		RecordLockTimeout("polling")
		return nil
	}
	defer handle.unlock()

	opCtx, cancel = context.WithTimeout(ctx, e.cfg.OrderTimeout)
	currentPrice, err := handle.ex.GetPrice(opCtx, user.Symbol)
	cancel()
	if err != nil {
		return fmt.Errorf("get price: %w", err)
	}

	if !utils.IsPriceDrop(currentPrice, lastBuyPrice, user.PercentPriceChange) {
		return nil
	}

	log.Info("price drop detected",
		zap.Float64("current", currentPrice),
		zap.Float64("last_buy", lastBuyPrice),
		zap.Float64("percent_change", user.PercentPriceChange))

	return e.createPair(ctx, user, handle, "price_drop")
}

// lastBuyPrice вычисляет базовую цену для детекта просадки.
//
// Приоритет: цена исполнения самой свежей исполненной покупки среди
// пар пользователя. Сохранённая last_dca_buy_price используется только
// когда пар нет вообще (перезапуск после очистки истории). Если пары
// есть, но ни одна покупка не исполнена - базовой цены нет и покупать
// рано (havePairs=true сообщает это вызывающему).
func (e *Engine) lastBuyPrice(user *models.UserSettings) (float64, bool, error) {
	pairs, err := e.pairs.GetAllForUser(user.ID)
	if err != nil {
		return 0, false, err
	}

	if len(pairs) == 0 {
		return user.LastDcaBuyPrice, false, nil
	}

	var best *models.OrderPair
	for _, pair := range pairs {
		if pair.BuyOrder.Status != models.StatusFilled {
			continue
		}
		if best == nil || pair.BuyOrder.UpdatedAt.After(best.BuyOrder.UpdatedAt) {
			best = pair
		}
	}

	if best == nil {
		return 0, true, nil
	}

	return best.BuyOrder.FillPrice(), true, nil
}

// calcQuoteOrderSize возвращает размер покупки в валюте котировки
func calcQuoteOrderSize(user *models.UserSettings, balance float64) float64 {
	if user.SizingMode == models.SizingDynamic {
		return utils.CalcOrderSize(balance, user.Coefficient, user.Precision, user.MaxUsing)
	}
	return user.FixedAmount
}

// createPair - общий помощник создания пары, используется polling
// циклом и debounce-завершением. Вызывающий держит per-user lock.
//
// Порядок: пара сохраняется с пустой ногой покупки, затем рыночная
// покупка, авторитетный re-query исполнения, лимитная продажа. Если
// покупка не отправилась, пара остаётся брошенной и удаляется сверкой.
func (e *Engine) createPair(ctx context.Context, user *models.UserSettings, handle *userHandle, reason string) error {
	log := e.log.With(zap.Int64("user_id", user.ID), zap.String("reason", reason))

	opCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	info, err := handle.ex.GetSymbolInfo(opCtx, user.Symbol)
	cancel()
	if err != nil {
		return fmt.Errorf("get symbol info: %w", err)
	}

	opCtx, cancel = context.WithTimeout(ctx, e.cfg.OrderTimeout)
	balance, err := handle.ex.GetBalance(opCtx, user.Quote)
	cancel()
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}

	quoteAmount := calcQuoteOrderSize(user, balance)
	if quoteAmount <= 0 || balance < quoteAmount {
		return fmt.Errorf("insufficient balance: have %.8f %s, need %.8f", balance, user.Quote, quoteAmount)
	}

	opCtx, cancel = context.WithTimeout(ctx, e.cfg.OrderTimeout)
	currentPrice, err := handle.ex.GetPrice(opCtx, user.Symbol)
	cancel()
	if err != nil {
		return fmt.Errorf("get price: %w", err)
	}

	buyQty := utils.RoundToStep(quoteAmount/currentPrice, info.QtyStep)
	if buyQty < info.MinQty || buyQty*currentPrice < info.MinNotional {
		return fmt.Errorf("order size %.8f %s is below exchange minimum", quoteAmount, user.Quote)
	}

	// Пара сначала в хранилище: упавшая после этого покупка оставит
	// брошенную запись, которую удалит сверка
	pair := &models.OrderPair{
		UserID: user.ID,
		BuyOrder: models.Order{
			Symbol:   user.Symbol,
			Side:     models.SideBuy,
			Type:     models.TypeMarket,
			Quantity: buyQty,
			Status:   models.StatusNew,
		},
		SellOrder: models.Order{
			Symbol: user.Symbol,
			Side:   models.SideSell,
			Type:   models.TypeLimit,
			Status: models.StatusNew,
		},
	}
	if err := e.pairs.Create(pair); err != nil {
		return fmt.Errorf("persist pending pair: %w", err)
	}

	opCtx, cancel = context.WithTimeout(ctx, e.cfg.OrderTimeout)
	placed, err := handle.ex.PlaceOrder(opCtx, &exchange.OrderRequest{
		Symbol:   user.Symbol,
		Side:     exchange.SideBuy,
		Type:     exchange.TypeMarket,
		Quantity: buyQty,
	})
	cancel()
	if err != nil {
		log.Error("market buy failed", zap.Error(err))
		return fmt.Errorf("place market buy: %w", err)
	}

	// Авторитетный re-query: ответ размещения может не нести
	// кумулятивные поля исполнения
	opCtx, cancel = context.WithTimeout(ctx, e.cfg.OrderTimeout)
	remote, err := handle.ex.GetOrder(opCtx, user.Symbol, placed.ID)
	cancel()
	if err != nil {
		log.Warn("buy re-query failed, using placement response", zap.Error(err))
		remote = placed
	}

	pair.BuyOrder.ID = remote.ID
	applyRemoteOrder(&pair.BuyOrder, remote)
	pair.BuyOrder.Commission = e.sumCommission(ctx, handle, user.Symbol, remote.ID, log)

	if err := e.pairs.Update(pair); err != nil {
		return fmt.Errorf("persist buy leg: %w", err)
	}

	buyPrice := pair.BuyOrder.FillPrice()
	if buyPrice <= 0 {
		buyPrice = currentPrice
	}

	// Лимитная продажа с наценкой
	sellPrice := utils.CalcSellPrice(buyPrice, user.PercentProfit, info.PriceStep)
	sellQty := pair.BuyOrder.FilledQty
	if sellQty <= 0 {
		sellQty = buyQty
	}
	sellQty = utils.CalcSellQuantity(sellQty, sellPrice, info.QtyStep, info.MinNotional)

	opCtx, cancel = context.WithTimeout(ctx, e.cfg.OrderTimeout)
	sell, err := handle.ex.PlaceOrder(opCtx, &exchange.OrderRequest{
		Symbol:   user.Symbol,
		Side:     exchange.SideSell,
		Type:     exchange.TypeLimit,
		Quantity: sellQty,
		Price:    sellPrice,
	})
	cancel()
	if err != nil {
		// покупка уже в хранилище, продажу восстановит сверка
		log.Error("limit sell failed, reconcile will backfill", zap.Error(err))
	} else {
		linkSellOrder(&pair.SellOrder, sell)
		if err := e.pairs.Update(pair); err != nil {
			return fmt.Errorf("persist sell leg: %w", err)
		}
	}

	// Единственное поле настроек, которое пишет ядро
	if err := e.users.UpdateLastDcaBuyPrice(user.ID, buyPrice); err != nil {
		log.Error("failed to persist last buy price", zap.Error(err))
	}

	log.Info("pair opened",
		zap.Int("pair_id", pair.ID),
		zap.Float64("buy_price", buyPrice),
		zap.Float64("sell_price", sellPrice),
		zap.Float64("quantity", buyQty))
	RecordPairOpened(reason)
	e.notifier.PairOpened(user.ID, pair, reason)

	return nil
}

// sumCommission собирает комиссию покупки по сделкам ордера.
// Ошибка не фатальна: комиссия уточнится сверкой или останется нулевой.
func (e *Engine) sumCommission(ctx context.Context, handle *userHandle, symbol, orderID string, log *zap.Logger) float64 {
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	defer cancel()

	trades, err := handle.ex.GetTrades(opCtx, symbol, orderID)
	if err != nil {
		log.Warn("failed to load trades for commission", zap.Error(err))
		return 0
	}

	var total float64
	for _, t := range trades {
		total += t.Fee
	}
	return total
}
