package bot

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dcabot/internal/exchange"
	"dcabot/internal/models"
	"dcabot/pkg/utils"
)

// reconcile - сверка пар пользователя с биржей. Идемпотентна: повторный
// прогон без изменений на бирже не производит новых локальных мутаций.
//
// Контракт: вызывающий держит per-user lock. Безопасен для параллельного
// вызова по разным пользователям, но не по одному.
//
// Порядок:
//  1. удаление брошенных пар (пустой ID покупки);
//  2. обновление открытых ног по данным биржи;
//  3. авторитетная проверка ноги продажи - единственная точка
//     завершения цикла (completed_at + profit пишутся вместе и один раз);
//  4. восстановление отсутствующей продажи: привязка подходящего
//     открытого ордера или размещение нового лимитного.
//
// Ошибка биржи по одной паре - лог и переход к следующей, сверка
// никогда не прерывается целиком.
func (e *Engine) reconcile(ctx context.Context, user *models.UserSettings, handle *userHandle) error {
	log := e.log.With(zap.Int64("user_id", user.ID))
	RecordReconcileRun()

	pairs, err := e.pairs.GetAllForUser(user.ID)
	if err != nil {
		return err
	}

	// Фильтры символа нужны только при восстановлении продажи,
	// запрашиваются при первой необходимости
	var info *exchange.SymbolInfo

	for _, pair := range pairs {
		// Шаг 1: пары, брошенные до отправки покупки
		if pair.IsAbandoned() {
			if err := e.pairs.Delete(pair.ID); err != nil {
				log.Warn("failed to delete abandoned pair",
					zap.Int("pair_id", pair.ID), zap.Error(err))
				continue
			}
			log.Info("abandoned pair deleted", zap.Int("pair_id", pair.ID))
			RecordReconcileAction("orphan_deleted")
			continue
		}

		// Завершённые пары финальны, их сверять нечего
		if pair.IsCompleted() {
			continue
		}

		changed, skipped := e.reconcilePair(ctx, user, handle, pair, &info, log)
		if changed {
			if err := e.pairs.Update(pair); err != nil {
				log.Error("failed to persist reconciled pair",
					zap.Int("pair_id", pair.ID), zap.Error(err))
			}
		}
		if skipped {
			RecordReconcileAction("pair_skipped")
		}
	}

	return nil
}

// reconcilePair выполняет шаги 2-4 для одной пары.
// Возвращает (были ли локальные изменения, была ли пара пропущена
// из-за ошибки биржи).
func (e *Engine) reconcilePair(
	ctx context.Context,
	user *models.UserSettings,
	handle *userHandle,
	pair *models.OrderPair,
	info **exchange.SymbolInfo,
	log *zap.Logger,
) (bool, bool) {
	changed := false

	// Шаг 2: обновление открытых ног
	for _, leg := range []*models.Order{&pair.BuyOrder, &pair.SellOrder} {
		if !leg.IsPlaced() || !leg.IsOpen() {
			continue
		}

		remote, err := e.getOrder(ctx, handle, leg.Symbol, leg.ID)
		if err != nil {
			if exchange.IsOrderNotFound(err) {
				deleted, repaired := e.repairLostLeg(pair, leg, log)
				if deleted {
					return false, false
				}
				if repaired {
					changed = true
				}
				continue
			}
			log.Warn("failed to refresh order leg",
				zap.Int("pair_id", pair.ID),
				zap.String("order_id", leg.ID),
				zap.Error(err))
			return changed, true
		}

		if applyRemoteOrder(leg, remote) {
			changed = true
		}
	}

	// Шаг 3: авторитетная проверка продажи. Нога уже могла быть
	// обновлена шагом 2, но завершение цикла принимает решение только
	// по свежему ответу биржи.
	if pair.SellOrder.IsPlaced() && !pair.IsCompleted() {
		remote, err := e.getOrder(ctx, handle, pair.SellOrder.Symbol, pair.SellOrder.ID)
		switch {
		case err != nil && exchange.IsOrderNotFound(err) && pair.SellOrder.Status != models.StatusFilled:
			// продажа бирже неизвестна и локально не исполнена -
			// отцепляем, шаг 4 разместит новую
			if _, repaired := e.repairLostLeg(pair, &pair.SellOrder, log); repaired {
				changed = true
			}

		case err != nil:
			log.Warn("failed to refresh sell leg",
				zap.Int("pair_id", pair.ID),
				zap.String("order_id", pair.SellOrder.ID),
				zap.Error(err))
			return changed, true

		case remote.Status == exchange.StatusFilled:
			if sellDeviationTooLarge(&pair.SellOrder, remote, e.cfg.FinalizeDeviationPct) {
				log.Warn("remote sell fill deviates from local state, finalize skipped",
					zap.Int("pair_id", pair.ID),
					zap.Float64("local_qty", pair.SellOrder.Quantity),
					zap.Float64("remote_qty", remote.FilledQty),
					zap.Float64("remote_price", remote.AvgFillPrice()))
				RecordReconcileAction("finalize_deviation")
			} else {
				if applyRemoteOrder(&pair.SellOrder, remote) {
					changed = true
				}
				if pair.Complete(time.Now(), pair.CalcProfit()) {
					changed = true
					log.Info("pair completed by reconcile",
						zap.Int("pair_id", pair.ID),
						zap.Float64("profit", *pair.Profit))
					RecordTradeCompleted(*pair.Profit)
					e.notifier.TradeCompleted(user.ID, pair)
				}
			}

		default:
			if applyRemoteOrder(&pair.SellOrder, remote) {
				changed = true
			}
		}
	}

	// Шаг 4: покупка исполнена, продажи нет - восстанавливаем
	if pair.BuyOrder.Status == models.StatusFilled && !pair.SellOrder.IsPlaced() && !pair.IsCompleted() {
		if *info == nil {
			si, err := e.getSymbolInfo(ctx, handle, user.Symbol)
			if err != nil {
				log.Warn("failed to load symbol info",
					zap.String("symbol", user.Symbol), zap.Error(err))
				return changed, true
			}
			*info = si
		}

		backfilled, err := e.backfillSell(ctx, user, handle, pair, *info, log)
		if err != nil {
			log.Warn("failed to backfill sell leg",
				zap.Int("pair_id", pair.ID), zap.Error(err))
			return changed, true
		}
		if backfilled {
			changed = true
		}
	}

	return changed, false
}

// repairLostLeg чинит ногу, чей ID бирже неизвестен (Order does not
// exist). Такой ордер не оживёт, и пропускать пару из прогона в прогон
// бессмысленно - локальное состояние невалидно и исправляется сразу.
//
// Покупка без исполнения: пара целиком мусорная, удаляется. Покупка с
// зафиксированным исполнением: помечается отменённой, данные исполнения
// сохраняются. Продажа: сбрасывается в неразмещённую, шаг
// восстановления разместит новую.
func (e *Engine) repairLostLeg(pair *models.OrderPair, leg *models.Order, log *zap.Logger) (deleted, repaired bool) {
	if leg == &pair.BuyOrder {
		if pair.BuyOrder.FilledQty == 0 {
			if err := e.pairs.Delete(pair.ID); err != nil {
				log.Warn("failed to delete pair with unknown buy order",
					zap.Int("pair_id", pair.ID), zap.Error(err))
				return false, false
			}
			log.Info("pair with unknown buy order deleted",
				zap.Int("pair_id", pair.ID),
				zap.String("order_id", pair.BuyOrder.ID))
			RecordReconcileAction("orphan_deleted")
			return true, false
		}

		leg.Status = models.StatusCanceled
		leg.UpdatedAt = time.Now()
		log.Warn("buy order unknown to exchange, leg marked canceled",
			zap.Int("pair_id", pair.ID),
			zap.String("order_id", leg.ID))
		RecordReconcileAction("buy_lost")
		return false, true
	}

	log.Info("unknown sell order detached from pair",
		zap.Int("pair_id", pair.ID),
		zap.String("order_id", leg.ID))
	*leg = models.Order{
		Symbol:    leg.Symbol,
		Side:      models.SideSell,
		Type:      models.TypeLimit,
		Status:    models.StatusNew,
		CreatedAt: leg.CreatedAt,
		UpdatedAt: time.Now(),
	}
	RecordReconcileAction("sell_lost")
	return false, true
}

// backfillSell ищет на бирже открытую продажу, подходящую паре
// (близость по времени, объёму и цене), и привязывает её. Если
// подходящей нет - размещает новый лимитный ордер.
func (e *Engine) backfillSell(
	ctx context.Context,
	user *models.UserSettings,
	handle *userHandle,
	pair *models.OrderPair,
	info *exchange.SymbolInfo,
	log *zap.Logger,
) (bool, error) {
	buyPrice := pair.BuyOrder.FillPrice()
	if buyPrice <= 0 {
		// цена покупки ещё не известна, нечего восстанавливать
		return false, nil
	}

	targetPrice := utils.CalcSellPrice(buyPrice, user.PercentProfit, info.PriceStep)
	targetQty := utils.CalcSellQuantity(pair.BuyOrder.FilledQty, targetPrice, info.QtyStep, info.MinNotional)

	opCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	open, err := handle.ex.GetOpenOrders(opCtx, user.Symbol)
	cancel()
	if err != nil {
		return false, err
	}

	for _, o := range open {
		if o.Side != exchange.SideSell || o.Type != exchange.TypeLimit {
			continue
		}
		if !utils.WithinDuration(o.CreatedAt, pair.BuyOrder.UpdatedAt, e.cfg.BackfillMaxAge) {
			continue
		}
		if utils.RelativeDeviation(targetQty, o.Quantity) > e.cfg.BackfillQtyTolerance {
			continue
		}
		if utils.Abs(o.Price-targetPrice) > e.cfg.BackfillPriceTolerance {
			continue
		}

		// Нашли уже размещённую продажу - привязываем вместо дубля
		linkSellOrder(&pair.SellOrder, o)
		log.Info("existing sell order linked into pair",
			zap.Int("pair_id", pair.ID),
			zap.String("order_id", o.ID))
		RecordReconcileAction("sell_linked")
		return true, nil
	}

	opCtx, cancel = context.WithTimeout(ctx, e.cfg.OrderTimeout)
	placed, err := handle.ex.PlaceOrder(opCtx, &exchange.OrderRequest{
		Symbol:   user.Symbol,
		Side:     exchange.SideSell,
		Type:     exchange.TypeLimit,
		Quantity: targetQty,
		Price:    targetPrice,
	})
	cancel()
	if err != nil {
		return false, err
	}

	linkSellOrder(&pair.SellOrder, placed)
	log.Info("missing sell order placed",
		zap.Int("pair_id", pair.ID),
		zap.String("order_id", placed.ID),
		zap.Float64("price", targetPrice),
		zap.Float64("quantity", targetQty))
	RecordReconcileAction("sell_placed")

	return true, nil
}

// getOrder - запрос ордера с таймаутом на вызов
func (e *Engine) getOrder(ctx context.Context, handle *userHandle, symbol, orderID string) (*exchange.Order, error) {
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	defer cancel()
	return handle.ex.GetOrder(opCtx, symbol, orderID)
}

// getSymbolInfo - запрос фильтров символа с таймаутом
func (e *Engine) getSymbolInfo(ctx context.Context, handle *userHandle, symbol string) (*exchange.SymbolInfo, error) {
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	defer cancel()
	return handle.ex.GetSymbolInfo(opCtx, symbol)
}

// applyRemoteOrder переносит состояние биржевого ордера на ногу пары.
// Возвращает true, если хоть одно поле изменилось - лишние записи в
// хранилище ломали бы идемпотентность сверки.
func applyRemoteOrder(leg *models.Order, remote *exchange.Order) bool {
	changed := false

	status := mapOrderStatus(remote.Status)
	if leg.Status != status {
		leg.Status = status
		changed = true
	}

	if leg.FilledQty != remote.FilledQty {
		leg.FilledQty = remote.FilledQty
		changed = true
	}
	if leg.FilledQuoteQty != remote.FilledQuoteQty {
		leg.FilledQuoteQty = remote.FilledQuoteQty
		changed = true
	}

	// Цена: для исполненной рыночной покупки всегда средняя цена
	// исполнения, иначе копируем цену биржи
	var price float64
	if leg.Type == models.TypeMarket && status == models.StatusFilled && remote.FilledQty > 0 {
		price = remote.FilledQuoteQty / remote.FilledQty
	} else {
		price = remote.Price
	}
	if price > 0 && (leg.LimitPrice == nil || *leg.LimitPrice != price) {
		leg.SetLimitPrice(price)
		changed = true
	}

	if changed {
		leg.UpdatedAt = time.Now()
	}

	return changed
}

// linkSellOrder заполняет ногу продажи из биржевого ордера
func linkSellOrder(leg *models.Order, o *exchange.Order) {
	leg.ID = o.ID
	leg.Symbol = o.Symbol
	leg.Side = models.SideSell
	leg.Type = models.TypeLimit
	leg.Quantity = o.Quantity
	leg.Status = mapOrderStatus(o.Status)
	leg.FilledQty = o.FilledQty
	leg.FilledQuoteQty = o.FilledQuoteQty
	if o.Price > 0 {
		leg.SetLimitPrice(o.Price)
	}
	if !o.CreatedAt.IsZero() {
		leg.CreatedAt = o.CreatedAt
	} else {
		leg.CreatedAt = time.Now()
	}
	leg.UpdatedAt = time.Now()
}

// sellDeviationTooLarge сравнивает ответ биржи с локальным состоянием
// продажи. Грубое расхождение - признак чужого или повреждённого
// ордера, завершать цикл по таким данным нельзя.
func sellDeviationTooLarge(local *models.Order, remote *exchange.Order, tolerance float64) bool {
	if local.Quantity > 0 && remote.FilledQty > 0 {
		if utils.RelativeDeviation(local.Quantity, remote.FilledQty) > tolerance {
			return true
		}
	}

	if local.LimitPrice != nil && *local.LimitPrice > 0 {
		remotePrice := remote.AvgFillPrice()
		if remotePrice > 0 && utils.RelativeDeviation(*local.LimitPrice, remotePrice) > tolerance {
			return true
		}
	}

	return false
}

// mapOrderStatus переводит статус биржи в статус модели.
// Всё терминальное, кроме исполнения, сводится к отмене; частичное
// исполнение остаётся открытым (New).
func mapOrderStatus(status string) models.OrderStatus {
	switch {
	case status == exchange.StatusFilled:
		return models.StatusFilled
	case exchange.IsFinalStatus(status):
		return models.StatusCanceled
	default:
		return models.StatusNew
	}
}
