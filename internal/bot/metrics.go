package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики торгового ядра
// ============================================================
//
// Использование:
// - Grafana дашборды (пары, прибыль, сверка)
// - Alertmanager: всплеск lock timeout'ов или ошибок итераций -
//   признак деградации биржи или БД

// ============ Торговый цикл ============

// PairsOpened - созданные пары по причинам
var PairsOpened = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dcabot",
		Subsystem: "trading",
		Name:      "pairs_opened_total",
		Help:      "Total number of opened buy/sell pairs",
	},
	[]string{"reason"}, // first_purchase, price_drop, repair
)

// TradesCompleted - завершённые циклы
var TradesCompleted = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "dcabot",
		Subsystem: "trading",
		Name:      "trades_completed_total",
		Help:      "Total number of completed buy/sell cycles",
	},
)

// ProfitTotal - суммарная зафиксированная прибыль в валюте котировки
var ProfitTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "dcabot",
		Subsystem: "trading",
		Name:      "profit_total",
		Help:      "Total realized profit in quote currency",
	},
)

// IterationErrors - ошибки итераций polling цикла
var IterationErrors = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "dcabot",
		Subsystem: "trading",
		Name:      "iteration_errors_total",
		Help:      "Total number of failed trading loop iterations",
	},
)

// InsufficientBalanceEpisodes - эпизоды нехватки средств
var InsufficientBalanceEpisodes = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "dcabot",
		Subsystem: "trading",
		Name:      "insufficient_balance_total",
		Help:      "Total number of insufficient balance episodes",
	},
)

// ============ Конкурентность ============

// LockTimeouts - несостоявшиеся захваты per-user lock'а
var LockTimeouts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dcabot",
		Subsystem: "trading",
		Name:      "lock_timeouts_total",
		Help:      "Number of per-user lock acquisition timeouts",
	},
	[]string{"caller"}, // polling, debounce, manual_reconcile
)

// DebounceScheduled - запланированные debounce-пересоздания
var DebounceScheduled = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "dcabot",
		Subsystem: "trading",
		Name:      "debounce_scheduled_total",
		Help:      "Number of scheduled (or rescheduled) re-pairing timers",
	},
)

// ActiveUsers - количество запущенных пользователей
var ActiveUsers = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "dcabot",
		Subsystem: "trading",
		Name:      "active_users",
		Help:      "Current number of users with a running trading loop",
	},
)

// ============ Сверка ============

// ReconcileRuns - запуски сверки
var ReconcileRuns = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "dcabot",
		Subsystem: "reconcile",
		Name:      "runs_total",
		Help:      "Total number of reconciliation sweeps",
	},
)

// ReconcileActions - действия сверки по типам
var ReconcileActions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dcabot",
		Subsystem: "reconcile",
		Name:      "actions_total",
		Help:      "Reconciliation sweep actions by type",
	},
	// orphan_deleted, sell_linked, sell_placed, finalize_deviation, pair_skipped
	[]string{"action"},
)

// ============ События ============

// OrderEvents - события user-data stream по стороне и статусу
var OrderEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dcabot",
		Subsystem: "stream",
		Name:      "order_events_total",
		Help:      "Order update events received from the user-data stream",
	},
	[]string{"side", "status"},
)

// ============ Вспомогательные функции ============

// RecordPairOpened записывает создание пары
func RecordPairOpened(reason string) {
	PairsOpened.WithLabelValues(reason).Inc()
}

// RecordTradeCompleted записывает завершение цикла
func RecordTradeCompleted(profit float64) {
	TradesCompleted.Inc()
	if profit > 0 {
		ProfitTotal.Add(profit)
	}
}

// RecordLockTimeout записывает таймаут захвата lock'а
func RecordLockTimeout(caller string) {
	LockTimeouts.WithLabelValues(caller).Inc()
}

// RecordDebounceScheduled записывает постановку debounce-таймера
func RecordDebounceScheduled() {
	DebounceScheduled.Inc()
}

// RecordReconcileRun записывает запуск сверки
func RecordReconcileRun() {
	ReconcileRuns.Inc()
}

// RecordReconcileAction записывает действие сверки
func RecordReconcileAction(action string) {
	ReconcileActions.WithLabelValues(action).Inc()
}

// RecordOrderEvent записывает событие stream'а
func RecordOrderEvent(side, status string) {
	OrderEvents.WithLabelValues(side, status).Inc()
}

// RecordIterationError записывает ошибку итерации цикла
func RecordIterationError() {
	IterationErrors.Inc()
}

// RecordInsufficientBalance записывает эпизод нехватки средств
func RecordInsufficientBalance() {
	InsufficientBalanceEpisodes.Inc()
}

// SetActiveUsers обновляет количество запущенных пользователей
func SetActiveUsers(count int) {
	ActiveUsers.Set(float64(count))
}
