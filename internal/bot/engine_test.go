package bot

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"dcabot/internal/exchange"
	"dcabot/internal/models"
)

// ============================================================
// Жизненный цикл пользователя
// ============================================================

func TestEngineStartStopUser(t *testing.T) {
	user := testUser()
	user.IsAutoTradeEnabled = false // цикл крутится вхолостую

	pairs := newMockPairStore()
	users := newMockUserStore(user)
	ex := newMockExchange()

	engine := NewEngine(
		testBotConfig(),
		pairs,
		users,
		&mockNotifier{},
		func(u *models.UserSettings) (exchange.Exchange, error) { return ex, nil },
		nil,
		zap.NewNop(),
	)
	defer engine.Stop()

	if err := engine.StartUser(context.Background(), user.ID); err != nil {
		t.Fatalf("start user: %v", err)
	}
	if !engine.IsUserRunning(user.ID) {
		t.Fatal("user should be running")
	}

	// повторный запуск - no-op
	if err := engine.StartUser(context.Background(), user.ID); err != nil {
		t.Fatalf("duplicate start: %v", err)
	}
	if got := len(engine.RunningUsers()); got != 1 {
		t.Errorf("expected 1 running user, got %d", got)
	}

	engine.StopUser(user.ID)
	if engine.IsUserRunning(user.ID) {
		t.Error("user should be stopped")
	}

	// остановка незапущенного - no-op
	engine.StopUser(user.ID)
}

// Цикл торговли живёт со временем движка: отмена контекста,
// переданного в StartUser, ограничивает только стартовую сверку.
func TestTradingLoopOutlivesStartContext(t *testing.T) {
	user := testUser()
	user.LastDcaBuyPrice = 120 // цена на бирже 100 - падение больше порога

	pairs := newMockPairStore()
	users := newMockUserStore(user)
	ex := newMockExchange()

	engine := NewEngine(
		testBotConfig(),
		pairs,
		users,
		&mockNotifier{},
		func(u *models.UserSettings) (exchange.Exchange, error) { return ex, nil },
		nil,
		zap.NewNop(),
	)
	defer engine.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	if err := engine.StartUser(ctx, user.ID); err != nil {
		t.Fatalf("start user: %v", err)
	}
	cancel() // main отменяет стартовый контекст сразу после запуска

	deadline := time.Now().Add(2 * time.Second)
	for pairs.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("trading loop must keep polling after the start context is canceled")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !engine.IsUserRunning(user.ID) {
		t.Error("user should still be running")
	}
}

// Запуск и остановка публикуют смену статуса
func TestStartStopNotifiesStatusChange(t *testing.T) {
	user := testUser()
	user.IsAutoTradeEnabled = false

	notifier := &mockNotifier{}
	engine := NewEngine(
		testBotConfig(),
		newMockPairStore(),
		newMockUserStore(user),
		notifier,
		func(u *models.UserSettings) (exchange.Exchange, error) { return newMockExchange(), nil },
		nil,
		zap.NewNop(),
	)
	defer engine.Stop()

	if err := engine.StartUser(context.Background(), user.ID); err != nil {
		t.Fatalf("start user: %v", err)
	}
	engine.StopUser(user.ID)

	msgs := notifier.getStatusMessages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 status notifications, got %d: %v", len(msgs), msgs)
	}
	if msgs[0] != "auto trading started" {
		t.Errorf("unexpected start message: %q", msgs[0])
	}
	if msgs[1] != "auto trading stopped" {
		t.Errorf("unexpected stop message: %q", msgs[1])
	}
}

func TestEngineStartUnknownUser(t *testing.T) {
	pairs := newMockPairStore()
	users := newMockUserStore()
	engine := NewEngine(
		testBotConfig(),
		pairs,
		users,
		&mockNotifier{},
		func(u *models.UserSettings) (exchange.Exchange, error) { return newMockExchange(), nil },
		nil,
		zap.NewNop(),
	)
	defer engine.Stop()

	if err := engine.StartUser(context.Background(), 404); err == nil {
		t.Fatal("starting an unknown user must fail")
	}
}

// ============================================================
// Ручная сверка
// ============================================================

func TestTriggerReconcileBusy(t *testing.T) {
	user := testUser()
	engine, _, _, _, _, handle := newTestEngine(user)

	if !handle.tryLock(time.Millisecond) {
		t.Fatal("lock must be free")
	}
	defer handle.unlock()

	if err := engine.TriggerReconcile(context.Background(), user.ID); err == nil {
		t.Fatal("manual reconcile must fail while the lock is busy")
	}
}

func TestTriggerReconcileNotRunning(t *testing.T) {
	user := testUser()
	engine, _, _, _, _, _ := newTestEngine(user)

	if err := engine.TriggerReconcile(context.Background(), 404); err == nil {
		t.Fatal("manual reconcile for a stopped user must fail")
	}
}

func TestTriggerReconcileDeletesOrphans(t *testing.T) {
	user := testUser()
	engine, pairs, _, _, _, _ := newTestEngine(user)

	orphan := &models.OrderPair{UserID: user.ID}
	if err := pairs.Create(orphan); err != nil {
		t.Fatalf("create pair: %v", err)
	}

	if err := engine.TriggerReconcile(context.Background(), user.ID); err != nil {
		t.Fatalf("trigger reconcile: %v", err)
	}
	if pairs.count() != 0 {
		t.Errorf("orphan pair should be deleted, %d pairs left", pairs.count())
	}
}
