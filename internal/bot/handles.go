package bot

import (
	"sync"
	"sync/atomic"
	"time"

	"dcabot/internal/exchange"
)

// userHandle - runtime состояние одного пользователя: биржевой клиент,
// lock на создание пар, debounce-таймер и флаг предупреждения о балансе.
//
// Создается при запуске пользователя, уничтожается при остановке.
// Всё мутабельное per-user состояние живёт здесь, не в глобальных
// переменных.
type userHandle struct {
	userID int64

	ex     exchange.Exchange
	stream Stream

	// lock - мьютекс на канале: tryLock с таймаутом, чего sync.Mutex
	// не умеет. Буфер 1: свободен когда канал пуст.
	lock chan struct{}

	// debounce - таймер отложенного пересоздания пары. Новое событие
	// продажи отменяет и заменяет текущий таймер (last-write-wins).
	debounce   *time.Timer
	debounceMu sync.Mutex

	// balanceWarned - предупреждение о нехватке средств уже отправлено
	// в текущем эпизоде (1) или нет (0). Сбрасывается, когда баланса
	// снова хватает.
	balanceWarned int32

	// cancel останавливает торговый цикл пользователя
	cancel func()

	closed int32
}

func newUserHandle(userID int64, ex exchange.Exchange) *userHandle {
	return &userHandle{
		userID: userID,
		ex:     ex,
		lock:   make(chan struct{}, 1),
	}
}

// tryLock пытается захватить lock в течение timeout.
// Возвращает false, если lock занят дольше таймаута.
func (h *userHandle) tryLock(timeout time.Duration) bool {
	select {
	case h.lock <- struct{}{}:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case h.lock <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

// unlock освобождает lock. Вызывать только после успешного tryLock.
func (h *userHandle) unlock() {
	select {
	case <-h.lock:
	default:
		panic("bot: unlock of unlocked user handle")
	}
}

// scheduleDebounce отменяет текущий таймер (если есть) и ставит новый.
// fn выполнится через quiet, если за это время не придёт новое событие.
func (h *userHandle) scheduleDebounce(quiet time.Duration, fn func()) {
	h.debounceMu.Lock()
	defer h.debounceMu.Unlock()

	if atomic.LoadInt32(&h.closed) == 1 {
		return
	}

	if h.debounce != nil {
		h.debounce.Stop()
	}
	h.debounce = time.AfterFunc(quiet, fn)
}

// cancelDebounce останавливает отложенное пересоздание пары
func (h *userHandle) cancelDebounce() {
	h.debounceMu.Lock()
	defer h.debounceMu.Unlock()

	if h.debounce != nil {
		h.debounce.Stop()
		h.debounce = nil
	}
}

// markBalanceWarned возвращает true, если предупреждение ещё не
// отправлялось в текущем эпизоде (и помечает его отправленным)
func (h *userHandle) markBalanceWarned() bool {
	return atomic.CompareAndSwapInt32(&h.balanceWarned, 0, 1)
}

// resetBalanceWarned завершает эпизод нехватки средств
func (h *userHandle) resetBalanceWarned() {
	atomic.StoreInt32(&h.balanceWarned, 0)
}

// teardown освобождает ресурсы handle: останавливает цикл, stream,
// debounce-таймер и закрывает биржевого клиента
func (h *userHandle) teardown() {
	if !atomic.CompareAndSwapInt32(&h.closed, 0, 1) {
		return
	}

	if h.cancel != nil {
		h.cancel()
	}

	h.cancelDebounce()

	if h.stream != nil {
		h.stream.Close()
	}

	if h.ex != nil {
		h.ex.Close()
	}
}
