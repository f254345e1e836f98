// Package connection — монитор состояния MTProto-соединения одного аккаунта.
// В отличие от однопользовательского userbot'а, где был один процесс-глобальный
// монитор, здесь у каждого воркера (§4.4) свой собственный инстанс: несколько
// аккаунтов работают в одном процессе параллельно и не должны делить состояние
// online/offline друг друга.
//
// Monitor предоставляет:
//   - WaitOnline(ctx) — блокирует до восстановления связи, если клиент офлайн;
//   - MarkConnected/MarkDisconnected — явные переходы между состояниями;
//   - фоновый мониторинг с периодическими RPC-вызовами для детекции восстановления;
//   - безопасную остановку и «генерационный» канал ожидания для снятия гонок.
package connection

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"telegram-forwarder/internal/infra/logger"

	"github.com/gotd/td/pool"
	"github.com/gotd/td/rpc"
	"github.com/gotd/td/telegram"
	"go.uber.org/zap"
)

const (
	// reconnectPingInterval определяет период, с которым выполняются легковесные RPC-вызовы
	// при ожидании восстановления соединения.
	reconnectPingInterval = 10 * time.Second
	// reconnectPingTimeout задает максимальное время ожидания ответа на RPC-вызов.
	reconnectPingTimeout = 5 * time.Second
)

// Monitor хранит ссылку на клиент конкретного аккаунта, текущее состояние
// online/offline и «поколенческий» канал ожидания восстановления (waitCh).
// Когда связь теряется, создаётся новый открытый канал и стартует monitorLoop;
// при восстановлении канал закрывается, что неблокирующим образом снимает всех
// ожидателей. Доступ к полям защищён мьютексами, признак online хранится в
// atomic.Bool. Monitor безопасен для использования из нескольких горутин.
type Monitor struct {
	client  *telegram.Client
	ctx     context.Context
	account string // телефон/метка аккаунта — только для логов

	connected atomic.Bool

	mu            sync.RWMutex
	waitCh        chan struct{}
	monitorCancel context.CancelFunc
}

// New создаёт монитор поверх клиента конкретного аккаунта. account используется
// только как метка в логах (например, последние цифры телефона). По умолчанию
// состояние — online: ожидатели не должны блокироваться «на ровном месте».
func New(ctx context.Context, client *telegram.Client, account string) *Monitor {
	m := &Monitor{
		client:  client,
		ctx:     ctx,
		account: account,
	}
	m.connected.Store(true)
	ready := make(chan struct{})
	close(ready)
	m.waitCh = ready
	return m
}

// MarkConnected переводит состояние в online, останавливает мониторинг и
// закрывает текущий wait-канал, разблокируя всех ожидателей. Идемпотентен.
func (m *Monitor) MarkConnected() {
	if m == nil {
		return
	}
	if m.connected.Swap(true) {
		return
	}

	m.mu.Lock()
	if m.monitorCancel != nil {
		m.monitorCancel()
		m.monitorCancel = nil
	}
	ch := m.waitCh
	if ch == nil {
		ch = make(chan struct{})
		m.waitCh = ch
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
	m.mu.Unlock()

	logger.Sink(logger.SinkDebug).Info("connection restored", zap.String("account", m.account))
}

// MarkDisconnected переводит состояние в offline. Идемпотентен: если уже
// офлайн — ничего не делает. Создаёт новое «поколение» wait-канала и запускает
// мониторинг восстановления (monitorLoop).
func (m *Monitor) MarkDisconnected() {
	if m == nil {
		return
	}
	if !m.connected.CompareAndSwap(true, false) {
		return
	}

	m.mu.Lock()
	if m.monitorCancel != nil {
		m.monitorCancel()
		m.monitorCancel = nil
	}
	m.waitCh = make(chan struct{})
	monitorCtx, cancel := context.WithCancel(m.ctx)
	m.monitorCancel = cancel
	m.mu.Unlock()

	logger.Sink(logger.SinkDebug).Info("connection lost, waiting for restore", zap.String("account", m.account))
	go m.monitorLoop(monitorCtx)
}

// WaitOnline блокирует вызывающую горутину до восстановления соединения или
// отмены контекста. Если уже online, возвращает сразу.
func (m *Monitor) WaitOnline(ctx context.Context) {
	if m == nil || ctx == nil || ctx.Err() != nil {
		return
	}
	if m.connected.Load() {
		return
	}

	for {
		ch := m.currentWaitCh()
		select {
		case <-ctx.Done():
			return
		case <-ch:
			if ch == m.currentWaitCh() {
				return
			}
			// попали на старый закрытый канал — ждём дальше
		}
	}
}

// HandleError анализирует ошибку err, полученную из RPC-слоя. Если ошибка
// похожа на сетевую и свидетельствует о разрыве соединения, монитор
// переводится в offline и функция возвращает true.
func (m *Monitor) HandleError(err error) bool {
	if m == nil || !isNetworkError(err) {
		return false
	}
	m.MarkDisconnected()
	return true
}

// Shutdown мягко останавливает мониторинг и закрывает канал ожидания,
// гарантируя, что все заблокированные ожидатели проснутся и завершатся.
func (m *Monitor) Shutdown() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.monitorCancel != nil {
		m.monitorCancel()
		m.monitorCancel = nil
	}
	wait := m.waitCh
	m.waitCh = nil
	m.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
		default:
			close(wait)
		}
	}
}

func (m *Monitor) currentWaitCh() <-chan struct{} {
	m.mu.RLock()
	ch := m.waitCh
	m.mu.RUnlock()
	if ch == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return ch
}

// monitorLoop с периодом reconnectPingInterval пытается выполнить RPC-вызов.
// При успехе монитор переводится в online и цикл завершается.
func (m *Monitor) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(reconnectPingInterval)
	defer ticker.Stop()

	attempt := 0
	debugLog := logger.Sink(logger.SinkDebug)

	for {
		if ctx.Err() != nil {
			return
		}

		attempt++
		start := time.Now()

		if m.client == nil {
			debugLog.Debug("client is nil, waiting for reconnect", zap.Int("attempt", attempt))
		} else {
			pingCtx, cancel := context.WithTimeout(ctx, reconnectPingTimeout)
			err := m.safeRPCCall(pingCtx)
			cancel()

			if err == nil {
				debugLog.Debug("rpc probe ok", zap.Int("attempt", attempt), zap.Duration("took", time.Since(start)))
				m.MarkConnected()
				return
			}

			switch {
			case errors.Is(err, net.ErrClosed), errors.Is(err, pool.ErrConnDead), errors.Is(err, rpc.ErrEngineClosed):
				debugLog.Debug("rpc probe aborted, connection closed",
					zap.Int("attempt", attempt), zap.Duration("took", time.Since(start)), zap.Error(err))
			case !isNetworkError(err):
				logger.Sink(logger.SinkError).Error("rpc probe failed with non-network error",
					zap.Int("attempt", attempt), zap.Duration("took", time.Since(start)), zap.Error(err))
			default:
				debugLog.Debug("rpc probe failed",
					zap.Int("attempt", attempt), zap.Duration("took", time.Since(start)), zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// safeRPCCall оборачивает легковесный RPC-вызов (Self) защитой от паник и
// переводит их в сетевую ошибку (net.ErrClosed). Self() требует полноценного
// MTProto-соединения и готовности API, в отличие от обычного пинга.
func (m *Monitor) safeRPCCall(ctx context.Context) (err error) {
	if m.client == nil {
		return net.ErrClosed
	}
	defer func() {
		if r := recover(); r != nil {
			err = net.ErrClosed
		}
	}()
	_, err = m.client.Self(ctx)
	return err
}

// isNetworkError определяет, сигнализирует ли ошибка о сетевой проблеме/разрыве.
// Считаем сетевыми: закрытия соединения/движка (pool.ErrConnDead, rpc.ErrEngineClosed),
// исчерпание ретраев rpc.RetryLimitReachedErr, таймауты/дедлайны, EOF и net.Error.
// Контекстные отмены не считаем сетевыми.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, pool.ErrConnDead) {
		return true
	}
	if errors.Is(err, rpc.ErrEngineClosed) {
		return true
	}
	var retryErr *rpc.RetryLimitReachedErr
	if errors.As(err, &retryErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
