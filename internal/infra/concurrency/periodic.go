// Package concurrency - вспомогательная инфраструктура конкурентного исполнения.
// Periodic - отменяемая фоновая задача «по тикеру» с идемпотентными Start/Stop.
// Используется контроллером сессии для периодического обновления статуса и истории.
package concurrency

import (
	"context"
	"sync"
	"time"

	"botpanel/internal/infra/logger"
)

// Periodic запускает fn каждые interval до отмены. Первый вызов происходит через interval,
// а не сразу: немедленную загрузку делает вызывающий.
//
// Гарантия Stop: после возврата ни один новый вызов fn не начнётся. Cancel даёт ту же
// гарантию для будущих тиков, но не ждёт текущий; его можно звать изнутри fn.
type Periodic struct {
	name string

	mu     sync.Mutex         // mu защищает cancel от гонок Start/Stop/Cancel.
	cancel context.CancelFunc // cancel завершает активный цикл; nil, если цикл не запущен.
	wg     sync.WaitGroup     // wg дожидается завершения всех циклов при Stop.
}

// NewPeriodic создаёт задачу; name используется только в логах.
func NewPeriodic(name string) *Periodic {
	return &Periodic{name: name}
}

// Start поднимает цикл. Возвращает false, если цикл уже работает или аргументы
// невалидны (nil-контекст, неположительный интервал, nil fn).
func (p *Periodic) Start(ctx context.Context, interval time.Duration, fn func(context.Context)) bool {
	if ctx == nil || interval <= 0 || fn == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Go(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		logger.Debugf("periodic %s: started, interval %s", p.name, interval)
		defer logger.Debugf("periodic %s: stopped", p.name)

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				// Тик мог совпасть с отменой: select выбирает случайную готовую ветку.
				if runCtx.Err() != nil {
					return
				}
				fn(runCtx)
			}
		}
	})
	return true
}

// Cancel отменяет цикл, не дожидаясь текущего вызова fn.
func (p *Periodic) Cancel() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Stop отменяет цикл и ждёт его завершения. Нельзя вызывать изнутри fn: это self-wait.
func (p *Periodic) Stop() {
	p.Cancel()
	p.wg.Wait()
}

// Running сообщает, запущен ли цикл (и не отменён).
func (p *Periodic) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}
