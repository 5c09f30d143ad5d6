package eventbus

import (
	"context"
	"sync"
)

// WorkerPool - ограниченный пул горутин для асинхронных обработчиков
//
// Потребитель очереди не должен плодить горутину на каждый вызов:
// пул задает жесткий потолок параллелизма и дает обратное давление,
// когда обработчики не успевают.
type WorkerPool struct {
	tasks chan func()
	wg    sync.WaitGroup
}

// NewWorkerPool создает пул из workers горутин с очередью queueSize задач
func NewWorkerPool(workers, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}
	p := &WorkerPool{
		tasks: make(chan func(), queueSize),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Submit ставит задачу в пул; блокируется при заполненной очереди
//
// Возвращает false, если контекст отменен до постановки задачи.
func (p *WorkerPool) Submit(ctx context.Context, task func()) bool {
	select {
	case p.tasks <- task:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop останавливает пул и дожидается завершения принятых задач
func (p *WorkerPool) Stop() {
	close(p.tasks)
	p.wg.Wait()
}
