package capture

import (
	"context"
	"sync"
)

// producer runs one delivery goroutine at a time and lets Close wait for it.
type producer struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// start launches run on a new goroutine. It returns ErrSourceOpen if one is already running.
func (p *producer) start(run func(ctx context.Context)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		select {
		case <-p.done:
			// Previous run ended on its own.
			p.cancel()
		default:
			return ErrSourceOpen
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go func() {
		defer close(done)
		run(ctx)
	}()
	return nil
}

// stop cancels the running goroutine and waits for it to return.
func (p *producer) stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// running reports whether a delivery goroutine is active.
func (p *producer) running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}
