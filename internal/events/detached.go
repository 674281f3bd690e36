package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Detached runs side effects on their own goroutine with their own timeout so
// they never block or fail the caller.
type Detached struct {
	timeout time.Duration
	log     *zap.Logger
	wg      sync.WaitGroup
}

// NewDetached constructs a Detached runner.
func NewDetached(timeout time.Duration, log *zap.Logger) *Detached {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Detached{timeout: timeout, log: log}
}

// Go runs fn in the background; the error is logged under name.
func (d *Detached) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			d.log.Warn("background side effect failed", zap.String("effect", name), zap.Error(err))
		}
	}()
}

// Wait blocks until every started side effect has returned.
func (d *Detached) Wait() { d.wg.Wait() }

// DetachedPurger runs compliance purges in the background.
type DetachedPurger struct {
	inner interface {
		PurgeVRMs(ctx context.Context, vrms []string) error
	}
	d *Detached
}

// NewDetachedPurger wraps inner so PurgeVRMs returns immediately.
func NewDetachedPurger(inner interface {
	PurgeVRMs(ctx context.Context, vrms []string) error
}, d *Detached) *DetachedPurger {
	return &DetachedPurger{inner: inner, d: d}
}

// PurgeVRMs schedules the purge and reports no error.
func (p *DetachedPurger) PurgeVRMs(ctx context.Context, vrms []string) error {
	vrms = append([]string(nil), vrms...)
	p.d.Go(ctx, "compliance purge", func(ctx context.Context) error {
		return p.inner.PurgeVRMs(ctx, vrms)
	})
	return nil
}
