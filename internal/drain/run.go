package drain

import (
	"context"
	"time"
)

// Signal is the connectivity source Run listens to. netmon.Monitor
// satisfies it.
type Signal interface {
	IsOnline() bool
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Run drains on every offline to online transition of sig and every
// interval until ctx is done.
func (p *Processor) Run(ctx context.Context, interval time.Duration, sig Signal) {
	trigger := make(chan struct{}, 1)
	unsubscribe := sig.Subscribe(func(online bool) {
		if !online {
			return
		}
		select {
		case trigger <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pass := func(reason string) {
		p.log.Debug(ctx, "drain triggered", "reason", reason)
		if _, err := p.Drain(ctx); err != nil && ctx.Err() == nil {
			p.log.Error(ctx, "drain failed", "error", err)
		}
	}

	pass("start")
	for {
		select {
		case <-trigger:
			pass("online")
		case <-ticker.C:
			pass("tick")
		case <-ctx.Done():
			return
		}
	}
}
