// Package supervisor runs the long-lived background loops of one process
// under a single cancellation context.
//
// Workers are started with Group.Go and joined with Group.Wait. Periodic
// workers use Every, which recovers panics and logs per-tick errors so a
// failing iteration never ends the loop.
package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/danmuck/relayctl/internal/logging"
	"golang.org/x/sync/errgroup"
)

// Group owns a set of named workers sharing one context.
type Group struct {
	eg  *errgroup.Group
	ctx context.Context
}

// New returns a Group whose context is cancelled when parent is, or when any
// worker returns a non-nil error.
func New(parent context.Context) (*Group, context.Context) {
	eg, ctx := errgroup.WithContext(parent)
	return &Group{eg: eg, ctx: ctx}, ctx
}

// Context returns the shared worker context.
func (g *Group) Context() context.Context {
	return g.ctx
}

// Go starts a named worker. A panic is converted into an error for that worker.
func (g *Group) Go(name string, fn func(ctx context.Context) error) {
	log := logging.L("supervisor")
	g.eg.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("worker", name).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("worker panicked")
				err = fmt.Errorf("supervisor: worker %s panicked: %v", name, r)
			}
		}()
		log.Debug().Str("worker", name).Msg("worker started")
		err = fn(g.ctx)
		log.Debug().Str("worker", name).Err(err).Msg("worker stopped")
		return err
	})
}

// Wait blocks until every worker returns.
func (g *Group) Wait() error {
	return g.eg.Wait()
}

// Every calls fn once per interval until ctx is done. Errors and panics from
// fn are logged and the loop continues on the next tick. It returns nil when
// ctx is cancelled.
func Every(ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context) error) error {
	if interval <= 0 {
		return fmt.Errorf("supervisor: %s: non-positive interval %v", name, interval)
	}
	log := logging.L("supervisor")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := Tick(ctx, name, fn); err != nil {
				log.Warn().Str("worker", name).Err(err).Msg("tick failed")
			}
		}
	}
}

// Tick runs fn once, converting a panic into an error.
func Tick(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log := logging.L("supervisor")
			log.Error().Str("worker", name).Interface("panic", r).Msg("tick panicked")
			err = fmt.Errorf("supervisor: %s tick panicked: %v", name, r)
		}
	}()
	return fn(ctx)
}
