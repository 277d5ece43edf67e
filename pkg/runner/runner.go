// Package runner groups the long-running parts of the process under a single
// errgroup so the first failure tears everything down.
package runner

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type Runner struct {
	g   *errgroup.Group
	ctx context.Context
}

func New(ctx context.Context) *Runner {
	g, ctx := errgroup.WithContext(ctx)

	return &Runner{
		g:   g,
		ctx: ctx,
	}
}

// Context returns the group context; it is cancelled when any task fails.
func (r *Runner) Context() context.Context {
	return r.ctx
}

func (r *Runner) Go(f func() error) {
	r.g.Go(f)
}

func (r *Runner) Wait() error {
	return r.g.Wait()
}
