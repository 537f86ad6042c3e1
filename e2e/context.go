package e2e

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"accounts/internal/app"
	"accounts/internal/platform/config"
	"accounts/internal/user/models"
)

// TestContext holds one scenario's process and the outcome of its last command.
type TestContext struct {
	app     *app.App
	cancel  context.CancelFunc
	done    chan error
	lastErr error
}

// Start wires a fresh in-memory process and starts its projections.
func (tc *TestContext) Start() error {
	cfg := config.Defaults()
	cfg.Router.AskTimeout = 5 * time.Second
	cfg.Projection.PollInterval = 5 * time.Millisecond
	cfg.Projection.SaveAfter = 10 * time.Millisecond

	a, err := app.New(context.Background(), cfg, nil, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	tc.app, tc.cancel, tc.done = a, cancel, make(chan error, 1)
	go func() { tc.done <- a.Run(ctx) }()
	return nil
}

// Stop shuts the process down. Safe to call when Start was never reached.
func (tc *TestContext) Stop() error {
	if tc.app == nil {
		return nil
	}
	tc.cancel()
	runErr := <-tc.done
	closeErr := tc.app.Close()
	tc.app = nil
	return errors.Join(runErr, closeErr)
}

func (tc *TestContext) Register(ctx context.Context, cmd models.Register) error {
	_, tc.lastErr = tc.app.Service.Register(ctx, cmd)
	return nil
}

func (tc *TestContext) Update(ctx context.Context, cmd models.Update) error {
	_, tc.lastErr = tc.app.Service.Update(ctx, cmd)
	return nil
}

func (tc *TestContext) LastError() error {
	return tc.lastErr
}

// EventuallyLookup polls the read model until check accepts the row.
func (tc *TestContext) EventuallyLookup(ctx context.Context, username models.Username, check func(models.Record) error) error {
	deadline := time.Now().Add(3 * time.Second)
	var last error
	for time.Now().Before(deadline) {
		rec, err := tc.app.Service.Lookup(ctx, username)
		if err == nil {
			if last = check(rec); last == nil {
				return nil
			}
		} else {
			last = err
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("read model never converged for %s: %w", username, last)
}

func (tc *TestContext) ListAll(ctx context.Context) ([]models.Record, error) {
	return tc.app.Service.ListAll(ctx)
}
