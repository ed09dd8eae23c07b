// Package utils provides utility functions for the sockspy application.
package utils

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// TerminationSignals cancel the process context. SIGPIPE is left to the
// runtime so a peer hanging up only fails the write on that connection.
var TerminationSignals = []os.Signal{
	unix.SIGINT,
	unix.SIGTERM,
	unix.SIGHUP,
	unix.SIGUSR1,
	unix.SIGUSR2,
	unix.SIGQUIT,
	unix.SIGALRM,
}

var (
	cancelMu sync.Mutex
	cancel   context.CancelCauseFunc
)

// ErrSignalled is the cancellation cause when a termination signal arrived.
var ErrSignalled = errors.New("termination signal received")

// NewCtx returns the process wide context. It is cancelled once, either by the
// first termination signal or by Stop.
func NewCtx() context.Context {
	ctx, c := context.WithCancelCause(context.Background())
	SetCancel(c)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, TerminationSignals...)

	go func() {
		defer signal.Stop(sigs)
		select {
		case sig := <-sigs:
			c(errors.Join(ErrSignalled, errors.New(sig.String())))
		case <-ctx.Done():
		}
	}()

	return ctx
}

// Stop requires a reason to stop the process.
// this is to ensure that sockspy is not stopped accidentally.
// and to trace back the stopper
func Stop(logger *zap.Logger, reason string) error {
	if logger == nil {
		return errors.New("logger is not set")
	}
	cancelMu.Lock()
	c := cancel
	cancelMu.Unlock()
	if c == nil {
		err := errors.New("cancel function is not set")
		LogError(logger, err, "failed stopping sockspy")
		return err
	}

	if reason == "" {
		err := errors.New("cannot stop sockspy without a reason")
		LogError(logger, err, "failed stopping sockspy")
		return err
	}

	logger.Info("stopping sockspy", zap.String("reason", reason))
	c(errors.New(reason))
	return nil
}

func SetCancel(c context.CancelCauseFunc) {
	cancelMu.Lock()
	cancel = c
	cancelMu.Unlock()
}
