// Package service provides the start/stop lifecycle shared by long-running
// components such as the consensus write-ahead log.
package service

import (
	"context"
	"errors"
	"sync"

	"github.com/reinetwork/reimint/libs/log"
)

var (
	// ErrAlreadyStarted is returned when somebody tries to start an already
	// running service.
	ErrAlreadyStarted = errors.New("already started")
	// ErrAlreadyStopped is returned when somebody tries to stop an already
	// stopped service.
	ErrAlreadyStopped = errors.New("already stopped")
	// ErrNotStarted is returned when somebody tries to stop a not running
	// service.
	ErrNotStarted = errors.New("not started")
)

// Service defines a service that can be started and stopped once.
type Service interface {
	// Start is called to start the service, which should run until
	// the context terminates or Stop is called. If the service is already
	// running, Start must report an error.
	Start(context.Context) error

	// Stop stops the service. Stopping a service that never started is an
	// error.
	Stop() error

	// Return true if the service is running
	IsRunning() bool

	// String representation of the service
	String() string

	// Wait blocks until the service is stopped.
	Wait()
}

// Implementation describes the implementation that the BaseService
// implementation wraps.
type Implementation interface {
	Service

	// Called by the Services Start Method
	OnStart(context.Context) error

	// Called when the service's context is canceled or Stop is called.
	OnStop()
}

type serviceState int

const (
	stateIdle serviceState = iota
	stateRunning
	stateStopped
)

/*
BaseService carries the lifecycle bookkeeping for a component. Embed it and
implement OnStart/OnStop:

	type FooService struct {
		service.BaseService
		// private fields
	}

	func NewFooService(logger log.Logger) *FooService {
		fs := &FooService{}
		fs.BaseService = *service.NewBaseService(logger, "FooService", fs)
		return fs
	}

OnStart is called at most once per successful Start and OnStop at most once.
If OnStart returns an error the service stays idle and Start may be retried.
*/
type BaseService struct {
	Logger log.Logger
	name   string

	mtx   sync.Mutex
	state serviceState
	quit  chan struct{}

	// The "subclass" of BaseService
	impl Implementation
}

// NewBaseService creates a new BaseService.
func NewBaseService(logger log.Logger, name string, impl Implementation) *BaseService {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	return &BaseService{
		Logger: logger,
		name:   name,
		quit:   make(chan struct{}),
		impl:   impl,
	}
}

// Start starts the Service and calls its OnStart method. When ctx is
// canceled the service is stopped.
func (bs *BaseService) Start(ctx context.Context) error {
	bs.mtx.Lock()
	switch bs.state {
	case stateRunning:
		bs.mtx.Unlock()
		return ErrAlreadyStarted
	case stateStopped:
		bs.mtx.Unlock()
		bs.Logger.Error("not starting service; already stopped", "service", bs.name)
		return ErrAlreadyStopped
	}

	bs.Logger.Info("starting service", "service", bs.name, "impl", bs.impl.String())
	if err := bs.impl.OnStart(ctx); err != nil {
		bs.mtx.Unlock()
		return err
	}
	bs.state = stateRunning
	bs.mtx.Unlock()

	go func() {
		select {
		case <-bs.quit:
			// someone else explicitly called stop
		case <-ctx.Done():
			if err := bs.Stop(); err != nil && !errors.Is(err, ErrAlreadyStopped) {
				bs.Logger.Error("failed to stop service on context cancel", "service", bs.name, "err", err)
			}
		}
	}()

	return nil
}

// Stop calls OnStop and closes the quit channel.
func (bs *BaseService) Stop() error {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()

	switch bs.state {
	case stateIdle:
		bs.Logger.Error("not stopping service; not started yet", "service", bs.name)
		return ErrNotStarted
	case stateStopped:
		return ErrAlreadyStopped
	}

	bs.Logger.Info("stopping service", "service", bs.name, "impl", bs.impl.String())
	bs.impl.OnStop()
	bs.state = stateStopped
	close(bs.quit)

	return nil
}

// IsRunning reports whether the service has started and not yet stopped.
func (bs *BaseService) IsRunning() bool {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()
	return bs.state == stateRunning
}

// Wait blocks until the service is stopped.
func (bs *BaseService) Wait() { <-bs.quit }

// Quit returns a channel which is closed once the service is stopped.
func (bs *BaseService) Quit() <-chan struct{} { return bs.quit }

// String implements Service by returning a string representation of the service.
func (bs *BaseService) String() string { return bs.name }
