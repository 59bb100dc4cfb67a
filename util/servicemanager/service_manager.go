// Package servicemanager starts services in registration order, stops them in reverse order
// and shuts everything down on SIGINT or SIGTERM.
package servicemanager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bsv-blockchain/teranode-spv/errors"
	"github.com/bsv-blockchain/teranode-spv/ulogger"
	"golang.org/x/sync/errgroup"
)

// Service is a component run by the ServiceManager.
type Service interface {
	Init(ctx context.Context) error
	Start(ctx context.Context, readyCh chan<- struct{}) error
	Stop(ctx context.Context) error
	Health(ctx context.Context, checkLiveness bool) (int, string, error)
}

type serviceWrapper struct {
	name     string
	instance Service
	index    int
	startCh  chan struct{}
	readyCh  chan struct{}
}

const (
	startTimeout = 5 * time.Second
	stopTimeout  = 5 * time.Second
)

// ServiceManager manages the lifecycle of the services of a process.
type ServiceManager struct {
	services   []serviceWrapper
	logger     ulogger.Logger
	Ctx        context.Context
	cancelFunc context.CancelFunc
	g          *errgroup.Group
}

// NewServiceManager creates a service manager that cancels its context on SIGINT or SIGTERM.
func NewServiceManager(ctx context.Context, logger ulogger.Logger) *ServiceManager {
	ctx, cancelFunc := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)

	sm := &ServiceManager{
		services:   make([]serviceWrapper, 0),
		logger:     logger,
		Ctx:        ctx,
		cancelFunc: cancelFunc,
		g:          g,
	}

	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

		defer signal.Stop(sigs)

		select {
		case <-sigs:
			sm.logger.Infof("🟠 Received shutdown signal. Stopping services...")
			sm.cancelFunc()
		case <-ctx.Done():
		}
	}()

	return sm
}

// AddService initialises the service and starts it once the previously added service has
// started.
func (sm *ServiceManager) AddService(name string, service Service) error {
	sw := serviceWrapper{
		name:     name,
		instance: service,
		index:    len(sm.services),
		startCh:  make(chan struct{}),
		readyCh:  make(chan struct{}, 1),
	}

	var previousStarted chan struct{}
	if sw.index > 0 {
		previousStarted = sm.services[sw.index-1].startCh
	}

	sm.services = append(sm.services, sw)

	sm.logger.Infof("⚪️ Initializing service %s...", name)

	if err := service.Init(sm.Ctx); err != nil {
		return err
	}

	sm.g.Go(func() error {
		if previousStarted != nil {
			if err := sm.waitForPreviousServiceToStart(sw, previousStarted); err != nil {
				return err
			}
		}

		sm.logger.Infof("🟢 Starting service %s...", name)
		close(sw.startCh)

		if err := service.Start(sm.Ctx, sw.readyCh); err != nil {
			sm.logger.Errorf("Error from service start %s: %v", name, err)
			return err
		}

		return nil
	})

	return nil
}

func (sm *ServiceManager) waitForPreviousServiceToStart(sw serviceWrapper, started <-chan struct{}) error {
	timer := time.NewTimer(startTimeout)
	defer timer.Stop()

	select {
	case <-started:
		return nil
	case <-sm.Ctx.Done():
		return sm.Ctx.Err()
	case <-timer.C:
		return errors.NewServiceError("%s (index %d) timed out waiting for previous service to start", sw.name, sw.index)
	}
}

// WaitForServiceToBeReady blocks until every service signalled readiness or the manager
// context is done.
func (sm *ServiceManager) WaitForServiceToBeReady() {
	for _, service := range sm.services {
		select {
		case <-service.readyCh:
			sm.logger.Infof("🟢 Service %s is ready", service.name)
		case <-sm.Ctx.Done():
			return
		}
	}
}

// ForceShutdown cancels the context of every service.
func (sm *ServiceManager) ForceShutdown() {
	sm.cancelFunc()
}

// Wait blocks until the services return, then stops them in reverse order. An error
// returned by a service is passed on; cancellation is not an error.
func (sm *ServiceManager) Wait() error {
	err := sm.g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		sm.logger.Errorf("Received error: %v", err)
	}

	for i := len(sm.services) - 1; i >= 0; i-- {
		service := sm.services[i]

		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)

		sm.logger.Infof("🟠 Stopping service %s...", service.name)

		if stopErr := service.instance.Stop(stopCtx); stopErr != nil {
			sm.logger.Warnf("[%s] Failed to stop service: %v", service.name, stopErr)
		} else {
			sm.logger.Infof("[%s] Service stopped gracefully", service.name)
		}

		stopCancel()
	}

	sm.logger.Infof("🛑 All services stopped.")

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// HealthHandler aggregates the health of every service into one JSON document. The status
// is 503 when any service is unhealthy.
func (sm *ServiceManager) HealthHandler(ctx context.Context, checkLiveness bool) (int, string, error) {
	overallStatus := http.StatusOK
	msgs := make([]string, 0, len(sm.services))

	for _, service := range sm.services {
		status, details, err := service.instance.Health(ctx, checkLiveness)
		if err != nil || status != http.StatusOK {
			overallStatus = http.StatusServiceUnavailable
		}

		if details == "" || !json.Valid([]byte(details)) {
			quoted, _ := json.Marshal(details)
			details = string(quoted)
		}

		msgs = append(msgs, fmt.Sprintf(`{"service": %q, "status": "%d", "details": %s}`, service.name, status, details))
	}

	jsonStr := fmt.Sprintf(`{"status": "%d", "services": [%s]}`, overallStatus, strings.Join(msgs, ",\n"))

	var jsonFormatted bytes.Buffer
	if err := json.Indent(&jsonFormatted, []byte(jsonStr), "", "  "); err == nil {
		jsonStr = jsonFormatted.String()
	}

	return overallStatus, jsonStr, nil
}

// HealthHTTPHandler serves HealthHandler over HTTP, as readiness when checkLiveness is false
// and as liveness otherwise.
func (sm *ServiceManager) HealthHTTPHandler(checkLiveness bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, details, err := sm.HealthHandler(r.Context(), checkLiveness)
		if err != nil {
			sm.logger.Errorf("[ServiceManager] health check failed: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(details))
	}
}
