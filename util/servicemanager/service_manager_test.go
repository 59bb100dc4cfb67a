package servicemanager

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bsv-blockchain/teranode-spv/errors"
	"github.com/bsv-blockchain/teranode-spv/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockService struct {
	name      string
	initErr   error
	startErr  error
	stopErr   error
	health    int
	mu        sync.Mutex
	initDone  bool
	started   bool
	stopped   bool
	stopOrder *[]string
}

func newMockService(name string) *mockService {
	return &mockService{name: name, health: http.StatusOK}
}

func (m *mockService) Init(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.initDone = true

	return m.initErr
}

func (m *mockService) Start(ctx context.Context, readyCh chan<- struct{}) error {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()

	if m.startErr != nil {
		return m.startErr
	}

	readyCh <- struct{}{}

	<-ctx.Done()

	return nil
}

func (m *mockService) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopped = true

	if m.stopOrder != nil {
		*m.stopOrder = append(*m.stopOrder, m.name)
	}

	return m.stopErr
}

func (m *mockService) Health(_ context.Context, _ bool) (int, string, error) {
	return m.health, `{"resource": "mock"}`, nil
}

func (m *mockService) calls() (bool, bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.initDone, m.started, m.stopped
}

func newTestManager(ctx context.Context) *ServiceManager {
	return NewServiceManager(ctx, ulogger.New("test", ulogger.WithWriter(io.Discard)))
}

func TestServiceManagerAddService(t *testing.T) {
	t.Run("init is called", func(t *testing.T) {
		sm := newTestManager(context.Background())
		defer sm.ForceShutdown()

		service := newMockService("svc")
		require.NoError(t, sm.AddService("svc", service))

		initDone, _, _ := service.calls()
		assert.True(t, initDone)
		assert.Len(t, sm.services, 1)
	})

	t.Run("init failure", func(t *testing.T) {
		sm := newTestManager(context.Background())
		defer sm.ForceShutdown()

		service := newMockService("svc")
		service.initErr = errors.NewServiceError("init failed")

		err := sm.AddService("svc", service)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "init failed")
	})
}

func TestServiceManagerWait(t *testing.T) {
	t.Run("cancellation stops services in reverse order", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		sm := newTestManager(ctx)

		order := make([]string, 0)
		services := []*mockService{newMockService("a"), newMockService("b"), newMockService("c")}

		for _, service := range services {
			service.stopOrder = &order
			require.NoError(t, sm.AddService(service.name, service))
		}

		sm.WaitForServiceToBeReady()
		cancel()

		require.NoError(t, sm.Wait())
		assert.Equal(t, []string{"c", "b", "a"}, order)

		for _, service := range services {
			_, started, stopped := service.calls()
			assert.True(t, started)
			assert.True(t, stopped)
		}
	})

	t.Run("start failure is returned", func(t *testing.T) {
		sm := newTestManager(context.Background())

		service := newMockService("svc")
		service.startErr = errors.NewServiceError("start failed")
		require.NoError(t, sm.AddService("svc", service))

		err := sm.Wait()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "start failed")

		_, _, stopped := service.calls()
		assert.True(t, stopped)
	})

	t.Run("stop failure does not fail shutdown", func(t *testing.T) {
		sm := newTestManager(context.Background())

		service := newMockService("svc")
		service.stopErr = errors.NewServiceError("stop failed")
		require.NoError(t, sm.AddService("svc", service))

		go func() {
			time.Sleep(50 * time.Millisecond)
			sm.ForceShutdown()
		}()

		assert.NoError(t, sm.Wait())
	})
}

func TestServiceManagerHealthHandler(t *testing.T) {
	sm := newTestManager(context.Background())
	defer sm.ForceShutdown()

	healthy := newMockService("healthy")
	require.NoError(t, sm.AddService("healthy", healthy))

	status, body, err := sm.HealthHandler(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, json.Valid([]byte(body)), body)

	unhealthy := newMockService("unhealthy")
	unhealthy.health = http.StatusServiceUnavailable
	require.NoError(t, sm.AddService("unhealthy", unhealthy))

	status, body, err = sm.HealthHandler(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, body, `"service": "unhealthy"`)
}

func TestServiceManagerHealthHTTPHandler(t *testing.T) {
	sm := newTestManager(context.Background())
	defer sm.ForceShutdown()

	service := newMockService("spv")
	service.health = http.StatusServiceUnavailable
	require.NoError(t, sm.AddService("spv", service))

	rec := httptest.NewRecorder()
	sm.HealthHTTPHandler(true).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/alive", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"service": "spv"`)
}
