// Package spv implements the peer-to-peer network session manager of an SPV client: a
// bounded pool of outbound peer connections driven by a single event loop, with message
// framing, a decode worker pool and tracking of outstanding data requests.
package spv

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/bsv-blockchain/teranode-spv/errors"
	"github.com/bsv-blockchain/teranode-spv/settings"
	"github.com/bsv-blockchain/teranode-spv/ulogger"
)

// Server runs a NetworkHandler as a service.
type Server struct {
	logger   ulogger.Logger
	settings *settings.Settings
	store    ChainStore
	filter   BloomFilter
	sink     MessageSink
	options  []Option

	network  *NetworkHandler
	runErrCh chan error
	stopOnce sync.Once
}

// New creates the service. The network handler is created by Init.
func New(logger ulogger.Logger, tSettings *settings.Settings, store ChainStore, filter BloomFilter, sink MessageSink, opts ...Option) *Server {
	return &Server{
		logger:   logger,
		settings: tSettings,
		store:    store,
		filter:   filter,
		sink:     sink,
		options:  opts,
		runErrCh: make(chan error, 1),
	}
}

// Health reports readiness once the handler exists. Liveness additionally requires at
// least one established peer.
func (s *Server) Health(_ context.Context, checkLiveness bool) (int, string, error) {
	if s.network == nil {
		return http.StatusServiceUnavailable, "network handler not initialised", errors.NewServiceNotStartedError("[SPV] network handler not initialised")
	}

	established := 0

	for _, conn := range s.network.Connections() {
		if conn.IsEstablished() {
			established++
		}
	}

	details := fmt.Sprintf(`{"resource": "peers", "connections": %d, "established": %d, "networkChainHeight": %d}`,
		s.network.ConnectionCount(), established, s.network.NetworkChainHeight())

	if checkLiveness && established == 0 {
		return http.StatusServiceUnavailable, details, nil
	}

	return http.StatusOK, details, nil
}

func (s *Server) Init(_ context.Context) (err error) {
	initPrometheusMetrics()

	s.network, err = NewNetworkHandler(s.logger, s.settings, s.store, s.filter, s.sink, s.options...)
	if err != nil {
		return err
	}

	return nil
}

// Start runs the network loop until ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context, readyCh chan<- struct{}) error {
	if s.network == nil {
		return errors.NewServiceNotStartedError("[SPV] Start called before Init")
	}

	go func() {
		s.runErrCh <- s.network.Run(ctx)
	}()

	s.logger.Infof("[SPV] service started on %s", s.settings.SPV.Network)

	if readyCh != nil {
		readyCh <- struct{}{}
	}

	return <-s.runErrCh
}

// Stop asks the network loop to shut down.
func (s *Server) Stop(_ context.Context) error {
	s.stopOnce.Do(func() {
		if s.network != nil {
			s.network.Shutdown()
		}
	})

	return nil
}

// Network returns the network handler, nil before Init.
func (s *Server) Network() *NetworkHandler {
	return s.network
}
