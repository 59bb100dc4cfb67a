package main

import (
	"context"
	"net/http"
	"time"

	"github.com/bsv-blockchain/teranode-spv/errors"
	"github.com/bsv-blockchain/teranode-spv/ulogger"
	"github.com/bsv-blockchain/teranode-spv/util/servicemanager"
	"github.com/felixge/fgprof"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newHTTPServer routes the prometheus metrics, the health of the services and the fgprof
// wall clock profiler.
func newHTTPServer(sm *servicemanager.ServiceManager) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/health", echo.WrapHandler(sm.HealthHTTPHandler(false)))
	e.GET("/alive", echo.WrapHandler(sm.HealthHTTPHandler(true)))
	e.GET("/debug/fgprof", echo.WrapHandler(fgprof.Handler()))

	return e
}

// serveHTTP runs e on address until ctx is done.
func serveHTTP(ctx context.Context, logger ulogger.Logger, address string, e *echo.Echo) {
	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("[%s] http endpoint shutdown error: %v", progname, err)
		}
	}()

	logger.Infof("[%s] http endpoint listening on %s", progname, address)

	if err := e.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("[%s] http endpoint failed: %v", progname, err)
	}
}
