package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/bsv-blockchain/go-wire"
	"github.com/bsv-blockchain/teranode-spv/errors"
	"github.com/bsv-blockchain/teranode-spv/services/spv/addrmgr"
	"github.com/bsv-blockchain/teranode-spv/ulogger"
	"github.com/bsv-blockchain/teranode-spv/util/servicemanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestHTTPServerRoutes(t *testing.T) {
	sm := servicemanager.NewServiceManager(context.Background(), ulogger.TestLogger{})
	defer sm.ForceShutdown()

	e := newHTTPServer(sm)

	tests := []struct {
		path   string
		status int
	}{
		{path: "/metrics", status: http.StatusOK},
		{path: "/health", status: http.StatusOK},
		{path: "/alive", status: http.StatusOK},
		{path: "/nothing", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestWriteSeedsCSV(t *testing.T) {
	addresses := []*addrmgr.PeerAddress{
		addrmgr.NewPeerAddress("10.0.0.1", 8333, wire.SFNodeNetwork),
		addrmgr.NewPeerAddress("10.0.0.2", 18333, wire.SFNodeNetwork|wire.SFNodeBloom),
	}

	var buf bytes.Buffer

	require.NoError(t, writeSeedsCSV(&buf, addresses))

	assert.Equal(t, "host,port,services\n10.0.0.1,8333,1\n10.0.0.2,18333,5\n", buf.String())
}

func TestLoadEnvFiles(t *testing.T) {
	runApp := func(args ...string) error {
		app := &cli.App{
			Flags: []cli.Flag{
				&cli.StringSliceFlag{Name: "env-file"},
			},
			Before: loadEnvFiles,
			Action: func(*cli.Context) error { return nil },
		}

		return app.Run(append([]string{progname}, args...))
	}

	t.Run("variables are exported", func(t *testing.T) {
		envFile := filepath.Join(t.TempDir(), "spv.env")
		require.NoError(t, os.WriteFile(envFile, []byte("spv_test_env_loaded=yes\nspv_test_env_kept=file\n"), 0o600))

		t.Setenv("spv_test_env_kept", "environment")
		t.Cleanup(func() {
			_ = os.Unsetenv("spv_test_env_loaded")
		})

		require.NoError(t, runApp("--env-file", envFile))

		assert.Equal(t, "yes", os.Getenv("spv_test_env_loaded"))
		assert.Equal(t, "environment", os.Getenv("spv_test_env_kept"))
	})

	t.Run("missing file", func(t *testing.T) {
		err := runApp("--env-file", filepath.Join(t.TempDir(), "missing.env"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrConfiguration))
	})

	t.Run("no files", func(t *testing.T) {
		require.NoError(t, runApp())
	})
}
