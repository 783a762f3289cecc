package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adfharrison1/go-batch/pkg/config"
	"github.com/adfharrison1/go-batch/pkg/domain"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Storage.DataDir = t.TempDir()
	return cfg
}

func TestOpenStore_Backends(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		cfg := memoryConfig(t)
		store, err := OpenStore(ctx, cfg.Storage, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, "memory", store.Stats()["backend"])
		require.NoError(t, store.Close())
	})

	t.Run("pebble", func(t *testing.T) {
		cfg := memoryConfig(t)
		cfg.Storage.Backend = config.BackendPebble
		store, err := OpenStore(ctx, cfg.Storage, zerolog.Nop())
		require.NoError(t, err)
		require.NoError(t, store.Close())
		assert.DirExists(t, filepath.Join(cfg.Storage.DataDir, PebbleDirName))
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := memoryConfig(t)
		cfg.Storage.Backend = "cassandra"
		_, err := OpenStore(ctx, cfg.Storage, zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("corrupt snapshot", func(t *testing.T) {
		cfg := memoryConfig(t)
		path := filepath.Join(cfg.Storage.DataDir, cfg.Storage.SnapshotFile)
		require.NoError(t, os.WriteFile(path, []byte("not a snapshot"), 0644))
		_, err := OpenStore(ctx, cfg.Storage, zerolog.Nop())
		assert.Error(t, err)
	})
}

func TestServer_Routes(t *testing.T) {
	cfg := memoryConfig(t)
	srv, err := NewServer(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer srv.Shutdown(context.Background())

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "no route for GET /nowhere")
}

func TestServer_RequestLogging(t *testing.T) {
	var buf bytes.Buffer
	cfg := memoryConfig(t)
	srv, err := NewServer(context.Background(), cfg, zerolog.New(&buf))
	require.NoError(t, err)
	defer srv.Shutdown(context.Background())

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/batch/jobs/not-a-uuid/status", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)

	assert.Contains(t, buf.String(), `"path":"/batch/jobs/not-a-uuid/status"`)
	assert.Contains(t, buf.String(), `"status":400`)
	assert.Contains(t, buf.String(), `"component":"server"`)
}

func TestServer_SnapshotAndResume(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)

	srv, err := NewServer(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)

	source := domain.NewCollection("My List")
	target := domain.NewCollection("Liked Companies")
	require.NoError(t, srv.Store().CreateCollection(ctx, source))
	require.NoError(t, srv.Store().CreateCollection(ctx, target))

	// Written directly so no executor picks it up before shutdown
	job := domain.NewAddJob(source.ID, target.ID, []int64{4, 5, 6})
	require.NoError(t, srv.Store().CreateJob(ctx, job))

	require.NoError(t, srv.Shutdown(ctx))
	assert.FileExists(t, filepath.Join(cfg.Storage.DataDir, cfg.Storage.SnapshotFile))

	restarted, err := NewServer(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer restarted.Shutdown(ctx)

	n, err := restarted.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		restarted.Router().ServeHTTP(w, httptest.NewRequest("GET", "/batch/jobs/"+job.ID.String()+"/status", nil))
		var resp struct {
			Status string `json:"status"`
		}
		return w.Code == http.StatusOK && json.NewDecoder(w.Body).Decode(&resp) == nil && resp.Status == "COMPLETED"
	}, 2*time.Second, 10*time.Millisecond)

	ids, err := restarted.Store().ListEntityIDs(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5, 6}, ids)
}

func TestServer_ShutdownWithoutListen(t *testing.T) {
	srv, err := NewServer(context.Background(), memoryConfig(t), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(ctx))
	assert.Equal(t, int64(0), srv.Dispatcher().InFlight())
}
