package adapter

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamallamadel/brainego-sub004/internal/backup"
)

// fakeVectorEngine serves the subset of the snapshot API the adapter
// drives: create, list, download, delete, upload, count and health.
type fakeVectorEngine struct {
	mu        sync.Mutex
	snapshots map[string][]byte
	uploads   map[string][]byte
	deleted   []string
	counts    map[string]int64
	apiKeys   []string

	// listDelay makes the first N listing calls report size 0 so poll
	// loops are exercised.
	pendingLists int
}

func newFakeVectorEngine() *fakeVectorEngine {
	return &fakeVectorEngine{
		snapshots: make(map[string][]byte),
		uploads:   make(map[string][]byte),
		counts:    make(map[string]int64),
	}
}

func (f *fakeVectorEngine) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})

	mux.HandleFunc("/collections/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.apiKeys = append(f.apiKeys, r.Header.Get("api-key"))

		var collection, rest string
		fmt.Sscanf(r.URL.Path, "/collections/%s", &rest)
		for i := 0; i < len(rest); i++ {
			if rest[i] == '/' {
				collection, rest = rest[:i], rest[i+1:]
				break
			}
		}
		if collection == "" {
			collection, rest = rest, ""
		}

		switch {
		case rest == "" && r.Method == http.MethodGet:
			fmt.Fprintf(w, `{"result":{"points_count":%d}}`, f.counts[collection])

		case rest == "snapshots" && r.Method == http.MethodPost:
			name := collection + "-snap-1"
			f.snapshots[collection+"/"+name] = []byte("points for " + collection)
			fmt.Fprintf(w, `{"result":{"name":%q,"size":0}}`, name)

		case rest == "snapshots" && r.Method == http.MethodGet:
			name := collection + "-snap-1"
			data := f.snapshots[collection+"/"+name]
			size := len(data)
			if f.pendingLists > 0 {
				f.pendingLists--
				size = 0
			}
			fmt.Fprintf(w, `{"result":[{"name":%q,"size":%d}]}`, name, size)

		case rest == "snapshots/"+collection+"-snap-1" && r.Method == http.MethodGet:
			w.Write(f.snapshots[collection+"/"+collection+"-snap-1"])

		case rest == "snapshots/"+collection+"-snap-1" && r.Method == http.MethodDelete:
			f.deleted = append(f.deleted, collection)
			fmt.Fprint(w, `{"result":true}`)

		case rest == "snapshots/upload" && r.Method == http.MethodPost:
			file, _, err := r.FormFile("snapshot")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(file)
			f.uploads[collection] = data
			fmt.Fprint(w, `{"result":true}`)

		default:
			http.NotFound(w, r)
		}
	})

	return mux
}

func newTestVectorAdapter(t *testing.T, baseURL string, collections []string) *VectorAdapter {
	t.Helper()
	adapter, err := NewVectorAdapter(&VectorConfig{
		BaseURL:      baseURL,
		APIKey:       "test-key",
		Collections:  collections,
		WorkDir:      t.TempDir(),
		PollInterval: 10 * time.Millisecond,
		PollTimeout:  2 * time.Second,
	}, nil)
	require.NoError(t, err)
	return adapter
}

func TestVectorAdapter_CreateSnapshotBundlesCollections(t *testing.T) {
	engine := newFakeVectorEngine()
	engine.pendingLists = 2
	server := httptest.NewServer(engine.handler())
	defer server.Close()

	adapter := newTestVectorAdapter(t, server.URL, []string{"memories", "entities"})

	artifactPath, size, err := adapter.CreateSnapshot(context.Background())
	require.NoError(t, err)
	defer os.Remove(artifactPath)
	assert.Positive(t, size)

	// The artifact is a tar bundle with one entry per collection.
	file, err := os.Open(artifactPath)
	require.NoError(t, err)
	defer file.Close()

	entries := make(map[string]string)
	tr := tar.NewReader(file)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries[header.Name] = string(data)
	}

	assert.Equal(t, map[string]string{
		"memories.snapshot": "points for memories",
		"entities.snapshot": "points for entities",
	}, entries)

	// Server-side snapshots are cleaned up after download.
	assert.ElementsMatch(t, []string{"memories", "entities"}, engine.deleted)

	// Every call carried the configured API key.
	for _, key := range engine.apiKeys {
		assert.Equal(t, "test-key", key)
	}
}

func TestVectorAdapter_RestoreUploadsEachCollection(t *testing.T) {
	engine := newFakeVectorEngine()
	server := httptest.NewServer(engine.handler())
	defer server.Close()

	adapter := newTestVectorAdapter(t, server.URL, []string{"memories", "entities"})

	artifactPath, _, err := adapter.CreateSnapshot(context.Background())
	require.NoError(t, err)
	defer os.Remove(artifactPath)

	require.NoError(t, adapter.Restore(context.Background(), artifactPath))

	assert.Equal(t, "points for memories", string(engine.uploads["memories"]))
	assert.Equal(t, "points for entities", string(engine.uploads["entities"]))
}

func TestVectorAdapter_RestoreRejectsEmptyArtifact(t *testing.T) {
	server := httptest.NewServer(newFakeVectorEngine().handler())
	defer server.Close()

	adapter := newTestVectorAdapter(t, server.URL, []string{"memories"})

	emptyTar := adapter.config.WorkDir + "/empty.snapshot"
	file, err := os.Create(emptyTar)
	require.NoError(t, err)
	require.NoError(t, tar.NewWriter(file).Close())
	require.NoError(t, file.Close())

	err = adapter.Restore(context.Background(), emptyTar)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no collection snapshots")
}

func TestVectorAdapter_HealthCheck(t *testing.T) {
	server := httptest.NewServer(newFakeVectorEngine().handler())
	adapter := newTestVectorAdapter(t, server.URL, []string{"memories"})

	healthy, detail := adapter.HealthCheck(context.Background())
	assert.True(t, healthy)
	assert.Equal(t, "ok", detail)

	server.Close()
	healthy, detail = adapter.HealthCheck(context.Background())
	assert.False(t, healthy)
	assert.NotEmpty(t, detail)
}

func TestVectorAdapter_CountSummary(t *testing.T) {
	engine := newFakeVectorEngine()
	engine.counts["memories"] = 1200
	engine.counts["entities"] = 7
	server := httptest.NewServer(engine.handler())
	defer server.Close()

	adapter := newTestVectorAdapter(t, server.URL, []string{"memories", "entities"})

	counts, err := adapter.CountSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, backup.CountSummary{"memories": 1200, "entities": 7}, counts)
}

func TestVectorAdapter_StatusErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadGateway, true},
		{http.StatusNotFound, false},
		{http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "engine says no", tt.status)
			}))
			defer server.Close()

			adapter := newTestVectorAdapter(t, server.URL, []string{"memories"})

			_, err := adapter.CountSummary(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.transient, backup.IsRetryable(err))
		})
	}
}

func TestVectorAdapter_SnapshotPollTimeout(t *testing.T) {
	engine := newFakeVectorEngine()
	engine.pendingLists = 1 << 30
	server := httptest.NewServer(engine.handler())
	defer server.Close()

	adapter, err := NewVectorAdapter(&VectorConfig{
		BaseURL:      server.URL,
		Collections:  []string{"memories"},
		WorkDir:      t.TempDir(),
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  30 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	_, _, err = adapter.CreateSnapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not complete")
}

func TestNewVectorAdapter_Validation(t *testing.T) {
	_, err := NewVectorAdapter(nil, nil)
	assert.Error(t, err)

	_, err = NewVectorAdapter(&VectorConfig{}, nil)
	assert.Error(t, err)

	_, err = NewVectorAdapter(&VectorConfig{BaseURL: "http://localhost:6333"}, nil)
	assert.Error(t, err, "collections are required")

	_, err = NewVectorAdapter(&VectorConfig{
		BaseURL:     "http://localhost:6333",
		Collections: []string{"memories"},
	}, nil)
	assert.Error(t, err, "work dir is required")
}
