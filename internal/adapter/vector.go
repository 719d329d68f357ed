package adapter

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lamallamadel/brainego-sub004/internal/backup"
	"github.com/lamallamadel/brainego-sub004/internal/logging"
)

// VectorConfig holds connection info for the vector index engine.
type VectorConfig struct {
	BaseURL        string          `mapstructure:"base_url" yaml:"base_url"`
	APIKey         string          `mapstructure:"api_key" yaml:"api_key"`
	Collections    []string        `mapstructure:"collections" yaml:"collections"`
	WorkDir        string          `mapstructure:"work_dir" yaml:"work_dir"`
	PollInterval   time.Duration   `mapstructure:"poll_interval" yaml:"poll_interval"`
	PollTimeout    time.Duration   `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// Validate checks the vector adapter configuration
func (c *VectorConfig) Validate() error {
	if c.BaseURL == "" {
		return backup.NewConfigurationError("vector adapter requires a base URL", nil)
	}
	if len(c.Collections) == 0 {
		return backup.NewConfigurationError("vector adapter requires at least one collection", nil)
	}
	if c.WorkDir == "" {
		return backup.NewConfigurationError("vector adapter requires a work directory", nil)
	}
	return nil
}

// VectorAdapter snapshots and restores the vector index through its
// HTTP snapshot API: snapshot-create, poll to completion, download the
// blob; restore uploads the blob back and triggers recovery. The
// artifact is a tar bundle with one snapshot file per collection.
type VectorAdapter struct {
	config *VectorConfig
	client *http.Client
	logger *logging.Logger
}

// NewVectorAdapter creates a new VectorAdapter instance
func NewVectorAdapter(config *VectorConfig, logger *logging.Logger) (*VectorAdapter, error) {
	if config == nil {
		return nil, backup.NewConfigurationError("vector adapter configuration is required", nil)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = 10 * time.Minute
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}

	return &VectorAdapter{
		config: config,
		// No client-level timeout: snapshot downloads and uploads can
		// legitimately run for minutes. Per-request deadlines come from
		// the caller's context; RequestTimeout bounds the small calls.
		client: &http.Client{},
		logger: logger,
	}, nil
}

// StoreType identifies the engine this adapter serves.
func (v *VectorAdapter) StoreType() backup.StoreType {
	return backup.StoreTypeVector
}

// CreateSnapshot creates a server-side snapshot per collection, polls
// each to completion, downloads the blobs, and bundles them in a tar
// artifact. Server-side snapshots are deleted after download.
func (v *VectorAdapter) CreateSnapshot(ctx context.Context) (string, int64, error) {
	return withSnapshotRetry(ctx, v.logger, backup.StoreTypeVector, func() (string, int64, error) {
		return v.createSnapshotOnce(ctx)
	})
}

func (v *VectorAdapter) createSnapshotOnce(ctx context.Context) (string, int64, error) {
	if err := os.MkdirAll(v.config.WorkDir, 0o755); err != nil {
		return "", 0, backup.NewAdapterFatalError("failed to create vector work directory", err)
	}

	artifactPath := filepath.Join(v.config.WorkDir,
		fmt.Sprintf("vector_%s.snapshot", time.Now().UTC().Format("20060102T150405Z")))

	out, err := os.Create(artifactPath)
	if err != nil {
		return "", 0, backup.NewAdapterFatalError("failed to create vector artifact", err)
	}

	tw := tar.NewWriter(out)
	cleanup := func() {
		tw.Close()
		out.Close()
		os.Remove(artifactPath)
	}

	for _, collection := range v.config.Collections {
		name, err := v.startSnapshot(ctx, collection)
		if err != nil {
			cleanup()
			return "", 0, err
		}

		if err := v.waitForSnapshot(ctx, collection, name); err != nil {
			cleanup()
			return "", 0, err
		}

		if err := v.downloadSnapshot(ctx, tw, collection, name); err != nil {
			cleanup()
			return "", 0, err
		}

		// Reclaim engine disk space; failure here is non-fatal.
		if err := v.deleteServerSnapshot(ctx, collection, name); err != nil {
			v.logger.Warnf("Failed to delete server-side snapshot %s/%s: %v", collection, name, err)
		}
	}

	if err := tw.Close(); err != nil {
		out.Close()
		os.Remove(artifactPath)
		return "", 0, backup.NewAdapterFatalError("failed to finalize vector artifact", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(artifactPath)
		return "", 0, backup.NewAdapterFatalError("failed to close vector artifact", err)
	}

	info, err := os.Stat(artifactPath)
	if err != nil {
		return "", 0, backup.NewAdapterFatalError("failed to stat vector artifact", err)
	}

	return artifactPath, info.Size(), nil
}

// Restore uploads each bundled collection snapshot back to the engine
// and triggers recovery. Brief engine unavailability during recovery is
// expected and waited out, not treated as an error.
func (v *VectorAdapter) Restore(ctx context.Context, artifactPath string) error {
	file, err := os.Open(artifactPath)
	if err != nil {
		return backup.NewAdapterFatalError("failed to open vector artifact", err)
	}
	defer file.Close()

	tr := tar.NewReader(file)
	restored := 0

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return backup.NewAdapterFatalError("failed to read vector artifact", err)
		}

		collection := strings.TrimSuffix(filepath.Base(header.Name), ".snapshot")
		if err := v.uploadSnapshot(ctx, collection, header.Name, tr); err != nil {
			return err
		}
		restored++
	}

	if restored == 0 {
		return backup.NewAdapterFatalError("vector artifact contains no collection snapshots", nil)
	}

	return v.waitForHealthy(ctx)
}

// HealthCheck probes the engine's health endpoint.
func (v *VectorAdapter) HealthCheck(ctx context.Context) (bool, string) {
	reqCtx, cancel := context.WithTimeout(ctx, v.config.RequestTimeout)
	defer cancel()

	req, err := v.newRequest(reqCtx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return false, err.Error()
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Sprintf("health endpoint unreachable: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Sprintf("health endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return true, strings.TrimSpace(string(body))
}

// CountSummary returns per-collection point counts.
func (v *VectorAdapter) CountSummary(ctx context.Context) (backup.CountSummary, error) {
	counts := make(backup.CountSummary, len(v.config.Collections))

	for _, collection := range v.config.Collections {
		count, err := v.collectionCount(ctx, collection)
		if err != nil {
			return nil, err
		}
		counts[collection] = count
	}

	return counts, nil
}

// snapshotDescription is the engine's snapshot listing entry.
type snapshotDescription struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

func (v *VectorAdapter) startSnapshot(ctx context.Context, collection string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, v.config.RequestTimeout)
	defer cancel()

	req, err := v.newRequest(reqCtx, http.MethodPost,
		fmt.Sprintf("/collections/%s/snapshots?wait=false", collection), nil)
	if err != nil {
		return "", err
	}

	var result struct {
		Result snapshotDescription `json:"result"`
	}
	if err := v.doJSON(req, &result); err != nil {
		return "", err
	}
	if result.Result.Name == "" {
		return "", backup.NewAdapterFatalError(
			fmt.Sprintf("snapshot create for collection %s returned no snapshot name", collection), nil)
	}

	return result.Result.Name, nil
}

// waitForSnapshot polls the snapshot listing until the named snapshot
// reports a non-zero size or the poll timeout elapses.
func (v *VectorAdapter) waitForSnapshot(ctx context.Context, collection, name string) error {
	deadline := time.Now().Add(v.config.PollTimeout)

	for {
		reqCtx, cancel := context.WithTimeout(ctx, v.config.RequestTimeout)
		req, err := v.newRequest(reqCtx, http.MethodGet,
			fmt.Sprintf("/collections/%s/snapshots", collection), nil)
		if err != nil {
			cancel()
			return err
		}

		var result struct {
			Result []snapshotDescription `json:"result"`
		}
		err = v.doJSON(req, &result)
		cancel()
		if err != nil {
			return err
		}

		for _, snapshot := range result.Result {
			if snapshot.Name == name && snapshot.Size > 0 {
				return nil
			}
		}

		if time.Now().After(deadline) {
			return backup.NewAdapterFatalError(
				fmt.Sprintf("snapshot %s for collection %s did not complete within %s", name, collection, v.config.PollTimeout), nil)
		}

		select {
		case <-time.After(v.config.PollInterval):
		case <-ctx.Done():
			return backup.NewAdapterFatalError("snapshot poll cancelled", ctx.Err())
		}
	}
}

func (v *VectorAdapter) downloadSnapshot(ctx context.Context, tw *tar.Writer, collection, name string) error {
	req, err := v.newRequest(ctx, http.MethodGet,
		fmt.Sprintf("/collections/%s/snapshots/%s", collection, name), nil)
	if err != nil {
		return err
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return backup.NewTransientStoreError(
			fmt.Sprintf("failed to download snapshot for collection %s", collection), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return v.statusError(resp, fmt.Sprintf("snapshot download for collection %s", collection))
	}

	// The engine reports the snapshot size in the listing, but the
	// download is streamed through a spool file so the tar header can
	// carry the exact byte count actually received.
	spool, err := os.CreateTemp(v.config.WorkDir, ".snapshot-*")
	if err != nil {
		return backup.NewAdapterFatalError("failed to spool snapshot download", err)
	}
	spoolPath := spool.Name()
	defer os.Remove(spoolPath)

	written, err := io.Copy(spool, resp.Body)
	if err != nil {
		spool.Close()
		return backup.NewTransientStoreError(
			fmt.Sprintf("snapshot download for collection %s interrupted", collection), err)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		spool.Close()
		return backup.NewAdapterFatalError("failed to rewind snapshot spool", err)
	}

	header := &tar.Header{
		Name:    collection + ".snapshot",
		Mode:    0o644,
		Size:    written,
		ModTime: time.Now().UTC(),
	}
	if err := tw.WriteHeader(header); err != nil {
		spool.Close()
		return backup.NewAdapterFatalError("failed to write artifact entry header", err)
	}
	if _, err := io.Copy(tw, spool); err != nil {
		spool.Close()
		return backup.NewAdapterFatalError("failed to write artifact entry", err)
	}

	return spool.Close()
}

func (v *VectorAdapter) deleteServerSnapshot(ctx context.Context, collection, name string) error {
	reqCtx, cancel := context.WithTimeout(ctx, v.config.RequestTimeout)
	defer cancel()

	req, err := v.newRequest(reqCtx, http.MethodDelete,
		fmt.Sprintf("/collections/%s/snapshots/%s", collection, name), nil)
	if err != nil {
		return err
	}

	return v.doJSON(req, nil)
}

// uploadSnapshot streams one collection snapshot to the engine's
// upload-and-recover endpoint as a multipart form.
func (v *VectorAdapter) uploadSnapshot(ctx context.Context, collection, filename string, data io.Reader) error {
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		part, err := form.CreateFormFile("snapshot", filepath.Base(filename))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, data); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(form.Close())
	}()

	req, err := v.newRequest(ctx, http.MethodPost,
		fmt.Sprintf("/collections/%s/snapshots/upload?priority=snapshot", collection), pr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := v.client.Do(req)
	if err != nil {
		return backup.NewAdapterFatalError(
			fmt.Sprintf("failed to upload snapshot for collection %s", collection), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return v.statusError(resp, fmt.Sprintf("snapshot upload for collection %s", collection))
	}

	return nil
}

// waitForHealthy waits out the engine's brief unavailability after
// snapshot recovery.
func (v *VectorAdapter) waitForHealthy(ctx context.Context) error {
	deadline := time.Now().Add(v.config.PollTimeout)

	for {
		if ok, _ := v.HealthCheck(ctx); ok {
			return nil
		}

		if time.Now().After(deadline) {
			return backup.NewAdapterFatalError(
				fmt.Sprintf("vector engine did not become healthy within %s after recovery", v.config.PollTimeout), nil)
		}

		select {
		case <-time.After(v.config.PollInterval):
		case <-ctx.Done():
			return backup.NewAdapterFatalError("health wait cancelled", ctx.Err())
		}
	}
}

func (v *VectorAdapter) collectionCount(ctx context.Context, collection string) (int64, error) {
	reqCtx, cancel := context.WithTimeout(ctx, v.config.RequestTimeout)
	defer cancel()

	req, err := v.newRequest(reqCtx, http.MethodGet, "/collections/"+collection, nil)
	if err != nil {
		return 0, err
	}

	var result struct {
		Result struct {
			PointsCount int64 `json:"points_count"`
		} `json:"result"`
	}
	if err := v.doJSON(req, &result); err != nil {
		return 0, err
	}

	return result.Result.PointsCount, nil
}

func (v *VectorAdapter) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(v.config.BaseURL, "/")+path, body)
	if err != nil {
		return nil, backup.NewAdapterFatalError("failed to build vector engine request", err)
	}
	if v.config.APIKey != "" {
		req.Header.Set("api-key", v.config.APIKey)
	}
	return req, nil
}

// doJSON executes the request and decodes a JSON response into out when
// out is non-nil. Engine-busy statuses map to transient errors.
func (v *VectorAdapter) doJSON(req *http.Request, out interface{}) error {
	resp, err := v.client.Do(req)
	if err != nil {
		return backup.NewTransientStoreError("vector engine request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return v.statusError(resp, req.URL.Path)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backup.NewAdapterFatalError("failed to decode vector engine response", err)
	}

	return nil
}

// statusError classifies a non-2xx engine response: throttling and
// temporary unavailability are transient, everything else is fatal.
func (v *VectorAdapter) statusError(resp *http.Response, operation string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	detail := fmt.Sprintf("%s returned %d: %s", operation, resp.StatusCode, strings.TrimSpace(string(body)))

	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusBadGateway:
		return backup.NewTransientStoreError(detail, nil)
	default:
		return backup.NewAdapterFatalError(detail, nil)
	}
}
