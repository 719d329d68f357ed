package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lamallamadel/brainego-sub004/internal/backup"
	"github.com/lamallamadel/brainego-sub004/internal/logging"
)

// GraphConfig holds connection info for the graph database engine.
type GraphConfig struct {
	// DatabaseName is the graph database to dump and load.
	DatabaseName string `mapstructure:"database_name" yaml:"database_name"`

	// AdminTool is the administrative dump/load binary (neo4j-admin).
	AdminTool string `mapstructure:"admin_tool" yaml:"admin_tool"`

	// StopCommand and StartCommand control the serving process around a
	// load. Both are argv slices.
	StopCommand  []string `mapstructure:"stop_command" yaml:"stop_command"`
	StartCommand []string `mapstructure:"start_command" yaml:"start_command"`

	// QueryURL is the HTTP transactional query endpoint base
	// (e.g. "http://localhost:7474"), used for health and counts.
	QueryURL string `mapstructure:"query_url" yaml:"query_url"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`

	WorkDir        string        `mapstructure:"work_dir" yaml:"work_dir"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout" yaml:"startup_timeout"`
}

// Validate checks the graph adapter configuration
func (c *GraphConfig) Validate() error {
	if c.DatabaseName == "" {
		return backup.NewConfigurationError("graph adapter requires a database name", nil)
	}
	if c.AdminTool == "" {
		return backup.NewConfigurationError("graph adapter requires the admin tool path", nil)
	}
	if len(c.StopCommand) == 0 || len(c.StartCommand) == 0 {
		return backup.NewConfigurationError("graph adapter requires stop and start commands", nil)
	}
	if c.QueryURL == "" {
		return backup.NewConfigurationError("graph adapter requires a query URL", nil)
	}
	if c.WorkDir == "" {
		return backup.NewConfigurationError("graph adapter requires a work directory", nil)
	}
	return nil
}

// GraphAdapter snapshots and restores the graph database by shelling
// out to its administrative dump/load tool. Restore runs inside one
// critical section that stops serving, loads, and restarts; it is never
// interleaved with live traffic.
type GraphAdapter struct {
	config *GraphConfig
	client *http.Client
	logger *logging.Logger
}

// NewGraphAdapter creates a new GraphAdapter instance
func NewGraphAdapter(config *GraphConfig, logger *logging.Logger) (*GraphAdapter, error) {
	if config == nil {
		return nil, backup.NewConfigurationError("graph adapter configuration is required", nil)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.StartupTimeout <= 0 {
		config.StartupTimeout = 3 * time.Minute
	}

	return &GraphAdapter{
		config: config,
		client: &http.Client{},
		logger: logger,
	}, nil
}

// StoreType identifies the engine this adapter serves.
func (g *GraphAdapter) StoreType() backup.StoreType {
	return backup.StoreTypeGraph
}

// CreateSnapshot runs the administrative dump tool and returns the
// resulting dump artifact.
func (g *GraphAdapter) CreateSnapshot(ctx context.Context) (string, int64, error) {
	return withSnapshotRetry(ctx, g.logger, backup.StoreTypeGraph, func() (string, int64, error) {
		return g.createSnapshotOnce(ctx)
	})
}

func (g *GraphAdapter) createSnapshotOnce(ctx context.Context) (string, int64, error) {
	dumpDir, err := os.MkdirTemp(g.config.WorkDir, "graph-dump-")
	if err != nil {
		return "", 0, backup.NewAdapterFatalError("failed to create graph dump directory", err)
	}
	defer os.RemoveAll(dumpDir)

	cmd, err := commandContext(ctx, []string{
		g.config.AdminTool, "database", "dump", g.config.DatabaseName,
		"--to-path=" + dumpDir,
	})
	if err != nil {
		return "", 0, err
	}

	if err := runCommand(ctx, cmd); err != nil {
		return "", 0, err
	}

	// The tool writes <database>.dump into the target directory.
	dumpPath := filepath.Join(dumpDir, g.config.DatabaseName+".dump")
	info, err := os.Stat(dumpPath)
	if err != nil {
		return "", 0, backup.NewAdapterFatalError(
			fmt.Sprintf("dump tool produced no artifact for database %s", g.config.DatabaseName), err)
	}
	if info.Size() == 0 {
		return "", 0, backup.NewAdapterFatalError(
			fmt.Sprintf("dump tool produced an empty artifact for database %s", g.config.DatabaseName), nil)
	}

	artifactPath := filepath.Join(g.config.WorkDir,
		fmt.Sprintf("graph_%s.dump", time.Now().UTC().Format("20060102T150405Z")))
	if err := os.Rename(dumpPath, artifactPath); err != nil {
		return "", 0, backup.NewAdapterFatalError("failed to move graph dump into place", err)
	}

	return artifactPath, info.Size(), nil
}

// Restore loads the dump inside one critical section: stop serving,
// load, restart. The restart runs on every exit path once the server
// has been stopped, including load failures.
func (g *GraphAdapter) Restore(ctx context.Context, artifactPath string) error {
	// The load tool expects <database>.dump inside its source directory.
	loadDir, err := os.MkdirTemp(g.config.WorkDir, "graph-load-")
	if err != nil {
		return backup.NewAdapterFatalError("failed to create graph load directory", err)
	}
	defer os.RemoveAll(loadDir)

	stagedPath := filepath.Join(loadDir, g.config.DatabaseName+".dump")
	if err := copyFile(artifactPath, stagedPath); err != nil {
		return backup.NewAdapterFatalError("failed to stage graph dump for load", err)
	}

	section := exclusiveSection{
		enter: func(ctx context.Context) error {
			g.logger.Infof("Stopping graph database %s for load", g.config.DatabaseName)
			cmd, err := commandContext(ctx, g.config.StopCommand)
			if err != nil {
				return err
			}
			return runCommand(ctx, cmd)
		},
		leave: func(ctx context.Context) error {
			g.logger.Infof("Restarting graph database %s", g.config.DatabaseName)
			cmd, err := commandContext(ctx, g.config.StartCommand)
			if err != nil {
				return err
			}
			if err := runCommand(ctx, cmd); err != nil {
				return err
			}
			return g.waitForQueryable(ctx)
		},
	}

	return section.run(ctx, func(ctx context.Context) error {
		cmd, err := commandContext(ctx, []string{
			g.config.AdminTool, "database", "load", g.config.DatabaseName,
			"--from-path=" + loadDir,
			"--overwrite-destination=true",
		})
		if err != nil {
			return err
		}
		return runCommand(ctx, cmd)
	})
}

// HealthCheck probes the query endpoint with a trivial statement.
func (g *GraphAdapter) HealthCheck(ctx context.Context) (bool, string) {
	var result struct {
		Results []struct {
			Data []struct {
				Row []json.RawMessage `json:"row"`
			} `json:"data"`
		} `json:"results"`
	}

	if err := g.runCypher(ctx, "RETURN 1", nil, &result); err != nil {
		return false, fmt.Sprintf("query endpoint unreachable: %v", err)
	}
	if len(result.Results) == 0 || len(result.Results[0].Data) == 0 {
		return false, "query endpoint returned no rows for probe statement"
	}

	return true, "query endpoint responsive"
}

// CountSummary returns node counts per label plus the total
// relationship count.
func (g *GraphAdapter) CountSummary(ctx context.Context) (backup.CountSummary, error) {
	counts := make(backup.CountSummary)

	var labelResult struct {
		Results []struct {
			Data []struct {
				Row []json.RawMessage `json:"row"`
			} `json:"data"`
		} `json:"results"`
	}
	err := g.runCypher(ctx,
		"MATCH (n) UNWIND labels(n) AS label RETURN label, count(n)", nil, &labelResult)
	if err != nil {
		return nil, err
	}

	if len(labelResult.Results) > 0 {
		for _, row := range labelResult.Results[0].Data {
			if len(row.Row) != 2 {
				continue
			}
			var label string
			var count int64
			if json.Unmarshal(row.Row[0], &label) != nil || json.Unmarshal(row.Row[1], &count) != nil {
				continue
			}
			counts["label:"+label] = count
		}
	}

	var relResult struct {
		Results []struct {
			Data []struct {
				Row []json.RawMessage `json:"row"`
			} `json:"data"`
		} `json:"results"`
	}
	if err := g.runCypher(ctx, "MATCH ()-[r]->() RETURN count(r)", nil, &relResult); err != nil {
		return nil, err
	}
	if len(relResult.Results) > 0 && len(relResult.Results[0].Data) > 0 && len(relResult.Results[0].Data[0].Row) > 0 {
		var relCount int64
		if json.Unmarshal(relResult.Results[0].Data[0].Row[0], &relCount) == nil {
			counts["relationships"] = relCount
		}
	}

	return counts, nil
}

// NodeExistsByProperty reports whether a node carrying the given
// property value exists. Used by cross-store referential validation.
func (g *GraphAdapter) NodeExistsByProperty(ctx context.Context, property string, value string) (bool, error) {
	var result struct {
		Results []struct {
			Data []struct {
				Row []json.RawMessage `json:"row"`
			} `json:"data"`
		} `json:"results"`
	}

	statement := fmt.Sprintf("MATCH (n) WHERE n.`%s` = $value RETURN count(n) LIMIT 1", property)
	if err := g.runCypher(ctx, statement, map[string]interface{}{"value": value}, &result); err != nil {
		return false, err
	}

	if len(result.Results) == 0 || len(result.Results[0].Data) == 0 || len(result.Results[0].Data[0].Row) == 0 {
		return false, nil
	}

	var count int64
	if err := json.Unmarshal(result.Results[0].Data[0].Row[0], &count); err != nil {
		return false, backup.NewAdapterFatalError("failed to decode graph count response", err)
	}

	return count > 0, nil
}

// runCypher executes one statement against the HTTP transactional
// endpoint and decodes the response.
func (g *GraphAdapter) runCypher(ctx context.Context, statement string, parameters map[string]interface{}, out interface{}) error {
	reqCtx, cancel := context.WithTimeout(ctx, g.config.RequestTimeout)
	defer cancel()

	payload := map[string]interface{}{
		"statements": []map[string]interface{}{
			{"statement": statement, "parameters": parameters},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return backup.NewAdapterFatalError("failed to encode graph query", err)
	}

	url := fmt.Sprintf("%s/db/%s/tx/commit",
		strings.TrimSuffix(g.config.QueryURL, "/"), g.config.DatabaseName)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backup.NewAdapterFatalError("failed to build graph query request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if g.config.Username != "" {
		req.SetBasicAuth(g.config.Username, g.config.Password)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return backup.NewTransientStoreError("graph query request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode == http.StatusServiceUnavailable {
			return backup.NewTransientStoreError(
				fmt.Sprintf("graph query endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))), nil)
		}
		return backup.NewAdapterFatalError(
			fmt.Sprintf("graph query endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))), nil)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backup.NewAdapterFatalError("failed to decode graph query response", err)
	}

	return nil
}

// waitForQueryable blocks until the restarted server answers queries
// again or the startup timeout elapses.
func (g *GraphAdapter) waitForQueryable(ctx context.Context) error {
	deadline := time.Now().Add(g.config.StartupTimeout)

	for {
		if ok, _ := g.HealthCheck(ctx); ok {
			return nil
		}

		if time.Now().After(deadline) {
			return backup.NewAdapterFatalError(
				fmt.Sprintf("graph database did not become queryable within %s after restart", g.config.StartupTimeout), nil)
		}

		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return backup.NewAdapterFatalError("startup wait cancelled", ctx.Err())
		}
	}
}

// copyFile copies src to dst, creating or truncating dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}
