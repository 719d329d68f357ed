// Package adapter implements the per-engine snapshot and restore
// strategies: a vector index reached over its HTTP snapshot API, a
// graph database driven through its administrative dump/load tool, and
// a relational database dumped and loaded with its native CLI tooling.
// Adapters are stateless; each call uses the connection info the
// adapter was constructed with.
package adapter

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/lamallamadel/brainego-sub004/internal/backup"
	"github.com/lamallamadel/brainego-sub004/internal/logging"
)

// snapshotRetryBackoff is the delay before the single retry of a
// transient snapshot failure.
const snapshotRetryBackoff = 5 * time.Second

// withSnapshotRetry invokes op and retries exactly once, after a
// backoff, when the failure is transient. Permanent failures and lock
// contention are surfaced immediately.
func withSnapshotRetry(ctx context.Context, logger *logging.Logger, storeType backup.StoreType, op func() (string, int64, error)) (string, int64, error) {
	artifactPath, size, err := op()
	if err == nil || !backup.IsRetryable(err) {
		return artifactPath, size, err
	}

	logger.Warnf("Transient snapshot failure for %s store, retrying once: %v", storeType, err)

	select {
	case <-time.After(snapshotRetryBackoff):
	case <-ctx.Done():
		return "", 0, backup.NewAdapterFatalError("snapshot cancelled during retry backoff", ctx.Err())
	}

	return op()
}

// exclusiveSection models the stop-serving/load/start-serving critical
// sections in the graph and relational adapters as scoped resource
// acquisition: enter acquires exclusive access, and leave runs on every
// exit path, including errors inside the section.
type exclusiveSection struct {
	enter func(ctx context.Context) error
	leave func(ctx context.Context) error
}

// run executes fn inside the section. The leave step always runs once
// enter succeeded; its error is reported only when fn itself succeeded,
// so a load failure is never masked by a restart failure.
func (s exclusiveSection) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.enter(ctx); err != nil {
		return err
	}

	fnErr := fn(ctx)
	leaveErr := s.leave(ctx)

	if fnErr != nil {
		return fnErr
	}
	return leaveErr
}

// runCommand executes an external tool with the given arguments,
// optionally wiring stdin/stdout, and converts failures into adapter
// fatal errors carrying the tool's stderr.
func runCommand(ctx context.Context, cmd *exec.Cmd) error {
	var stderr bytes.Buffer
	if cmd.Stderr == nil {
		cmd.Stderr = &stderr
	}

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return backup.NewAdapterFatalError(
			fmt.Sprintf("%s failed: %s", cmd.Path, truncateDetail(detail)), err)
	}

	return nil
}

// commandContext builds an exec.Cmd bound to ctx from an argv slice.
func commandContext(ctx context.Context, argv []string) (*exec.Cmd, error) {
	if len(argv) == 0 {
		return nil, backup.NewConfigurationError("empty command", nil)
	}
	return exec.CommandContext(ctx, argv[0], argv[1:]...), nil
}

// truncateDetail bounds tool stderr embedded in error messages.
func truncateDetail(detail string) string {
	const maxDetail = 500
	if len(detail) > maxDetail {
		return detail[:maxDetail] + "... [truncated]"
	}
	return detail
}
