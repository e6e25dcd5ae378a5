// Package control lets one relay process stop a run owned by another.
//
// Every live run has a control directory next to its journal. Writing a
// cancel file there cancels the run's context: steps that already settled
// keep their results and the rest are skipped.
package control

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// CancelFile is the file name that requests cancellation.
const CancelFile = "cancel"

// RunsDir is the directory under the journal root holding control
// directories.
const RunsDir = "runs"

// Dir returns the control directory of runID under root.
func Dir(root, runID string) string {
	return filepath.Join(root, RunsDir, runID)
}

// RequestCancel asks the process running runID to cancel it.
func RequestCancel(root, runID string) error {
	dir := Dir(root, runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create control directory: %w", err)
	}
	path := filepath.Join(dir, CancelFile)
	if err := os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644); err != nil {
		return fmt.Errorf("write cancel file: %w", err)
	}
	return nil
}

// Watch returns a copy of ctx that is canceled when a cancel file for
// runID appears under root. A cancel file left by an earlier run with the
// same id is removed first. stop releases the watcher and the control
// directory; call it once the run has returned.
func Watch(ctx context.Context, root, runID string, logger *zap.Logger) (context.Context, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := Dir(root, runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create control directory: %w", err)
	}
	cancelPath := filepath.Join(dir, CancelFile)
	if err := os.Remove(cancelPath); err != nil && !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("clear cancel file: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-runCtx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) == CancelFile && event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					logger.Info("cancel requested", zap.String("run_id", runID))
					cancel()
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Debug("control watcher error", zap.Error(err))
			}
		}
	}()

	stop := func() {
		cancel()
		watcher.Close()
		<-done
		if err := os.RemoveAll(dir); err != nil {
			logger.Debug("remove control directory", zap.String("dir", dir), zap.Error(err))
		}
	}
	return runCtx, stop, nil
}
