package ipc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// WriteShutdownMarker creates the presence-only shutdown marker. Its
// existence means "finish the current step and exit"; contents are ignored.
func WriteShutdownMarker(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating marker directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating shutdown marker %q: %w", path, err)
	}
	return f.Close()
}

// ShutdownRequested reports whether the marker exists.
func ShutdownRequested(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// RemoveShutdownMarker deletes the marker; a missing marker is not an error.
func RemoveShutdownMarker(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing shutdown marker %q: %w", path, err)
	}
	return nil
}

// WatchShutdownMarker polls for the marker on the heartbeat cadence and
// invokes onSeen exactly once when it appears, then returns.
func WatchShutdownMarker(ctx context.Context, path string, onSeen func()) error {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if ShutdownRequested(path) {
				onSeen()
				return nil
			}
		}
	}
}

// writeFileAtomicIPC writes data via temp file + rename in the target's
// directory. Local copy so ipc stays a leaf below the state package.
func writeFileAtomicIPC(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %q: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("writing temp file %q: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("closing temp file %q: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("renaming temp file to %q: %w", path, err)
	}
	return nil
}
