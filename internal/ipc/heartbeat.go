package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Heartbeat cadence and staleness threshold. A reader considers the
// orchestrator alive iff the beacon timestamp is within StaleAfter of now.
const (
	HeartbeatInterval = 5 * time.Second
	StaleAfter        = 15 * time.Second
)

// Heartbeat is the liveness beacon payload.
type Heartbeat struct {
	PID       int       `json:"pid"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

// HeartbeatWriter updates heartbeat.json on a fixed cadence. status is
// sampled at each beat so the beacon reflects the current autopilot status.
type HeartbeatWriter struct {
	path   string
	status func() string
	logger answerLogger
}

// NewHeartbeatWriter creates a writer for the beacon at path.
func NewHeartbeatWriter(path string, status func() string, logger answerLogger) *HeartbeatWriter {
	return &HeartbeatWriter{path: path, status: status, logger: logger}
}

// Run beats immediately, then on every interval tick, until ctx is
// cancelled. Write failures are logged and retried on the next beat.
func (w *HeartbeatWriter) Run(ctx context.Context) error {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	w.Beat()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Beat()
		}
	}
}

// Beat writes one beacon update. Exposed for tests.
func (w *HeartbeatWriter) Beat() {
	hb := Heartbeat{
		PID:       os.Getpid(),
		Timestamp: time.Now().UTC(),
		Status:    w.status(),
	}
	data, err := json.Marshal(hb)
	if err != nil {
		if w.logger != nil {
			w.logger.Warn("encoding heartbeat", "error", err)
		}
		return
	}
	if err := writeFileAtomicIPC(w.path, append(data, '\n')); err != nil && w.logger != nil {
		w.logger.Warn("writing heartbeat", "error", err)
	}
}

// ReadHeartbeat parses the beacon file.
func ReadHeartbeat(path string) (Heartbeat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Heartbeat{}, fmt.Errorf("reading heartbeat %q: %w", path, err)
	}
	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return Heartbeat{}, fmt.Errorf("decoding heartbeat %q: %w", path, err)
	}
	return hb, nil
}

// Alive reports whether the beacon at path is fresh relative to now.
// A missing or unparseable beacon means not alive.
func Alive(path string, now time.Time) bool {
	hb, err := ReadHeartbeat(path)
	if err != nil {
		return false
	}
	age := now.Sub(hb.Timestamp)
	return age >= -StaleAfter && age <= StaleAfter
}
