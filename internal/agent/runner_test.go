//go:build !windows

package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAgent writes a shell script that emits the given stream-json lines on
// stdout (after an optional sleep) and returns its path for use as the
// agent command.
func fakeAgent(t *testing.T, sleep time.Duration, lines ...string) string {
	t.Helper()

	script := "#!/bin/sh\n"
	if sleep > 0 {
		script += fmt.Sprintf("sleep %g\n", sleep.Seconds())
	}
	for _, line := range lines {
		script += fmt.Sprintf("printf '%%s\\n' '%s'\n", line)
	}

	path := filepath.Join(t.TempDir(), "fake-agent")
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestRunner_SuccessResult(t *testing.T) {
	t.Parallel()

	cmd := fakeAgent(t, 0,
		`{"type":"system","subtype":"init","session_id":"sess-42"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"working"}]}}`,
		`{"type":"result","subtype":"success","is_error":false,"result":"all good","total_cost_usd":0.05,"num_turns":3,"duration_ms":10}`,
	)
	r := NewRunner(Config{Command: cmd}, nil, nil)

	res, err := r.Run(context.Background(), "do the thing", RunOpts{})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "all good", res.Result)
	assert.Equal(t, "sess-42", res.SessionID)
	assert.InDelta(t, 0.05, res.CostUSD, 1e-9)
	assert.Equal(t, 3, res.NumTurns)
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestRunner_ErrorResult(t *testing.T) {
	t.Parallel()

	cmd := fakeAgent(t, 0,
		`{"type":"result","subtype":"error_max_turns","is_error":true,"errors":["ran out of turns"]}`,
	)
	r := NewRunner(Config{Command: cmd}, nil, nil)

	res, err := r.Run(context.Background(), "p", RunOpts{})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "ran out of turns")
}

func TestRunner_SuccessSubtypeWithErrorFlagIsFailure(t *testing.T) {
	t.Parallel()

	cmd := fakeAgent(t, 0,
		`{"type":"result","subtype":"success","is_error":true,"result":"lied about it"}`,
	)
	r := NewRunner(Config{Command: cmd}, nil, nil)

	res, err := r.Run(context.Background(), "p", RunOpts{})
	require.NoError(t, err)
	assert.False(t, res.Success, "success subtype counts only when is_error is false")
}

func TestRunner_NoResultMessage(t *testing.T) {
	t.Parallel()

	cmd := fakeAgent(t, 0,
		`{"type":"system","subtype":"init","session_id":"s"}`,
	)
	r := NewRunner(Config{Command: cmd}, nil, nil)

	res, err := r.Run(context.Background(), "p", RunOpts{})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "No result message")
}

func TestRunner_Timeout(t *testing.T) {
	t.Parallel()

	cmd := fakeAgent(t, 5*time.Second,
		`{"type":"result","subtype":"success"}`,
	)
	r := NewRunner(Config{Command: cmd}, nil, nil)

	res, err := r.Run(context.Background(), "p", RunOpts{Timeout: 100 * time.Millisecond})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.True(t, res.TimedOut(), "error should read as a timeout: %q", res.Error)
}

func TestRunner_Abort(t *testing.T) {
	t.Parallel()

	cmd := fakeAgent(t, 5*time.Second,
		`{"type":"result","subtype":"success"}`,
	)
	r := NewRunner(Config{Command: cmd}, NewQuestionHandler(), nil)

	done := make(chan *CommandResult, 1)
	go func() {
		res, err := r.Run(context.Background(), "p", RunOpts{Timeout: time.Minute})
		assert.NoError(t, err)
		done <- res
	}()

	require.Eventually(t, r.IsRunning, 2*time.Second, 10*time.Millisecond)
	r.Abort()

	res := <-done
	assert.False(t, res.Success)
	assert.True(t, res.Aborted(), "error should read as an abort: %q", res.Error)
}

func TestRunner_SingleFlight(t *testing.T) {
	t.Parallel()

	cmd := fakeAgent(t, 1*time.Second,
		`{"type":"result","subtype":"success"}`,
	)
	r := NewRunner(Config{Command: cmd}, nil, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := r.Run(context.Background(), "first", RunOpts{})
		assert.NoError(t, err)
	}()

	require.Eventually(t, r.IsRunning, 2*time.Second, 10*time.Millisecond)

	_, err := r.Run(context.Background(), "second", RunOpts{})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	wg.Wait()
	assert.False(t, r.IsRunning())
}

func TestRunner_ObserversSeeEveryMessage(t *testing.T) {
	t.Parallel()

	cmd := fakeAgent(t, 0,
		`{"type":"system","subtype":"init","session_id":"s"}`,
		`{"type":"tool_use_summary","tool_use_id":"tu-1","summary":"listed files"}`,
		`{"type":"result","subtype":"success"}`,
	)
	r := NewRunner(Config{Command: cmd}, nil, nil)

	var mu sync.Mutex
	var seen []MessageType
	r.Subscribe(func(m Message) {
		mu.Lock()
		seen = append(seen, m.Type)
		mu.Unlock()
	})

	_, err := r.Run(context.Background(), "p", RunOpts{})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []MessageType{MessageSystem, MessageToolUseSummary, MessageResult}, seen)
}

func TestRunner_MissingBinary(t *testing.T) {
	t.Parallel()

	r := NewRunner(Config{Command: filepath.Join(t.TempDir(), "does-not-exist")}, nil, nil)
	_, err := r.Run(context.Background(), "p", RunOpts{})
	assert.Error(t, err)
}
