package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Answer is the drop-file payload the dashboard writes for one question.
type Answer struct {
	QuestionID string            `json:"questionId"`
	Answers    map[string]string `json:"answers"`
	AnsweredAt time.Time         `json:"answeredAt"`
}

// answerPollInterval is the inbox scan cadence.
const answerPollInterval = 500 * time.Millisecond

// WriteAnswer atomically writes answers/<id>.json. The directory is created
// on demand. Writing is the dashboard's half of the inbox contract; the
// orchestrator's poller consumes and deletes the file.
func WriteAnswer(dir string, ans Answer) error {
	if ans.QuestionID == "" {
		return fmt.Errorf("writing answer: question id must not be empty")
	}
	if ans.AnsweredAt.IsZero() {
		ans.AnsweredAt = time.Now().UTC()
	}

	data, err := json.Marshal(ans)
	if err != nil {
		return fmt.Errorf("encoding answer %q: %w", ans.QuestionID, err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating answers directory %q: %w", dir, err)
	}

	target := filepath.Join(dir, ans.QuestionID+".json")
	tmp, err := os.CreateTemp(dir, ".answer-*")
	if err != nil {
		return fmt.Errorf("creating answer temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("writing answer %q: %w", ans.QuestionID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("closing answer %q: %w", ans.QuestionID, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("renaming answer to %q: %w", target, err)
	}
	return nil
}

// answerLogger is the minimal logging interface the poller needs.
type answerLogger interface {
	Debug(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
}

// AnswerPoller is the orchestrator-side inbox consumer. Each scan reads
// every *.json drop-file, validates it, hands it to the submit callback,
// and deletes the file regardless of the submit outcome: a stale or unknown
// id is simply discarded. Deletion failures are retried on the next scan
// (submit is a no-op for an already-consumed id, so re-reading is safe).
type AnswerPoller struct {
	dir    string
	submit func(questionID string, answers map[string]string) bool
	logger answerLogger
}

// NewAnswerPoller creates a poller over dir. submit must not be nil.
func NewAnswerPoller(dir string, submit func(string, map[string]string) bool, logger answerLogger) *AnswerPoller {
	return &AnswerPoller{dir: dir, submit: submit, logger: logger}
}

// Run scans the inbox on the poll cadence until ctx is cancelled.
func (p *AnswerPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(answerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Poll()
		}
	}
}

// Poll performs one inbox scan. Exposed for tests.
func (p *AnswerPoller) Poll() {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		// A missing inbox just means no answers were delivered yet.
		if !os.IsNotExist(err) && p.logger != nil {
			p.logger.Warn("scanning answers directory", "error", err)
		}
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		// Skip in-flight temp files from the atomic writer.
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		p.consume(filepath.Join(p.dir, entry.Name()))
	}
}

func (p *AnswerPoller) consume(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("reading answer file", "path", path, "error", err)
		}
		return
	}

	var ans Answer
	valid := json.Unmarshal(data, &ans) == nil && ans.QuestionID != "" && ans.Answers != nil

	if valid {
		accepted := p.submit(ans.QuestionID, ans.Answers)
		if p.logger != nil {
			p.logger.Debug("consumed answer", "id", ans.QuestionID, "accepted", accepted)
		}
	} else if p.logger != nil {
		p.logger.Warn("discarding malformed answer file", "path", path)
	}

	// Delete regardless of outcome; failures retry on the next scan.
	if err := os.Remove(path); err != nil && p.logger != nil {
		p.logger.Warn("deleting answer file", "path", path, "error", err)
	}
}
