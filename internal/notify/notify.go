// Package notify fans notifications out to configured transport adapters.
//
// Adapters are best-effort by contract: a failing adapter is removed at
// init, and a per-send failure is isolated to that adapter. Nothing in this
// package ever fails the orchestrator.
package notify

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Notification is one message to deliver.
type Notification struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	QuestionID string `json:"questionId,omitempty"`
	URL        string `json:"url,omitempty"`
}

// Adapter is the transport contract. Implementations live behind this
// interface; the manager never inspects them beyond it.
type Adapter interface {
	Name() string
	Init(ctx context.Context) error
	Send(ctx context.Context, n Notification) error
	Close() error
}

// DefaultReminderInterval is used when the manager is constructed with a
// non-positive interval.
const DefaultReminderInterval = 5 * time.Minute

// notifyLogger is the minimal logging interface the manager needs.
type notifyLogger interface {
	Debug(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
}

// Manager holds the adapter set and the per-question reminder timers.
type Manager struct {
	mu        sync.Mutex
	adapters  []Adapter
	reminders map[string]*time.Timer
	interval  time.Duration
	closed    bool
	logger    notifyLogger
}

// NewManager creates a manager over the given adapters. Init must be
// called before Notify.
func NewManager(adapters []Adapter, reminderInterval time.Duration, logger notifyLogger) *Manager {
	if reminderInterval <= 0 {
		reminderInterval = DefaultReminderInterval
	}
	return &Manager{
		adapters:  adapters,
		reminders: map[string]*time.Timer{},
		interval:  reminderInterval,
		logger:    logger,
	}
}

// Init initializes all adapters in parallel. Adapters whose Init fails are
// removed from the set with a warning; Init itself never returns an error
// for adapter failures.
func (m *Manager) Init(ctx context.Context) {
	m.mu.Lock()
	adapters := m.adapters
	m.mu.Unlock()

	var (
		keepMu sync.Mutex
		keep   []Adapter
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range adapters {
		g.Go(func() error {
			if err := a.Init(gctx); err != nil {
				if m.logger != nil {
					m.logger.Warn("notification adapter failed to initialize, removing",
						"adapter", a.Name(), "error", err)
				}
				return nil
			}
			keepMu.Lock()
			keep = append(keep, a)
			keepMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	m.adapters = keep
	m.mu.Unlock()
}

// Notify fans the notification out to every adapter in parallel. Failures
// are logged and swallowed; Notify never propagates an error upward.
func (m *Manager) Notify(ctx context.Context, n Notification) {
	m.mu.Lock()
	adapters := make([]Adapter, len(m.adapters))
	copy(adapters, m.adapters)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, a := range adapters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Send(ctx, n); err != nil && m.logger != nil {
				m.logger.Warn("notification send failed", "adapter", a.Name(), "error", err)
			}
		}()
	}
	wg.Wait()
}

// RemindLater schedules a re-send of the notification after the reminder
// interval unless CancelReminder is called first. A new reminder for the
// same id replaces the old one.
func (m *Manager) RemindLater(id string, n Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if existing, ok := m.reminders[id]; ok {
		existing.Stop()
	}
	m.reminders[id] = time.AfterFunc(m.interval, func() {
		m.mu.Lock()
		delete(m.reminders, id)
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return
		}
		if m.logger != nil {
			m.logger.Debug("re-sending reminder", "id", id)
		}
		m.Notify(context.Background(), n)
	})
}

// CancelReminder stops the reminder for id, if any.
func (m *Manager) CancelReminder(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.reminders[id]; ok {
		t.Stop()
		delete(m.reminders, id)
	}
}

// Close cancels all reminders, then closes each adapter. Close errors are
// logged and swallowed.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	for id, t := range m.reminders {
		t.Stop()
		delete(m.reminders, id)
	}
	adapters := m.adapters
	m.adapters = nil
	m.mu.Unlock()

	for _, a := range adapters {
		if err := a.Close(); err != nil && m.logger != nil {
			m.logger.Warn("closing notification adapter", "adapter", a.Name(), "error", err)
		}
	}
}
