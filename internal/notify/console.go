package notify

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	consoleTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	consoleBodyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	consoleURLStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Underline(true)
)

// ConsoleAdapter prints notifications to stderr. It is the default channel
// and can never fail to initialize.
type ConsoleAdapter struct{}

// NewConsoleAdapter creates a console adapter.
func NewConsoleAdapter() *ConsoleAdapter { return &ConsoleAdapter{} }

// Name returns "console".
func (a *ConsoleAdapter) Name() string { return "console" }

// Init is a no-op.
func (a *ConsoleAdapter) Init(context.Context) error { return nil }

// Send prints the notification. Output goes to stderr so stdout stays
// clean for structured output.
func (a *ConsoleAdapter) Send(_ context.Context, n Notification) error {
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, consoleTitleStyle.Render("◆ "+n.Title))
	if n.Body != "" {
		fmt.Fprintln(os.Stderr, consoleBodyStyle.Render(n.Body))
	}
	if n.URL != "" {
		fmt.Fprintln(os.Stderr, consoleURLStyle.Render(n.URL))
	}
	return nil
}

// Close is a no-op.
func (a *ConsoleAdapter) Close() error { return nil }
