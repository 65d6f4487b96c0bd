package config

// Built-in defaults. Timeouts are generous because a single agent command
// routinely runs for many minutes; project-init gets its own longer bound.
const (
	defaultDepth           = DepthStandard
	defaultModelProfile    = ModelBalanced
	defaultNotify          = NotifyConsole
	defaultAgentCommand    = "claude"
	defaultCommandTimeout  = 15 // minutes
	defaultPlanningTimeout = 20 // minutes
	defaultReminder        = 5  // minutes
)

// NewDefaults returns the built-in default configuration. Port zero means
// "derive from the git branch" (the launcher's job).
func NewDefaults() *Config {
	return &Config{
		ProjectDir:             ".",
		Depth:                  defaultDepth,
		ModelProfile:           defaultModelProfile,
		Notify:                 defaultNotify,
		AgentCommand:           defaultAgentCommand,
		CommandTimeoutMinutes:  defaultCommandTimeout,
		PlanningTimeoutMinutes: defaultPlanningTimeout,
		ReminderMinutes:        defaultReminder,
	}
}
