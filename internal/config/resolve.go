package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Source identifies where a configuration value came from.
type Source string

const (
	// SourceDefault indicates the value came from built-in defaults.
	SourceDefault Source = "default"
	// SourceFile indicates the value came from the project config file.
	SourceFile Source = "file"
	// SourceEnv indicates the value came from a GSD_AUTOPILOT_* variable.
	SourceEnv Source = "env"
	// SourceCLI indicates the value came from a CLI flag.
	SourceCLI Source = "cli"
)

// EnvPrefix is stripped from environment variable names before mapping the
// UPPER_SNAKE_CASE remainder onto camelCase field paths.
const EnvPrefix = "GSD_AUTOPILOT_"

// ResolvedConfig holds the fully-merged configuration with source tracking.
type ResolvedConfig struct {
	Config  *Config
	Sources map[string]Source // key is the camelCase field path, e.g. "skipDiscuss"
	Path    string            // config file used (empty if none)
}

// CLIOverrides captures flag values that can override configuration.
// Nil fields mean "not set on the command line" and do not override.
type CLIOverrides struct {
	ProjectDir  *string
	PRDPath     *string
	Resume      *bool
	Phases      *string
	SkipDiscuss *bool
	SkipVerify  *bool
	Depth       *string
	Model       *string
	Notify      *string
	WebhookURL  *string
	AdapterPath *string
	Port        *int
	Verbose     *bool
	Quiet       *bool
}

// EnvFunc looks up environment variables. The default is os.LookupEnv;
// injected for testability.
type EnvFunc func(key string) (string, bool)

// binding describes one field's place in the merge: its camelCase path and
// typed accessors into a Config.
type binding struct {
	path string
	kind string // "string", "bool", or "int"
	str  func(*Config) *string
	boolean func(*Config) *bool
	integer func(*Config) *int
}

// bindings is the full field table. The env layer derives variable names
// from path (camelCase -> UPPER_SNAKE_CASE with the prefix), so adding a
// field here wires file, env, and source tracking at once.
var bindings = []binding{
	{path: "projectDir", kind: "string", str: func(c *Config) *string { return &c.ProjectDir }},
	{path: "prdPath", kind: "string", str: func(c *Config) *string { return &c.PRDPath }},
	{path: "resume", kind: "bool", boolean: func(c *Config) *bool { return &c.Resume }},
	{path: "phases", kind: "string", str: func(c *Config) *string { return &c.Phases }},
	{path: "skipDiscuss", kind: "bool", boolean: func(c *Config) *bool { return &c.SkipDiscuss }},
	{path: "skipVerify", kind: "bool", boolean: func(c *Config) *bool { return &c.SkipVerify }},
	{path: "depth", kind: "string", str: func(c *Config) *string { return &c.Depth }},
	{path: "model", kind: "string", str: func(c *Config) *string { return &c.ModelProfile }},
	{path: "notify", kind: "string", str: func(c *Config) *string { return &c.Notify }},
	{path: "webhookUrl", kind: "string", str: func(c *Config) *string { return &c.WebhookURL }},
	{path: "adapterPath", kind: "string", str: func(c *Config) *string { return &c.AdapterPath }},
	{path: "port", kind: "int", integer: func(c *Config) *int { return &c.Port }},
	{path: "agentCommand", kind: "string", str: func(c *Config) *string { return &c.AgentCommand }},
	{path: "commandTimeoutMinutes", kind: "int", integer: func(c *Config) *int { return &c.CommandTimeoutMinutes }},
	{path: "planningTimeoutMinutes", kind: "int", integer: func(c *Config) *int { return &c.PlanningTimeoutMinutes }},
	{path: "reminderMinutes", kind: "int", integer: func(c *Config) *int { return &c.ReminderMinutes }},
	{path: "verbose", kind: "bool", boolean: func(c *Config) *bool { return &c.Verbose }},
	{path: "quiet", kind: "bool", boolean: func(c *Config) *bool { return &c.Quiet }},
}

// Resolve merges configuration from all sources in priority order:
// CLI flags > environment > config file > defaults.
func Resolve(defaults *Config, fileConfig *Config, envFn EnvFunc, overrides *CLIOverrides) (*ResolvedConfig, error) {
	rc := &ResolvedConfig{
		Config:  &Config{},
		Sources: make(map[string]Source),
	}

	if defaults == nil {
		defaults = NewDefaults()
	}
	if envFn == nil {
		envFn = func(string) (string, bool) { return "", false }
	}
	if overrides == nil {
		overrides = &CLIOverrides{}
	}

	// Layer 1: defaults as the base.
	for _, b := range bindings {
		b.copyFrom(rc.Config, defaults)
		rc.Sources[b.path] = SourceDefault
	}

	// Layer 2: file values (non-zero values override).
	if fileConfig != nil {
		for _, b := range bindings {
			if b.mergeFrom(rc.Config, fileConfig) {
				rc.Sources[b.path] = SourceFile
			}
		}
	}

	// Layer 3: environment with coercion.
	for _, b := range bindings {
		key := EnvPrefix + ToUpperSnake(b.path)
		raw, ok := envFn(key)
		if !ok {
			continue
		}
		if err := b.applyString(rc.Config, raw); err != nil {
			return nil, fmt.Errorf("config: field %q (from %s): %w", b.path, key, err)
		}
		rc.Sources[b.path] = SourceEnv
	}

	// Layer 4: CLI overrides.
	applyCLI(rc, overrides)

	return rc, nil
}

// copyFrom unconditionally copies the bound field from src to dst.
func (b binding) copyFrom(dst, src *Config) {
	switch b.kind {
	case "string":
		*b.str(dst) = *b.str(src)
	case "bool":
		*b.boolean(dst) = *b.boolean(src)
	case "int":
		*b.integer(dst) = *b.integer(src)
	}
}

// mergeFrom copies the bound field only when it is non-zero in src, so an
// absent file key never clobbers a default. Reports whether it copied.
func (b binding) mergeFrom(dst, src *Config) bool {
	switch b.kind {
	case "string":
		if v := *b.str(src); v != "" {
			*b.str(dst) = v
			return true
		}
	case "bool":
		if *b.boolean(src) {
			*b.boolean(dst) = true
			return true
		}
	case "int":
		if v := *b.integer(src); v != 0 {
			*b.integer(dst) = v
			return true
		}
	}
	return false
}

// applyString coerces a raw string into the bound field: "true"/"false"
// for booleans, digit-only values for integers.
func (b binding) applyString(dst *Config, raw string) error {
	switch b.kind {
	case "string":
		*b.str(dst) = raw
	case "bool":
		switch raw {
		case "true":
			*b.boolean(dst) = true
		case "false":
			*b.boolean(dst) = false
		default:
			return fmt.Errorf("invalid boolean %q (expected \"true\" or \"false\")", raw)
		}
	case "int":
		n, err := strconv.Atoi(raw)
		if err != nil || raw == "" {
			return fmt.Errorf("invalid number %q", raw)
		}
		*b.integer(dst) = n
	}
	return nil
}

func applyCLI(rc *ResolvedConfig, o *CLIOverrides) {
	c := rc.Config
	setStr := func(path string, dst *string, v *string) {
		if v != nil {
			*dst = *v
			rc.Sources[path] = SourceCLI
		}
	}
	setBool := func(path string, dst *bool, v *bool) {
		if v != nil {
			*dst = *v
			rc.Sources[path] = SourceCLI
		}
	}

	setStr("projectDir", &c.ProjectDir, o.ProjectDir)
	setStr("prdPath", &c.PRDPath, o.PRDPath)
	setBool("resume", &c.Resume, o.Resume)
	setStr("phases", &c.Phases, o.Phases)
	setBool("skipDiscuss", &c.SkipDiscuss, o.SkipDiscuss)
	setBool("skipVerify", &c.SkipVerify, o.SkipVerify)
	setStr("depth", &c.Depth, o.Depth)
	setStr("model", &c.ModelProfile, o.Model)
	setStr("notify", &c.Notify, o.Notify)
	setStr("webhookUrl", &c.WebhookURL, o.WebhookURL)
	setStr("adapterPath", &c.AdapterPath, o.AdapterPath)
	if o.Port != nil {
		c.Port = *o.Port
		rc.Sources["port"] = SourceCLI
	}
	setBool("verbose", &c.Verbose, o.Verbose)
	setBool("quiet", &c.Quiet, o.Quiet)
}

// ToUpperSnake converts a camelCase field path to UPPER_SNAKE_CASE:
// "webhookUrl" -> "WEBHOOK_URL".
func ToUpperSnake(path string) string {
	var b strings.Builder
	for i, r := range path {
		if r >= 'A' && r <= 'Z' && i > 0 {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}
