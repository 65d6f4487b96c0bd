package config

import (
	"fmt"
	"net/url"
)

// Validate checks the merged configuration. Every violation is reported
// with the offending camelCase field path and value so the message can be
// acted on without reading source code.
func Validate(c *Config) error {
	switch c.Depth {
	case DepthQuick, DepthStandard, DepthComprehensive:
	default:
		return fieldError("depth", c.Depth, "expected quick, standard, or comprehensive")
	}

	switch c.ModelProfile {
	case ModelQuality, ModelBalanced, ModelBudget:
	default:
		return fieldError("model", c.ModelProfile, "expected quality, balanced, or budget")
	}

	switch c.Notify {
	case NotifyConsole, NotifySystem, NotifyTeams, NotifySlack, NotifyWebhook:
	default:
		return fieldError("notify", c.Notify, "expected console, system, teams, slack, or webhook")
	}

	if c.Notify == NotifyWebhook || c.Notify == NotifySlack || c.Notify == NotifyTeams {
		if c.WebhookURL == "" {
			return fieldError("webhookUrl", "", fmt.Sprintf("required when notify is %q", c.Notify))
		}
		if u, err := url.Parse(c.WebhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fieldError("webhookUrl", c.WebhookURL, "must be an absolute http(s) URL")
		}
	}

	if c.Port != 0 && (c.Port < 1 || c.Port > 65535) {
		return fieldError("port", fmt.Sprintf("%d", c.Port), "must be between 1 and 65535, or 0 to derive from the branch")
	}

	if c.Phases != "" {
		if _, err := ParseRange(c.Phases); err != nil {
			return fieldError("phases", c.Phases, err.Error())
		}
	}

	if c.CommandTimeoutMinutes <= 0 {
		return fieldError("commandTimeoutMinutes", fmt.Sprintf("%d", c.CommandTimeoutMinutes), "must be positive")
	}
	if c.PlanningTimeoutMinutes < 20 {
		return fieldError("planningTimeoutMinutes", fmt.Sprintf("%d", c.PlanningTimeoutMinutes), "must be at least 20")
	}
	if c.ReminderMinutes <= 0 {
		return fieldError("reminderMinutes", fmt.Sprintf("%d", c.ReminderMinutes), "must be positive")
	}

	return nil
}

func fieldError(path, value, hint string) error {
	if value == "" {
		return fmt.Errorf("config: field %q: %s", path, hint)
	}
	return fmt.Errorf("config: field %q: invalid value %q (%s)", path, value, hint)
}
