package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/NexeraDigital/gsd-autopilot/internal/config"
)

// pipelineFlags holds the flag storage shared by run and launch.
type pipelineFlags struct {
	prd         string
	resume      bool
	phases      string
	skipDiscuss bool
	skipVerify  bool
	depth       string
	model       string
	notifyVia   string
	webhookURL  string
	adapterPath string
	port        int
}

// register adds the pipeline flags to a command.
func (f *pipelineFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.prd, "prd", "", "Path to the product requirements document")
	cmd.Flags().BoolVar(&f.resume, "resume", false, "Resume from the persisted checkpoint")
	cmd.Flags().StringVar(&f.phases, "phases", "", "Restrict to a phase range (N | N-M | N,M,...)")
	cmd.Flags().BoolVar(&f.skipDiscuss, "skip-discuss", false, "Skip the discuss step (canned context documents)")
	cmd.Flags().BoolVar(&f.skipVerify, "skip-verify", false, "Skip the verify step and the gap loop")
	cmd.Flags().StringVar(&f.depth, "depth", "", "Planning depth: quick, standard, or comprehensive")
	cmd.Flags().StringVar(&f.model, "model", "", "Model profile: quality, balanced, or budget")
	cmd.Flags().StringVar(&f.notifyVia, "notify", "", "Notification channel: console, system, teams, slack, or webhook")
	cmd.Flags().StringVar(&f.webhookURL, "webhook-url", "", "Webhook URL for teams/slack/webhook notifications")
	cmd.Flags().StringVar(&f.adapterPath, "adapter-path", "", "External notification adapter executable")
	cmd.Flags().IntVar(&f.port, "port", 0, "Dashboard port (0 derives one from the git branch)")
}

// resolveConfig merges defaults, the project config file, the environment,
// and the command's changed flags into a validated Config.
func resolveConfig(cmd *cobra.Command, f *pipelineFlags) (*config.Config, error) {
	projectDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	if err := config.LoadDotenv(projectDir); err != nil {
		return nil, err
	}

	fileCfg, _, err := config.LoadFile(projectDir)
	if err != nil {
		return nil, err
	}

	overrides := &config.CLIOverrides{ProjectDir: &projectDir}
	set := func(name string) bool { return cmd.Flags().Changed(name) }
	if set("prd") {
		overrides.PRDPath = &f.prd
	}
	if set("resume") {
		overrides.Resume = &f.resume
	}
	if set("phases") {
		overrides.Phases = &f.phases
	}
	if set("skip-discuss") {
		overrides.SkipDiscuss = &f.skipDiscuss
	}
	if set("skip-verify") {
		overrides.SkipVerify = &f.skipVerify
	}
	if set("depth") {
		overrides.Depth = &f.depth
	}
	if set("model") {
		overrides.Model = &f.model
	}
	if set("notify") {
		overrides.Notify = &f.notifyVia
	}
	if set("webhook-url") {
		overrides.WebhookURL = &f.webhookURL
	}
	if set("adapter-path") {
		overrides.AdapterPath = &f.adapterPath
	}
	if set("port") {
		overrides.Port = &f.port
	}
	if cmd.InheritedFlags().Changed("verbose") {
		overrides.Verbose = &flagVerbose
	}
	if cmd.InheritedFlags().Changed("quiet") {
		overrides.Quiet = &flagQuiet
	}

	resolved, err := config.Resolve(config.NewDefaults(), fileCfg, os.LookupEnv, overrides)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(resolved.Config); err != nil {
		return nil, err
	}
	return resolved.Config, nil
}
