// Package commands defines all Cobra CLI commands for the ragdoc binary.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragdoc/internal/audit"
	"github.com/54b3r/ragdoc/internal/config"
	"github.com/54b3r/ragdoc/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// appConfig is the configuration resolved by the root pre-run hook.
var appConfig *config.Config

// appLogger is the logger built from appConfig.
var appLogger *slog.Logger

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragdoc",
		Short: "ragdoc: tenant and project scoped document retrieval with LLM answers",
		Long: `ragdoc ingests plain-text documents into a tenant/project scoped store,
embeds them, and answers questions using the closest documents as context.

Backends are selected via environment variables or a YAML config file
(~/.ragdoc/config.yaml). Environment variables always win over the file.
See 'ragdoc --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			boot := logging.Bootstrap()

			cfg, path, err := config.Load(configPath, boot)
			if err != nil {
				return err
			}
			loadedConfigPath = path
			appConfig = cfg
			appLogger = logging.New(logging.Options{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				Output: cmd.ErrOrStderr(),
			})

			cmd.SetContext(logging.WithLogger(cmd.Context(), appLogger))

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(cmd.Context(), appLogger, cmd.Name(), loadedConfigPath, cfg.AuditSettings())

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.ragdoc/config.yaml)")

	root.AddCommand(
		NewIngestCmd(),
		NewSearchCmd(),
		NewAskCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
