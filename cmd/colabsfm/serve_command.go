package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"colabsfm/internal/daemonrun"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var envFile string
	var logLevel string

	cmd := &cobra.Command{
		Use:         "serve",
		Short:       "Run the daemon in the foreground",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if _, err := os.Stat(envFile); err == nil {
					if err := godotenv.Load(envFile); err != nil {
						return fmt.Errorf("load env file: %w", err)
					}
				}
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if addr := ctx.addrOverride(); addr != "" {
				cfg.API.Bind = addr
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{LogLevel: logLevel})
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the config")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level")
	return cmd
}
