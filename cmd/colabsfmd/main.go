// Command colabsfmd runs the colabsfm daemon: the region HTTP API, the job
// worker pool, and the maintenance scheduler.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"colabsfm/internal/config"
	"colabsfm/internal/daemonrun"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "colabsfmd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("colabsfmd", flag.ContinueOnError)
	configPath := flags.String("config", "", "Configuration file path")
	envFile := flags.String("env-file", ".env", "Optional dotenv file loaded before the config")
	logLevel := flags.String("log-level", "", "Override logging.level")
	development := flags.Bool("dev", false, "Include source locations in log output")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if err := loadEnv(*envFile); err != nil {
		return err
	}

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return daemonrun.Run(ctx, cfg, daemonrun.Options{
		LogLevel:    *logLevel,
		Development: *development,
	})
}

// loadEnv loads path into the process environment. A missing file is not an
// error; existing variables are never overridden.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}
