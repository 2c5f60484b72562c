package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const defaultRelayYAML = `# go-task-reminder relay config
# Priority: CLI flag > env (RELAY_*) > this file > default.

kafka_brokers: "localhost:9092"
log_level:     "info"
metrics_addr:  ":9091"
skip_backlog:  false   # true: a new consumer group ignores reminders published before it joined

# Leave empty to disable duplicate suppression across restarts.
redis_addr:   "localhost:6379"
delivery_ttl: "24h"

default_channel:  "email"   # used when an event names no channel: email | webhook
max_retries:      3
deliver_timeout:  "30s"
retry_base_delay: "1s"      # wait = base × attempt²

# --- Local (MailHog) ---
smtp_host: "localhost"
smtp_port: 1025
smtp_from: "reminders@taskreminder.dev"
smtp_to:   "me@taskreminder.dev"
# smtp_username: ""
# smtp_password: ""

# webhook_url:    "https://hooks.example.com/reminders"
# webhook_method: "POST"
# webhook_headers:
#   Authorization: "Bearer <token>"

# otel_endpoint: "localhost:4318"  # uncomment to enable OpenTelemetry tracing
# otel_sample_ratio: 0.25
`

func newInitCmd(serviceName, defaultYAML string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: fmt.Sprintf(`Write default configuration for %s.

If --config is given the file is written to that path.
Otherwise it is written to ~/.go-task-reminder/%s.yaml.
Fails if the file already exists unless --force is passed.`, serviceName, serviceName),
		RunE: func(cmd *cobra.Command, _ []string) error {
			dest := cfgFile
			if dest == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("home dir: %w", err)
				}
				dest = filepath.Join(home, ".go-task-reminder", serviceName+".yaml")
			}
			if err := writeDefaultConfig(dest, defaultYAML, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config written to %s\n", dest)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config file")
	return cmd
}

func writeDefaultConfig(dest, contents string, force bool) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	if !force {
		if _, err := os.Stat(dest); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", dest)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", dest, err)
		}
	}
	if err := os.WriteFile(dest, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
