package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

func init() {
	v = viper.New()

	// Set default values
	v.SetDefault("server.port", 8080)
	v.SetDefault("servers", "")
	v.SetDefault("ssh.key", "")
	v.SetDefault("ssh.port", 22)
	v.SetDefault("local.name", "localhost")
	v.SetDefault("command.timeout", "120s")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.url", "http://updatectl_webhook:8080")
	v.SetDefault("restart.policy", "all-except-webhook")
	v.SetDefault("restart.exclude", "")
	v.SetDefault("restart.exclude.default", "")
	v.SetDefault("cleanup.stopped.age.days", 30)
	v.SetDefault("check.schedule", "")
	v.SetDefault("gotify.url", "http://localhost:8080/message")
	v.SetDefault("gotify.key", "")
	v.SetDefault("ntfy.url", "https://ntfy.sh")
	v.SetDefault("ntfy.topic", "")
	v.SetDefault("ntfy.auth", "")

	// Environment variables
	v.AutomaticEnv()
	v.BindEnv("server.port", "PORT")
	v.BindEnv("servers", "UPDATE_SERVERS")
	v.BindEnv("ssh.key", "UPDATE_SSH_KEY")
	v.BindEnv("local.name", "UPDATE_LOCAL_NAME")
	v.BindEnv("command.timeout", "UPDATE_COMMAND_TIMEOUT")
	v.BindEnv("webhook.secret", "UPDATECTL_WEBHOOK_SECRET")
	v.BindEnv("webhook.url", "UPDATECTL_WEBHOOK_URL")
	v.BindEnv("restart.policy", "UPDATECTL_RESTART_POLICY")
	v.BindEnv("restart.exclude", "UPDATECTL_RESTART_EXCLUDE")
	v.BindEnv("restart.exclude.default", "UPDATECTL_RESTART_EXCLUDE_DEFAULT")
	v.BindEnv("cleanup.stopped.age.days", "CLEANUP_STOPPED_AGE_DAYS")
	v.BindEnv("check.schedule", "UPDATECTL_CHECK_SCHEDULE")
	v.BindEnv("gotify.url", "GOTIFY_URL")
	v.BindEnv("gotify.key", "UPDATECTL_GOTIFY_KEY")
	v.BindEnv("gotify.key.file", "GOTIFY_KEY_FILE")
	v.BindEnv("ntfy.url", "NTFY_URL")
	v.BindEnv("ntfy.topic", "UPDATECTL_NTFY_TOPIC")
	v.BindEnv("ntfy.auth", "NTFY_AUTH")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Look for config in the following paths
	configPaths := []string{
		".",
		"$HOME/.updatectl",
		"/etc/updatectl",
	}

	for _, path := range configPaths {
		v.AddConfigPath(os.ExpandEnv(path))
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			panic(fmt.Sprintf("Fatal error reading config file: %s", err))
		}
		// Config file not found; ignore error and use defaults
	}
}

// Settings holds all configuration consumed by the tool. It is built once at
// startup and handed to the components that need it; nothing below this
// package reads the environment directly.
type Settings struct {
	// Servers is the raw comma-separated server list (name:user@host entries).
	Servers string
	// SSHKey is the path to the private key used for all remote sessions.
	SSHKey string
	// SSHPort is the port remote sessions connect to.
	SSHPort int
	// LocalName is the display name used for the local host.
	LocalName string
	// CommandTimeout bounds a single local or remote command.
	CommandTimeout time.Duration

	// Port is the webhook server listen port.
	Port int
	// WebhookSecret is the shared token required by webhook endpoints.
	WebhookSecret string
	// WebhookURL is the externally reachable webhook base URL, used when
	// building notification action buttons.
	WebhookURL string

	// RestartPolicy controls which containers are restarted after an image
	// update: "all-except-webhook" or "none".
	RestartPolicy string
	// RestartExclude lists per-server exclusions as "server:container" pairs.
	RestartExclude []string
	// RestartExcludeDefault lists container names excluded on every server.
	RestartExcludeDefault []string

	// StoppedAgeDays is the minimum age of a stopped container before the
	// aggressive cleanup profile may remove it.
	StoppedAgeDays int

	// CheckSchedule is an optional cron expression; when set, serve mode
	// runs a fleet-wide update check on that schedule.
	CheckSchedule string

	Gotify GotifySettings
	Ntfy   NtfySettings
}

// GotifySettings configures the Gotify notification backend.
type GotifySettings struct {
	URL     string
	Key     string
	KeyFile string
}

// NtfySettings configures the ntfy notification backend.
type NtfySettings struct {
	URL   string
	Topic string
	Auth  string
}

// Load materializes a Settings value from viper.
func Load() (*Settings, error) {
	timeout, err := time.ParseDuration(v.GetString("command.timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid command timeout %q: %w", v.GetString("command.timeout"), err)
	}

	s := &Settings{
		Servers:               v.GetString("servers"),
		SSHKey:                v.GetString("ssh.key"),
		SSHPort:               v.GetInt("ssh.port"),
		LocalName:             v.GetString("local.name"),
		CommandTimeout:        timeout,
		Port:                  v.GetInt("server.port"),
		WebhookSecret:         v.GetString("webhook.secret"),
		WebhookURL:            v.GetString("webhook.url"),
		RestartPolicy:         v.GetString("restart.policy"),
		RestartExclude:        splitList(v.GetString("restart.exclude")),
		RestartExcludeDefault: splitList(v.GetString("restart.exclude.default")),
		StoppedAgeDays:        v.GetInt("cleanup.stopped.age.days"),
		CheckSchedule:         v.GetString("check.schedule"),
		Gotify: GotifySettings{
			URL:     v.GetString("gotify.url"),
			Key:     v.GetString("gotify.key"),
			KeyFile: v.GetString("gotify.key.file"),
		},
		Ntfy: NtfySettings{
			URL:   v.GetString("ntfy.url"),
			Topic: v.GetString("ntfy.topic"),
			Auth:  v.GetString("ntfy.auth"),
		},
	}

	// The key may live in a file instead of the environment (secret mounts)
	if s.Gotify.Key == "" && s.Gotify.KeyFile != "" {
		data, err := os.ReadFile(s.Gotify.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read gotify key file %s: %w", s.Gotify.KeyFile, err)
		}
		s.Gotify.Key = strings.TrimSpace(string(data))
	}

	return s, nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
