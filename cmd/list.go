package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewListCommand creates the list command group.
func NewListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured servers and configuration examples",
	}
	cmd.AddCommand(newListServersCommand())
	cmd.AddCommand(newListExamplesCommand())
	return cmd
}

func newListServersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List the configured servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext()
			if err != nil {
				return err
			}

			servers := app.registry.All()
			if globalOpts.JSON {
				type entry struct {
					Name  string `json:"name"`
					Host  string `json:"host"`
					Local bool   `json:"local"`
				}
				entries := make([]entry, 0, len(servers))
				for _, s := range servers {
					entries = append(entries, entry{Name: s.Name, Host: s.DisplayHost(), Local: s.Local()})
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			if len(servers) == 0 {
				app.logger.Info("No servers configured (set UPDATE_SERVERS); local machine is %q", app.registry.Local().Name)
				return nil
			}
			for _, s := range servers {
				app.logger.Info("%-20s %s", s.Name, s.DisplayHost())
			}
			return nil
		},
	}
}

func newListExamplesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "examples",
		Short: "Show configuration examples",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(`Server list (UPDATE_SERVERS or servers in config.yaml):

  export UPDATE_SERVERS="nas:admin@192.168.1.10,web:deploy@web.example.com,workstation:local"

SSH key for remote servers:

  export UPDATE_SSH_KEY="$HOME/.ssh/id_ed25519"

Webhook server:

  export UPDATECTL_WEBHOOK_SECRET="$(openssl rand -hex 32)"
  updatectl serve

Trigger an update from anywhere:

  curl -X POST "https://updates.example.com/webhook/update/os?server=web&token=$UPDATECTL_WEBHOOK_SECRET"

Container restart exclusions during docker updates:

  export UPDATECTL_RESTART_EXCLUDE_DEFAULT="pihole"
  export UPDATECTL_RESTART_EXCLUDE="nas:plex,web:postgres"
`)
		},
	}
}
