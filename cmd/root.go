package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jsprague84/updatectl/config"
	"github.com/jsprague84/updatectl/internal/executor"
	"github.com/jsprague84/updatectl/internal/log"
	"github.com/jsprague84/updatectl/internal/registry"
)

// GlobalOptions holds flags shared by every subcommand.
type GlobalOptions struct {
	Servers []string
	Local   bool
	SSHKey  string
	Yes     bool
	DryRun  bool
	Quiet   bool
	JSON    bool
}

var globalOpts GlobalOptions

var rootCmd = &cobra.Command{
	Use:   "updatectl",
	Short: "Check and apply OS and Docker updates across servers",
	Long: `updatectl inspects and remediates package and container-image staleness
across a fleet of local and SSH-reachable servers.

Servers come from the UPDATE_SERVERS environment variable or a config file,
as a comma-separated list of entries in one of these forms:

  name:user@host    named remote server
  user@host         remote server, name derived from the host
  name:local        the local machine under a custom name`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringSliceVar(&globalOpts.Servers, "servers", nil, "Target servers (names or user@host specs); default is every configured server")
	flags.BoolVar(&globalOpts.Local, "local", false, "Target only the local machine")
	flags.StringVar(&globalOpts.SSHKey, "ssh-key", "", "Path to the SSH private key (overrides UPDATE_SSH_KEY)")
	flags.BoolVarP(&globalOpts.Yes, "yes", "y", false, "Skip interactive confirmation")
	flags.BoolVar(&globalOpts.DryRun, "dry-run", false, "Report what would happen without changing anything")
	flags.BoolVarP(&globalOpts.Quiet, "quiet", "q", false, "Only log warnings and errors")
	flags.BoolVar(&globalOpts.JSON, "json", false, "Emit machine-readable JSON output")

	rootCmd.AddCommand(NewCheckCommand())
	rootCmd.AddCommand(NewUpdateCommand())
	rootCmd.AddCommand(NewCleanupCommand())
	rootCmd.AddCommand(NewListCommand())
	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewVersionCommand())
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// appContext bundles everything a subcommand needs.
type appContext struct {
	cfg      *config.Settings
	logger   *log.Logger
	registry *registry.Registry
}

func newAppContext() (*appContext, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if globalOpts.SSHKey != "" {
		cfg.SSHKey = globalOpts.SSHKey
	}

	logger := log.New()
	if globalOpts.Quiet {
		logger.SetLevel(logrus.WarnLevel)
	}

	reg, err := registry.Parse(cfg.Servers, cfg.LocalName)
	if err != nil {
		return nil, err
	}

	return &appContext{cfg: cfg, logger: logger, registry: reg}, nil
}

// targets resolves the server set a command operates on: --local wins, then
// --servers, then every configured server.
func (a *appContext) targets() ([]registry.Server, error) {
	if globalOpts.Local {
		return []registry.Server{a.registry.Local()}, nil
	}
	if len(globalOpts.Servers) > 0 {
		return a.registry.ResolveList(strings.Join(globalOpts.Servers, ","))
	}
	if a.registry.Len() == 0 {
		return []registry.Server{a.registry.Local()}, nil
	}
	return a.registry.All(), nil
}

// runner builds the command runner for one server.
func (a *appContext) runner(s registry.Server) executor.Runner {
	opts := []executor.Option{executor.WithSSHPort(a.cfg.SSHPort)}
	if a.cfg.CommandTimeout > 0 {
		opts = append(opts, executor.WithTimeout(a.cfg.CommandTimeout))
	}
	return executor.New(s, a.cfg.SSHKey, a.logger, opts...)
}

// confirm asks the user before a mutating run. --yes answers for them;
// without a terminal the answer is no.
func confirm(prompt string) bool {
	if globalOpts.Yes {
		return true
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "Refusing to proceed without confirmation (use --yes in scripts)")
		return false
	}
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// failureError turns a failed-server count into the command error that
// drives the non-zero exit code.
func failureError(failed, total int) error {
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d servers failed", failed, total)
}
