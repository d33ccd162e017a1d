package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jsprague84/updatectl/internal/version"
)

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Info()
			if globalOpts.JSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			fmt.Printf("updatectl %s\n", info["Version"])
			fmt.Printf("  Go version: %s\n", info["GoVersion"])
			fmt.Printf("  Git commit: %s\n", info["GitCommit"])
			fmt.Printf("  Built:      %s\n", info["FormattedTime"])
			fmt.Printf("  OS/Arch:    %s/%s\n", info["OS"], info["Arch"])
			return nil
		},
	}
}
