package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/warden/version"
)

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show warden version information",
	Long:  `Display version, build time, commit hash, and platform information for the warden binary.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := version.Get()
		if jsonOutput(cmd) {
			return printJSON(info)
		}
		fmt.Println(info.String())
		fmt.Printf("Platform: %s\n", info.Platform)
		fmt.Printf("Go: %s\n", info.GoVersion)
		return nil
	},
}
