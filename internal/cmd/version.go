package cmd

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// versionCmd prints the build version from the module's own build info,
// per SPEC_FULL.md §4.9 ("no external service").
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the local-logger build version",
	RunE: func(_ *cobra.Command, _ []string) error {
		fmt.Println(buildVersion())
		return nil
	},
}

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "local-logger (devel)"
	}
	return fmt.Sprintf("local-logger %s", info.Main.Version)
}
