package cli

import (
	"fmt"

	"github.com/avaudit/clamaudit/pkg/clamav"
	"github.com/avaudit/clamaudit/pkg/config"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print clamaudit and scanner versions",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("clamaudit version: %s\n", config.Version)
		engine := clamav.NewEngine(conf.Scanner)
		if v, err := engine.Version(cmd.Context()); err == nil {
			fmt.Printf("scanner version: %s\n", v)
		}
	},
}
