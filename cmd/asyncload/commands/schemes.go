package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var schemesCmd = &cobra.Command{
	Use:   "schemes",
	Short: "List the URL schemes the loader can fetch",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		for _, scheme := range buildRegistry(rt.cfg).Schemes() {
			fmt.Println(scheme)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the asyncload version",
	Run: func(*cobra.Command, []string) {
		fmt.Println("asyncload", Version)
	},
}
