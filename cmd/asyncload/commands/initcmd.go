package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arkite/asyncload/pkg/config"
)

var initPath string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Init writes a fully populated configuration file with every setting at
its default, ready to edit. Refuses to overwrite an existing file.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		if err := config.WriteDefault(initPath); err != nil {
			return err
		}
		fmt.Println("wrote", initPath)
		return nil
	},
}

func init() {
	initCmd.Flags().StringVarP(&initPath, "path", "p", "asyncload.yaml", "where to write the config file")
	rootCmd.AddCommand(initCmd)
}
