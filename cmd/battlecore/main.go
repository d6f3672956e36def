// Command battlecore serves, observes and predicts battles.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/warband/battlecore/internal/config"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "battlecore",
	Short: "Authoritative battle simulator and replication client",
	Long: `battlecore resolves spells against an authoritative battle and
replicates every resulting state change to connected observers.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		err := config.Load(configDir)
		var notFound viper.ConfigFileNotFoundError
		if err != nil && !errors.As(err, &notFound) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", ".", "directory containing "+config.FileName)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
