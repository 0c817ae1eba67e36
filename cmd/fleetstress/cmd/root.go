// Package cmd implements the fleetstress CLI: run/tui/keygen subcommands
// over spf13/cobra, configuration resolved through spf13/viper, mirroring
// the teacher's InitConfig/CfgFile layering.
package cmd

import (
	"github.com/fleetstress/fleetstress/lib/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fleetstress",
	Short: "Simulate a fleet of IoT devices against a Particle-style cloud server",
	Long: `fleetstress impersonates many IoT devices speaking the RSA-handshake,
chained-IV AES-CBC, CoAP-over-TCP protocol a Particle-style cloud server
expects, to drive load against it at controlled scale.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.InitConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&config.CfgFile, "config", "", "config file (default $HOME/.fleetstress/config.yaml)")
	rootCmd.AddCommand(runCmd, tuiCmd, keygenCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
