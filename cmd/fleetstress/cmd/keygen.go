package cmd

import (
	"fmt"

	"github.com/fleetstress/fleetstress/lib/device"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Mint a new device identity and persist its key under the data directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir := viper.GetString("fleet.data_dir")
		id, err := device.LoadOrCreateIdentity(dataDir, "")
		if err != nil {
			return err
		}
		fmt.Printf("device id: %s\nkey file:  %s\n", id.IDHex(), device.KeyPath(dataDir, id.IDHex()))
		return nil
	},
}
