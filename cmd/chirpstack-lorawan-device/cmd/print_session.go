package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brocaar/chirpstack-lorawan-device/internal/config"
	"github.com/brocaar/chirpstack-lorawan-device/internal/storage"
)

var printSessionCmd = &cobra.Command{
	Use:     "print-session",
	Short:   "Print the stored device-session as JSON (for debugging)",
	Example: `chirpstack-lorawan-device print-session 0102030405060708`,
	Run: func(cmd *cobra.Command, args []string) {
		devEUI := config.C.Device.DevEUI
		if len(args) == 1 {
			if err := devEUI.UnmarshalText([]byte(args[0])); err != nil {
				log.WithError(err).Fatal("decode DevEUI error")
			}
		}

		if err := storage.Setup(config.C); err != nil {
			log.Fatal(err)
		}

		ds, err := storage.GetDeviceSession(context.Background(), devEUI)
		if err != nil {
			log.WithError(err).WithField("dev_eui", devEUI).Fatal("get device-session error")
		}

		b, err := json.MarshalIndent(ds, "", "    ")
		if err != nil {
			log.WithError(err).Fatal("json marshal error")
		}

		fmt.Println(string(b))
	},
}
