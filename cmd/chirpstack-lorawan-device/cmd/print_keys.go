package cmd

import (
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brocaar/chirpstack-lorawan-device/internal/config"
	"github.com/brocaar/lorawan"
)

var printKeysCmd = &cobra.Command{
	Use:   "print-keys",
	Short: "Print the device identifiers (e.g. for registering the device)",
	Run: func(cmd *cobra.Command, args []string) {
		out := struct {
			DevEUI  lorawan.EUI64     `json:"devEUI"`
			JoinEUI lorawan.EUI64     `json:"joinEUI"`
			AppKey  lorawan.AES128Key `json:"appKey"`
			DevAddr *lorawan.DevAddr  `json:"devAddr,omitempty"`
		}{
			DevEUI:  config.C.Device.DevEUI,
			JoinEUI: config.C.Device.JoinEUI,
			AppKey:  config.C.Device.AppKey,
		}
		if config.C.ABPEnabled() {
			out.DevAddr = &config.C.Device.ABP.DevAddr
		}

		b, err := json.MarshalIndent(out, "", "    ")
		if err != nil {
			log.WithError(err).Fatal("json marshal error")
		}

		fmt.Println(string(b))
	},
}
