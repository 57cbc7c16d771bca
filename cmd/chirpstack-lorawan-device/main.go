package main

import "github.com/brocaar/chirpstack-lorawan-device/cmd/chirpstack-lorawan-device/cmd"

var version string // set by the compiler

func main() {
	cmd.Execute(version)
}
