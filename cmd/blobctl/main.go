// Command blobctl is the operator-facing CLI over the blob transfer
// manager, built as a spf13/cobra tree so flag parsing and the config
// layer share the same spf13 ecosystem as viper.
package main

import (
	"os"

	"github.com/arvensis/blobtransfer/pkg/env"
	"github.com/arvensis/blobtransfer/pkg/logging"
)

func main() {
	env.LoadEnv()
	logging.InitLogger(env.GetEnv("BLOBCTL_DEBUG", "") != "")

	if err := newRootCmd().Execute(); err != nil {
		logging.Log.Fatal(err)
	}
	os.Exit(0)
}
