package main

import (
	"os"

	"maxprint.app/orderflow/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
