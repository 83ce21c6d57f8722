package main

import (
	"os"

	"github.com/leefowlercu/vaultkeeper/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
