package main

import (
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/k-laboratory/rovlink/cmd/rovlink-bridge/app"
)

func main() {
	if err := app.NewBridgeCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
