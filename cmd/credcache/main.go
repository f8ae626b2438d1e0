// Package main is the entry point for the credcache CLI.
package main

import (
	"os"

	"github.com/icanbwell/credcache/cmd/credcache/app"
	"github.com/icanbwell/credcache/pkg/logger"
)

func main() {
	// Initialize the logger
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
