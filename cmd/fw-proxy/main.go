package main

import (
	"flag"
	"fmt"
	"os"

	"fw-proxy/internal/app"
	"fw-proxy/internal/config"
)

var (
	// version is meant to be overridden at build time via -ldflags.
	version = "dev"
)

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		// flag.CommandLine exits on its own parse errors; this is the config file.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if cfg.ShowHelp {
		flag.Usage()
		os.Exit(0)
	}

	os.Exit(app.Run(cfg, version))
}
