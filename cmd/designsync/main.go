package main

import (
	"flag"
	"fmt"
	"os"

	"DesignSync/internal/config"
	"DesignSync/internal/designer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.APIBaseURL, "api", cfg.APIBaseURL, "Backend base URL")
	flag.StringVar(&cfg.AccessToken, "token", cfg.AccessToken, "Bearer access token")
	flag.StringVar(&cfg.ProjectID, "project", "", "Resume an existing project by ID")
	flag.StringVar(&cfg.CacheDB, "cache-db", cfg.CacheDB, "Path of the local conversation cache")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	d, err := designer.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize designer: %v\n", err)
		os.Exit(1)
	}

	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
