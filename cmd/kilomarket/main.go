package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/pflag"

	"github.com/MrSnakeDoc/kilomarket/internal/app"
	"github.com/MrSnakeDoc/kilomarket/internal/config"
	"github.com/MrSnakeDoc/kilomarket/internal/version"
)

func main() {
	cfg := config.Load()

	flags := pflag.NewFlagSet("kilomarket", pflag.ExitOnError)
	flags.StringVarP(&cfg.ListenPort, "listen", "l", cfg.ListenPort, "console listen address")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flags.BoolVar(&cfg.PrettyLog, "pretty-log", cfg.PrettyLog, "human readable logs instead of JSON")
	flags.BoolVar(&cfg.A2AAutostart, "autostart", cfg.A2AAutostart, "start the A2A servers at boot")
	flags.StringVar(&cfg.AgentsFile, "agents", cfg.AgentsFile, "YAML overriding agent metadata (ids and ports are fixed)")
	showVersion := flags.BoolP("version", "v", false, "print version and exit")
	_ = flags.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("kilomarket %s (commit=%s, built=%s, %s)\n",
			version.Version, version.Commit, version.BuildDate, version.GoVersion)
		return
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("❌ kilomarket failed to start: %v", err)
	}
	if err := a.Run(); err != nil {
		log.Fatalf("❌ kilomarket stopped with error: %v", err)
	}
}
