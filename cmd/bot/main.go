package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cadence/internal/app"
)

func main() {
	var cfgPath string
	var check bool
	flag.StringVar(&cfgPath, "config", "./settings.json", "path to settings file (json or yaml)")
	flag.BoolVar(&check, "check", false, "validate settings and exit")
	flag.Parse()

	if check {
		if err := app.CheckSettings(cfgPath); err != nil {
			fmt.Fprintln(os.Stderr, "invalid settings:", err)
			os.Exit(2)
		}
		fmt.Println("settings ok")
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		var cerr *app.ConfigError
		if errors.As(err, &cerr) {
			fmt.Fprintln(os.Stderr, "invalid settings:", err)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
