package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/skdvlpr/gomercatocrm/internal/config"
	"github.com/skdvlpr/gomercatocrm/internal/daemon"
	"github.com/skdvlpr/gomercatocrm/internal/session"
)

func main() {
	configFlag := flag.String("config", session.ConfigPath(), "config file")
	envFlag := flag.String("env", session.EnvPath(), ".env file read before CRMCHAT_* variables")
	sessionFlag := flag.String("session", "", "bridge session id (overrides config)")
	dataDirFlag := flag.String("data-dir", "", "data directory (overrides config)")
	debugFlag := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	cfg, err := config.Resolve(*configFlag, *envFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	cfg.Bridge.SessionID = session.ResolveID(*sessionFlag, cfg.Bridge.SessionID)
	if *dataDirFlag != "" {
		cfg.DataDir = *dataDirFlag
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			Config: cfg,
			Layout: session.NewLayout(cfg.DataDir),
			Debug:  *debugFlag,
		}),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			l := &fxevent.ZapLogger{Logger: log.Named("fx")}
			l.UseLogLevel(zap.DebugLevel)
			return l
		}),
	)

	app.Run()
}
