package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/skdvlpr/gomercatocrm/internal/config"
	"github.com/skdvlpr/gomercatocrm/internal/console"
	"github.com/skdvlpr/gomercatocrm/internal/lock"
	"github.com/skdvlpr/gomercatocrm/internal/logging"
	"github.com/skdvlpr/gomercatocrm/internal/session"
	"github.com/skdvlpr/gomercatocrm/internal/syncagent"
)

func main() {
	configFlag := flag.String("config", session.ConfigPath(), "config file")
	envFlag := flag.String("env", session.EnvPath(), ".env file read before CRMCHAT_* variables")
	urlFlag := flag.String("url", "", "daemon base URL; when set no local daemon is started")
	flag.Parse()

	cfg, err := config.Resolve(*configFlag, *envFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	layout := session.NewLayout(cfg.DataDir)

	base := *urlFlag
	if base == "" {
		// Probe daemon health; auto-start if needed.
		if !probeDaemon(layout.SocketPath()) {
			fmt.Fprintln(os.Stderr, "daemon not running, starting...")
			if err := startDaemon(*configFlag, *envFlag, cfg.DataDir); err != nil {
				fmt.Fprintf(os.Stderr, "failed to start daemon: %v\n", err)
				os.Exit(1)
			}
			if !waitForDaemon(layout.SocketPath(), 10*time.Second) {
				fmt.Fprintln(os.Stderr, "daemon did not become ready")
				os.Exit(1)
			}
		}
		base = cfg.HTTP.Listen
		if info, err := lock.Read(layout.LockPath()); err == nil && info.Listen != "" {
			base = info.Listen
		}
	}

	logger, err := logging.NewFile(layout.ConsoleLogPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cc := syncagent.ClientConfig{BaseURL: base}
	if len(cfg.HTTP.BasicAuth) > 0 {
		cc.Username, cc.Password, _ = strings.Cut(cfg.HTTP.BasicAuth[0], ":")
	}

	s := cfg.Sync
	app := console.New(syncagent.NewClient(cc), console.Options{
		Session: cfg.Bridge.SessionID,
		Sync: syncagent.Config{
			ChatPoll:            s.ChatPollInterval.Duration,
			ListPoll:            s.ListPollInterval.Duration,
			ResubscribeDelay:    s.ResubscribeDelay.Duration,
			ResubscribeAttempts: s.ResubscribeMax,
			MessageLimit:        s.MessageLimit,
		},
		LoginPoll:  s.LoginPollInterval.Duration,
		LoginTries: s.LoginPollMax,
		Logger:     logger,
	})
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// probeDaemon checks if a daemon is running and responsive on the socket.
func probeDaemon(socketPath string) bool {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return false
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	return err == nil && resp.Status == healthpb.HealthCheckResponse_SERVING
}

func startDaemon(configPath, envPath, dataDir string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	crmchatd := filepath.Join(filepath.Dir(executable), "crmchatd")
	if _, err := os.Stat(crmchatd); err != nil {
		crmchatd = "crmchatd"
	}

	args := []string{"--config", configPath, "--env", envPath}
	if dataDir != "" {
		args = append(args, "--data-dir", dataDir)
	}
	cmd := exec.Command(crmchatd, args...)
	// Inherit stderr so daemon startup errors are visible.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

// waitForDaemon polls the daemon with a real gRPC health check (not just socket connect).
func waitForDaemon(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if probeDaemon(socketPath) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}
