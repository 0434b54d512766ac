package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/skdvlpr/gomercatocrm/internal/config"
	"github.com/skdvlpr/gomercatocrm/internal/daemon"
	"github.com/skdvlpr/gomercatocrm/internal/jid"
	"github.com/skdvlpr/gomercatocrm/internal/lock"
	"github.com/skdvlpr/gomercatocrm/internal/session"
	"github.com/skdvlpr/gomercatocrm/internal/syncagent"
)

func main() {
	configFlag := flag.String("config", session.ConfigPath(), "config file")
	envFlag := flag.String("env", session.EnvPath(), ".env file read before CRMCHAT_* variables")
	urlFlag := flag.String("url", "", "daemon base URL (defaults to the configured listen address)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	cfg, err := config.Resolve(*configFlag, *envFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	layout := session.NewLayout(cfg.DataDir)
	c := newClient(cfg, layout, *urlFlag)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "health":
		cmdHealth(ctx, layout, *jsonFlag)
	case "login":
		cmdLogin(ctx, c)
	case "logout":
		exitOn(c.Logout(ctx))
		fmt.Println("Session terminated.")
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: crmchatctl send <chat-id|phone> <text>")
			os.Exit(1)
		}
		cmdSend(ctx, c, args[1], strings.Join(args[2:], " "), *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: crmchatctl [--config <path>] [--url <base>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status              Show bridge session status")
	fmt.Fprintln(os.Stderr, "  health              Query the daemon health socket")
	fmt.Fprintln(os.Stderr, "  login               Start the session and print the pairing QR")
	fmt.Fprintln(os.Stderr, "  logout              Terminate the bridge session")
	fmt.Fprintln(os.Stderr, "  send <chat> <text>  Send a text message")
}

// newClient targets the running daemon: the address recorded in its lock
// file wins over the configured one.
func newClient(cfg *config.Config, layout session.Layout, override string) *syncagent.Client {
	base := override
	if base == "" {
		base = cfg.HTTP.Listen
		if info, err := lock.Read(layout.LockPath()); err == nil && info.Listen != "" {
			base = info.Listen
		}
	}
	cc := syncagent.ClientConfig{BaseURL: base}
	if len(cfg.HTTP.BasicAuth) > 0 {
		cc.Username, cc.Password, _ = strings.Cut(cfg.HTTP.BasicAuth[0], ":")
	}
	return syncagent.NewClient(cc)
}

func cmdStatus(ctx context.Context, c *syncagent.Client, jsonOut bool) {
	st, err := c.Status(ctx)
	exitOn(err)
	if jsonOut {
		outputJSON(st)
		return
	}
	fmt.Printf("State:     %s\n", st.State)
	fmt.Printf("Bridge:    %s\n", st.BridgeState)
	fmt.Printf("Connected: %v\n", st.IsConnected)
	if st.Message != "" {
		fmt.Printf("Message:   %s\n", st.Message)
	}
}

func cmdHealth(ctx context.Context, layout session.Layout, jsonOut bool) {
	conn, err := grpc.NewClient(
		"unix://"+layout.SocketPath(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	exitOn(err)
	defer func() { _ = conn.Close() }()

	client := healthpb.NewHealthClient(conn)
	out := map[string]string{}
	for _, svc := range []string{"", daemon.HealthService} {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: svc})
		if err != nil {
			exitOn(fmt.Errorf("cannot reach daemon at %s: %w", layout.SocketPath(), err))
		}
		name := svc
		if name == "" {
			name = "daemon"
		}
		out[name] = resp.Status.String()
	}
	if jsonOut {
		outputJSON(out)
		return
	}
	fmt.Printf("Daemon: %s\n", out["daemon"])
	fmt.Printf("Bridge: %s\n", out[daemon.HealthService])
}

func cmdLogin(ctx context.Context, c *syncagent.Client) {
	token, err := c.Login(ctx)
	exitOn(err)
	if token == "" {
		qr, err := c.QRCode(ctx)
		exitOn(err)
		token = qr.Token
	}
	if token == "" {
		fmt.Println("No QR code pending; the session may already be paired.")
		return
	}
	q, err := qrcode.New(token, qrcode.Low)
	exitOn(err)
	fmt.Print(q.ToSmallString(false))
	fmt.Println("Scan with WhatsApp > Linked devices.")
}

func cmdSend(ctx context.Context, c *syncagent.Client, to, text string, jsonOut bool) {
	chatID := jid.ChatID(to)
	if chatID == "" {
		exitOn(fmt.Errorf("invalid chat or phone %q", to))
	}
	msg, err := c.Send(ctx, chatID, text, "")
	var apiErr *syncagent.APIError
	if errors.As(err, &apiErr) && apiErr.TempID != "" {
		exitOn(fmt.Errorf("%w (temp id %s)", err, apiErr.TempID))
	}
	exitOn(err)
	if jsonOut {
		outputJSON(msg)
		return
	}
	fmt.Printf("Sent %s to %s\n", msg.ExternalID, msg.ChatID)
}

func exitOn(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}
