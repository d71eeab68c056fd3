package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vango-dev/realm/internal/config"
	"github.com/vango-dev/realm/pkg/client"
	"github.com/vango-dev/realm/pkg/protocol"
	"github.com/vango-dev/realm/pkg/server"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// startApp runs a composed server on a loopback port with the admin
// server disabled.
func startApp(t *testing.T, mutate func(*config.Config)) (*app, string) {
	t.Helper()

	cfg := config.New()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Admin.Addr = "off"
	cfg.Scheduler.TickInterval = config.Duration(5 * time.Millisecond)
	if mutate != nil {
		mutate(cfg)
	}

	a, err := newApp(cfg, testLogger(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("run() error = %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("run() did not return after cancel")
		}
	})

	deadline := time.Now().Add(3 * time.Second)
	for a.listener.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("listener never bound")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return a, a.listener.Addr().String()
}

func connect(t *testing.T, addr, name string) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, addr, &client.Config{ClientName: name})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	if _, err := c.Handshake(ctx); err != nil {
		t.Fatalf("Handshake() error = %v", err)
	}
	return c
}

// next returns the next packet of type P, skipping heartbeat pings and
// anything else in between.
func next[P protocol.Packet](t *testing.T, c *client.Client) P {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		p, err := c.Receive(ctx)
		if err != nil {
			var zero P
			t.Fatalf("Receive() waiting for %T: %v", zero, err)
		}
		if got, ok := p.(P); ok {
			return got
		}
	}
}

func login(t *testing.T, c *client.Client, name string) *protocol.LoginResult {
	t.Helper()
	if err := c.Send(&protocol.LoginRequest{Username: name, Password: "secret"}); err != nil {
		t.Fatalf("Send(LoginRequest) error = %v", err)
	}
	return next[*protocol.LoginResult](t, c)
}

func TestLobbyLogin(t *testing.T) {
	a, addr := startApp(t, nil)

	alice := connect(t, addr, "alice-client")
	if res := login(t, alice, "alice"); res.Status != protocol.LoginOK {
		t.Fatalf("login status = %v", res.Status)
	}

	tests := []struct {
		name     string
		username string
		want     protocol.LoginStatus
	}{
		{name: "empty_username", username: "", want: protocol.LoginInvalidCredentials},
		{name: "name_taken", username: "alice", want: protocol.LoginAlreadyOnline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := connect(t, addr, "other")
			if res := login(t, c, tt.username); res.Status != tt.want {
				t.Errorf("login status = %v, want %v", res.Status, tt.want)
			}
		})
	}

	if res := login(t, alice, "alice-again"); res.Status != protocol.LoginAlreadyOnline {
		t.Errorf("second login on one connection = %v", res.Status)
	}
	if got := a.lobby.Online(); got != 1 {
		t.Errorf("Online() = %d, want 1", got)
	}

	for _, info := range a.listener.Connections() {
		if info.ClientName == "alice-client" && info.State != server.StateLoggedIn.String() {
			t.Errorf("alice state = %s", info.State)
		}
	}
}

func TestLobbyChatAndLogout(t *testing.T) {
	a, addr := startApp(t, nil)

	alice := connect(t, addr, "a")
	bob := connect(t, addr, "b")
	lurker := connect(t, addr, "c")
	login(t, alice, "alice")
	login(t, bob, "bob")

	if err := alice.Send(&protocol.ChatMessage{Text: "hello"}); err != nil {
		t.Fatalf("Send(ChatMessage) error = %v", err)
	}
	for _, c := range []*client.Client{alice, bob} {
		msg := next[*protocol.ChatMessage](t, c)
		if msg.Channel != "global" || msg.Text != "alice: hello" {
			t.Errorf("chat = %+v", msg)
		}
	}

	// Session traffic is not delivered to a connection that never logged in.
	if err := lurker.Send(&protocol.ChatMessage{Text: "ignored"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if err := bob.Send(&protocol.Logout{}); err != nil {
		t.Fatalf("Send(Logout) error = %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for a.lobby.Online() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if a.lobby.Online() != 1 {
		t.Errorf("Online() = %d after logout, want 1", a.lobby.Online())
	}

	alice.Close()
	deadline = time.Now().Add(3 * time.Second)
	for a.lobby.Online() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if a.lobby.Online() != 0 {
		t.Error("name not released after disconnect")
	}
}

func TestHeartbeat(t *testing.T) {
	a, addr := startApp(t, func(c *config.Config) {
		c.Scheduler.HeartbeatTicks = 2
	})
	c := connect(t, addr, "hb")

	ping := next[*protocol.Ping](t, c)
	if ping.SentAt == 0 {
		t.Errorf("heartbeat ping = %+v", ping)
	}

	snap := a.root.Snapshot()
	if len(snap.Children) != 1 || snap.Children[0].Name != "heartbeat" {
		t.Errorf("scheduler tree = %+v", snap)
	}
}

func TestHeartbeatSkipsPeersBeforeHandshake(t *testing.T) {
	a, addr := startApp(t, func(c *config.Config) {
		c.Scheduler.HeartbeatTicks = 2
	})

	raw, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("net.Dial() error = %v", err)
	}
	defer raw.Close()

	deadline := time.Now().Add(3 * time.Second)
	for a.listener.Count() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("raw connection never adopted")
		}
		time.Sleep(5 * time.Millisecond)
	}

	c := connect(t, addr, "hb")
	next[*protocol.Ping](t, c)
	next[*protocol.Ping](t, c)

	_ = raw.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 64)
	n, err := raw.Read(buf)
	var ne net.Error
	if n != 0 || !errors.As(err, &ne) || !ne.Timeout() {
		t.Errorf("peer in Open received %d bytes (err %v)", n, err)
	}
}

func TestHeartbeatDisabled(t *testing.T) {
	a, _ := startApp(t, func(c *config.Config) {
		c.Scheduler.HeartbeatTicks = -1
	})
	if a.heartbeat != nil || len(a.root.Children()) != 0 {
		t.Error("heartbeat scheduled although disabled")
	}
}

func TestProbeCommand(t *testing.T) {
	_, addr := startApp(t, nil)

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"probe", "--addr", addr, "--count", "2"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("probe error = %v", err)
	}

	for _, want := range []string{"Connected to realm", "ping 1:", "ping 2:", "rtt min/avg/max"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("probe output missing %q:\n%s", want, out.String())
		}
	}
}

func TestProbeRejectsCount(t *testing.T) {
	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"probe", "--count", "0"})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "R301") {
		t.Errorf("probe --count=0 error = %v", err)
	}
}

func TestBenchCommand(t *testing.T) {
	_, addr := startApp(t, nil)
	jsonPath := filepath.Join(t.TempDir(), "report.json")

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"bench", "--addr", addr, "--clients", "3", "--duration", "300ms", "--rate", "20", "--json", jsonPath})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("bench error = %v", err)
	}

	if !strings.Contains(out.String(), "Clients: 3 (3 connected)") {
		t.Errorf("bench output:\n%s", out.String())
	}
	if _, err := os.Stat(jsonPath); err != nil {
		t.Errorf("JSON report not written: %v", err)
	}
}

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	tests := []struct {
		name string
		p    float64
		want time.Duration
	}{
		{name: "zero", p: 0, want: 1},
		{name: "median", p: 0.5, want: 5},
		{name: "p95", p: 0.95, want: 10},
		{name: "one", p: 1, want: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := percentile(sorted, tt.p); got != tt.want {
				t.Errorf("percentile(%v) = %v, want %v", tt.p, got, tt.want)
			}
		})
	}
	if percentile(nil, 0.5) != 0 {
		t.Error("percentile(nil) != 0")
	}
}

func TestServeFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.ConfigFileName)
	content := `{"server":{"port":9000,"serverName":"from-file"},"log":{"level":"warn"}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	var f serveFlags
	cmd := f.command()
	if err := cmd.Flags().Parse([]string{"--config", path, "--port", "9100", "--log-format", "json"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg, err := f.load(cmd)
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Port = %d, want flag value 9100", cfg.Server.Port)
	}
	if cfg.Server.ServerName != "from-file" || cfg.Log.Level != "warn" || cfg.Log.Format != "json" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{name: "text_info", level: "info", format: "text"},
		{name: "json_debug", level: "DEBUG", format: "json"},
		{name: "bad_level", level: "loud", format: "text", wantErr: true},
		{name: "bad_format", level: "info", format: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := newLogger(&buf, tt.level, tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("newLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			logger.Info("hello", "conn_id", 1)
			if !strings.Contains(buf.String(), "hello") {
				t.Errorf("log output = %q", buf.String())
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--short"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version error = %v", err)
	}
	if strings.TrimSpace(out.String()) != version {
		t.Errorf("version --short = %q", out.String())
	}
}

func TestRunReportsBindFailure(t *testing.T) {
	_, addr := startApp(t, nil)

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)

	cfg := config.New()
	cfg.Server.Host = host
	cfg.Server.Port = port
	cfg.Admin.Addr = "off"

	b, err := newApp(cfg, testLogger(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	err = b.run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "R201") {
		t.Errorf("run() on a bound port error = %v", err)
	}
	if errors.Is(err, context.Canceled) {
		t.Error("bind failure reported as cancellation")
	}
}
