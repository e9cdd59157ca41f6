// ABOUTME: Entry point for the actor-gateway routing server
// ABOUTME: Serves worker streams and offers health, connection and token helper commands

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/actor-gateway/internal/auth"
	"github.com/2389/actor-gateway/internal/config"
	"github.com/2389/actor-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
            _                                  _
  __ _  ___| |_ ___  _ __       __ _  __ _| |_ _____      ____ _ _   _
 / _' |/ __| __/ _ \| '__|____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| (_| | (__| || (_) | | |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 \__,_|\___|\__\___/|_|        \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                               |___/                             |___/
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: actor-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                        Start the gateway server")
		fmt.Println("  health                       Check gateway health")
		fmt.Println("  connections                  List connected workers")
		fmt.Println("  token --principal NAME ...   Issue a worker token")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	case "connections":
		err = runConnections(ctx)
	case "token":
		err = runToken(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, falling back to defaults when none exists.
func loadConfig() (*config.Config, string, error) {
	path := config.DefaultPath()
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), "(defaults)", nil
	}
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Gateway:   %s\n", cfg.Gateway.ID)
	green.Print("    ▶ ")
	fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	if cfg.Server.HTTPAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Cluster:   ")
	cyan.Print(cfg.Cluster.Backend)
	switch {
	case cfg.NATS.Embedded:
		gray.Print(" (embedded nats)")
	case cfg.NATS.URL != "":
		gray.Printf(" (nats %s)", cfg.NATS.URL)
	}
	fmt.Println()
	if cfg.Auth.JWTSecret == "" {
		yellow.Print("    ! ")
		fmt.Println("Auth:      disabled")
	}
	fmt.Println()

	logger.Info("starting actor-gateway",
		"config", configPath,
		"gateway_id", cfg.Gateway.ID,
		"grpc_addr", cfg.Server.GRPCAddr,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func httpGet(ctx context.Context, cfg *config.Config, path string) (*http.Response, error) {
	if cfg.Server.HTTPAddr == "" {
		return nil, errors.New("http server is disabled in config")
	}
	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return http.DefaultClient.Do(req)
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	resp, err := httpGet(ctx, cfg, "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runConnections(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	resp, err := httpGet(ctx, cfg, "/api/connections")
	if err != nil {
		return fmt.Errorf("listing connections failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out gateway.ConnectionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	printConnections(os.Stdout, &out)
	return nil
}

func printConnections(w io.Writer, out *gateway.ConnectionsResponse) {
	bold := color.New(color.Bold)
	gray := color.New(color.FgHiBlack)

	bold.Fprintf(w, "gateway %s", out.GatewayID)
	gray.Fprintf(w, "  %d workers, %d placements\n", len(out.Connections), out.Placements)
	for _, c := range out.Connections {
		fmt.Fprintf(w, "  %s", c.ID)
		if c.Principal != "" {
			gray.Fprintf(w, " (%s)", c.Principal)
		}
		fmt.Fprintf(w, "  types=%s pending=%d since=%s\n",
			strings.Join(c.AgentTypes, ","), c.Pending, c.ConnectedAt.Format(time.RFC3339))
	}
}

// runToken issues a JWT a worker presents as its bearer token.
//
//	actor-gateway token --principal worker-1 --types echo,orders --ttl 720h
func runToken(args []string) error {
	flags := flag.NewFlagSet("token", flag.ContinueOnError)
	principal := flags.String("principal", "", "principal the token identifies (required)")
	types := flags.String("types", "", "comma separated agent types the worker may host; empty allows all")
	ttl := flags.Duration("ttl", 30*24*time.Hour, "token lifetime")
	if err := flags.Parse(args); err != nil {
		return err
	}

	name := strings.TrimSpace(*principal)
	if name == "" {
		return errors.New("--principal flag is required")
	}
	if *ttl <= 0 {
		return errors.New("--ttl must be positive")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}

	var agentTypes []string
	for _, t := range strings.Split(*types, ",") {
		if t = strings.TrimSpace(t); t != "" {
			agentTypes = append(agentTypes, t)
		}
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(name, *ttl, agentTypes...)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}
