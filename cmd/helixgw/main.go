// Command helixgw maintains a persistent connection to the Helix gateway:
// it resolves configuration and the auth token, optionally launches a local
// gateway process in development mode, and logs the messages and status
// transitions the connection surfaces.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rodcoding123/helix-gateway/internal/adapter/gateway"
	"github.com/rodcoding123/helix-gateway/internal/domain"
	"github.com/rodcoding123/helix-gateway/internal/infra/config"
	"github.com/rodcoding123/helix-gateway/internal/infra/logger"
	"github.com/rodcoding123/helix-gateway/internal/infra/token"
	"github.com/rodcoding123/helix-gateway/internal/infra/tracer"
	"github.com/rodcoding123/helix-gateway/internal/usecase/eventbus"
	"github.com/rodcoding123/helix-gateway/internal/usecase/launcher"
)

func main() {
	configPath := flag.String("config", "helixgw.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	bus := eventbus.New(log)
	defer bus.Close()

	authToken := cfg.Gateway.Token
	if authToken == "" {
		dir, err := token.DefaultDir()
		if err != nil {
			return err
		}
		authToken, err = token.NewStore(dir, log).GetOrCreate()
		if err != nil {
			return err
		}
	}

	url := cfg.Gateway.ResolveURL(log)

	// Development convenience: run the gateway locally when configured.
	if cfg.Launcher.Enabled && cfg.Gateway.Mode == "development" {
		l := launcher.New(launcher.Config{
			Command: cfg.Launcher.Command,
			Args:    cfg.Launcher.Args,
			WorkDir: cfg.Launcher.WorkDir,
			Port:    cfg.Launcher.Port,
			Token:   authToken,
		}, bus, log)

		info, err := l.Start(ctx)
		if err != nil {
			return err
		}
		defer l.Stop(context.Background())
		url = info.URL
		log.Info("local gateway launched", "port", info.Port, "pid", info.PID)
	}

	client := gateway.NewClient(gateway.Config{
		URL:            url,
		Token:          authToken,
		Instance:       cfg.Gateway.Instance,
		ClientID:       cfg.Gateway.ClientID,
		ClientName:     cfg.Gateway.ClientName,
		Mode:           cfg.Gateway.Mode,
		Role:           cfg.Gateway.Role,
		Scopes:         cfg.Gateway.Scopes,
		ConnectTimeout: cfg.Gateway.ConnectTimeout,
		RequestTimeout: cfg.Gateway.RequestTimeout,
		TickInterval:   cfg.Gateway.TickInterval,
		ReconnectBase:  cfg.Gateway.ReconnectBase,
		MaxReconnects:  cfg.Gateway.MaxReconnects,
		Callbacks: gateway.Callbacks{
			OnMessage: func(msg domain.GatewayMessage) {
				bus.Publish(ctx, domain.NewEvent(domain.EventGatewayMessage, msg))
				if msg.Type == domain.MessageHeartbeat {
					log.Debug("heartbeat", "ts", msg.Timestamp)
					return
				}
				log.Info("gateway message", "type", string(msg.Type), "content", msg.Content)
			},
			OnStatusChange: func(status domain.ConnectionStatus) {
				bus.Publish(ctx, domain.NewEvent(statusEventType(status), nil))
				log.Info("gateway status", "status", string(status))
			},
			OnError: func(ge *domain.GatewayError) {
				bus.Publish(ctx, domain.NewEvent(domain.EventGatewayError, ge.Error()))
				log.Warn("gateway error",
					"code", string(ge.Code),
					"retryable", ge.Retryable,
					"error", ge.Message,
				)
			},
		},
	}, log)

	if cfg.Monitor.Enabled {
		mon := gateway.NewHealthMonitor(gateway.MonitorConfig{
			BaseURL:            httpBase(url),
			Addr:               hostPort(url),
			Interval:           cfg.Monitor.Interval,
			ProbeTimeout:       cfg.Monitor.ProbeTimeout,
			UnhealthyThreshold: cfg.Monitor.UnhealthyThreshold,
			MaxRestarts:        cfg.Monitor.MaxRestarts,
		}, bus, log)
		go mon.Run(ctx)
		defer mon.Stop()
	}

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("initial connect: %w", err)
	}
	defer client.Disconnect()

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

func statusEventType(status domain.ConnectionStatus) domain.EventType {
	switch status {
	case domain.StatusConnecting:
		return domain.EventGatewayConnecting
	case domain.StatusConnected:
		return domain.EventGatewayConnected
	case domain.StatusError:
		return domain.EventGatewayStatusError
	default:
		return domain.EventGatewayDisconnected
	}
}

// httpBase converts a ws(s):// URL into its http(s):// sibling.
func httpBase(wsURL string) string {
	switch {
	case strings.HasPrefix(wsURL, "wss://"):
		return "https://" + trimQuery(strings.TrimPrefix(wsURL, "wss://"))
	case strings.HasPrefix(wsURL, "ws://"):
		return "http://" + trimQuery(strings.TrimPrefix(wsURL, "ws://"))
	default:
		return wsURL
	}
}

// hostPort extracts host:port from a ws(s):// URL.
func hostPort(wsURL string) string {
	s := strings.TrimPrefix(strings.TrimPrefix(wsURL, "wss://"), "ws://")
	s = trimQuery(s)
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return s
}

func trimQuery(s string) string {
	if i := strings.IndexByte(s, '?'); i >= 0 {
		return s[:i]
	}
	return s
}
