// NAO voice assistant: wake on a phrase or touch, answer spoken questions,
// say goodbye on a stop phrase or hand touch.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-nao/internal/config"
	"github.com/teslashibe/go-nao/internal/log"
	"github.com/teslashibe/go-nao/pkg/completion"
	"github.com/teslashibe/go-nao/pkg/metrics"
	"github.com/teslashibe/go-nao/pkg/robot"
	"github.com/teslashibe/go-nao/pkg/stt"
	"github.com/teslashibe/go-nao/pkg/turn"
	"github.com/teslashibe/go-nao/pkg/web"
)

func main() {
	cfg := parseFlags()
	log.Init(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		fatal("configuration error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		fatal("session failed", err)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	link, err := robot.Dial(ctx, robot.DefaultLinkConfig(cfg.BridgeURL()))
	if err != nil {
		return err
	}
	defer link.Close()
	log.Info("connected to robot", "url", cfg.BridgeURL())

	transcriber, err := stt.NewGoogle(ctx, stt.GoogleConfig{
		Language:        cfg.Language,
		APIKey:          cfg.GoogleAPIKey,
		CredentialsFile: cfg.GoogleCredentials,
	})
	if err != nil {
		return err
	}

	provider, err := newProvider(ctx, cfg)
	if err != nil {
		return err
	}
	log.Info("completion provider ready", "provider", provider.Name())

	m := metrics.New("nao", nil)
	opts := []turn.Option{turn.WithMetrics(m)}
	if cfg.DashboardPort != "" {
		dash := web.NewServer(":"+cfg.DashboardPort, m)
		dash.StartAsync(ctx)
		opts = append(opts, turn.WithObserver(dash))
	}

	ctrl := turn.New(turn.FromConfig(cfg), link, transcriber, provider, opts...)
	return ctrl.Run(ctx)
}

// newProvider chains OpenAI with Gemini as a fallback, using whichever
// keys are configured.
func newProvider(ctx context.Context, cfg config.Config) (completion.Provider, error) {
	var providers []completion.Provider

	if cfg.OpenAIKey != "" {
		client, err := completion.NewClient(
			completion.WithAPIKey(cfg.OpenAIKey),
			completion.WithBaseURL(cfg.OpenAIBaseURL),
			completion.WithModel(cfg.Model),
			completion.WithMaxTokens(cfg.MaxTokens),
			completion.WithTimeout(cfg.RequestTimeout),
		)
		if err != nil {
			return nil, err
		}
		providers = append(providers, client)
	}

	if cfg.GoogleAPIKey != "" && cfg.FallbackModel != "" {
		gemini, err := completion.NewGemini(ctx,
			completion.WithAPIKey(cfg.GoogleAPIKey),
			completion.WithModel(cfg.FallbackModel),
			completion.WithMaxTokens(cfg.MaxTokens),
			completion.WithTimeout(cfg.RequestTimeout),
		)
		if err != nil {
			log.Warn("gemini fallback unavailable", "error", err)
		} else {
			providers = append(providers, gemini)
		}
	}

	if len(providers) == 1 {
		return providers[0], nil
	}
	return completion.NewChain(providers...)
}

func fatal(msg string, err error) {
	kind := turn.Classify(err)
	log.Error(msg, "error", err, "kind", kind.String())
	if errors.Is(err, context.Canceled) {
		os.Exit(130)
	}
	os.Exit(1)
}

// parseFlags layers command-line flags over the file and environment.
func parseFlags() config.Config {
	configPath := flag.String("config", "", "YAML configuration file")
	envFile := flag.String("env", ".env", "dotenv file with credentials")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	robotIP := flag.String("robot-ip", "", "Robot IP address (overrides NAO_IP env var)")
	dashboard := flag.String("dashboard", "", "Dashboard port, empty to disable")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		log.Init("info")
		fatal("configuration error", err)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	if *robotIP != "" {
		cfg.RobotIP = *robotIP
	}
	if *dashboard != "" {
		cfg.DashboardPort = *dashboard
	}
	return cfg
}
