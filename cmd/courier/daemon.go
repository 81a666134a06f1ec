package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/oriys/courier/internal/circuitbreaker"
	"github.com/oriys/courier/internal/config"
	"github.com/oriys/courier/internal/exchange"
	"github.com/oriys/courier/internal/exchangestore"
	"github.com/oriys/courier/internal/kvstore"
	"github.com/oriys/courier/internal/logging"
	"github.com/oriys/courier/internal/messagestore"
	"github.com/oriys/courier/internal/pinger"
	"github.com/oriys/courier/internal/reactor"
	"github.com/oriys/courier/internal/registration"
	"github.com/oriys/courier/internal/transport"
)

const messageAPIVersion = "3.3"

// agent bundles the wired components a courier process needs, whether
// it's running the daemon loop or answering a one-shot CLI command.
type agent struct {
	cfg           *config.Config
	reactor       *reactor.Reactor
	persist       *kvstore.Store
	messageStore  *messagestore.Store
	exchangeStore *exchangestore.Store
	identity      *registration.Identity
	exchanger     *exchange.Exchange
	pinger        *pinger.Pinger
	registrar     *registration.Handler
	metricsReg    *prometheus.Registry
}

func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}

// buildAgent wires together persistence, the reactor, transport, and
// the three protocol components (exchange, pinger, registration) the
// way the original's broker plugin registry assembles them at startup.
func buildAgent(cfg *config.Config) (*agent, error) {
	logging.InitStructured(cfg.Logging.Format, cfg.Logging.Level)

	if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	persist, err := kvstore.Load(filepath.Join(cfg.Storage.DataPath, "courier.bpickle"))
	if err != nil {
		return nil, fmt.Errorf("load persistent store: %w", err)
	}

	registry := messagestore.NewRegistry()
	var storeOpts []messagestore.Option
	if cfg.Storage.DirectorySize > 0 {
		storeOpts = append(storeOpts, messagestore.WithDirectorySize(cfg.Storage.DirectorySize))
	}
	store, err := messagestore.New(persist, cfg.Storage.MessageStorePath, registry, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("open message store: %w", err)
	}

	exchangeStore, err := exchangestore.Open(cfg.Storage.ExchangeStorePath)
	if err != nil {
		return nil, fmt.Errorf("open exchange store: %w", err)
	}

	identity := registration.NewIdentity(persist,
		cfg.Registration.ComputerTitle,
		cfg.Registration.AccountName,
		cfg.Registration.RegistrationKey,
		cfg.Registration.Tags,
		cfg.Registration.AccessGroup,
	)

	r := reactor.New()

	tr := transport.New(cfg.Exchange.URL, messageAPIVersion)

	metricsReg := prometheus.NewRegistry()
	var exMetrics *exchange.Metrics
	if cfg.Metrics.Enabled {
		exMetrics = exchange.NewMetrics(metricsReg)
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		ErrorPct:       50,
		WindowDuration: 5 * time.Minute,
		OpenDuration:   30 * time.Second,
		HalfOpenProbes: 3,
	})

	exCfg := &exchange.Config{
		ExchangeInterval:       cfg.Exchange.Interval,
		UrgentExchangeInterval: cfg.Exchange.UrgentInterval,
		MaxMessages:            cfg.Exchange.MaxMessages,
	}
	ex := exchange.New(r, store, exchangeStore, tr, identity, exCfg, breaker, exMetrics)

	pingClient := pinger.NewClient()
	png := pinger.New(r, pingClient, cfg.Ping.URL, cfg.Ping.Interval, identity, ex)

	registrar := registration.New(identity, r, ex, store)

	return &agent{
		cfg:           cfg,
		reactor:       r,
		persist:       persist,
		messageStore:  store,
		exchangeStore: exchangeStore,
		identity:      identity,
		exchanger:     ex,
		pinger:        png,
		registrar:     registrar,
		metricsReg:    metricsReg,
	}, nil
}

func (a *agent) close() {
	a.exchangeStore.Close()
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the courier agent loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			a, err := buildAgent(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			var metricsServer *http.Server
			if cfg.Metrics.Enabled && cfg.Metrics.Addr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(a.metricsReg, promhttp.HandlerOpts{}))
				metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
				go func() {
					if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logging.Op().Error("metrics server failed", "error", err)
					}
				}()
				logging.Op().Info("metrics server started", "addr", cfg.Metrics.Addr)
			}

			a.pinger.Start()
			a.exchanger.Schedule(false, true)

			ctx, cancel := context.WithCancel(context.Background())
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				logging.Op().Info("shutdown signal received")
				cancel()
			}()

			logging.Op().Info("courier agent starting", "exchange_url", cfg.Exchange.URL, "data_path", cfg.Storage.DataPath)
			a.reactor.Run(ctx)

			if metricsServer != nil {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				metricsServer.Shutdown(shutdownCtx)
			}
			return nil
		},
	}
}
