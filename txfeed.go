package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devexperts/QD-sub016/admin"
	"github.com/devexperts/QD-sub016/cfg"
	"github.com/devexperts/QD-sub016/feed"
	"github.com/devexperts/QD-sub016/feed/source"
	"github.com/devexperts/QD-sub016/model"
	"github.com/devexperts/QD-sub016/publisher"
	_ "github.com/devexperts/QD-sub016/publisher/sink"
	_ "github.com/devexperts/QD-sub016/publisher/transformer"
	"github.com/devexperts/QD-sub016/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Payload is the event body carried through the daemon: whatever map the
// upstream encoder produced
type Payload = map[string]any

const (
	statsInterval   = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	flag.Parse()

	if err := cfg.Load(*cfg.ConfigPathFlag); err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	setupLogging()

	log.Info().Msg("txfeed - indexed event transaction feed")
	telemetry.InitializeTelemetry()
	if cfg.Config.Prometheus.Enabled {
		telemetry.InitMetrics()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("txfeed stopped with error")
	}
	log.Info().Msg("txfeed stopped")
}

func setupLogging() {
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}
}

func run(ctx context.Context) error {
	hub := feed.NewHub[Payload]()
	defer hub.Close()

	var registry *publisher.Registry
	if len(cfg.Config.Sinks) > 0 {
		var err error
		registry, err = publisher.NewRegistry(publisher.RegistryConfig{
			DataDir:     cfg.Config.DataDir,
			NodeID:      cfg.Config.NodeID,
			SinkConfigs: cfg.Config.Sinks,
		})
		if err != nil {
			return fmt.Errorf("failed to create publisher: %w", err)
		}
		if err := registry.Start(); err != nil {
			return fmt.Errorf("failed to start publisher: %w", err)
		}
		defer registry.Stop()
	}

	var cursors admin.CursorSource
	if registry != nil {
		cursors = registry
	}
	handlers := admin.NewHandlers(cursors)

	collector := telemetry.NewMetricsCollector(statsInterval)
	models, err := buildModels(hub, registry, handlers, collector)
	defer closeModels(models)
	if err != nil {
		return err
	}
	collector.Start()
	defer collector.Stop()

	sources, err := source.OpenAll[Payload](cfg.Config.Sources, hub)
	if err != nil {
		return fmt.Errorf("failed to open sources: %w", err)
	}
	defer source.CloseAll(sources)

	if cfg.Config.Admin.Enabled {
		srv := startHTTP(handlers)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Admin server shutdown failed")
			}
		}()
	}

	log.Info().
		Int("symbols", len(cfg.Config.Model.Symbols)).
		Int("sources", len(sources)).
		Int("sinks", len(cfg.Config.Sinks)).
		Str("data_dir", cfg.Config.DataDir).
		Msg("txfeed started")

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	return nil
}

type closer interface {
	Close()
}

type closerFunc func()

func (f closerFunc) Close() { f() }

// buildModels creates one transaction model (and optionally one list model)
// per configured symbol, all attached to hub
func buildModels(
	hub *feed.Hub[Payload],
	registry *publisher.Registry,
	handlers *admin.Handlers,
	collector *telemetry.MetricsCollector,
) ([]closer, error) {
	mc := cfg.Config.Model
	var models []closer

	for _, symbol := range mc.Symbols {
		txModel, err := model.NewTxModel(model.TxModelConfig[Payload]{
			Feed:              hub,
			Symbol:            symbol,
			Sources:           mc.Sources,
			Listener:          txListener(registry, symbol),
			EventsBatchLimit:  mc.EventsBatchLimit,
			AggregationPeriod: mc.AggregationPeriod(),
			ErrorHandler:      modelErrorHandler(symbol),
		})
		if err != nil {
			return models, fmt.Errorf("failed to create transaction model for %s: %w", symbol, err)
		}
		models = append(models, closerFunc(txModel.Close))
		collector.Register("tx", txModel)

		if mc.OrderBook {
			book, err := model.NewOrderBook(model.OrderBookConfig[Payload]{
				Feed:              hub,
				Symbol:            symbol,
				Sources:           mc.Sources,
				Describe:          describeOrder,
				LotSize:           mc.LotSize,
				EventsBatchLimit:  mc.EventsBatchLimit,
				AggregationPeriod: mc.AggregationPeriod(),
				ErrorHandler:      modelErrorHandler(symbol),
			})
			if err != nil {
				return models, fmt.Errorf("failed to create order book for %s: %w", symbol, err)
			}
			models = append(models, closerFunc(func() {
				if err := book.Close(); err != nil {
					log.Warn().Err(err).Str("symbol", symbol).Msg("Order book close notification failed")
				}
			}))
			collector.Register("book", book)
		}

		if !mc.ListView {
			continue
		}

		listModel, err := model.NewListModel(model.ListModelConfig[Payload]{
			Feed:              hub,
			Symbol:            symbol,
			Sources:           mc.Sources,
			SizeLimit:         mc.SizeLimit,
			EventsBatchLimit:  mc.EventsBatchLimit,
			AggregationPeriod: mc.AggregationPeriod(),
			ErrorHandler:      modelErrorHandler(symbol),
		})
		if err != nil {
			return models, fmt.Errorf("failed to create list model for %s: %w", symbol, err)
		}
		models = append(models, closerFunc(func() {
			if err := listModel.Close(); err != nil {
				log.Warn().Err(err).Str("symbol", symbol).Msg("List model close notification failed")
			}
		}))

		handlers.Register(admin.ListView(listModel))
		collector.Register("list", listModel)
	}

	return models, nil
}

func closeModels(models []closer) {
	for _, m := range models {
		m.Close()
	}
}

// txListener journals transactions when sinks are configured and logs them otherwise
func txListener(registry *publisher.Registry, symbol string) model.TxListener[Payload] {
	if registry != nil {
		return publisher.TxListener[Payload](registry, symbol)
	}
	return func(tx model.Transaction[Payload]) error {
		log.Debug().
			Str("symbol", symbol).
			Int("source", tx.SourceID).
			Str("type", tx.Kind()).
			Int("events", tx.Len()).
			Msg("Transaction")
		return nil
	}
}

func modelErrorHandler(symbol string) model.ErrorHandler {
	return func(err error) {
		log.Error().Err(err).Str("symbol", symbol).Msg("Model listener failed")
	}
}

func startHTTP(handlers *admin.Handlers) *http.Server {
	mux := http.NewServeMux()
	admin.RegisterRoutes(mux, handlers, cfg.Config.Admin.Secret)
	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Config.Admin.Address, cfg.Config.Admin.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("address", addr).Msg("Admin HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Admin HTTP server failed")
		}
	}()
	return srv
}
