// Command payproc runs a standalone Manta Payment Processor: it loads a
// signing key and config, answers merchant orders with an in-memory catalog
// of merchants/destinations/supported cryptos (a demo stand-in for a real
// ledger integration), and serves Prometheus metrics if enabled.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/CedrosPay/manta/internal/config"
	"github.com/CedrosPay/manta/internal/lifecycle"
	"github.com/CedrosPay/manta/internal/logger"
	"github.com/CedrosPay/manta/internal/metrics"
	"github.com/CedrosPay/manta/pkg/manta/messages"
	"github.com/CedrosPay/manta/pkg/manta/payproc"
)

func main() {
	cfgPath := flag.String("config", "", "path to a YAML config file (optional, env overrides still apply)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("payproc: load config")
	}

	log.Logger = logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "manta-payproc",
		Environment: cfg.Logging.Environment,
	})

	registry := prometheus.NewRegistry()
	mtr := metrics.New(registry)

	resources := lifecycle.NewManager()
	defer resources.Close()

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Metrics.Address, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("payproc: metrics server failed")
			}
		}()
		resources.RegisterFunc("metrics-server", func() error { return srv.Close() })
	}

	demo := newDemoCatalog()

	p, err := payproc.New(cfg,
		payproc.WithMetrics(mtr),
		payproc.WithLogger(log.Logger),
		payproc.WithGetMerchant(demo.getMerchant),
		payproc.WithGetDestinations(demo.getDestinations),
		payproc.WithGetSupportedCryptos(demo.getSupportedCryptos),
		payproc.WithOnProcessedOrder(func(txid int64, order messages.MerchantOrderRequest, ack messages.AckMessage) {
			log.Info().Int64("txid", txid).Str("session_id", order.SessionID).Str("status", ack.Status.String()).Msg("payproc: order processed")
		}),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("payproc: construct processor")
	}
	resources.Register("payproc", p)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("broker", cfg.Broker.Host).Int("port", cfg.Broker.Port).Msg("payproc: starting")
	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("payproc: run")
	}
}

// demoCatalog is a fixed, in-memory stand-in for the merchant/ledger
// integration a real deployment would plug in via payproc.Option.
type demoCatalog struct {
	merchant     messages.Merchant
	destinations []messages.Destination
	supported    messages.CryptoSet
}

func newDemoCatalog() *demoCatalog {
	return &demoCatalog{
		merchant: messages.Merchant{Name: "Demo Merchant"},
		destinations: []messages.Destination{
			{DestinationAddress: "bc1qdemoaddress", CryptoCurrency: "btc"},
			{DestinationAddress: "0xDemoEthAddress", CryptoCurrency: "eth"},
		},
		supported: messages.NewCryptoSet("btc", "eth"),
	}
}

func (d *demoCatalog) getMerchant(appID string) (messages.Merchant, error) {
	return d.merchant, nil
}

func (d *demoCatalog) getDestinations(appID string, order messages.MerchantOrderRequest) ([]messages.Destination, error) {
	out := make([]messages.Destination, len(d.destinations))
	for i, dest := range d.destinations {
		dest.Amount = order.Amount
		out[i] = dest
	}
	return out, nil
}

func (d *demoCatalog) getSupportedCryptos(appID string, order messages.MerchantOrderRequest) (messages.CryptoSet, error) {
	return d.supported, nil
}
