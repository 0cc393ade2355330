// Command store runs a demo Manta Point-of-Sale: it starts one order
// against a PP and logs the status and URL of the initial ack, then exits.
package main

import (
	"context"
	"flag"

	"github.com/shopspring/decimal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/CedrosPay/manta/internal/config"
	"github.com/CedrosPay/manta/internal/logger"
	"github.com/CedrosPay/manta/internal/metrics"
	"github.com/CedrosPay/manta/pkg/manta/store"
)

func main() {
	cfgPath := flag.String("config", "", "path to a YAML config file (optional, env overrides still apply)")
	deviceID := flag.String("device", "demo-pos", "application/device id the PP routes orders under")
	amount := flag.String("amount", "10.00", "order amount")
	fiat := flag.String("fiat", "EUR", "fiat currency code")
	crypto := flag.String("crypto", "", "crypto currency code for legacy mode; empty selects Manta negotiation mode")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("store: load config")
	}

	log.Logger = logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "manta-store",
		Environment: cfg.Logging.Environment,
	})

	amt, err := decimal.NewFromString(*amount)
	if err != nil {
		log.Fatal().Err(err).Str("amount", *amount).Msg("store: invalid amount")
	}

	mtr := metrics.New(prometheus.NewRegistry())
	c := store.NewClient(cfg, *deviceID, store.WithMetrics(mtr), store.WithLogger(log.Logger))
	defer c.Close()

	ctx := context.Background()
	ack, err := c.MerchantOrderRequest(ctx, amt, *fiat, *crypto)
	if err != nil {
		log.Fatal().Err(err).Msg("store: merchant order request")
	}

	log.Info().
		Str("status", ack.Status.String()).
		Str("url", ack.URL).
		Msg("store: received initial ack")
}
