// Command wallet runs a demo Manta Wallet: given a manta:// URL (as printed
// by cmd/store), it fetches the PP's certificate and a signed payment
// request, verifies the signature, then reports a (fake) on-chain
// transaction hash back to the PP.
package main

import (
	"context"
	"flag"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/CedrosPay/manta/internal/config"
	mantacrypto "github.com/CedrosPay/manta/internal/crypto"
	"github.com/CedrosPay/manta/internal/logger"
	"github.com/CedrosPay/manta/internal/metrics"
	"github.com/CedrosPay/manta/pkg/manta/messages"
	"github.com/CedrosPay/manta/pkg/manta/wallet"
)

func main() {
	cfgPath := flag.String("config", "", "path to a YAML config file (optional, env overrides still apply)")
	url := flag.String("url", "", "manta:// URL printed by the Store client (required)")
	crypto := flag.String("crypto", "all", "crypto currency to request a quote for")
	txHash := flag.String("tx", "", "on-chain transaction hash to report; empty skips SendPayment")
	flag.Parse()

	if *url == "" {
		log.Fatal().Msg("wallet: -url is required")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("wallet: load config")
	}

	log.Logger = logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "manta-wallet",
		Environment: cfg.Logging.Environment,
	})

	mtr := metrics.New(prometheus.NewRegistry())
	c, err := wallet.Factory(cfg, *url, wallet.WithMetrics(mtr), wallet.WithLogger(log.Logger))
	if err != nil {
		log.Fatal().Err(err).Msg("wallet: parse url")
	}
	defer c.Close()

	ctx := context.Background()

	cert, err := c.GetCertificate(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("wallet: get certificate")
	}
	log.Info().Str("subject", cert.Subject.CommonName).Msg("wallet: received certificate")

	envelope, err := c.GetPaymentRequest(ctx, *crypto)
	if err != nil {
		log.Fatal().Err(err).Msg("wallet: get payment request")
	}
	if !mantacrypto.Verify(cert, []byte(envelope.Message), envelope.Signature) {
		log.Fatal().Msg("wallet: payment request signature did not verify")
	}
	pr, err := envelope.Unpack()
	if err != nil {
		log.Fatal().Err(err).Msg("wallet: unpack payment request")
	}
	log.Info().
		Str("merchant", pr.Merchant.Name).
		Str("amount", pr.Amount.String()).
		Strs("destinations", destinationAddresses(pr.Destinations)).
		Msg("wallet: received payment request")

	if *txHash == "" {
		return
	}

	if err := c.SendPayment(ctx, *txHash, *crypto); err != nil {
		log.Fatal().Err(err).Msg("wallet: send payment")
	}
	ack, err := c.NextAck(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("wallet: await ack")
	}
	log.Info().Str("status", ack.Status.String()).Msg("wallet: payment acknowledged")
}

func destinationAddresses(destinations []messages.Destination) []string {
	out := make([]string, len(destinations))
	for i, d := range destinations {
		out[i] = d.DestinationAddress
	}
	return out
}
