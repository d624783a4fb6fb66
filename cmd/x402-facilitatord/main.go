// Command x402-facilitatord runs a payment facilitator for TRON networks:
// an HTTP service exposing verify, settle and fee-quote endpoints backed by
// a local signing key and a TronGrid node.
package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	x402 "github.com/open-aibank/x402-tron"
	x402http "github.com/open-aibank/x402-tron/http"
	exactfacilitator "github.com/open-aibank/x402-tron/mechanisms/tron/exact/facilitator"
	nativefacilitator "github.com/open-aibank/x402-tron/mechanisms/tron/nativeexact/facilitator"
	"github.com/open-aibank/x402-tron/metrics"
	signer "github.com/open-aibank/x402-tron/signers/tron"
	"github.com/open-aibank/x402-tron/tokens"
)

const settlementCacheTTL = 10 * time.Minute

type config struct {
	privateKey    string
	network       x402.Network
	trongridURL   string
	apiKey        string
	baseFee       int64
	allowedTokens []string
	listenAddr    string
}

func loadConfig(logger *zap.Logger) config {
	cfg := config{
		privateKey: os.Getenv("PRIVATE_KEY"),
		network:    x402.Network(envOr("NETWORK", "tron:3448148188")),
		listenAddr: envOr("LISTEN_ADDR", ":8090"),
	}
	if cfg.privateKey == "" {
		logger.Fatal("PRIVATE_KEY is required")
	}

	cfg.trongridURL = os.Getenv("TRONGRID_URL")
	cfg.apiKey = os.Getenv("TRONGRID_API_KEY")

	if raw := os.Getenv("BASE_FEE"); raw != "" {
		fee, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			logger.Fatal("BASE_FEE must be an integer", zap.String("value", raw))
		}
		cfg.baseFee = fee
	}

	// ALLOWED_TOKENS is a comma-separated whitelist of token contracts.
	// Unset means every token is accepted.
	if raw := os.Getenv("ALLOWED_TOKENS"); raw != "" {
		for _, token := range strings.Split(raw, ",") {
			if token = strings.TrimSpace(token); token != "" {
				cfg.allowedTokens = append(cfg.allowedTokens, token)
			}
		}
	}

	return cfg
}

func envOr(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := loadConfig(logger)

	key, err := signer.NewKeyFromHex(cfg.privateKey)
	if err != nil {
		logger.Fatal("invalid PRIVATE_KEY", zap.Error(err))
	}

	nodeOpts := []signer.NodeOption{signer.WithNodeLogger(logger)}
	if cfg.trongridURL != "" {
		nodeOpts = append(nodeOpts, signer.WithEndpoint(cfg.network, cfg.trongridURL))
	}
	if cfg.apiKey != "" {
		nodeOpts = append(nodeOpts, signer.WithAPIKey(cfg.apiKey))
	}
	node := signer.NewTronGridNode(nodeOpts...)

	facilitatorSigner := signer.NewFacilitatorSigner(key, node,
		signer.WithFacilitatorLogger(logger))

	exactOpts := []exactfacilitator.Option{exactfacilitator.WithLogger(logger)}
	nativeOpts := []nativefacilitator.Option{nativefacilitator.WithLogger(logger)}
	if cfg.baseFee > 0 {
		exactOpts = append(exactOpts, exactfacilitator.WithBaseFee(cfg.baseFee))
	}
	if cfg.allowedTokens != nil {
		exactOpts = append(exactOpts, exactfacilitator.WithAllowedTokens(cfg.allowedTokens))
		nativeOpts = append(nativeOpts, nativefacilitator.WithAllowedTokens(cfg.allowedTokens))
	}

	facilitator := x402.NewX402Facilitator(
		x402.WithFacilitatorLogger(logger),
		x402.WithSettlementCache(x402.NewSettlementCache(settlementCacheTTL)),
		x402.WithSupportedFee(x402.SupportedFee{
			FeeTo:   facilitatorSigner.Address(),
			Pricing: "per_accept",
		}),
	)
	facilitator.Register(cfg.network, exactfacilitator.New(facilitatorSigner, exactOpts...))
	facilitator.Register(cfg.network, nativefacilitator.New(facilitatorSigner, tokens.DefaultRegistry(), nativeOpts...))

	service := x402http.NewFacilitatorService(facilitator,
		x402http.WithServiceLogger(logger),
		x402http.WithRecorder(metrics.NewPrometheus()))

	logger.Info("facilitator listening",
		zap.String("addr", cfg.listenAddr),
		zap.String("network", string(cfg.network)),
		zap.String("signer", facilitatorSigner.Address()))

	if err := service.Run(cfg.listenAddr); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
