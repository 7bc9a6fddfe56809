package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"crosslock/config"
	"crosslock/core/events"
	"crosslock/crypto"
	"crosslock/gateway"
	"crosslock/native/escrow"
	"crosslock/observability/logging"
	"crosslock/state"
	"crosslock/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "escrowd.toml", "path to the daemon configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup("escrowd", cfg.Environment)

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		logger.Error("open ledger database", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	ledger := state.NewLedger(db)

	factoryAddr, err := resolveFactoryAddress(cfg.FactoryAddress)
	if err != nil {
		logger.Error("resolve factory address", "err", err)
		os.Exit(1)
	}
	feed := &events.Capture{}

	factory := escrow.NewFactory(
		factoryAddr,
		implementationSeed(cfg.SrcImplSeed, "crosslock/escrow-src"),
		implementationSeed(cfg.DstImplSeed, "crosslock/escrow-dst"),
		cfg.RescueDelaySeconds(),
	)
	factory.SetState(ledger)
	factory.SetEmitter(feed)

	engine := escrow.NewEngine()
	engine.SetState(ledger)
	engine.SetEmitter(feed)

	store, err := gateway.OpenStore(filepath.Join(cfg.DataDir, cfg.GatewayDatabase))
	if err != nil {
		logger.Error("open gateway store", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	secrets := make(map[string]string, len(cfg.APIKeys))
	for _, key := range cfg.APIKeys {
		secrets[key.Key] = key.Secret
	}
	auth := gateway.NewAuthenticator(secrets, cfg.Skew(), nil)
	limiter := gateway.NewRateLimiter(cfg.RateLimit)

	server := gateway.NewServer(factory, engine, ledger, auth, store, feed, limiter, cfg.ChainID)
	handler := otelhttp.NewHandler(server.Router(), "escrow-gateway")

	srv := &http.Server{Addr: cfg.ListenAddress, Handler: handler}
	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}

	go func() {
		logger.Info("escrow gateway listening", "addr", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("gateway listen", "err", err)
			os.Exit(1)
		}
	}()
	go func() {
		logger.Info("metrics listening", "addr", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listen", "err", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down escrow gateway")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
	_ = metricsSrv.Shutdown(ctx)
}

// resolveFactoryAddress accepts a hex or bech32 rendering; an empty value
// falls back to a fixed local development address.
func resolveFactoryAddress(raw string) ([20]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		var addr [20]byte
		addr[19] = 0x01
		return addr, nil
	}
	if strings.Contains(trimmed, "1") && !strings.HasPrefix(trimmed, "0x") {
		if decoded, err := crypto.DecodeAddress(trimmed); err == nil {
			return decoded.Raw(), nil
		}
	}
	return crypto.ParseHexAddress(trimmed)
}

// implementationSeed parses a 32-byte hex seed, deriving one from the label
// when unset so the two sides always get distinct templates.
func implementationSeed(raw, label string) [32]byte {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if decoded, err := hex.DecodeString(trimmed); err == nil && len(decoded) == 32 {
		var seed [32]byte
		copy(seed[:], decoded)
		return seed
	}
	return [32]byte(ethcrypto.Keccak256Hash([]byte(label)))
}
