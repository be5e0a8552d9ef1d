package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"lendingpool/crypto"
	"lendingpool/native/lending"
	"lendingpool/native/lending/store/sqlitestore"
	"lendingpool/observability/logging"
	telemetry "lendingpool/observability/otel"
	"lendingpool/services/poold/config"
	"lendingpool/services/poold/oracle"
	"lendingpool/services/poold/server"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/poold/config.yaml", "path to poold config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("POOLD_ENV"))

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.SetupWithRotation("poold", env, logging.RotationConfig{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})

	telemetryCfg := telemetry.Config{
		ServiceName: firstNonEmpty(cfg.Telemetry.ServiceName, "poold"),
		Environment: firstNonEmpty(cfg.Telemetry.Environment, env),
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     true,
		Traces:      true,
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryCfg)
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	engine, oracleClient, err := buildEngine(cfg)
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}

	svc := server.New(engine, logger, oracleClient, cfg.Pool.BaseAssetDecimals)
	handler := otelhttp.NewHandler(svc.Routes(), "poold")
	wrapped := server.Middleware(server.Config{
		TLSCertFile:      cfg.TLS.CertPath,
		TLSKeyFile:       cfg.TLS.KeyPath,
		TLSClientCAFile:  cfg.TLS.ClientCAPath,
		AllowInsecure:    cfg.TLS.AllowInsecure,
		MTLSRequired:     cfg.TLS.MTLSEnabled(),
		AllowedClientCNs: cfg.Auth.MTLS.AllowedCommonNames,
		RateLimitPerMin:  cfg.RateLimitPerMin,
		APITokens:        cfg.Auth.APITokens,
		JWTSigningKey:    []byte(cfg.Auth.JWTSigningKey),
		Logger:           logger,
	}, handler)

	tlsCfg, err := server.TLSConfig(server.Config{
		TLSCertFile:      cfg.TLS.CertPath,
		TLSKeyFile:       cfg.TLS.KeyPath,
		TLSClientCAFile:  cfg.TLS.ClientCAPath,
		AllowInsecure:    cfg.TLS.AllowInsecure,
		MTLSRequired:     cfg.TLS.MTLSEnabled(),
		AllowedClientCNs: cfg.Auth.MTLS.AllowedCommonNames,
	})
	if err != nil {
		log.Fatalf("configure tls: %v", err)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Fatalf("listen on %s: %v", cfg.ListenAddress, err)
	}
	if tlsCfg != nil {
		listener = tls.NewListener(listener, tlsCfg)
	} else if !strings.EqualFold(env, "dev") {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !loopback {
			log.Fatalf("plaintext poold mode is restricted to loopback listeners or dev environment")
		}
	}

	httpServer := &http.Server{Handler: wrapped}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("poold listening", "address", cfg.ListenAddress)
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("forcing server close", "error", err)
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve http: %v", err)
		}
	}
}

func buildEngine(cfg config.Config) (*lending.Engine, lending.Oracle, error) {
	var poolConfig lending.PoolConfig
	if cfg.Pool.GenesisTOML != "" {
		loaded, err := lending.LoadPoolConfigTOML(cfg.Pool.GenesisTOML)
		if err != nil {
			return nil, nil, fmt.Errorf("load genesis toml: %w", err)
		}
		poolConfig = loaded
	} else {
		baseAsset, err := crypto.DecodeAddress(cfg.Pool.BaseAsset)
		if err != nil {
			return nil, nil, err
		}
		poolConfig = lending.PoolConfig{
			BaseAsset:              baseAsset,
			BaseAssetDecimals:      cfg.Pool.BaseAssetDecimals,
			InitialHealthBps:       cfg.Pool.InitialHealthBps,
			TimestampWindowSeconds: cfg.Pool.TimestampWindowSeconds,
			FlashLoanFeeBps:        cfg.Pool.FlashLoanFeeBps,
			UserAssetsLimit:        cfg.Pool.UserAssetsLimit,
			LiquidationProtocolFee: cfg.Pool.LiquidationProtocolFee,
			IRParams: lending.IRParams{
				Alpha:        cfg.Pool.IRParams.Alpha,
				InitialRate:  cfg.Pool.IRParams.InitialRate,
				MaxRate:      cfg.Pool.IRParams.MaxRate,
				ScalingCoeff: cfg.Pool.IRParams.ScalingCoeff,
			},
		}
		poolConfig.EnsureDefaults()
	}

	poolAddress, err := crypto.DecodeAddress(cfg.Pool.PoolAddress)
	if err != nil {
		return nil, nil, err
	}

	var reserves lending.ReserveStore
	var userConfigs lending.UserConfigStore
	if cfg.Pool.StorePath != "" {
		store, err := sqlitestore.Open(cfg.Pool.StorePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		reserves = store
		userConfigs = store
	} else {
		reserves = lending.NewInMemoryReserveStore()
		userConfigs = lending.NewInMemoryUserConfigStore()
	}
	permissions := lending.NewPermissionRegistry()
	feeVault := lending.NewFeeVault()

	var priceProvider *lending.PriceProvider
	var oracleClient lending.Oracle
	if cfg.Pool.OracleBaseURL != "" {
		httpOracle := oracle.New(cfg.Pool.OracleBaseURL, cfg.Pool.OracleDecimals, cfg.Pool.OracleResolutionSecs)
		oracleClient = httpOracle
		priceProvider = lending.NewPriceProvider(httpOracle, cfg.Pool.BaseAssetDecimals, nil)
	}

	engine := lending.NewEngine(poolConfig, poolAddress, reserves, userConfigs, priceProvider, permissions, feeVault)
	return engine, oracleClient, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
