package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"lnbridge/internal/api"
	"lnbridge/internal/channels"
	"lnbridge/internal/invoices"
	"lnbridge/internal/lnd"
	"lnbridge/internal/logging"
	"lnbridge/internal/peers"
	"lnbridge/internal/store"
)

const (
	settlementSweepInterval = 30 * time.Second
	limiterCleanupInterval  = 1 * time.Hour
	unpaidIntentMaxAge      = 24 * time.Hour
	maxPendingPerIP         = 3
)

// nodeSourceFromEnv builds the node connection material from environment
// variables. Returns nil when no node is configured.
func nodeSourceFromEnv() *lnd.StaticSource {
	restURL := os.Getenv("LND_REST_URL")
	if restURL == "" {
		return &lnd.StaticSource{}
	}

	cfg := &lnd.RuntimeConfig{
		RESTURL:     restURL,
		Network:     os.Getenv("LND_NETWORK"),
		MacaroonHex: os.Getenv("LND_MACAROON_HEX"),
	}
	if cfg.Network == "" {
		cfg.Network = "mainnet"
	}

	if certPath := os.Getenv("LND_TLS_CERT_PATH"); certPath != "" {
		pem, err := os.ReadFile(certPath)
		if err != nil {
			logging.Internal.Fatalf("failed to read TLS certificate %s: %v", certPath, err)
		}
		cfg.TLSCertPEM = string(pem)
	}

	if err := cfg.Validate(); err != nil {
		logging.Internal.Fatalf("invalid node configuration: %v", err)
	}
	return &lnd.StaticSource{Config: cfg}
}

// minFundingFromEnv parses PEER_MIN_FUNDING, a comma-separated list of
// pubkey=sats overrides for the channel funding floor.
func minFundingFromEnv() map[string]int64 {
	raw := os.Getenv("PEER_MIN_FUNDING")
	if raw == "" {
		return nil
	}

	table := make(map[string]int64)
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), "=", 2)
		if len(parts) != 2 {
			logging.Internal.Fatalf("invalid PEER_MIN_FUNDING entry %q (want pubkey=sats)", entry)
		}
		sats, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			logging.Internal.Fatalf("invalid PEER_MIN_FUNDING amount %q: %v", parts[1], err)
		}
		table[parts[0]] = sats
	}
	return table
}

func main() {
	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err == nil {
		logging.Internal.Println("loaded configuration from .env")
	}

	addr := flag.String("addr", ":8080", "HTTP listen address")
	dbPath := flag.String("db", "lnbridge.db", "SQLite database path")
	devMode := flag.Bool("dev", false, "Development mode: disables CORS restrictions and rate limiting")
	corsOrigins := flag.String("cors-origins", "", "Comma-separated list of allowed CORS origins")
	flag.Parse()

	st, err := store.NewSQLiteStore(*dbPath)
	if err != nil {
		logging.Internal.Fatalf("failed to open database: %v", err)
	}
	defer st.Close()

	// Node client. All calls fail with NODE_NOT_CONFIGURED until credentials
	// are provided, so the process can serve the hosted-wallet path alone.
	source := nodeSourceFromEnv()
	client := lnd.NewClient(source)
	if client.Configured(context.Background()) {
		logging.Internal.Printf("Lightning node configured (%s)", os.Getenv("LND_REST_URL"))
	} else {
		logging.Internal.Println("no Lightning node configured (set LND_REST_URL, LND_MACAROON_HEX, LND_TLS_CERT_PATH)")
	}

	graphCache := peers.NewGraphCache(client)
	peersMgr := peers.NewManager(client, graphCache)
	channelsMgr := channels.NewManager(client, peersMgr, minFundingFromEnv())

	// Invoice providers: the node when configured, a hosted LNbits wallet as
	// fallback.
	var primary, fallback invoices.Provider
	if client.Configured(context.Background()) {
		primary = invoices.NewNodeProvider(client)
	}
	if lnbitsURL := os.Getenv("LNBITS_URL"); lnbitsURL != "" {
		lnbits, err := invoices.NewLNbitsClient(lnbitsURL, os.Getenv("LNBITS_API_KEY"))
		if err != nil {
			logging.Internal.Fatalf("failed to configure LNbits wallet: %v", err)
		}
		fallback = lnbits
		logging.Internal.Printf("hosted wallet fallback enabled (%s)", lnbitsURL)
	}
	if primary == nil && fallback == nil {
		logging.Internal.Fatalf("no invoice provider available: configure LND_REST_URL or LNBITS_URL")
	}
	invoicesMgr := invoices.NewManager(st, primary, fallback)

	// Unpaid-intent limiter, freed on settlement.
	pendingLimiter := api.NewPendingIntentLimiter(maxPendingPerIP)
	invoicesMgr.SetPaymentCallback(pendingLimiter.OnPaymentReceived)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Settlement sweep catches payments the request path never observes.
	go func() {
		ticker := time.NewTicker(settlementSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				invoicesMgr.SweepSettlements(ctx)
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(limiterCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := pendingLimiter.CleanupExpired(unpaidIntentMaxAge); n > 0 {
					logging.Internal.Printf("cleaned up %d expired pending intent entries", n)
				}
			}
		}
	}()

	handler := api.NewHandler(invoicesMgr, peersMgr, channelsMgr, client, pendingLimiter)

	mux := http.NewServeMux()
	mux.Handle("/api/", handler)

	var corsConfig api.CORSConfig
	if *devMode {
		logging.Internal.Println("development mode: CORS allowing all origins")
	} else if *corsOrigins != "" {
		origins := strings.Split(*corsOrigins, ",")
		for i, o := range origins {
			origins[i] = strings.TrimSpace(o)
		}
		corsConfig.AllowedOrigins = origins
		logging.Internal.Printf("CORS restricted to origins: %v", origins)
	}

	// Middleware order: Logger -> RateLimit -> CORS -> handler.
	var finalHandler http.Handler = mux
	finalHandler = api.CORS(corsConfig)(finalHandler)
	if !*devMode {
		finalHandler = api.RateLimit(api.DefaultRateLimitConfig())(finalHandler)
		logging.Internal.Println("rate limiting enabled")
	}
	finalHandler = api.Logger(finalHandler)

	server := &http.Server{
		Addr:    *addr,
		Handler: finalHandler,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logging.Internal.Println("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logging.Internal.Printf("shutdown error: %v", err)
		}
	}()

	logging.Internal.Printf("starting server on %s", *addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logging.Internal.Fatalf("server error: %v", err)
	}
}
