package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
	_ "go.uber.org/automaxprocs"

	"github.com/ignite/phase-funnel/internal/api"
	"github.com/ignite/phase-funnel/internal/capi"
	"github.com/ignite/phase-funnel/internal/config"
	"github.com/ignite/phase-funnel/internal/eventid"
	"github.com/ignite/phase-funnel/internal/kvstore"
	"github.com/ignite/phase-funnel/internal/leads"
	"github.com/ignite/phase-funnel/internal/pkg/distlock"
	"github.com/ignite/phase-funnel/internal/pkg/logger"
	"github.com/ignite/phase-funnel/internal/ratelimit"
	"github.com/ignite/phase-funnel/internal/report"
	"github.com/ignite/phase-funnel/internal/tracking"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config; empty for env only")
	flag.Parse()

	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		logger.SetLevel(logger.ParseLevel(lvl))
	}
	log := logger.Default()

	path := *configPath
	if _, err := os.Stat(path); err != nil {
		path = ""
	}
	cfg, err := config.LoadFromEnv(path)
	if err != nil {
		log.Error("failed to load config", "path", path, "error", err)
		os.Exit(1)
	}

	host := cfg.Server.GetHost()
	if err := checkPortAvailable(host, cfg.Server.Port); err != nil {
		log.Error("pre-flight check failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient := connectRedis(ctx, cfg.Redis.URL, log)
	db := connectDatabase(ctx, cfg.Leads.DatabaseURL, log)

	// Tracking: session markers, idempotency claims, the forwarder and the
	// root emitter every request forks from.
	var sessions kvstore.Store = kvstore.NewMemory(cfg.Tracking.SessionTTL())
	if redisClient != nil {
		sessions = kvstore.NewRedis(redisClient, cfg.Redis.Prefix+"session:", cfg.Tracking.SessionTTL())
	}
	claims := distlock.New(redisClient, cfg.Redis.Prefix)

	forwarder := capi.NewForwarder(capi.Config{
		PixelID:       cfg.Meta.PixelID,
		AccessToken:   cfg.Meta.AccessToken,
		TestEventCode: cfg.Meta.TestEventCode,
		GraphBaseURL:  cfg.Meta.GraphBaseURL,
		APIVersion:    cfg.Meta.APIVersion,
		ClaimTTL:      cfg.Tracking.IdempotencyTTL(),
	}, claims, log)

	var sender capi.Sender
	if forwarder.Configured() {
		sender = forwarder
		log.Info("conversions API enabled", "pixel_id", cfg.Meta.PixelID, "test_mode", cfg.Meta.TestEventCode != "")
	} else {
		log.Warn("conversions API not configured, server-side events stay pixel-only")
	}

	emitter := tracking.NewEmitter(nil, nil, nil, tracking.Config{
		ChannelBDelay: cfg.Tracking.ChannelBDelay(),
		SendTimeout:   cfg.Tracking.SendTimeout(),
	},
		tracking.WithIDStrategy(eventid.RandomStrategy{FailClosed: cfg.Tracking.FailClosedIDs}),
		tracking.WithLogger(log),
	)

	// Leads: every configured sink receives every lead.
	var sinks leads.MultiSink
	var counter api.SegmentCounter
	if cfg.Leads.WebhookURL != "" {
		sinks = append(sinks, leads.NewWebhookSink(cfg.Leads.WebhookURL, cfg.Leads.WebhookMaxRetries))
	}
	if db != nil {
		store := leads.NewPostgresStore(db)
		sinks = append(sinks, store)
		counter = store
	}
	if cfg.Leads.S3Bucket != "" {
		archive, err := leads.NewS3Archive(ctx, cfg.Leads.S3Bucket, cfg.Leads.S3Region)
		if err != nil {
			log.Warn("lead archive disabled", "bucket", cfg.Leads.S3Bucket, "error", err)
		} else {
			sinks = append(sinks, archive)
		}
	}
	var sink leads.Sink
	if len(sinks) > 0 {
		sink = sinks
	} else {
		log.Warn("no lead sink configured, leads are only logged")
	}

	var reports report.Generator
	if cfg.Report.APIKey != "" {
		reports = report.NewCachedGenerator(report.NewOpenAIGenerator(report.OpenAIConfig{
			APIKey:  cfg.Report.APIKey,
			Model:   cfg.Report.Model,
			BaseURL: cfg.Report.BaseURL,
			Timeout: cfg.Report.Timeout(),
		}), cfg.Report.CacheTTL())
	}

	handlers := api.NewHandlers(api.Deps{
		Emitter:   emitter,
		Forwarder: sender,
		Sessions:  sessions,
		Leads:     leads.NewService(sink, log),
		Counter:   counter,
		Reports:   reports,
		Cookies: kvstore.CookieOptions{
			Domain: cfg.Tracking.CookieDomain,
			Secure: cfg.Tracking.CookieSecure,
		},
		Log: log,
	})

	opts := api.RouteOptions{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Forward:        capi.NewHandler(forwarder, log),
		Health:         api.NewHealthChecker(db, redisClient, forwarder.Configured()),
	}
	if cfg.RateLimit.Enabled {
		opts.Limiter = ratelimit.New(redisClient, "api", ratelimit.Rule{Limit: cfg.RateLimit.RequestsPerMinute, Window: time.Minute})
	}
	server := api.NewServer(cfg.Server, handlers, opts)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", host, cfg.Server.Port)
		log.Info("starting server", "addr", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}

	// Pending channel B sends go out now instead of after their delay.
	emitter.Close()

	if redisClient != nil {
		redisClient.Close()
	}
	if db != nil {
		db.Close()
	}
	log.Info("server stopped")
}

// connectRedis returns nil when Redis is not configured or unreachable; the
// stores then fall back to process memory.
func connectRedis(ctx context.Context, url string, log *logger.Logger) *redis.Client {
	if url == "" {
		log.Info("redis not configured, using in-memory sessions, claims and rate limits")
		return nil
	}
	var client *redis.Client
	opts, err := redis.ParseURL(url)
	if err != nil {
		client = redis.NewClient(&redis.Options{Addr: url})
	} else {
		client = redis.NewClient(opts)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis connection failed, falling back to memory", "error", err)
		client.Close()
		return nil
	}
	log.Info("redis connected")
	return client
}

// connectDatabase opens the lead database with short statement timeouts. A
// failed ping disables the Postgres sink rather than the server.
func connectDatabase(ctx context.Context, dsn string, log *logger.Logger) *sql.DB {
	if dsn == "" {
		return nil
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.Contains(dsn, "connect_timeout") {
		dsn += sep + "connect_timeout=5"
		sep = "&"
	}
	dsn += sep + "options=-c%20statement_timeout%3D15000"

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Warn("lead database unavailable", "host", extractHost(dsn), "error", err)
		return nil
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(3)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(30 * time.Second)

	pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Warn("lead database ping failed, postgres sink disabled", "host", extractHost(dsn), "error", err)
		db.Close()
		return nil
	}
	log.Info("lead database connected", "host", extractHost(dsn))
	return db
}
