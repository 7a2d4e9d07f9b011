package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"safebrowse.local/internal/app/safebrowse"
	"safebrowse.local/internal/app/safebrowse/cache"
	"safebrowse.local/internal/app/safebrowse/gateway"
	"safebrowse.local/internal/app/safebrowse/httpapi"
	"safebrowse.local/internal/app/safebrowse/memstore"
	"safebrowse.local/internal/app/safebrowse/reaper"
	"safebrowse.local/internal/app/safebrowse/repo"
	"safebrowse.local/internal/app/safebrowse/requestlog"
	"safebrowse.local/internal/platform/auth"
	platformcache "safebrowse.local/internal/platform/cache"
	"safebrowse.local/internal/platform/config"
	"safebrowse.local/internal/platform/db"
	"safebrowse.local/internal/platform/httpserver"
	"safebrowse.local/internal/platform/metrics"
	"safebrowse.local/internal/platform/migrate"
	"safebrowse.local/internal/platform/ratelimit"
	"safebrowse.local/internal/platform/trace"
	"safebrowse.local/migrations"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// threatSource 本地威胁列表：既能按 key 匹配，也能给布隆过滤器增量加载
type threatSource interface {
	safebrowse.ThreatList
	safebrowse.RecentSource
	cache.ThreatLoader
}

type verdictStore interface {
	safebrowse.VerdictCache
	safebrowse.HotSource
	reaper.ExpiredVerdicts
}

type requestLogStore interface {
	requestlog.Sink
	httpapi.RequestLogLister
}

func main() {
	cfg := config.Load()

	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var h slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h.WithAttrs([]slog.Attr{slog.String("service", cfg.ServiceName)})))

	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	metrics.Init()

	if cfg.TracingEnabled {
		shutdown := trace.InitTrace(cfg.OtlpGrpcEndpoint, cfg.OtlpServiceName)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				slog.Error("trace shutdown failed", "err", err)
			}
		}()
	} else {
		slog.Warn("Tracing disabled by config", "TRACING_ENABLED", false)
	}

	var (
		threats  threatSource
		verdicts verdictStore
		logStore requestLogStore
		ready    func(ctx context.Context) error
		dbStore  *db.Store
	)
	switch cfg.StoreBackend {
	case "postgres":
		dbCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pool, err := db.New(dbCtx, cfg.DBDSN)
		cancel()
		if err != nil {
			log.Fatal(err)
		}
		defer pool.Close()
		slog.Info("数据库连接成功")

		if cfg.MigrateOnStart {
			mctx, mcancel := context.WithTimeout(context.Background(), 30*time.Second)
			res, err := migrate.Up(mctx, pool, migrate.Options{FS: migrations.FS})
			mcancel()
			if err != nil {
				log.Fatal(err)
			}
			slog.Info("migrations applied", "source", res.Source, "applied", res.AppliedFiles, "skipped", len(res.SkippedFiles))
		}

		dbStore = db.NewStore(pool)
		threats = repo.NewThreatsRepo(pool)
		verdicts = repo.NewVerdictsRepo(dbStore)
		logStore = repo.NewRequestLogRepo(pool)
		ready = pool.Ping
	default:
		slog.Warn("using in-memory store, data is lost on restart", "STORE_BACKEND", cfg.StoreBackend)
		threats = memstore.NewThreats()
		verdicts = memstore.NewVerdicts()
		logStore = requestlog.NewMemorySink()
		ready = func(context.Context) error { return nil }
	}

	//限流器
	var (
		limiter *ratelimit.Limiter
		lapsed  reaper.LapsedQuotas
	)
	if cfg.RateLimitEnabled {
		switch cfg.QuotaBackend {
		case "redis":
			redisClient, err := platformcache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
			if err != nil {
				log.Fatal(err)
			}
			defer redisClient.Close()
			limiter = ratelimit.NewLimiter(ratelimit.NewRedisStore(redisClient))
		case "postgres":
			if dbStore == nil {
				log.Fatal("QUOTA_BACKEND=postgres requires STORE_BACKEND=postgres")
			}
			store := ratelimit.NewPostgresStore(dbStore)
			limiter = ratelimit.NewLimiter(store)
			lapsed = store
		default:
			store := ratelimit.NewMemoryStore()
			limiter = ratelimit.NewLimiter(store)
			lapsed = store
		}
	} else {
		slog.Warn("RateLimit disabled by config", "RATELIMIT_ENABLED", false)
	}

	//本地威胁列表：布隆过滤器挡掉绝大多数未命中，ristretto 缓存逐 key 结果
	filter := cache.NewThreatFilter(cfg.ThreatFilterCapacity, cfg.ThreatFilterFPRate)
	memo, err := cache.NewMemo(cfg.ThreatMemoMaxCost)
	if err != nil {
		log.Fatal(err)
	}
	defer memo.Close()
	{
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		n, err := filter.Refresh(ctx, threats)
		cancel()
		if err != nil {
			// 过滤器未就绪时放行全部 key 到数据库，不影响正确性
			slog.Error("initial threat filter load failed", "err", err)
		} else {
			slog.Info("threat filter loaded", "entries", n)
		}
	}
	threatList := cache.NewCachedThreatList(threats, filter, memo)

	//请求日志（根据配置选择 Channel 或 Kafka）
	var collector requestlog.Collector
	var kafkaConsumer *requestlog.KafkaConsumer
	var channelConsumer *requestlog.Consumer
	if cfg.KafkaEnabled {
		slog.Info("使用 Kafka 收集请求日志", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
		collector = requestlog.NewKafkaCollector(cfg.KafkaBrokers, cfg.KafkaTopic)
		kafkaConsumer = requestlog.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, logStore)
	} else {
		slog.Info("使用 Channel 收集请求日志")
		channelCollector := requestlog.NewChannelCollector(10000)
		collector = channelCollector
		channelConsumer = requestlog.NewConsumer(logStore, channelCollector)
	}

	// JWT
	ts, err := auth.NewHS256Service(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	if err != nil {
		log.Fatal(err)
	}
	internalToken := auth.NewInternalToken(cfg.InternalTokenHash)
	if !internalToken.Enabled() {
		slog.Warn("request log endpoint disabled", "INTERNAL_TOKEN_HASH", "")
	}

	if cfg.SafeBrowsingAPIKey == "" {
		slog.Warn("SAFEBROWSING_API_KEY is empty, upstream lookups will fail")
	}
	upstream := gateway.New(gateway.Config{
		APIKey:        cfg.SafeBrowsingAPIKey,
		Endpoint:      cfg.SafeBrowsingEndpoint,
		ClientID:      cfg.SafeBrowsingClientID,
		ClientVersion: cfg.SafeBrowsingClientVersion,
		Timeout:       cfg.SafeBrowsingTimeout,
	})

	svc := safebrowse.NewService(threatList, verdicts, upstream)
	feeds := safebrowse.NewFeeds(verdicts, threats, safebrowse.FeedConfig{
		HotWindow:    cfg.HotWindow,
		HotMinCount:  cfg.HotMinCount,
		HotLimit:     cfg.HotLimit,
		RecentWindow: cfg.RecentWindow,
	})

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rp := reaper.New(reaper.Options{
		Verdicts:  verdicts,
		Quotas:    lapsed,
		Filter:    filter,
		Threats:   threats,
		Retention: cfg.VerdictRetention,
		Schedule:  cfg.ReaperSchedule,
	})
	if err := rp.Start(stopCtx); err != nil {
		log.Fatal(err)
	}
	defer rp.Stop()

	// 对外业务
	r := httpapi.NewRouter(httpapi.Deps{
		Service:          svc,
		Feeds:            feeds,
		Limiter:          limiter,
		Collector:        collector,
		RequestLogs:      logStore,
		InternalToken:    internalToken,
		Tokens:           ts,
		SafebrowseQuota:  cfg.SafebrowseQuota,
		FeedQuota:        cfg.FeedQuota,
		MaxContentLength: cfg.MaxContentLength,
	})

	publicHandler := http.Handler(r)
	if cfg.TracingEnabled {
		publicHandler = otelhttp.NewHandler(r, "http")
	}
	publicSrv := httpserver.New(cfg, publicHandler)

	// 仅本机/内网
	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.Handler())
	adminMux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := ready(ctx); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("DB Ping Err"))
			return
		}
		if !filter.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("threat filter loading"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	adminMux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"service_name": cfg.ServiceName,
			"version":      version,
			"commit":       commit,
			"build_time":   buildTime,
			"go_version":   runtime.Version(),
		})
	})

	if cfg.PprofEnabled {
		adminMux.HandleFunc("/debug/pprof/", pprof.Index)
		adminMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		adminMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		adminMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		adminMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	adminSrv := &http.Server{
		Addr:              cfg.AdminAddr, // 推荐：127.0.0.1:6060
		Handler:           adminMux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	// 启动 consumer
	if kafkaConsumer != nil {
		go kafkaConsumer.Run(stopCtx)
		defer kafkaConsumer.Close()
	}
	if channelConsumer != nil {
		go channelConsumer.Run(stopCtx)
	}
	defer collector.Close()

	slog.Info("safebrowse api starting",
		"addr", cfg.Addr,
		"admin_addr", cfg.AdminAddr,
		"tls", cfg.TLSEnabled(),
		"store", cfg.StoreBackend,
		"quota", cfg.QuotaBackend,
		"version", version)

	err = httpserver.RunAll(stopCtx, cfg.ShutdownTimeout,
		httpserver.Listener{Server: publicSrv, CertFile: cfg.TLSCertFile, KeyFile: cfg.TLSKeyFile},
		httpserver.Listener{Server: adminSrv},
	)
	stop()
	if err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
	slog.Info("safebrowse api stopped")
}
