package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"

	"tipline/internal/platform/config"
	platformkafka "tipline/internal/platform/kafka"
	"tipline/internal/platform/metrics"
	platformmw "tipline/internal/platform/middleware"
	"tipline/internal/platform/postgres"
	platformredis "tipline/internal/platform/redis"
	"tipline/internal/ratelimit"
	"tipline/internal/verification/device"
	"tipline/internal/verification/handler"
	"tipline/internal/verification/otp"
	"tipline/internal/verification/otp/sender"
	"tipline/internal/verification/provider"
	"tipline/internal/verification/reconciler"
	"tipline/internal/verification/service"
	"tipline/internal/verification/session"
	"tipline/internal/verification/staff"
	"tipline/internal/verification/store"
	"tipline/internal/verification/sweeper"
	"tipline/internal/verification/token"
	audit "tipline/pkg/platform/audit"
	"tipline/pkg/platform/audit/publisher"
	auditkafka "tipline/pkg/platform/audit/store/kafka"
	auditmemory "tipline/pkg/platform/audit/store/memory"
	auditpostgres "tipline/pkg/platform/audit/store/postgres"
	"tipline/pkg/platform/circuit"
	"tipline/pkg/platform/httputil"
	adminmw "tipline/pkg/platform/middleware/admin"
	authmw "tipline/pkg/platform/middleware/auth"
	devicemw "tipline/pkg/platform/middleware/device"
	"tipline/pkg/platform/middleware/metadata"
	request "tipline/pkg/platform/middleware/request"
	"tipline/pkg/platform/middleware/requesttime"
	"tipline/pkg/secrets"
)

// requestBudgetSlack covers work around the callback poll: session lookups,
// the staff query and writing the response.
const requestBudgetSlack = 5 * time.Second

// requestBudget is the longest a request may legitimately run: a callback
// that polls for the webhook the full number of attempts.
func requestBudget(cfg *config.Config) time.Duration {
	return cfg.Provider.Timeout + time.Duration(cfg.Provider.PollAttempts)*cfg.Provider.PollInterval
}

type application struct {
	router    http.Handler
	sweeper   *sweeper.Sweeper
	db        *sql.DB
	redis     *platformredis.Client
	kafka     *kgo.Client
	publisher *publisher.Publisher
}

// close releases resources in reverse dependency order. The publisher drains
// its buffer before the stores it writes to are closed.
func (a *application) close(log *slog.Logger) {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.kafka != nil {
		a.kafka.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Warn("closing redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Warn("closing database", "error", err)
		}
	}
}

func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*application, error) {
	app := &application{}
	ok := false
	defer func() {
		if !ok {
			app.close(log)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	hasher, err := secrets.NewDocumentHasher(cfg.Crypto.DocumentHashKey)
	if err != nil {
		return nil, fmt.Errorf("document hasher: %w", err)
	}
	piiKey, err := loadPIIKey(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cipher, err := secrets.NewFieldCipher(piiKey)
	if err != nil {
		return nil, fmt.Errorf("field cipher: %w", err)
	}

	if err := app.connect(ctx, cfg, log); err != nil {
		return nil, err
	}

	app.publisher = publisher.NewPublisher(auditStore(app, cfg, log),
		publisher.WithAsyncBuffer(cfg.Audit.BufferSize),
		publisher.WithLogger(log),
		publisher.WithMetrics(publisher.NewMetrics(reg)),
		publisher.WithCircuitBreaker(circuit.New("audit")),
	)
	auditor := audit.NewEmitter(app.publisher, log)

	app.sweeper = sweeper.New(sweeper.DefaultInterval, log)

	var (
		records     reconciler.RecordStore
		directory   service.StaffDirectory
		sessions    service.SessionStore
		otpStore    otp.Store
		revocations token.RevocationList
	)
	if app.db != nil {
		records = store.NewPostgres(app.db)
		directory = staff.NewPostgresDirectory(app.db)
	} else {
		records = store.NewInMemoryStore()
		directory = staff.NewInMemoryDirectory()
	}
	if app.redis != nil {
		sessions = session.NewRedis(app.redis.Client)
		otpStore = otp.NewRedisStore(app.redis.Client)
		revocations = token.NewRedisRevocations(app.redis.Client)
	} else {
		memSessions := session.New()
		memOTP := otp.NewInMemoryStore()
		memRevocations := token.NewInMemoryRevocations()
		app.sweeper.Add("sessions", memSessions)
		app.sweeper.Add("otp", memOTP)
		app.sweeper.Add("revocations", memRevocations)
		sessions, otpStore, revocations = memSessions, memOTP, memRevocations
	}

	otpSender, err := buildSender(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	otpService := otp.NewService(otpStore, otpSender, otp.WithTTL(cfg.OTP.TTL), otp.WithLogger(log))

	tokens, err := token.NewService(cfg.Token.SigningKey, cfg.Token.Issuer, cfg.Token.TTL, token.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("token service: %w", err)
	}

	providerClient := provider.NewClient(provider.Config{
		BaseURL:     cfg.Provider.BaseURL,
		APIKey:      cfg.Provider.APIKey,
		WorkflowID:  cfg.Provider.WorkflowID,
		CallbackURL: cfg.Provider.CallbackURL,
		ReturnURL:   cfg.Provider.ReturnURL,
		Timeout:     cfg.Provider.Timeout,
	},
		provider.WithBreaker(circuit.New("provider")),
		provider.WithErrorObserver(m),
		provider.WithLogger(log),
	)

	rec := reconciler.New(records, hasher, cipher, cfg.Provider.WebhookSecret,
		reconciler.WithPolling(cfg.Provider.PollInterval, cfg.Provider.PollAttempts),
		reconciler.WithAuditor(auditor),
		reconciler.WithObserver(m),
		reconciler.WithLogger(log),
	)

	devices := device.NewService(true)
	svc, err := service.New(service.Deps{
		Sessions:    sessions,
		Provider:    providerClient,
		Reconciler:  rec,
		Staff:       directory,
		OTP:         otpService,
		Tokens:      tokens,
		Revocations: revocations,
		Contacts:    cipher,
	},
		service.WithAuditor(auditor),
		service.WithObserver(m),
		service.WithLogger(log),
		service.WithDeviceBinding(devices),
		service.WithSessionTTL(cfg.Session.TTL),
	)
	if err != nil {
		return nil, fmt.Errorf("verification service: %w", err)
	}

	limiterStore := ratelimit.NewInMemoryStore()
	app.sweeper.Add("ratelimit", rateLimitSweep{limiterStore})
	limiter := ratelimit.NewMiddleware(limiterStore, log, m)

	adapter := token.NewMiddlewareAdapter(tokens, revocations)
	h := handler.New(svc, rec, log, handler.Config{
		CookieSecure:     cfg.Server.CookieSecure,
		SessionTTL:       cfg.Session.TTL,
		StartPerMinute:   cfg.RateLimit.StartPerMinute,
		WebhookPerMinute: cfg.RateLimit.WebhookPerMinute,
	},
		handler.WithRateLimit(limiter.PerClient),
		handler.WithSessionGuard(authmw.RequireSession(handler.TokenCookie, adapter, adapter, log)),
	)

	app.router = newRouter(cfg, log, m, reg, devices, h, app.health)
	ok = true
	return app, nil
}

// connect opens the optional backing services. Each one that is not
// configured falls back to the in-memory implementation, which only suits a
// single instance.
func (a *application) connect(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		a.db = db
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
	} else {
		log.Warn("DATABASE_URL not set, using in-memory verification records and staff directory")
	}

	rc, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rc == nil {
		log.Warn("REDIS_URL not set, using in-memory sessions, otp challenges and revocations")
	}
	a.redis = rc

	kc, err := platformkafka.NewClient(ctx, cfg.Kafka)
	if err != nil {
		return err
	}
	if kc != nil {
		if err := platformkafka.EnsureTopic(ctx, kc, cfg.Kafka.AuditTopic); err != nil {
			kc.Close()
			return err
		}
	}
	a.kafka = kc
	return nil
}

func (a *application) health(ctx context.Context) error {
	if a.db != nil {
		if err := a.db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Health(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func auditStore(a *application, cfg *config.Config, log *slog.Logger) audit.Store {
	var stores []audit.Store
	if a.db != nil {
		stores = append(stores, auditpostgres.New(a.db))
	}
	if a.kafka != nil {
		stores = append(stores, auditkafka.New(a.kafka, cfg.Kafka.AuditTopic))
	}
	if len(stores) == 0 {
		log.Warn("no durable audit store configured, audit events are kept in memory")
		return auditmemory.NewInMemoryStore()
	}
	return audit.NewTee(stores...)
}

func loadPIIKey(ctx context.Context, cfg *config.Config) ([]byte, error) {
	if cfg.Crypto.PIIKey != nil {
		return cfg.Crypto.PIIKey, nil
	}
	source, err := secrets.NewKMSKeySource(ctx, cfg.Crypto.AWSRegion, cfg.Crypto.KMSKeyID)
	if err != nil {
		return nil, fmt.Errorf("kms key source: %w", err)
	}
	key, err := source.DataKey(ctx, cfg.Crypto.PIIKMSCiphertext)
	if err != nil {
		return nil, fmt.Errorf("unwrap pii key: %w", err)
	}
	return key, nil
}

func buildSender(ctx context.Context, cfg *config.Config, log *slog.Logger) (*sender.Router, error) {
	router := &sender.Router{Logger: log}
	if cfg.OTP.SMTPHost != "" {
		router.Email = sender.NewSMTPSender(cfg.OTP.SMTPHost, cfg.OTP.SMTPPort, cfg.OTP.SMTPUsername, cfg.OTP.SMTPPassword, cfg.OTP.SMTPFrom)
	}
	if cfg.OTP.SMSEnabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Crypto.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		router.SMS = sender.NewSNSSender(awsCfg, cfg.OTP.SMSSenderID)
	}
	if !cfg.IsProduction() {
		console := sender.ConsoleSender{W: os.Stderr}
		if router.Email == nil {
			router.Email = console
		}
		if router.SMS == nil {
			router.SMS = console
		}
		log.Warn("otp codes without a configured channel are printed to stderr")
	}
	return router, nil
}

// rateLimitSweep lets the sweeper prune idle rate-limit windows.
type rateLimitSweep struct {
	store *ratelimit.InMemoryStore
}

func (r rateLimitSweep) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	return r.store.Sweep(now), nil
}

func newRouter(
	cfg *config.Config,
	log *slog.Logger,
	m *metrics.Metrics,
	reg *prometheus.Registry,
	devices *device.Service,
	h *handler.Handler,
	health func(context.Context) error,
) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(log))
	r.Use(request.Logger(log))
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata(cfg.Server.TrustProxy))
	r.Use(devicemw.Fingerprint(devices))
	r.Use(platformmw.Latency(m))
	r.Use(request.Timeout(requestBudget(cfg)))
	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost},
			AllowedHeaders:   []string{"Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Group(func(r chi.Router) {
		r.Use(request.ContentTypeJSON)
		h.Register(r)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := health(r.Context()); err != nil {
			log.WarnContext(r.Context(), "health check failed", "error", err)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.With(adminmw.RequireAdminToken(cfg.Server.AdminToken, log)).
		Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return r
}
