package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	pkgbilling "github.com/lumeapp/billingd/pkg/billing"
	"github.com/lumeapp/billingd/pkg/catalog"
	"github.com/lumeapp/billingd/pkg/config"
	"github.com/lumeapp/billingd/pkg/email"
	"github.com/lumeapp/billingd/pkg/httpserver"
	"github.com/lumeapp/billingd/pkg/logger"
	"github.com/lumeapp/billingd/pkg/mongo"
	"github.com/lumeapp/billingd/pkg/redis"
	svcbilling "github.com/lumeapp/billingd/svc/billing"
)

type appConfig struct {
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	CatalogPath     string        `env:"CATALOG_PATH" envDefault:"./catalog.yaml"`
	EmailDevDir     string        `env:"EMAIL_DEV_DIR" envDefault:"./tmp/emails"`
	StartupTimeout  time.Duration `env:"STARTUP_TIMEOUT" envDefault:"30s"`
	ProviderTimeout time.Duration `env:"BILLING_PROVIDER_TIMEOUT" envDefault:"15s"`
	FreshnessWindow time.Duration `env:"BILLING_FRESHNESS_WINDOW" envDefault:"5m"`
}

func main() {
	var appCfg appConfig
	config.MustLoad(&appCfg)

	log := logger.New(
		logger.WithEnvironment(appCfg.Environment, "billingd"),
		logger.WithContextValue("request_id", chimw.RequestIDKey),
	)
	logger.SetAsDefault(log)

	if err := run(appCfg, log); err != nil {
		log.Error("billingd exited", logger.Error(err))
		os.Exit(1)
	}
}

func run(appCfg appConfig, log *slog.Logger) error {
	ctx := context.Background()
	startupCtx, cancel := context.WithTimeout(ctx, appCfg.StartupTimeout)
	defer cancel()

	var mongoCfg mongo.Config
	config.MustLoad(&mongoCfg)
	db, err := mongo.ConnectDatabase(startupCtx, mongoCfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Client().Disconnect(ctx) }()

	var redisCfg redis.Config
	config.MustLoad(&redisCfg)
	redisClient, err := redis.Connect(startupCtx, redisCfg)
	if err != nil {
		return err
	}
	defer func() { _ = redisClient.Close() }()

	cat, err := catalog.New(startupCtx, catalog.NewYAMLSource(appCfg.CatalogPath))
	if err != nil {
		return err
	}

	store := pkgbilling.NewMongoStore(db.Collection("subscriptions"))
	if err := store.EnsureIndexes(startupCtx); err != nil {
		return err
	}
	dedup := pkgbilling.NewRedisDeduplicator(redisClient, 0)

	rec := pkgbilling.NewReconciler(store,
		pkgbilling.WithDeduplicator(dedup),
		pkgbilling.WithReconcilerLogger(log),
	)

	var stripeCfg pkgbilling.StripeConfig
	config.MustLoad(&stripeCfg)
	stripeProvider, err := pkgbilling.NewStripeProvider(stripeCfg, cat)
	if err != nil {
		return err
	}

	var rcCfg pkgbilling.RevenueCatConfig
	config.MustLoad(&rcCfg)
	rcProvider, err := pkgbilling.NewRevenueCatProvider(rcCfg, cat,
		pkgbilling.WithRevenueCatLogger(log))
	if err != nil {
		return err
	}

	svc := pkgbilling.NewService(cat, store, rec, stripeProvider, rcProvider,
		pkgbilling.WithServiceLogger(log),
		pkgbilling.WithProviderTimeout(appCfg.ProviderTimeout),
		pkgbilling.WithFreshnessWindow(appCfg.FreshnessWindow),
	)

	notifier := buildNotifier(appCfg, log)
	router := pkgbilling.NewRouter(cat, store, rec, stripeProvider, rcProvider,
		pkgbilling.WithRouterLogger(log),
		pkgbilling.WithNotifier(notifier),
	)

	handler := svcbilling.NewHandler(svc, router, log)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Get("/healthz", httpserver.HealthCheckHandler(log))
	r.Get("/readyz", httpserver.HealthCheckHandler(log,
		mongo.Healthcheck(db.Client()),
		redis.Healthcheck(redisClient),
	))
	// TODO: replace with the real session middleware once the auth service
	// exposes one; the header shim exists for staging only.
	r.Mount("/", handler.Routes(userIDHeaderMiddleware))

	var httpCfg httpserver.Config
	config.MustLoad(&httpCfg)
	srv := httpserver.NewFromConfig(httpCfg, httpserver.WithLogger(log))
	return srv.Run(ctx, r)
}

// buildNotifier wires billing notifications to email delivery. Without
// Postmark tokens the dev sender writes emails to disk, which keeps local
// webhook testing observable.
func buildNotifier(appCfg appConfig, log *slog.Logger) pkgbilling.Notifier {
	var emailCfg email.Config
	if err := config.Load(&emailCfg); err != nil {
		log.Warn("email disabled, notifications go to logs only", logger.Error(err))
		return pkgbilling.NewLogNotifier(log)
	}

	var sender email.EmailSender
	if emailCfg.PostmarkServerToken != "" {
		s, err := email.NewPostmarkSender(emailCfg)
		if err != nil {
			log.Warn("email disabled, notifications go to logs only", logger.Error(err))
			return pkgbilling.NewLogNotifier(log)
		}
		sender = s
	} else {
		sender = email.NewDevSender(appCfg.EmailDevDir)
	}

	resolver := func(ctx context.Context, userID uuid.UUID) (string, error) {
		// Billing stores no profile data. Until the account service exposes a
		// lookup, notifications fall back to logging inside the notifier.
		return "", nil
	}

	return pkgbilling.MultiNotifier{
		pkgbilling.NewLogNotifier(log),
		svcbilling.NewEmailNotifier(sender, resolver, log),
	}
}

// userIDHeaderMiddleware trusts an upstream gateway to authenticate requests
// and forward the user ID in X-User-ID.
func userIDHeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.Header.Get("X-User-ID"))
		if err != nil {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(svcbilling.SetUserIDToContext(r.Context(), userID)))
	})
}
