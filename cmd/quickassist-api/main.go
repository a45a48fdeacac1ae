// README: Entry point; loads config, wires services, starts the HTTP server and the realtime bus.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	firebase "firebase.google.com/go/v4"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"quickassist/internal/config"
	"quickassist/internal/events"
	httptransport "quickassist/internal/http"
	"quickassist/internal/http/handlers"
	"quickassist/internal/infra"
	"quickassist/internal/logging"
	"quickassist/internal/modules/booking"
	"quickassist/internal/modules/catalog"
	"quickassist/internal/modules/dashboard"
	"quickassist/internal/modules/matching"
	"quickassist/internal/modules/payment"
	"quickassist/internal/modules/pricing"
	"quickassist/internal/modules/provider"
	"quickassist/internal/modules/rating"
	"quickassist/internal/modules/realtime"
	"quickassist/internal/modules/user"
	"quickassist/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logging.Setup(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("quickassist-api stopped")
	}
	log.Info("quickassist-api stopped")
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	var fbApp *firebase.App
	if cfg.Auth.FirebaseProjectID != "" {
		if fbApp, err = infra.NewFirebaseApp(ctx, cfg.Auth.FirebaseProjectID, cfg.Auth.FirebaseCredentialsFile); err != nil {
			return err
		}
	}
	verifier, err := newVerifier(ctx, cfg, fbApp)
	if err != nil {
		return err
	}

	publisher, closePublisher, err := newPublisher(cfg, log)
	if err != nil {
		return err
	}
	defer closePublisher()

	userSvc := user.NewService(user.NewStore(dbPool), log)

	notifier, err := newNotifier(ctx, fbApp, userSvc, log)
	if err != nil {
		return err
	}

	catalogSvc := catalog.NewService(catalog.NewStore(dbPool))
	pricingSvc := pricing.NewService(catalogSvc)
	providerSvc := provider.NewService(provider.NewStore(dbPool), catalogSvc, log)
	bookingSvc := booking.NewService(booking.NewStore(dbPool), notifier, publisher, log)
	matchingSvc := matching.NewService(matching.NewStore(dbPool), catalogSvc, bookingSvc, log)
	ratingSvc := rating.NewService(rating.NewStore(dbPool), bookingSvc, publisher, log)
	dashboardSvc := dashboard.NewService(dashboard.NewStore(dbPool))

	var gateway payment.Gateway
	if cfg.MobileMoneyEnabled() {
		gateway = payment.NewMpesaClient(cfg.MobileMoney)
	} else {
		log.Warn("mobile money not configured; only CASH payments accepted")
	}
	paymentSvc := payment.NewService(payment.NewStore(dbPool), pricingSvc, userSvc, gateway, publisher, log, cfg.Payment.PendingTimeout)

	hub := realtime.NewHub(log)
	bus := realtime.NewRedisBus(redisClient, realtime.DefaultRedisChannel, hub, log)
	realtimeSvc := realtime.NewService(realtime.NewStore(dbPool), bookingSvc, hub, bus, log)

	router := httptransport.NewRouter(httptransport.RouterDeps{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Log:            log,
		Verifier:       verifier,
		Principals:     userSvc,
		Health:         healthChecks(dbPool, redisClient),
		Users:          handlers.NewUserHandler(userSvc),
		Catalog:        handlers.NewCatalogHandler(catalogSvc, pricingSvc),
		Providers:      handlers.NewProviderHandler(providerSvc, ratingSvc),
		Bookings:       handlers.NewBookingHandler(bookingSvc, matchingSvc, ratingSvc, paymentSvc),
		Payments:       handlers.NewPaymentHandler(paymentSvc, log),
		Admin:          handlers.NewAdminHandler(dashboardSvc, userSvc, providerSvc, catalogSvc),
		Realtime:       handlers.NewRealtimeHandler(realtimeSvc, cfg.Realtime, cfg.HTTP.AllowedOrigins, log),
	})

	// Without the bus subscriber no realtime frame reaches this replica, so
	// losing it stops the process.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	busErr := make(chan error, 1)
	go func() {
		defer close(busErr)
		if err := bus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			busErr <- err
			cancel()
		}
	}()

	go paymentSvc.RunExpirySweeper(ctx, cfg.Payment.PendingTimeout)

	server := httptransport.NewServer(cfg.HTTP.Addr, router, cfg.HTTP.ShutdownTimeout, log)
	if err := server.Run(ctx); err != nil {
		return err
	}
	cancel()
	return <-busErr
}

func newVerifier(ctx context.Context, cfg config.Config, app *firebase.App) (infra.TokenVerifier, error) {
	if cfg.Auth.Mode == config.AuthModeFirebase {
		return infra.NewFirebaseVerifier(ctx, app)
	}
	return infra.NewJWTVerifier(cfg.Auth.JWTSecret), nil
}

func newPublisher(cfg config.Config, log logrus.FieldLogger) (events.Publisher, func(), error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return events.LogPublisher{Log: log}, func() {}, nil
	}
	kp, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		return nil, nil, err
	}
	return kp, func() {
		if err := kp.Close(); err != nil {
			log.WithError(err).Warn("close kafka publisher")
		}
	}, nil
}

func newNotifier(ctx context.Context, app *firebase.App, tokens notify.TokenSource, log logrus.FieldLogger) (booking.Notifier, error) {
	if app == nil {
		return notify.LogNotifier{Log: log}, nil
	}
	return notify.NewFCMNotifierFromApp(ctx, app, tokens, log)
}

func healthChecks(db *pgxpool.Pool, rdb *redis.Client) map[string]httptransport.HealthCheck {
	return map[string]httptransport.HealthCheck{
		"db": db.Ping,
		"redis": func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
	}
}
