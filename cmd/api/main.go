package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/sugarbloom/api/internal/di"
	"github.com/sugarbloom/api/internal/handlers"
	"github.com/sugarbloom/api/internal/notifications"
	"github.com/sugarbloom/api/internal/payments"
	"github.com/sugarbloom/api/internal/platform/auth"
	"github.com/sugarbloom/api/internal/platform/config"
	"github.com/sugarbloom/api/internal/platform/events"
	pfirestore "github.com/sugarbloom/api/internal/platform/firestore"
	"github.com/sugarbloom/api/internal/platform/observability"
	"github.com/sugarbloom/api/internal/platform/secrets"
	"github.com/sugarbloom/api/internal/platform/storage"
	firestorerepo "github.com/sugarbloom/api/internal/repositories/firestore"
)

func main() {
	started := time.Now().UTC()

	logger, err := observability.NewLogger()
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx := context.Background()

	env, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, env, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		_ = fetcher.Close()
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets("PSP.StripeAPIKey"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.Names()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	provider := pfirestore.NewProvider(cfg.Firestore)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Close(closeCtx); err != nil {
			logger.Warn("failed to close firestore provider", zap.Error(err))
		}
	}()

	firestoreClient, err := provider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to connect to firestore", zap.Error(err))
	}

	registry, err := firestorerepo.NewRegistry(provider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	var clientOpts []option.ClientOption
	if cfg.Firebase.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
	}

	storageClient, err := gcs.NewClient(ctx, clientOpts...)
	if err != nil {
		logger.Fatal("failed to initialise cloud storage client", zap.Error(err))
	}
	mover, err := storage.NewMover(storageClient)
	if err != nil {
		logger.Fatal("failed to initialise storage mover", zap.Error(err))
	}
	defer func() {
		_ = mover.Close()
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID, clientOpts...)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	defer func() {
		_ = pubsubClient.Close()
	}()
	bookingTopic := pubsubClient.Topic(cfg.PubSub.BookingEventsTopic)
	defer bookingTopic.Stop()

	publisher, err := events.NewPubSubBookingPublisher(bookingTopic)
	if err != nil {
		logger.Fatal("failed to initialise booking event publisher", zap.Error(err))
	}

	stripeLogger := logger.Named("stripe")
	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey: cfg.PSP.StripeAPIKey,
		Logger: func(ctx context.Context, event string, fields map[string]any) {
			zFields := make([]zap.Field, 0, len(fields)+1)
			zFields = append(zFields, zap.String("event", event))
			for k, v := range fields {
				zFields = append(zFields, zap.Any(k, v))
			}
			stripeLogger.Debug("stripe log", zFields...)
		},
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe provider", zap.Error(err))
	}

	mailer, err := notifications.NewSMTPMailer(notifications.SMTPMailerDeps{
		Config: cfg.Mail,
		Logger: observability.EventLogger(),
	})
	if err != nil {
		logger.Fatal("failed to initialise mailer", zap.Error(err))
	}
	if cfg.Mail.Host == "" {
		logger.Warn("smtp host not configured; email notifications disabled")
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	container, err := di.NewContainer(ctx, cfg, registry, di.Collaborators{
		Sessions: stripeProvider,
		Mover:    mover,
		Events:   publisher,
		Mailer:   mailer,
		Logger:   observability.EventLogger(),
	})
	if err != nil {
		logger.Fatal("failed to assemble services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("failed to close container", zap.Error(err))
		}
	}()

	checkoutHandlers := handlers.NewCheckoutHandlers(container.Services.Fulfillment)
	bookingHandlers := handlers.NewBookingHandlers(authenticator, container.Services.Bookings)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(env, started)),
		handlers.WithReadinessCheck("firestore", firestoreCheck(firestoreClient)),
	)

	httpLogger := logger.Named("http")
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(httpLogger),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithBookingRoutes(bookingHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := httpLogger.With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("sugarbloom api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newSecretFetcher(ctx context.Context, env map[string]string, logger *zap.Logger) (*secrets.Fetcher, error) {
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithDefaultProject(strings.TrimSpace(env["API_FIREBASE_PROJECT_ID"])),
	}
	if fallback := strings.TrimSpace(env["API_SECRETS_FALLBACK_FILE"]); fallback != "" {
		opts = append(opts, secrets.WithFallbackFile(fallback))
	}
	if credentials := strings.TrimSpace(env["API_FIREBASE_CREDENTIALS_FILE"]); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func buildInfoFromEnv(env map[string]string, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(env["API_ENVIRONMENT"])
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func firestoreCheck(client *firestore.Client) handlers.ReadinessCheck {
	return func(ctx context.Context) error {
		iter := client.Collections(ctx)
		_, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		return err
	}
}
