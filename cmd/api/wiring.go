package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bookporter/api/internal/di"
	"github.com/bookporter/api/internal/payments"
	"github.com/bookporter/api/internal/platform/config"
	"github.com/bookporter/api/internal/platform/events"
	pfirestore "github.com/bookporter/api/internal/platform/firestore"
	"github.com/bookporter/api/internal/platform/idempotency"
	"github.com/bookporter/api/internal/platform/observability"
	"github.com/bookporter/api/internal/platform/secrets"
	"github.com/bookporter/api/internal/platform/storage"
	"github.com/bookporter/api/internal/repositories"
	firestoreRepo "github.com/bookporter/api/internal/repositories/firestore"
	"github.com/bookporter/api/internal/repositories/memory"
	"github.com/bookporter/api/internal/services"
)

const (
	envPrefix                 = "BOOKPORTER_"
	idempotencyCollection     = "idempotency_keys"
	secretHealthReference     = "secret://system/healthz?version=latest"
	defaultSecretFallbackFile = ".secrets.local"
)

func envKey(name string) string { return envPrefix + name }

// infrastructure holds the adapters main builds before the service container.
type infrastructure struct {
	registry    repositories.Registry
	idempotency idempotency.Store
	container   di.Infrastructure
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// closeStack releases resources in reverse acquisition order.
type closeStack []closer

func (s *closeStack) push(name string, fn func(ctx context.Context) error) {
	*s = append(*s, closer{name: name, fn: fn})
}

func (s *closeStack) run(logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(*s) - 1; i >= 0; i-- {
		c := (*s)[i]
		if err := c.fn(ctx); err != nil {
			logger.Warn("close error", zap.String("resource", c.name), observability.ErrorField(err))
		}
	}
}

func buildInfrastructure(ctx context.Context, cfg config.Config, logger *zap.Logger, fetcher *secrets.Fetcher, closers *closeStack) (*infrastructure, error) {
	var clientOpts []option.ClientOption
	if cfg.Firebase.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
	}

	infra := &infrastructure{
		container: di.Infrastructure{
			Logger: logger,
			Clock:  time.Now,
		},
	}
	var checks []repositories.DependencyCheck

	var (
		provider        *pfirestore.Provider
		firestoreClient *firestore.Client
	)
	if cfg.Store.Backend == config.StoreFirestore {
		provider = pfirestore.NewProvider(cfg.Firestore, pfirestore.WithClientOptions(clientOpts...))
		client, err := provider.Client(ctx)
		if err != nil {
			return nil, fmt.Errorf("firestore client: %w", err)
		}
		firestoreClient = client
		checks = append(checks, firestoreCheck(client))
		if fetcher != nil {
			checks = append(checks, secretManagerCheck(fetcher))
		}
	}

	store, err := buildIdempotencyStore(ctx, cfg, firestoreClient, closers, &checks)
	if err != nil {
		return nil, err
	}
	infra.idempotency = store

	publisher, err := buildEventPublisher(ctx, cfg, clientOpts, closers, &checks)
	if err != nil {
		return nil, err
	}
	if publisher != nil {
		infra.container.Events = publisher
	}

	if provider == nil {
		logger.Warn("using in-memory order ledger; data is lost on restart")
		infra.registry = memory.NewRegistry()
	} else {
		health, err := repositories.NewDependencyHealthRepository(checks)
		if err != nil {
			return nil, err
		}
		registry, err := firestoreRepo.NewRegistry(provider, health)
		if err != nil {
			return nil, fmt.Errorf("firestore registry: %w", err)
		}
		infra.registry = registry
	}

	manager, err := buildPaymentManager(cfg, logger)
	if err != nil {
		return nil, err
	}
	infra.container.Payments = manager

	receipts, err := buildReceiptStore(ctx, cfg, clientOpts, closers)
	if err != nil {
		return nil, err
	}
	if receipts != nil {
		infra.container.Receipts = receipts
	}
	return infra, nil
}

func firestoreCheck(client *firestore.Client) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:    "firestore",
		Timeout: 1500 * time.Millisecond,
		Check: func(ctx context.Context) error {
			_, err := client.Collections(ctx).Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			return err
		},
	}
}

func secretManagerCheck(fetcher *secrets.Fetcher) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, secretHealthReference)
			if err == nil || status.Code(errors.Unwrap(err)) == codes.NotFound {
				return nil
			}
			return err
		},
	}
}

func buildIdempotencyStore(ctx context.Context, cfg config.Config, client *firestore.Client, closers *closeStack, checks *[]repositories.DependencyCheck) (idempotency.Store, error) {
	switch cfg.Idempotency.Backend {
	case config.StoreRedis:
		redisClient, err := idempotency.NewRedisClient(ctx, cfg.Idempotency.RedisAddr, cfg.Idempotency.RedisPassword)
		if err != nil {
			return nil, fmt.Errorf("idempotency redis: %w", err)
		}
		closers.push("redis", func(context.Context) error { return redisClient.Close() })
		*checks = append(*checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: 500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
		return idempotency.NewRedisStore(redisClient), nil
	case config.StoreFirestore:
		if client == nil {
			return nil, errors.New("idempotency: firestore store requires the firestore ledger")
		}
		return idempotency.NewFirestoreStore(client, idempotencyCollection), nil
	default:
		return idempotency.NewMemoryStore(), nil
	}
}

func buildEventPublisher(ctx context.Context, cfg config.Config, clientOpts []option.ClientOption, closers *closeStack, checks *[]repositories.DependencyCheck) (services.EventPublisher, error) {
	var sinks events.Multi
	sink := cfg.Events.Sink

	if sink == config.EventSinkPubSub || sink == config.EventSinkAll {
		client, err := pubsub.NewClient(ctx, firstNonEmpty(cfg.Firestore.ProjectID, cfg.Firebase.ProjectID), clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		topic := client.Topic(cfg.Events.PubSubTopic)
		closers.push("pubsub", func(context.Context) error {
			topic.Stop()
			return client.Close()
		})
		publisher, err := events.NewPubSubPublisher(topic)
		if err != nil {
			return nil, err
		}
		*checks = append(*checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("pubsub topic %q not found", cfg.Events.PubSubTopic)
				}
				return nil
			},
		})
		sinks = append(sinks, publisher)
	}

	if sink == config.EventSinkKafka || sink == config.EventSinkAll {
		publisher, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers:  cfg.Events.KafkaBrokers,
			Topic:    cfg.Events.KafkaTopic,
			ClientID: cfg.Events.KafkaClient,
		})
		if err != nil {
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		closers.push("kafka", func(context.Context) error {
			publisher.Close()
			return nil
		})
		sinks = append(sinks, publisher)
	}

	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

func buildPaymentManager(cfg config.Config, logger *zap.Logger) (*payments.Manager, error) {
	if strings.TrimSpace(cfg.Stripe.APIKey) == "" {
		logger.Warn("stripe api key not configured; checkout and payment confirmation disabled")
		return nil, nil
	}
	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:        cfg.Stripe.APIKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		AccountID:     cfg.Stripe.AccountID,
		Logger:        observability.ServiceLogger(logger.Named("stripe")),
		Clock:         time.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("stripe provider: %w", err)
	}
	return payments.NewManager(map[string]payments.Provider{
		payments.ProviderStripe: stripeProvider,
	}, payments.WithDefaultProvider(payments.ProviderStripe))
}

func buildReceiptStore(ctx context.Context, cfg config.Config, clientOpts []option.ClientOption, closers *closeStack) (*storage.ReceiptStore, error) {
	if cfg.Storage.ReceiptsBucket == "" {
		return nil, nil
	}
	signer, err := storage.NewKeySignerFromFile(cfg.Storage.SignerKeyFile)
	if err != nil {
		return nil, err
	}
	client, err := gcs.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	closers.push("storage", func(context.Context) error { return client.Close() })
	return storage.NewReceiptStore(storage.ReceiptStoreConfig{
		Bucket: cfg.Storage.ReceiptsBucket,
		Writer: storage.GCSWriter{Client: client},
		Signer: signer,
		URLTTL: cfg.Storage.URLTTL,
	})
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     firstNonEmpty(env[envKey("BUILD_VERSION")], "dev"),
		CommitSHA:   firstNonEmpty(env[envKey("BUILD_COMMIT_SHA")], "unknown"),
		Environment: environment,
		StartedAt:   started,
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string, meter metric.Meter) (*secrets.Fetcher, error) {
	lookup := func(name string) string {
		return strings.TrimSpace(env[envKey(name)])
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(firstNonEmpty(strings.ToLower(lookup("SECURITY_ENVIRONMENT")), "local")),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(firstNonEmpty(lookup("SECRET_FALLBACK_FILE"), defaultSecretFallbackFile)),
	}
	if meter != nil {
		opts = append(opts, secrets.WithMeter(meter))
	}
	if projects := parseKeyValueList(lookup("SECRET_PROJECT_IDS")); len(projects) > 0 {
		lowered := make(map[string]string, len(projects))
		for label, project := range projects {
			lowered[strings.ToLower(label)] = project
		}
		opts = append(opts, secrets.WithProjectMap(lowered))
	}
	if project := firstNonEmpty(lookup("SECRET_DEFAULT_PROJECT_ID"), lookup("FIREBASE_PROJECT_ID")); project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if pins := secretVersionPins(lookup("SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentials := lookup("FIREBASE_CREDENTIALS_FILE"); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets a deployment must resolve. Local in-memory runs may
// start without Stripe credentials.
func requiredSecretNames(env map[string]string) []string {
	if strings.EqualFold(strings.TrimSpace(env[envKey("STORE")]), config.StoreMemory) {
		return nil
	}
	required := []string{"Stripe.APIKey", "Stripe.WebhookSecret"}
	if strings.TrimSpace(env[envKey("IDEMPOTENCY_REDIS_PASSWORD")]) != "" {
		required = append(required, "Idempotency.RedisPassword")
	}
	return required
}

// secretVersionPins parses "env:ref=version" entries. Bare names and sm:// references are
// normalised to secret://.
func secretVersionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(raw) {
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			scheme := strings.Index(ref, "://")
			if scheme == -1 || idx < scheme {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		switch {
		case strings.HasPrefix(ref, "sm://"):
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		case !strings.HasPrefix(ref, "secret://"):
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
