package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultRateLimitPublic      = 120
	defaultRateLimitAuth        = 240
	defaultRateLimitWebhook     = 60
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultSecurityIAPIssuer    = "https://cloud.google.com/iap"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultReceiptURLTTL        = 5 * time.Minute
	defaultCurrency             = "USD"

	StoreMemory    = "memory"
	StoreFirestore = "firestore"
	StoreRedis     = "redis"

	EventSinkNone   = "none"
	EventSinkPubSub = "pubsub"
	EventSinkKafka  = "kafka"
	EventSinkAll    = "all"
)

// Config captures runtime configuration grouped by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Store       StoreConfig
	Storage     StorageConfig
	Stripe      StripeConfig
	Events      EventsConfig
	RateLimits  RateLimitConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
	Catalog     CatalogConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StoreConfig selects the order ledger backend. "memory" is for local runs only.
type StoreConfig struct {
	Backend string
}

// StorageConfig configures the invoice receipt archive. Receipts are disabled when
// ReceiptsBucket is empty.
type StorageConfig struct {
	ReceiptsBucket string
	SignerKeyFile  string
	URLTTL         time.Duration
}

// StripeConfig holds Checkout credentials and redirect targets. {ORDER_ID} in the URLs is
// replaced per order.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	AccountID     string
	SuccessURL    string
	CancelURL     string
}

// EventsConfig selects where domain events are published.
type EventsConfig struct {
	Sink         string
	PubSubTopic  string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaClient  string
}

type RateLimitConfig struct {
	PublicPerMinute        int
	AuthenticatedPerMinute int
	WebhookBurst           int
}

type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification for /internal routes.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

type IdempotencyConfig struct {
	Backend          string
	RedisAddr        string
	RedisPassword    string
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// CatalogConfig holds marketplace-wide catalogue settings.
type CatalogConfig struct {
	Currency string
}

// ValidationError is returned when required fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func defaultOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// WithEnvFile overrides the dotenv path. An empty path disables dotenv loading.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects explicit values that win over the OS environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv stops Load from consulting the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks config fields (e.g. "Stripe.APIKey") that must resolve to a value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// WithPanicOnMissingSecrets makes Load panic instead of returning MissingSecretsError.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) { o.panicOnMissingSecrets = true }
}

// EnvironmentValues returns the merged key/value environment Load would see, so callers can
// build the secret fetcher before loading.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	e, err := newEnv(defaultOptions(opts))
	if err != nil {
		return nil, err
	}
	return e.values(), nil
}

// Load assembles configuration from defaults, the dotenv file, the environment and
// secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultOptions(opts)
	e, err := newEnv(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         e.str("SERVER_PORT", defaultPort),
			ReadTimeout:  e.duration("SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: e.duration("SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  e.duration("SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       e.str("FIREBASE_PROJECT_ID", ""),
			CredentialsFile: e.str("FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    e.str("FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: e.str("FIRESTORE_EMULATOR_HOST", ""),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(e.str("STORE", StoreFirestore)),
		},
		Storage: StorageConfig{
			ReceiptsBucket: e.str("STORAGE_RECEIPTS_BUCKET", ""),
			SignerKeyFile:  e.str("STORAGE_SIGNER_KEY_FILE", ""),
			URLTTL:         e.duration("STORAGE_RECEIPT_URL_TTL", defaultReceiptURLTTL),
		},
		Stripe: StripeConfig{
			APIKey:        e.str("STRIPE_API_KEY", ""),
			WebhookSecret: e.str("STRIPE_WEBHOOK_SECRET", ""),
			AccountID:     e.str("STRIPE_ACCOUNT_ID", ""),
			SuccessURL:    e.str("STRIPE_SUCCESS_URL", ""),
			CancelURL:     e.str("STRIPE_CANCEL_URL", ""),
		},
		Events: EventsConfig{
			Sink:         strings.ToLower(e.str("EVENTS_SINK", EventSinkNone)),
			PubSubTopic:  e.str("EVENTS_PUBSUB_TOPIC", ""),
			KafkaBrokers: e.list("EVENTS_KAFKA_BROKERS"),
			KafkaTopic:   e.str("EVENTS_KAFKA_TOPIC", ""),
			KafkaClient:  e.str("EVENTS_KAFKA_CLIENT_ID", "bookporter-api"),
		},
		RateLimits: RateLimitConfig{
			PublicPerMinute:        e.integer("RATELIMIT_PUBLIC_PER_MIN", defaultRateLimitPublic),
			AuthenticatedPerMinute: e.integer("RATELIMIT_AUTH_PER_MIN", defaultRateLimitAuth),
			WebhookBurst:           e.integer("RATELIMIT_WEBHOOK_BURST", defaultRateLimitWebhook),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(e.str("SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:   e.str("SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  e.str("SECURITY_OIDC_AUDIENCE", ""),
				Audiences: e.pairs("SECURITY_OIDC_AUDIENCES"),
				Issuers:   e.list("SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Backend:          strings.ToLower(e.str("IDEMPOTENCY_STORE", "")),
			RedisAddr:        e.str("IDEMPOTENCY_REDIS_ADDR", ""),
			RedisPassword:    e.str("IDEMPOTENCY_REDIS_PASSWORD", ""),
			Header:           e.str("IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              e.duration("IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  e.duration("IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: e.integer("IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Catalog: CatalogConfig{
			Currency: strings.ToUpper(e.str("CATALOG_CURRENCY", defaultCurrency)),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Idempotency.Backend == "" {
		cfg.Idempotency.Backend = cfg.Store.Backend
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		cfg.Security.OIDC.Audience = cfg.Security.OIDC.Audiences[cfg.Security.Environment]
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Stripe.APIKey", &cfg.Stripe.APIKey},
		{"Stripe.WebhookSecret", &cfg.Stripe.WebhookSecret},
		{"Idempotency.RedisPassword", &cfg.Idempotency.RedisPassword},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var invalid []string
	add := func(ok bool, field string) {
		if !ok {
			invalid = append(invalid, field)
		}
	}

	add(cfg.Server.Port != "", "Server.Port")
	add(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	add(cfg.Store.Backend == StoreMemory || cfg.Store.Backend == StoreFirestore, "Store.Backend")
	if cfg.Store.Backend == StoreFirestore {
		add(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	}
	add(len(cfg.Catalog.Currency) == 3, "Catalog.Currency")

	switch cfg.Events.Sink {
	case EventSinkNone:
	case EventSinkPubSub:
		add(cfg.Events.PubSubTopic != "", "Events.PubSubTopic")
	case EventSinkKafka:
		add(len(cfg.Events.KafkaBrokers) > 0, "Events.KafkaBrokers")
		add(cfg.Events.KafkaTopic != "", "Events.KafkaTopic")
	case EventSinkAll:
		add(cfg.Events.PubSubTopic != "", "Events.PubSubTopic")
		add(len(cfg.Events.KafkaBrokers) > 0, "Events.KafkaBrokers")
		add(cfg.Events.KafkaTopic != "", "Events.KafkaTopic")
	default:
		add(false, "Events.Sink")
	}

	switch cfg.Idempotency.Backend {
	case StoreMemory, StoreFirestore:
	case StoreRedis:
		add(cfg.Idempotency.RedisAddr != "", "Idempotency.RedisAddr")
	default:
		add(false, "Idempotency.Backend")
	}
	add(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	add(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	add(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	add(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")
	if cfg.Storage.ReceiptsBucket != "" {
		add(cfg.Storage.URLTTL > 0 && cfg.Storage.URLTTL <= 15*time.Minute, "Storage.URLTTL")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}
