// Package secrets resolves secret:// references against Google Secret Manager, with an
// in-process cache and a local file fallback for development.
package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	defaultCacheTTL     = 10 * time.Minute
	meterName           = "github.com/bookporter/api/internal/platform/secrets"
)

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (secretManagerClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret references. Safe for concurrent use.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger
	now        func() time.Time

	env         string
	project     string
	projectMap  map[string]string
	versionPins map[string]string
	ttl         time.Duration

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	mu    sync.Mutex
	cache map[string]cachedSecret

	latency   metric.Float64Histogram
	cacheHits metric.Int64Counter
}

type cachedSecret struct {
	value     string
	fetchedAt time.Time
}

type settings struct {
	logger       *zap.Logger
	env          string
	project      string
	projectMap   map[string]string
	versionPins  map[string]string
	fallbackPath string
	ttl          time.Duration
	meter        metric.Meter
	client       secretManagerClient
	clientOpts   []option.ClientOption
	clock        func() time.Time
}

// Option customises Fetcher construction.
type Option func(*settings)

func WithLogger(logger *zap.Logger) Option { return func(s *settings) { s.logger = logger } }

// WithEnvironment selects the entry of the project map and env-scoped version pins.
func WithEnvironment(env string) Option {
	return func(s *settings) { s.env = strings.ToLower(strings.TrimSpace(env)) }
}

func WithDefaultProject(projectID string) Option { return func(s *settings) { s.project = projectID } }

// WithProjectMap maps environment names to Secret Manager projects.
func WithProjectMap(m map[string]string) Option { return func(s *settings) { s.projectMap = m } }

// WithVersionPins pins references (optionally "env:secret://name") to versions.
func WithVersionPins(pins map[string]string) Option { return func(s *settings) { s.versionPins = pins } }

// WithFallbackFile points at a "secret://name=value" file consulted when Secret Manager is
// unreachable or unauthorised.
func WithFallbackFile(path string) Option { return func(s *settings) { s.fallbackPath = path } }

// WithCacheTTL bounds how long resolved values are reused. Zero keeps them for the
// process lifetime.
func WithCacheTTL(ttl time.Duration) Option { return func(s *settings) { s.ttl = ttl } }

func WithMeter(m metric.Meter) Option { return func(s *settings) { s.meter = m } }

func WithSecretManagerClient(client secretManagerClient) Option {
	return func(s *settings) { s.client = client }
}

func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) { s.clientOpts = append(s.clientOpts, opts...) }
}

func withClock(clock func() time.Time) Option { return func(s *settings) { s.clock = clock } }

// NewFetcher builds a Fetcher. A missing Secret Manager client is not fatal: the fetcher
// then serves from the fallback file only.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{
		logger:       zap.NewNop(),
		env:          defaultEnvironment,
		fallbackPath: defaultFallbackPath,
		ttl:          defaultCacheTTL,
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.meter == nil {
		s.meter = otel.GetMeterProvider().Meter(meterName)
	}

	f := &Fetcher{
		client:       s.client,
		logger:       s.logger,
		now:          s.clock,
		env:          s.env,
		project:      strings.TrimSpace(s.project),
		projectMap:   cloneMap(s.projectMap),
		versionPins:  cloneMap(s.versionPins),
		ttl:          s.ttl,
		fallbackPath: s.fallbackPath,
		cache:        make(map[string]cachedSecret),
	}

	var err error
	if f.latency, err = s.meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"), metric.WithDescription("Latency of secret resolution")); err != nil {
		s.logger.Warn("secrets: latency metric unavailable", zap.Error(err))
	}
	if f.cacheHits, err = s.meter.Int64Counter("secrets.fetch.cache_hits",
		metric.WithDescription("Secret resolutions served from cache")); err != nil {
		s.logger.Warn("secrets: cache hit metric unavailable", zap.Error(err))
	}

	if f.client == nil {
		client, err := newSecretManagerClient(ctx, s.clientOpts...)
		if err != nil {
			s.logger.Warn("secrets: secret manager unavailable; using fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret makes Fetcher usable as a config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the value for ref, consulting the cache, Secret Manager and then the
// fallback file. NotFound from Secret Manager is returned as is.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := f.now()
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	version := f.version(parsed)
	key := parsed.canonical + "#" + version

	if value, ok := f.cached(key); ok {
		if f.cacheHits != nil {
			f.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", mask(parsed.canonical))))
		}
		f.observe(ctx, start, "cache")
		return value, nil
	}

	if project := f.projectFor(parsed); project != "" && f.client != nil {
		value, err := f.fetchRemote(ctx, project, parsed.name, version)
		if err == nil {
			f.store(key, value)
			f.observe(ctx, start, "remote")
			return value, nil
		}
		if !fallbackAllowed(err) {
			f.observe(ctx, start, "error")
			return "", fmt.Errorf("secrets: fetch %s: %w", parsed.canonical, err)
		}
		f.logger.Debug("secrets: using fallback file", zap.String("secret", mask(parsed.canonical)), zap.Error(err))
	}

	value, ok := f.lookupFallback(parsed.canonical, version)
	if !ok {
		f.observe(ctx, start, "error")
		return "", fmt.Errorf("secrets: no value for %s", parsed.canonical)
	}
	f.store(key, value)
	f.observe(ctx, start, "fallback")
	return value, nil
}

// Invalidate drops every cached version of ref.
func (f *Fetcher) Invalidate(ref string) {
	parsed, err := parseReference(ref)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.cache {
		if strings.HasPrefix(key, parsed.canonical+"#") {
			delete(f.cache, key)
		}
	}
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.cache[key]
	if !ok {
		return "", false
	}
	if f.ttl > 0 && f.now().Sub(entry.fetchedAt) > f.ttl {
		delete(f.cache, key)
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) store(key, value string) {
	f.mu.Lock()
	f.cache[key] = cachedSecret{value: value, fetchedAt: f.now()}
	f.mu.Unlock()
}

func (f *Fetcher) fetchRemote(ctx context.Context, project, name, version string) (string, error) {
	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, name, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secret manager returned empty payload for %s", resource)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) projectFor(ref reference) string {
	if ref.project != "" {
		return ref.project
	}
	if id := strings.TrimSpace(f.projectMap[f.env]); id != "" {
		return id
	}
	return f.project
}

func (f *Fetcher) version(ref reference) string {
	if ref.version != "" {
		return ref.version
	}
	for _, key := range []string{f.env + ":" + ref.canonical, ref.canonical} {
		if pin := strings.TrimSpace(f.versionPins[key]); pin != "" {
			return pin
		}
	}
	return "latest"
}

func (f *Fetcher) lookupFallback(canonical, version string) (string, bool) {
	f.fallbackOnce.Do(func() {
		values, err := readFallbackFile(f.fallbackPath)
		if err != nil {
			f.logger.Warn("secrets: fallback file unreadable", zap.Error(err))
		}
		f.fallback = values
	})
	if value, ok := f.fallback[canonical+"#"+version]; ok {
		return value, true
	}
	value, ok := f.fallback[canonical]
	return value, ok
}

// readFallbackFile parses "secret://name[?version=N]=value" lines. Keys contain ':' so the
// file is read line by line rather than as dotenv.
func readFallbackFile(path string) (map[string]string, error) {
	values := map[string]string{}
	if strings.TrimSpace(path) == "" {
		return values, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return values, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if rest, legacy := strings.CutPrefix(key, "sm://"); legacy {
			key = "secret://" + rest
		}
		parsed, err := parseReference(key)
		if err != nil {
			continue
		}
		value = strings.TrimSpace(value)
		values[parsed.canonical] = value
		if parsed.version != "" {
			values[parsed.canonical+"#"+parsed.version] = value
		}
	}
	return values, scanner.Err()
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string) {
	if f.latency == nil {
		return
	}
	elapsed := float64(f.now().Sub(start)) / float64(time.Millisecond)
	f.latency.Record(ctx, elapsed, metric.WithAttributes(attribute.String("source", source)))
}

type reference struct {
	canonical string
	name      string
	version   string
	project   string
}

func parseReference(ref string) (reference, error) {
	if strings.TrimSpace(ref) == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	query := u.Query()
	return reference{
		canonical: "secret://" + name,
		name:      name,
		version:   strings.TrimSpace(query.Get("version")),
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

// fallbackAllowed reports whether err means Secret Manager is unreachable for this caller
// rather than the secret being absent.
func fallbackAllowed(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

func mask(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(sum[:8])
}

func cloneMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
