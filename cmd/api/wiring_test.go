package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bookporter/api/internal/platform/config"
)

func TestSecretVersionPins(t *testing.T) {
	pins := secretVersionPins("prod:stripe_api_key=5, sm://stripe_webhook=2,secret://redis=3,broken,=1")
	want := map[string]string{
		"prod:secret://stripe_api_key": "5",
		"secret://stripe_webhook":      "2",
		"secret://redis":               "3",
	}
	if len(pins) != len(want) {
		t.Fatalf("expected %d pins, got %v", len(want), pins)
	}
	for ref, version := range want {
		if pins[ref] != version {
			t.Fatalf("expected %s=%s, got %v", ref, version, pins)
		}
	}
}

func TestRequiredSecretNames(t *testing.T) {
	if got := requiredSecretNames(map[string]string{"BOOKPORTER_STORE": "Memory"}); len(got) != 0 {
		t.Fatalf("expected no required secrets for memory store, got %v", got)
	}
	got := requiredSecretNames(map[string]string{"BOOKPORTER_IDEMPOTENCY_REDIS_PASSWORD": "secret://redis"})
	if len(got) != 3 || got[0] != "Stripe.APIKey" || got[2] != "Idempotency.RedisPassword" {
		t.Fatalf("unexpected required secrets %v", got)
	}
}

func TestBuildInfoFromEnv(t *testing.T) {
	started := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	info := buildInfoFromEnv(map[string]string{"BOOKPORTER_BUILD_VERSION": "1.4.0"}, config.Config{}, started)
	if info.Version != "1.4.0" || info.CommitSHA != "unknown" || info.Environment != "local" || !info.StartedAt.Equal(started) {
		t.Fatalf("unexpected build info %+v", info)
	}
}

func TestCloseStackRunsInReverse(t *testing.T) {
	var order []string
	var stack closeStack
	stack.push("first", func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	stack.push("second", func(context.Context) error {
		order = append(order, "second")
		return errors.New("boom")
	})
	stack.run(zap.NewNop())
	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Fatalf("expected reverse close order, got %v", order)
	}
}

func TestBuildEventPublisherNoneSink(t *testing.T) {
	var stack closeStack
	publisher, err := buildEventPublisher(context.Background(), config.Config{Events: config.EventsConfig{Sink: config.EventSinkNone}}, nil, &stack, nil)
	if err != nil || publisher != nil {
		t.Fatalf("expected no publisher, got %v %v", publisher, err)
	}
}
