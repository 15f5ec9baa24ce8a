package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// SecretResolver resolves secret references such as secret://stripe/api-key.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// SecretError describes a failed secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError lists required secrets that resolved to empty values. Error() only
// prints hashed names.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the config field names of the missing secrets.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	return slices.Clone(e.names)
}

// RedactedNames returns short hashes of the missing names, safe for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		out = append(out, hex.EncodeToString(sum[:8]))
	}
	slices.Sort(out)
	return out
}

func isSecretReference(value string) bool {
	value = strings.TrimSpace(value)
	return strings.HasPrefix(value, "secret://") || strings.HasPrefix(value, "sm://")
}

// normalizeSecretReference rewrites the legacy sm:// scheme to secret://.
func normalizeSecretReference(value string) string {
	value = strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(value, "sm://"); ok {
		return "secret://" + rest
	}
	return value
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var names []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || slices.Contains(names, name) {
			continue
		}
		if strings.TrimSpace(resolved[name]) == "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	slices.Sort(names)
	return &MissingSecretsError{names: names}
}
