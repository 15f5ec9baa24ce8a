package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "BOOKPORTER_"

// env resolves BOOKPORTER_* keys with precedence explicit map > OS env > dotenv file.
type env struct {
	explicit map[string]string
	system   bool
	dotenv   map[string]string
}

func newEnv(options loaderOptions) (env, error) {
	dotenv, err := readDotEnv(options.envFile)
	if err != nil {
		return env{}, err
	}
	return env{explicit: options.envMap, system: options.useSystemEnv, dotenv: dotenv}, nil
}

func readDotEnv(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}

func (e env) lookup(name string) (string, bool) {
	key := envPrefix + name
	if value, ok := e.explicit[key]; ok {
		return value, true
	}
	if e.system {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
	}
	value, ok := e.dotenv[key]
	return value, ok
}

// values flattens every source into one map using the same precedence as lookup.
func (e env) values() map[string]string {
	out := make(map[string]string, len(e.dotenv))
	for k, v := range e.dotenv {
		out[k] = v
	}
	if e.system {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if ok && strings.TrimSpace(key) != "" {
				out[key] = value
			}
		}
	}
	for k, v := range e.explicit {
		out[k] = v
	}
	return out
}

func (e env) str(name, fallback string) string {
	if value, ok := e.lookup(name); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func (e env) duration(name string, fallback time.Duration) time.Duration {
	if value, ok := e.lookup(name); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func (e env) integer(name string, fallback int) int {
	if value, ok := e.lookup(name); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return fallback
}

func (e env) boolean(name string, fallback bool) bool {
	value, ok := e.lookup(name)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fallback
}

func (e env) list(name string) []string {
	raw, _ := e.lookup(name)
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// pairs parses "k1=v1,k2=v2"; keys are lower-cased.
func (e env) pairs(name string) map[string]string {
	out := make(map[string]string)
	for _, entry := range e.list(name) {
		key, value, ok := strings.Cut(entry, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if ok && key != "" && value != "" {
			out[key] = value
		}
	}
	return out
}
