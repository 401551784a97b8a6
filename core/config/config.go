// Package config provides type-safe environment variable loading with
// per-type caching. A .env file, if present, is loaded into the process
// environment once on first use; struct fields are parsed with the
// caarlos0/env tag conventions (`env:"NAME" envDefault:"..."`).
//
//	type BusConfig struct {
//		TopicName string        `env:"FARMBUS_TOPIC,required"`
//		WaitTime  time.Duration `env:"FARMBUS_WAIT_TIME" envDefault:"20s"`
//	}
//
//	var cfg BusConfig
//	config.MustLoad(&cfg)
//
// Each configuration type is loaded from the environment only once per
// process; subsequent Load calls for the same type return the cached value.
package config

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	cache      sync.Map // reflect.Type -> loaded struct value
	dotenvOnce sync.Once
)

// Load parses environment variables into cfg. The first call for a given
// type reads the environment; later calls return the cached value.
func Load[T any](cfg *T) error {
	if cfg == nil {
		return ErrNilConfig
	}

	// Missing .env is not an error; real environments set variables directly.
	dotenvOnce.Do(func() { _ = godotenv.Load() })

	t := reflect.TypeOf(*cfg)
	if v, ok := cache.Load(t); ok {
		*cfg = v.(T)
		return nil
	}

	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrParseFailed, err)
	}

	// LoadOrStore keeps the winner consistent under concurrent first loads.
	actual, _ := cache.LoadOrStore(t, *cfg)
	*cfg = actual.(T)
	return nil
}

// MustLoad is Load that panics on failure. Intended for application startup
// where a missing required variable should abort the process.
func MustLoad[T any](cfg *T) {
	if err := Load(cfg); err != nil {
		panic(err)
	}
}
