// Package main is the mediator server's composition root: it reads its
// configuration from the environment (spec §1/§2.3 treats config-file
// parsing as an external collaborator), wires the store, dispatcher,
// coordinator, and HTTP/WS surfaces together, and drives the background
// expiry sweep and coordinator loops for the lifetime of the process.
package main

import (
	"os"
	"strconv"
	"time"
)

type config struct {
	ListenAddr string

	MediatorDID  string
	RootAdminDID string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	UseRedis      bool

	DIDDocumentsPath string

	MaxListLimit     int
	MaxBytesPerDID   int64
	MaxCountPerDID   int64
	MaxRecipientKeys int
	MessageExpiry    time.Duration
	MaxFrameLen      int

	ResolverCacheTTL time.Duration
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64Or(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envDurationOr(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// loadConfig reads every MEDIATOR_* environment variable the composition
// root needs. MEDIATOR_DID and MEDIATOR_ROOT_ADMIN_DID are mandatory;
// everything else carries a workable local-development default.
func loadConfig() (*config, error) {
	cfg := &config{
		ListenAddr:       envOr("MEDIATOR_LISTEN_ADDR", ":8080"),
		MediatorDID:      os.Getenv("MEDIATOR_DID"),
		RootAdminDID:     os.Getenv("MEDIATOR_ROOT_ADMIN_DID"),
		RedisAddr:        os.Getenv("MEDIATOR_REDIS_ADDR"),
		RedisPassword:    os.Getenv("MEDIATOR_REDIS_PASSWORD"),
		RedisDB:          envIntOr("MEDIATOR_REDIS_DB", 0),
		DIDDocumentsPath: os.Getenv("MEDIATOR_DID_DOCUMENTS_PATH"),
		MaxListLimit:     envIntOr("MEDIATOR_MAX_LIST_LIMIT", 100),
		MaxBytesPerDID:   envInt64Or("MEDIATOR_MAX_BYTES_PER_DID", 10<<20),
		MaxCountPerDID:   envInt64Or("MEDIATOR_MAX_COUNT_PER_DID", 1000),
		MaxRecipientKeys: envIntOr("MEDIATOR_MAX_RECIPIENT_KEYS", 10),
		MessageExpiry:    envDurationOr("MEDIATOR_MESSAGE_EXPIRY", 7*24*time.Hour),
		MaxFrameLen:      envIntOr("MEDIATOR_MAX_FRAME_LEN", 64<<10),
		ResolverCacheTTL: envDurationOr("MEDIATOR_RESOLVER_CACHE_TTL", 5*time.Minute),
	}
	cfg.UseRedis = cfg.RedisAddr != ""

	if cfg.MediatorDID == "" {
		return nil, errRequired("MEDIATOR_DID")
	}
	if cfg.RootAdminDID == "" {
		return nil, errRequired("MEDIATOR_ROOT_ADMIN_DID")
	}
	return cfg, nil
}

type missingEnvErr string

func (e missingEnvErr) Error() string { return "missing required environment variable " + string(e) }

func errRequired(key string) error { return missingEnvErr(key) }
