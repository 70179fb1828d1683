package main

import (
	"context"
	"crypto/ed25519"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/didcomm-mediator/mediator/acl"
	"github.com/didcomm-mediator/mediator/auth"
	sagecrypto "github.com/didcomm-mediator/mediator/crypto"
	"github.com/didcomm-mediator/mediator/crypto/storage"
	"github.com/didcomm-mediator/mediator/did"
	"github.com/didcomm-mediator/mediator/dispatcher"
	"github.com/didcomm-mediator/mediator/envelope"
	"github.com/didcomm-mediator/mediator/forward"
	_ "github.com/didcomm-mediator/mediator/internal/cryptoinit"
	"github.com/didcomm-mediator/mediator/internal/logger"
	"github.com/didcomm-mediator/mediator/live"
	"github.com/didcomm-mediator/mediator/msgstore"
	"github.com/didcomm-mediator/mediator/oob"
	"github.com/didcomm-mediator/mediator/session"
	"github.com/didcomm-mediator/mediator/wsworker"
)

// accountStore is the subset of auth.RedisAccountIndex/auth.MemoryAccountIndex
// the server actually drives at runtime; both satisfy it without either
// needing to import the other's package.
type accountStore interface {
	auth.AccountIndex
	dispatcher.AccountIndex
	AccessList(ctx context.Context, didHash string) (*acl.List, error)
	Get(ctx context.Context, didHash string) (acl.Set, error)
}

func main() {
	log := logger.NewDefaultLogger()

	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal("invalid configuration", logger.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildMessageStore(ctx, cfg)
	if err != nil {
		log.Fatal("message store unreachable", logger.Error(err))
	}
	defer closeStore()

	oobStore, closeOOB, err := buildOOBStore(ctx, cfg)
	if err != nil {
		log.Fatal("oob store unreachable", logger.Error(err))
	}
	defer closeOOB()

	accounts, closeAccounts, err := buildAccountStore(ctx, cfg)
	if err != nil {
		log.Fatal("account store unreachable", logger.Error(err))
	}
	defer closeAccounts()

	resolver, err := buildResolver(cfg)
	if err != nil {
		log.Fatal("failed to build DID resolver", logger.Error(err))
	}

	secrets, err := buildSecrets(cfg)
	if err != nil {
		log.Fatal("failed to provision mediator key-agreement material", logger.Error(err))
	}

	_, signingKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		log.Fatal("failed to generate session signing key", logger.Error(err))
	}
	issuer := session.NewTokenIssuer(signingKey, "mediator-session-1")
	sessions := session.NewManager()

	decryptor := &envelope.Decryptor{
		Resolver: resolver,
		Secrets:  secrets,
		Policy:   envelope.Policy{CryptoOperationsPerMessage: 10},
	}
	sealer := envelope.NewSealer(resolver)

	pubsub, stateStore, closeCoord := buildCoordinatorBackends(cfg)
	defer closeCoord()
	channel := "CHANNEL:" + uuid.NewString()
	coordinator := live.NewCoordinator(pubsub, stateStore, channel)
	coordinator.Start(ctx)
	defer coordinator.Close()

	expander := &forward.Expander{
		Resolver:         resolver,
		Store:            store,
		ACLs:             accounts,
		MaxRecipientKeys: cfg.MaxRecipientKeys,
		MessageExpiry:    cfg.MessageExpiry,
	}

	d := &dispatcher.Dispatcher{
		MediatorDID: cfg.MediatorDID,
		Store:       store,
		ACLs:        accounts,
		Accounts:    accounts,
		Sessions:    sessions,
		Coordinator: coordinator,
		Forwarder:   expander,
		Sealer:      sealer,
		Limits:      dispatcher.Limits{MaxListLimit: cfg.MaxListLimit},
	}

	authenticator := auth.NewAuthenticator(sessions, issuer, decryptor, accounts)
	wsServer := wsworker.NewServer(resolver, decryptor, d, coordinator, accounts, cfg.MaxFrameLen)

	srv := &httpServer{
		cfg:           cfg,
		log:           log,
		resolver:      resolver,
		decryptor:     decryptor,
		dispatcher:    d,
		authenticator: authenticator,
		issuer:        issuer,
		sessions:      sessions,
		ws:            wsServer,
		oob:           oobStore,
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("mediator listening", logger.String("addr", cfg.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return runExpirySweep(gctx, store, log)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Error("mediator exited with error", logger.Error(err))
	}
	log.Info("mediator shut down cleanly")
}

// runExpirySweep drives msgstore.Store.ExpireSweep on a fixed interval
// until ctx is cancelled, the background job spec §4.6 describes as
// separate from the request path.
func runExpirySweep(ctx context.Context, store msgstore.Store, log logger.Logger) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := store.ExpireSweep(ctx, time.Now())
			if err != nil {
				log.Error("expire sweep failed", logger.Error(err))
				continue
			}
			if n > 0 {
				log.Info("expire sweep removed messages", logger.Int("count", n))
			}
		}
	}
}

func buildMessageStore(ctx context.Context, cfg *config) (msgstore.Store, func(), error) {
	limits := msgstore.Limits{MaxBytesPerDID: cfg.MaxBytesPerDID, MaxCountPerDID: cfg.MaxCountPerDID}
	if !cfg.UseRedis {
		return msgstore.NewMemoryStore(limits, cfg.MaxListLimit), func() {}, nil
	}
	rs, err := msgstore.NewRedisStore(ctx, msgstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, limits, cfg.MaxListLimit)
	if err != nil {
		return nil, nil, err
	}
	return rs, func() { _ = rs.Close() }, nil
}

func buildOOBStore(ctx context.Context, cfg *config) (oob.Store, func(), error) {
	if !cfg.UseRedis {
		return oob.NewMemoryStore(), func() {}, nil
	}
	rs, err := oob.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	return rs, func() { _ = rs.Close() }, nil
}

func buildAccountStore(ctx context.Context, cfg *config) (accountStore, func(), error) {
	if !cfg.UseRedis {
		return auth.NewMemoryAccountIndex(cfg.RootAdminDID, cfg.MediatorDID), func() {}, nil
	}
	idx, err := auth.NewRedisAccountIndex(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RootAdminDID, cfg.MediatorDID)
	if err != nil {
		return nil, nil, err
	}
	return idx, func() { _ = idx.Close() }, nil
}

// buildCoordinatorBackends chooses the live-delivery pub/sub and shared
// state backend. The pub/sub is a Postgres LISTEN/NOTIFY pool when a DSN is
// configured and the pool can be created; otherwise (including when
// pgxpool.New fails) it is the in-process pub/sub. The state store is the
// in-process one in every case.
func buildCoordinatorBackends(cfg *config) (live.PubSub, live.StateStore, func()) {
	dsn := envOr("MEDIATOR_POSTGRES_DSN", "")
	if dsn == "" {
		return live.NewMemoryPubSub(), live.NewMemoryStateStore(), func() {}
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return live.NewMemoryPubSub(), live.NewMemoryStateStore(), func() {}
	}
	return live.NewPgxPubSub(pool), live.NewMemoryStateStore(), func() { pool.Close() }
}

// buildResolver constructs the local-development DID resolver (spec §1
// treats DID method resolution as an external collaborator; StaticResolver
// is this process's stand-in for that collaborator), wrapped in the
// read-through cache every other resolution path in this codebase expects.
func buildResolver(cfg *config) (did.Resolver, error) {
	static := did.NewStaticResolver()
	if cfg.DIDDocumentsPath != "" {
		if err := static.LoadFile(cfg.DIDDocumentsPath); err != nil {
			return nil, err
		}
	}
	return did.NewCachingResolver(static, cfg.ResolverCacheTTL), nil
}

// buildSecrets provisions the mediator's own key-agreement material. A
// fresh X25519 key pair is generated and stored under the kid the
// mediator's own DID document is expected to publish, keyed through the
// same KeyStorage abstraction crypto/storage exposes for every other
// persisted key pair in this codebase.
func buildSecrets(cfg *config) (envelope.Secrets, error) {
	ks := storage.NewMemoryKeyStorage()
	kp, err := sagecrypto.GenerateX25519KeyPair()
	if err != nil {
		return nil, err
	}
	kid := cfg.MediatorDID + "#key-agreement-1"
	if err := ks.Store(kid, kp); err != nil {
		return nil, err
	}
	return envelope.NewKeyStorageSecrets(ks), nil
}
