package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"membergate/internal/audit"
	audithandler "membergate/internal/audit/handler"
	"membergate/internal/audit/outbox"
	auditmem "membergate/internal/audit/store/memory"
	auditpg "membergate/internal/audit/store/postgres"
	"membergate/internal/guard"
	httpapi "membergate/internal/http"
	"membergate/internal/notify"
	"membergate/internal/onboarding"
	onboardinghandler "membergate/internal/onboarding/handler"
	onbmem "membergate/internal/onboarding/store/memory"
	onbpg "membergate/internal/onboarding/store/postgres"
	"membergate/internal/org"
	orghandler "membergate/internal/org/handler"
	orgmem "membergate/internal/org/store/memory"
	orgpg "membergate/internal/org/store/postgres"
	"membergate/internal/platform/config"
	"membergate/internal/platform/httpserver"
	"membergate/internal/platform/logger"
	"membergate/internal/platform/metrics"
	"membergate/internal/platform/redis"
	"membergate/internal/token"
	"membergate/internal/vault"
	vaulthandler "membergate/internal/vault/handler"
	"membergate/internal/vault/secrets"
	vaultmem "membergate/internal/vault/store/memory"
	vaultpg "membergate/internal/vault/store/postgres"
	"membergate/internal/vault/store/revocation"
	"membergate/internal/verification"
	"membergate/internal/verification/external"
	verificationhandler "membergate/internal/verification/handler"
	verifmem "membergate/internal/verification/store/memory"
	verifpg "membergate/internal/verification/store/postgres"
	id "membergate/pkg/domain"
)

const (
	revocationCacheTTL = 24 * time.Hour
	shutdownTimeout    = 10 * time.Second
)

// stores groups one persistence backend per feature so main can swap the
// whole set between memory and postgres in one place.
type stores struct {
	orgs         org.Store
	onboarding   onboarding.Store
	verification verification.CaseStore
	vault        vault.Store
	audit        audit.Store
}

// lazyStarter breaks the wiring cycle between the organization service and
// the onboarding service: orgs need a starter at construction time, but the
// onboarding service needs the org service's endpoint directory first.
type lazyStarter struct {
	svc *onboarding.Service
}

func (l *lazyStarter) Start(ctx context.Context, orgID id.OrgID) error {
	return l.svc.Start(ctx, orgID)
}

func main() {
	log := logger.New()
	if err := run(log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg := config.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	verifier := token.NewVerifier(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)

	st, cleanup, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	// Audit publisher, optionally mirrored to Kafka via the outbox worker.
	var (
		publisherOpts []audit.Option
		worker        *outbox.Worker
	)
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := outbox.Connect(ctx, cfg.Kafka)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer producer.Close()
		inbox := make(chan audit.Entry, 1024)
		publisherOpts = append(publisherOpts, audit.WithMirror(inbox))
		worker = outbox.NewWorker(producer, cfg.Kafka.Topic, inbox, log)
	}
	publisher := audit.NewPublisher(st.audit, publisherOpts...)
	if err := publisher.Verify(ctx); err != nil {
		return fmt.Errorf("audit store verification: %w", err)
	}

	// Credential vault, with the Redis revocation cache when configured.
	vaultOpts := []vault.Option{vault.WithMetrics(m)}
	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		vaultOpts = append(vaultOpts, vault.WithRevocationCache(revocation.NewRedisCache(redisClient.Client, revocationCacheTTL)))
	}
	credentials := vault.New(st.vault, secrets.NewSource(), publisher, log, vaultOpts...)

	starter := &lazyStarter{}
	orgs := org.NewService(st.orgs, starter, publisher, log)

	cases := verification.NewService(st.verification, orgs, extractor(cfg, log), registry(cfg, log), publisher, log,
		verification.WithThresholds(verification.Thresholds{
			AutoVerify: cfg.Verification.AutoVerifyThreshold,
			Flag:       cfg.Verification.FlagThreshold,
		}),
		verification.WithMaxExtractionRetries(cfg.Verification.MaxExtractionRetries),
		verification.WithMetrics(m),
	)

	starter.svc = onboarding.NewService(st.onboarding, orgs, cases, credentials, notify.NewLogDispatcher(log), publisher, log,
		onboarding.WithMetrics(m),
	)

	g := guard.New(verifier, orgs, publisher, log, guard.WithMetrics(m))

	router := httpapi.NewRouter(httpapi.Deps{
		Guard:        g,
		Orgs:         orghandler.New(orgs, g, log),
		Onboarding:   onboardinghandler.New(starter.svc, g, log),
		Verification: verificationhandler.New(cases, g, log),
		Credentials:  vaulthandler.New(credentials, orgs, g, log),
		Audit:        audithandler.New(publisher, g, log),
	})

	srv := httpserver.New(cfg.Addr, router)
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting membergate", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if worker != nil {
		group.Go(func() error {
			if err := worker.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("audit outbox worker: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// openStores picks postgres when DATABASE_URL is set and falls back to the
// in-memory stores otherwise. The returned cleanup closes the pool.
func openStores(ctx context.Context, cfg config.Config, log *slog.Logger) (stores, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		return stores{
			orgs:         orgmem.New(),
			onboarding:   onbmem.New(),
			verification: verifmem.New(),
			vault:        vaultmem.New(),
			audit:        auditmem.New(),
		}, func() {}, nil
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return stores{}, nil, fmt.Errorf("open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return stores{}, nil, fmt.Errorf("ping database: %w", err)
	}
	return stores{
		orgs:         orgpg.New(db),
		onboarding:   onbpg.New(db),
		verification: verifpg.New(db),
		vault:        vaultpg.New(db),
		audit:        auditpg.New(db),
	}, func() { db.Close() }, nil
}

func extractor(cfg config.Config, log *slog.Logger) verification.Extractor {
	if cfg.Collaborators.ExtractorURL == "" {
		log.Warn("EXTRACTOR_URL not set, using local extraction stand-in")
		return external.DevExtractor{}
	}
	return external.NewHTTPExtractor(cfg.Collaborators)
}

func registry(cfg config.Config, log *slog.Logger) verification.RegistryLookup {
	if cfg.Collaborators.RegistryURL == "" {
		log.Warn("REGISTRY_URL not set, using local registry stand-in")
		return external.DevRegistry{}
	}
	return external.NewHTTPRegistry(cfg.Collaborators)
}
