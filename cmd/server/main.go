package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"chronoseal/internal/audit"
	auditstore "chronoseal/internal/audit/store"
	"chronoseal/internal/chain"
	chainhandler "chronoseal/internal/chain/handler"
	"chronoseal/internal/chain/lease"
	chainmetrics "chronoseal/internal/chain/metrics"
	chainstore "chronoseal/internal/chain/store"
	"chronoseal/internal/idempotency"
	idemmetrics "chronoseal/internal/idempotency/metrics"
	idemstore "chronoseal/internal/idempotency/store"
	"chronoseal/internal/jwttoken"
	"chronoseal/internal/ledger"
	ledgerhandler "chronoseal/internal/ledger/handler"
	ledgermetrics "chronoseal/internal/ledger/metrics"
	ledgerstore "chronoseal/internal/ledger/store"
	"chronoseal/internal/merkle"
	merklehandler "chronoseal/internal/merkle/handler"
	merklestore "chronoseal/internal/merkle/store"
	"chronoseal/internal/notary"
	notaryhandler "chronoseal/internal/notary/handler"
	notarymetrics "chronoseal/internal/notary/metrics"
	"chronoseal/internal/notary/qtsp"
	notarystore "chronoseal/internal/notary/store"
	"chronoseal/internal/platform/config"
	"chronoseal/internal/platform/httpserver"
	"chronoseal/internal/platform/logger"
	"chronoseal/internal/platform/postgres"
	"chronoseal/internal/platform/redis"
	httptransport "chronoseal/internal/transport/http"
	"chronoseal/internal/verify"
	verifyhandler "chronoseal/internal/verify/handler"
	verifymetrics "chronoseal/internal/verify/metrics"
)

// main wires stores, services and background jobs, then runs the HTTP server
// until a shutdown signal. Business logic lives in the internal packages.
func main() {
	log := logger.New()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		log.Error("postgres unavailable", "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
	}

	redisClient, err := redis.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Stores. Each feature has a postgres store and a memory fallback with
	// identical semantics. The chain store doubles as the event source for the
	// root builder and the verifier.
	type chainEventStore interface {
		chain.Store
		merkle.EventSource
	}
	type dailyRootStore interface {
		merkle.RootStore
		notary.RootSource
	}
	type ledgerEntryStore interface {
		ledger.Store
		notary.LedgerSource
	}
	var (
		events    chainEventStore
		rootStore dailyRootStore
		entries   ledgerEntryStore
		evidences notary.Store
		idemStore idempotency.Store
		outbox    auditstore.Store
	)
	if db != nil {
		events = chainstore.NewPostgres(db)
		rootStore = merklestore.NewPostgres(db)
		entries = ledgerstore.NewPostgres(db)
		evidences = notarystore.NewPostgres(db)
		idemStore = idemstore.NewPostgres(db)
		outbox = auditstore.NewPostgres(db)
	} else {
		events = chainstore.NewMemory()
		rootStore = merklestore.NewMemory()
		entries = ledgerstore.NewMemory()
		evidences = notarystore.NewMemory()
		idemStore = idemstore.NewMemory()
		outbox = auditstore.NewMemory()
	}

	var locker lease.Locker = lease.NewMemory()
	if redisClient != nil {
		locker = lease.NewRedis(redisClient.Client)
	}

	auditor := audit.NewPublisher(outbox, log)

	chainSvc, err := chain.New(events,
		chain.WithLogger(log),
		chain.WithMetrics(chainmetrics.New()),
		chain.WithLocker(locker),
		chain.WithMaxClockSkew(cfg.Chain.MaxClockSkew),
		chain.WithLeaseTTL(cfg.Chain.LeaseTTL),
	)
	if err != nil {
		log.Error("chain service init failed", "error", err)
		os.Exit(1)
	}

	builder, err := merkle.NewBuilder(events, rootStore, log)
	if err != nil {
		log.Error("root builder init failed", "error", err)
		os.Exit(1)
	}

	ledgerSvc, err := ledger.New(entries,
		ledger.WithLogger(log),
		ledger.WithMetrics(ledgermetrics.New()),
		ledger.WithLocker(locker),
		ledger.WithLeaseTTL(cfg.Chain.LeaseTTL),
	)
	if err != nil {
		log.Error("ledger service init failed", "error", err)
		os.Exit(1)
	}

	verifySvc, err := verify.New(events, rootStore,
		verify.WithLogger(log),
		verify.WithMetrics(verifymetrics.New()),
		verify.WithAudit(auditor),
	)
	if err != nil {
		log.Error("verify service init failed", "error", err)
		os.Exit(1)
	}

	var sealer qtsp.Sealer = qtsp.Disabled{}
	if cfg.QTSP.BaseURL != "" {
		sealer, err = qtsp.NewClient(qtsp.Config{
			BaseURL:      cfg.QTSP.BaseURL,
			LoginURL:     cfg.QTSP.LoginURL,
			ClientID:     cfg.QTSP.ClientID,
			ClientSecret: cfg.QTSP.ClientSecret,
			Timeout:      cfg.QTSP.RequestTimeout,
		})
		if err != nil {
			log.Error("qtsp client init failed", "error", err)
			os.Exit(1)
		}
	} else {
		log.Warn("QTSP_BASE_URL not set, notarization will stay pending")
	}

	notarySvc, err := notary.New(evidences, sealer,
		notary.WithLogger(log),
		notary.WithMetrics(notarymetrics.New()),
		notary.WithRoots(rootStore),
		notary.WithLedger(entries),
		notary.WithRootChecker(verifySvc),
		notary.WithAudit(auditor),
		notary.WithBackoff(notary.BackoffPolicy{
			Base:       cfg.Notary.BaseBackoff,
			Cap:        cfg.Notary.MaxBackoff,
			MaxRetries: cfg.Notary.MaxRetries,
		}),
		notary.WithSweep(cfg.Notary.SweepBatchSize, cfg.Notary.SweepParallel),
	)
	if err != nil {
		log.Error("notary service init failed", "error", err)
		os.Exit(1)
	}

	guard, err := idempotency.New(idemStore,
		idempotency.WithLogger(log),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithMetrics(idemmetrics.New()),
	)
	if err != nil {
		log.Error("idempotency guard init failed", "error", err)
		os.Exit(1)
	}

	tokens := jwttoken.New(cfg.Auth.JWTSigningKey, "chronoseal")

	notaryHandler := notaryhandler.New(notarySvc, log)
	router := httptransport.NewRouter(httptransport.Deps{
		Logger:    log,
		Guard:     guard,
		Validator: jwttoken.OperatorValidator{Tokens: tokens},
		Chain:     chainhandler.New(chainSvc, log),
		Merkle:    merklehandler.New(builder, log),
		Ledger:    ledgerhandler.New(ledgerSvc, log),
		Notary:    notaryHandler,
		Operator:  httptransport.RegistrarFunc(notaryHandler.RegisterOperator),
		Verify:    verifyhandler.New(verifySvc, log),
	})

	group, groupCtx := errgroup.WithContext(ctx)

	// Background jobs: close out yesterday's roots, sweep due seals, raise
	// message evidence for unsealed ledger entries.
	group.Go(func() error {
		return builder.RunPeriodic(groupCtx, cfg.Jobs.RootBuildInterval)
	})
	group.Go(func() error {
		return notarySvc.Run(groupCtx, cfg.Notary.SweepInterval)
	})
	group.Go(func() error {
		ticker := time.NewTicker(cfg.Notary.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return groupCtx.Err()
			case <-ticker.C:
				if _, err := notarySvc.CertifyPending(groupCtx, cfg.Notary.SweepBatchSize); err != nil {
					log.Error("certify pending failed", "error", err)
				}
			}
		}
	})

	if len(cfg.Audit.KafkaBrokers) > 0 {
		relay, err := audit.NewRelay(outbox, cfg.Audit.KafkaBrokers, cfg.Audit.Topic, cfg.Audit.BatchSize, log)
		if err != nil {
			log.Error("audit relay init failed", "error", err)
			os.Exit(1)
		}
		defer relay.Close()
		if err := relay.EnsureTopic(ctx, 3, 1); err != nil {
			log.Warn("audit topic creation failed", "error", err)
		}
		group.Go(func() error {
			return relay.Run(groupCtx, cfg.Audit.PollInterval)
		})
	}

	srv := httpserver.New(cfg.Addr, router)
	group.Go(func() error {
		log.Info("starting chronoseal", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("chronoseal stopped")
}
