package main

import (
	"context"
	"crypto/rsa"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cwrk-planet/mainroom-service/config"
	"github.com/cwrk-planet/mainroom-service/internal/cache"
	"github.com/cwrk-planet/mainroom-service/internal/credential"
	"github.com/cwrk-planet/mainroom-service/internal/events"
	"github.com/cwrk-planet/mainroom-service/internal/postgres"
	"github.com/cwrk-planet/mainroom-service/internal/repository"
	"github.com/cwrk-planet/mainroom-service/internal/service"
	"github.com/cwrk-planet/mainroom-service/internal/sqlite"
	grpcx "github.com/cwrk-planet/mainroom-service/internal/transport/grpc"
	httpx "github.com/cwrk-planet/mainroom-service/internal/transport/http"
	"github.com/cwrk-planet/mainroom-service/pkg/logger"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
)

// storage: набор репозиториев выбранного драйвера
type storage struct {
	locker repository.RoomLocker
	rooms  repository.RoomRepository
	parts  repository.ParticipantRepository
	events repository.EventRepository
	ping   func(ctx context.Context) error
	close  func()
}

func main() {
	// .env опционален, нужен для локального запуска
	_ = godotenv.Load()

	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		Level:     logger.ParseLevel(cfg.Logging.Level),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting mainroom-service",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version, "storage", cfg.Storage.Driver)

	// trace/span id попадают в логи через logger.FromCtx
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- storage ---
	st, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer st.close()

	// --- credentials ---
	issuer, err := newIssuer(cfg)
	if err != nil {
		log.Fatalf("credential: %v", err)
	}
	if err := issuer.CheckKeyPair(ctx); err != nil {
		log.Fatalf("credential: %v", err)
	}

	var wg sync.WaitGroup

	// --- events ---
	var eventLog service.EventLog
	switch cfg.Events.Mode {
	case "asynq":
		opt, err := asynq.ParseRedisURI(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("events: parse redis uri: %v", err)
		}
		pub := events.NewAsynqPublisher(opt, cfg.Events.Queue, cfg.Events.MaxRetry)
		defer pub.Close()
		eventLog = pub

		worker := events.NewAsynqWorker(opt, events.WorkerConfig{
			Concurrency: cfg.Events.Concurrency,
			Queues:      cfg.Events.Queue,
		}, st.events)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := worker.Run(ctx); err != nil {
				slog.Error("events worker", "err", err)
			}
		}()
	default:
		d := events.NewDispatcher(st.events, cfg.Events.Buffer, cfg.Events.WriteTimeout)
		eventLog = d
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Run(ctx)
		}()
	}

	// --- services ---
	roomSvc := service.NewRoomService(st.rooms, st.events, st.locker)
	memberSvc := service.NewMemberService(st.rooms, st.parts)
	joiner := service.NewJoinCoordinator(st.locker, issuer, eventLog, service.JoinConfig{
		Timeout:       cfg.Join.Timeout,
		IssueTimeout:  cfg.Join.IssueTimeout,
		RetryAttempts: cfg.Join.RetryAttempts,
	})

	healthChecks := map[string]func(ctx context.Context) error{
		"storage": st.ping,
	}

	// --- redis summary cache ---
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rc.Close()
		summaries := cache.NewRedisSummaryCache(rc, cfg.Redis.SummaryTTL)
		roomSvc.SetCache(summaries)
		joiner.SetCache(summaries)
		healthChecks["redis"] = summaries.Ping
	}

	// --- HTTP ---
	handler := httpx.NewHandler(roomSvc, memberSvc, joiner)
	router := httpx.NewRouter(handler, httpx.RouterOptions{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Timeout:        cfg.HTTP.Timeout,
		HealthChecks:   healthChecks,
	})
	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- gRPC ---
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcx.UnaryServerInterceptor(10 * time.Second)),
	)
	grpcx.Register(grpcServer, grpcx.NewServer(roomSvc, joiner))

	// --- run both servers ---
	errCh := make(chan error, 2)

	go func() {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	go func() {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			errCh <- err
			return
		}
		slog.Info("grpc listen", "addr", cfg.GRPC.Addr)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal", "sig", sig)
	case err := <-errCh:
		slog.Error("server error", "err", err)
	}

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()

	grpcServer.GracefulStop()
	_ = httpSrv.Shutdown(ctxShutdown)

	// сначала серверы, потом очередь событий: join-ы после Shutdown не приходят
	cancel()
	wg.Wait()
	_ = tp.Shutdown(ctxShutdown)
	slog.Info("stopped")
}

func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		return sqliteStorage(db), nil
	default:
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
			DSN:               cfg.Storage.DSN,
			MaxConns:          cfg.Storage.MaxConns,
			MinConns:          cfg.Storage.MinConns,
			MaxConnLifetime:   cfg.Storage.MaxConnLifetime,
			MaxConnIdleTime:   cfg.Storage.MaxConnIdleTime,
			HealthCheckPeriod: cfg.Storage.HealthCheckPeriod,
			ApplicationName:   cfg.Storage.ApplicationName,
		})
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return &storage{
			locker: postgres.NewStore(pool, cfg.Join.LockTimeout),
			rooms:  postgres.NewRoomRepository(pool),
			parts:  postgres.NewParticipantRepository(pool),
			events: postgres.NewEventRepository(pool),
			ping:   func(ctx context.Context) error { return postgres.Ping(ctx, pool) },
			close:  pool.Close,
		}, nil
	}
}

func sqliteStorage(db *sql.DB) *storage {
	return &storage{
		locker: sqlite.NewStore(db),
		rooms:  sqlite.NewRoomRepository(db),
		parts:  sqlite.NewParticipantRepository(db),
		events: sqlite.NewEventRepository(db),
		ping:   db.PingContext,
		close:  func() { _ = db.Close() },
	}
}

func newIssuer(cfg *config.Config) (*credential.JWTIssuer, error) {
	var (
		priv *rsa.PrivateKey
		pub  *rsa.PublicKey
		err  error
	)
	switch {
	case cfg.Credential.PrivateKeyPath != "":
		priv, err = credential.LoadRSAPrivateKeyFromPEM(cfg.Credential.PrivateKeyPath)
		if err != nil {
			return nil, err
		}
		if cfg.Credential.PublicKeyPath != "" {
			pub, err = credential.LoadRSAPublicKeyFromPEM(cfg.Credential.PublicKeyPath)
			if err != nil {
				return nil, err
			}
		}
	case logger.ParseEnv(cfg.Logging.Env) == logger.EnvDev:
		// эфемерный ключ: токены не переживают рестарт
		slog.Warn("credential.privateKeyPath is empty, generating ephemeral RSA key")
		priv, err = credential.GenerateKey()
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("credential.privateKeyPath is required outside dev")
	}

	return credential.NewJWTIssuer(priv, pub, credential.Config{
		Issuer:    cfg.Credential.Issuer,
		Audience:  cfg.Credential.Audience,
		TTL:       cfg.Credential.TTL,
		ClockSkew: cfg.Credential.ClockSkew,
	}), nil
}
