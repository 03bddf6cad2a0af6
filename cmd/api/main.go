package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-membership/internal/auth"
	"github.com/ovaphlow/pitchfork/service-membership/internal/config"
	"github.com/ovaphlow/pitchfork/service-membership/internal/membership"
	"github.com/ovaphlow/pitchfork/service-membership/internal/router"
	"github.com/ovaphlow/pitchfork/service-membership/internal/sequence"
	sequencerepo "github.com/ovaphlow/pitchfork/service-membership/internal/sequence/repo"
	"github.com/ovaphlow/pitchfork/service-membership/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-membership/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-membership/pkg/database"
	"github.com/ovaphlow/pitchfork/service-membership/pkg/utilities"
)

func main() {
	os.Exit(run())
}

// run wires the service and blocks until SIGINT or SIGTERM. It returns the
// process exit code so deferred cleanup always runs.
func run() int {
	// best-effort: real env wins, .env only fills gaps
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	lg, err := utilities.Init(cfg.Logger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		return 1
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Infow("starting service-membership", "env", cfg.Env, "addr", cfg.HTTPAddr)

	if err := utilities.InitSnowflake(cfg.SnowflakeNode); err != nil {
		sugar.Errorw("snowflake init failed", "err", err)
		return 1
	}

	db, err := database.Connect(cfg.Database())
	if err != nil {
		sugar.Errorw("db connect failed", "err", err)
		return 1
	}
	defer db.Close()

	mode, err := sequence.ParseMode(cfg.MemberIDAllocator)
	if err != nil {
		sugar.Errorw("invalid member ID allocator", "err", err)
		return 1
	}
	alloc := sequence.NewAllocator(mode)
	sugar.Infow("member ID allocator", "mode", alloc.Mode())

	clock := clockwork.NewRealClock()
	codec := auth.NewCodec(cfg.JWTSecret, cfg.TokenTTL(), clock)
	hasher := user.BcryptHasher{Cost: cfg.BcryptCost}
	users := userrepo.NewUserRepo(db)

	userSvc := user.NewService(users, hasher, codec, clock, sugar)
	memberSvc := membership.NewService(membership.NewStore(db), hasher, sugar, membership.Options{
		Allocator:  alloc,
		Clock:      clock,
		DefaultPIN: cfg.DefaultMemberPIN,
	})
	seqSvc := sequence.NewService(sequencerepo.NewRepo(db))

	var sweeper *user.LockSweeper
	if cfg.LockSweepSchedule != "" {
		sweeper, err = user.NewLockSweeper(userSvc, cfg.LockSweepSchedule, sugar)
		if err != nil {
			sugar.Errorw("lock sweeper init failed", "err", err)
			return 1
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler := router.RegisterRoutes(sugar, router.Deps{
		Auth:        auth.NewMiddleware(codec, users, sugar),
		Users:       user.NewHandler(userSvc, sugar),
		Members:     membership.NewHandler(memberSvc, sugar),
		Sequences:   sequence.NewHandler(seqSvc, sugar),
		CORSOrigins: cfg.CORSOriginList(),
		Environment: cfg.Env,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	sugar.Info("service is running; press Ctrl+C to stop")

	code := 0
	select {
	case <-ctx.Done():
		sugar.Info("shutting down")
	case err := <-serveErr:
		sugar.Errorw("http server failed", "err", err)
		code = 1
	}

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	if err := db.PingContext(doneCtx); err != nil {
		sugar.Warnf("db ping on shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
	return code
}
