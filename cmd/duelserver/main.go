// Command duelserver wires the duel platform's persistence, judge
// client, hub, services and HTTP/websocket surface together and runs
// the process, following the teacher's App{New,Run,Close} bootstrap
// shape.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codeduel/backend/internal/authn"
	"github.com/codeduel/backend/internal/config"
	"github.com/codeduel/backend/internal/domain"
	"github.com/codeduel/backend/internal/gameservice"
	"github.com/codeduel/backend/internal/gateway"
	"github.com/codeduel/backend/internal/httpapi"
	"github.com/codeduel/backend/internal/hub"
	"github.com/codeduel/backend/internal/judge"
	"github.com/codeduel/backend/internal/logger"
	"github.com/codeduel/backend/internal/roomservice"
	"github.com/codeduel/backend/internal/store/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(getenv("CONFIG_FILE", "config.yaml"))
	if err != nil {
		panic(err)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, File: cfg.LogFile, Development: cfg.LogDevelopment})
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited with error", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	st := postgres.New(pool)

	var judgeClient judge.Client = judge.NewFasthttpClient(judge.Options{
		BaseURL:  cfg.Judge.BaseURL,
		Timeout:  cfg.Judge.Timeout,
		RetryMax: cfg.Judge.RetryMax,
	})
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		judgeClient = judge.NewCachedResolveClient(judgeClient, rdb, cfg.Judge.ResolveCache)
	}

	h := hub.New(log)
	defer h.Shutdown()

	rooms := roomservice.New(st, h)
	games := gameservice.New(st, judgeClient, h, log)

	auth := authn.New(cfg.JWTSecret, cfg.JWTTTL)

	if err := recoverStartedRooms(context.Background(), st, h, games, log); err != nil {
		log.Warn("restart recovery failed", zap.Error(err))
	}

	gw := gateway.New(gateway.NewHubAdapter(h), rooms, games, st, auth, log)
	api := httpapi.New(st, judgeClient, rooms, games, auth, log)

	mux := http.NewServeMux()
	mux.Handle("/", api.Router())
	mux.HandleFunc("/ws", gw.ServeWS)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server started", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return err
	case <-sig:
		log.Info("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-serveErr
}

// recoverStartedRooms reschedules the end timer for every room that
// was mid-game when the process last stopped; a room whose deadline
// already passed is finalized immediately rather than waiting for a
// timer that would never fire.
func recoverStartedRooms(ctx context.Context, st interface {
	ListStartedRooms(ctx context.Context) ([]domain.Room, error)
}, h *hub.Hub, games *gameservice.Service, log *zap.Logger) error {
	rooms, err := st.ListStartedRooms(ctx)
	if err != nil {
		return err
	}
	for _, room := range rooms {
		room := room
		if room.StartInstant == nil {
			continue
		}
		remaining := room.StartInstant.Add(room.Settings.Duration()).Sub(time.Now())
		if remaining <= 0 {
			go func() {
				if err := games.AutoFinalize(context.Background(), room.Code); err != nil {
					log.Error("recovery auto-finalize failed", zap.String("room", room.Code), zap.Error(err))
				}
			}()
			continue
		}
		h.StartGameRuntime(room.Code, remaining, func() {
			if err := games.AutoFinalize(context.Background(), room.Code); err != nil {
				log.Error("auto-finalize failed", zap.String("room", room.Code), zap.Error(err))
			}
		})
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
