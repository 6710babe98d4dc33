package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/oriys/quasar/internal/discovery"
	"github.com/oriys/quasar/internal/group"
	"github.com/oriys/quasar/internal/logging"
	"github.com/oriys/quasar/internal/metrics"
	"github.com/oriys/quasar/internal/rpc"
	"github.com/oriys/quasar/internal/store"
	"github.com/oriys/quasar/internal/taskpool"
	"github.com/oriys/quasar/internal/tracing"
	"github.com/oriys/quasar/internal/transport/grpcchan"
	"github.com/oriys/quasar/internal/transport/inmem"
	"github.com/oriys/quasar/internal/transport/redischan"
)

func daemonCmd() *cobra.Command {
	var (
		listenAddr  string
		httpAddr    string
		dispatchLog string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run a group member daemon",
		Long:  "Join the group, answer broadcasts, and serve metrics until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Transport.Listen = listenAddr
			}
			if cmd.Flags().Changed("http") {
				cfg.Daemon.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("dispatch-log") {
				cfg.Daemon.DispatchLog = dispatchLog
			}

			logging.SetLevelFromString(cfg.Daemon.LogLevel)
			logging.InitStructured(cfg.Daemon.LogFormat, cfg.Daemon.LogLevel)
			if cfg.Daemon.LogFormat == "json" {
				// Structured deployments scrape stderr; keep stdout free of
				// the human-readable dispatch lines.
				logging.Dispatches().SetConsole(false)
			}

			if cfg.Daemon.DispatchLog != "" {
				if err := logging.Dispatches().SetOutput(cfg.Daemon.DispatchLog); err != nil {
					return fmt.Errorf("open dispatch log: %w", err)
				}
				defer logging.Dispatches().Close()
			}

			tcfg := cfg.Tracing
			tcfg.Group = cfg.Group.Name
			tcfg.MemberID = cfg.Group.MemberID
			if err := tracing.Init(context.Background(), tcfg); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer tracing.Shutdown(context.Background())

			metrics.InitPrometheus("quasar", nil)

			var client *redis.Client
			if cfg.Transport.Kind == "redis" || cfg.Discovery.Backend == "redis" {
				client = newRedisClient(cfg)
				defer client.Close()
			}

			disco, err := buildDiscovery(context.Background(), cfg, client)
			if err != nil {
				return err
			}
			defer disco.Close()

			member := cfg.Group.Member()
			mux := group.NewMux()
			registerBuiltinActions(mux, member, cfg.Transport.Kind)

			var (
				channel   group.Channel
				responder *grpcchan.Responder
			)
			switch cfg.Transport.Kind {
			case "redis":
				channel, err = redischan.New(client, disco, mux, redischan.Config{
					Group:       cfg.Group.Name,
					Self:        member,
					DefaultWait: cfg.Transport.DefaultWait(),
				})
				if err != nil {
					return err
				}
			case "grpc":
				responder = grpcchan.NewResponder(member, mux)
				if err := responder.Start(cfg.Transport.Listen); err != nil {
					return err
				}
				channel, err = grpcchan.New(disco, grpcchan.Config{
					Group:       cfg.Group.Name,
					Self:        member,
					DefaultWait: cfg.Transport.DefaultWait(),
				})
				if err != nil {
					responder.Stop()
					return err
				}
			case "inmem":
				// Single-process group, mostly useful for demos.
				network := inmem.NewNetwork(cfg.Group.Name)
				network.SetDefaultWait(cfg.Transport.DefaultWait())
				channel, err = network.Join(member, mux)
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown transport %q", cfg.Transport.Kind)
			}

			ann := discovery.NewAnnouncer(disco, member, cfg.Discovery.AnnounceInterval())
			ann.Start()

			pool := taskpool.New(taskpool.Config{MaxConcurrent: cfg.Pool.MaxConcurrent})

			var limiter *rate.Limiter
			if cfg.Limiter.RatePerSecond > 0 {
				burst := cfg.Limiter.Burst
				if burst <= 0 {
					burst = 1
				}
				limiter = rate.NewLimiter(rate.Limit(cfg.Limiter.RatePerSecond), burst)
			}

			var history rpc.History
			var pgStore *store.PostgresStore
			if cfg.Postgres.DSN != "" {
				pgStore, err = store.NewPostgres(context.Background(), cfg.Postgres.DSN)
				if err != nil {
					return err
				}
				defer pgStore.Close()
				history = pgStore
				logging.Op().Info("dispatch history enabled")
			}

			exec := rpc.New(channel, pool, rpc.Options{
				Group:     cfg.Group.Name,
				Transport: cfg.Transport.Kind,
				Limiter:   limiter,
				History:   history,
			})

			var httpServer *http.Server
			if cfg.Daemon.HTTPAddr != "" {
				httpMux := http.NewServeMux()
				httpMux.Handle("/metrics", metrics.PrometheusHandler())
				httpMux.Handle("/stats", metrics.StatsHandler())
				httpMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusOK)
					w.Write([]byte(`{"status":"ok","service":"quasar"}`))
				})
				httpServer = &http.Server{
					Addr:    cfg.Daemon.HTTPAddr,
					Handler: httpMux,
				}
				go func() {
					logging.Op().Info("http endpoint started", "addr", cfg.Daemon.HTTPAddr)
					if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logging.Op().Error("http server error", "error", err)
					}
				}()
			}

			logging.Op().Info("member joined",
				"group", cfg.Group.Name,
				"member", member.ID,
				"transport", cfg.Transport.Kind,
				"discovery", cfg.Discovery.Backend,
			)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			logging.Op().Info("shutdown signal received")

			if httpServer != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				httpServer.Shutdown(ctx)
				cancel()
			}
			exec.Stop()
			ann.Stop()
			channel.Close()
			if responder != nil {
				responder.Stop()
			}
			pool.Close()
			return nil
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", ":7411", "gRPC responder listen address")
	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP listen address for /metrics, /stats and /health")
	cmd.Flags().StringVar(&dispatchLog, "dispatch-log", "", "JSON-lines dispatch log file")

	return cmd
}

// registerBuiltinActions wires the actions every member answers out of the
// box.
func registerBuiltinActions(mux *group.Mux, member group.Member, transport string) {
	started := time.Now()

	mux.Handle("member.ping", func(context.Context, json.RawMessage) (any, error) {
		return "pong", nil
	})
	mux.Handle("member.info", func(context.Context, json.RawMessage) (any, error) {
		return map[string]any{
			"id":        member.ID,
			"name":      member.Name,
			"addr":      member.Addr,
			"transport": transport,
			"uptime_s":  int64(time.Since(started).Seconds()),
		}, nil
	})
}
