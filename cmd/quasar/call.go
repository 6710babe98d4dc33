package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/oriys/quasar/internal/group"
	"github.com/oriys/quasar/internal/logging"
	"github.com/oriys/quasar/internal/rpc"
	"github.com/oriys/quasar/internal/taskpool"
	"github.com/oriys/quasar/internal/transport/grpcchan"
	"github.com/oriys/quasar/internal/transport/redischan"
)

func callCmd() *cobra.Command {
	var (
		argsJSON string
		timeout  time.Duration
		async    bool
	)

	cmd := &cobra.Command{
		Use:   "call <action>",
		Short: "Broadcast an action to the group and print the reduced answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logging.SetLevelFromString(cfg.Daemon.LogLevel)
			// One-shot invocation prints its own outcome; per-broadcast
			// records are daemon surface.
			logging.Dispatches().SetEnabled(false)

			if argsJSON != "" && !json.Valid([]byte(argsJSON)) {
				return fmt.Errorf("--args is not valid JSON")
			}
			action := group.NewAction(args[0], json.RawMessage(argsJSON))

			// The CLI dispatches as an ephemeral caller: it never announces
			// itself, so the group does not wait for its answer.
			caller := group.Member{
				ID:   group.MemberID("cli-" + uuid.New().String()[:8]),
				Name: "quasar-cli",
			}

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

			var channel group.Channel
			switch cfg.Transport.Kind {
			case "redis":
				channel, err = redischan.New(client, disco, group.NewMux(), redischan.Config{
					Group:       cfg.Group.Name,
					Self:        caller,
					DefaultWait: cfg.Transport.DefaultWait(),
				})
			case "grpc":
				channel, err = grpcchan.New(disco, grpcchan.Config{
					Group:       cfg.Group.Name,
					Self:        caller,
					DefaultWait: cfg.Transport.DefaultWait(),
				})
			default:
				return fmt.Errorf("transport %q does not support one-shot calls", cfg.Transport.Kind)
			}
			if err != nil {
				return err
			}
			defer channel.Close()

			pool := taskpool.New(taskpool.Config{MaxConcurrent: 2})
			defer pool.Close()

			exec := rpc.New(channel, pool, rpc.Options{
				Group:     cfg.Group.Name,
				Transport: cfg.Transport.Kind,
			})
			defer exec.Stop()

			if async {
				type outcome struct {
					value any
					err   error
				}
				done := make(chan outcome, 1)
				exec.ExecuteAsyncTimeout(action, timeout, func(value any, err error) {
					done <- outcome{value, err}
				})
				select {
				case out := <-done:
					return printOutcome(out.value, out.err)
				case <-time.After(timeout + 10*time.Second):
					return fmt.Errorf("no callback within %v", timeout+10*time.Second)
				}
			}

			value, err := exec.Execute(context.Background(), action, timeout)
			return printOutcome(value, err)
		},
	}

	cmd.Flags().StringVar(&argsJSON, "args", "", "Action arguments as raw JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "How long to wait for the group")
	cmd.Flags().BoolVar(&async, "async", false, "Dispatch through the callback path instead of blocking")

	return cmd
}

func printOutcome(value any, err error) error {
	if err != nil {
		return err
	}
	if value == nil {
		fmt.Println("(no value)")
		return nil
	}
	out, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
