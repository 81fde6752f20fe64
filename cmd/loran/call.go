package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/loran-ai/loran/pkg/backend/httpapi"
	"github.com/loran-ai/loran/pkg/cache"
	"github.com/loran-ai/loran/pkg/cache/memory"
	rediscache "github.com/loran-ai/loran/pkg/cache/redis"
	"github.com/loran-ai/loran/pkg/config"
	"github.com/loran-ai/loran/pkg/gateway"
	"github.com/loran-ai/loran/pkg/journal"
	"github.com/loran-ai/loran/pkg/models"
)

func newCallCmd() *cobra.Command {
	var (
		configPath string
		maxOutput  int
		operation  string
		deadline   time.Duration
		useBatch   bool
		noCache    bool
	)

	cmd := &cobra.Command{
		Use:   "call [payload]",
		Short: "Send one payload through the gateway",
		Long:  "Send one payload through the gateway. Pass '-' to read the payload from stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			payload := args[0]
			if payload == "-" {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				payload = string(data)
			}

			invoker, err := httpapi.New(cfg.Backend.URL, cfg.Backend.APIKey, cfg.Backend.Model, cfg.Backend.Timeout)
			if err != nil {
				return fmt.Errorf("init backend: %w", err)
			}

			var store cache.Store
			if cfg.Cache.Enabled {
				switch cfg.Cache.Backend {
				case "redis":
					client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
					defer func() { _ = client.Close() }()
					store = rediscache.New(client, cfg.Cache.TTL)
				default:
					store = memory.New(cfg.Cache.MaxSize, cfg.Cache.TTL)
				}
			}

			var jr *journal.Journal
			if cfg.Journal.Enabled {
				jr, err = journal.New(cfg.Journal.DBPath)
				if err != nil {
					return fmt.Errorf("init journal: %w", err)
				}
				defer func() { _ = jr.Close() }()
			}

			gw := gateway.New(cfg, invoker, store, jr)
			defer gw.Close()

			req := models.CallRequest{
				Payload:   payload,
				MaxOutput: maxOutput,
				Operation: operation,
				Deadline:  deadline,
			}
			opts := models.CallOptions{
				UseCache: !noCache,
				UseBatch: useBatch,
			}

			out, err := gw.Call(context.Background(), req, opts)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "loran.yaml", "path to config file")
	cmd.Flags().IntVar(&maxOutput, "max-output", 1024, "output token bound for the call")
	cmd.Flags().StringVar(&operation, "op", "call", "operation name recorded in the journal")
	cmd.Flags().DurationVar(&deadline, "deadline", 0, "per-call deadline (0 uses the backend timeout only)")
	cmd.Flags().BoolVar(&useBatch, "batch", false, "coalesce the call into a batch")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the response cache")
	return cmd
}
