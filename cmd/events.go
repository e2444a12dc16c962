package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/config"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/eventfeed"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/pkg/protocol"
)

func eventsCmd() *cobra.Command {
	var (
		url    string
		filter string
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail the running gateway's event feed",
		Example: `  aicib events
  aicib events --filter directive.,confirm.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			_ = config.LoadDotEnv(dotEnvPath(cfgPath))
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if url == "" {
				url = eventfeed.URL(cfg.Gateway.Host, cfg.Gateway.Port)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sub, err := eventfeed.Dial(ctx, url, cfg.Gateway.Token)
			if err != nil {
				return err
			}
			defer sub.Close()

			return sub.Each(ctx, func(f protocol.EventFrame) bool {
				if eventfeed.Matches(filter, f.Event) {
					payload, _ := json.Marshal(f.Payload)
					fmt.Printf("%6d  %-22s %s\n", f.Seq, f.Event, payload)
				}
				// The feed ends with the gateway, whatever the filter.
				return f.Event != protocol.EventShutdown
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "feed URL (default: ws://<gateway.host>:<gateway.port>/ws)")
	cmd.Flags().StringVar(&filter, "filter", "", "comma separated event names or prefixes ending in '.'")
	return cmd
}
