package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
)

func membersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "members",
		Short: "List the discovered group membership",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			var client *redis.Client
			if cfg.Discovery.Backend == "redis" {
				client = newRedisClient(cfg)
				defer client.Close()
			}

			disco, err := buildDiscovery(ctx, cfg, client)
			if err != nil {
				return err
			}
			defer disco.Close()

			members, err := disco.Members(ctx)
			if err != nil {
				return err
			}
			if len(members) == 0 {
				fmt.Printf("no members in group %s\n", cfg.Group.Name)
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tADDR\tLAST SEEN")
			for _, m := range members {
				lastSeen := "-"
				if !m.LastSeen.IsZero() {
					lastSeen = fmt.Sprintf("%ds ago", int(time.Since(m.LastSeen).Seconds()))
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID, m.Name, m.Addr, lastSeen)
			}
			w.Flush()
			return nil
		},
	}
}
