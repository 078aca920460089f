package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anthanhphan/go-replicated-kv/internal/node/adapter/outbound/redisexport"
	"github.com/anthanhphan/go-replicated-kv/pkg/shard"
	"github.com/anthanhphan/go-replicated-kv/pkg/version"
)

const Version = "0.3.0"

const (
	// Wrap is the number of characters to wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > Wrap {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteString(" ")
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}

// loadEnv reads .env files and maps KVCTL_* variables onto flags.
func loadEnv(v *viper.Viper) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v.SetEnvPrefix("kvctl")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// NewRootCmd builds the kvctl command tree. Each tree owns its viper
// instance, so tests can build several side by side.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	var client *Client

	root := &cobra.Command{
		Use:           "kvctl",
		Short:         "Client for the replicated key-value store",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: fmt.Sprintf(`kvctl (v%s)

Reads and writes keys through any node of the cluster and inspects
the ring, membership, hinted handoff and anti-entropy state.`, Version),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loadEnv(v)
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			var err error
			client, err = NewClient(
				strings.Split(v.GetString("endpoints"), ","),
				time.Duration(v.GetInt("timeout"))*time.Second,
			)
			return err
		},
	}

	flags := root.PersistentFlags()
	flags.String("endpoints", "http://localhost:8080", WrapString("HTTP address of one or more nodes, comma separated. Later endpoints are tried when earlier ones are unreachable"))
	flags.Int("timeout", 10, WrapString("Request timeout in seconds"))
	flags.String("redis-addr", "", WrapString("Redis address to read the published ring from, for local resolution"))
	flags.String("redis-ring-key", "kv:ring", WrapString("Redis key holding the ring snapshot"))

	clientFn := func() *Client { return client }
	root.AddCommand(
		putCmd(clientFn),
		getCmd(clientFn),
		delCmd(clientFn),
		scanCmd(clientFn),
		ringCmd(clientFn, v),
		membersCmd(clientFn),
		hintsCmd(clientFn),
		repairCmd(clientFn),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number of kvctl",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "kvctl v%s\n", Version)
			},
		},
	)
	return root
}

// Execute runs the command tree against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

func printJSON(w io.Writer, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func parseBase(raw string) (*version.Version, error) {
	if raw == "" {
		return nil, nil
	}
	var base version.Version
	if err := json.Unmarshal([]byte(raw), &base); err != nil {
		return nil, fmt.Errorf("--base must be a version as printed by get: %w", err)
	}
	return &base, nil
}

func putCmd(client func() *Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put [namespace] [key] [value]",
		Short: "Writes the value for a key",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("base")
			base, err := parseBase(raw)
			if err != nil {
				return err
			}
			v, err := client().Put(args[0], args[1], []byte(args[2]), base)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"version": v})
		},
	}
	cmd.Flags().String("base", "", WrapString("JSON version this write supersedes, as returned by get"))
	return cmd
}

func getCmd(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "get [namespace] [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := client().Get(args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"namespace": view.Namespace,
				"key":       view.Key,
				"value":     string(view.Value),
				"version":   view.Version,
			})
		},
	}
}

func delCmd(client func() *Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "del [namespace] [key]",
		Short: "Deletes a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("base")
			base, err := parseBase(raw)
			if err != nil {
				return err
			}
			v, err := client().Delete(args[0], args[1], base)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"version": v})
		},
	}
	cmd.Flags().String("base", "", WrapString("JSON version this delete supersedes"))
	return cmd
}

func scanCmd(client func() *Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [namespace]",
		Short: "Lists keys of a namespace held by the receiving node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix, _ := cmd.Flags().GetString("prefix")
			limit, _ := cmd.Flags().GetInt("limit")
			views, err := client().Scan(args[0], prefix, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, view := range views {
				fmt.Fprintf(out, "%s\t%s\n", view.Key, view.Value)
			}
			return nil
		},
	}
	cmd.Flags().String("prefix", "", "Only list keys starting with this prefix")
	cmd.Flags().Int("limit", 100, "Maximum number of keys")
	return cmd
}

func ringCmd(client func() *Client, v *viper.Viper) *cobra.Command {
	ring := &cobra.Command{
		Use:   "ring",
		Short: "Prints the ring snapshot of the receiving node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			export, err := client().Ring()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), export)
		},
	}

	resolve := &cobra.Command{
		Use:   "resolve [namespace] [key]",
		Short: "Prints the replica set of a key",
		Long: WrapString(`Asks a node for the replica set of a key. With --local the
ring snapshot is fetched once (from Redis when --redis-addr is set,
from a node otherwise) and the key is resolved in process.`),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			local, _ := cmd.Flags().GetBool("local")
			if !local {
				route, err := client().Resolve(args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), route)
			}

			export, err := loadRing(cmd.Context(), client(), v)
			if err != nil {
				return err
			}
			snap, err := shard.FromExport(export)
			if err != nil {
				return err
			}
			n, _ := cmd.Flags().GetInt("replicas")
			route := shard.NewRouter(shard.Static{Snap: snap}, n).Resolve(args[0], []byte(args[1]))
			return printJSON(cmd.OutOrStdout(), route)
		},
	}
	resolve.Flags().Bool("local", false, "Resolve against a fetched snapshot instead of asking a node")
	resolve.Flags().Int("replicas", 3, "Replication factor N used for local resolution")

	ring.AddCommand(resolve)
	return ring
}

// loadRing prefers the snapshot published to Redis so resolution keeps
// working while every node is down.
func loadRing(ctx context.Context, client *Client, v *viper.Viper) (shard.Export, error) {
	addr := v.GetString("redis-addr")
	if addr == "" {
		return client.Ring()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = rdb.Close() }()
	return redisexport.NewPublisher(rdb, v.GetString("redis-ring-key")).Load(ctx)
}

func membersCmd(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "members",
		Short: "Prints the membership view of the receiving node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			members, err := client().Members()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), members)
		},
	}
}

func hintsCmd(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "hints",
		Short: "Prints pending hinted handoff per target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := client().Hints()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func repairCmd(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "repair [partition]",
		Short: "Runs anti-entropy for one partition on the receiving node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			partition, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("partition must be a number: %w", err)
			}
			reports, err := client().Repair(partition)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), reports)
		},
	}
}
