package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentuity/cachedb/cachedb"
	"github.com/agentuity/cachedb/codec"
	"github.com/agentuity/cachedb/logger"
)

var (
	dbPath    string
	namespace string
)

// openDB opens the cache with the JSON codec so values stay readable from
// the command line and from other tools.
func openDB(ctx context.Context) (*cachedb.DB, error) {
	return cachedb.Open(ctx, dbPath,
		cachedb.WithCodec(codec.JSON()),
		cachedb.WithNamespace(namespace),
		cachedb.WithSweepInterval(-1),
		cachedb.WithLogger(logger.NewConsoleLogger()),
	)
}

var rootCmd = &cobra.Command{
	Use:           "cachedb-cli",
	Short:         "Inspect and modify a cachedb cache file",
	SilenceUsage:  true,
	SilenceErrors: false,
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the value stored under a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		var raw json.RawMessage
		found, err := db.Get(cmd.Context(), args[0], &raw)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("key %q not found", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(raw))
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a value under a key (value is JSON, or a plain string)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttlStr, _ := cmd.Flags().GetString("ttl")
		ttl := cachedb.NoTTL
		if ttlStr != "" {
			var err error
			if ttl, err = cachedb.ParseTTL(ttlStr); err != nil {
				return err
			}
		}

		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		var value any
		if json.Valid([]byte(args[1])) {
			value = json.RawMessage(args[1])
		} else {
			value = args[1]
		}
		return db.Set(cmd.Context(), args[0], value, ttl)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Remove a key (no error if absent)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()
		return db.Delete(cmd.Context(), args[0])
	},
}

var keysCmd = &cobra.Command{
	Use:   "keys [prefix]",
	Short: "List live keys, optionally restricted to a prefix",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		prefix := ""
		if len(args) == 1 {
			prefix = args[0]
		}
		keys, err := db.Keys(cmd.Context(), prefix)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Fprintln(cmd.OutOrStdout(), k)
		}
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every expired entry and report how many were removed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.PurgeExpired(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired entries\n", n)
		return nil
	},
}

var lenCmd = &cobra.Command{
	Use:   "len",
	Short: "Count live entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.Len(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "cachedb.sqlite", "path to the cache database file")
	rootCmd.PersistentFlags().StringVar(&namespace, "namespace", "", "key namespace to operate in")
	setCmd.Flags().String("ttl", "", `time-to-live for the entry, e.g. "90s", "2h", "7d" (default: never expires)`)

	rootCmd.AddCommand(getCmd, setCmd, deleteCmd, keysCmd, purgeCmd, lenCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
