package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sagepoint-data/identity-cli/internal/enrichment"
	"github.com/sagepoint-data/identity-cli/internal/model"
	"github.com/sagepoint-data/identity-cli/internal/normalize"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and administer the enrichment cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print cache record counts by type and source",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, closeStore, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		stats, err := st.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

var cacheInspectType string

var cacheInspectCmd = &cobra.Command{
	Use:   "inspect <key>",
	Short: "Show a cache record without bumping its hit count",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		lt := model.LookupType(cacheInspectType)
		if !model.ValidLookupType(lt) {
			return eris.Errorf("unknown lookup type %q", cacheInspectType)
		}

		st, closeStore, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		rec, err := st.Inspect(ctx, normalize.Key(args[0]), lt)
		if err != nil {
			return err
		}
		if rec == nil {
			zap.L().Info("no record", zap.String("key", normalize.Key(args[0])), zap.String("type", cacheInspectType))
			return nil
		}
		return printJSON(rec)
	},
}

var (
	cachePurgeSource string
	cachePurgeType   string
	cachePurgeAll    bool
)

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete cache records by source and/or type",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		filter := enrichment.PurgeFilter{
			Source:     model.Source(cachePurgeSource),
			LookupType: model.LookupType(cachePurgeType),
		}
		if cachePurgeType != "" && !model.ValidLookupType(filter.LookupType) {
			return eris.Errorf("unknown lookup type %q", cachePurgeType)
		}
		if filter.Source == "" && filter.LookupType == "" && !cachePurgeAll {
			return eris.New("refusing to purge the whole cache without --all")
		}

		st, closeStore, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		deleted, err := st.Purge(ctx, filter)
		if err != nil {
			return err
		}
		zap.L().Info("cache purged",
			zap.Int64("deleted", deleted),
			zap.String("source", cachePurgeSource),
			zap.String("type", cachePurgeType),
		)
		return nil
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode json")
}

func init() {
	cacheInspectCmd.Flags().StringVar(&cacheInspectType, "type", string(model.LookupCustomerName), "lookup type of the key")
	cachePurgeCmd.Flags().StringVar(&cachePurgeSource, "source", "", "only records from this source")
	cachePurgeCmd.Flags().StringVar(&cachePurgeType, "type", "", "only records of this lookup type")
	cachePurgeCmd.Flags().BoolVar(&cachePurgeAll, "all", false, "allow purging every record")

	cacheCmd.AddCommand(cacheStatsCmd, cacheInspectCmd, cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}
