package main

import (
	"encoding/csv"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sagepoint-data/identity-cli/internal/model"
	"github.com/sagepoint-data/identity-cli/internal/monitoring"
	"github.com/sagepoint-data/identity-cli/internal/resolver"
)

var (
	resolveFile string
	resolveJob  string
	resolveOut  string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve a batch of business records to company IDs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		runID := uuid.NewString()

		job, err := loadJob(resolveJob)
		if err != nil {
			return err
		}
		strat, err := job.strategy()
		if err != nil {
			return err
		}
		pipe, err := job.pipeline()
		if err != nil {
			return err
		}

		records, err := loadBatch(ctx, resolveFile, job.recordOptions())
		if err != nil {
			return err
		}
		if pipe != nil {
			pipe.Apply(records)
		}

		st, closeStore, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		overrides, err := resolver.LoadOverrides(cfg.Resolver.OverridesDir)
		if err != nil {
			return err
		}
		client, err := initEQC(strat.AllowExternal)
		if err != nil {
			return err
		}

		zap.L().Info("starting resolution",
			zap.String("run_id", runID),
			zap.String("file", resolveFile),
			zap.Int("records", len(records)),
			zap.Int("overrides", overrides.Len()),
		)

		result, err := resolver.New(st, client, overrides).ResolveBatch(ctx, records, strat)
		if err != nil {
			return err
		}

		if svc, err := job.learningService(st, strat.TargetColumn); err != nil {
			return err
		} else if svc != nil {
			sum, err := svc.Learn(ctx, result.Records)
			if err != nil {
				zap.L().Warn("domain learning failed", zap.Error(err))
			} else {
				zap.L().Info("domain learning complete",
					zap.Int("valid_rows", sum.ValidRows),
					zap.Int("written", sum.Written),
					zap.Bool("skipped", sum.Skipped),
				)
			}
		}

		if resolveOut != "" {
			if err := writeBatchCSV(resolveOut, result.Records, strat.TargetColumn); err != nil {
				return err
			}
		}

		alerter := monitoring.NewAlerter(cfg.Monitoring)
		alerts := alerter.Evaluate(&monitoring.RunSummary{
			RunID:          runID,
			Stats:          result.Stats,
			Degraded:       result.Degraded,
			DegradedReason: result.DegradedReason,
		})
		alerter.SendAlerts(ctx, alerts)

		zap.L().Info("resolution complete",
			zap.String("run_id", runID),
			zap.Int("override", result.Stats.Override),
			zap.Int("cache", result.Stats.Cache),
			zap.Int("external", result.Stats.External),
			zap.Int("temp_id", result.Stats.TempID),
			zap.Int("unresolved", result.Stats.Unresolved),
			zap.Bool("degraded", result.Degraded),
		)

		return nil
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveFile, "file", "", "batch file: local path or http(s)/ftp URL (xlsx or csv)")
	resolveCmd.Flags().StringVar(&resolveJob, "job", "", "job spec YAML")
	resolveCmd.Flags().StringVar(&resolveOut, "out", "", "write resolved records to this CSV file")
	_ = resolveCmd.MarkFlagRequired("file")
	_ = resolveCmd.MarkFlagRequired("job")
	rootCmd.AddCommand(resolveCmd)
}

// writeBatchCSV writes resolved records with the original column order plus
// the target column when the source file did not carry it.
func writeBatchCSV(path string, records []model.BusinessRecord, targetColumn string) error {
	if len(records) == 0 {
		return eris.New("no records to write")
	}

	header := records[0].Columns
	found := false
	for _, c := range header {
		if c == targetColumn {
			found = true
			break
		}
	}
	if !found {
		header = append(append([]string{}, header...), targetColumn)
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return eris.Wrap(err, "write csv header")
	}
	row := make([]string, len(header))
	for _, rec := range records {
		for i, col := range header {
			row[i] = rec.Get(col)
		}
		if err := w.Write(row); err != nil {
			return eris.Wrap(err, "write csv row")
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "flush csv")
}
