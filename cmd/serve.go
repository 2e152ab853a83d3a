package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sagepoint-data/identity-cli/internal/cleanse"
	"github.com/sagepoint-data/identity-cli/internal/model"
	"github.com/sagepoint-data/identity-cli/internal/monitoring"
	"github.com/sagepoint-data/identity-cli/internal/resolver"
)

var (
	servePort int
	serveJob  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start webhook server for resolution requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		job, err := loadJob(serveJob)
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

		res := resolver.New(st, client, overrides)
		alerter := monitoring.NewAlerter(cfg.Monitoring)
		mux := buildMux(ctx, res, strat, pipe, alerter)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func buildMux(ctx context.Context, res *resolver.Resolver, strat *resolver.Strategy, pipe *cleanse.Pipeline, alerter *monitoring.Alerter) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/webhook/resolve", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Records []map[string]string `json:"records"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if len(req.Records) == 0 {
			http.Error(w, `{"error":"records are required"}`, http.StatusBadRequest)
			return
		}

		records := make([]model.BusinessRecord, len(req.Records))
		for i, values := range req.Records {
			for col, val := range values {
				records[i].Set(col, val)
			}
		}

		runID := uuid.NewString()

		// Resolve asynchronously
		go func() {
			if res == nil || strat == nil {
				return
			}
			if pipe != nil {
				pipe.Apply(records)
			}
			result, err := res.ResolveBatch(ctx, records, strat)
			if err != nil {
				zap.L().Error("webhook resolution failed",
					zap.String("run_id", runID),
					zap.Error(err),
				)
				return
			}
			if alerter != nil {
				alerter.SendAlerts(ctx, alerter.Evaluate(&monitoring.RunSummary{
					RunID:          runID,
					Stats:          result.Stats,
					Degraded:       result.Degraded,
					DegradedReason: result.DegradedReason,
				}))
			}
			zap.L().Info("webhook resolution complete",
				zap.String("run_id", runID),
				zap.Int("records", len(result.Records)),
				zap.Int("unresolved", result.Stats.Unresolved),
				zap.Bool("degraded", result.Degraded),
			)
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "accepted",
			"run_id":  runID,
			"records": len(records),
		})
	})

	return mux
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&serveJob, "job", "", "job spec YAML")
	_ = serveCmd.MarkFlagRequired("job")
	rootCmd.AddCommand(serveCmd)
}
