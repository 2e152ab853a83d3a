package main

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sagepoint-data/identity-cli/internal/enrichment"
	"github.com/sagepoint-data/identity-cli/internal/fetcher"
	"github.com/sagepoint-data/identity-cli/internal/model"
	"github.com/sagepoint-data/identity-cli/pkg/eqc"
)

func initStore(ctx context.Context) (enrichment.Store, func(), error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "identity.db"
		}
		st, err := enrichment.NewSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, eris.Wrap(err, "connect postgres")
		}
		return enrichment.NewPostgresStore(pool), pool.Close, nil
	default:
		return nil, nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEQC builds the external registry client, or returns nil when the run
// does not allow external lookups.
func initEQC(allowExternal bool) (eqc.Client, error) {
	if !allowExternal {
		return nil, nil
	}
	return eqc.NewClient(cfg.EQC.Token,
		eqc.WithBaseURL(cfg.EQC.BaseURL),
		eqc.WithTimeout(time.Duration(cfg.EQC.TimeoutSecs)*time.Second),
		eqc.WithRetryMax(cfg.EQC.RetryMax),
		eqc.WithRateLimit(cfg.EQC.RatePerMinute),
		eqc.WithBackoff(time.Duration(cfg.EQC.BackoffBaseMS)*time.Millisecond),
	)
}

// loadBatch reads business records from a local path or downloads them first
// when src is an http(s) or ftp URL.
func loadBatch(ctx context.Context, src string, opts fetcher.RecordOptions) ([]model.BusinessRecord, error) {
	u, err := url.Parse(src)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https" || u.Scheme == "ftp") {
		local, cleanup, err := download(ctx, u, src)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		return fetcher.LoadRecords(local, opts)
	}
	return fetcher.LoadRecords(src, opts)
}

func httpFetcherOptions() fetcher.HTTPOptions {
	return fetcher.HTTPOptions{
		UserAgent:   cfg.Fetcher.UserAgent,
		Timeout:     time.Duration(cfg.Fetcher.TimeoutSecs) * time.Second,
		MaxRetries:  cfg.Fetcher.MaxRetries,
		RatePerHost: rate.Limit(cfg.Fetcher.RatePerHost),
	}
}

func ftpFetcherOptions() fetcher.FTPOptions {
	return fetcher.FTPOptions{
		Timeout:  time.Duration(cfg.Fetcher.TimeoutSecs) * time.Second,
		User:     cfg.Fetcher.FTPUser,
		Password: cfg.Fetcher.FTPPassword,
	}
}

func download(ctx context.Context, u *url.URL, src string) (string, func(), error) {
	var f fetcher.Fetcher
	switch u.Scheme {
	case "ftp":
		f = fetcher.NewFTPFetcher(ftpFetcherOptions())
	default:
		f = fetcher.NewHTTPFetcher(httpFetcherOptions())
	}

	tmp, err := os.CreateTemp("", "batch-*"+filepath.Ext(u.Path))
	if err != nil {
		return "", nil, eris.Wrap(err, "create temp file")
	}
	_ = tmp.Close()

	if _, err := f.DownloadToFile(ctx, src, tmp.Name()); err != nil {
		_ = os.Remove(tmp.Name())
		return "", nil, err
	}
	return tmp.Name(), func() { _ = os.Remove(tmp.Name()) }, nil
}
