// Package resolver turns noisy free-text business keys into stable company
// identifiers. Each record walks a cascade of terminal states: static
// override, enrichment cache, external registry lookup, deterministic temp
// ID, unresolved. Resolution is best-effort over a batch and never fails for
// a single record.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sagepoint-data/identity-cli/internal/enrichment"
	"github.com/sagepoint-data/identity-cli/internal/model"
	"github.com/sagepoint-data/identity-cli/internal/normalize"
	"github.com/sagepoint-data/identity-cli/pkg/eqc"
)

// externalConfidence is the confidence written back for an external match
// unless a detail-confirmed registry score exceeds it.
const externalConfidence = 0.85

// minCandidateScore is the floor below which a search candidate is not
// considered a match at all.
const minCandidateScore = 0.60

// Resolver orchestrates the per-record cascade over a batch. The caller owns
// the database connection and transaction boundary; the resolver only reads
// and writes the enrichment cache through its store.
type Resolver struct {
	store     enrichment.Store
	client    eqc.Client
	overrides *Overrides
}

// New builds a resolver. client may be nil when no external provider is
// configured; overrides may be nil for an empty override set.
func New(store enrichment.Store, client eqc.Client, overrides *Overrides) *Resolver {
	return &Resolver{store: store, client: client, overrides: overrides}
}

// batchState carries the mutable cross-record state of one run: the shared
// external call budget and the degradation flags. Records are processed
// sequentially, so budget is first-come-first-served over input order.
type batchState struct {
	budget            int
	externalsDisabled bool
	cacheDisabled     bool
	degradedReason    string
}

func (b *batchState) degrade(reason string) {
	if b.degradedReason == "" {
		b.degradedReason = reason
	}
}

// ResolveBatch resolves every record in order, writing the winning company_id
// into the strategy's target column. The result carries the input rows 1:1
// plus outcome statistics; each record increments exactly one counter.
func (r *Resolver) ResolveBatch(ctx context.Context, records []model.BusinessRecord, strat *Strategy) (*model.ResolutionResult, error) {
	if strat == nil {
		return nil, errors.New("resolver: strategy is required")
	}

	result := &model.ResolutionResult{
		Records: records,
	}
	state := &batchState{budget: strat.Budget}

	for i := range records {
		outcome := r.resolveOne(ctx, &result.Records[i], strat, state)
		switch outcome {
		case model.OutcomeOverride:
			result.Stats.Override++
		case model.OutcomeCache:
			result.Stats.Cache++
		case model.OutcomeExternal:
			result.Stats.External++
		case model.OutcomeTempID:
			result.Stats.TempID++
		default:
			result.Stats.Unresolved++
		}
	}

	if state.degradedReason != "" {
		result.Degraded = true
		result.DegradedReason = state.degradedReason
	}

	zap.L().Info("batch resolved",
		zap.Int("records", len(records)),
		zap.Int("override", result.Stats.Override),
		zap.Int("cache", result.Stats.Cache),
		zap.Int("external", result.Stats.External),
		zap.Int("temp_id", result.Stats.TempID),
		zap.Int("unresolved", result.Stats.Unresolved),
		zap.Int("budget_left", state.budget),
		zap.Bool("degraded", result.Degraded),
	)
	return result, nil
}

// resolveOne walks the cascade for a single record and returns its terminal
// state. It never returns an error; provider failures degrade the batch
// state and the record falls through to the next stage.
func (r *Resolver) resolveOne(ctx context.Context, rec *model.BusinessRecord, strat *Strategy, state *batchState) model.ResolutionOutcome {
	// Stage 1: static overrides, all mappings in priority order.
	for _, m := range strat.Mappings {
		key := normalize.Key(rec.Get(m.Column))
		if key == "" {
			continue
		}
		if id, ok := r.overrides.Get(m.LookupType, key); ok {
			rec.Set(strat.TargetColumn, id)
			return model.OutcomeOverride
		}
	}

	// Stage 2: enrichment cache, first hit wins.
	if !state.cacheDisabled {
		for _, m := range strat.Mappings {
			key := normalize.Key(rec.Get(m.Column))
			if key == "" {
				continue
			}
			cached, err := r.store.Lookup(ctx, key, m.LookupType)
			if err != nil {
				zap.L().Warn("cache lookup failed, disabling cache for remainder of batch",
					zap.String("lookup_type", string(m.LookupType)),
					zap.Error(err),
				)
				state.cacheDisabled = true
				state.degrade(fmt.Sprintf("enrichment store unavailable: %v", err))
				break
			}
			if cached != nil {
				rec.Set(strat.TargetColumn, cached.CompanyID)
				return model.OutcomeCache
			}
		}
	}

	// Stage 3: external registry, gated on budget and batch health.
	if strat.AllowExternal && r.client != nil && !state.externalsDisabled {
		if id, ok := r.resolveExternal(ctx, rec, strat, state); ok {
			rec.Set(strat.TargetColumn, id)
			return model.OutcomeExternal
		}
	}

	// Stage 4: deterministic placeholder.
	if strat.AllowTempID {
		if id := TempID(rec.Get(strat.customerNameColumn())); id != "" {
			rec.Set(strat.TargetColumn, id)
			return model.OutcomeTempID
		}
	}

	return model.OutcomeUnresolved
}

// resolveExternal searches the registry for the record's customer name,
// optionally confirms the top candidate with a detail call, and writes the
// match back to the cache. Every call consumes one unit of the shared
// budget; the client is never invoked once budget reaches zero.
func (r *Resolver) resolveExternal(ctx context.Context, rec *model.BusinessRecord, strat *Strategy, state *batchState) (string, bool) {
	name := normalize.Key(rec.Get(strat.customerNameColumn()))
	if name == "" || state.budget <= 0 {
		return "", false
	}

	state.budget--
	candidates, err := r.client.Search(ctx, name)
	if err != nil {
		r.handleExternalError(err, state)
		return "", false
	}
	if len(candidates) == 0 || candidates[0].Score < minCandidateScore {
		return "", false
	}
	top := candidates[0]

	confidence := externalConfidence
	if state.budget > 0 {
		state.budget--
		detail, err := r.client.Detail(ctx, top.CompanyID)
		if err != nil {
			r.handleExternalError(err, state)
		} else if detail != nil && top.Score > confidence {
			// Detail-confirmed matches may carry the registry's own score.
			confidence = top.Score
		}
	}

	if _, err := r.store.Upsert(ctx, model.EnrichmentRecord{
		LookupKey:  name,
		LookupType: strat.customerNameType(),
		CompanyID:  top.CompanyID,
		Confidence: confidence,
		Source:     model.SourceEQCAPI,
	}); err != nil {
		// The match still resolves this record; only the write-back is lost.
		zap.L().Warn("external match write-back failed", zap.Error(err))
		state.degrade(fmt.Sprintf("enrichment store unavailable: %v", err))
	}

	zap.L().Debug("resolved externally",
		zap.String("key", name),
		zap.String("company_id", top.CompanyID),
		zap.Float64("confidence", confidence),
	)
	return top.CompanyID, true
}

// handleExternalError classifies a provider failure. Auth errors are
// terminal for external lookups in this run; everything else costs only the
// current record.
func (r *Resolver) handleExternalError(err error, state *batchState) {
	switch {
	case errors.Is(err, eqc.ErrAuthentication):
		zap.L().Error("registry authentication failed, disabling external lookups for remainder of batch",
			zap.Error(err),
		)
		state.externalsDisabled = true
		state.degrade("external provider authentication failed")
	case errors.Is(err, eqc.ErrNotFound):
		// Expected: no match, not a failure.
	default:
		zap.L().Warn("external lookup unavailable for record", zap.Error(err))
	}
}
