package backend

import (
	"context"
	"math"
	"sort"
	"strconv"
)

// Confirmation targets in blocks for the FeeEstimate fields.
const (
	targetFastest  = 1
	targetHalfHour = 3
	targetHour     = 6
	targetEconomy  = 144
)

// EsploraBackend talks to an Esplora server (blockstream.info and
// self-hosted electrs). Everything but fee estimation is shared with the
// mempool.space dialect.
type EsploraBackend struct {
	*MempoolBackend
}

// NewEsploraBackend creates an Esplora backend.
func NewEsploraBackend(baseURL string, timeoutSeconds int) *EsploraBackend {
	return &EsploraBackend{MempoolBackend: NewMempoolBackend(baseURL, timeoutSeconds)}
}

// Type returns TypeEsplora.
func (e *EsploraBackend) Type() Type {
	return TypeEsplora
}

// GetFeeEstimates maps Esplora's target → sat/vB table onto FeeEstimate.
// A missing target uses the next slower one; rates round up.
func (e *EsploraBackend) GetFeeEstimates(ctx context.Context) (*FeeEstimate, error) {
	var raw map[string]float64
	if err := e.get(ctx, "/fee-estimates", &raw); err != nil {
		return nil, err
	}

	targets := parseFeeTargets(raw)
	if len(targets) == 0 {
		return nil, ErrNoFeeEstimates
	}

	minimum := targets[0].rate
	for _, t := range targets[1:] {
		minimum = math.Min(minimum, t.rate)
	}

	return &FeeEstimate{
		FastestFee:  rateFor(targets, targetFastest),
		HalfHourFee: rateFor(targets, targetHalfHour),
		HourFee:     rateFor(targets, targetHour),
		EconomyFee:  rateFor(targets, targetEconomy),
		MinimumFee:  ceilRate(minimum),
	}, nil
}

type feeTarget struct {
	blocks int
	rate   float64
}

// parseFeeTargets drops malformed entries and sorts by target.
func parseFeeTargets(raw map[string]float64) []feeTarget {
	targets := make([]feeTarget, 0, len(raw))
	for k, rate := range raw {
		blocks, err := strconv.Atoi(k)
		if err != nil || blocks <= 0 || rate <= 0 {
			continue
		}
		targets = append(targets, feeTarget{blocks: blocks, rate: rate})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].blocks < targets[j].blocks })
	return targets
}

func rateFor(targets []feeTarget, blocks int) uint64 {
	for _, t := range targets {
		if t.blocks >= blocks {
			return ceilRate(t.rate)
		}
	}
	return ceilRate(targets[len(targets)-1].rate)
}

func ceilRate(rate float64) uint64 {
	return uint64(math.Ceil(rate))
}

var _ Backend = (*EsploraBackend)(nil)
