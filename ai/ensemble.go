package ai

import (
	"context"

	"helmsman/core"

	"golang.org/x/sync/errgroup"
)

// Options is the ensemble configuration captured from the live config
// snapshot at validation time. Weights must sum to 1; the config loader
// enforces that.
type Options struct {
	MinConfidence float64
	Weights       map[string]float64
	Enabled       map[string]bool // absent entries count as enabled
}

func (o Options) enabled(name string) bool {
	v, ok := o.Enabled[name]
	return !ok || v
}

// Ensemble fans the input out to its scorers and aggregates their votes by
// weighted voting into a single verdict.
type Ensemble struct {
	scorers []Scorer
	log     core.Logger
}

func NewEnsemble(log core.Logger, scorers ...Scorer) *Ensemble {
	return &Ensemble{scorers: scorers, log: log}
}

// Validate runs every enabled scorer concurrently under the tick context
// and aggregates. When the tick context is cancelled, outstanding scorer
// work is abandoned with it.
func (e *Ensemble) Validate(ctx context.Context, in Input, opts Options) core.Verdict {
	type slot struct {
		scorer Scorer
		weight float64
		result ScoreResult
	}

	slots := make([]*slot, 0, len(e.scorers))
	for _, s := range e.scorers {
		weight := opts.Weights[s.Name()]
		if !opts.enabled(s.Name()) || weight == 0 {
			continue
		}
		slots = append(slots, &slot{scorer: s, weight: weight})
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for _, sl := range slots {
		sl := sl
		g.Go(func() error {
			result, err := sl.scorer.Score(groupCtx, in)
			if err != nil {
				e.log.WithError(err).WithField("scorer", sl.scorer.Name()).
					Warn("scorer failed, voting neutral")
				result = neutral("scorer error")
			}
			sl.result = result
			return nil
		})
	}
	_ = g.Wait() // scorers never propagate errors; failures vote neutral

	verdict := core.Verdict{Side: core.SideHold}
	scores := map[core.Side]float64{}
	var params *core.RiskParams

	for _, sl := range slots {
		r := sl.result
		scores[r.Side] += sl.weight * r.Confidence
		verdict.Votes = append(verdict.Votes, core.ScorerVote{
			Scorer:     sl.scorer.Name(),
			Side:       r.Side,
			Confidence: r.Confidence,
			Weight:     sl.weight,
			Reasoning:  r.Reasoning,
		})
		// Autonomous parameters propagate only from the language-model
		// validator.
		if sl.scorer.Name() == ScorerLLM && r.Params != nil {
			params = r.Params
			verdict.Reasoning = r.Reasoning
		}
	}

	// Argmax over the buckets; ties stay HOLD.
	best := core.SideHold
	for _, side := range []core.Side{core.SideBuy, core.SideSell} {
		if scores[side] > scores[best] {
			best = side
		}
	}
	verdict.Side = best
	verdict.Confidence = scores[best]
	if best == core.SideBuy {
		verdict.Params = params
	}

	return verdict
}
