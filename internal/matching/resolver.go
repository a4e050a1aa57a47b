package matching

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
)

// Default decision thresholds.
const (
	DefaultAutoMatchThreshold = 0.75
	DefaultReviewThreshold    = 0.50
	DefaultCollisionMargin    = 0.05
	DefaultMaxAlternates      = 3
)

// Thresholds partition scores into decisions.
type Thresholds struct {
	AutoMatch       float64
	Review          float64
	CollisionMargin float64
	MaxAlternates   int
}

// DefaultThresholds returns the standard thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AutoMatch:       DefaultAutoMatchThreshold,
		Review:          DefaultReviewThreshold,
		CollisionMargin: DefaultCollisionMargin,
		MaxAlternates:   DefaultMaxAlternates,
	}
}

// CandidateProblem describes one malformed candidate.
type CandidateProblem struct {
	ID     string
	Reason string
	Index  int
}

// CandidateError reports every malformed candidate in a set.
type CandidateError struct {
	Problems []CandidateProblem
}

func (e *CandidateError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = fmt.Sprintf("[%d] %q: %s", p.Index, p.ID, p.Reason)
	}
	return fmt.Sprintf("%s: %s", common.ErrMalformedCandidate, strings.Join(parts, "; "))
}

func (e *CandidateError) Unwrap() error {
	return common.ErrMalformedCandidate
}

// Resolver ranks candidates and decides the match outcome.
type Resolver struct {
	scorer     *Scorer
	logger     *slog.Logger
	now        func() time.Time
	thresholds Thresholds
}

// NewResolver creates a resolver. Zero thresholds fall back to defaults.
func NewResolver(scorer *Scorer, thresholds Thresholds, logger *slog.Logger) *Resolver {
	def := DefaultThresholds()
	if thresholds.AutoMatch <= 0 {
		thresholds.AutoMatch = def.AutoMatch
	}
	if thresholds.Review <= 0 {
		thresholds.Review = def.Review
	}
	if thresholds.CollisionMargin <= 0 {
		thresholds.CollisionMargin = def.CollisionMargin
	}
	if thresholds.MaxAlternates <= 0 {
		thresholds.MaxAlternates = def.MaxAlternates
	}
	if scorer == nil {
		scorer = NewScorer(nil)
	}
	return &Resolver{
		scorer:     scorer,
		logger:     common.ComponentLogger(logger, "matching"),
		now:        time.Now,
		thresholds: thresholds,
	}
}

// Thresholds returns the active thresholds.
func (r *Resolver) Thresholds() Thresholds {
	return r.thresholds
}

// Resolve matches one receipt against its candidate set. Ambiguity is a
// NeedsReview result, not an error; only malformed candidates fail.
func (r *Resolver) Resolve(receipt *model.ExtractedReceipt, candidates []model.TransactionCandidate) (*model.MatchResult, error) {
	if err := validateCandidates(candidates); err != nil {
		return nil, err
	}

	result := &model.MatchResult{
		ID:        uuid.NewString(),
		CreatedAt: r.now(),
		Decision:  model.DecisionNoMatch,
	}
	if len(candidates) == 0 {
		return result, nil
	}

	ranked := r.scorer.ScoreAll(receipt, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Candidate.ID < ranked[j].Candidate.ID
	})

	best := ranked[0]
	result.Score = best.Score
	result.Breakdown = best.Breakdown
	result.WeightSet = best.Weights.Name

	switch {
	case best.Score >= r.thresholds.AutoMatch:
		colliding := r.colliding(ranked)
		if len(colliding) > 1 {
			result.Decision = model.DecisionNeedsReview
			result.Collision = true
			result.BestCandidateID = best.Candidate.ID
			result.Alternates = r.alternates(colliding)
		} else {
			result.Decision = model.DecisionAutoMatch
			result.BestCandidateID = best.Candidate.ID
			result.Alternates = r.alternates(r.limit(ranked[1:]))
		}
	case best.Score >= r.thresholds.Review:
		result.Decision = model.DecisionNeedsReview
		result.BestCandidateID = best.Candidate.ID
		result.Alternates = r.alternates(r.limit(ranked[1:]))
	default:
		result.Alternates = r.alternates(r.limit(ranked))
	}

	r.logger.Debug("receipt matched",
		"decision", result.Decision,
		"score", result.Score,
		"candidate_id", result.BestCandidateID,
		"candidates", len(candidates),
		"collision", result.Collision)
	return result, nil
}

// colliding returns the best candidate and every candidate within the
// collision margin of it.
func (r *Resolver) colliding(ranked []Scored) []Scored {
	top := ranked[0].Score
	n := 1
	for n < len(ranked) && top-ranked[n].Score <= r.thresholds.CollisionMargin {
		n++
	}
	return ranked[:n]
}

func (r *Resolver) limit(ranked []Scored) []Scored {
	if len(ranked) > r.thresholds.MaxAlternates {
		return ranked[:r.thresholds.MaxAlternates]
	}
	return ranked
}

func (r *Resolver) alternates(scored []Scored) []model.Alternate {
	if len(scored) == 0 {
		return nil
	}
	out := make([]model.Alternate, len(scored))
	for i, s := range scored {
		out[i] = model.Alternate{
			CandidateID: s.Candidate.ID,
			Score:       s.Score,
			Decision:    r.tier(s.Score),
		}
	}
	return out
}

func (r *Resolver) tier(score float64) model.Decision {
	switch {
	case score >= r.thresholds.AutoMatch:
		return model.DecisionAutoMatch
	case score >= r.thresholds.Review:
		return model.DecisionNeedsReview
	default:
		return model.DecisionNoMatch
	}
}

func validateCandidates(candidates []model.TransactionCandidate) error {
	var problems []CandidateProblem
	seen := make(map[string]int, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		if err := c.Validate(); err != nil {
			problems = append(problems, CandidateProblem{Index: i, ID: c.ID, Reason: err.Error()})
			continue
		}
		if first, ok := seen[c.ID]; ok {
			problems = append(problems, CandidateProblem{
				Index:  i,
				ID:     c.ID,
				Reason: fmt.Sprintf("duplicate of candidate %d", first),
			})
			continue
		}
		seen[c.ID] = i
	}
	if len(problems) > 0 {
		return &CandidateError{Problems: problems}
	}
	return nil
}

// Request is one receipt and its candidate set for batch resolution.
type Request struct {
	Receipt    *model.ExtractedReceipt
	Candidates []model.TransactionCandidate
}

// ResolveBatch resolves independent receipts in parallel. Results are in
// request order; the first error cancels the batch.
func (r *Resolver) ResolveBatch(ctx context.Context, requests []Request, concurrency int) ([]*model.MatchResult, error) {
	if concurrency <= 0 {
		concurrency = 4
	}
	results := make([]*model.MatchResult, len(requests))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, req := range requests {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := r.Resolve(req.Receipt, req.Candidates)
			if err != nil {
				return fmt.Errorf("request %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
