package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
	"golang.org/x/sync/singleflight"
)

// Default deadlines.
const (
	DefaultProviderTimeout = 30 * time.Second
	DefaultPipelineTimeout = 2 * time.Minute
)

// Options tunes a Pipeline.
type Options struct {
	Logger          *slog.Logger
	Now             func() time.Time
	ProviderTimeout time.Duration
	PipelineTimeout time.Duration
}

// errCallersGone cuts a provider call once nobody is waiting on its result.
var errCallersGone = errors.New("every waiting caller gave up")

// Pipeline runs the provider fallback chain.
type Pipeline struct {
	cache           *ContentCache
	breakers        *BreakerSet
	logger          *slog.Logger
	now             func() time.Time
	inflight        map[string]*flight
	providers       []Provider
	flights         singleflight.Group
	providerTimeout time.Duration
	pipelineTimeout time.Duration
	mu              sync.Mutex
}

// flight tracks the callers waiting on one shared run of the chain.
type flight struct {
	cut     context.CancelCauseFunc
	waiters int
}

// NewPipeline creates a pipeline that tries providers in the given order.
func NewPipeline(providers []Provider, cache *ContentCache, breakers *BreakerSet, opts Options) *Pipeline {
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = DefaultProviderTimeout
	}
	if opts.PipelineTimeout <= 0 {
		opts.PipelineTimeout = DefaultPipelineTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if cache == nil {
		cache = NewContentCache(0.3, nil, opts.Logger)
	}
	if breakers == nil {
		breakers = NewBreakerSet(DefaultBreakerConfig(), opts.Now)
	}
	return &Pipeline{
		providers:       providers,
		cache:           cache,
		breakers:        breakers,
		inflight:        make(map[string]*flight),
		logger:          common.ComponentLogger(opts.Logger, "extraction"),
		now:             opts.Now,
		providerTimeout: opts.ProviderTimeout,
		pipelineTimeout: opts.PipelineTimeout,
	}
}

// Providers returns the provider names in chain order.
func (p *Pipeline) Providers() []string {
	names := make([]string, len(p.providers))
	for i, prov := range p.providers {
		names[i] = prov.Name()
	}
	return names
}

// Breakers exposes the breaker set for status reporting.
func (p *Pipeline) Breakers() *BreakerSet {
	return p.breakers
}

// Cache exposes the content cache for status reporting.
func (p *Pipeline) Cache() *ContentCache {
	return p.cache
}

// Extract returns the structured receipt for doc. Identical bytes return the
// cached result when one exists, and concurrent calls for the same bytes share
// a single run of the chain. The shared run is bounded by the pipeline
// deadline rather than by any one caller; a caller whose ctx ends stops
// waiting without cancelling the run for the others. When the last waiter
// leaves, the provider call in progress fails and the chain moves on so a
// later request can still hit the cache.
func (p *Pipeline) Extract(ctx context.Context, doc Document) (*model.ExtractedReceipt, error) {
	if len(doc.Data) == 0 {
		return nil, fmt.Errorf("%w: empty document", common.ErrUnsupportedContent)
	}

	contentType := NormalizeContentType(doc.ContentType)
	if contentType == "" {
		contentType = DetectContentType(doc.Name, doc.Data)
	}
	doc.ContentType = contentType

	hash := HashContent(doc.Data)
	if cached, ok := p.cache.Get(ctx, hash); ok {
		p.logger.Debug("Extraction cache hit", "content_hash", hash, "provider", cached.Provider)
		return &cached, nil
	}

	f := p.join(hash)
	results := p.flights.DoChan(hash, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.pipelineTimeout)
		defer cancel()

		if cached, ok := p.cache.Get(runCtx, hash); ok {
			return cached, nil
		}
		return p.runChain(runCtx, hash, doc, f)
	})

	select {
	case <-ctx.Done():
		p.leave(hash, f)
		return nil, ctx.Err()
	case res := <-results:
		p.leave(hash, f)
		if res.Err != nil {
			return nil, res.Err
		}
		receipt, ok := res.Val.(model.ExtractedReceipt)
		if !ok {
			return nil, fmt.Errorf("unexpected extraction result %T", res.Val)
		}
		out := receipt.Clone()
		return &out, nil
	}
}

func (p *Pipeline) join(hash string) *flight {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.inflight[hash]
	if !ok {
		f = &flight{}
		p.inflight[hash] = f
	}
	f.waiters++
	return f
}

func (p *Pipeline) leave(hash string, f *flight) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	if p.inflight[hash] == f {
		delete(p.inflight, hash)
	}
	if f.cut != nil {
		f.cut(errCallersGone)
	}
}

// watch registers the provider call that leave may cut. Calls started after
// every caller has gone run to their own deadline.
func (p *Pipeline) watch(f *flight, cut context.CancelCauseFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f.waiters > 0 {
		f.cut = cut
	}
}

func (p *Pipeline) unwatch(f *flight) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f.cut = nil
}

func (p *Pipeline) runChain(ctx context.Context, hash string, doc Document, f *flight) (model.ExtractedReceipt, error) {
	var attempts []Attempt
	supported := false

	for _, prov := range p.providers {
		if !prov.Supports(doc.ContentType) {
			continue
		}
		supported = true
		name := prov.Name()

		if err := ctx.Err(); err != nil {
			attempts = append(attempts, Attempt{Provider: name, Outcome: OutcomeSkipped, Err: fmt.Errorf("pipeline deadline: %w", err)})
			continue
		}

		breaker := p.breakers.Get(name)
		if !breaker.Allow() {
			attempts = append(attempts, Attempt{Provider: name, Outcome: OutcomeCircuitOpen, Err: common.ErrCircuitOpen})
			p.logger.Debug("Skipping provider with open circuit", "provider", name, "content_hash", hash)
			continue
		}

		start := p.now()
		receipt, err := p.invoke(ctx, prov, doc, f)
		outcome := OutcomeFailed
		if err == nil {
			err = p.stamp(receipt, hash, name)
			outcome = OutcomeInvalid
		} else if errors.Is(err, common.ErrProviderTimeout) {
			outcome = OutcomeTimeout
		}
		elapsed := p.now().Sub(start)

		if err != nil {
			if !errors.Is(err, errCallersGone) {
				breaker.RecordFailure()
			}
			attempts = append(attempts, Attempt{Provider: name, Outcome: outcome, Err: err, Duration: elapsed})
			p.logger.Warn("Extraction provider failed",
				"provider", name,
				"content_hash", hash,
				"outcome", outcome,
				"duration", elapsed,
				"error", err)
			continue
		}

		breaker.RecordSuccess()
		stored, cacheErr := p.cache.Put(ctx, *receipt)
		if cacheErr != nil {
			p.logger.Warn("Failed to persist extraction", "content_hash", hash, "error", cacheErr)
		}
		p.logger.Info("Extracted receipt",
			"provider", name,
			"content_hash", hash,
			"confidence", receipt.Confidence,
			"cached", stored,
			"duration", elapsed)
		return receipt.Clone(), nil
	}

	if !supported {
		return model.ExtractedReceipt{}, fmt.Errorf("%w: %s", common.ErrUnsupportedContent, doc.ContentType)
	}
	return model.ExtractedReceipt{}, &ExhaustedError{ContentHash: hash, Attempts: attempts}
}

type providerResult struct {
	receipt *model.ExtractedReceipt
	err     error
}

// invoke runs a provider in its own goroutine so the deadline holds even when
// the provider ignores ctx.
func (p *Pipeline) invoke(ctx context.Context, prov Provider, doc Document, f *flight) (*model.ExtractedReceipt, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, p.providerTimeout)
	defer cancel()
	callCtx, cut := context.WithCancelCause(timeoutCtx)
	defer cut(nil)
	p.watch(f, cut)
	defer p.unwatch(f)

	done := make(chan providerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- providerResult{err: fmt.Errorf("provider panic: %v", r)}
			}
		}()
		receipt, err := prov.Extract(callCtx, doc)
		done <- providerResult{receipt: receipt, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(context.Cause(callCtx), errCallersGone) {
				return nil, fmt.Errorf("%w: %s: %w", common.ErrProviderTimeout, prov.Name(), errCallersGone)
			}
			if callCtx.Err() != nil && errors.Is(res.err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s: %v", common.ErrProviderTimeout, prov.Name(), res.err)
			}
			return nil, res.err
		}
		if res.receipt == nil {
			return nil, fmt.Errorf("%s returned no receipt", prov.Name())
		}
		receipt := res.receipt.Clone()
		return &receipt, nil
	case <-callCtx.Done():
		if errors.Is(context.Cause(callCtx), errCallersGone) {
			return nil, fmt.Errorf("%w: %s: %w", common.ErrProviderTimeout, prov.Name(), errCallersGone)
		}
		return nil, fmt.Errorf("%w: %s did not answer within %s", common.ErrProviderTimeout, prov.Name(), p.providerTimeout)
	}
}

// stamp fills in the pipeline-owned fields and validates the result.
func (p *Pipeline) stamp(receipt *model.ExtractedReceipt, hash, provider string) error {
	receipt.ContentHash = hash
	receipt.Provider = provider
	receipt.ExtractedAt = p.now()
	if receipt.Kind == "" {
		receipt.Kind = model.KindPurchase
	}
	if err := receipt.Validate(); err != nil {
		return fmt.Errorf("invalid result from %s: %w", provider, err)
	}
	return nil
}
