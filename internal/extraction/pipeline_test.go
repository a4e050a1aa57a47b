package extraction

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	extract func(ctx context.Context, doc Document) (*model.ExtractedReceipt, error)
	name    string
	types   []string
	calls   atomic.Int32
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Supports(contentType string) bool {
	if len(f.types) == 0 {
		return true
	}
	for _, t := range f.types {
		if t == contentType {
			return true
		}
	}
	return false
}

func (f *fakeProvider) Extract(ctx context.Context, doc Document) (*model.ExtractedReceipt, error) {
	f.calls.Add(1)
	return f.extract(ctx, doc)
}

func succeeding(name string, confidence float64) *fakeProvider {
	return &fakeProvider{
		name: name,
		extract: func(_ context.Context, _ Document) (*model.ExtractedReceipt, error) {
			return &model.ExtractedReceipt{
				MerchantRaw: "STARBUCKS #4471",
				Amount:      decimal.NewNullDecimal(decimal.RequireFromString("52.13")),
				Date:        model.NewDate(2024, time.June, 10),
				Confidence:  confidence,
			}, nil
		},
	}
}

func failing(name string) *fakeProvider {
	return &fakeProvider{
		name: name,
		extract: func(_ context.Context, _ Document) (*model.ExtractedReceipt, error) {
			return nil, errors.New("upstream 500")
		},
	}
}

func jpeg(content string) Document {
	return Document{Name: "receipt.jpg", ContentType: ContentTypeJPEG, Data: []byte(content)}
}

func newTestPipeline(providers ...Provider) *Pipeline {
	return NewPipeline(providers, NewContentCache(0.3, nil, nil), NewBreakerSet(DefaultBreakerConfig(), nil), Options{
		ProviderTimeout: 50 * time.Millisecond,
		PipelineTimeout: time.Second,
	})
}

func TestPipeline_ExtractStampsAndCaches(t *testing.T) {
	ctx := context.Background()
	prov := succeeding("primary", 0.9)
	p := newTestPipeline(prov)

	first, err := p.Extract(ctx, jpeg("receipt-bytes"))
	require.NoError(t, err)
	assert.Equal(t, HashContent([]byte("receipt-bytes")), first.ContentHash)
	assert.Equal(t, "primary", first.Provider)
	assert.Equal(t, model.KindPurchase, first.Kind)
	assert.False(t, first.ExtractedAt.IsZero())

	second, err := p.Extract(ctx, jpeg("receipt-bytes"))
	require.NoError(t, err)
	assert.Equal(t, *first, *second)
	assert.Equal(t, int32(1), prov.calls.Load(), "identical bytes are extracted once")
}

func TestPipeline_LowConfidenceIsNotCached(t *testing.T) {
	ctx := context.Background()
	prov := succeeding("primary", 0.2)
	p := newTestPipeline(prov)

	r, err := p.Extract(ctx, jpeg("blurry"))
	require.NoError(t, err)
	assert.InDelta(t, 0.2, r.Confidence, 1e-9)

	_, err = p.Extract(ctx, jpeg("blurry"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), prov.calls.Load())
}

func TestPipeline_FallsBackInOrder(t *testing.T) {
	primary := failing("primary")
	secondary := succeeding("secondary", 0.8)
	p := newTestPipeline(primary, secondary)

	r, err := p.Extract(context.Background(), jpeg("a"))
	require.NoError(t, err)
	assert.Equal(t, "secondary", r.Provider)
	assert.Equal(t, 1, p.Breakers().Get("primary").Failures())
	assert.Equal(t, int32(1), primary.calls.Load())
}

func TestPipeline_ProviderTimeoutIsHard(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	stuck := &fakeProvider{
		name: "stuck",
		extract: func(_ context.Context, _ Document) (*model.ExtractedReceipt, error) {
			<-release
			return nil, errors.New("too late")
		},
	}
	p := newTestPipeline(stuck, succeeding("backup", 0.7))

	start := time.Now()
	r, err := p.Extract(context.Background(), jpeg("slow"))
	require.NoError(t, err)
	assert.Equal(t, "backup", r.Provider)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 1, p.Breakers().Get("stuck").Failures())
}

func TestPipeline_Exhausted(t *testing.T) {
	invalid := &fakeProvider{
		name: "negative",
		extract: func(_ context.Context, _ Document) (*model.ExtractedReceipt, error) {
			return &model.ExtractedReceipt{Amount: decimal.NewNullDecimal(decimal.NewFromInt(-5)), Confidence: 0.9}, nil
		},
	}
	p := newTestPipeline(failing("one"), invalid)

	r, err := p.Extract(context.Background(), jpeg("bad"))
	assert.Nil(t, r)
	require.ErrorIs(t, err, common.ErrExtractionExhausted)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Attempts, 2)
	assert.Equal(t, OutcomeFailed, exhausted.Attempts[0].Outcome)
	assert.Equal(t, OutcomeInvalid, exhausted.Attempts[1].Outcome)
	assert.ErrorIs(t, exhausted.Attempts[1].Err, model.ErrNegativeAmount)
	assert.Contains(t, err.Error(), "one: failed")
}

func TestPipeline_SkipsOpenCircuit(t *testing.T) {
	flaky := failing("flaky")
	breakers := NewBreakerSet(BreakerConfig{FailureThreshold: 1, Window: time.Minute, Cooldown: time.Hour}, nil)
	p := NewPipeline([]Provider{flaky, succeeding("steady", 0.9)}, nil, breakers, Options{})

	_, err := p.Extract(context.Background(), jpeg("first"))
	require.NoError(t, err)
	require.Equal(t, StateOpen, breakers.Get("flaky").State())

	_, err = p.Extract(context.Background(), jpeg("second"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), flaky.calls.Load(), "open breaker is not called")
}

func TestPipeline_AllCircuitsOpen(t *testing.T) {
	breakers := NewBreakerSet(BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour}, nil)
	breakers.Get("only").RecordFailure()
	p := NewPipeline([]Provider{succeeding("only", 0.9)}, nil, breakers, Options{})

	_, err := p.Extract(context.Background(), jpeg("x"))
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Attempts, 1)
	assert.Equal(t, OutcomeCircuitOpen, exhausted.Attempts[0].Outcome)
	assert.ErrorIs(t, exhausted.Attempts[0].Err, common.ErrCircuitOpen)
}

func TestPipeline_UnsupportedContent(t *testing.T) {
	p := newTestPipeline(&fakeProvider{name: "images", types: []string{ContentTypePNG}})

	_, err := p.Extract(context.Background(), Document{Name: "notes.txt", Data: []byte("hello")})
	assert.ErrorIs(t, err, common.ErrUnsupportedContent)

	_, err = p.Extract(context.Background(), Document{})
	assert.ErrorIs(t, err, common.ErrUnsupportedContent)
}

func TestPipeline_CoalescesConcurrentRequests(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	prov := &fakeProvider{
		name: "slow",
		extract: func(_ context.Context, _ Document) (*model.ExtractedReceipt, error) {
			once.Do(func() { close(started) })
			<-release
			return &model.ExtractedReceipt{MerchantRaw: "Costco", Confidence: 0.95}, nil
		},
	}
	p := NewPipeline([]Provider{prov}, nil, nil, Options{ProviderTimeout: 5 * time.Second})

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*model.ExtractedReceipt, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.Extract(context.Background(), jpeg("burst"))
		}(i)
	}

	<-started
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "Costco", results[i].MerchantRaw)
	}
	assert.Equal(t, int32(1), prov.calls.Load())
}

func TestPipeline_CallerCancelDoesNotAbortSharedRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	prov := &fakeProvider{
		name: "slow",
		extract: func(_ context.Context, _ Document) (*model.ExtractedReceipt, error) {
			close(started)
			<-release
			return &model.ExtractedReceipt{MerchantRaw: "REI", Confidence: 0.9}, nil
		},
	}
	p := NewPipeline([]Provider{prov}, nil, nil, Options{ProviderTimeout: 5 * time.Second})

	patient := make(chan error, 1)
	go func() {
		_, err := p.Extract(context.Background(), jpeg("shared"))
		patient <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := p.Extract(ctx, jpeg("shared"))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-patient)
	_, ok := p.Cache().Get(context.Background(), HashContent([]byte("shared")))
	assert.True(t, ok)
	assert.Equal(t, int32(1), prov.calls.Load())
}

func TestPipeline_LastCallerLeavingMovesChainOn(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	var sawCancel atomic.Bool
	stuck := &fakeProvider{
		name: "stuck",
		extract: func(ctx context.Context, _ Document) (*model.ExtractedReceipt, error) {
			select {
			case <-ctx.Done():
				sawCancel.Store(true)
				return nil, ctx.Err()
			case <-release:
				return nil, errors.New("too late")
			}
		},
	}
	backup := succeeding("backup", 0.7)
	p := NewPipeline([]Provider{stuck, backup}, nil, nil, Options{ProviderTimeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := p.Extract(ctx, jpeg("deadline"))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool {
		_, ok := p.Cache().Get(context.Background(), HashContent([]byte("deadline")))
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, sawCancel.Load())
	assert.Equal(t, int32(1), backup.calls.Load())
	assert.Zero(t, p.Breakers().Get("stuck").Failures())
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, ContentTypePDF, DetectContentType("r.PDF", nil))
	assert.Equal(t, ContentTypeHTML, DetectContentType("mail.eml", nil))
	assert.Equal(t, ContentTypePlain, DetectContentType("", []byte("TOTAL 4.50")))
	assert.Equal(t, ContentTypePNG, DetectContentType("", []byte("\x89PNG\r\n\x1a\n0000")))
	assert.Equal(t, "text/html", NormalizeContentType("Text/HTML; charset=utf-8"))
}
