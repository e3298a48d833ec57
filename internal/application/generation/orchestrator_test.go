package generation

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-pixel-ai-api/internal/application/budget"
	"z-pixel-ai-api/internal/application/ratelimit"
	"z-pixel-ai-api/internal/domain/entity"
	"z-pixel-ai-api/internal/domain/repository"
	"z-pixel-ai-api/internal/domain/service"
	"z-pixel-ai-api/pkg/utils"
)

type memRateStore struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

func newMemRateStore() *memRateStore {
	return &memRateStore{entries: make(map[string][]time.Time)}
}

func (s *memRateStore) key(scopeKey, identifier string) string { return scopeKey + ":" + identifier }

func (s *memRateStore) Window(_ context.Context, scopeKey, identifier string, since time.Time) (repository.WindowStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stat repository.WindowStat
	for _, ts := range s.entries[s.key(scopeKey, identifier)] {
		if ts.Before(since) {
			continue
		}
		stat.Count++
		if stat.Oldest.IsZero() || ts.Before(stat.Oldest) {
			stat.Oldest = ts
		}
	}
	return stat, nil
}

func (s *memRateStore) Record(_ context.Context, scopeKey, identifier string, now time.Time, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(scopeKey, identifier)
	s.entries[k] = append(s.entries[k], now)
	return nil
}

func (s *memRateStore) fill(scope ratelimit.Scope, identifier string, n int) {
	for i := 0; i < n; i++ {
		_ = s.Record(context.Background(), scope.KeyPrefix, identifier, time.Now(), scope.Window)
	}
}

type fakeLedger struct {
	mu       sync.Mutex
	records  []*entity.CostRecord
	settled  map[string]bool
	reserves int
}

func newFakeLedger() *fakeLedger { return &fakeLedger{settled: make(map[string]bool)} }

func (l *fakeLedger) Reserve(_ context.Context, record *entity.CostRecord, dailyLimit, monthlyLimit float64, _, _ time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reserves++
	var daily float64
	for _, r := range l.records {
		if r.UserID == record.UserID {
			daily += r.ActualCost
		}
	}
	if daily+record.EstimatedCost > dailyLimit {
		return false, nil
	}
	record.ID = uuid.New().String()
	record.CreatedAt = time.Now()
	l.records = append(l.records, record)
	return true, nil
}

func (l *fakeLedger) Settle(_ context.Context, recordID string, actualCost float64, tokensUsed, durationMs int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.records {
		if r.ID == recordID {
			r.ActualCost = actualCost
			r.TokensUsed = tokensUsed
			l.settled[recordID] = true
			return nil
		}
	}
	return errors.New("record not found")
}

func (l *fakeLedger) SumRange(_ context.Context, userID string, _, _ time.Time) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sum float64
	for _, r := range l.records {
		if r.UserID == userID {
			sum += r.ActualCost
		}
	}
	return sum, nil
}

func (l *fakeLedger) SystemStats(context.Context, time.Time, time.Time) (*entity.SystemCostStats, error) {
	return &entity.SystemCostStats{}, nil
}

type countingProfiles struct {
	tier  entity.Tier
	calls int
}

func (p *countingProfiles) TierFor(context.Context, string) (entity.Tier, error) {
	p.calls++
	return p.tier, nil
}

type fakeProvider struct {
	mu          sync.Mutex
	editCalls   []service.ImageEditInput
	editResults []*service.ImageResult
	editErr     error
	videoHandle *service.VideoHandle
	videoErr    error
	block       chan struct{}
}

func (p *fakeProvider) EditImage(_ context.Context, in service.ImageEditInput) (*service.ImageResult, error) {
	p.mu.Lock()
	p.editCalls = append(p.editCalls, in)
	n := len(p.editCalls)
	p.mu.Unlock()
	if p.block != nil {
		<-p.block
	}
	if p.editErr != nil {
		return nil, p.editErr
	}
	if n > len(p.editResults) {
		n = len(p.editResults)
	}
	return p.editResults[n-1], nil
}

func (p *fakeProvider) GenerateVideo(_ context.Context, _ service.VideoInput, progress func(string)) (*service.VideoHandle, error) {
	if progress != nil {
		progress("processing")
	}
	if p.videoErr != nil {
		return nil, p.videoErr
	}
	return p.videoHandle, nil
}

type testHarness struct {
	orchestrator *Orchestrator
	store        *memRateStore
	ledger       *fakeLedger
	profiles     *countingProfiles
	provider     *fakeProvider
}

func newHarness(tier entity.Tier, provider *fakeProvider, opts Options) *testHarness {
	store := newMemRateStore()
	ledger := newFakeLedger()
	profiles := &countingProfiles{tier: tier}
	limiter := ratelimit.NewLimiter(store, false)
	controller := budget.NewController(ledger, profiles, nil, 0.8)
	return &testHarness{
		orchestrator: NewOrchestrator(limiter, controller, provider, opts),
		store:        store,
		ledger:       ledger,
		profiles:     profiles,
		provider:     provider,
	}
}

func pngImage(t *testing.T, w, h int) *entity.ImageData {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return &entity.ImageData{MimeType: "image/png", Data: buf.Bytes()}
}

func pngDataURI(t *testing.T, w, h int) string {
	t.Helper()
	img := pngImage(t, w, h)
	return utils.EncodeDataURI(img.MimeType, img.Data)
}

func editRequest(t *testing.T, prompt string) *entity.GenerationRequest {
	t.Helper()
	return &entity.GenerationRequest{
		ID:           uuid.New().String(),
		UserID:       "user-1",
		SessionID:    "session-1",
		Kind:         entity.KindImageEdit,
		PrimaryImage: pngImage(t, 32, 32),
		Prompt:       prompt,
		SubmittedAt:  time.Now(),
	}
}

func drainStages(events chan StageEvent) []Stage {
	close(events)
	var stages []Stage
	for e := range events {
		stages = append(stages, e.Stage)
	}
	return stages
}

func TestRun_ImageEditHappyPath(t *testing.T) {
	provider := &fakeProvider{editResults: []*service.ImageResult{
		{ImageURL: pngDataURI(t, 32, 32), Text: "done", TokensUsed: 120},
	}}
	h := newHarness(entity.TierStandard, provider, Options{})

	events := make(chan StageEvent, 32)
	result, err := h.orchestrator.Run(context.Background(), editRequest(t, "make it rain"), events)
	require.NoError(t, err)

	assert.NotEmpty(t, result.ImageURL)
	assert.Equal(t, "done", result.Text)
	assert.Equal(t, 120, result.TokensUsed)

	stages := drainStages(events)
	assert.Equal(t, []Stage{StageValidating, StageRateLimitCheck, StageBudgetCheck,
		StageInvoking, StagePostProcessing, StageDone}, stages)

	history := h.orchestrator.SessionHistory("session-1")
	require.Len(t, history, 1)
	assert.Equal(t, result.ID, history[0].ID)

	require.Len(t, h.ledger.records, 1)
	assert.True(t, h.ledger.settled[h.ledger.records[0].ID])
	assert.Equal(t, 120, h.ledger.records[0].TokensUsed)
}

func TestRun_ValidationStopsBeforeGovernance(t *testing.T) {
	provider := &fakeProvider{}
	h := newHarness(entity.TierStandard, provider, Options{})

	_, err := h.orchestrator.Run(context.Background(), editRequest(t, "   "), nil)

	var vErr *service.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "prompt", vErr.Field)
	assert.Zero(t, h.profiles.calls)
	assert.Empty(t, provider.editCalls)
}

func TestRun_RateLimitPrecedesBudget(t *testing.T) {
	provider := &fakeProvider{}
	h := newHarness(entity.TierStandard, provider, Options{})
	h.store.fill(ratelimit.ScopeGeneration, "user-1", ratelimit.ScopeGeneration.MaxRequests)

	_, err := h.orchestrator.Run(context.Background(), editRequest(t, "prompt"), nil)

	var rlErr *service.RateLimitedError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, "generation", rlErr.Scope)
	assert.Positive(t, rlErr.RetryAfterSeconds)
	assert.Zero(t, h.profiles.calls)
	assert.Zero(t, h.ledger.reserves)
}

func TestRun_BudgetDenialCarriesStats(t *testing.T) {
	provider := &fakeProvider{}
	h := newHarness(entity.TierFree, provider, Options{})

	req := editRequest(t, "animate this")
	req.Kind = entity.KindVideoAnimate

	// 免费档单次上限 $0.05，视频预估 $0.10 必然被拒
	_, err := h.orchestrator.Run(context.Background(), req, nil)

	var bErr *service.BudgetExceededError
	require.ErrorAs(t, err, &bErr)
	assert.Contains(t, bErr.Reason, "per-request limit")
	assert.Empty(t, provider.editCalls)
}

func TestRun_SecondConcurrentRunRejected(t *testing.T) {
	provider := &fakeProvider{
		block:       make(chan struct{}),
		editResults: []*service.ImageResult{{ImageURL: pngDataURI(t, 8, 8)}},
	}
	h := newHarness(entity.TierStandard, provider, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := h.orchestrator.Run(context.Background(), editRequest(t, "slow one"), nil)
		done <- err
	}()

	// 等第一个请求进入提供商调用
	require.Eventually(t, func() bool {
		provider.mu.Lock()
		defer provider.mu.Unlock()
		return len(provider.editCalls) == 1
	}, time.Second, 5*time.Millisecond)

	_, err := h.orchestrator.Run(context.Background(), editRequest(t, "second"), nil)
	assert.ErrorIs(t, err, ErrSessionBusy)

	close(provider.block)
	require.NoError(t, <-done)
}

func TestRun_TwoStepPipeline(t *testing.T) {
	intermediate := pngDataURI(t, 40, 40)
	final := pngDataURI(t, 40, 40)
	provider := &fakeProvider{editResults: []*service.ImageResult{
		{ImageURL: intermediate, TokensUsed: 60},
		{ImageURL: final, TokensUsed: 80},
	}}
	h := newHarness(entity.TierStandard, provider, Options{})

	req := editRequest(t, "")
	req.Kind = entity.KindLineArtRender
	req.SecondaryImage = pngImage(t, 16, 16)

	result, err := h.orchestrator.Run(context.Background(), req, nil)
	require.NoError(t, err)

	require.Len(t, provider.editCalls, 2)
	assert.Equal(t, lineArtPrompt, provider.editCalls[0].Prompt)
	assert.Nil(t, provider.editCalls[0].Secondary)

	spec, _ := entity.SpecFor(entity.KindLineArtRender)
	assert.Equal(t, spec.BasePrompt, provider.editCalls[1].Prompt)

	// 参考图被缩放到第一步产出的尺寸
	require.NotNil(t, provider.editCalls[1].Secondary)
	resized, _, err := image.Decode(bytes.NewReader(provider.editCalls[1].Secondary.Data))
	require.NoError(t, err)
	assert.Equal(t, 40, resized.Bounds().Dx())
	assert.Equal(t, 40, resized.Bounds().Dy())

	assert.Equal(t, intermediate, result.IntermediateImageURL)
	assert.Equal(t, 140, result.TokensUsed)
}

func TestRun_TwoStepAbortsWithoutIntermediate(t *testing.T) {
	provider := &fakeProvider{editResults: []*service.ImageResult{
		{Text: "cannot help with that", TokensUsed: 10},
	}}
	h := newHarness(entity.TierStandard, provider, Options{})

	req := editRequest(t, "")
	req.Kind = entity.KindLineArtRender

	_, err := h.orchestrator.Run(context.Background(), req, nil)

	var extErr *service.ExternalServiceError
	require.ErrorAs(t, err, &extErr)
	assert.Len(t, provider.editCalls, 1)

	// 失败也要结算：调用已经产生成本
	require.Len(t, h.ledger.records, 1)
	assert.True(t, h.ledger.settled[h.ledger.records[0].ID])
}

func TestRun_ProviderFailureSettlesReservation(t *testing.T) {
	provider := &fakeProvider{editErr: &service.ExternalServiceError{Message: "model overloaded"}}
	h := newHarness(entity.TierStandard, provider, Options{})

	_, err := h.orchestrator.Run(context.Background(), editRequest(t, "prompt"), nil)

	var extErr *service.ExternalServiceError
	require.ErrorAs(t, err, &extErr)
	require.Len(t, h.ledger.records, 1)
	assert.True(t, h.ledger.settled[h.ledger.records[0].ID])
}

func TestRun_WatermarkAppliedToImages(t *testing.T) {
	provider := &fakeProvider{editResults: []*service.ImageResult{
		{ImageURL: pngDataURI(t, 120, 80)},
	}}
	h := newHarness(entity.TierStandard, provider, Options{
		WatermarkEnabled: true,
		WatermarkLabel:   "AI Generated",
	})

	result, err := h.orchestrator.Run(context.Background(), editRequest(t, "prompt"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, provider.editResults[0].ImageURL, result.ImageURL)

	_, data, err := utils.DecodeDataURI(result.ImageURL)
	require.NoError(t, err)
	decoded, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 120, decoded.Bounds().Dx())
	assert.Equal(t, 80, decoded.Bounds().Dy())
}

func TestHistory_EvictsOldestBeyondCapacity(t *testing.T) {
	h := NewHistory(2)

	first := &entity.GenerationResult{ID: "r1"}
	require.Empty(t, h.Append("s", first))
	require.Empty(t, h.Append("s", &entity.GenerationResult{ID: "r2"}))

	evicted := h.Append("s", &entity.GenerationResult{ID: "r3"})
	require.Len(t, evicted, 1)
	assert.Equal(t, "r1", evicted[0].ID)

	list := h.List("s")
	require.Len(t, list, 2)
	assert.Equal(t, "r3", list[0].ID)
	assert.Equal(t, "r2", list[1].ID)
}

func TestBuildPrompt(t *testing.T) {
	figurine, _ := entity.SpecFor(entity.KindFigurine)
	custom, _ := entity.SpecFor(entity.KindImageEdit)

	assert.Equal(t, figurine.BasePrompt, buildPrompt(figurine, ""))
	assert.Equal(t, figurine.BasePrompt+"\nmatte finish", buildPrompt(figurine, " matte finish "))
	assert.Equal(t, "my prompt", buildPrompt(custom, " my prompt "))
}
