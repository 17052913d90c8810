package targets

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"targetwatch/internal/application/port"
	"targetwatch/internal/domain"
	"targetwatch/internal/infrastructure/alertstore/memory"
)

// fakeStore 记录调用并可注入失败或阻塞的 AlertStore
type fakeStore struct {
	*memory.Store

	mu    sync.Mutex
	calls []string

	listErr       error
	activateErr   error
	deactivateErr error
	// staleList 非 nil 时 List 返回该结果而不是真实数据
	staleList []domain.AlertRecord

	listGate     chan struct{}
	activateGate chan struct{}
	started      chan string

	// listFn 非 nil 时接管 List；n 从 1 开始计数
	listFn     func(ctx context.Context, n int, filter port.AlertFilter) ([]domain.AlertRecord, error)
	listCount  int
	activateAs *bool // 非 nil 时覆盖 Activate 返回的 active
}

func newFakeStore(seed ...domain.AlertRecord) *fakeStore {
	return &fakeStore{Store: memory.New(seed...), started: make(chan string, 16)}
}

func (f *fakeStore) log(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeStore) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeStore) resetCalls() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeStore) List(ctx context.Context, filter port.AlertFilter) ([]domain.AlertRecord, error) {
	f.log("list " + filter.Ticker)
	if f.listFn != nil {
		f.mu.Lock()
		f.listCount++
		n := f.listCount
		f.mu.Unlock()
		return f.listFn(ctx, n, filter)
	}
	if f.listGate != nil {
		f.started <- "list " + filter.Ticker
	}
	if err := wait(ctx, f.listGate); err != nil {
		return nil, err
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	if f.staleList != nil {
		return f.staleList, nil
	}
	return f.Store.List(ctx, filter)
}

func (f *fakeStore) Activate(ctx context.Context, key domain.AlertKey) (domain.AlertRecord, error) {
	f.log("activate " + key.String())
	if f.activateGate != nil {
		f.started <- "activate " + key.String()
	}
	if err := wait(ctx, f.activateGate); err != nil {
		return domain.AlertRecord{}, err
	}
	if f.activateErr != nil {
		return domain.AlertRecord{}, f.activateErr
	}
	if f.activateAs != nil {
		return domain.AlertRecord{Ticker: key.Ticker, Kind: key.Kind, Threshold: key.Threshold, Active: *f.activateAs}, nil
	}
	return f.Store.Activate(ctx, key)
}

func (f *fakeStore) Deactivate(ctx context.Context, key domain.AlertKey) (domain.AlertRecord, error) {
	f.log("deactivate " + key.String())
	if f.deactivateErr != nil {
		return domain.AlertRecord{}, f.deactivateErr
	}
	return f.Store.Deactivate(ctx, key)
}

type recordingSink struct {
	mu     sync.Mutex
	events []port.SlotEvent
}

func (s *recordingSink) Publish(ev port.SlotEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) Types() []port.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]port.EventType, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

type recordingJournal struct {
	mu      sync.Mutex
	records []domain.TransitionRecord
	err     error
}

func (j *recordingJournal) RecordTransition(_ context.Context, rec *domain.TransitionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, *rec)
	return j.err
}

func (j *recordingJournal) Close() error { return nil }

func newTestEngine(t *testing.T, store port.AlertStore, tickers ...string) *Engine {
	t.Helper()
	e, err := NewEngine(EngineDeps{
		Store:       store,
		Percentages: testPcts,
		CallTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	if len(tickers) > 0 {
		e.SetTickers(tickers)
	}
	return e
}

func key(kind domain.AlertKind, threshold float64) string {
	return domain.TargetKey("ACME", kind, threshold).String()
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(EngineDeps{})
	assert.Error(t, err)

	_, err = NewEngine(EngineDeps{Store: memory.New(), Percentages: []float64{math.NaN()}})
	assert.Error(t, err)

	e, err := NewEngine(EngineDeps{Store: memory.New()})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 3, 5, 10}, e.Percentages())
}

func TestEngine_RefreshFoldsScenario(t *testing.T) {
	store := newFakeStore(
		rec(10, domain.KindTargetAbs, 7),
		rec(11, domain.KindTargetPct, 12),
		rec(12, domain.KindTargetPct, 5),
	)
	e := newTestEngine(t, store, "acme", "beta")

	require.NoError(t, e.Refresh(context.Background()))
	assert.ElementsMatch(t, []string{"list ACME", "list BETA"}, store.Calls())

	v, ok := e.Slot("ACME")
	require.True(t, ok)
	active, _ := v.StandardActive(5)
	assert.True(t, active)
	require.NotNil(t, v.Custom.Value)
	assert.Equal(t, 12.0, *v.Custom.Value)
	assert.Equal(t, domain.KindTargetPct, v.Custom.BoundKind)
	assert.True(t, v.Custom.Active)

	beta, ok := e.Slot("BETA")
	require.True(t, ok)
	for _, s := range beta.Standard {
		assert.False(t, s.Active)
	}

	snap := e.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "ACME", snap[0].Ticker)
	assert.Equal(t, "ACME-5", snap[0].Standard[2].Key)
}

func TestEngine_ToggleStandard(t *testing.T) {
	store := newFakeStore()
	sink := &recordingSink{}
	journal := &recordingJournal{}
	e, err := NewEngine(EngineDeps{Store: store, Sink: sink, Journal: journal, Percentages: testPcts})
	require.NoError(t, err)
	e.SetTickers([]string{"ACME"})
	ctx := context.Background()

	res, err := e.ToggleStandard(ctx, "acme", 5)
	require.NoError(t, err)
	assert.Equal(t, "Activated 5% alert for ACME.", res.Message)
	active, _ := res.Slot.StandardActive(5)
	assert.True(t, active)
	assert.False(t, res.Slot.Updating)

	res, err = e.ToggleStandard(ctx, "ACME", 5)
	require.NoError(t, err)
	assert.Equal(t, "Deactivated 5% alert for ACME.", res.Message)
	active, _ = res.Slot.StandardActive(5)
	assert.False(t, active)

	assert.Equal(t, []string{
		"activate " + key(domain.KindTargetPct, 5),
		"deactivate " + key(domain.KindTargetPct, 5),
	}, store.Calls())

	assert.Contains(t, sink.Types(), port.EventPending)
	assert.Contains(t, sink.Types(), port.EventTransition)
	require.Len(t, journal.records, 2)
	assert.Equal(t, domain.OutcomeOK, journal.records[0].Outcome)
	assert.True(t, journal.records[0].Active)
	assert.False(t, journal.records[1].Active)
}

func TestEngine_ToggleStandardFailureKeepsState(t *testing.T) {
	store := newFakeStore()
	store.activateErr = &port.StatusError{Code: 500, Body: "boom"}
	e := newTestEngine(t, store, "ACME")

	_, err := e.ToggleStandard(context.Background(), "ACME", 3)
	require.Error(t, err)

	var terr *TransitionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "Unable to activate alert.", terr.Reason)
	var serr *port.StatusError
	assert.True(t, errors.As(err, &serr))

	v, _ := e.Slot("ACME")
	active, _ := v.StandardActive(3)
	assert.False(t, active)
	assert.False(t, v.Updating)
}

func TestEngine_LocalValidationMakesNoCalls(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(t, store, "ACME")
	ctx := context.Background()

	_, err := e.ToggleStandard(ctx, "ACME", 7)
	assert.ErrorIs(t, err, ErrUnknownSlot)

	_, err = e.ToggleStandard(ctx, "ZZZ", 5)
	assert.ErrorIs(t, err, ErrUnknownTicker)

	_, err = e.SetCustom(ctx, "ACME", domain.ModePct, 5)
	assert.ErrorIs(t, err, ErrStandardCollision)
	assert.Contains(t, err.Error(), "use the 5% toggle to manage this alert for ACME")

	_, err = e.SetCustom(ctx, "ACME", domain.ModePct, math.NaN())
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = e.SetCustom(ctx, "ACME", "bps", 2)
	assert.ErrorIs(t, err, ErrInvalidMode)

	assert.Empty(t, store.Calls())
}

func TestEngine_SetCustomKindChangeDeactivatesFirst(t *testing.T) {
	store := newFakeStore(rec(11, domain.KindTargetPct, 12))
	e := newTestEngine(t, store, "ACME")
	ctx := context.Background()
	require.NoError(t, e.Refresh(ctx))
	store.resetCalls()

	res, err := e.SetCustom(ctx, "ACME", domain.ModeAbs, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeOK, res.Outcome)
	assert.Equal(t, "Custom $ alert set for ACME.", res.Message)

	assert.Equal(t, []string{
		"deactivate " + key(domain.KindTargetPct, 12),
		"activate " + key(domain.KindTargetAbs, 7),
	}, store.Calls())

	c := res.Slot.Custom
	assert.Equal(t, domain.ModeAbs, c.Mode)
	assert.True(t, c.Active)
	assert.Equal(t, domain.KindTargetAbs, c.BoundKind)
	require.NotNil(t, c.BoundThreshold)
	assert.Equal(t, 7.0, *c.BoundThreshold)
}

func TestEngine_SetCustomSameBindingSkipsDeactivate(t *testing.T) {
	store := newFakeStore(rec(11, domain.KindTargetPct, 12))
	e := newTestEngine(t, store, "ACME")
	ctx := context.Background()
	require.NoError(t, e.Refresh(ctx))
	store.resetCalls()

	_, err := e.SetCustom(ctx, "ACME", domain.ModePct, 12.0000001)
	require.NoError(t, err)
	assert.Equal(t, []string{"activate " + domain.TargetKey("ACME", domain.KindTargetPct, 12.0000001).String()}, store.Calls())
}

func TestEngine_SetCustomPartialFailure(t *testing.T) {
	store := newFakeStore(rec(11, domain.KindTargetPct, 12))
	journal := &recordingJournal{}
	e, err := NewEngine(EngineDeps{Store: store, Journal: journal, Percentages: testPcts})
	require.NoError(t, err)
	e.SetTickers([]string{"ACME"})
	ctx := context.Background()
	require.NoError(t, e.Refresh(ctx))

	store.activateErr = port.ErrStoreUnavailable
	res, err := e.SetCustom(ctx, "ACME", domain.ModeAbs, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePartial, res.Outcome)
	assert.NotEmpty(t, res.Message)

	c := res.Slot.Custom
	assert.False(t, c.Active)
	assert.Empty(t, c.BoundKind)
	assert.Nil(t, c.BoundThreshold)

	require.Len(t, journal.records, 1)
	assert.Equal(t, domain.OutcomePartial, journal.records[0].Outcome)
}

func TestEngine_SetCustomDeactivateFailureAborts(t *testing.T) {
	store := newFakeStore(rec(11, domain.KindTargetPct, 12))
	e := newTestEngine(t, store, "ACME")
	ctx := context.Background()
	require.NoError(t, e.Refresh(ctx))
	store.resetCalls()

	store.deactivateErr = port.ErrStoreUnavailable
	_, err := e.SetCustom(ctx, "ACME", domain.ModeAbs, 7)
	require.Error(t, err)
	assert.ErrorIs(t, err, port.ErrStoreUnavailable)
	assert.Equal(t, []string{"deactivate " + key(domain.KindTargetPct, 12)}, store.Calls())

	v, _ := e.Slot("ACME")
	assert.True(t, v.Custom.Active)
	assert.Equal(t, domain.KindTargetPct, v.Custom.BoundKind)
}

func TestEngine_DisableCustom(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(t, store, "ACME")
	ctx := context.Background()

	res, err := e.DisableCustom(ctx, "ACME")
	require.NoError(t, err)
	assert.False(t, res.Slot.Custom.Active)
	assert.Empty(t, store.Calls())

	_, err = e.SetCustom(ctx, "ACME", domain.ModePct, 2.5)
	require.NoError(t, err)
	store.resetCalls()

	res, err = e.DisableCustom(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, "Disabled custom alert for ACME.", res.Message)
	assert.Equal(t, []string{"deactivate " + key(domain.KindTargetPct, 2.5)}, store.Calls())
	assert.False(t, res.Slot.Custom.Active)
	assert.Nil(t, res.Slot.Custom.BoundThreshold)
	require.NotNil(t, res.Slot.Custom.Value)
	assert.Equal(t, 2.5, *res.Slot.Custom.Value)
}

func TestEngine_ConcurrentTransitionRejected(t *testing.T) {
	store := newFakeStore()
	store.activateGate = make(chan struct{})
	e := newTestEngine(t, store, "ACME")
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := e.ToggleStandard(ctx, "ACME", 5)
		done <- err
	}()
	<-store.started

	v, _ := e.Slot("ACME")
	assert.True(t, v.Updating)
	assert.True(t, v.Standard[2].Pending)
	assert.False(t, v.Standard[1].Pending)

	_, err := e.ToggleStandard(ctx, "ACME", 3)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = e.SetCustom(ctx, "ACME", domain.ModeAbs, 2)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, 1, e.GuardStats().InFlight)

	close(store.activateGate)
	require.NoError(t, <-done)

	v, _ = e.Slot("ACME")
	assert.False(t, v.Updating)
	active, _ := v.StandardActive(5)
	assert.True(t, active)
	assert.Len(t, store.Calls(), 1)
}

func TestEngine_SupersededRefreshDiscarded(t *testing.T) {
	store := newFakeStore(rec(1, domain.KindTargetPct, 5))
	store.listGate = make(chan struct{})
	e := newTestEngine(t, store, "ACME")

	done := make(chan error, 1)
	go func() { done <- e.Refresh(context.Background()) }()
	<-store.started

	assert.True(t, e.SetTickers([]string{"BETA"}))
	close(store.listGate)

	assert.ErrorIs(t, <-done, ErrRefreshSuperseded)
	_, ok := e.Slot("ACME")
	assert.False(t, ok)
	beta, ok := e.Slot("BETA")
	require.True(t, ok)
	for _, s := range beta.Standard {
		assert.False(t, s.Active)
	}
}

func TestEngine_TransitionSupersedesRefresh(t *testing.T) {
	store := newFakeStore()
	store.listGate = make(chan struct{})
	store.staleList = []domain.AlertRecord{}
	e := newTestEngine(t, store, "ACME")

	done := make(chan error, 1)
	go func() { done <- e.Refresh(context.Background()) }()
	<-store.started

	_, err := e.ToggleStandard(context.Background(), "ACME", 5)
	require.NoError(t, err)

	close(store.listGate)
	require.NoError(t, <-done)

	v, _ := e.Slot("ACME")
	active, _ := v.StandardActive(5)
	assert.True(t, active)
}

func TestEngine_RefreshFailureKeepsPriorState(t *testing.T) {
	store := newFakeStore(rec(1, domain.KindTargetPct, 10))
	e := newTestEngine(t, store, "ACME")
	ctx := context.Background()
	require.NoError(t, e.Refresh(ctx))

	store.listErr = port.ErrStoreUnavailable
	err := e.Refresh(ctx)
	var rerr *RefreshError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, []string{"ACME"}, rerr.Tickers)
	assert.ErrorIs(t, err, port.ErrStoreUnavailable)

	v, _ := e.Slot("ACME")
	active, _ := v.StandardActive(10)
	assert.True(t, active)
}

func TestEngine_SetTickersUnchanged(t *testing.T) {
	e := newTestEngine(t, newFakeStore(), "ACME", "BETA")
	assert.False(t, e.SetTickers([]string{"beta", "acme", "ACME"}))
	assert.Equal(t, []string{"BETA", "ACME"}, e.Tickers())
	assert.True(t, e.SetTickers([]string{"ACME"}))
}

func TestEngine_CloseDropsInFlightMutation(t *testing.T) {
	store := newFakeStore()
	store.activateGate = make(chan struct{})
	e := newTestEngine(t, store, "ACME")

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := e.ToggleStandard(context.Background(), "ACME", 1)
		done <- outcome{res, err}
	}()
	<-store.started

	require.NoError(t, e.Close())
	close(store.activateGate)

	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, "Activated 1% alert for ACME.", out.res.Message)

	v, _ := e.Slot("ACME")
	active, _ := v.StandardActive(1)
	assert.False(t, active)

	assert.ErrorIs(t, e.Refresh(context.Background()), ErrClosed)
	_, err := e.ToggleStandard(context.Background(), "ACME", 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEngine_JournalErrorDoesNotFailTransition(t *testing.T) {
	journal := &recordingJournal{err: errors.New("disk full")}
	e, err := NewEngine(EngineDeps{Store: newFakeStore(), Journal: journal, Percentages: testPcts})
	require.NoError(t, err)
	e.SetTickers([]string{"ACME"})

	_, err = e.ToggleStandard(context.Background(), "ACME", 10)
	assert.NoError(t, err)
	assert.Len(t, journal.records, 1)
}

func TestEngine_OlderRefreshLandingLastIsDiscarded(t *testing.T) {
	store := newFakeStore(rec(1, domain.KindTargetPct, 5))
	release := make(chan struct{})
	store.listFn = func(ctx context.Context, n int, filter port.AlertFilter) ([]domain.AlertRecord, error) {
		if n == 1 {
			store.started <- "list " + filter.Ticker
			if err := wait(ctx, release); err != nil {
				return nil, err
			}
			return []domain.AlertRecord{}, nil
		}
		return store.Store.List(ctx, filter)
	}
	e := newTestEngine(t, store, "ACME")

	older := make(chan error, 1)
	go func() { older <- e.Refresh(context.Background()) }()
	<-store.started

	require.NoError(t, e.Refresh(context.Background()))
	v, _ := e.Slot("ACME")
	active, _ := v.StandardActive(5)
	require.True(t, active)

	close(release)
	require.NoError(t, <-older)

	v, _ = e.Slot("ACME")
	active, _ = v.StandardActive(5)
	assert.True(t, active)
}

func TestEngine_ToggleMessageFollowsStoreResponse(t *testing.T) {
	store := newFakeStore()
	inactive := false
	store.activateAs = &inactive
	e := newTestEngine(t, store, "ACME")

	res, err := e.ToggleStandard(context.Background(), "ACME", 5)
	require.NoError(t, err)
	assert.Equal(t, "Deactivated 5% alert for ACME.", res.Message)

	v, _ := e.Slot("ACME")
	active, _ := v.StandardActive(5)
	assert.False(t, active)
}

func TestEngine_CloseCancelsInFlightRefresh(t *testing.T) {
	store := newFakeStore(rec(1, domain.KindTargetPct, 5))
	store.listGate = make(chan struct{})
	e := newTestEngine(t, store, "ACME")

	done := make(chan error, 1)
	go func() { done <- e.Refresh(context.Background()) }()
	<-store.started

	require.NoError(t, e.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("refresh not cancelled by Close")
	}

	v, _ := e.Slot("ACME")
	active, _ := v.StandardActive(5)
	assert.False(t, active)
}

func TestEngine_SameSlotToggledTwiceConcurrently(t *testing.T) {
	store := newFakeStore()
	store.activateGate = make(chan struct{})
	e := newTestEngine(t, store, "ACME")
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := e.ToggleStandard(ctx, "ACME", 5)
		done <- err
	}()
	<-store.started

	_, err := e.ToggleStandard(ctx, "ACME", 5)
	assert.ErrorIs(t, err, ErrBusy)

	close(store.activateGate)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"activate " + key(domain.KindTargetPct, 5)}, store.Calls())

	v, _ := e.Slot("ACME")
	active, _ := v.StandardActive(5)
	assert.True(t, active)

	// 前一次结束后再次切换按正常流程停用
	res, err := e.ToggleStandard(ctx, "ACME", 5)
	require.NoError(t, err)
	assert.Equal(t, "Deactivated 5% alert for ACME.", res.Message)
}
