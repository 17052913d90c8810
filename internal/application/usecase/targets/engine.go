package targets

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"targetwatch/internal/application/port"
	"targetwatch/internal/domain"
)

const (
	defaultCallTimeout        = 10 * time.Second
	defaultRefreshConcurrency = 8
	journalTimeout            = 3 * time.Second
)

// DefaultPercentages 标准目标百分比
var DefaultPercentages = []float64{1, 3, 5, 10}

// EngineDeps 引擎依赖
type EngineDeps struct {
	Store       port.AlertStore
	Journal     port.TransitionJournal // 可选
	Sink        port.SlotSink          // 可选
	Percentages []float64
	// CallTimeout bounds every alert store call.
	CallTimeout        time.Duration
	RefreshConcurrency int
	Now                func() time.Time
}

// Result 一次迁移的结果
type Result struct {
	Ticker  string                   `json:"ticker"`
	Op      domain.TransitionOp      `json:"op"`
	Outcome domain.TransitionOutcome `json:"outcome"`
	Message string                   `json:"message"`
	Slot    domain.SlotView          `json:"slot"`
}

// Engine 目标提醒对账引擎：维护可见 ticker 的槽位缓存，并把用户操作翻译为远端 activate/deactivate
type Engine struct {
	store        port.AlertStore
	journal      port.TransitionJournal
	sink         port.SlotSink
	pcts         []float64
	callTimeout  time.Duration
	refreshLimit int
	now          func() time.Time

	guard *TickerGuard

	life context.Context
	stop context.CancelFunc

	mu         sync.RWMutex
	order      []string
	slots      map[string]*domain.Slot
	epochs     map[string]uint64
	applied    map[string]uint64 // 每个 ticker 最近一次生效的刷新序号
	generation uint64
	refreshSeq uint64
	refreshes  map[uint64]context.CancelFunc
	closed     bool
}

// NewEngine 创建引擎
func NewEngine(deps EngineDeps) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("targets: alert store is required")
	}
	pcts := NormalizePercentages(deps.Percentages)
	if len(deps.Percentages) == 0 {
		pcts = slices.Clone(DefaultPercentages)
	}
	if len(pcts) == 0 {
		return nil, errors.New("targets: no valid standard percentages")
	}
	if deps.CallTimeout <= 0 {
		deps.CallTimeout = defaultCallTimeout
	}
	if deps.RefreshConcurrency <= 0 {
		deps.RefreshConcurrency = defaultRefreshConcurrency
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	life, stop := context.WithCancel(context.Background())
	guard := NewTickerGuard()
	guard.now = deps.Now

	return &Engine{
		store:        deps.Store,
		journal:      deps.Journal,
		sink:         deps.Sink,
		pcts:         pcts,
		callTimeout:  deps.CallTimeout,
		refreshLimit: deps.RefreshConcurrency,
		now:          deps.Now,
		guard:        guard,
		life:         life,
		stop:         stop,
		slots:        make(map[string]*domain.Slot),
		epochs:       make(map[string]uint64),
		applied:      make(map[string]uint64),
		refreshes:    make(map[uint64]context.CancelFunc),
	}, nil
}

// Percentages returns the configured standard percentages in display order.
func (e *Engine) Percentages() []float64 {
	return slices.Clone(e.pcts)
}

// Tickers returns the visible ticker set.
func (e *Engine) Tickers() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.order)
}

// GuardStats exposes in-flight transition counters.
func (e *Engine) GuardStats() GuardStats {
	return e.guard.Stats()
}

// SetTickers 更新可见 ticker 集合；集合变化时丢弃进行中的刷新
func (e *Engine) SetTickers(tickers []string) bool {
	norm := domain.NormalizeTickers(tickers)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	if sameSet(norm, e.order) {
		e.order = norm
		e.mu.Unlock()
		return false
	}

	e.generation++
	for id, cancel := range e.refreshes {
		cancel()
		delete(e.refreshes, id)
	}

	next := make(map[string]*domain.Slot, len(norm))
	var added []domain.SlotView
	for _, t := range norm {
		if s, ok := e.slots[t]; ok {
			next[t] = s
			continue
		}
		s := NewSlot(t, e.pcts)
		next[t] = &s
		added = append(added, e.viewLocked(s))
	}
	var removed []string
	for _, t := range e.order {
		if _, ok := next[t]; !ok {
			removed = append(removed, t)
			delete(e.epochs, t)
			delete(e.applied, t)
		}
	}
	e.order = norm
	e.slots = next
	gen := e.generation
	e.mu.Unlock()

	log.Info().
		Uint64("generation", gen).
		Int("tickers", len(norm)).
		Strs("removed", removed).
		Msg("visible tickers changed")

	for _, v := range added {
		e.publish(port.EventRefreshed, v, "")
	}
	for _, t := range removed {
		e.publish(port.EventRemoved, domain.SlotView{Ticker: t}, "")
	}
	return true
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]struct{}, len(a))
	for _, t := range a {
		seen[t] = struct{}{}
	}
	for _, t := range b {
		if _, ok := seen[t]; !ok {
			return false
		}
	}
	return true
}

// Refresh 为每个可见 ticker 拉取 active、非 trailing 的提醒并折叠为槽位
func (e *Engine) Refresh(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	gen := e.generation
	tickers := slices.Clone(e.order)
	epochs := make([]uint64, len(tickers))
	for i, t := range tickers {
		epochs[i] = e.epochs[t]
	}
	ctx, cancel := context.WithCancel(ctx)
	e.refreshSeq++
	id := e.refreshSeq
	e.refreshes[id] = cancel
	e.mu.Unlock()

	stopAfter := context.AfterFunc(e.life, cancel)
	defer func() {
		stopAfter()
		cancel()
		e.mu.Lock()
		delete(e.refreshes, id)
		e.mu.Unlock()
	}()

	results := make([][]domain.AlertRecord, len(tickers))
	errs := make([]error, len(tickers))
	skipped := make([]bool, len(tickers))

	g := new(errgroup.Group)
	g.SetLimit(e.refreshLimit)
	for i, t := range tickers {
		// 迁移进行中不发起读取，迁移结果优先
		if e.guard.Busy(t) {
			skipped[i] = true
			continue
		}
		i, t := i, t
		g.Go(func() error {
			callCtx, callCancel := context.WithTimeout(ctx, e.callTimeout)
			defer callCancel()
			results[i], errs[i] = e.store.List(callCtx, port.ActiveTargets(t))
			return nil
		})
	}
	_ = g.Wait()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.generation != gen {
		e.mu.Unlock()
		log.Debug().Uint64("generation", gen).Msg("refresh result discarded")
		return ErrRefreshSuperseded
	}
	if err := ctx.Err(); err != nil {
		e.mu.Unlock()
		return err
	}

	var (
		failed   []string
		firstErr error
		changed  []domain.SlotView
	)
	for i, t := range tickers {
		if skipped[i] {
			continue
		}
		if errs[i] != nil {
			failed = append(failed, t)
			if firstErr == nil {
				firstErr = errs[i]
			}
			continue
		}
		cur, ok := e.slots[t]
		// 更晚发起的刷新已生效时丢弃较早的结果
		if !ok || e.guard.Busy(t) || e.epochs[t] != epochs[i] || e.applied[t] > id {
			continue
		}
		e.applied[t] = id
		next := Fold(t, e.pcts, results[i])
		// 未绑定的自定义输入保留，避免刷新清空用户草稿
		if !next.Custom.Active && !cur.Custom.Active && cur.Custom.Bound == nil {
			next.Custom = cur.Clone().Custom
		}
		*cur = next
		changed = append(changed, e.viewLocked(next))
	}
	e.mu.Unlock()

	for _, v := range changed {
		e.publish(port.EventRefreshed, v, "")
	}

	if len(failed) > 0 {
		for _, t := range failed {
			log.Warn().Str("ticker", t).Err(firstErr).Msg("alert status refresh failed")
		}
		return &RefreshError{Tickers: failed, Err: firstErr}
	}
	log.Debug().Int("tickers", len(tickers)).Int("updated", len(changed)).Msg("alert statuses refreshed")
	return nil
}

// Slot returns the current view of one ticker.
func (e *Engine) Slot(ticker string) (domain.SlotView, bool) {
	t := domain.NormalizeTicker(ticker)
	e.mu.RLock()
	defer e.mu.RUnlock()

	s, ok := e.slots[t]
	if !ok {
		return domain.SlotView{}, false
	}
	return e.viewLocked(*s), true
}

// Snapshot returns every visible ticker's view in visible order.
func (e *Engine) Snapshot() []domain.SlotView {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]domain.SlotView, 0, len(e.order))
	for _, t := range e.order {
		if s, ok := e.slots[t]; ok {
			out = append(out, e.viewLocked(*s))
		}
	}
	return out
}

// Close 取消进行中的刷新；进行中的迁移会完成但不再修改本地状态
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.stop()
	log.Info().Msg("target engine closed")
	return nil
}

// ToggleStandard 切换标准百分比槽位
func (e *Engine) ToggleStandard(ctx context.Context, ticker string, pct float64) (Result, error) {
	t := domain.NormalizeTicker(ticker)
	if !isStandard(e.pcts, pct) {
		return Result{}, fmt.Errorf("%w: %g%%", ErrUnknownSlot, pct)
	}

	slot, err := e.begin(t, domain.OpToggleStandard, pct)
	if err != nil {
		return Result{}, err
	}
	started := e.now()
	key := domain.TargetKey(t, domain.KindTargetPct, pct)

	wasActive := slot.Standard[pct]
	call, failReason := e.store.Activate, "Unable to activate alert."
	if wasActive {
		call, failReason = e.store.Deactivate, "Unable to deactivate alert."
	}

	rec, err := e.call(ctx, call, key)
	if err != nil {
		e.finish(t, nil, "")
		e.record(t, domain.OpToggleStandard, key, wasActive, domain.OutcomeFailed, err.Error(), started)
		return Result{}, &TransitionError{Op: domain.OpToggleStandard, Ticker: t, Reason: failReason, Err: err}
	}

	// 以远端返回的 active 为准
	verb := "Deactivated"
	if rec.Active {
		verb = "Activated"
	}
	msg := fmt.Sprintf("%s %g%% alert for %s.", verb, pct, t)
	view := e.finish(t, func(s *domain.Slot) {
		s.Standard[pct] = rec.Active
	}, msg)
	e.record(t, domain.OpToggleStandard, key, rec.Active, domain.OutcomeOK, "", started)

	return Result{Ticker: t, Op: domain.OpToggleStandard, Outcome: domain.OutcomeOK, Message: msg, Slot: view}, nil
}

// SetCustom 设置自定义目标：绑定变化时先停用旧提醒（必须成功），再激活新提醒
func (e *Engine) SetCustom(ctx context.Context, ticker string, mode domain.CustomMode, value float64) (Result, error) {
	t := domain.NormalizeTicker(ticker)
	if !mode.Valid() {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return Result{}, ErrInvalidValue
	}
	if mode == domain.ModePct && isStandard(e.pcts, value) {
		return Result{}, fmt.Errorf("%w: use the %g%% toggle to manage this alert for %s",
			ErrStandardCollision, value, t)
	}

	slot, err := e.begin(t, domain.OpSetCustom, 0)
	if err != nil {
		return Result{}, err
	}
	started := e.now()
	kind := mode.Kind()
	key := domain.TargetKey(t, kind, value)

	cur := slot.Custom
	replaced := false
	if cur.Active && bindingDiffers(cur.Bound, kind, value) {
		oldKey := cur.Bound.Key(t)
		if _, err := e.call(ctx, e.store.Deactivate, oldKey); err != nil {
			e.finish(t, nil, "")
			e.record(t, domain.OpSetCustom, oldKey, true, domain.OutcomeFailed, err.Error(), started)
			return Result{}, &TransitionError{
				Op: domain.OpSetCustom, Ticker: t,
				Reason: "Unable to update existing custom alert.", Err: err,
			}
		}
		replaced = true
	}

	rec, err := e.call(ctx, e.store.Activate, key)
	if err != nil {
		if !replaced {
			e.finish(t, nil, "")
			e.record(t, domain.OpSetCustom, key, cur.Active, domain.OutcomeFailed, err.Error(), started)
			return Result{}, &TransitionError{Op: domain.OpSetCustom, Ticker: t, Reason: "Unable to set custom alert.", Err: err}
		}

		// 旧提醒已停用，新提醒失败：本地反映“无自定义提醒”
		msg := fmt.Sprintf("Removed previous custom alert for %s but could not set the new one.", t)
		v := value
		view := e.finish(t, func(s *domain.Slot) {
			s.Custom = domain.CustomSlot{Mode: mode, Value: &v}
		}, msg)
		e.record(t, domain.OpSetCustom, key, false, domain.OutcomePartial, err.Error(), started)
		log.Warn().Str("ticker", t).Str("kind", string(kind)).Float64("threshold", value).Err(err).
			Msg("custom alert replaced partially")
		return Result{Ticker: t, Op: domain.OpSetCustom, Outcome: domain.OutcomePartial, Message: msg, Slot: view}, nil
	}

	boundKind, boundThreshold := kind, value
	if rec.Kind.IsTarget() {
		boundKind = rec.Kind
	}
	if !math.IsNaN(rec.Threshold) && !math.IsInf(rec.Threshold, 0) && rec.Kind != "" {
		boundThreshold = rec.Threshold
	}

	unit := "%"
	if mode == domain.ModeAbs {
		unit = "$"
	}
	msg := fmt.Sprintf("Custom %s alert set for %s.", unit, t)
	v := value
	view := e.finish(t, func(s *domain.Slot) {
		s.Custom = domain.CustomSlot{
			Mode:   mode,
			Value:  &v,
			Active: rec.Active,
			Bound:  &domain.CustomBinding{Kind: boundKind, Threshold: boundThreshold},
		}
	}, msg)
	e.record(t, domain.OpSetCustom, key, rec.Active, domain.OutcomeOK, "", started)

	return Result{Ticker: t, Op: domain.OpSetCustom, Outcome: domain.OutcomeOK, Message: msg, Slot: view}, nil
}

// DisableCustom 停用自定义目标；没有绑定时只做本地重置
func (e *Engine) DisableCustom(ctx context.Context, ticker string) (Result, error) {
	t := domain.NormalizeTicker(ticker)
	slot, err := e.begin(t, domain.OpDisableCustom, 0)
	if err != nil {
		return Result{}, err
	}
	started := e.now()

	bound := slot.Custom.Bound
	if bound == nil {
		msg := fmt.Sprintf("Custom alert for %s is not set.", t)
		view := e.finish(t, func(s *domain.Slot) {
			s.Custom.Active = false
		}, msg)
		return Result{Ticker: t, Op: domain.OpDisableCustom, Outcome: domain.OutcomeOK, Message: msg, Slot: view}, nil
	}

	key := bound.Key(t)
	if _, err := e.call(ctx, e.store.Deactivate, key); err != nil {
		e.finish(t, nil, "")
		e.record(t, domain.OpDisableCustom, key, slot.Custom.Active, domain.OutcomeFailed, err.Error(), started)
		return Result{}, &TransitionError{Op: domain.OpDisableCustom, Ticker: t, Reason: "Unable to disable custom alert.", Err: err}
	}

	msg := fmt.Sprintf("Disabled custom alert for %s.", t)
	view := e.finish(t, func(s *domain.Slot) {
		s.Custom.Active = false
		s.Custom.Bound = nil
	}, msg)
	e.record(t, domain.OpDisableCustom, key, false, domain.OutcomeOK, "", started)

	return Result{Ticker: t, Op: domain.OpDisableCustom, Outcome: domain.OutcomeOK, Message: msg, Slot: view}, nil
}

// begin 登记迁移并返回槽位副本
func (e *Engine) begin(ticker string, op domain.TransitionOp, pct float64) (domain.Slot, error) {
	e.mu.RLock()
	closed := e.closed
	_, known := e.slots[ticker]
	e.mu.RUnlock()
	if closed {
		return domain.Slot{}, ErrClosed
	}
	if !known {
		return domain.Slot{}, fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
	}

	if err := e.guard.Acquire(ticker, op, pct); err != nil {
		return domain.Slot{}, err
	}

	e.mu.Lock()
	s, ok := e.slots[ticker]
	if !ok {
		e.mu.Unlock()
		e.guard.Release(ticker)
		return domain.Slot{}, fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
	}
	e.epochs[ticker]++
	snapshot := s.Clone()
	view := e.viewLocked(snapshot)
	e.mu.Unlock()

	e.publish(port.EventPending, view, "")
	return snapshot, nil
}

// finish 应用迁移结果并释放守卫；引擎关闭或 ticker 已移除时丢弃修改
func (e *Engine) finish(ticker string, mutate func(*domain.Slot), msg string) domain.SlotView {
	e.mu.Lock()
	s, ok := e.slots[ticker]
	switch {
	case e.closed:
		log.Info().Str("ticker", ticker).Str("message", msg).Msg("engine closed, transition result dropped")
		ok = false
	case !ok:
		log.Info().Str("ticker", ticker).Str("message", msg).Msg("ticker no longer visible, transition result dropped")
	case mutate != nil:
		mutate(s)
	}
	if _, present := e.slots[ticker]; present {
		e.epochs[ticker]++
	}
	e.guard.Release(ticker)

	var view domain.SlotView
	if ok {
		view = e.viewLocked(*s)
	}
	e.mu.Unlock()

	if ok {
		e.publish(port.EventTransition, view, msg)
	}
	return view
}

type storeCall func(context.Context, domain.AlertKey) (domain.AlertRecord, error)

// call 发起一次远端调用；迁移不随调用方取消而中断，只受 CallTimeout 约束
func (e *Engine) call(ctx context.Context, fn storeCall, key domain.AlertKey) (domain.AlertRecord, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.callTimeout)
	defer cancel()
	return fn(callCtx, key)
}

// viewLocked 调用方需持有 e.mu
func (e *Engine) viewLocked(s domain.Slot) domain.SlotView {
	var fp *Flight
	if f, ok := e.guard.Pending(s.Ticker); ok {
		fp = &f
	}
	return viewOf(s, e.pcts, fp)
}

func (e *Engine) publish(typ port.EventType, view domain.SlotView, msg string) {
	if e.sink == nil {
		return
	}
	e.sink.Publish(port.SlotEvent{
		Type:    typ,
		Ticker:  view.Ticker,
		Slot:    view,
		Message: msg,
		At:      e.now(),
	})
}

func (e *Engine) record(ticker string, op domain.TransitionOp, key domain.AlertKey, active bool,
	outcome domain.TransitionOutcome, reason string, started time.Time) {
	if e.journal == nil {
		return
	}
	rec := &domain.TransitionRecord{
		ID:        uuid.NewString(),
		Ticker:    ticker,
		Op:        op,
		Kind:      key.Kind,
		Threshold: key.Threshold,
		Active:    active,
		Outcome:   outcome,
		Reason:    reason,
		StartedAt: started,
		Duration:  e.now().Sub(started),
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := e.journal.RecordTransition(ctx, rec); err != nil {
		log.Error().Err(err).Str("ticker", ticker).Str("op", string(op)).Msg("record transition failed")
	}
}
