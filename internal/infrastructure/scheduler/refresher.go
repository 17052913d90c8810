package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"targetwatch/internal/application/port"
	"targetwatch/internal/domain"
)

// Target 定时刷新作用的对象（targets.Engine）
type Target interface {
	SetTickers(tickers []string) bool
	Refresh(ctx context.Context) error
}

// Stats 刷新任务统计
type Stats struct {
	Runs      int64     `json:"runs"`
	Failures  int64     `json:"failures"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
}

// Refresher 周期性重新加载持仓、更新可见 ticker 并刷新槽位缓存
type Refresher struct {
	positions port.PositionSource
	target    Target
	schedule  string
	timeout   time.Duration

	cron    *cron.Cron
	running atomic.Bool

	mu    sync.RWMutex
	stats Stats
}

func NewRefresher(positions port.PositionSource, target Target, schedule string, timeout time.Duration) *Refresher {
	if schedule == "" {
		schedule = "@every 30s"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Refresher{
		positions: positions,
		target:    target,
		schedule:  schedule,
		timeout:   timeout,
	}
}

// RunOnce 加载持仓 → SetTickers → Refresh；返回当前持仓
func (r *Refresher) RunOnce(ctx context.Context) ([]domain.Position, error) {
	positions, err := r.positions.ListPositions(ctx)
	if err != nil {
		r.note(err)
		return nil, fmt.Errorf("load positions: %w", err)
	}

	tickers := domain.OpenTickers(positions)
	changed := r.target.SetTickers(tickers)
	if err := r.target.Refresh(ctx); err != nil {
		r.note(err)
		return positions, err
	}
	r.note(nil)

	log.Debug().
		Int("positions", len(positions)).
		Int("tickers", len(tickers)).
		Bool("tickers_changed", changed).
		Msg("scheduled refresh done")
	return positions, nil
}

func (r *Refresher) note(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Runs++
	r.stats.LastRun = time.Now()
	r.stats.LastError = ""
	if err != nil {
		r.stats.Failures++
		r.stats.LastError = err.Error()
	}
}

// Stats 获取统计信息
func (r *Refresher) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// Start 启动 cron；上一次尚未结束时跳过本次触发
func (r *Refresher) Start(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(r.schedule, func() {
		if !r.running.CompareAndSwap(false, true) {
			log.Debug().Msg("previous refresh still running, skipped")
			return
		}
		defer r.running.Store(false)

		runCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		if _, err := r.RunOnce(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("scheduled refresh failed")
		}
	})
	if err != nil {
		return fmt.Errorf("add refresh job %q: %w", r.schedule, err)
	}
	r.cron = c
	c.Start()

	log.Info().Str("schedule", r.schedule).Msg("✓ Refresh scheduler started")
	return nil
}

// Stop 停止 cron 并等待正在执行的任务结束
func (r *Refresher) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	log.Info().Msg("refresh scheduler stopped")
}
