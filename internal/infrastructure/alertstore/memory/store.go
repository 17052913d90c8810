package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"targetwatch/internal/application/port"
	"targetwatch/internal/domain"
)

// Store 进程内提醒集合，upsert 语义与远端服务一致
type Store struct {
	mu      sync.RWMutex
	records []domain.AlertRecord
	nextID  int64
	now     func() time.Time
}

var _ port.AlertStore = (*Store)(nil)

// New 创建内存提醒集合，可选初始记录
func New(seed ...domain.AlertRecord) *Store {
	s := &Store{now: time.Now}
	for _, r := range seed {
		s.Put(r)
	}
	return s
}

// Put inserts a record as-is; a zero ID is assigned the next id.
func (s *Store) Put(r domain.AlertRecord) domain.AlertRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.Ticker = domain.NormalizeTicker(r.Ticker)
	if r.ID == 0 {
		s.nextID++
		r.ID = s.nextID
	} else if r.ID > s.nextID {
		s.nextID = r.ID
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	s.records = append(s.records, r)
	return r
}

// List 按条件过滤，最新记录在前
func (s *Store) List(ctx context.Context, filter port.AlertFilter) ([]domain.AlertRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ticker := domain.NormalizeTicker(filter.Ticker)
	out := make([]domain.AlertRecord, 0)
	for _, r := range s.records {
		if filter.Active != nil && r.Active != *filter.Active {
			continue
		}
		if ticker != "" && r.Ticker != ticker {
			continue
		}
		if filter.Kind != "" && r.Kind != filter.Kind {
			continue
		}
		if filter.Trailing != nil && r.Trailing != *filter.Trailing {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Newer(out[j]) })
	return out, nil
}

// Activate 激活已存在的同键记录，否则新建
func (s *Store) Activate(ctx context.Context, key domain.AlertKey) (domain.AlertRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.AlertRecord{}, err
	}
	key.Ticker = domain.NormalizeTicker(key.Ticker)

	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.findLocked(key); i >= 0 {
		s.records[i].Active = true
		return s.records[i], nil
	}
	s.nextID++
	r := domain.AlertRecord{
		ID:        s.nextID,
		Ticker:    key.Ticker,
		Kind:      key.Kind,
		Threshold: key.Threshold,
		Trailing:  key.Trailing,
		Active:    true,
		CreatedAt: s.now(),
	}
	s.records = append(s.records, r)
	return r, nil
}

// Deactivate 停用同键记录；不存在时返回未激活的键记录
func (s *Store) Deactivate(ctx context.Context, key domain.AlertKey) (domain.AlertRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.AlertRecord{}, err
	}
	key.Ticker = domain.NormalizeTicker(key.Ticker)

	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.findLocked(key); i >= 0 {
		s.records[i].Active = false
		return s.records[i], nil
	}
	return domain.AlertRecord{
		Ticker:    key.Ticker,
		Kind:      key.Kind,
		Threshold: key.Threshold,
		Trailing:  key.Trailing,
	}, nil
}

// Records returns a copy of every stored record in insertion order.
func (s *Store) Records() []domain.AlertRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.AlertRecord(nil), s.records...)
}

// findLocked 查找同键记录，多条时取最新
func (s *Store) findLocked(key domain.AlertKey) int {
	best := -1
	for i, r := range s.records {
		if r.Key() != key {
			continue
		}
		if best < 0 || r.Newer(s.records[best]) {
			best = i
		}
	}
	return best
}
