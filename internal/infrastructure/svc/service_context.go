package svc

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"targetwatch/internal/application/port"
	"targetwatch/internal/application/usecase/targets"
	"targetwatch/internal/domain"
	"targetwatch/internal/infrastructure/alertstore/httpstore"
	"targetwatch/internal/infrastructure/alertstore/memory"
	"targetwatch/internal/infrastructure/config"
	"targetwatch/internal/infrastructure/positions/httpsource"
	"targetwatch/internal/infrastructure/positions/static"
	"targetwatch/internal/infrastructure/scheduler"
	"targetwatch/internal/infrastructure/storage"
	"targetwatch/internal/infrastructure/storage/composite"
	postgresrepo "targetwatch/internal/infrastructure/storage/postgres"
	redisrepo "targetwatch/internal/infrastructure/storage/redis"
	sqliterepo "targetwatch/internal/infrastructure/storage/sqlite"
	"targetwatch/internal/interfaces/console"
	"targetwatch/internal/interfaces/httpapi"
	"targetwatch/internal/interfaces/ws"
)

type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config

	// 基础设施层（第一层初始化）
	redisClient  *redisclient.Client
	redisRepo    *redisrepo.Repo
	sqliteRepo   *sqliterepo.Repo
	postgresRepo *postgresrepo.Repo

	Journal   port.TransitionJournal
	History   port.TransitionHistory
	Store     port.AlertStore
	Positions port.PositionSource

	// 输出端口
	Sink port.SlotSink
	Hub  *ws.Hub

	// 应用业务组件（依赖基础设施）
	Engine    *targets.Engine
	Refresher *scheduler.Refresher

	// 资源管理
	closeOnce   sync.Once
	closerChain []func() error
}

// New 创建并初始化 ServiceContext
// 这是应用启动的唯一入口点，所有依赖初始化都在这里完成
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	sc := &ServiceContext{
		Ctx:         ctx,
		Config:      cfg,
		closerChain: make([]func() error, 0),
	}

	if err := sc.initializeComponents(); err != nil {
		// 清理已初始化的资源
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

// initializeComponents 按依赖顺序初始化：存储 -> 提醒服务 -> 持仓源 -> 引擎 -> 调度
func (sc *ServiceContext) initializeComponents() error {
	if err := sc.initializeStorage(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInitFailed, err)
	}
	if err := sc.initStore(); err != nil {
		return err
	}
	if err := sc.initPositions(); err != nil {
		return err
	}
	if err := sc.initEngine(); err != nil {
		return err
	}

	timeout := time.Duration(sc.Config.Store.TimeoutSec+sc.Config.Positions.TimeoutSec) * time.Second
	sc.Refresher = scheduler.NewRefresher(sc.Positions, sc.Engine, sc.Config.Refresh.Schedule, timeout)

	log.Info().
		Str("store", sc.Config.Store.Driver).
		Str("positions", sc.Config.Positions.Driver).
		Floats64("percentages", sc.Engine.Percentages()).
		Msg("✓ All components initialized")
	return nil
}

// initializeStorage 初始化迁移日志 (SQLite / Postgres / Redis)
func (sc *ServiceContext) initializeStorage() error {
	st := sc.Config.Storage
	var journals []port.TransitionJournal

	if st.SQLite.Enabled {
		if err := sc.initSQLite(); err != nil {
			return fmt.Errorf("sqlite initialization failed: %w", err)
		}
		journals = append(journals, sc.sqliteRepo)
	}
	if st.Postgres.Enabled {
		if err := sc.initPostgres(); err != nil {
			return fmt.Errorf("postgres initialization failed: %w", err)
		}
		journals = append(journals, sc.postgresRepo)
	}
	if st.Redis.Enabled {
		if err := sc.initRedis(); err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
		journals = append(journals, sc.redisRepo)
	}

	if len(journals) == 0 {
		// 没有持久化时保留进程内历史，/history 仍可用
		mem := storage.NewInMemoryJournal()
		sc.Journal, sc.History = mem, mem
		log.Info().Msg("no journal configured, keeping transitions in memory")
		return nil
	}

	repo := composite.New(journals...)
	sc.Journal, sc.History = repo, repo
	return nil
}

// initRedis 初始化 Redis 连接
func (sc *ServiceContext) initRedis() error {
	cfg := sc.Config.Storage.Redis
	rdb := redisclient.NewClient(&redisclient.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(sc.Ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	sc.redisClient = rdb
	sc.redisRepo = redisrepo.New(rdb, cfg.Prefix, cfg.Stream, cfg.Channel, cfg.MaxLen)

	// 注册关闭回调
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	log.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Str("stream", sc.redisRepo.Stream()).
		Msg("✓ Redis initialized")
	return nil
}

// initSQLite 初始化 SQLite 数据库
func (sc *ServiceContext) initSQLite() error {
	repo, err := sqliterepo.New(sc.Config.Storage.SQLite.Path)
	if err != nil {
		return fmt.Errorf("sqlite repo creation failed: %w", err)
	}
	sc.sqliteRepo = repo

	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing sqlite connection")
		return repo.Close()
	})

	log.Info().
		Str("path", sc.Config.Storage.SQLite.Path).
		Msg("✓ SQLite initialized")
	return nil
}

// initPostgres 初始化 Postgres
func (sc *ServiceContext) initPostgres() error {
	repo, err := postgresrepo.New(sc.Config.Storage.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres repo creation failed: %w", err)
	}
	sc.postgresRepo = repo

	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing postgres connection")
		return repo.Close()
	})

	log.Info().Msg("✓ Postgres initialized")
	return nil
}

// initStore 初始化远端提醒服务客户端
func (sc *ServiceContext) initStore() error {
	cfg := sc.Config.Store
	switch cfg.Driver {
	case config.StoreHTTP:
		sc.Store = httpstore.New(cfg.BaseURL, time.Duration(cfg.TimeoutSec)*time.Second)
		log.Info().Str("base_url", cfg.BaseURL).Msg("✓ Alert store client initialized")
	case config.StoreMemory:
		sc.Store = memory.New()
		log.Warn().Msg("using in-memory alert store, nothing is persisted")
	default:
		return fmt.Errorf("%w: store %q", ErrUnknownDriver, cfg.Driver)
	}
	return nil
}

// initPositions 初始化持仓源
func (sc *ServiceContext) initPositions() error {
	cfg := sc.Config.Positions
	switch cfg.Driver {
	case config.PositionsHTTP:
		sc.Positions = httpsource.New(cfg.BaseURL, time.Duration(cfg.TimeoutSec)*time.Second)
		log.Info().Str("base_url", cfg.BaseURL).Msg("✓ Position source initialized")
	case config.PositionsStatic:
		sc.Positions = static.New(StaticPositions(cfg.Static))
		log.Info().Int("positions", len(cfg.Static)).Msg("✓ Static positions loaded")
	default:
		return fmt.Errorf("%w: positions %q", ErrUnknownDriver, cfg.Driver)
	}
	return nil
}

// initEngine 构建引擎；ws hub 在引擎创建后注入快照来源
func (sc *ServiceContext) initEngine() error {
	sc.Hub = ws.NewHub(nil)
	sinks := port.MultiSink{sc.Hub}
	if sc.Config.App.Console {
		sinks = append(sinks, console.NewSink())
	}
	sc.Sink = sinks

	engine, err := targets.NewEngine(targets.EngineDeps{
		Store:              sc.Store,
		Journal:            sc.Journal,
		Sink:               sc.Sink,
		Percentages:        sc.Config.Targets.Percentages,
		CallTimeout:        time.Duration(sc.Config.Store.TimeoutSec) * time.Second,
		RefreshConcurrency: sc.Config.Refresh.Concurrency,
	})
	if err != nil {
		return fmt.Errorf("engine initialization failed: %w", err)
	}
	sc.Engine = engine
	sc.Hub.SetSnapshotter(engine)

	// 引擎先于 hub 与存储关闭（倒序执行）
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing websocket hub")
		return sc.Hub.Close()
	})
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing target engine")
		return engine.Close()
	})
	return nil
}

// Handler 构建 HTTP 路由
func (sc *ServiceContext) Handler() http.Handler {
	return httpapi.NewHandler(httpapi.Deps{
		Engine:    sc.Engine,
		Positions: sc.Positions,
		History:   sc.History,
		Refresher: sc.Refresher,
		WS:        sc.Hub.Handle,
	}).Router()
}

// Start 首次加载持仓并启动定时刷新
func (sc *ServiceContext) Start(ctx context.Context) error {
	positions, err := sc.Refresher.RunOnce(ctx)
	if err != nil {
		// 首次刷新失败不阻止启动，下一轮调度会重试
		log.Warn().Err(err).Msg("initial refresh failed")
	}
	log.Info().Int("positions", len(positions)).Msg(console.SummaryLine(sc.Engine.Snapshot()))

	if err := sc.Refresher.Start(ctx); err != nil {
		return err
	}
	sc.closerChain = append(sc.closerChain, func() error {
		sc.Refresher.Stop()
		return nil
	})
	return nil
}

// Close 关闭所有资源
func (sc *ServiceContext) Close() error {
	sc.closeOnce.Do(func() {
		log.Info().Msg("closing service context")
		// 按照相反的顺序关闭所有资源
		for i := len(sc.closerChain) - 1; i >= 0; i-- {
			if err := sc.closerChain[i](); err != nil {
				log.Error().Err(err).Msg("error closing resource")
			}
		}
	})
	return nil
}

// StaticPositions 把配置中的持仓转换为领域对象
func StaticPositions(in []config.StaticPosition) []domain.Position {
	out := make([]domain.Position, 0, len(in))
	for _, p := range in {
		out = append(out, domain.Position{
			ID:           p.ID,
			Ticker:       domain.NormalizeTicker(p.Ticker),
			Side:         domain.Side(strings.ToLower(strings.TrimSpace(p.Side))),
			Quantity:     p.Qty,
			EntryPrice:   p.EntryPrice,
			CurrentPrice: p.CurrentPrice,
			ExitPrice:    p.ExitPrice,
			Status:       domain.PositionStatus(strings.ToLower(strings.TrimSpace(p.Status))),
			Notes:        p.Notes,
		})
	}
	return out
}
