package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/slotkeeper/libs/db"
	"github.com/md-rashed-zaman/slotkeeper/libs/kafkax"
	"github.com/md-rashed-zaman/slotkeeper/libs/kv"
	"github.com/md-rashed-zaman/slotkeeper/libs/runtime"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/booking"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/lock"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/memstore"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/notify"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/settings"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/storage"
)

// app holds the process-wide dependencies shared by the commands.
type app struct {
	settings settings.Settings
	logger   *slog.Logger

	pool     *db.Pool
	lockPool *db.Pool
	rdb      *redis.Client
	writer   *kafka.Writer

	cache   kv.CounterStore
	locker  lock.UnitLocker
	manager *booking.Manager
	checks  []runtime.ReadyCheck
	closers []func()
}

func newApp(ctx context.Context, s settings.Settings, logger *slog.Logger) (_ *app, err error) {
	a := &app{settings: s, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var (
		resources    booking.Resources
		blocks       booking.Blocks
		reservations booking.Reservations
	)
	if s.DatabaseURL != "" {
		a.pool, err = db.Open(ctx, s.DatabaseURL, db.Options{MaxConns: s.DBMaxConns})
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		store := storage.New(a.pool)
		resources, blocks, reservations = store, store, store
		a.checks = append(a.checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(a.pool)})
		logger.Info("store ready", "backend", "postgres")
	} else {
		store := memstore.New()
		resources, blocks, reservations = store, store, store
		logger.Warn("DATABASE_URL not set, reservations are kept in memory")
	}

	var publishers notify.Multi
	if s.RedisAddr != "" {
		a.rdb = kv.NewRedisClient(s.RedisAddr, s.RedisPassword, s.RedisDB)
		a.cache = kv.NewRedis(a.rdb, "slots")
		publishers = append(publishers, notify.NewRedis(a.rdb, ""))
		a.checks = append(a.checks, runtime.ReadyCheck{Name: "redis", Check: kv.ReadyCheck(a.rdb)})
	} else {
		a.cache = kv.NewMemory(nil)
	}
	if brokers := kafkax.SplitBrokers(s.KafkaBrokers); len(brokers) > 0 {
		a.writer = kafkax.NewWriter(brokers, logger)
		publishers = append(publishers, notify.NewKafka(a.writer))
		a.checks = append(a.checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(s.KafkaBrokers)})
	}
	var notifier notify.Publisher = notify.Nop{}
	if len(publishers) > 0 {
		notifier = publishers
	}

	switch backend := s.Lock(); backend {
	case settings.LockRedis:
		if a.rdb == nil {
			return nil, fmt.Errorf("redis lock requires REDIS_ADDR")
		}
		a.locker = lock.NewRedis(a.rdb, lock.RedisOptions{}, logger)
	case settings.LockPostgres:
		if a.pool == nil {
			return nil, fmt.Errorf("postgres lock requires DATABASE_URL")
		}
		// Lock sessions stay off the store pool so held locks never starve it.
		a.lockPool, err = db.Open(ctx, s.DatabaseURL, db.Options{MaxConns: 1})
		if err != nil {
			return nil, fmt.Errorf("open lock session: %w", err)
		}
		advisory := storage.NewAdvisoryLocker(a.lockPool, logger)
		a.closers = append(a.closers, advisory.Close)
		a.locker = advisory
	default:
		a.locker = lock.NewKeyed()
	}
	logger.Info("unit lock ready", "backend", s.Lock())

	a.manager = booking.NewManager(booking.Deps{
		Resources:    resources,
		Blocks:       blocks,
		Reservations: reservations,
		Locker:       a.locker,
		Notifier:     notifier,
		Logger:       logger,
		Grace:        s.PendingGrace,
	})
	return a, nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		c()
	}
	if a.writer != nil {
		if err := a.writer.Close(); err != nil {
			a.logger.Warn("kafka writer close failed", "err", err)
		}
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	a.lockPool.Close()
	a.pool.Close()
}
