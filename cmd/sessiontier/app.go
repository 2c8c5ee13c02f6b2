package main

import (
	"github.com/redis/go-redis/v9"

	"github.com/zerolg/sessiontier/pkg/archive"
	"github.com/zerolg/sessiontier/pkg/config"
	"github.com/zerolg/sessiontier/pkg/metrics"
	"github.com/zerolg/sessiontier/pkg/session"
	"github.com/zerolg/sessiontier/pkg/tasks"
)

// app wires the stores, the cross-tier service and the periodic jobs from
// one config. Metrics are registered here, once, at startup.
type app struct {
	cfg config.Config
	rdb *redis.Client
	reg *metrics.Registry

	hot  *session.HotStore
	cold *archive.SQLiteStore
	svc  *archive.Service
	pub  *session.EventPublisher

	archiver *tasks.Archiver
	checker  *tasks.ConsistencyChecker
	dlq      *tasks.DLQMonitor
}

func newApp(cfg config.Config) (*app, error) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	reg := metrics.NewRegistry()

	hot := session.NewHotStore(rdb, session.HotStoreOptions{
		MaxMessages: cfg.MaxMessages,
		TTL:         cfg.HotTTL.Std(),
	}, reg)

	pub, err := session.NewEventPublisher(rdb, cfg.Stream.Topic)
	if err != nil {
		return nil, err
	}
	hot.WithEventPublisher(pub)

	cold, err := archive.NewSQLiteStore(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	svc := archive.NewService(hot, cold, reg)

	return &app{
		cfg:      cfg,
		rdb:      rdb,
		reg:      reg,
		hot:      hot,
		cold:     cold,
		svc:      svc,
		pub:      pub,
		archiver: tasks.NewArchiver(hot, svc, cfg.IdleThreshold.Std()),
		checker:  tasks.NewConsistencyChecker(hot, cold, reg),
		dlq:      tasks.NewDLQMonitor(rdb, cfg.Stream.DLQKey, cfg.Stream.Topic, cfg.Stream.Group, reg),
	}, nil
}

func (a *app) Close() {
	_ = a.pub.Close()
	_ = a.cold.Close()
	_ = a.rdb.Close()
}
