package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/clinic-api/internal/config"
	"github.com/jwalitptl/clinic-api/internal/email"
	"github.com/jwalitptl/clinic-api/pkg/messaging"
	"github.com/jwalitptl/clinic-api/pkg/messaging/redis"
	pkgworker "github.com/jwalitptl/clinic-api/pkg/worker"
)

func newBroker(ctx context.Context, cfg config.RedisConfig) (messaging.Broker, error) {
	zl := log.With().Str("component", "redis").Logger()
	return redis.NewRedisBroker(ctx, redis.Config{
		URL:          cfg.URL,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}, &zl)
}

func outboxProcessorConfig(cfg *config.Config) pkgworker.OutboxProcessorConfig {
	return pkgworker.OutboxProcessorConfig{
		Channel:       cfg.Redis.Channel,
		BatchSize:     cfg.Outbox.BatchSize,
		PollInterval:  cfg.Outbox.PollInterval,
		RetryAttempts: cfg.Outbox.RetryAttempts,
		RetryDelay:    cfg.Outbox.RetryDelay,
		MaxDeliveries: cfg.Outbox.MaxDeliveries,
	}
}

func newMailer(cfg config.MailConfig) email.Service {
	return email.NewSMTPService(cfg)
}
