package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// redisMirror optionally shares video-info cache entries through Redis so
// several instances behind one balancer can reuse each other's probes.
// When Redis is unreachable at startup the mirror degrades to a no-op and
// the in-memory cache carries on alone. Task state is never persisted.
type redisMirror struct {
	client *redis.Client
	log    zerolog.Logger
}

func newRedisMirror(log zerolog.Logger) *redisMirror {
	m := &redisMirror{log: log}
	client := redis.NewClient(&redis.Options{
		Addr:     envOrDefault("REDIS_ADDR", RedisAddr),
		Password: RedisPassword,
		DB:       RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		log.Warn().Err(err).Msg("redis not available, video-info cache is memory-only")
		_ = client.Close()
		return m
	}
	log.Info().Msg("redis connected")
	m.client = client
	return m
}

func (m *redisMirror) Enabled() bool {
	return m != nil && m.client != nil
}

func (m *redisMirror) SaveInfo(hash string, desc MediaDescription) {
	if !m.Enabled() {
		return
	}
	data, err := json.Marshal(desc)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.client.Set(ctx, "videoinfo:"+hash, data, InfoCacheTTL).Err(); err != nil {
		m.log.Debug().Err(err).Msg("redis save failed")
	}
}

func (m *redisMirror) GetInfo(hash string) (MediaDescription, bool) {
	if !m.Enabled() {
		return MediaDescription{}, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	val, err := m.client.Get(ctx, "videoinfo:"+hash).Result()
	if err != nil {
		return MediaDescription{}, false
	}
	var desc MediaDescription
	if err := json.Unmarshal([]byte(val), &desc); err != nil {
		return MediaDescription{}, false
	}
	return desc, true
}
