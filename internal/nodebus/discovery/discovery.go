// Package discovery implements spec.md §4.1's discovery directory on
// top of Redis, the same store the reference stack uses for its own
// registries. Every registered server is a key with a TTL renewed on
// T_RENEW; find_servers is a set-membership scan filtered by object
// type.
package discovery

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"kitchen-sim/internal/nodebus"
)

const (
	endpointKeyPrefix = "kitchen:discovery:endpoint:"
	typeIndexPrefix   = "kitchen:discovery:type:"
)

// Directory is the Redis-backed nodebus.Directory implementation.
type Directory struct {
	client *redis.Client
	ttl    time.Duration
}

// Connect dials Redis using the same URL-or-host:port parsing the
// reference stack's database.ConnectRedis performs.
func Connect(redisURL string, ttl time.Duration) (*Directory, error) {
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("discovery: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("discovery: connect to redis: %w", err)
	}
	log.Printf("discovery: connected to redis at %s", opts.Addr)

	return &Directory{client: client, ttl: ttl}, nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	if !strings.Contains(raw, "://") {
		return &redis.Options{Addr: raw}, nil
	}
	return redis.ParseURL(raw)
}

func endpointKey(endpoint string) string {
	return endpointKeyPrefix + endpoint
}

func typeKey(objectType string) string {
	return typeIndexPrefix + objectType
}

// Register publishes desc with a T_RENEW TTL and indexes the endpoint
// under each object type it hosts so FindServers can filter cheaply.
// Callers are expected to call Register again every T_RENEW from a
// ticker — this call itself does not start one, matching spec.md §4.1
// ("periodic renewal every T_RENEW").
func (d *Directory) Register(ctx context.Context, desc nodebus.ServerDescriptor) error {
	pipe := d.client.TxPipeline()
	pipe.Set(ctx, endpointKey(desc.Endpoint), strings.Join(desc.ObjectTypes, ","), d.ttl)
	for _, ot := range desc.ObjectTypes {
		pipe.SAdd(ctx, typeKey(ot), desc.Endpoint)
		pipe.Expire(ctx, typeKey(ot), d.ttl)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return nodebus.NewError(nodebus.ErrTransport, "Register", err)
	}
	return nil
}

// Deregister removes the endpoint from the directory immediately,
// rather than waiting for its TTL to lapse.
func (d *Directory) Deregister(ctx context.Context, endpoint string) error {
	types, err := d.client.Get(ctx, endpointKey(endpoint)).Result()
	if err != nil && err != redis.Nil {
		return nodebus.NewError(nodebus.ErrTransport, "Deregister", err)
	}
	pipe := d.client.TxPipeline()
	pipe.Del(ctx, endpointKey(endpoint))
	for _, ot := range strings.Split(types, ",") {
		if ot == "" {
			continue
		}
		pipe.SRem(ctx, typeKey(ot), endpoint)
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return nodebus.NewError(nodebus.ErrTransport, "Deregister", err)
	}
	return nil
}

// FindServers returns every endpoint currently registered, optionally
// filtered to those hosting objectTypeFilter (empty string = no
// filter). Unfiltered results come from the per-endpoint keys, which
// expire with their own TTL. Filtered results come from the per-type
// set, whose members do not expire individually: every Register of
// that type refreshes the whole set's TTL, so an endpoint that stopped
// renewing without calling Deregister is still returned while another
// server of the same type keeps renewing.
func (d *Directory) FindServers(ctx context.Context, objectTypeFilter string) ([]string, error) {
	if objectTypeFilter == "" {
		keys, err := d.client.Keys(ctx, endpointKeyPrefix+"*").Result()
		if err != nil {
			return nil, nodebus.NewError(nodebus.ErrTransport, "FindServers", err)
		}
		out := make([]string, 0, len(keys))
		for _, k := range keys {
			out = append(out, strings.TrimPrefix(k, endpointKeyPrefix))
		}
		return out, nil
	}
	members, err := d.client.SMembers(ctx, typeKey(objectTypeFilter)).Result()
	if err != nil {
		return nil, nodebus.NewError(nodebus.ErrTransport, "FindServers", err)
	}
	return members, nil
}

func (d *Directory) Close() error {
	return d.client.Close()
}
