//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package redis provides a Redis-backed checkpoint saver.
//
// Each lineage and namespace is one hash mapping checkpoint id to the
// stored tuple, and each lineage keeps a set of its namespaces so that
// DeleteLineage can find every hash.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"

	"trpc.group/trpc-go/trpc-agent-studio/graph"
)

const (
	defaultKeyPrefix = "studio:"
	// maxPutRetries bounds optimistic retries when a concurrent writer
	// touches the same namespace.
	maxPutRetries = 5
)

// Option configures a Saver.
type Option func(*options)

type options struct {
	url       string
	client    redis.UniversalClient
	keyPrefix string
}

// WithRedisClientURL creates the client from a URL.
// scheme: redis://<username>:<password>@<host>:<port>/<db>?<options>
func WithRedisClientURL(url string) Option {
	return func(o *options) { o.url = url }
}

// WithClient uses an existing client. The saver does not close it.
func WithClient(client redis.UniversalClient) Option {
	return func(o *options) { o.client = client }
}

// WithKeyPrefix sets the prefix of every key (default "studio:").
func WithKeyPrefix(prefix string) Option {
	return func(o *options) { o.keyPrefix = prefix }
}

// Saver is a CheckpointSaver on Redis.
type Saver struct {
	client    redis.UniversalClient
	ownClient bool
	prefix    string
}

// NewSaver creates a saver from a client or a URL.
func NewSaver(opts ...Option) (*Saver, error) {
	o := &options{keyPrefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(o)
	}
	if o.client != nil {
		return &Saver{client: o.client, prefix: o.keyPrefix}, nil
	}
	client, err := buildClient(o.url)
	if err != nil {
		return nil, err
	}
	return &Saver{client: client, ownClient: true, prefix: o.keyPrefix}, nil
}

func buildClient(url string) (redis.UniversalClient, error) {
	if url == "" {
		return nil, errors.New("redis: url is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url %s: %w", url, err)
	}
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:           []string{opts.Addr},
		DB:              opts.DB,
		Username:        opts.Username,
		Password:        opts.Password,
		Protocol:        opts.Protocol,
		ClientName:      opts.ClientName,
		TLSConfig:       opts.TLSConfig,
		MaxRetries:      opts.MaxRetries,
		DialTimeout:     opts.DialTimeout,
		ReadTimeout:     opts.ReadTimeout,
		WriteTimeout:    opts.WriteTimeout,
		PoolSize:        opts.PoolSize,
		MinIdleConns:    opts.MinIdleConns,
		ConnMaxIdleTime: opts.ConnMaxIdleTime,
	}), nil
}

type storedTuple struct {
	Checkpoint *graph.Checkpoint         `json:"checkpoint"`
	Metadata   *graph.CheckpointMetadata `json:"metadata"`
}

func (s *Saver) hashKey(lineageID, ns string) string {
	return fmt.Sprintf("%sckpt:{%s}:%s", s.prefix, lineageID, ns)
}

func (s *Saver) nsKey(lineageID string) string {
	return fmt.Sprintf("%sckpt:{%s}#ns", s.prefix, lineageID)
}

// Get returns the checkpoint for the given config.
func (s *Saver) Get(ctx context.Context, config map[string]any) (*graph.Checkpoint, error) {
	t, err := s.GetTuple(ctx, config)
	if err != nil || t == nil {
		return nil, err
	}
	return t.Checkpoint, nil
}

// GetTuple returns the named checkpoint, or the latest of the namespace.
func (s *Saver) GetTuple(ctx context.Context, config map[string]any) (*graph.CheckpointTuple, error) {
	lineageID := graph.GetLineageID(config)
	ns := graph.GetNamespace(config)
	if lineageID == "" {
		return nil, graph.ErrLineageIDRequired
	}
	if id := graph.GetCheckpointID(config); id != "" {
		raw, err := s.client.HGet(ctx, s.hashKey(lineageID, ns), id).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("redis hget: %w", err)
		}
		return decodeTuple(lineageID, ns, raw)
	}
	tuples, err := s.load(ctx, lineageID, ns)
	if err != nil || len(tuples) == 0 {
		return nil, err
	}
	graph.SortTuples(tuples)
	return tuples[0], nil
}

// List returns checkpoints newest first.
func (s *Saver) List(
	ctx context.Context,
	config map[string]any,
	filter *graph.CheckpointFilter,
) ([]*graph.CheckpointTuple, error) {
	lineageID := graph.GetLineageID(config)
	if lineageID == "" {
		return nil, graph.ErrLineageIDRequired
	}
	tuples, err := s.load(ctx, lineageID, graph.GetNamespace(config))
	if err != nil {
		return nil, err
	}
	return graph.ApplyFilter(tuples, filter), nil
}

func (s *Saver) load(ctx context.Context, lineageID, ns string) ([]*graph.CheckpointTuple, error) {
	all, err := s.client.HGetAll(ctx, s.hashKey(lineageID, ns)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	tuples := make([]*graph.CheckpointTuple, 0, len(all))
	for _, raw := range all {
		t, err := decodeTuple(lineageID, ns, []byte(raw))
		if err != nil {
			return nil, err
		}
		tuples = append(tuples, t)
	}
	return tuples, nil
}

// Put stores a checkpoint. The parent check is watched and the write is a
// single MULTI/EXEC.
func (s *Saver) Put(ctx context.Context, req graph.PutRequest) (map[string]any, error) {
	lineageID := graph.GetLineageID(req.Config)
	ns := graph.GetNamespace(req.Config)
	if lineageID == "" {
		return nil, graph.ErrLineageIDRequired
	}
	if req.Checkpoint == nil {
		return nil, errors.New("checkpoint cannot be nil")
	}
	meta := req.Metadata
	if meta == nil {
		meta = graph.NewCheckpointMetadata(graph.SourceUpdate, -1)
	}
	raw, err := json.Marshal(storedTuple{Checkpoint: req.Checkpoint, Metadata: meta})
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}
	key := s.hashKey(lineageID, ns)
	parentID := req.Checkpoint.ParentID

	txf := func(tx *redis.Tx) error {
		nss, err := tx.SMembers(ctx, s.nsKey(lineageID)).Result()
		if err != nil {
			return fmt.Errorf("redis smembers: %w", err)
		}
		if !slices.Contains(nss, ns) {
			nss = append(nss, ns)
		}
		for _, other := range nss {
			used, err := tx.HExists(ctx, s.hashKey(lineageID, other), req.Checkpoint.ID).Result()
			if err != nil {
				return fmt.Errorf("redis hexists: %w", err)
			}
			if used {
				return fmt.Errorf("checkpoint %s: %w", req.Checkpoint.ID, graph.ErrCheckpointExists)
			}
		}
		if parentID != "" {
			ok, err := tx.HExists(ctx, key, parentID).Result()
			if err != nil {
				return fmt.Errorf("redis hexists: %w", err)
			}
			if !ok {
				return fmt.Errorf("checkpoint %s: %w: %s", req.Checkpoint.ID, graph.ErrParentNotFound, parentID)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, req.Checkpoint.ID, raw)
			pipe.SAdd(ctx, s.nsKey(lineageID), ns)
			return nil
		})
		return err
	}
	for i := 0; i < maxPutRetries; i++ {
		err = s.client.Watch(ctx, txf, key, s.nsKey(lineageID))
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return graph.CreateCheckpointConfig(lineageID, req.Checkpoint.ID, ns), nil
}

// DeleteLineage removes every namespace of the lineage.
func (s *Saver) DeleteLineage(ctx context.Context, lineageID string) error {
	if lineageID == "" {
		return graph.ErrLineageIDRequired
	}
	nss, err := s.client.SMembers(ctx, s.nsKey(lineageID)).Result()
	if err != nil {
		return fmt.Errorf("redis smembers: %w", err)
	}
	keys := []string{s.nsKey(lineageID)}
	for _, ns := range nss {
		keys = append(keys, s.hashKey(lineageID, ns))
	}
	if _, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		return nil
	}); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close closes the client if the saver created it.
func (s *Saver) Close() error {
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}

func decodeTuple(lineageID, ns string, raw []byte) (*graph.CheckpointTuple, error) {
	var st storedTuple
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	if st.Checkpoint == nil {
		return nil, errors.New("stored checkpoint is empty")
	}
	if st.Metadata == nil {
		st.Metadata = graph.NewCheckpointMetadata(graph.SourceUpdate, -1)
	}
	if st.Metadata.Parents == nil {
		st.Metadata.Parents = make(map[string]string)
	}
	if st.Metadata.Extra == nil {
		st.Metadata.Extra = make(map[string]any)
	}
	return graph.NewTuple(lineageID, ns, st.Checkpoint, st.Metadata), nil
}
