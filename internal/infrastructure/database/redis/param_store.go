package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fepforge/fepforge/internal/infrastructure/chem/param"
	"github.com/fepforge/fepforge/internal/infrastructure/monitoring/logging"
	apperrors "github.com/fepforge/fepforge/pkg/errors"
	"github.com/fepforge/fepforge/pkg/types/chem"
)

const defaultParamTTL = 7 * 24 * time.Hour

// ParamStore persists parameter sets in Redis as JSON.  It implements the
// param.Store contract: a miss is (nil, nil), corruption is reported as an
// error so the caller can fall through to the backend.
type ParamStore struct {
	client *Client
	prefix string
	ttl    time.Duration
	log    logging.Logger
}

// ParamStoreOption customises a ParamStore.
type ParamStoreOption func(*ParamStore)

// WithPrefix sets the key namespace.  Defaults to "fepforge:param:".
func WithPrefix(prefix string) ParamStoreOption {
	return func(s *ParamStore) { s.prefix = prefix }
}

// WithTTL sets entry lifetime.  Zero or negative keeps the default week.
func WithTTL(ttl time.Duration) ParamStoreOption {
	return func(s *ParamStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewParamStore creates a store over an established client.
func NewParamStore(client *Client, log logging.Logger, opts ...ParamStoreOption) *ParamStore {
	if log == nil {
		log = logging.NewNopLogger()
	}
	s := &ParamStore{
		client: client,
		prefix: "fepforge:param:",
		ttl:    defaultParamTTL,
		log:    log.Named("paramstore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetParameterSet fetches a cached parameter set by cache key.
func (s *ParamStore) GetParameterSet(ctx context.Context, key string) (*chem.ParameterSet, error) {
	raw, err := s.client.Raw().Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeCacheError, "read parameter set")
	}

	var ps chem.ParameterSet
	if err := json.Unmarshal(raw, &ps); err != nil {
		// A corrupt entry must not poison future lookups.
		s.log.Warn("dropping corrupt cache entry", logging.String("key", key), logging.Err(err))
		_ = s.client.Raw().Del(ctx, s.prefix+key).Err()
		return nil, apperrors.Wrap(err, apperrors.CodeSerialization, "decode parameter set")
	}
	return &ps, nil
}

// SetParameterSet stores a parameter set under the cache key with TTL.
func (s *ParamStore) SetParameterSet(ctx context.Context, key string, ps *chem.ParameterSet) error {
	raw, err := json.Marshal(ps)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeSerialization, "encode parameter set")
	}
	if err := s.client.Raw().Set(ctx, s.prefix+key, raw, s.ttl).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.CodeCacheError, "write parameter set")
	}
	return nil
}

var _ param.Store = (*ParamStore)(nil)
