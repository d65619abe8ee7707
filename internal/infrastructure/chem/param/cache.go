package param

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fepforge/fepforge/internal/infrastructure/monitoring/logging"
	apperrors "github.com/fepforge/fepforge/pkg/errors"
	"github.com/fepforge/fepforge/pkg/types/chem"
)

// Store is the persistence interface the caching decorator writes through
// to.  The Redis implementation lives in infrastructure/database/redis; a
// miss is (nil, nil).
type Store interface {
	GetParameterSet(ctx context.Context, key string) (*chem.ParameterSet, error)
	SetParameterSet(ctx context.Context, key string, ps *chem.ParameterSet) error
}

// Observer receives cache and tool-run events; the Prometheus collector
// implements it.
type Observer interface {
	ParamCacheHit()
	ParamCacheMiss()
	ParamToolRun(d time.Duration, success bool)
}

type nopObserver struct{}

func (nopObserver) ParamCacheHit()                   {}
func (nopObserver) ParamCacheMiss()                  {}
func (nopObserver) ParamToolRun(time.Duration, bool) {}

// Cached decorates a Backend with a write-through parameter cache and
// request coalescing: for any cache key at most one backend run is in
// flight at a time, and concurrent requests for the same ligand share its
// result.  Store failures degrade to cache misses; they never fail a job.
type Cached struct {
	backend Backend
	store   Store
	obs     Observer
	group   singleflight.Group
	log     logging.Logger
}

// NewCached wraps backend.  store may be nil for a purely coalescing
// decorator; obs may be nil.
func NewCached(backend Backend, store Store, obs Observer, log logging.Logger) *Cached {
	if obs == nil {
		obs = nopObserver{}
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Cached{backend: backend, store: store, obs: obs, log: log.Named("paramcache")}
}

// Parameterize implements Backend.  The returned ParameterSet is shared
// between coalesced callers and must be treated as read-only.
func (c *Cached) Parameterize(ctx context.Context, req Request) (*chem.ParameterSet, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	key := req.CacheKey()

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		if ps := c.lookup(ctx, key); ps != nil {
			c.obs.ParamCacheHit()
			return ps, nil
		}
		c.obs.ParamCacheMiss()

		started := time.Now()
		ps, err := c.backend.Parameterize(ctx, req)
		c.obs.ParamToolRun(time.Since(started), err == nil)
		if err != nil {
			return nil, err
		}
		c.save(ctx, key, ps)
		return ps, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.log.Debug("parameterization coalesced", logging.String("key", key))
	}
	return v.(*chem.ParameterSet), nil
}

func (c *Cached) lookup(ctx context.Context, key string) *chem.ParameterSet {
	if c.store == nil {
		return nil
	}
	ps, err := c.store.GetParameterSet(ctx, key)
	if err != nil {
		c.log.Warn("parameter cache read failed, treating as miss",
			logging.String("key", key), logging.Err(err))
		return nil
	}
	return ps
}

func (c *Cached) save(ctx context.Context, key string, ps *chem.ParameterSet) {
	if c.store == nil {
		return
	}
	if err := c.store.SetParameterSet(ctx, key, ps); err != nil {
		c.log.Warn("parameter cache write failed",
			logging.String("key", key), logging.Err(err))
	}
}

// Forget drops the in-flight coalescing entry for key so the next request
// re-runs the backend.  Used after a transient failure so a retry does not
// share the failed result.
func (c *Cached) Forget(req Request) {
	c.group.Forget(req.CacheKey())
}

var _ Backend = (*Cached)(nil)

// ErrToolFamily is a convenience for tests and callers that need to assert
// a failure came from the parameterization stage.
func ErrToolFamily(err error) bool {
	switch apperrors.GetCode(err) {
	case apperrors.CodeParamUnsupportedGroup,
		apperrors.CodeParamChargeMethodFailure,
		apperrors.CodeParamToolUnavailable:
		return true
	}
	return false
}
