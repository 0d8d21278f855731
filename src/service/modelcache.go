package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Status is the lifecycle state of one model record.
type Status string

const (
	StatusAbsent      Status = "absent"
	StatusDownloading Status = "downloading"
	StatusReady       Status = "ready"
	StatusFailed      Status = "failed"
)

// ErrModelNotReady is returned when an embed request names a model that is
// not resident and could not be provisioned.
var ErrModelNotReady = errors.New("model not ready")

// Record tracks one model by name. A record moves
// absent -> downloading -> {ready, failed}; a failed record may be retried
// but a ready record is never re-downloaded while serving.
type Record struct {
	Name      string
	LocalPath string
	Status    Status
	Err       error
}

// ModelInfo describes a model a backend can serve, for the tags listing.
type ModelInfo struct {
	Name          string
	Family        string
	ParameterSize string
}

// Model is a resident embedding model.
type Model interface {
	Embed(ctx context.Context, prompt string) ([]float32, error)
	Dimensions() int
}

// Backend is the deployment-time engine family. Load fetches the named
// model's artifacts into the cache directory and returns a usable model.
type Backend interface {
	Family() string
	Models() []ModelInfo
	Load(ctx context.Context, name string) (Model, error)
}

// ModelCache tracks which models are resident and deduplicates concurrent
// pulls: at most one download per model name is in flight at a time.
type ModelCache struct {
	backend Backend
	dir     string

	mu      sync.Mutex
	records map[string]*Record
	models  map[string]Model
	group   singleflight.Group
}

func NewModelCache(backend Backend, dir string) *ModelCache {
	return &ModelCache{
		backend: backend,
		dir:     dir,
		records: make(map[string]*Record),
		models:  make(map[string]Model),
	}
}

// locked accessor; creates an absent record on first sight of a name.
func (c *ModelCache) record(name string) *Record {
	rec, ok := c.records[name]
	if !ok {
		rec = &Record{Name: name, Status: StatusAbsent}
		c.records[name] = rec
	}
	return rec
}

func (c *ModelCache) localPath(name string) string {
	return filepath.Join(c.dir, strings.ReplaceAll(name, "/", "--"))
}

// Pull ensures the named model is resident. Pulling a ready model returns
// immediately without touching the backend; concurrent pulls for the same
// not-yet-present model share a single download. A caller whose context
// expires stops waiting, but the shared download runs to completion for the
// benefit of the other waiters.
func (c *ModelCache) Pull(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("model name required")
	}
	c.mu.Lock()
	if c.record(name).Status == StatusReady {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ch := c.group.DoChan(name, func() (any, error) {
		return c.download(name)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// download is the singleflight body for one model name. It re-checks the
// record after acquiring the lock: a caller that observed a stale status
// before joining the flight must not restart a download that has since
// completed, so a ready model is returned as-is.
func (c *ModelCache) download(name string) (any, error) {
	c.mu.Lock()
	rec := c.record(name)
	if rec.Status == StatusReady {
		m := c.models[name]
		c.mu.Unlock()
		return m, nil
	}
	rec.Status = StatusDownloading
	rec.Err = nil
	c.mu.Unlock()

	m, err := c.backend.Load(context.Background(), name)

	c.mu.Lock()
	defer c.mu.Unlock()
	rec = c.record(name)
	if err != nil {
		rec.Status = StatusFailed
		rec.Err = err
		return nil, err
	}
	rec.Status = StatusReady
	rec.LocalPath = c.localPath(name)
	rec.Err = nil
	c.models[name] = m
	return m, nil
}

// Model returns the resident model by name, provisioning it first when it
// is not yet ready.
func (c *ModelCache) Model(ctx context.Context, name string) (Model, error) {
	c.mu.Lock()
	if m, ok := c.models[name]; ok {
		c.mu.Unlock()
		return m, nil
	}
	c.mu.Unlock()

	if err := c.Pull(ctx, name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelNotReady, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.models[name]
	if !ok {
		return nil, ErrModelNotReady
	}
	return m, nil
}

// Record reports the current state of the named model.
func (c *ModelCache) Record(name string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[name]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Records lists every model the cache has seen, sorted by name.
func (c *ModelCache) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
