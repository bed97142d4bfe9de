package loader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arkite/asyncload/pkg/cache"
	"github.com/arkite/asyncload/pkg/cache/memory"
	"github.com/arkite/asyncload/pkg/fetch"
	"github.com/arkite/asyncload/pkg/resource"
	"github.com/arkite/asyncload/pkg/tick"
)

// newTestEngine builds an engine driven by a manual tick source so tests
// control dispatch exactly.
func newTestEngine(t *testing.T, cfg Config, opts ...Option) (*Engine, *tick.Manual) {
	t.Helper()
	m := tick.NewManual()
	opts = append(opts, WithTickSource(m))
	e, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, m
}

// pump steps the tick source until cond holds, giving workers time to run
// between steps.
func pump(t *testing.T, m *tick.Manual, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		m.Step()
		return cond()
	}, 2*time.Second, 2*time.Millisecond)
}

func staticLoad(data []byte) LoadFunc {
	return func(key string) (*resource.Resource, error) {
		return &resource.Resource{Key: key, Source: key, Data: data}, nil
	}
}

type fetcherFunc func(ctx context.Context, rawURL string) ([]byte, error)

func (f fetcherFunc) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return f(ctx, rawURL)
}

// barrierCache holds the first two Lookup callers until both have arrived,
// forcing the interleaving where two goroutines observe the same key as
// absent before either marks it pending.
type barrierCache struct {
	cache.ResultCache

	mu      sync.Mutex
	waiting chan struct{}
	met     bool
}

func (c *barrierCache) Lookup(key string) (*resource.Resource, cache.State) {
	c.mu.Lock()
	switch {
	case c.met:
		c.mu.Unlock()
	case c.waiting == nil:
		ch := make(chan struct{})
		c.waiting = ch
		c.mu.Unlock()
		select {
		case <-ch:
		case <-time.After(time.Second):
		}
	default:
		c.met = true
		close(c.waiting)
		c.mu.Unlock()
	}
	return c.ResultCache.Lookup(key)
}

func TestLoadDeliversOnTick(t *testing.T) {
	e, m := newTestEngine(t, DefaultConfig())

	h := e.Load("a.bin", WithLoadFunc(staticLoad([]byte("payload"))))

	require.Equal(t, Loading, h.State())
	require.Same(t, e.LoadingPlaceholder(), h.Resource())

	pump(t, m, h.IsLoaded)
	require.Equal(t, "payload", string(h.Resource().Data))
	require.NoError(t, h.Err())
}

func TestLoadMarksPendingAndEnqueuesOnce(t *testing.T) {
	mem := memory.NewMemoryCache(0)
	e, _ := newTestEngine(t, DefaultConfig(), WithCache(mem))
	defer func() { _ = mem.Close() }()

	// No ticks are stepped, so nothing starts; the queue and cache state
	// are exactly what Load left behind.
	e.Load("fresh.bin", WithLoadFunc(staticLoad(nil)))

	if _, state := mem.Lookup("fresh.bin"); state != cache.Pending {
		t.Fatalf("first request must mark the key Pending, got %v", state)
	}
	require.Equal(t, 1, e.requests.Len())

	e.Load("fresh.bin", WithLoadFunc(staticLoad(nil)))
	require.Equal(t, 1, e.requests.Len(), "a pending key must not enqueue again")
}

func TestCacheHitSkipsQueue(t *testing.T) {
	e, m := newTestEngine(t, DefaultConfig())

	var calls atomic.Int64
	load := func(key string) (*resource.Resource, error) {
		calls.Add(1)
		return &resource.Resource{Key: key, Data: []byte("x")}, nil
	}

	first := e.Load("k.bin", WithLoadFunc(load))
	pump(t, m, first.IsLoaded)

	second := e.Load("k.bin", WithLoadFunc(load))
	require.True(t, second.IsLoaded(), "cached key should settle synchronously")
	require.Equal(t, int64(1), calls.Load())
}

func TestInflightRequestsCoalesce(t *testing.T) {
	e, m := newTestEngine(t, DefaultConfig())

	var calls atomic.Int64
	release := make(chan struct{})
	load := func(key string) (*resource.Resource, error) {
		calls.Add(1)
		<-release
		return &resource.Resource{Key: key, Data: []byte("x")}, nil
	}

	handles := make([]*Handle, 5)
	for i := range handles {
		handles[i] = e.Load("shared.bin", WithLoadFunc(load))
	}
	m.Step() // start workers

	require.Eventually(t, func() bool { return calls.Load() == 1 },
		time.Second, 2*time.Millisecond)
	close(release)

	for _, h := range handles {
		pump(t, m, h.IsLoaded)
	}
	require.Equal(t, int64(1), calls.Load(), "one in-flight load should serve every handle")
}

func TestConcurrentSameKeyLoadsEnqueueOnce(t *testing.T) {
	mem := memory.NewMemoryCache(0)
	bc := &barrierCache{ResultCache: mem}
	e, m := newTestEngine(t, DefaultConfig(), WithCache(bc))

	var calls atomic.Int64
	load := func(key string) (*resource.Resource, error) {
		calls.Add(1)
		return &resource.Resource{Key: key, Data: []byte("x")}, nil
	}

	// Both callers pass the cache lookup together; only one may win the
	// pending claim and enqueue.
	handles := make([]*Handle, 2)
	var wg sync.WaitGroup
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i] = e.Load("same-key.bin", WithLoadFunc(load))
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, e.requests.Len(),
		"concurrent loads for one key must enqueue a single request")
	if _, state := mem.Lookup("same-key.bin"); state != cache.Pending {
		t.Fatalf("key should be Pending after the claim, got %v", state)
	}

	for _, h := range handles {
		pump(t, m, h.IsLoaded)
	}
	require.Equal(t, int64(1), calls.Load())
}

func TestQuotaSpansTicks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxUploadsPerTick = 1
	e, m := newTestEngine(t, cfg)
	e.Start()

	handles := make([]*Handle, 3)
	for i := range handles {
		key := fmt.Sprintf("key-%d.bin", i)
		handles[i] = e.Load(key, WithLoadFunc(staticLoad([]byte{byte(i)})))
	}

	require.Eventually(t, func() bool { return e.completions.Len() == 3 },
		time.Second, 2*time.Millisecond)

	loaded := func() int {
		n := 0
		for _, h := range handles {
			if h.IsLoaded() {
				n++
			}
		}
		return n
	}

	m.Step()
	require.Equal(t, 1, loaded(), "one completion per tick at quota 1")
	m.Step()
	require.Equal(t, 2, loaded())
	m.Step()
	require.Equal(t, 3, loaded(), "every queued completion must eventually deliver")
}

func TestUnlimitedQuotaDrainsInOneTick(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxUploadsPerTick = 0
	e, m := newTestEngine(t, cfg)
	e.Start()

	handles := make([]*Handle, 6)
	for i := range handles {
		key := fmt.Sprintf("bulk-%d.bin", i)
		handles[i] = e.Load(key, WithLoadFunc(staticLoad(nil)))
	}

	require.Eventually(t, func() bool { return e.completions.Len() == 6 },
		time.Second, 2*time.Millisecond)

	m.Step()
	for _, h := range handles {
		require.True(t, h.IsLoaded())
	}
}

func TestBackpressureBoundsCompletionQueue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumWorkers = 2
	cfg.MaxUploadsPerTick = 1
	e, _ := newTestEngine(t, cfg)
	e.Start()

	for i := 0; i < 6; i++ {
		e.Load(fmt.Sprintf("bp-%d.bin", i), WithLoadFunc(staticLoad(nil)))
	}

	// quota * workers = 2; workers must stall there until dispatch drains.
	require.Eventually(t, func() bool { return e.completions.Len() == 2 },
		time.Second, 2*time.Millisecond)
	time.Sleep(250 * time.Millisecond)
	require.Equal(t, 2, e.completions.Len(),
		"workers should hold off while the dispatcher is behind")
}

func TestPauseHoldsDelivery(t *testing.T) {
	e, m := newTestEngine(t, DefaultConfig())
	e.Start()
	e.Pause()
	require.True(t, e.Paused())

	h := e.Load("paused.bin", WithLoadFunc(staticLoad([]byte("x"))))

	for i := 0; i < 10; i++ {
		m.Step()
		time.Sleep(2 * time.Millisecond)
	}
	require.Equal(t, Loading, h.State(), "nothing settles while paused")

	e.Resume()
	pump(t, m, h.IsLoaded)
}

func TestWorkerCountValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumWorkers = 1
	_, err := New(cfg, WithTickSource(tick.NewManual()))
	require.ErrorIs(t, err, ErrTooFewWorkers)

	e, _ := newTestEngine(t, DefaultConfig())
	require.ErrorIs(t, e.SetNumWorkers(1), ErrTooFewWorkers)
	require.NoError(t, e.SetNumWorkers(4))
	require.Equal(t, 4, e.NumWorkers())

	e.Start()
	require.ErrorIs(t, e.SetNumWorkers(3), ErrAlreadyStarted)
}

func TestQuotaValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxUploadsPerTick = -1
	_, err := New(cfg, WithTickSource(tick.NewManual()))
	require.ErrorIs(t, err, ErrNegativeQuota)

	e, _ := newTestEngine(t, DefaultConfig())
	require.ErrorIs(t, e.SetMaxUploadsPerTick(-1), ErrNegativeQuota)
	require.NoError(t, e.SetMaxUploadsPerTick(0))
	require.Equal(t, 0, e.MaxUploadsPerTick())
}

func TestBlankKeySettlesImmediately(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())

	h := e.Load("   ")
	require.Equal(t, Errored, h.State())
	require.ErrorIs(t, h.Err(), ErrBlankKey)
	require.Equal(t, 0, e.requests.Len(), "blank keys never reach the queue")
}

func TestNoCacheBypassesDedupAndStore(t *testing.T) {
	mem := memory.NewMemoryCache(0)
	e, m := newTestEngine(t, DefaultConfig(), WithCache(mem))
	defer func() { _ = mem.Close() }()

	var calls atomic.Int64
	load := func(key string) (*resource.Resource, error) {
		calls.Add(1)
		return &resource.Resource{Key: key, Data: []byte("x")}, nil
	}

	first := e.Load("nc.bin", WithLoadFunc(load), WithNoCache())
	pump(t, m, first.IsLoaded)

	if _, state := mem.Lookup("nc.bin"); state != cache.Absent {
		t.Fatalf("no-cache result must not be stored, got %v", state)
	}

	second := e.Load("nc.bin", WithLoadFunc(load), WithNoCache())
	pump(t, m, second.IsLoaded)
	require.Equal(t, int64(2), calls.Load(), "no-cache requests always re-load")

	// And no-cache re-loads even a key that resolved into the cache.
	cached := e.Load("nc2.bin", WithLoadFunc(load))
	pump(t, m, cached.IsLoaded)
	again := e.Load("nc2.bin", WithLoadFunc(load), WithNoCache())
	pump(t, m, again.IsLoaded)
	require.Equal(t, int64(4), calls.Load())
}

func TestFailedLoadCachesErrorPlaceholder(t *testing.T) {
	mem := memory.NewMemoryCache(0)
	e, m := newTestEngine(t, DefaultConfig(), WithCache(mem))
	defer func() { _ = mem.Close() }()

	boom := errors.New("decoder exploded")
	var calls atomic.Int64
	load := func(string) (*resource.Resource, error) {
		calls.Add(1)
		return nil, boom
	}

	h := e.Load("bad.bin", WithLoadFunc(load))
	pump(t, m, func() bool { return h.State() == Errored })
	require.ErrorIs(t, h.Err(), boom)
	require.Same(t, e.ErrorPlaceholder(), h.Resource())

	// The failure is cached: a retry serves the placeholder without a
	// second load attempt.
	second := e.Load("bad.bin", WithLoadFunc(load))
	require.True(t, second.IsLoaded())
	require.Same(t, e.ErrorPlaceholder(), second.Resource())
	require.Equal(t, int64(1), calls.Load())
}

func TestPanickingLoadKeepsWorkerAlive(t *testing.T) {
	e, m := newTestEngine(t, DefaultConfig())

	bad := e.Load("panic.bin", WithLoadFunc(func(string) (*resource.Resource, error) {
		panic("codec bug")
	}))
	pump(t, m, func() bool { return bad.State() == Errored })

	good := e.Load("fine.bin", WithLoadFunc(staticLoad([]byte("ok"))))
	pump(t, m, good.IsLoaded)
	require.Equal(t, "ok", string(good.Resource().Data))
}

func TestPostFuncRunsBeforeDispatch(t *testing.T) {
	e, m := newTestEngine(t, DefaultConfig())

	h := e.Load("post.bin",
		WithLoadFunc(staticLoad([]byte("raw"))),
		WithPostFunc(func(res *resource.Resource) *resource.Resource {
			res.Data = append(res.Data, []byte("+post")...)
			return res
		}),
	)
	pump(t, m, h.IsLoaded)
	require.Equal(t, "raw+post", string(h.Resource().Data))
}

func TestOnLoadFiresExactlyOnce(t *testing.T) {
	e, m := newTestEngine(t, DefaultConfig())

	var mu sync.Mutex
	fired := 0
	h := e.Load("once.bin", WithLoadFunc(staticLoad(nil)))
	h.OnLoad(func(*Handle) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	pump(t, m, h.IsLoaded)
	for i := 0; i < 5; i++ {
		m.Step()
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, fired)
}

func TestStopAndRestart(t *testing.T) {
	e, m := newTestEngine(t, DefaultConfig())
	e.Start()
	e.Stop()

	h := e.Load("later.bin", WithLoadFunc(staticLoad([]byte("x"))))
	pump(t, m, h.IsLoaded)
}

func TestStopRequeuesClaimedRequest(t *testing.T) {
	e, m := newTestEngine(t, DefaultConfig())
	e.Start()
	e.Pause()

	h := e.Load("held.bin", WithLoadFunc(staticLoad([]byte("x"))))

	// A worker pops the request and parks on the pause gate.
	require.Eventually(t, func() bool { return e.requests.Len() == 0 },
		time.Second, 2*time.Millisecond)

	e.Stop()
	require.Equal(t, 1, e.requests.Len(),
		"a request claimed by a stopping worker must go back on the queue")
	require.Equal(t, Loading, h.State())

	e.Start()
	e.Resume()
	pump(t, m, h.IsLoaded)
	require.Equal(t, "x", string(h.Resource().Data))
}

func TestCacheHitDoesNotStartWorkers(t *testing.T) {
	e, m := newTestEngine(t, DefaultConfig())

	h := e.Load("warm.bin", WithLoadFunc(staticLoad([]byte("x"))))
	pump(t, m, h.IsLoaded)
	e.Stop()

	hit := e.Load("warm.bin")
	require.True(t, hit.IsLoaded())
	require.False(t, e.startWanted.Load(), "a cache hit must not arm the pool")

	m.Step()
	require.False(t, e.running.Load())
}

func TestLoadAfterClose(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.Close())

	h := e.Load("x.bin")
	require.Equal(t, Errored, h.State())
	require.ErrorIs(t, h.Err(), ErrClosed)
}

func TestRemoteLoadCleansTempFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.bin" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("remote payload"))
	}))
	defer srv.Close()

	e, m := newTestEngine(t, DefaultConfig())

	h := e.Load(srv.URL + "/asset.bin")
	pump(t, m, h.IsLoaded)
	require.Equal(t, "remote payload", string(h.Resource().Data))
	require.Equal(t, srv.URL+"/asset.bin", h.Resource().Source)

	bad := e.Load(srv.URL + "/missing.bin")
	pump(t, m, func() bool { return bad.State() == Errored })

	leftovers, err := filepath.Glob(filepath.Join(os.TempDir(), "asyncload-*"))
	require.NoError(t, err)
	require.Empty(t, leftovers, "temp spool files must always be removed")
}

func TestSchemeRoutingUsesRegistry(t *testing.T) {
	reg := fetch.NewRegistry()
	var fetched atomic.Int64
	reg.Register("ftp", fetcherFunc(func(ctx context.Context, rawURL string) ([]byte, error) {
		fetched.Add(1)
		return []byte("from ftp"), nil
	}))

	e, m := newTestEngine(t, DefaultConfig(), WithFetchRegistry(reg))

	// The scheme is the text before the first colon, slashes or not.
	h := e.Load("ftp:files/asset.bin")
	pump(t, m, h.IsLoaded)
	require.Equal(t, "from ftp", string(h.Resource().Data))
	require.Equal(t, int64(1), fetched.Load())

	// A drive-letter prefix is a local path, not a scheme.
	drive := e.Load(`C:\missing\asset.bin`)
	pump(t, m, func() bool { return drive.State() == Errored })
	require.Equal(t, int64(1), fetched.Load())

	// An unregistered prefix falls through to the local path branch.
	local := e.Load("data:whatever")
	pump(t, m, func() bool { return local.State() == Errored })
	require.Equal(t, int64(1), fetched.Load())
}

func TestPlaceholderOverrides(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())

	custom := &resource.Resource{Key: "spinner.png", Data: []byte{1}}
	e.SetLoadingPlaceholder(custom)

	h := e.Load("slow.bin", WithLoadFunc(staticLoad(nil)))
	require.Same(t, custom, h.Resource())

	dir := t.TempDir()
	path := filepath.Join(dir, "err.bin")
	require.NoError(t, os.WriteFile(path, []byte("errimg"), 0o644))
	require.NoError(t, e.SetErrorPlaceholderPath(path))
	require.Equal(t, "errimg", string(e.ErrorPlaceholder().Data))

	require.Error(t, e.SetLoadingPlaceholderPath(filepath.Join(dir, "nope.bin")))
}

func TestDistinctHandleIDs(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())

	a := e.Load("same.bin", WithLoadFunc(staticLoad(nil)))
	b := e.Load("same.bin", WithLoadFunc(staticLoad(nil)))
	require.Equal(t, a.Key(), b.Key())
	require.NotEqual(t, a.ID(), b.ID())
}
