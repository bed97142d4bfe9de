package loader

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arkite/asyncload/internal/logger"
	"github.com/arkite/asyncload/internal/telemetry"
	"github.com/arkite/asyncload/pkg/resource"
)

const (
	// idlePoll bounds how long an idle worker sleeps between queue checks
	// when no wake signal arrives.
	idlePoll = 50 * time.Millisecond

	// backpressurePoll is the sleep between completion-queue checks while
	// the dispatcher catches up.
	backpressurePoll = 100 * time.Millisecond
)

// worker is the pool goroutine loop: pop a request, load it, queue the
// completion for the next dispatch tick.
func (e *Engine) worker(ctx context.Context, stop <-chan struct{}, id int) {
	defer e.wg.Done()
	logger.Debug("loader worker started", "worker", id)

	for {
		select {
		case <-stop:
			logger.Debug("loader worker stopped", "worker", id)
			return
		default:
		}

		req, ok := e.requests.TryPop()
		if !ok {
			select {
			case <-stop:
				logger.Debug("loader worker stopped", "worker", id)
				return
			case <-e.wake:
			case <-time.After(idlePoll):
			}
			continue
		}

		e.execute(ctx, stop, req)
	}
}

// execute runs one request end to end on the worker goroutine.
func (e *Engine) execute(ctx context.Context, stop <-chan struct{}, req *request) {
	// Hold off while the dispatcher is behind, otherwise a slow frame
	// loop accumulates decoded payloads without bound. A stop while
	// waiting puts the request back; Stop promises queued work survives
	// for the next Start.
	if !e.waitBackpressure(stop) {
		e.requests.Push(req)
		return
	}
	if !e.gate.Wait(stop) {
		e.requests.Push(req)
		return
	}

	if strings.TrimSpace(req.key) == "" {
		e.metrics.ObserveRequest(OutcomeDropped)
		return
	}

	start := time.Now()
	res, err := e.resolve(ctx, req)
	e.metrics.ObserveLoad(err, time.Since(start))

	if err != nil {
		logger.Warn("resource load failed", "key", req.key, "error", err)
		res = e.ErrorPlaceholder()
	}
	if req.postFn != nil && res != nil {
		res = req.postFn(res)
	}

	e.completions.Push(completion{
		key:     req.key,
		res:     res,
		err:     err,
		noCache: req.noCache,
	})
}

// waitBackpressure blocks while the completion queue holds a full dispatch
// window for every worker. Returns false if stop closes first.
func (e *Engine) waitBackpressure(stop <-chan struct{}) bool {
	quota := int(e.maxUploads.Load())
	if quota == 0 {
		return true
	}
	limit := quota * int(e.numWorkers.Load())

	for e.completions.Len() >= limit {
		select {
		case <-stop:
			return false
		case <-time.After(backpressurePoll):
		}
	}
	return true
}

// resolve produces the resource for req. A panicking codec or load callback
// is converted to an error so the worker survives.
func (e *Engine) resolve(ctx context.Context, req *request) (res *resource.Resource, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("loader: load panicked: %v", r)
		}
	}()

	ctx, span := telemetry.StartSpan(ctx, "loader.resolve")
	defer span.End()
	span.SetAttributes(telemetry.String("resource.key", req.key))

	switch {
	case req.loadFn != nil:
		res, err = req.loadFn(req.key)
	case e.remoteScheme(req.key):
		res, err = e.loadRemote(ctx, req.key)
	default:
		res, err = resource.DecodeFile(req.key)
	}
	if err != nil {
		telemetry.RecordError(span, err)
	}
	return res, err
}

// loadRemote fetches a URL, spools it to a temp file carrying the right
// extension and decodes from there. The temp file is removed no matter how
// decoding goes.
func (e *Engine) loadRemote(ctx context.Context, rawURL string) (*resource.Resource, error) {
	data, err := e.fetch.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp("", "asyncload-*"+urlExt(rawURL))
	if err != nil {
		return nil, fmt.Errorf("loader: create temp file: %w", err)
	}
	name := tmp.Name()
	defer func() {
		if rmErr := os.Remove(name); rmErr != nil {
			logger.Warn("temp file cleanup failed", "path", name, "error", rmErr)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("loader: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("loader: close temp file: %w", err)
	}

	res, err := resource.DecodeFile(name)
	if err != nil {
		return nil, err
	}
	res.Key = rawURL
	res.Source = rawURL
	return res, nil
}

// remoteScheme reports whether the text before key's first colon names a
// registered transport. Single-letter prefixes are Windows drive letters,
// not schemes; anything unregistered falls through to the local path branch.
func (e *Engine) remoteScheme(key string) bool {
	i := strings.IndexByte(key, ':')
	if i <= 1 {
		return false
	}
	_, ok := e.fetch.Lookup(strings.ToLower(key[:i]))
	return ok
}

func urlExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return filepath.Ext(u.Path)
}
