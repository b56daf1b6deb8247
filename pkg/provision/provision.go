// Package provision drives listing, matching and conditional fetching for
// every kernel a spacecraft needs and reports what ended up on disk.
package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fulmenhq/metakernel/pkg/catalog"
	"github.com/fulmenhq/metakernel/pkg/fetch"
	"github.com/fulmenhq/metakernel/pkg/layout"
	"github.com/fulmenhq/metakernel/pkg/logger"
	"github.com/fulmenhq/metakernel/pkg/pattern"
	"github.com/fulmenhq/metakernel/pkg/remote"
	"github.com/fulmenhq/metakernel/pkg/safeio"
)

const (
	DefaultWorkers = 4
	MaxWorkers     = 8
)

// Options configures a Provisioner.
type Options struct {
	HTTP            remote.HTTPFetcher
	Catalog         *catalog.Catalog
	Workers         int
	ListTimeout     time.Duration
	TransferTimeout time.Duration
	FallbackSize    int64
	Progress        fetch.ProgressFunc
	// Platform selects platform specific suffixes. Empty means runtime.GOOS.
	Platform string
}

// Request is one provisioning run.
type Request struct {
	Spacecraft string
	Basedir    string
	Force      bool
}

// FileError records a single file that could not be fetched.
type FileError struct {
	Name string
	Err  error
}

// Outcome is the per-spec record of a run.
type Outcome struct {
	Spec    catalog.FetchSpec
	Dir     string
	Matched []string
	Paths   []string
	// ListErr is set when the remote listing failed; Paths then holds
	// matching files already present locally.
	ListErr    error
	FileErrors []FileError
	Fetched    int
	Skipped    int
	Reused     int
}

// OK reports whether the spec completed without any error.
func (o Outcome) OK() bool {
	return o.ListErr == nil && len(o.FileErrors) == 0
}

// Tally sums the outcomes of a run.
type Tally struct {
	Specs       int `json:"specs" yaml:"specs"`
	FailedSpecs int `json:"failed_specs" yaml:"failed_specs"`
	Fetched     int `json:"fetched" yaml:"fetched"`
	Skipped     int `json:"skipped" yaml:"skipped"`
	Reused      int `json:"reused" yaml:"reused"`
	Failed      int `json:"failed" yaml:"failed"`
}

// Result is what a run left on disk.
type Result struct {
	Spacecraft catalog.Spacecraft
	Layout     *layout.Layout
	Generic    []string
	Mission    []string
	Outcomes   []Outcome
	Tally      Tally
}

// Files returns the number of local kernel paths obtained.
func (r *Result) Files() int {
	return len(r.Generic) + len(r.Mission)
}

// LeapsecondsDirs returns the local directories of the run's leapseconds
// specs.
func (r *Result) LeapsecondsDirs() []string {
	var dirs []string
	for _, o := range r.Outcomes {
		if o.Dir != "" && o.Spec.Category == catalog.Leapseconds {
			dirs = append(dirs, o.Dir)
		}
	}
	return dirs
}

// Provisioner is safe for sequential reuse; each Run gets its own listing
// cache.
type Provisioner struct {
	opts    Options
	fetcher *fetch.Fetcher
}

// New creates a Provisioner. A nil catalog means the built-in one.
func New(opts Options) (*Provisioner, error) {
	if opts.HTTP == nil {
		return nil, errors.New("provision: HTTP fetcher is required")
	}
	if opts.Catalog == nil {
		c, err := catalog.Default()
		if err != nil {
			return nil, err
		}
		opts.Catalog = c
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Workers > MaxWorkers {
		opts.Workers = MaxWorkers
	}
	if opts.Platform == "" {
		opts.Platform = runtime.GOOS
	}
	return &Provisioner{
		opts: opts,
		fetcher: fetch.New(fetch.Options{
			HTTP:         opts.HTTP,
			Timeout:      opts.TransferTimeout,
			FallbackSize: opts.FallbackSize,
			Progress:     opts.Progress,
		}),
	}, nil
}

// Run provisions every generic and mission kernel of req.Spacecraft. An
// unknown spacecraft fails with a *catalog.ConfigurationError before any
// request is made. Listing and transfer failures are recorded per spec and
// never stop the other specs. When ctx is canceled the partial result is
// returned together with ctx.Err().
func (p *Provisioner) Run(ctx context.Context, req Request) (*Result, error) {
	res, err := p.opts.Catalog.Resolve(req.Spacecraft, p.opts.Platform)
	if err != nil {
		return nil, err
	}
	lay, err := layout.New(req.Basedir, res.Spacecraft.ID)
	if err != nil {
		return nil, &catalog.ConfigurationError{Spacecraft: res.Spacecraft.ID, Wrapped: err}
	}
	specs := res.Specs()
	if err := lay.Ensure(specs...); err != nil {
		return nil, err
	}

	lister := remote.NewCachedLister(remote.NewLister(p.opts.HTTP, p.opts.ListTimeout))
	locks := newDirLocks()
	outcomes := make([]Outcome, len(specs))

	logger.Info("provisioning kernels",
		logger.String("spacecraft", res.Spacecraft.ID),
		logger.Int("specs", len(specs)),
		logger.Int("workers", p.opts.Workers))
	start := time.Now()

	var g errgroup.Group
	g.SetLimit(p.opts.Workers)
	for i, spec := range specs {
		if ctx.Err() != nil {
			break
		}
		dir := lay.SpecDir(spec)
		outcomes[i] = Outcome{Spec: spec, Dir: dir}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			unlock := locks.lock(dir)
			defer unlock()
			p.runSpec(ctx, lister, &outcomes[i], req.Force)
			return nil
		})
	}
	_ = g.Wait()

	result := &Result{Spacecraft: res.Spacecraft, Layout: lay, Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Dir == "" {
			continue
		}
		result.Tally.Specs++
		if !o.OK() {
			result.Tally.FailedSpecs++
		}
		result.Tally.Fetched += o.Fetched
		result.Tally.Skipped += o.Skipped
		result.Tally.Reused += o.Reused
		result.Tally.Failed += len(o.FileErrors)
		if o.Spec.Scope == catalog.ScopeGeneric {
			result.Generic = append(result.Generic, o.Paths...)
		} else {
			result.Mission = append(result.Mission, o.Paths...)
		}
	}

	logger.Info("provisioning finished",
		logger.String("spacecraft", res.Spacecraft.ID),
		logger.Int("fetched", result.Tally.Fetched),
		logger.Int("skipped", result.Tally.Skipped),
		logger.Int("reused", result.Tally.Reused),
		logger.Int("failed", result.Tally.Failed),
		logger.Duration("took", time.Since(start)))

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (p *Provisioner) runSpec(ctx context.Context, lister *remote.CachedLister, o *Outcome, force bool) {
	globs := make([]*pattern.Glob, 0, len(o.Spec.Patterns)+len(o.Spec.AliasPatterns))
	for _, raw := range o.Spec.AllPatterns() {
		globs = append(globs, pattern.MustCompile(raw))
	}

	listing, err := lister.List(ctx, o.Spec.RemoteURL)
	if err != nil {
		o.ListErr = err
		reused := localMatches(o.Dir, globs)
		o.Paths = reused
		o.Reused = len(reused)
		logger.Warn("remote listing failed",
			logger.String("url", o.Spec.RemoteURL),
			logger.Int("reused_local", len(reused)),
			logger.Err(err))
		return
	}

	o.Matched = pattern.FilterCompiled(listing, globs...)
	if len(o.Matched) == 0 {
		logger.Warn("no remote files matched",
			logger.String("url", o.Spec.RemoteURL),
			logger.String("patterns", strings.Join(o.Spec.AllPatterns(), ",")))
		return
	}

	for _, name := range o.Matched {
		if ctx.Err() != nil {
			return
		}
		r, err := p.fetcher.Fetch(ctx, fetch.Request{
			BaseURL: o.Spec.RemoteURL,
			Name:    name,
			Dir:     o.Dir,
			Force:   force,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.FileErrors = append(o.FileErrors, FileError{Name: name, Err: err})
			if local, jerr := safeio.JoinContained(o.Dir, name); jerr == nil && safeio.Exists(local) {
				o.Paths = append(o.Paths, local)
				o.Reused++
				logger.Warn("kernel refresh failed, keeping local copy", logger.String("file", name), logger.Err(err))
				continue
			}
			logger.Warn("kernel fetch failed", logger.String("file", name), logger.Err(err))
			continue
		}
		o.Paths = append(o.Paths, r.Path)
		switch r.Action {
		case fetch.Downloaded:
			o.Fetched++
			logger.Debug("kernel downloaded", logger.String("file", name), logger.Int64("bytes", r.Bytes))
		case fetch.UpToDate:
			o.Skipped++
			logger.Debug("kernel up to date", logger.String("file", name))
		}
	}
}

// localMatches lists files already in dir that the spec's patterns select.
func localMatches(dir string, globs []*pattern.Glob) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	matched := pattern.FilterCompiled(names, globs...)
	paths := make([]string, len(matched))
	for i, name := range matched {
		paths[i] = filepath.Join(dir, name)
	}
	return paths
}

// dirLocks serializes work on one local directory.
type dirLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newDirLocks() *dirLocks {
	return &dirLocks{locks: make(map[string]*sync.Mutex)}
}

func (d *dirLocks) lock(dir string) func() {
	d.mu.Lock()
	m, ok := d.locks[dir]
	if !ok {
		m = &sync.Mutex{}
		d.locks[dir] = m
	}
	d.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Summary is a one-line human readable account of the tally.
func (t Tally) Summary() string {
	return fmt.Sprintf("%d fetched, %d skipped (already current), %d reused, %d failed", t.Fetched, t.Skipped, t.Reused, t.Failed)
}
