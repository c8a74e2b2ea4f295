package provision

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/sel4go/sel4/internal/download"
)

// Source looks up a downloadable driver release for a browser. The resolver
// treats sources as opaque collaborators: given a version constraint and a
// platform, a source either returns a release or fails.
type Source interface {
	Lookup(ctx context.Context, constraint, platform string) (Release, error)
}

// Config configures a Resolver.
type Config struct {
	// CacheDir is where resolved driver binaries are stored. Defaults to
	// a "sel4-drivers" directory under the user cache dir.
	CacheDir string
	// HTTPClient is used for downloads. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Sources maps browser names to release sources. Defaults to the
	// bundled chromium and firefox sources.
	Sources map[string]Source
	// Logger receives provisioning progress. Defaults to the standard
	// logrus logger.
	Logger logrus.FieldLogger
}

// Resolver provisions driver binaries and caches the result process-wide.
// Concurrent first resolutions of the same spec are collapsed so that at
// most one underlying fetch is performed. The zero value is not usable;
// construct with NewResolver and drop state with Close.
type Resolver struct {
	cacheDir string
	client   *http.Client
	sources  map[string]Source
	logger   logrus.FieldLogger

	group singleflight.Group

	mu    sync.Mutex
	specs map[string]*DriverSpec
}

// NewResolver builds a Resolver from cfg.
func NewResolver(cfg Config) (*Resolver, error) {
	if cfg.CacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("determining cache dir: %w", err)
		}
		cfg.CacheDir = filepath.Join(base, "sel4-drivers")
	}
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Sources == nil {
		cfg.Sources = map[string]Source{
			Chromium: NewChromiumSource(cfg.HTTPClient),
			Firefox:  NewGeckoSource(nil),
		}
	}
	return &Resolver{
		cacheDir: cfg.CacheDir,
		client:   cfg.HTTPClient,
		sources:  cfg.Sources,
		logger:   cfg.Logger.WithField("component", "provision"),
		specs:    make(map[string]*DriverSpec),
	}, nil
}

// Resolve returns the DriverSpec for (browser, constraint, platform),
// fetching and validating the driver binary on first use. Subsequent calls
// with the same key are cache hits. Concurrent callers racing on a cold
// cache wait on the single in-flight resolution.
func (r *Resolver) Resolve(ctx context.Context, browser, constraint, platform string) (*DriverSpec, error) {
	if constraint == "latest" {
		constraint = ""
	}
	spec := DriverSpec{Browser: browser, Constraint: constraint, Platform: platform}
	key := spec.Key()

	r.mu.Lock()
	if cached, ok := r.specs[key]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		resolved, err := r.resolve(ctx, spec)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.specs[key] = resolved
		r.mu.Unlock()
		return resolved, nil
	})
	if err != nil {
		return nil, &ProvisionError{Spec: spec, Cause: err}
	}
	return v.(*DriverSpec), nil
}

func (r *Resolver) resolve(ctx context.Context, spec DriverSpec) (*DriverSpec, error) {
	src, ok := r.sources[spec.Browser]
	if !ok {
		return nil, fmt.Errorf("no driver source for browser %q", spec.Browser)
	}
	rel, err := src.Lookup(ctx, spec.Constraint, spec.Platform)
	if err != nil {
		return nil, err
	}

	binPath, err := r.fetch(ctx, spec, rel)
	if err != nil {
		return nil, err
	}
	if err := makeExecutable(binPath); err != nil {
		return nil, err
	}

	resolved := spec
	resolved.Version = rel.Version
	resolved.BinaryPath = binPath
	r.logger.WithFields(logrus.Fields{
		"spec":   resolved.String(),
		"binary": binPath,
	}).Info("driver resolved")
	return &resolved, nil
}

func (r *Resolver) fetch(ctx context.Context, spec DriverSpec, rel Release) (string, error) {
	if rel.LocalPath != "" {
		if _, err := os.Stat(rel.LocalPath); err != nil {
			return "", fmt.Errorf("installed driver missing: %w", err)
		}
		return rel.LocalPath, nil
	}

	dir := filepath.Join(r.cacheDir, spec.Browser, spec.Platform, rel.Version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	name := path.Base(rel.URL)
	binName := "driver"
	file := download.File{
		URL:      rel.URL,
		Name:     name,
		Hash:     rel.Hash,
		HashType: rel.HashType,
		Dir:      dir,
	}
	if rel.ArchiveMember != "" {
		file.Rename = []string{rel.ArchiveMember, binName}
	} else {
		file.Name = binName
	}

	binPath := filepath.Join(dir, binName)
	if _, err := os.Stat(binPath); err == nil {
		// Resolved on a previous run; re-resolve is a no-op.
		return binPath, nil
	}
	if err := download.Fetch(ctx, r.client, file, r.logger); err != nil {
		return "", err
	}
	if _, err := os.Stat(binPath); err != nil {
		return "", fmt.Errorf("driver executable missing after fetch: %w", err)
	}
	return binPath, nil
}

// Close drops the in-memory cache. Files already placed in the cache
// directory stay on disk and will verify as hits on the next run.
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs = make(map[string]*DriverSpec)
}

// makeExecutable copies the read bits of the file mode to the execute bits,
// matching how driver archives frequently lose the execute bit in transit.
func makeExecutable(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	mode := fi.Mode()
	if mode&0o111 != 0 {
		return nil
	}
	return os.Chmod(path, mode|((mode&0o444)>>2))
}
