// Package filesystem implements the document pool on a local directory tree.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-scope/internal/normalisers"
)

// Verify interface compliance
var _ driven.DocumentPool = (*Pool)(nil)

const (
	defaultMaxFileBytes    = 10 << 20
	defaultLoadConcurrency = 4
	defaultUploadName      = "uploaded"
)

// DefaultExtensions are the extensions accepted when none are configured.
var DefaultExtensions = []string{".md", ".txt", ".pdf"}

// Config holds configuration for the pool.
type Config struct {
	Root              string
	AllowedExtensions []string
	MaxFileBytes      int64
	LoadConcurrency   int
	Normalisers       driven.NormaliserRegistry
	Logger            *slog.Logger
}

// Pool is a DocumentPool rooted at a directory.
type Pool struct {
	root        string
	exts        []string
	allowed     map[string]bool
	maxBytes    int64
	concurrency int
	normalisers driven.NormaliserRegistry
	logger      *slog.Logger
}

// NewPool creates the root directory if needed and returns a pool over it.
func NewPool(cfg Config) (*Pool, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("pool root: %w", domain.ErrInvalidConfig)
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve pool root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create pool root: %w", err)
	}

	exts := cfg.AllowedExtensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	p := &Pool{
		root:        root,
		allowed:     make(map[string]bool, len(exts)),
		maxBytes:    cfg.MaxFileBytes,
		concurrency: cfg.LoadConcurrency,
		normalisers: cfg.Normalisers,
		logger:      cfg.Logger,
	}
	for _, e := range exts {
		e = normalisers.NormaliseExtension(e)
		if e == "" || p.allowed[e] {
			continue
		}
		p.allowed[e] = true
		p.exts = append(p.exts, e)
	}
	if p.maxBytes <= 0 {
		p.maxBytes = defaultMaxFileBytes
	}
	if p.concurrency <= 0 {
		p.concurrency = defaultLoadConcurrency
	}
	if p.normalisers == nil {
		p.normalisers = normalisers.DefaultRegistry()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p, nil
}

// Root returns the absolute pool root.
func (p *Pool) Root() string {
	return p.root
}

// AllowedExtensions returns the accepted extensions in configuration order.
func (p *Pool) AllowedExtensions() []string {
	return append([]string(nil), p.exts...)
}

func (p *Pool) isAllowed(name string) bool {
	return p.allowed[strings.ToLower(filepath.Ext(name))]
}

// List enumerates allowed files and every folder, sorted by path.
func (p *Pool) List(ctx context.Context) (*domain.PoolListing, error) {
	listing := &domain.PoolListing{
		Files:   []domain.PoolEntry{},
		Folders: []domain.PoolEntry{{Path: domain.WholePoolPath, Name: domain.WholePoolName}},
	}

	err := filepath.WalkDir(p.root, func(abs string, d fs.DirEntry, err error) error {
		if err != nil {
			p.logger.Debug("skipping unreadable pool entry", "path", abs, "error", err)
			if d != nil && d.IsDir() && abs != p.root {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if abs == p.root {
			return nil
		}
		rel := p.rel(abs)
		switch {
		case d.IsDir():
			listing.Folders = append(listing.Folders, domain.PoolEntry{Path: rel, Name: rel + "/"})
		case d.Type().IsRegular() && p.isAllowed(rel):
			listing.Files = append(listing.Files, domain.PoolEntry{Path: rel, Name: rel})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list pool: %w", err)
	}
	return listing, nil
}

// Expand resolves paths into a sorted, deduplicated list of allowed files.
func (p *Pool) Expand(ctx context.Context, paths []string) ([]string, error) {
	seen := make(map[string]bool)
	for _, raw := range paths {
		files, err := p.resolve(ctx, raw)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			seen[f] = true
		}
	}

	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out, nil
}

// resolve maps one requested path to the allowed files it covers, with
// folder contents in lexical order. Missing and escaping paths cover nothing.
func (p *Pool) resolve(ctx context.Context, raw string) ([]string, error) {
	rel, ok := domain.NormalizePoolPath(raw)
	if !ok {
		p.logger.Warn("ignoring path outside pool", "path", raw)
		return nil, nil
	}

	abs := p.root
	if rel != domain.WholePoolPath {
		abs = filepath.Join(p.root, filepath.FromSlash(rel))
	}
	// Symlinks are not followed, as in the walk below.
	info, err := os.Lstat(abs)
	if err != nil {
		return nil, nil
	}
	if rel != domain.WholePoolPath && !p.contains(abs) {
		p.logger.Warn("ignoring path resolving outside pool", "path", raw)
		return nil, nil
	}
	if !info.IsDir() {
		if info.Mode().IsRegular() && p.isAllowed(rel) {
			return []string{rel}, nil
		}
		return nil, nil
	}

	var files []string
	err = filepath.WalkDir(abs, func(cur string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && cur != abs {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.Type().IsRegular() && p.isAllowed(cur) {
			files = append(files, p.rel(cur))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", rel, err)
	}
	return files, nil
}

// contains reports whether abs, with every symlinked parent resolved, still
// lies under the pool root.
func (p *Pool) contains(abs string) bool {
	root, err := filepath.EvalSymlinks(p.root)
	if err != nil {
		return false
	}
	dir, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, filepath.Join(dir, filepath.Base(abs)))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Load reads documents at the given files and folders in request order.
// Files that cannot be used are skipped; only cancellation fails the call.
func (p *Pool) Load(ctx context.Context, paths []string) ([]*domain.Document, error) {
	seen := make(map[string]bool)
	var files []string
	for _, raw := range paths {
		resolved, err := p.resolve(ctx, raw)
		if err != nil {
			return nil, err
		}
		for _, f := range resolved {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}

	docs := make([]*domain.Document, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, rel := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			docs[i] = p.loadFile(gctx, rel)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}

	out := make([]*domain.Document, 0, len(docs))
	for _, d := range docs {
		if d != nil {
			out = append(out, d)
		}
	}
	return out, nil
}

// loadFile returns nil for any file that must be skipped.
func (p *Pool) loadFile(ctx context.Context, rel string) *domain.Document {
	ext := strings.ToLower(path.Ext(rel))
	if !p.allowed[ext] {
		return p.skip(rel, skipUnsupported, nil)
	}
	normaliser := p.normalisers.Get(ext)
	if normaliser == nil {
		return p.skip(rel, skipUnsupported, domain.ErrUnsupportedType)
	}

	raw, err := p.readCapped(filepath.Join(p.root, filepath.FromSlash(rel)))
	if err != nil {
		if errors.Is(err, domain.ErrFileTooLarge) {
			return p.skip(rel, skipTooLarge, err)
		}
		return p.skip(rel, skipUnreadable, err)
	}

	text, err := normaliser.Normalise(ctx, raw, ext)
	if err != nil {
		return p.skip(rel, skipExtract, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return p.skip(rel, skipEmpty, nil)
	}

	documentsLoadedTotal.Inc()
	return &domain.Document{Content: text, SourcePath: rel}
}

func (p *Pool) skip(rel, reason string, err error) *domain.Document {
	documentsSkippedTotal.WithLabelValues(reason).Inc()
	p.logger.Warn("skipping document", "path", rel, "reason", reason, "error", err)
	return nil
}

// readCapped reads at most maxBytes, failing with ErrFileTooLarge beyond that.
func (p *Pool) readCapped(abs string) ([]byte, error) {
	f, err := os.Open(abs)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, p.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > p.maxBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes: %w", filepath.Base(abs), p.maxBytes, domain.ErrFileTooLarge)
	}
	return data, nil
}

// Save writes an upload to the pool root under a sanitised name.
// Same-named files are replaced.
func (p *Pool) Save(ctx context.Context, data []byte, name string) (string, error) {
	if int64(len(data)) > p.maxBytes {
		return "", fmt.Errorf("upload of %d bytes exceeds %d: %w", len(data), p.maxBytes, domain.ErrFileTooLarge)
	}

	safe := p.SanitiseName(name)
	target := filepath.Join(p.root, safe)

	tmp, err := os.CreateTemp(p.root, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close upload: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", fmt.Errorf("chmod upload: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}

	p.logger.Info("saved upload", "path", safe, "bytes", len(data))
	return safe, nil
}

// SanitiseName keeps [A-Za-z0-9._-], drops leading dots, defaults to
// "uploaded" and appends an allowed extension when needed.
func (p *Pool) SanitiseName(name string) string {
	var b strings.Builder
	for _, r := range filepath.Base(strings.ReplaceAll(name, "\\", "/")) {
		if r < 128 && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '.' || r == '-' || r == '_') {
			b.WriteRune(r)
		}
	}
	safe := strings.TrimLeft(b.String(), ".")
	if safe == "" {
		safe = defaultUploadName
	}

	if !p.isAllowed(safe) {
		ext := p.exts[0]
		if p.allowed[".txt"] {
			ext = ".txt"
		}
		safe += ext
	}
	return safe
}

func (p *Pool) rel(abs string) string {
	r, err := filepath.Rel(p.root, abs)
	if err != nil {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(r)
}
