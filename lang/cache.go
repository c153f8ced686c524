package lang

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/readahead"
	"github.com/zeebo/xxh3"

	"github.com/ardnew/tagscript/log"
)

// Loader resolves source identifiers to template text.
type Loader interface {
	// Stat returns the source's modification time without reading it.
	Stat(ctx context.Context, id string) (time.Time, error)
	// Load returns the source text and its modification time.
	Load(ctx context.Context, id string) (string, time.Time, error)
}

// FSLoader loads sources from a file system. Identifiers are slash-separated
// paths relative to the file system root.
type FSLoader struct {
	FS fs.FS
}

// Stat implements [Loader].
func (l FSLoader) Stat(_ context.Context, id string) (time.Time, error) {
	fi, err := fs.Stat(l.FS, id)
	if err != nil {
		return time.Time{}, sourceError(id, err)
	}

	return fi.ModTime(), nil
}

// Load implements [Loader].
func (l FSLoader) Load(_ context.Context, id string) (string, time.Time, error) {
	f, err := l.FS.Open(id)
	if err != nil {
		return "", time.Time{}, sourceError(id, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return "", time.Time{}, sourceError(id, err)
	}

	ra := readahead.NewReader(f)
	defer ra.Close()

	data, err := io.ReadAll(ra)
	if err != nil {
		return "", time.Time{}, ErrReadInput.Wrap(err).With(slog.String("source", id))
	}

	return string(data), fi.ModTime(), nil
}

func sourceError(id string, err error) error {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid) {
		return ErrSourceNotFound.With(slog.String("source", id))
	}

	return ErrReadInput.Wrap(err).With(slog.String("source", id))
}

type memorySource struct {
	text    string
	modTime time.Time
}

// MemoryLoader serves sources held in memory. Every Set advances the
// source's modification time, so cached templates are reparsed.
type MemoryLoader struct {
	mu      sync.RWMutex
	sources map[string]memorySource
}

// NewMemoryLoader returns a loader holding the given sources.
func NewMemoryLoader(sources map[string]string) *MemoryLoader {
	l := &MemoryLoader{sources: make(map[string]memorySource, len(sources))}
	for id, text := range sources {
		l.Set(id, text)
	}

	return l
}

// Set stores or replaces a source.
func (l *MemoryLoader) Set(id, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sources == nil {
		l.sources = make(map[string]memorySource)
	}

	mod := time.Now()
	if prev, ok := l.sources[id]; ok && !mod.After(prev.modTime) {
		mod = prev.modTime.Add(time.Nanosecond)
	}

	l.sources[id] = memorySource{text: text, modTime: mod}
}

// Delete removes a source.
func (l *MemoryLoader) Delete(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.sources, id)
}

func (l *MemoryLoader) get(id string) (memorySource, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s, ok := l.sources[id]
	if !ok {
		return s, ErrSourceNotFound.With(slog.String("source", id))
	}

	return s, nil
}

// Stat implements [Loader].
func (l *MemoryLoader) Stat(_ context.Context, id string) (time.Time, error) {
	s, err := l.get(id)

	return s.modTime, err
}

// Load implements [Loader].
func (l *MemoryLoader) Load(_ context.Context, id string) (string, time.Time, error) {
	s, err := l.get(id)

	return s.text, s.modTime, err
}

// templateState parses one source version exactly once.
type templateState struct {
	once    sync.Once
	modTime time.Time
	tmpl    *Template
	err     error
}

// TemplateCache holds parsed templates keyed by source identifier. An entry
// is reused while the loader reports the same modification time; a changed
// time causes one reparse no matter how many renders race for it. Failed
// parses are not retained.
type TemplateCache struct {
	loader Loader
	parse  func(id, text string) (*Template, error)
	logger log.Logger

	entries sync.Map // id -> *templateState
	strings *lru[[16]byte, *stringState]

	hits   atomic.Uint64
	misses atomic.Uint64
}

// DefaultStringCacheSize is the default number of anonymous sources kept
// parsed for [Engine.RenderString].
const DefaultStringCacheSize = 256

type stringState struct {
	once   sync.Once
	source string
	text   string
	tmpl   *Template
	err    error
}

func newTemplateCache(
	loader Loader,
	logger log.Logger,
	parse func(id, text string) (*Template, error),
	stringCap int,
) *TemplateCache {
	if stringCap <= 0 {
		stringCap = DefaultStringCacheSize
	}

	return &TemplateCache{
		loader:  loader,
		parse:   parse,
		logger:  logger,
		strings: newLRU[[16]byte, *stringState](stringCap),
	}
}

// Get returns the parsed template for id, parsing it if it is not cached or
// its source changed.
func (c *TemplateCache) Get(ctx context.Context, id string) (*Template, error) {
	if c.loader == nil {
		return nil, ErrSourceNotFound.With(
			slog.String("source", id),
			slog.String("reason", "no loader"),
		)
	}

	mod, err := c.loader.Stat(ctx, id)
	if err != nil {
		c.entries.Delete(id)

		return nil, err
	}

	for {
		v, ok := c.entries.Load(id)
		if ok {
			st := v.(*templateState)
			if st.modTime.Equal(mod) {
				c.hits.Add(1)
				c.logger.TraceContext(ctx, "template cache hit", slog.String("source", id))

				return c.resolve(ctx, id, st)
			}

			fresh := &templateState{modTime: mod}
			if c.entries.CompareAndSwap(id, v, fresh) {
				c.misses.Add(1)
				c.logger.DebugContext(ctx, "template changed",
					slog.String("source", id),
					slog.Time("was", st.modTime),
					slog.Time("now", mod))

				return c.resolve(ctx, id, fresh)
			}

			continue
		}

		fresh := &templateState{modTime: mod}
		if _, loaded := c.entries.LoadOrStore(id, fresh); !loaded {
			c.misses.Add(1)
			c.logger.DebugContext(ctx, "template cache miss", slog.String("source", id))

			return c.resolve(ctx, id, fresh)
		}
	}
}

func (c *TemplateCache) resolve(
	ctx context.Context,
	id string,
	st *templateState,
) (*Template, error) {
	st.once.Do(func() {
		text, mod, err := c.loader.Load(ctx, id)
		if err != nil {
			st.err = err

			return
		}

		start := time.Now()

		t, err := c.parse(id, text)
		if err != nil {
			st.err = err

			return
		}

		t.ModTime = mod
		st.tmpl = t

		c.logger.DebugContext(ctx, "parsed template",
			slog.String("source", id),
			slog.Int("bytes", len(text)),
			slog.Int("nodes", len(t.Nodes)),
			slog.Duration("elapsed", time.Since(start)))
	})

	if st.err != nil {
		c.entries.CompareAndDelete(id, st)

		return nil, st.err
	}

	return st.tmpl, nil
}

// GetString returns the parsed form of an anonymous source text. Entries are
// keyed by a hash of the source identifier and the text, since the
// identifier anchors relative includes and error positions. The least
// recently used entries are dropped once the cache is full.
func (c *TemplateCache) GetString(ctx context.Context, source, text string) (*Template, error) {
	key := xxh3.HashString128(source + "\x00" + text).Bytes()

	st, loaded := c.strings.get(key)
	if !loaded {
		st, loaded = c.strings.add(key, &stringState{source: source, text: text})
	}

	if st.source != source || st.text != text {
		// Hash collision; parse without caching.
		c.misses.Add(1)

		return c.parse(source, text)
	}

	if loaded {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}

	st.once.Do(func() {
		st.tmpl, st.err = c.parse(source, text)
	})

	if st.err != nil {
		c.strings.removeIf(key, func(v *stringState) bool { return v == st })
		c.logger.TraceContext(ctx, "string template failed",
			slog.String("source", source),
			slog.Int("bytes", len(text)))

		return nil, st.err
	}

	return st.tmpl, nil
}

// Invalidate drops the cached template for id.
func (c *TemplateCache) Invalidate(id string) {
	c.entries.Delete(id)
}

// Clear drops every cached template.
func (c *TemplateCache) Clear() {
	c.entries.Clear()
	c.strings.clear()
}

// Len returns the number of cached sources, counting anonymous texts.
func (c *TemplateCache) Len() int {
	n := 0

	count := func(_, _ any) bool {
		n++

		return true
	}

	c.entries.Range(count)

	return n + c.strings.len()
}

// Sources returns the identifiers of cached sources.
func (c *TemplateCache) Sources() []string {
	var ids []string

	c.entries.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))

		return true
	})

	return ids
}

// Stats returns cumulative hit and miss counts.
func (c *TemplateCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
