package server

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/a-synchronous/tour"
	"github.com/a-synchronous/tour/internal/assets"
	"github.com/a-synchronous/tour/internal/cache"
	"github.com/a-synchronous/tour/internal/config"
	"github.com/a-synchronous/tour/internal/sandbox"
	"github.com/a-synchronous/tour/internal/security"
	"github.com/a-synchronous/tour/internal/store"
	"github.com/a-synchronous/tour/internal/widget"
)

// Endpoint paths served next to the tour pages.
const (
	SandboxPath = "/sandbox"
	SharePath   = "/share"
	AssetPrefix = "/assets"
	WSPath      = "/ws"
)

// Route represents a discovered page route.
type Route struct {
	Pattern  string     // URL pattern (e.g., "/pipelines")
	FilePath string     // Relative file path (e.g., "pipelines.md")
	Page     *tour.Page // Parsed page
}

// PageID returns the slash-separated file path without its extension,
// used to address the route's blocks under /sandbox/.
func (r *Route) PageID() string {
	return filepath.ToSlash(strings.TrimSuffix(r.FilePath, ".md"))
}

// Server is the tour server.
type Server struct {
	rootDir  string
	config   *config.Config
	logger   *zap.Logger
	routes   []*Route
	mu       sync.RWMutex
	srcCache *cache.MemoryCache
	store    *store.Store
	hub      *Hub
	watcher  *Watcher

	plain     http.Handler // ServeHTTP's handler, built on first use
	plainOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStore enables snippet sharing backed by st.
func WithStore(st *store.Store) Option {
	return func(s *Server) {
		s.store = st
	}
}

// New creates a server for the tours under rootDir. A nil cfg uses the
// default configuration.
func New(rootDir string, cfg *config.Config, opts ...Option) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Server{
		rootDir:  rootDir,
		config:   cfg,
		logger:   zap.NewNop(),
		routes:   make([]*Route, 0),
		srcCache: cache.NewMemoryCache(0),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(s.logger)
	return s
}

// Discover scans the directory for .md files and creates routes.
func (s *Server) Discover() error {
	routes := make([]*Route, 0)

	err := filepath.WalkDir(s.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			// Skip directories starting with _ or .
			name := d.Name()
			if path != s.rootDir && (strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}

		if filepath.Ext(path) != ".md" || strings.HasPrefix(d.Name(), "_") {
			return nil
		}

		relPath, err := filepath.Rel(s.rootDir, path)
		if err != nil {
			return err
		}
		if s.ignored(relPath) {
			return nil
		}

		page, err := tour.ParseFile(path)
		if err != nil {
			s.logger.Warn("failed to parse tour", zap.String("file", relPath), zap.Error(err))
			return nil // Continue with other files
		}
		if page.Library != nil && *page.Library != "" {
			if err := security.ValidateLibraryURL(*page.Library); err != nil {
				s.logger.Warn("invalid library in frontmatter", zap.String("file", relPath), zap.Error(err))
				return nil
			}
		}

		routes = append(routes, &Route{
			Pattern:  mdToPattern(relPath),
			FilePath: relPath,
			Page:     page,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk directory: %w", err)
	}

	sortRoutes(routes)

	s.mu.Lock()
	s.routes = routes
	s.mu.Unlock()

	// Page libraries may have changed.
	s.srcCache.InvalidateAll()

	s.logger.Debug("discovered tours", zap.Int("pages", len(routes)))
	return nil
}

func (s *Server) ignored(relPath string) bool {
	slashed := filepath.ToSlash(relPath)
	for _, pattern := range s.config.Ignore {
		if strings.HasSuffix(pattern, "/**") {
			if strings.HasPrefix(slashed, strings.TrimSuffix(pattern, "**")) {
				return true
			}
			continue
		}
		if ok, _ := filepath.Match(pattern, slashed); ok {
			return true
		}
	}
	return false
}

// Routes returns the discovered routes.
func (s *Server) Routes() []*Route {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.routes
}

func (s *Server) route(pattern string) *Route {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.routes {
		if r.Pattern == pattern {
			return r
		}
	}
	return nil
}

func (s *Server) routeByPageID(id string) *Route {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.routes {
		if r.PageID() == id {
			return r
		}
	}
	return nil
}

// Handler returns the server wrapped in its middleware. The rate limiter's
// cleanup goroutine lives until ctx is cancelled; the returned channel closes
// once it has exited.
func (s *Server) Handler(ctx context.Context) (http.Handler, <-chan struct{}) {
	limit, done := RateLimitMiddleware(ctx, s.config.RateLimit.GetRPS(), s.config.RateLimit.GetBurst(), s.config.RateLimit.GetMaxClients(), s.logger)
	return s.build(limit), done
}

// ServeHTTP implements http.Handler without the rate limiter, for tests and
// embedding. Use Handler for serving.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.plainOnce.Do(func() {
		s.plain = s.build(func(next http.Handler) http.Handler { return next })
	})
	s.plain.ServeHTTP(w, r)
}

func (s *Server) build(limit func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST "+SandboxPath, limit(http.HandlerFunc(s.handleRun)))
	mux.HandleFunc("GET "+SandboxPath+"/{path...}", s.handleBlockSandbox)
	if s.store != nil {
		mux.Handle("POST "+SharePath, limit(http.HandlerFunc(s.handleShare)))
		mux.HandleFunc("GET "+SharePath+"/{id}", s.handleGetShare)
	}
	mux.Handle("GET "+AssetPrefix+"/", http.StripPrefix(AssetPrefix+"/", http.FileServerFS(assets.ClientFS())))
	if s.config.Features.HotReload {
		mux.Handle("GET "+WSPath, s.hub)
	}
	mux.HandleFunc("GET /", s.servePage)

	return SecurityHeadersMiddleware(s.contentSecurityPolicy)(compressionMiddleware(mux))
}

// servePage serves a page.
func (s *Server) servePage(w http.ResponseWriter, r *http.Request) {
	route := s.route(r.URL.Path)
	if route == nil {
		http.NotFound(w, r)
		return
	}

	html, err := s.renderPage(route)
	if err != nil {
		s.logger.Error("failed to render page", zap.String("page", route.FilePath), zap.Error(err))
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}

// renderPage renders a page to HTML.
func (s *Server) renderPage(route *Route) (string, error) {
	page := route.Page

	title := page.Title
	if title == "" {
		title = s.config.Title
	}

	opts := widget.PageOptions{
		Title: title,
		Editor: widget.Options{
			Theme:        s.config.Editor.Theme,
			LineNumbers:  s.config.Editor.LineNumbers,
			LineWrapping: s.config.Editor.LineWrapping,
		},
		EditorCDN:       s.config.Editor.CDN,
		SandboxEndpoint: SandboxPath,
		AssetPrefix:     AssetPrefix,
	}
	if s.store != nil {
		opts.ShareEndpoint = SharePath
	}
	if s.config.Features.HotReload {
		opts.LiveReloadURL = WSPath
	}

	runners := make([]widget.Runner, 0, len(page.Runners))
	for _, r := range page.Runners {
		runners = append(runners, widget.Runner{ID: r.ID, Mode: r.Mode, Code: r.Code})
	}

	return widget.RenderPage(opts, page.StaticHTML, runners)
}

// templateFor returns the sandbox template for a page, honoring its
// library override.
func (s *Server) templateFor(route *Route) sandbox.Template {
	tmpl := s.config.Sandbox.Template()
	if route != nil && route.Page.Library != nil {
		tmpl.LibraryURL = *route.Page.Library
	}
	return tmpl
}

// iframeSrc returns the sandbox src for code, reusing cached results.
func (s *Server) iframeSrc(tmpl sandbox.Template, mode, code string) (string, error) {
	key := cache.Key(tmpl.LibraryURL, mode, code)
	if src, ok := s.srcCache.Get(key); ok {
		return src, nil
	}

	src, err := tmpl.IFrameSrc(code)
	if err != nil {
		return "", err
	}
	s.srcCache.Set(key, src, s.config.Sandbox.GetCacheTTL())
	return src, nil
}

// contentSecurityPolicy allows the editor CDN and the sandbox library next
// to the page's own origin. Sandbox documents are data: frames, which
// inherit this policy, so inline scripts stay allowed and connect-src also
// carries the configured fetch sources.
func (s *Server) contentSecurityPolicy() string {
	origins := originsOf(s.config.Editor.CDN, s.config.Sandbox.LibraryURL)
	for _, r := range s.Routes() {
		if r.Page.Library != nil {
			origins = append(origins, originsOf(*r.Page.Library)...)
		}
	}
	extra := joinSources(origins)

	var connect []string
	for _, src := range s.config.Sandbox.ConnectSrc {
		normalized, err := security.ConnectSource(src)
		if err != nil {
			s.logger.Warn("ignoring connect source", zap.String("source", src), zap.Error(err))
			continue
		}
		connect = append(connect, normalized)
	}

	return "default-src 'self'; " +
		"script-src 'self' 'unsafe-inline'" + extra + "; " +
		"style-src 'self' 'unsafe-inline'" + extra + "; " +
		"img-src 'self' data: https:; " +
		"font-src 'self' data:" + extra + "; " +
		"connect-src 'self'" + joinSources(append(origins, connect...)) + "; " +
		"frame-src data:; " +
		"frame-ancestors 'none'"
}

// joinSources renders sources as " a b", dropping repeats.
func joinSources(sources []string) string {
	var b strings.Builder
	seen := make(map[string]bool)
	for _, src := range sources {
		if !seen[src] {
			seen[src] = true
			b.WriteString(" " + src)
		}
	}
	return b.String()
}

// Close releases the server's background resources. The store is owned by
// the caller.
func (s *Server) Close() error {
	s.srcCache.Stop()
	s.hub.Close()
	return s.StopWatch()
}

// mdToPattern converts a markdown file path to a URL pattern.
// Examples:
//   - "index.md" → "/"
//   - "pipelines.md" → "/pipelines"
//   - "advanced/intro.md" → "/advanced/intro"
//   - "advanced/index.md" → "/advanced/"
func mdToPattern(relPath string) string {
	path := strings.TrimSuffix(relPath, ".md")
	path = filepath.ToSlash(path)

	if path == "index" {
		return "/"
	}
	if strings.HasSuffix(path, "/index") {
		return "/" + strings.TrimSuffix(path, "index")
	}

	return "/" + path
}

// sortRoutes sorts routes with index routes first.
func sortRoutes(routes []*Route) {
	// Simple sort: / first, then /foo/, then /foo
	for i := 0; i < len(routes); i++ {
		for j := i + 1; j < len(routes); j++ {
			if shouldSwap(routes[i], routes[j]) {
				routes[i], routes[j] = routes[j], routes[i]
			}
		}
	}
}

func shouldSwap(a, b *Route) bool {
	// Root path comes first
	if a.Pattern == "/" {
		return false
	}
	if b.Pattern == "/" {
		return true
	}

	// Directory index paths come before other paths
	aIsIndex := strings.HasSuffix(a.Pattern, "/")
	bIsIndex := strings.HasSuffix(b.Pattern, "/")

	if aIsIndex && !bIsIndex {
		return false
	}
	if !aIsIndex && bIsIndex {
		return true
	}

	// Alphabetical otherwise
	return a.Pattern > b.Pattern
}

// EnableWatch enables file watching for live reload.
func (s *Server) EnableWatch() error {
	watcher, err := NewWatcher(s.rootDir, func(filePath string) error {
		if err := s.Discover(); err != nil {
			return fmt.Errorf("failed to re-discover pages: %w", err)
		}
		page := ""
		if filepath.Ext(filePath) == ".md" {
			page = mdToPattern(filePath)
		}
		s.hub.BroadcastReload(page)
		return nil
	}, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	s.watcher = watcher
	s.watcher.Start()

	s.logger.Info("file watcher started", zap.String("dir", s.rootDir))
	return nil
}

// StopWatch stops the file watcher if it's running.
func (s *Server) StopWatch() error {
	if s.watcher != nil {
		w := s.watcher
		s.watcher = nil
		return w.Stop()
	}
	return nil
}
