package server

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/a-synchronous/tour/internal/config"
	"github.com/a-synchronous/tour/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const pipelinesTour = `---
title: "Pipelines"
---
# Pipelines

` + "```javascript runner id=pipelines-example\n" +
	"const square = x => x ** 2\n" +
	"trace(pipe([square])(3))\n" +
	"```\n"

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		fullPath := filepath.Join(dir, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0755))
		require.NoError(t, os.WriteFile(fullPath, []byte(content), 0644))
	}
}

// newTestServer writes files into a temp dir and discovers them.
func newTestServer(t *testing.T, files map[string]string, cfg *config.Config, opts ...Option) *Server {
	t.Helper()
	dir := t.TempDir()
	writeFiles(t, dir, files)

	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	srv := New(dir, cfg, append([]Option{WithLogger(zap.NewNop())}, opts...)...)
	t.Cleanup(func() { srv.Close() })
	require.NoError(t, srv.Discover())
	return srv
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(data)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

// decodeSrc undoes the sandbox data URI encoding.
func decodeSrc(t *testing.T, src string) string {
	t.Helper()
	const prefix = "data:text/html;charset=utf-8,"
	require.True(t, strings.HasPrefix(src, prefix), "src = %.60q", src)
	html, err := url.PathUnescape(strings.TrimPrefix(src, prefix))
	require.NoError(t, err)
	return html
}

func TestMdToPattern(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"index.md", "/"},
		{"pipelines.md", "/pipelines"},
		{"advanced/intro.md", "/advanced/intro"},
		{"advanced/index.md", "/advanced/"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := mdToPattern(tt.input)
			if got != tt.want {
				t.Errorf("mdToPattern(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSortRoutes(t *testing.T) {
	routes := []*Route{
		{Pattern: "/pipelines"},
		{Pattern: "/"},
		{Pattern: "/advanced/intro"},
		{Pattern: "/advanced/"},
		{Pattern: "/control-flow"},
	}

	sortRoutes(routes)

	var got []string
	for _, r := range routes {
		got = append(got, r.Pattern)
	}
	assert.Equal(t, []string{"/", "/advanced/", "/advanced/intro", "/control-flow", "/pipelines"}, got)
}

func TestServerDiscover(t *testing.T) {
	srv := newTestServer(t, map[string]string{
		"index.md":            "# Home",
		"pipelines.md":        pipelinesTour,
		"advanced/intro.md":   "# Introduction",
		"_partials/header.md": "# skipped: underscore dir",
		"_notes.md":           "# skipped: underscore file",
		"drafts/wip.md":       "# skipped: ignore pattern",
		".hidden/secret.md":   "# skipped: hidden dir",
		"broken.md":           "```js runner id=a\n1\n```\n\n```js runner id=a\n2\n```\n",
		"local-lib.md":        "---\nlibrary: http://127.0.0.1/rubico.js\n---\n# bad library",
		"README.txt":          "not markdown",
	}, nil)

	var patterns []string
	for _, r := range srv.Routes() {
		patterns = append(patterns, r.Pattern)
	}
	assert.Equal(t, []string{"/", "/advanced/intro", "/pipelines"}, patterns)

	r := srv.route("/pipelines")
	require.NotNil(t, r)
	assert.Equal(t, "pipelines", r.PageID())
	require.Len(t, r.Page.Runners, 1)
	assert.Equal(t, "pipelines-example", r.Page.Runners[0].ID)

	assert.Equal(t, "advanced/intro", srv.route("/advanced/intro").PageID())
}

func TestServerServePage(t *testing.T) {
	srv := newTestServer(t, map[string]string{"index.md": pipelinesTour}, nil)

	w := get(srv, "/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))

	body := w.Body.String()
	for _, want := range []string{
		"<!DOCTYPE html>",
		"<title>Pipelines</title>",
		`<h1 id="pipelines">Pipelines</h1>`,
		`data-tour-mount="pipelines-example"`,
		`data-runner-id="pipelines-example"`,
		`<meta name="tour-sandbox-endpoint" content="/sandbox"/>`,
		`/codemirror.min.js`,
		`/mode/javascript/javascript.min.js`,
		`<script src="/assets/tour-client.js" defer="">`,
		"const square = x =&gt; x ** 2",
	} {
		assert.Contains(t, body, want)
	}
	// Sharing and live reload are off by default.
	assert.NotContains(t, body, "tour-share-endpoint")
	assert.NotContains(t, body, "tour-ws-url")

	csp := w.Header().Get("Content-Security-Policy")
	assert.Contains(t, csp, "frame-src data:")
	assert.Contains(t, csp, "https://unpkg.com")
	assert.Contains(t, csp, "https://cdnjs.cloudflare.com")
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

// cspDirective returns the sources of one Content-Security-Policy directive.
func cspDirective(t *testing.T, csp, name string) []string {
	t.Helper()
	for _, d := range strings.Split(csp, ";") {
		fields := strings.Fields(d)
		if len(fields) > 0 && fields[0] == name {
			return fields[1:]
		}
	}
	t.Fatalf("no %s in %q", name, csp)
	return nil
}

func TestCSPAllowsTourFetches(t *testing.T) {
	cfg, err := config.LoadFromDir("../../examples/rubico")
	require.NoError(t, err)
	srv := New("../../examples/rubico", cfg, WithLogger(zap.NewNop()))
	t.Cleanup(func() { srv.Close() })
	require.NoError(t, srv.Discover())

	w := get(srv, "/")
	require.Equal(t, http.StatusOK, w.Code)
	// The a-synchrony lesson fetches from jsonplaceholder inside a data:
	// frame, which runs under this page's policy.
	require.Contains(t, w.Body.String(), "https://jsonplaceholder.typicode.com/todos/")

	connect := cspDirective(t, w.Header().Get("Content-Security-Policy"), "connect-src")
	assert.Contains(t, connect, "'self'")
	assert.Contains(t, connect, "https:")
	assert.Equal(t, []string{"data:"}, cspDirective(t, w.Header().Get("Content-Security-Policy"), "frame-src"))
}

func TestCSPConnectSources(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Sandbox.ConnectSrc = []string{"https://jsonplaceholder.typicode.com/todos", "wss:", "javascript:alert(1)"}
	srv := newTestServer(t, map[string]string{"index.md": pipelinesTour}, cfg)

	connect := cspDirective(t, get(srv, "/").Header().Get("Content-Security-Policy"), "connect-src")
	assert.Contains(t, connect, "https://jsonplaceholder.typicode.com")
	assert.Contains(t, connect, "wss:")
	assert.NotContains(t, connect, "https:")
	for _, src := range connect {
		assert.NotContains(t, src, "javascript")
	}
}

func TestServerPageTitleFallsBackToConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Title = "Site title"
	srv := newTestServer(t, map[string]string{"index.md": "# No frontmatter"}, cfg)

	assert.Contains(t, get(srv, "/").Body.String(), "<title>Site title</title>")
}

func TestServerNotFound(t *testing.T) {
	srv := newTestServer(t, map[string]string{"index.md": "# Home"}, nil)

	assert.Equal(t, http.StatusNotFound, get(srv, "/nonexistent").Code)
}

func TestRunEndpoint(t *testing.T) {
	srv := newTestServer(t, map[string]string{"index.md": pipelinesTour}, nil)

	code := "trace([1, 2, 3].map(x => x * 2))"
	w := postJSON(t, srv, "/sandbox", map[string]string{"code": code, "mode": "javascript"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp runResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	html := decodeSrc(t, resp.Src)
	assert.Contains(t, html, code)
	assert.Contains(t, html, "import('https://unpkg.com/rubico')")
	assert.Contains(t, html, "const trace = tap(console.log)")

	// A second identical run is served from the cache.
	w2 := postJSON(t, srv, "/sandbox", map[string]string{"code": code, "mode": "javascript"})
	require.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, w.Body.String(), w2.Body.String())
	assert.Equal(t, 1, srv.srcCache.Len())
}

func TestRunEndpointEmptyCode(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	w := postJSON(t, srv, "/sandbox", map[string]string{"code": ""})
	require.Equal(t, http.StatusOK, w.Code)

	var resp runResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, decodeSrc(t, resp.Src), "<script>")
}

func TestRunEndpointPageLibrary(t *testing.T) {
	srv := newTestServer(t, map[string]string{
		"plain.md": "---\nlibrary: \"\"\n---\n# Plain JS\n",
	}, nil)

	w := postJSON(t, srv, "/sandbox", map[string]string{"code": "trace(1)", "page": "/plain"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp runResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	html := decodeSrc(t, resp.Src)
	assert.NotContains(t, html, "import(")
	assert.Contains(t, html, "(function () {")
}

func TestRunEndpointErrors(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Sandbox.MaxCode = 16
	srv := newTestServer(t, nil, cfg)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", "{", http.StatusBadRequest},
		{"wrong type", `{"code": 1}`, http.StatusBadRequest},
		{"too large", `{"code": "` + strings.Repeat("x", 17) + `"}`, http.StatusRequestEntityTooLarge},
		{"body over limit", `{"code": "` + strings.Repeat("x", 4096) + `"}`, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/sandbox", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			var errResp map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
			assert.NotEmpty(t, errResp["error"])
		})
	}
}

func TestBlockSandbox(t *testing.T) {
	srv := newTestServer(t, map[string]string{
		"index.md":          pipelinesTour,
		"advanced/intro.md": "```javascript runner id=first\ntrace('deep')\n```\n",
	}, nil)

	w := get(srv, "/sandbox/index/pipelines-example")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sandbox allow-scripts", w.Header().Get("Content-Security-Policy"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "<html><body><script>"), w.Body.String())
	assert.Contains(t, w.Body.String(), "const square = x => x ** 2")

	w = get(srv, "/sandbox/advanced/intro/first")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "trace('deep')")

	for _, path := range []string{
		"/sandbox/index/missing",
		"/sandbox/nope/pipelines-example",
		"/sandbox/index/",
		"/sandbox/index",
	} {
		assert.Equal(t, http.StatusNotFound, get(srv, path).Code, path)
	}
}

func TestShareEndpoints(t *testing.T) {
	st, err := store.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	defer st.Close()

	srv := newTestServer(t, map[string]string{"index.md": pipelinesTour}, nil, WithStore(st))

	w := postJSON(t, srv, "/share", map[string]string{"code": "trace('shared')", "mode": "javascript"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created shareResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	w = get(srv, "/share/"+created.ID)
	require.Equal(t, http.StatusOK, w.Code)
	var snip store.Snippet
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snip))
	assert.Equal(t, "trace('shared')", snip.Code)
	assert.Equal(t, "javascript", snip.Mode)

	assert.Equal(t, http.StatusNotFound, get(srv, "/share/00000000-0000-0000-0000-000000000000").Code)

	// The page advertises the share endpoint.
	assert.Contains(t, get(srv, "/").Body.String(), `<meta name="tour-share-endpoint" content="/share"/>`)
}

func TestShareDisabled(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	w := postJSON(t, srv, "/share", map[string]string{"code": "1"})
	assert.NotEqual(t, http.StatusCreated, w.Code)
	assert.Equal(t, http.StatusNotFound, get(srv, "/share/abc").Code)
}

func TestAssets(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	w := get(srv, "/assets/tour-client.js")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "javascript")
	assert.Contains(t, w.Body.String(), "tour-sandbox-endpoint")

	w = get(srv, "/assets/tour-client.css")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/css")

	assert.Equal(t, http.StatusNotFound, get(srv, "/assets/missing.js").Code)
}

func TestCompression(t *testing.T) {
	srv := newTestServer(t, map[string]string{"index.md": pipelinesTour}, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	assert.Contains(t, w.Header().Values("Vary"), "Accept-Encoding")

	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Contains(t, string(body), "<!DOCTYPE html>")
}

func TestHandlerRateLimitsRuns(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimit.RequestsPerSecond = 0.001
	cfg.RateLimit.Burst = 1
	srv := newTestServer(t, map[string]string{"index.md": pipelinesTour}, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	h, done := srv.Handler(ctx)
	t.Cleanup(func() {
		cancel()
		<-done
	})

	assert.Equal(t, http.StatusOK, postJSON(t, h, "/sandbox", map[string]string{"code": "1"}).Code)
	assert.Equal(t, http.StatusTooManyRequests, postJSON(t, h, "/sandbox", map[string]string{"code": "2"}).Code)

	// Pages are not rate limited.
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, get(h, "/").Code)
	}
}

// dialReload opens a live reload connection and waits until the hub has
// registered it.
func dialReload(t *testing.T, srv *Server, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + WSPath
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return srv.hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readReload(t *testing.T, conn *websocket.Conn) ReloadMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg ReloadMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestLiveReloadBroadcast(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Features.HotReload = true
	srv := newTestServer(t, map[string]string{"index.md": pipelinesTour}, cfg)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	assert.Contains(t, get(srv, "/").Body.String(), `<meta name="tour-ws-url" content="/ws"/>`)

	conn := dialReload(t, srv, ts)
	srv.hub.BroadcastReload("/pipelines")

	assert.Equal(t, ReloadMessage{Type: "reload", Page: "/pipelines"}, readReload(t, conn))
}

func TestLiveReloadRejectsForeignOrigin(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Features.HotReload = true
	srv := newTestServer(t, nil, cfg)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + WSPath
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWatchRediscoversAndReloads(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Features.HotReload = true
	srv := newTestServer(t, map[string]string{"index.md": "# Home"}, cfg)
	require.NoError(t, srv.EnableWatch())

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	conn := dialReload(t, srv, ts)

	writeFiles(t, srv.rootDir, map[string]string{"pipelines.md": pipelinesTour})

	assert.Equal(t, ReloadMessage{Type: "reload", Page: "/pipelines"}, readReload(t, conn))
	assert.NotNil(t, srv.route("/pipelines"))
}

func TestCloseIsIdempotent(t *testing.T) {
	srv := New(t.TempDir(), nil)
	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())
}
