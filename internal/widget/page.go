package widget

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/a-synchronous/tour/internal/dom"
)

// MountAttr marks the element a runner is appended to.
const MountAttr = "data-tour-mount"

// PageOptions configures the page shell.
type PageOptions struct {
	Title  string
	Editor Options
	// EditorCDN is the base URL of the editor distribution.
	EditorCDN string
	// SandboxEndpoint receives run requests from the client.
	SandboxEndpoint string
	// ShareEndpoint enables the share control when non-empty.
	ShareEndpoint string
	// LiveReloadURL enables reload on file changes when non-empty.
	LiveReloadURL string
	// AssetPrefix is where the client script and stylesheet are served.
	AssetPrefix string
}

// RenderPage assembles a full tour page: prose HTML with every runner
// appended to its mount point, plus the editor and client assets.
func RenderPage(opts PageOptions, prose string, runners []Runner) (string, error) {
	nodes, err := dom.ParseFragment(strings.NewReader(prose))
	if err != nil {
		return "", fmt.Errorf("failed to parse page content: %w", err)
	}

	content := dom.E("main")(nodes)
	dom.SetAttr(content, "class", "tour-content")

	mounts := findMounts(content)
	for _, r := range runners {
		parent, ok := mounts[r.ID]
		if !ok {
			parent = dom.Div()
			dom.SetAttr(parent, "id", r.ID)
			dom.SetAttr(parent, MountAttr, r.ID)
			dom.Append(content, parent)
		}
		AppendCodeRunner(parent, CodeRunner(opts.Editor, r))
	}

	root := dom.HTML(head(opts, runners), dom.Body(content))
	dom.SetAttr(root, "lang", "en")
	return dom.Document(root)
}

func findMounts(root *html.Node) map[string]*html.Node {
	mounts := make(map[string]*html.Node)
	dom.Walk(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		if id, ok := dom.Attr(n, MountAttr); ok {
			if _, seen := mounts[id]; !seen {
				mounts[id] = n
			}
		}
		return true
	})
	return mounts
}

func head(opts PageOptions, runners []Runner) *html.Node {
	h := dom.Head(
		dom.SetAttr(dom.Meta(), "charset", "utf-8"),
		meta("viewport", "width=device-width, initial-scale=1.0"),
		dom.Title(opts.Title),
		meta("tour-sandbox-endpoint", opts.SandboxEndpoint),
	)
	if opts.ShareEndpoint != "" {
		dom.Append(h, meta("tour-share-endpoint", opts.ShareEndpoint))
	}
	if opts.LiveReloadURL != "" {
		dom.Append(h, meta("tour-ws-url", opts.LiveReloadURL))
	}

	cdn := strings.TrimSuffix(opts.EditorCDN, "/")
	if cdn != "" {
		dom.Append(h,
			stylesheet(cdn+"/codemirror.min.css"),
			script(cdn+"/codemirror.min.js", false),
		)
		for _, mode := range modes(runners) {
			dom.Append(h, script(fmt.Sprintf("%s/mode/%s/%s.min.js", cdn, mode, mode), false))
		}
	}

	prefix := strings.TrimSuffix(opts.AssetPrefix, "/")
	dom.Append(h,
		stylesheet(prefix+"/tour-client.css"),
		script(prefix+"/tour-client.js", true),
	)
	return h
}

// modes returns the distinct editor modes in first-use order.
func modes(runners []Runner) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range runners {
		if r.Mode == "" || seen[r.Mode] {
			continue
		}
		seen[r.Mode] = true
		out = append(out, r.Mode)
	}
	return out
}

func meta(name, content string) *html.Node {
	m := dom.Meta()
	dom.SetAttr(m, "name", name)
	dom.SetAttr(m, "content", content)
	return m
}

func stylesheet(href string) *html.Node {
	l := dom.Link()
	dom.SetAttr(l, "rel", "stylesheet")
	dom.SetAttr(l, "href", href)
	return l
}

func script(src string, deferred bool) *html.Node {
	s := dom.Script()
	dom.SetAttr(s, "src", src)
	if deferred {
		dom.SetAttr(s, "defer", "")
	}
	return s
}
