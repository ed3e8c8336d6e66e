package tour

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
	"gopkg.in/yaml.v3"
)

// Frontmatter represents the YAML frontmatter at the top of a markdown file.
type Frontmatter struct {
	Title   string  `yaml:"title"`
	Mode    string  `yaml:"mode"`    // default editor mode for runner blocks
	Library *string `yaml:"library"` // sandbox library URL, "" for none
}

// CodeBlock represents a runner code block extracted from markdown.
type CodeBlock struct {
	Language string
	Metadata map[string]string // id, etc.
	Content  string
	Line     int // Line number in source file
}

// blockError reports a problem with a specific runner block.
type blockError struct {
	line int
	msg  string
	hint string
}

func (e *blockError) Error() string {
	return fmt.Sprintf("line %d: %s", e.line, e.msg)
}

// runnerAttr carries the runner ID from the parse pass to the renderer.
const runnerAttr = "tour-runner"

var (
	modeRe     = regexp.MustCompile(`^[a-z0-9][a-z0-9+-]*$`)
	runnerIDRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
)

// ParseMarkdown parses a tour and returns its frontmatter, runner blocks and
// the prose rendered to HTML with a mount point where each runner sits.
func ParseMarkdown(content []byte) (*Frontmatter, []*CodeBlock, string, error) {
	content = bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))

	frontmatter, remaining, err := extractFrontmatter(content)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to parse frontmatter: %w", err)
	}

	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			renderer.WithNodeRenderers(util.Prioritized(&mountRenderer{}, 100)),
		),
	)

	doc := md.Parser().Parse(text.NewReader(remaining))
	lineOffset := bytes.Count(content[:len(content)-len(remaining)], []byte("\n"))

	var (
		codeBlocks []*CodeBlock
		nodes      []*ast.FencedCodeBlock
	)
	err = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fenced, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}

		block, parseErr := parseCodeBlock(fenced, remaining, lineOffset)
		if parseErr != nil {
			return ast.WalkStop, parseErr
		}
		if block == nil {
			return ast.WalkContinue, nil
		}

		if block.Language == "" {
			block.Language = frontmatter.Mode
		}
		codeBlocks = append(codeBlocks, block)
		nodes = append(nodes, fenced)
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to walk AST: %w", err)
	}

	if err := assignRunnerIDs(codeBlocks); err != nil {
		return nil, nil, "", err
	}
	for i, block := range codeBlocks {
		nodes[i].SetAttributeString(runnerAttr, block.Metadata["id"])
	}

	var htmlBuf bytes.Buffer
	if err := md.Renderer().Render(&htmlBuf, remaining, doc); err != nil {
		return nil, nil, "", fmt.Errorf("failed to render HTML: %w", err)
	}

	return frontmatter, codeBlocks, htmlBuf.String(), nil
}

// assignRunnerIDs rejects duplicate explicit ids, then numbers the blocks
// without one as runner-N, skipping any N an explicit id already took.
func assignRunnerIDs(blocks []*CodeBlock) error {
	used := make(map[string]int)
	for _, block := range blocks {
		id, ok := block.Metadata["id"]
		if !ok {
			continue
		}
		if first, dup := used[id]; dup {
			return &blockError{
				line: block.Line,
				msg:  fmt.Sprintf("Duplicate runner id %q", id),
				hint: fmt.Sprintf("The id is first used on line %d; runner ids must be unique within a page", first),
			}
		}
		used[id] = block.Line
	}

	for i, block := range blocks {
		if _, ok := block.Metadata["id"]; ok {
			continue
		}
		n := i
		id := fmt.Sprintf("runner-%d", n)
		for _, taken := used[id]; taken; _, taken = used[id] {
			n++
			id = fmt.Sprintf("runner-%d", n)
		}
		block.Metadata["id"] = id
		used[id] = block.Line
	}
	return nil
}

// extractFrontmatter extracts YAML frontmatter from the beginning of content.
// Returns the parsed frontmatter and the remaining content.
func extractFrontmatter(content []byte) (*Frontmatter, []byte, error) {
	if !bytes.HasPrefix(content, []byte("---\n")) {
		return &Frontmatter{Mode: DefaultMode}, content, nil
	}

	endIdx := bytes.Index(content[4:], []byte("\n---\n"))
	if endIdx == -1 {
		return nil, nil, fmt.Errorf("unclosed frontmatter")
	}

	yamlContent := content[4 : 4+endIdx]
	remaining := content[4+endIdx+5:]

	var fm Frontmatter
	if err := yaml.Unmarshal(yamlContent, &fm); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if fm.Mode == "" {
		fm.Mode = DefaultMode
	}
	if !modeRe.MatchString(fm.Mode) {
		return nil, nil, fmt.Errorf("invalid editor mode %q", fm.Mode)
	}

	return &fm, remaining, nil
}

// parseCodeBlock returns the runner described by a fenced block, or nil for
// ordinary code blocks.
// Info string format: "javascript runner id=pipelines-example"
func parseCodeBlock(fenced *ast.FencedCodeBlock, source []byte, lineOffset int) (*CodeBlock, error) {
	if fenced.Info == nil {
		return nil, nil
	}
	parts := strings.Fields(string(fenced.Info.Segment.Value(source)))
	if len(parts) == 0 {
		return nil, nil
	}

	line := lineOffset + bytes.Count(source[:fenced.Info.Segment.Start], []byte("\n")) + 1

	language := parts[0]
	rest := parts[1:]
	if language == "runner" {
		language = ""
		rest = append([]string{"runner"}, rest...)
	}

	isRunner := false
	metadata := make(map[string]string)
	for _, part := range rest {
		if key, value, ok := strings.Cut(part, "="); ok {
			metadata[key] = strings.Trim(value, `"'`)
			continue
		}
		if part == "runner" {
			isRunner = true
		}
	}
	if !isRunner {
		return nil, nil
	}

	if language != "" && !modeRe.MatchString(language) {
		return nil, &blockError{
			line: line,
			msg:  fmt.Sprintf("Invalid editor mode %q", language),
			hint: "Modes are lowercase editor mode names such as javascript or python",
		}
	}
	if id, ok := metadata["id"]; ok && !runnerIDRe.MatchString(id) {
		return nil, &blockError{
			line: line,
			msg:  fmt.Sprintf("Invalid runner id %q", id),
			hint: "Runner ids start with a letter and contain only letters, digits, - and _",
		}
	}

	var buf bytes.Buffer
	lines := fenced.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}

	return &CodeBlock{
		Language: language,
		Metadata: metadata,
		Content:  buf.String(),
		Line:     line,
	}, nil
}

// mountRenderer renders runner blocks as empty mount points and every other
// fenced block as a plain <pre><code>.
type mountRenderer struct{}

func (r *mountRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindFencedCodeBlock, r.renderFencedCodeBlock)
}

func (r *mountRenderer) renderFencedCodeBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.FencedCodeBlock)

	if v, ok := n.AttributeString(runnerAttr); ok {
		id := util.EscapeHTML([]byte(v.(string)))
		_, _ = w.WriteString(`<div id="`)
		_, _ = w.Write(id)
		_, _ = w.WriteString(`" class="tour-example" data-tour-mount="`)
		_, _ = w.Write(id)
		_, _ = w.WriteString("\"></div>\n")
		return ast.WalkContinue, nil
	}

	_, _ = w.WriteString("<pre><code")
	if lang := n.Language(source); lang != nil {
		_, _ = w.WriteString(` class="language-`)
		_, _ = w.Write(util.EscapeHTML(lang))
		_, _ = w.WriteString(`"`)
	}
	_, _ = w.WriteString(">")
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		html.DefaultWriter.RawWrite(w, seg.Value(source))
	}
	_, _ = w.WriteString("</code></pre>\n")
	return ast.WalkContinue, nil
}
