package tour

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ParseFile parses a markdown file and creates a Page.
func ParseFile(path string) (*Page, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	page, err := parse(content, strings.TrimSuffix(filepath.Base(path), ".md"), absPath)
	if err != nil {
		return nil, err
	}
	page.SourceFile = absPath
	return page, nil
}

// ParseString parses markdown content from a string and creates a Page.
func ParseString(content string) (*Page, error) {
	page, err := parse([]byte(content), "inline", "inline")
	if err != nil {
		return nil, err
	}
	if page.Title == "" {
		page.Title = "Tour"
	}
	page.SourceFile = "inline"
	return page, nil
}

func parse(content []byte, id, sourceFile string) (*Page, error) {
	fm, codeBlocks, staticHTML, err := ParseMarkdown(content)
	if err != nil {
		var be *blockError
		if errors.As(err, &be) {
			return nil, NewParseError(sourceFile, be.line, be.msg).WithHint(be.hint)
		}
		return nil, NewParseError(sourceFile, 1, fmt.Sprintf("Failed to parse markdown: %v", err))
	}

	page := New(id)
	page.Title = fm.Title
	page.Mode = fm.Mode
	page.Library = fm.Library
	page.StaticHTML = staticHTML
	page.buildRunners(codeBlocks)
	return page, nil
}

// buildRunners converts parsed code blocks into runners, in page order.
func (p *Page) buildRunners(codeBlocks []*CodeBlock) {
	p.Runners = make([]*Runner, 0, len(codeBlocks))
	for _, cb := range codeBlocks {
		p.Runners = append(p.Runners, &Runner{
			ID:       cb.Metadata["id"],
			Mode:     cb.Language,
			Code:     cb.Content,
			Line:     cb.Line,
			Metadata: cb.Metadata,
		})
	}
}
