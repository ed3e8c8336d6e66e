// Package tour parses markdown tours: prose with editable, runnable code
// snippets that execute in a sandboxed iframe.
package tour

// DefaultMode is the editor mode for runner blocks that name no language.
const DefaultMode = "javascript"

// Page represents a parsed tour page.
type Page struct {
	ID         string
	Title      string
	SourceFile string // Absolute path to source .md file (for error messages)
	Mode       string // Default editor mode for the page
	// Library overrides the sandbox library URL. nil keeps the site default,
	// an empty string runs snippets without importing a library.
	Library    *string
	StaticHTML string
	Runners    []*Runner
}

// Runner is an editable snippet with a run control.
type Runner struct {
	ID       string
	Mode     string
	Code     string
	Line     int // Line of the opening fence in the source file
	Metadata map[string]string
}

// New creates an empty page with the given ID.
func New(id string) *Page {
	return &Page{
		ID:   id,
		Mode: DefaultMode,
	}
}

// Runner returns the runner with the given ID, or nil.
func (p *Page) Runner(id string) *Runner {
	for _, r := range p.Runners {
		if r.ID == id {
			return r
		}
	}
	return nil
}
