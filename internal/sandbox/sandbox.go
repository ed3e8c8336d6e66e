// Package sandbox turns a code snippet into a self-contained HTML document
// that runs the snippet in an iframe and prints console output into a panel.
package sandbox

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"golang.org/x/net/html"

	"github.com/a-synchronous/tour/internal/dom"
)

// DefaultLibraryURL is the pinned library the tour snippets import.
const DefaultLibraryURL = "https://unpkg.com/rubico"

// DefaultImports are the names destructured from the library global.
var DefaultImports = []string{
	"pipe", "fork", "assign",
	"tap", "tryCatch", "switchCase",
	"map", "filter", "reduce", "transform", "flatMap",
	"any", "all", "and", "or", "not",
	"eq", "gt", "lt", "gte", "lte",
	"get", "pick", "omit",
}

// Template describes how snippets are wrapped.
type Template struct {
	// LibraryURL is imported before the snippet runs. Empty runs the snippet
	// directly with no library in scope.
	LibraryURL string
	// Global is the name the library installs on window.
	Global string
	// Imports are destructured from Global into the snippet's scope.
	Imports []string
	// FontSize applies to the output panel.
	FontSize string
	Encoding Encoding
}

// Default returns the template used by the rubico tour.
func Default() Template {
	return Template{
		LibraryURL: DefaultLibraryURL,
		Global:     "rubico",
		Imports:    append([]string(nil), DefaultImports...),
		FontSize:   "1.25em",
		Encoding:   EncodingURI,
	}
}

var identRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Validate reports configuration that would produce a broken document.
func (t Template) Validate() error {
	switch t.Encoding {
	case EncodingURI, EncodingBase64, "":
	default:
		return fmt.Errorf("unknown sandbox encoding %q (want %q or %q)", t.Encoding, EncodingURI, EncodingBase64)
	}
	if t.LibraryURL == "" {
		return nil
	}
	if !identRe.MatchString(t.Global) {
		return fmt.Errorf("library global %q is not a JavaScript identifier", t.Global)
	}
	for _, name := range t.Imports {
		if !identRe.MatchString(name) {
			return fmt.Errorf("import %q is not a JavaScript identifier", name)
		}
	}
	return nil
}

var sourceTmpl = template.Must(template.New("sandbox").Funcs(template.FuncMap{
	"join":      strings.Join,
	"formatter": func() string { return fmt.Sprintf(formatterSource, typedArrayList()) },
}).Parse(`
{{- if .LibraryURL -}}
import('{{js .LibraryURL}}').then(function () {
{{- else -}}
(function () {
{{- end}}
{{- if and .LibraryURL .Imports}}
  const {
    {{join .Imports ", "}},
  } = {{.Global}}
{{- end}}

  const codeArea = document.createElement('code')
  codeArea.style.fontSize = '{{js .FontSize}}'
  const panel = document.createElement('pre')
  codeArea.appendChild(panel)
  document.body.appendChild(codeArea)

  {{formatter}}

  const console = {
    log: (...msgs) => {
      panel.textContent += msgs.map(fmt).join(' ')
      panel.textContent += '\n'
    },
  }
{{if .HasTap}}
  const trace = tap(console.log)
{{- else}}
  const trace = x => {
    console.log(x)
    return x
  }
{{- end}}

  try {
    {{.Code}}
  } catch (e) {
    console.log(e)
  }
{{if .LibraryURL -}}
}, console.error)
{{- else -}}
})()
{{- end}}
`))

type sourceData struct {
	Template
	Code   string
	HasTap bool
}

var scriptCloseRe = regexp.MustCompile(`(?i)</(script)`)

// Source returns the script text that runs code inside the sandbox.
func (t Template) Source(code string) (string, error) {
	if t.FontSize == "" {
		t.FontSize = "1.25em"
	}
	data := sourceData{
		Template: t,
		Code:     code,
		HasTap:   t.LibraryURL != "" && contains(t.Imports, "tap"),
	}

	var buf bytes.Buffer
	if err := sourceTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render sandbox source: %w", err)
	}

	// A literal </script inside the snippet would end the element early.
	return scriptCloseRe.ReplaceAllString(strings.TrimSpace(buf.String()), `<\/$1`), nil
}

// Script wraps the sandbox source in a script element.
func (t Template) Script(code string) (*html.Node, error) {
	src, err := t.Source(code)
	if err != nil {
		return nil, err
	}
	return dom.Script(src), nil
}

// Document builds html(body(script)) for code.
func (t Template) Document(code string) (*html.Node, error) {
	script, err := t.Script(code)
	if err != nil {
		return nil, err
	}
	return dom.HTML(dom.Body(script)), nil
}

// HTML serializes the sandbox document the way innerHTML of a wrapping div
// would.
func (t Template) HTML(code string) (string, error) {
	doc, err := t.Document(code)
	if err != nil {
		return "", err
	}
	return dom.InnerHTML(dom.Div(doc))
}

// IFrameSrc returns the data URI an iframe navigates to in order to run code.
func (t Template) IFrameSrc(code string) (string, error) {
	doc, err := t.HTML(code)
	if err != nil {
		return "", err
	}
	return DataURI(doc, t.Encoding)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
