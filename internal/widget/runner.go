// Package widget builds the code runner widgets and the tour page around them.
package widget

import (
	"strconv"

	"golang.org/x/net/html"

	"github.com/a-synchronous/tour/internal/dom"
)

// Options configures the editor attached to every runner.
type Options struct {
	Theme        string
	LineNumbers  bool
	LineWrapping bool
}

// DefaultOptions matches the editor setup of the rubico tour.
func DefaultOptions() Options {
	return Options{
		Theme:        "default",
		LineNumbers:  true,
		LineWrapping: true,
	}
}

// Runner is one editable snippet.
type Runner struct {
	ID   string
	Mode string
	Code string
}

// RunButton builds the run control: a grid holding the button, later the
// caret, and later the output frame.
func RunButton() *html.Node {
	btn := dom.Styles(dom.Button("run"),
		"padding", ".25em .75em",
		"border-radius", "2px",
		"cursor", "pointer",
		"height", "2em",
	)
	dom.SetAttr(btn, "type", "button")

	y := dom.Div(btn)
	dom.SetAttr(y, "class", "tour-run")
	return dom.Styles(y,
		"display", "grid",
		"grid-template-columns", "3em 1em auto",
		"height", "10em",
	)
}

// Caret is appended next to the run button on the first click.
func Caret() *html.Node {
	return dom.Styles(dom.Span(" >"),
		"color", "#3f72fc",
		"font-size", ".80em",
		"font-weight", "625",
		"position", "relative",
		"right", "-0.75em",
		"bottom", "-0.65em",
	)
}

// OutputArea is the iframe the sandbox document is loaded into.
func OutputArea() *html.Node {
	ifr := dom.Styles(dom.IFrame(),
		"height", "10em",
		"position", "relative",
		"bottom", "-0.05em",
	)
	dom.SetAttr(ifr, "sandbox", "allow-scripts")
	dom.SetAttr(ifr, "title", "output")
	return ifr
}

// CodeArea hosts the editor. The textarea carries the literal code and is
// what readers without scripts see.
func CodeArea(code string) *html.Node {
	ta := dom.Textarea(code)
	dom.SetAttr(ta, "class", "tour-code")
	dom.SetAttr(ta, "spellcheck", "false")

	area := dom.Div(ta)
	dom.SetAttr(area, "class", "tour-code-area")
	return area
}

// CodeRunner builds div(codeArea, runButton) for r. The caret and the output
// frame ship inside templates so they only enter the document once the run
// control is used.
func CodeRunner(opts Options, r Runner) *html.Node {
	outputTmpl := dom.Template(OutputArea())
	dom.SetAttr(outputTmpl, "class", "tour-output")

	caretTmpl := dom.Template(Caret())
	dom.SetAttr(caretTmpl, "class", "tour-caret")

	y := dom.Div(CodeArea(r.Code), RunButton(), outputTmpl, caretTmpl)
	dom.SetAttr(y, "class", "tour-runner")
	dom.SetAttr(y, "data-runner-id", r.ID)
	dom.SetAttr(y, "data-mode", r.Mode)
	dom.SetAttr(y, "data-theme", opts.Theme)
	dom.SetAttr(y, "data-line-numbers", strconv.FormatBool(opts.LineNumbers))
	dom.SetAttr(y, "data-line-wrapping", strconv.FormatBool(opts.LineWrapping))
	return y
}

// AppendCodeRunner attaches a runner to its mount point.
func AppendCodeRunner(parent, runner *html.Node) {
	dom.Append(parent, runner)
}
