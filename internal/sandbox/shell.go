package sandbox

import (
	"bytes"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// AnalyzeShell extracts policy match targets from a shell command using the
// shfmt parser: the raw text, every command call rendered back to text, and
// every redirect target. A pattern like "rm *" therefore catches the rm
// buried in "cd /tmp && rm -rf x", and ">secrets" style writes are visible
// to confirm rules.
//
// Unparsable input yields the raw text alone; the policy still sees it.
func AnalyzeShell(command string) []string {
	targets := []string{command}

	parser := syntax.NewParser(syntax.Variant(syntax.LangPOSIX))
	prog, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return targets
	}

	printer := syntax.NewPrinter()
	syntax.Walk(prog, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.CallExpr:
			if len(n.Args) > 0 {
				if text := nodeText(printer, n); text != "" && text != command {
					targets = append(targets, text)
				}
			}
		case *syntax.Redirect:
			if n.Word != nil {
				if text := nodeText(printer, n.Word); text != "" {
					targets = append(targets, text)
				}
			}
		}
		return true
	})
	return targets
}

func nodeText(printer *syntax.Printer, node syntax.Node) string {
	var buf bytes.Buffer
	if err := printer.Print(&buf, node); err != nil {
		return ""
	}
	return strings.TrimRight(buf.String(), "\n")
}
