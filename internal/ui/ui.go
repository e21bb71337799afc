// Package ui renders CLI output: status lines, search results, the
// queue table and the live monitor dashboard. Styled output is used on
// interactive terminals, plain text everywhere else.
package ui

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// IsTTY reports whether w is an interactive terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor honors the NO_COLOR convention.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI reports whether the process runs under a CI system.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}

// Interactive decides whether styled terminal rendering is appropriate
// for w. forcePlain wins over everything.
func Interactive(w io.Writer, forcePlain bool) bool {
	if forcePlain {
		return false
	}
	return IsTTY(w) && !DetectCI()
}
