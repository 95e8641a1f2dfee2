package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset = "\x1b[0m"
	ansiGreen = "\x1b[32m"
	ansiBlue  = "\x1b[34m"

	statusLabelWidth = 18
	statusIndent     = "  "
)

// statusStyles is indexed by statusKind.
var statusStyles = [...]struct{ tag, color string }{
	statusInfo:  {"INFO", ansiBlue},
	statusOK:    {"OK", ansiGreen},
	statusWarn:  {"WARN", "\x1b[33m"},
	statusError: {"ERROR", "\x1b[31m"},
}

func (k statusKind) style() (tag, color string) {
	if k < 0 || int(k) >= len(statusStyles) {
		k = statusInfo
	}
	s := statusStyles[k]
	return s.tag, s.color
}

// renderStatusLine formats one "  Label:   [TAG] message" row of `info`.
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	tag, color := kind.style()
	line := fmt.Sprintf("%s%-*s [%s]", statusIndent, statusLabelWidth, label+":", tag)
	if message != "" {
		line += " " + message
	}
	return paint(line, color, colorize)
}

func renderSectionHeader(title string, colorize bool) []string {
	title = fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	return []string{
		paint(title, ansiBlue, colorize),
		paint(strings.Repeat("-", len(title)), ansiBlue, colorize),
	}
}

func paint(s, color string, colorize bool) string {
	if !colorize || color == "" {
		return s
	}
	return color + s + ansiReset
}

// shouldColorize reports whether w is an interactive terminal.
func shouldColorize(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
