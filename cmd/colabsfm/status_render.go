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

const ansiReset = "\x1b[0m"

var statusStyles = map[statusKind]struct{ label, color string }{
	statusInfo:  {"INFO", "\x1b[34m"},
	statusOK:    {"OK", "\x1b[32m"},
	statusWarn:  {"WARN", "\x1b[33m"},
	statusError: {"ERROR", "\x1b[31m"},
}

const statusLabelWidth = 16

// statusSheet accumulates the lines of a status report.
type statusSheet struct {
	colorize bool
	lines    []string
}

func (s *statusSheet) section(title string) {
	if len(s.lines) > 0 {
		s.lines = append(s.lines, "")
	}
	heading := "== " + strings.TrimSpace(title) + " =="
	rule := strings.Repeat("-", len(heading))
	s.lines = append(s.lines, s.paint(statusInfo, heading), s.paint(statusInfo, rule))
}

func (s *statusSheet) line(label string, kind statusKind, message string) {
	text := "[" + statusStyles[kind].label + "]"
	if message != "" {
		text += " " + message
	}
	s.lines = append(s.lines, s.paint(kind, fmt.Sprintf("  %-*s %s", statusLabelWidth, label+":", text)))
}

func (s *statusSheet) paint(kind statusKind, text string) string {
	if !s.colorize {
		return text
	}
	return statusStyles[kind].color + text + ansiReset
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
