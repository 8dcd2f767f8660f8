// Package output renders command results as a table, JSON or YAML.
package output

import (
	"fmt"
	"io"
	"strings"
)

// Format represents the output format type.
type Format string

const (
	// FormatTable outputs data in a formatted table.
	FormatTable Format = "table"
	// FormatJSON outputs data as JSON.
	FormatJSON Format = "json"
	// FormatYAML outputs data as YAML.
	FormatYAML Format = "yaml"
)

// ParseFormat parses a string into a Format, returning an error if invalid.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "table", "":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("invalid output format: %q (valid: table, json, yaml)", s)
	}
}

func (f Format) String() string {
	return string(f)
}

// Printer writes results in one format. Status lines go to a separate
// writer so that stdout stays parseable for json and yaml.
type Printer struct {
	out    io.Writer
	status io.Writer
	format Format
	color  bool
}

// NewPrinter creates a Printer. status may be nil, in which case status
// lines are written to out.
func NewPrinter(out, status io.Writer, format Format, color bool) *Printer {
	if status == nil {
		status = out
	}
	return &Printer{out: out, status: status, format: format, color: color}
}

// Format returns the printer's output format.
func (p *Printer) Format() Format {
	return p.format
}

// Print outputs data in the configured format. Table output needs a
// TableRenderer; anything else falls back to JSON.
func (p *Printer) Print(data any) error {
	switch p.format {
	case FormatTable:
		if renderer, ok := data.(TableRenderer); ok {
			return PrintTable(p.out, renderer)
		}
		return PrintJSON(p.out, data)
	case FormatJSON:
		return PrintJSON(p.out, data)
	case FormatYAML:
		return PrintYAML(p.out, data)
	default:
		return fmt.Errorf("unknown format: %s", p.format)
	}
}

// Pass reports a check that held.
func (p *Printer) Pass(format string, args ...any) {
	p.mark("\033[32m", "PASS", format, args...)
}

// Fail reports a check that did not hold.
func (p *Printer) Fail(format string, args ...any) {
	p.mark("\033[31m", "FAIL", format, args...)
}

// Warning prints a warning line.
func (p *Printer) Warning(format string, args ...any) {
	p.mark("\033[33m", "WARN", format, args...)
}

func (p *Printer) mark(color, tag, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if p.color {
		_, _ = fmt.Fprintf(p.status, "%s%s\033[0m %s\n", color, tag, msg)
		return
	}
	_, _ = fmt.Fprintf(p.status, "%s %s\n", tag, msg)
}
