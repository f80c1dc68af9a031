package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/edgeo/drivers/ocp1/ocp1"
)

// OutputFormat represents output format types
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatCSV   OutputFormat = "csv"
	FormatRaw   OutputFormat = "raw"
)

// Formatter handles output formatting
type Formatter struct {
	format OutputFormat
	writer io.Writer
}

// NewFormatter creates a new formatter
func NewFormatter(format string) *Formatter {
	return &Formatter{
		format: OutputFormat(strings.ToLower(format)),
		writer: os.Stdout,
	}
}

// SetWriter sets the output writer
func (f *Formatter) SetWriter(w io.Writer) {
	f.writer = w
}

// Printf formats and prints output
func (f *Formatter) Printf(format string, args ...any) {
	fmt.Fprintf(f.writer, format, args...)
}

// PrintTable prints rows in the selected format. Raw prints the cells
// separated by spaces without a header.
func (f *Formatter) PrintTable(headers []string, rows [][]string) error {
	switch f.format {
	case FormatJSON:
		objs := make([]map[string]string, len(rows))
		for i, row := range rows {
			obj := make(map[string]string, len(headers))
			for j, h := range headers {
				if j < len(row) {
					obj[strings.ToLower(h)] = row[j]
				}
			}
			objs[i] = obj
		}
		return f.printJSON(objs)
	case FormatCSV:
		w := csv.NewWriter(f.writer)
		w.Write(headers)
		w.WriteAll(rows)
		return w.Error()
	case FormatRaw:
		for _, row := range rows {
			fmt.Fprintln(f.writer, strings.Join(row, " "))
		}
		return nil
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for i, h := range headers {
		fmt.Fprintf(f.writer, "%-*s ", widths[i], h)
	}
	fmt.Fprintln(f.writer)
	for i := range headers {
		fmt.Fprint(f.writer, strings.Repeat("-", widths[i]), " ")
	}
	fmt.Fprintln(f.writer)
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(f.writer, "%-*s ", widths[i], cell)
			}
		}
		fmt.Fprintln(f.writer)
	}
	return nil
}

// PrintKeyValue prints key-value pairs in order
func (f *Formatter) PrintKeyValue(pairs map[string]any, order []string) error {
	if f.format == FormatJSON {
		return f.printJSON(pairs)
	}
	maxKeyLen := 0
	for _, key := range order {
		if len(key) > maxKeyLen {
			maxKeyLen = len(key)
		}
	}
	for _, key := range order {
		if val, ok := pairs[key]; ok {
			fmt.Fprintf(f.writer, "%-*s: %v\n", maxKeyLen, key, val)
		}
	}
	return nil
}

func (f *Formatter) printJSON(v any) error {
	enc := json.NewEncoder(f.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// valueEvent is one value of one object at one time
type valueEvent struct {
	Time   time.Time `json:"time"`
	Name   string    `json:"name"`
	ONo    string    `json:"ono"`
	Type   string    `json:"type"`
	Value  any       `json:"value"`
	Change bool      `json:"changed,omitempty"`
}

func newValueEvent(name string, def ocp1.CommandDefinition, v ocp1.Variant) valueEvent {
	e := valueEvent{
		Time:  time.Now(),
		Name:  name,
		ONo:   fmt.Sprintf("0x%08x", def.TargetONo),
		Type:  def.DataType.String(),
		Value: v.Interface(),
	}
	if def.DataType == ocp1.DataTypeDBPosition {
		if x, y, z, err := v.ToPosition(); err == nil {
			e.Value = []float32{x, y, z}
		}
	}
	return e
}

// PrintValue prints a single value
func (f *Formatter) PrintValue(e valueEvent) error {
	switch f.format {
	case FormatJSON:
		return f.printJSON(e)
	case FormatCSV:
		w := csv.NewWriter(f.writer)
		w.Write([]string{"name", "ono", "type", "value"})
		w.Write([]string{e.Name, e.ONo, e.Type, fmt.Sprint(e.Value)})
		w.Flush()
		return w.Error()
	case FormatRaw:
		fmt.Fprintln(f.writer, formatValue(e.Value))
		return nil
	}
	return f.PrintKeyValue(map[string]any{
		"Object": e.Name,
		"ONo":    e.ONo,
		"Type":   e.Type,
		"Value":  formatValue(e.Value),
	}, []string{"Object", "ONo", "Type", "Value"})
}

// PrintEvent prints one line of a value stream
func (f *Formatter) PrintEvent(e valueEvent) {
	switch f.format {
	case FormatJSON:
		data, _ := json.Marshal(e)
		fmt.Fprintln(f.writer, string(data))
	case FormatCSV:
		w := csv.NewWriter(f.writer)
		w.Write([]string{e.Time.Format(time.RFC3339Nano), e.Name, e.ONo, fmt.Sprint(e.Value), fmt.Sprint(e.Change)})
		w.Flush()
	case FormatRaw:
		fmt.Fprintln(f.writer, formatValue(e.Value))
	default:
		marker := " "
		if e.Change {
			marker = "*"
		}
		fmt.Fprintf(f.writer, "[%s] %s %s = %s\n", e.Time.Format("15:04:05.000"), marker, e.Name, formatValue(e.Value))
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "<none>"
	case float32:
		return fmt.Sprintf("%g", val)
	case []float32:
		parts := make([]string, len(val))
		for i, x := range val {
			parts[i] = fmt.Sprintf("%g", x)
		}
		return strings.Join(parts, ", ")
	case []byte:
		return fmt.Sprintf("% x", val)
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}
