// Package render formats command output for the setscout CLI.
//
// A TTY defaults to table output and anything else to json; --format
// always wins. --no-color affects table headers only.
//
// Table mode flattens embedded structs into their parent. A record's
// scalar fields print as "name: value" lines; its map fields and slices
// of records follow as titled sections, so `inspect session` shows the
// matched decisions under the session summary.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

var headerStyle = lipgloss.NewStyle().Bold(true)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string. The empty string means "pick by
// terminal".
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(s))
	switch f {
	case FormatJSON, FormatTable, FormatYAML, "":
		return f, nil
	}
	return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
}

// Renderer writes command results in one format.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer creates a renderer from the --format and --no-color flags.
// Output goes to the app's writer.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}

	var out io.Writer = os.Stdout
	if c.App != nil && c.App.Writer != nil {
		out = c.App.Writer
	}
	if format == "" {
		format = FormatJSON
		if f, ok := out.(*os.File); ok && isTTY(f) {
			format = FormatTable
		}
	}
	return NewRendererWithWriter(format, c.Bool("no-color"), out), nil
}

// NewRendererWithWriter creates a renderer over out.
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{format: format, noColor: noColor, out: out}
}

// Render outputs data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		return r.table(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

func (r *Renderer) table(data any) error {
	v := indirect(reflect.ValueOf(data))
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		return r.rows(r.out, v)
	case reflect.Struct:
		return r.record(v)
	case reflect.Map:
		w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
		writePairs(w, "", v)
		return w.Flush()
	case reflect.Invalid:
		_, err := fmt.Fprintln(r.out, "(no results)")
		return err
	default:
		_, err := fmt.Fprintln(r.out, cell(v))
		return err
	}
}

// section is a record field printed below the record's scalar lines.
type section struct {
	title string
	value reflect.Value
}

func (r *Renderer) record(v reflect.Value) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	var sections []section
	for _, col := range columnsOf(v.Type()) {
		fv := indirect(fieldAt(v, col.index))
		if isSection(fv) {
			sections = append(sections, section{title: col.name, value: fv})
			continue
		}
		fmt.Fprintf(w, "%s:\t%s\n", col.name, cell(fv))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, s := range sections {
		if s.value.Len() == 0 {
			continue
		}
		fmt.Fprintf(r.out, "\n%s\n", r.header(s.title+":"))
		if s.value.Kind() == reflect.Map {
			w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
			writePairs(w, "  ", s.value)
			if err := w.Flush(); err != nil {
				return err
			}
			continue
		}
		if err := r.rows(r.out, s.value); err != nil {
			return err
		}
	}
	return nil
}

// rows prints a slice as a table with one header line.
func (r *Renderer) rows(out io.Writer, v reflect.Value) error {
	if v.Len() == 0 {
		_, err := fmt.Fprintln(out, "(no results)")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	elem := indirectType(v.Type().Elem())
	switch {
	case elem.Kind() == reflect.Struct && elem != timeType:
		cols := columnsOf(elem)
		names := make([]string, len(cols))
		for i, c := range cols {
			names[i] = c.name
		}
		fmt.Fprintln(w, r.header(strings.Join(names, "\t")))
		for i := range v.Len() {
			row := indirect(v.Index(i))
			cells := make([]string, len(cols))
			for j, c := range cols {
				if row.IsValid() {
					cells[j] = cell(fieldAt(row, c.index))
				}
			}
			fmt.Fprintln(w, strings.Join(cells, "\t"))
		}
	case elem.Kind() == reflect.Map:
		keys := sortedKeys(indirect(v.Index(0)))
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = fmt.Sprint(k.Interface())
		}
		fmt.Fprintln(w, r.header(strings.Join(names, "\t")))
		for i := range v.Len() {
			row := indirect(v.Index(i))
			cells := make([]string, len(keys))
			for j, k := range keys {
				if row.IsValid() {
					cells[j] = cell(row.MapIndex(k))
				}
			}
			fmt.Fprintln(w, strings.Join(cells, "\t"))
		}
	default:
		for i := range v.Len() {
			fmt.Fprintln(w, cell(v.Index(i)))
		}
	}
	return w.Flush()
}

func (r *Renderer) header(line string) string {
	if r.noColor {
		return line
	}
	return headerStyle.Render(line)
}

// column is an exported field reachable from a struct, embedded structs
// flattened.
type column struct {
	name  string
	index []int
}

func columnsOf(t reflect.Type) []column {
	var cols []column
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, skip := fieldName(f)
		if skip {
			continue
		}
		ft := indirectType(f.Type)
		if f.Anonymous && ft.Kind() == reflect.Struct && !hasJSONName(f) {
			for _, c := range columnsOf(ft) {
				cols = append(cols, column{name: c.name, index: append([]int{i}, c.index...)})
			}
			continue
		}
		cols = append(cols, column{name: name, index: []int{i}})
	}
	return cols
}

// fieldName is the json tag name, or the lowercased field name.
func fieldName(f reflect.StructField) (string, bool) {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return "", true
	case "":
		return strings.ToLower(f.Name), false
	}
	return name, false
}

func hasJSONName(f reflect.StructField) bool {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	return name != "" && name != "-"
}

// isSection reports whether a field prints as its own block.
func isSection(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Map:
		return true
	case reflect.Slice, reflect.Array:
		elem := indirectType(v.Type().Elem())
		return elem.Kind() == reflect.Struct && elem != timeType
	}
	return false
}

func writePairs(w io.Writer, indent string, m reflect.Value) {
	for _, k := range sortedKeys(m) {
		fmt.Fprintf(w, "%s%s:\t%s\n", indent, fmt.Sprint(k.Interface()), cell(m.MapIndex(k)))
	}
}

var (
	timeType     = reflect.TypeFor[time.Time]()
	durationType = reflect.TypeFor[time.Duration]()
	stringerType = reflect.TypeFor[fmt.Stringer]()
)

// cell formats one value for a table cell.
func cell(v reflect.Value) string {
	v = indirect(v)
	if !v.IsValid() || !v.CanInterface() {
		return ""
	}

	switch v.Type() {
	case timeType:
		t := v.Interface().(time.Time)
		if t.IsZero() {
			return ""
		}
		return t.Format(time.RFC3339)
	case durationType:
		return v.Interface().(time.Duration).String()
	}

	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64)
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		return "{...}"
	}
	if v.Type().Implements(stringerType) {
		return v.Interface().(fmt.Stringer).String()
	}
	return fmt.Sprint(v.Interface())
}

// fieldAt is FieldByIndex that yields an invalid value through nil
// embedded pointers.
func fieldAt(v reflect.Value, index []int) reflect.Value {
	f, err := v.FieldByIndexErr(index)
	if err != nil {
		return reflect.Value{}
	}
	return f
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func indirectType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// sortedKeys returns map keys ordered by their printed form.
func sortedKeys(v reflect.Value) []reflect.Value {
	if !v.IsValid() || v.Kind() != reflect.Map {
		return nil
	}
	keys := v.MapKeys()
	slices.SortFunc(keys, func(a, b reflect.Value) int {
		return strings.Compare(fmt.Sprint(a.Interface()), fmt.Sprint(b.Interface()))
	})
	return keys
}

// isTTY reports whether f is a terminal.
func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
