package datafile

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/xrmlab/go-scan/logger"
)

// Column declares the value labels one detector contributes to each row.
type Column struct {
	Detector string
	Labels   []string
}

// Option customizes a Writer.
type Option func(*Writer)

// WithComments sets a free-form comment block written into the file header.
func WithComments(comments string) Option {
	return func(w *Writer) { w.comments = comments }
}

// WithLogger sets the logger for the Writer. Defaults to the package logger.
func WithLogger(l logger.Logger) Option {
	return func(w *Writer) {
		if l != nil {
			w.log = l
		}
	}
}

// Writer accumulates scan points and flushes them as one ASCII data file.
//
// The writer is append-only: points carry strictly increasing, gap-free
// 1-based indices, and no point may be appended after Finalize.
type Writer struct {
	path      string
	comments  string
	posLabels []string
	columns   []Column
	log       logger.Logger

	points    []Point
	finalized bool
}

// NewWriter creates a writer for the given output path. posLabels name the
// positioner columns; columns declare the per-detector value columns.
func NewWriter(path string, posLabels []string, columns []Column, opts ...Option) *Writer {
	w := &Writer{
		path:      path,
		posLabels: posLabels,
		columns:   columns,
		log:       logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Path returns the output path of the record.
func (w *Writer) Path() string { return w.path }

// Len returns the number of appended points.
func (w *Writer) Len() int { return len(w.points) }

// AppendPoint appends one realized point to the record.
//
// It fails with ErrRecordClosed after Finalize and with ErrPointOrder if the
// point index is not the next in sequence.
func (w *Writer) AppendPoint(p Point) error {
	if w.finalized {
		return ErrRecordClosed
	}
	if p.Index != len(w.points)+1 {
		return fmt.Errorf("%w: got index %d, want %d", ErrPointOrder, p.Index, len(w.points)+1)
	}

	w.points = append(w.points, p)

	return nil
}

// Record returns a snapshot of the accumulated record.
func (w *Writer) Record() Record {
	return Record{
		Name:   w.path,
		Points: append([]Point(nil), w.points...),
	}
}

// Finalize flushes the record to disk atomically and freezes it.
// Calling Finalize on an already finalized record is a no-op.
//
// A partial record, shorter than requested because the run was aborted, is a
// well-formed record.
func (w *Writer) Finalize() error {
	if w.finalized {
		return nil
	}

	if err := renameio.WriteFile(w.path, []byte(w.render()), 0o644); err != nil {
		return fmt.Errorf("finalize record: %w", err)
	}
	w.finalized = true
	w.log.Info("record finalized", "path", w.path, "points", len(w.points))

	return nil
}

// render formats the record as an ASCII table: a commented header followed by
// one row per point.
func (w *Writer) render() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# scan data file: %s\n", w.path)
	fmt.Fprintf(&sb, "# created: %s\n", time.Now().Format(time.RFC3339))
	if w.comments != "" {
		for _, line := range strings.Split(w.comments, "\n") {
			fmt.Fprintf(&sb, "# %s\n", line)
		}
	}
	fmt.Fprintf(&sb, "# points: %d\n", len(w.points))

	sb.WriteString("# index")
	for _, label := range w.posLabels {
		sb.WriteByte(' ')
		sb.WriteString(label)
	}
	for _, col := range w.columns {
		for _, label := range col.Labels {
			sb.WriteByte(' ')
			sb.WriteString(label)
		}
	}
	sb.WriteByte('\n')

	for _, p := range w.points {
		sb.WriteString(strconv.Itoa(p.Index))
		for _, v := range p.Readbacks {
			sb.WriteByte(' ')
			sb.WriteString(formatValue(v))
		}
		for _, col := range w.columns {
			sb.WriteString(renderReading(p, col))
		}
		sb.WriteByte('\n')
	}

	return sb.String()
}

// renderReading renders the values one detector contributes to a row, padding
// failed or missing readings with NaN to keep columns aligned.
func renderReading(p Point, col Column) string {
	var reading *Reading
	for i := range p.Readings {
		if p.Readings[i].Detector == col.Detector {
			reading = &p.Readings[i]
			break
		}
	}

	var sb strings.Builder
	for i := 0; i < len(col.Labels); i++ {
		sb.WriteByte(' ')
		if reading == nil || reading.Err != nil || i >= len(reading.Values) {
			sb.WriteString(formatValue(math.NaN()))
			continue
		}
		sb.WriteString(formatValue(reading.Values[i]))
	}

	return sb.String()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
