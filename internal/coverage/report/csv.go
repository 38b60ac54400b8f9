package report

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/coral-mesh/jitcov/internal/safe"
)

// DefaultPath is the report file written in the working directory.
const DefaultPath = "coverage.csv"

// maxReportSize bounds the report files ReadCSV accepts.
const maxReportSize = 256 << 20

// CSVFile writes one "module,type,method,count" line per row, replacing the
// previous file. Names are written verbatim: a name containing a comma
// yields an ambiguous line.
type CSVFile struct {
	Path string
}

// Name implements Sink.
func (c CSVFile) Name() string { return "csv" }

func (c CSVFile) path() string {
	if c.Path == "" {
		return DefaultPath
	}
	return c.Path
}

// Write implements Sink.
func (c CSVFile) Write(_ context.Context, _ Run, rows []Row) error {
	return safe.WriteFile(c.path(), 0o644, func(w io.Writer) error {
		return WriteCSV(w, rows)
	})
}

// WriteCSV writes rows in report file format.
func WriteCSV(w io.Writer, rows []Row) error {
	bw := bufio.NewWriter(w)
	for _, r := range rows {
		bw.WriteString(r.Module)
		bw.WriteByte(',')
		bw.WriteString(r.Type)
		bw.WriteByte(',')
		bw.WriteString(r.Method)
		bw.WriteByte(',')
		bw.WriteString(strconv.FormatUint(r.Invocations, 10))
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// ReadCSV parses a report file.
func ReadCSV(path string) ([]Row, error) {
	data, err := safe.ReadFile(path, &safe.ReadOptions{MaxSize: maxReportSize})
	if err != nil {
		return nil, err
	}
	return ParseCSV(bytes.NewReader(data))
}

// ParseCSV parses report lines. Blank lines are ignored; a line that does
// not have exactly four fields is rejected.
func ParseCSV(r io.Reader) ([]Row, error) {
	var rows []Row
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 4 {
			return nil, fmt.Errorf("line %d: want 4 fields, got %d", n, len(fields))
		}
		count, err := strconv.ParseUint(fields[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: count: %w", n, err)
		}
		rows = append(rows, Row{Module: fields[0], Type: fields[1], Method: fields[2], Invocations: count})
	}
	return rows, sc.Err()
}
