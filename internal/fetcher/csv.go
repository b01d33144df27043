// Package fetcher reads tabular rows out of delimited text and spreadsheets
// for bulk line imports.
package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	HasHeader  bool // if true, the first non-blank row is dropped
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
	SkipBlank  bool // drop rows whose fields are all empty after trimming
}

// ImportCSVOptions is the configuration used for pasted bulk-import text.
// Quoting is strict; ReadCSVLines falls back to a plain split for lines that
// do not parse.
func ImportCSVOptions() CSVOptions {
	return CSVOptions{TrimSpace: true, SkipBlank: true}
}

// StreamCSV parses r and sends rows to a channel. Rows may have a variable
// number of fields. Both channels are closed when parsing completes; at most
// one error is sent.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		reader.Comment = opts.Comment
		reader.LazyQuotes = opts.LazyQuotes
		reader.TrimLeadingSpace = opts.TrimSpace
		reader.FieldsPerRecord = -1

		headerPending := opts.HasHeader
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			if opts.TrimSpace {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
			}
			if opts.SkipBlank && blank(record) {
				continue
			}
			if headerPending {
				headerPending = false
				continue
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// ReadCSV collects every row StreamCSV produces.
func ReadCSV(ctx context.Context, r io.Reader, opts CSVOptions) ([][]string, error) {
	rowCh, errCh := StreamCSV(ctx, r, opts)
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return rows, err
	}
	return rows, nil
}

// ReadCSVLines parses text one line at a time, so an unbalanced quote never
// reaches past its own line. A line the CSV reader rejects is split on the
// delimiter as is.
func ReadCSVLines(ctx context.Context, text string, opts CSVOptions) ([][]string, error) {
	delim := opts.Delimiter
	if delim == 0 {
		delim = ','
	}
	lineOpts := opts
	lineOpts.HasHeader = false

	var rows [][]string
	headerPending := opts.HasHeader
	for _, line := range strings.Split(text, "\n") {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "csv: context cancelled")
		}
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if opts.Comment != 0 && strings.HasPrefix(strings.TrimSpace(line), string(opts.Comment)) {
			continue
		}

		records, err := ReadCSV(ctx, strings.NewReader(line), lineOpts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "csv: context cancelled")
			}
			records = [][]string{splitFields(line, delim, opts.TrimSpace)}
		}
		for _, record := range records {
			if opts.SkipBlank && blank(record) {
				continue
			}
			if headerPending {
				headerPending = false
				continue
			}
			rows = append(rows, record)
		}
	}
	return rows, nil
}

func splitFields(line string, delim rune, trim bool) []string {
	fields := strings.Split(line, string(delim))
	if trim {
		for i, f := range fields {
			fields[i] = strings.TrimSpace(f)
		}
	}
	return fields
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
