package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

type colKind int

const (
	colText colKind = iota
	colReal
	colInt
	colDateTime
	colDate
)

// txnSchema lists the transactions table columns in insert order with the
// conversion each CSV value needs.
var txnSchema = []struct {
	name string
	kind colKind
}{
	{"trans_date_trans_time", colDateTime},
	{"cc_num", colText},
	{"merchant", colText},
	{"category", colText},
	{"amt", colReal},
	{"first", colText},
	{"last", colText},
	{"gender", colText},
	{"street", colText},
	{"city", colText},
	{"state", colText},
	{"zip", colText},
	{"lat", colReal},
	{"long", colReal},
	{"city_pop", colInt},
	{"job", colText},
	{"dob", colDate},
	{"trans_num", colText},
	{"unix_time", colInt},
	{"merch_lat", colReal},
	{"merch_long", colReal},
	{"is_fraud", colInt},
}

// loadBatchSize is the number of rows committed per transaction while loading.
const loadBatchSize = 50000

// CountTransactions returns the number of rows in the transactions table.
func (s *Store) CountTransactions() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM transactions").Scan(&n)
	return n, err
}

// LoadTransactionsCSV streams the CSV at path into the transactions table in
// batches. Columns the table doesn't know (exporter leftovers like
// "Unnamed: 0") are dropped, timestamps are normalized, and is_fraud is
// coerced to an integer. onBatch, when non-nil, receives the cumulative row
// count after each committed batch. Returns the total number of rows loaded.
func (s *Store) LoadTransactionsCSV(ctx context.Context, path string, onBatch func(total int)) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("reading csv header: %w", err)
	}

	fieldIdx := make([]int, len(txnSchema))
	for i := range fieldIdx {
		fieldIdx[i] = -1
	}
	for idx, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		for i, col := range txnSchema {
			if name == col.name {
				fieldIdx[i] = idx
				break
			}
		}
	}
	for i, col := range txnSchema {
		if fieldIdx[i] == -1 {
			return 0, fmt.Errorf("csv is missing column %q", col.name)
		}
	}

	names := make([]string, len(txnSchema))
	for i, col := range txnSchema {
		names[i] = col.name
	}
	insertSQL := "INSERT INTO transactions (" + strings.Join(names, ", ") +
		") VALUES (?" + strings.Repeat(", ?", len(names)-1) + ")"

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning load transaction: %w", err)
	}
	stmt, err := tx.Prepare(insertSQL)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("preparing insert: %w", err)
	}

	total := 0
	batch := 0
	args := make([]any, len(txnSchema))
	for rowNum := 2; ; rowNum++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			stmt.Close()
			tx.Rollback()
			return total, fmt.Errorf("reading csv row %d: %w", rowNum, err)
		}

		for i, col := range txnSchema {
			v, err := convertField(record[fieldIdx[i]], col.kind)
			if err != nil {
				stmt.Close()
				tx.Rollback()
				return total, fmt.Errorf("row %d, column %s: %w", rowNum, col.name, err)
			}
			args[i] = v
		}

		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			stmt.Close()
			tx.Rollback()
			return total, fmt.Errorf("inserting row %d: %w", rowNum, err)
		}

		total++
		batch++
		if batch == loadBatchSize {
			stmt.Close()
			if err := tx.Commit(); err != nil {
				return total, fmt.Errorf("committing batch: %w", err)
			}
			if onBatch != nil {
				onBatch(total)
			}
			batch = 0
			if tx, err = s.db.Begin(); err != nil {
				return total, fmt.Errorf("beginning load transaction: %w", err)
			}
			if stmt, err = tx.Prepare(insertSQL); err != nil {
				tx.Rollback()
				return total, fmt.Errorf("preparing insert: %w", err)
			}
		}
	}

	stmt.Close()
	if err := tx.Commit(); err != nil {
		return total, fmt.Errorf("committing batch: %w", err)
	}
	if batch > 0 && onBatch != nil {
		onBatch(total)
	}
	return total, nil
}

func convertField(raw string, kind colKind) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	switch kind {
	case colText:
		return raw, nil
	case colReal:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %q as number: %w", raw, err)
		}
		return v, nil
	case colInt:
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return v, nil
		}
		// Exported integers sometimes arrive as "1.0".
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %q as integer: %w", raw, err)
		}
		return int64(f), nil
	case colDateTime:
		return normalizeTime(raw, dateTimeLayouts, "2006-01-02 15:04:05"), nil
	case colDate:
		return normalizeTime(raw, dateLayouts, "2006-01-02"), nil
	}
	return raw, nil
}

var dateTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"01/02/2006 15:04",
	"1/2/2006 15:04",
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	"01/02/2006",
	"1/2/2006",
}

// normalizeTime reformats raw to the output layout, trying each input layout
// in order. Unparseable values pass through unchanged.
func normalizeTime(raw string, layouts []string, out string) string {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(out)
		}
	}
	return raw
}

// previewRowCap bounds how many rows a generated query returns to callers.
const previewRowCap = 50

// QueryPreview executes a generated SELECT on a connection pinned to
// query-only mode and returns at most previewRowCap rows, each as a
// column-name map. Any write attempt fails at the SQLite level regardless
// of what the statement guard let through.
func (s *Store) QueryPreview(ctx context.Context, query string) ([]map[string]any, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return nil, fmt.Errorf("enabling query_only: %w", err)
	}
	// Reset even when the caller's context is already cancelled; the
	// connection goes back to the pool writable.
	defer conn.ExecContext(context.Background(), "PRAGMA query_only = OFF")

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		if len(out) >= previewRowCap {
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		m := make(map[string]any, len(cols))
		for i, c := range cols {
			v := vals[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			m[c] = v
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
