package database

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// The sync engine reads and writes application records through this
// narrow, storage-agnostic interface: parameterized select/insert/update/
// delete with equality filters, limit/offset and order-by.

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

// SelectOptions filters a record query. All filters are equality matches.
type SelectOptions struct {
	Filters map[string]any
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

// SelectRecords returns matching rows as generic column maps.
func (db *DB) SelectRecords(ctx context.Context, table string, opts SelectOptions) ([]map[string]any, error) {
	if err := validIdentifier(table); err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT * FROM %s", table)

	var args []any
	if len(opts.Filters) > 0 {
		cols := make([]string, 0, len(opts.Filters))
		for col := range opts.Filters {
			cols = append(cols, col)
		}
		sort.Strings(cols)

		clauses := make([]string, 0, len(cols))
		for _, col := range cols {
			if err := validIdentifier(col); err != nil {
				return nil, err
			}
			clauses = append(clauses, col+" = ?")
			args = append(args, opts.Filters[col])
		}
		sb.WriteString(" WHERE " + strings.Join(clauses, " AND "))
	}

	if opts.OrderBy != "" {
		if err := validIdentifier(opts.OrderBy); err != nil {
			return nil, err
		}
		sb.WriteString(" ORDER BY " + opts.OrderBy)
		if opts.Desc {
			sb.WriteString(" DESC")
		}
	}

	if opts.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", opts.Limit)
		if opts.Offset > 0 {
			fmt.Fprintf(&sb, " OFFSET %d", opts.Offset)
		}
	}

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var records []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row from %s: %w", table, err)
		}

		record := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				record[col] = string(b)
			} else {
				record[col] = values[i]
			}
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// GetRecordByID fetches a single record by its id column, nil when absent.
func (db *DB) GetRecordByID(ctx context.Context, table string, id any) (map[string]any, error) {
	records, err := db.SelectRecords(ctx, table, SelectOptions{
		Filters: map[string]any{"id": id},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// InsertRecord inserts one row; column order is deterministic.
func (db *DB) InsertRecord(ctx context.Context, table string, record map[string]any) error {
	if err := validIdentifier(table); err != nil {
		return err
	}
	if len(record) == 0 {
		return fmt.Errorf("insert into %s: empty record", table)
	}

	cols := make([]string, 0, len(record))
	for col := range record {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	placeholders := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for _, col := range cols {
		if err := validIdentifier(col); err != nil {
			return err
		}
		placeholders = append(placeholders, "?")
		args = append(args, record[col])
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

// UpdateRecord applies the given column changes to the row with that id.
func (db *DB) UpdateRecord(ctx context.Context, table string, id any, changes map[string]any) error {
	if err := validIdentifier(table); err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}

	cols := make([]string, 0, len(changes))
	for col := range changes {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for _, col := range cols {
		if err := validIdentifier(col); err != nil {
			return err
		}
		sets = append(sets, col+" = ?")
		args = append(args, changes[col])
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(sets, ", "))
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	return nil
}

// DeleteRecord removes the row with that id.
func (db *DB) DeleteRecord(ctx context.Context, table string, id any) error {
	if err := validIdentifier(table); err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", table)
	if _, err := db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	return nil
}
