package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"slices"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/umputun/disaster-response/app/storage/engine"
	"github.com/umputun/disaster-response/lib/corpus"
)

// DefaultTable is the table of labeled messages produced by the etl step
const DefaultTable = "disaster_messages"

// columns which are not categories
var serviceColumns = []string{"id", "message", "original", "genre"}

// messages-related command constants
const (
	CmdCreateMessagesTable engine.DBCmd = iota + 100
)

var messagesQueries = engine.NewQueryMap().
	Add(CmdCreateMessagesTable, engine.Query{
		Sqlite:   `CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY AUTOINCREMENT, message TEXT NOT NULL, original TEXT, genre TEXT%s)`,
		Postgres: `CREATE TABLE IF NOT EXISTS %s (id SERIAL PRIMARY KEY, message TEXT NOT NULL, original TEXT, genre TEXT%s)`,
	})

// Messages reads labeled messages
type Messages struct {
	db *engine.SQL
}

// Message is a single labeled message, Flags aligned with categories
type Message struct {
	Text     string
	Original string
	Genre    string
	Flags    []int
}

// LoadRequest defines what to load. Empty Table means DefaultTable, zero Limit means all rows.
type LoadRequest struct {
	Table string
	Limit int
}

// NewMessages makes Messages for the given db
func NewMessages(db *engine.SQL) (*Messages, error) {
	if db == nil {
		return nil, errors.New("db connection is nil")
	}
	return &Messages{db: db}, nil
}

// Load reads all messages of the table into a corpus. The table must have id, message, original
// and genre columns, every other column is a category, in the table's column order. Category values above 1 are clamped to 1,
// negative, null or non-numeric values are errors.
func (m *Messages) Load(ctx context.Context, req LoadRequest) (*corpus.Corpus, error) {
	table := req.Table
	if table == "" {
		table = DefaultTable
	}
	if !validIdent(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	exists, err := m.db.TableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("table %s not found", table)
	}

	cols, err := m.columns(ctx, table)
	if err != nil {
		return nil, err
	}
	for _, c := range serviceColumns {
		if !slices.Contains(cols, c) {
			return nil, fmt.Errorf("table %s has no %s column", table, c)
		}
	}
	categories := make([]string, 0, len(cols))
	for _, c := range cols {
		if !slices.Contains(serviceColumns, c) {
			categories = append(categories, c)
		}
	}
	if len(categories) == 0 {
		return nil, fmt.Errorf("table %s has no category columns", table)
	}

	selectCols := make([]string, 0, len(categories)+1)
	selectCols = append(selectCols, quote("message"))
	for _, c := range categories {
		selectCols = append(selectCols, quote(c))
	}
	qb := m.builder().Select(selectCols...).From(table).OrderBy(quote("id"))
	if req.Limit > 0 {
		qb = qb.Limit(uint64(req.Limit))
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := m.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	res := &corpus.Corpus{Categories: categories}
	clamped := make([]int, len(categories))
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, fmt.Errorf("failed to scan row %d: %w", len(res.Texts), err)
		}
		flags := make([]int, len(categories))
		for j := range categories {
			v, err := toFlag(vals[j+1])
			if err != nil {
				return nil, fmt.Errorf("row %d, category %s: %w", len(res.Texts), categories[j], err)
			}
			if v > 1 {
				v = 1
				clamped[j]++
			}
			flags[j] = v
		}
		res.Texts = append(res.Texts, toText(vals[0]))
		res.Labels = append(res.Labels, flags)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}

	for j, n := range clamped {
		if n > 0 {
			log.Printf("[WARN] %d values of %s above 1, treated as 1", n, categories[j])
		}
	}
	log.Printf("[DEBUG] loaded %d messages with %d categories from %s", len(res.Texts), len(categories), table)
	return res, nil
}

// Import creates the table if missing and adds messages to it
func (m *Messages) Import(ctx context.Context, table string, categories []string, msgs []Message) error {
	if table == "" {
		table = DefaultTable
	}
	for _, name := range append([]string{table}, categories...) {
		if !validIdent(name) {
			return fmt.Errorf("invalid name %q", name)
		}
	}
	for _, c := range categories {
		if slices.Contains(serviceColumns, c) {
			return fmt.Errorf("category %q clashes with a service column", c)
		}
	}

	createTmpl, err := messagesQueries.Pick(m.db.Type(), CmdCreateMessagesTable)
	if err != nil {
		return fmt.Errorf("failed to get create table query: %w", err)
	}
	var catDefs strings.Builder
	for _, c := range categories {
		fmt.Fprintf(&catDefs, ", %s INTEGER NOT NULL DEFAULT 0", c)
	}

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, fmt.Sprintf(createTmpl, table, catDefs.String())); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}

	cols := append([]string{"message", "original", "genre"}, categories...)
	for i, msg := range msgs {
		if len(msg.Flags) != len(categories) {
			return fmt.Errorf("message %d has %d flags, %d categories", i, len(msg.Flags), len(categories))
		}
		vals := make([]any, 0, len(cols))
		vals = append(vals, msg.Text, msg.Original, msg.Genre)
		for _, f := range msg.Flags {
			vals = append(vals, f)
		}
		query, args, err := m.builder().Insert(table).Columns(cols...).Values(vals...).ToSql()
		if err != nil {
			return fmt.Errorf("failed to build insert: %w", err)
		}
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert message %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	log.Printf("[DEBUG] imported %d messages to %s", len(msgs), table)
	return nil
}

// columns returns column names of the table in definition order
func (m *Messages) columns(ctx context.Context, table string) ([]string, error) {
	query, args, err := m.builder().Select("*").From(table).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	rows, err := m.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns of %s: %w", table, err)
	}
	return cols, nil
}

func (m *Messages) builder() sq.StatementBuilderType {
	if m.db.Type() == engine.Postgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

func toText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

func toFlag(v any) (int, error) {
	var n int64
	switch val := v.(type) {
	case nil:
		return 0, errors.New("null value")
	case int64:
		n = val
	case float64:
		if val != math.Trunc(val) {
			return 0, fmt.Errorf("non-integer value %v", val)
		}
		n = int64(val)
	case bool:
		if val {
			n = 1
		}
	case string, []byte:
		s := strings.TrimSpace(toText(val))
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric value %q", s)
		}
		n = parsed
	default:
		return 0, fmt.Errorf("unsupported value %v of type %T", val, val)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value %d", n)
	}
	return int(min(n, 2)), nil
}
