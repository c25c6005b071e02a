package devserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/idilsaglam/livetodo/internal/model"
)

// Fixed width keeps lexical order equal to time order.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

var columns = []string{"id", "name", "isCompleted", "created_at"}

// Store keeps the to-do table in a sqlite file.
type Store struct {
	db    *sql.DB
	table string
	qname string
	now   func() time.Time
}

// OpenStore opens (and creates if needed) the table in the sqlite file at path.
func OpenStore(path, table string) (*Store, error) {
	if strings.TrimSpace(table) == "" {
		return nil, errors.New("open store: empty table name")
	}
	// modernc.org/sqlite driver name is "sqlite".
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, table: table, qname: quoteIdent(table), now: time.Now}
	ddl := `CREATE TABLE IF NOT EXISTS ` + s.qname + ` (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	isCompleted INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
)`
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create table %s: %w", table, err)
	}
	return s, nil
}

func (s *Store) Table() string { return s.table }

func (s *Store) Close() error { return s.db.Close() }

// List returns all rows, by creation time when ordered and by id otherwise.
func (s *Store) List(ctx context.Context, ordered bool) ([]model.Item, error) {
	q := sq.Select(columns...).From(s.qname)
	if ordered {
		q = q.OrderBy("created_at ASC", "id ASC")
	} else {
		q = q.OrderBy("id ASC")
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	items := []model.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Get returns the row with id; found is false when there is none.
func (s *Store) Get(ctx context.Context, id int64) (it model.Item, found bool, err error) {
	return s.get(ctx, s.db, id)
}

func (s *Store) get(ctx context.Context, q querier, id int64) (model.Item, bool, error) {
	query, args, err := sq.Select(columns...).From(s.qname).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return model.Item{}, false, err
	}
	return queryOne(ctx, q, query, args)
}

func (s *Store) Insert(ctx context.Context, in model.NewItem) (model.Item, error) {
	created, err := s.InsertAll(ctx, []model.NewItem{in})
	if err != nil {
		return model.Item{}, err
	}
	return created[0], nil
}

// InsertAll writes rows in one transaction; either all of them land or none.
func (s *Store) InsertAll(ctx context.Context, rows []model.NewItem) ([]model.Item, error) {
	created := make([]model.Item, 0, len(rows))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, in := range rows {
			query, args, err := sq.Insert(s.qname).
				Columns("name", "isCompleted", "created_at").
				Values(in.Name, boolInt(in.IsCompleted), s.now().UTC().Format(timeLayout)).
				Suffix("RETURNING " + strings.Join(columns, ", ")).
				ToSql()
			if err != nil {
				return err
			}
			it, _, err := queryOne(ctx, tx, query, args)
			if err != nil {
				return err
			}
			created = append(created, it)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}
	return created, nil
}

// SetCompleted updates one row and returns it before and after the write.
func (s *Store) SetCompleted(ctx context.Context, id int64, done bool) (before, after model.Item, found bool, err error) {
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		before, found, err = s.get(ctx, tx, id)
		if err != nil || !found {
			return err
		}
		query, args, err := sq.Update(s.qname).
			Set("isCompleted", boolInt(done)).
			Where(sq.Eq{"id": id}).
			Suffix("RETURNING " + strings.Join(columns, ", ")).
			ToSql()
		if err != nil {
			return err
		}
		after, found, err = queryOne(ctx, tx, query, args)
		return err
	})
	if err != nil {
		return model.Item{}, model.Item{}, false, fmt.Errorf("update %d: %w", id, err)
	}
	return before, after, found, nil
}

// Delete removes one row and returns what it held.
func (s *Store) Delete(ctx context.Context, id int64) (model.Item, bool, error) {
	query, args, err := sq.Delete(s.qname).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING " + strings.Join(columns, ", ")).
		ToSql()
	if err != nil {
		return model.Item{}, false, err
	}
	it, found, err := queryOne(ctx, s.db, query, args)
	if err != nil {
		return model.Item{}, false, fmt.Errorf("delete %d: %w", id, err)
	}
	return it, found, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryOne(ctx context.Context, q querier, query string, args []interface{}) (model.Item, bool, error) {
	it, err := scanItem(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Item{}, false, nil
	}
	if err != nil {
		return model.Item{}, false, err
	}
	return it, true, nil
}

// inTx runs fn in a transaction, committing only when it returns nil.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (model.Item, error) {
	var (
		it      model.Item
		done    int64
		created string
	)
	if err := row.Scan(&it.ID, &it.Name, &done, &created); err != nil {
		return model.Item{}, err
	}
	it.IsCompleted = done != 0
	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return model.Item{}, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	it.CreatedAt = t
	return it, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
