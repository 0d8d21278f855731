package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLitePersister keeps every bank in one SQLite database. It honors the
// same contract as FilePersister; deployments pick whichever record shape
// fits their environment.
type SQLitePersister struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS memories (
    bank_id    TEXT NOT NULL,
    position   INTEGER NOT NULL,
    entry_id   TEXT NOT NULL,
    created_at TEXT NOT NULL,
    content    TEXT NOT NULL,
    embedding  TEXT,
    engine     TEXT,
    dims       INTEGER,
    PRIMARY KEY (bank_id, position)
);`

// NewSQLitePersister opens (creating if needed) the database at path.
func NewSQLitePersister(path string) (*SQLitePersister, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLitePersister{db: db}, nil
}

func (p *SQLitePersister) Load(ctx context.Context, bankID string) ([]Entry, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT entry_id, created_at, content, embedding, engine, dims
		   FROM memories WHERE bank_id = ? ORDER BY position ASC`, bankID)
	if err != nil {
		return nil, fmt.Errorf("load bank %s: %w", bankID, err)
	}
	defer rows.Close()

	var records []entryRecord
	for rows.Next() {
		var (
			rec     entryRecord
			embJSON sql.NullString
			engine  sql.NullString
			dims    sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.Date, &rec.Text, &embJSON, &engine, &dims); err != nil {
			return nil, fmt.Errorf("%w: bank %s: %v", ErrStorageCorrupt, bankID, err)
		}
		if embJSON.Valid && embJSON.String != "" {
			if err := json.Unmarshal([]byte(embJSON.String), &rec.Embedding); err != nil {
				return nil, fmt.Errorf("%w: bank %s embedding: %v", ErrStorageCorrupt, bankID, err)
			}
		}
		rec.Engine = engine.String
		rec.Dims = int(dims.Int64)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load bank %s: %w", bankID, err)
	}
	return fromRecords(records), nil
}

// Save replaces the bank's rows in one transaction. The commit is the
// durability point the store contract requires.
func (p *SQLitePersister) Save(ctx context.Context, bankID string, entries []Entry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save bank %s: %w", bankID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE bank_id = ?`, bankID); err != nil {
		return fmt.Errorf("save bank %s: %w", bankID, err)
	}
	for position, rec := range toRecords(entries) {
		embJSON, err := json.Marshal(rec.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding for bank %s: %w", bankID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO memories (bank_id, position, entry_id, created_at, content, embedding, engine, dims)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			bankID, position, rec.ID, rec.Date, rec.Text, string(embJSON), rec.Engine, rec.Dims); err != nil {
			return fmt.Errorf("save bank %s: %w", bankID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bank %s: %w", bankID, err)
	}
	return nil
}

func (p *SQLitePersister) Delete(ctx context.Context, bankID string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM memories WHERE bank_id = ?`, bankID); err != nil {
		return fmt.Errorf("delete bank %s: %w", bankID, err)
	}
	return nil
}

func (p *SQLitePersister) Close() error { return p.db.Close() }
