package database

import (
	"context"
	"fmt"
	"time"
)

// journalTimeLayout is fixed width so recorded_at sorts lexically.
const journalTimeLayout = "2006-01-02T15:04:05.000000000Z"

// JournalEntry is one successfully applied command.
type JournalEntry struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"`
	Scope     string    `json:"scope"` // "zone" or "client"
	Target    int       `json:"target"`
	Source    string    `json:"source"`
	Payload   string    `json:"payload"` // JSON encoded command
	At        time.Time `json:"at"`
}

// Journal appends command records to the command_journal table.
//
// Append runs in the scope carried by ctx, so a record is committed
// together with the command that produced it. The append is usually the
// scope's first write and opens its transaction.
type Journal struct {
	db *DB
}

// NewJournal creates a Journal.
func NewJournal(db *DB) *Journal {
	return &Journal{db: db}
}

// Append records e.
func (j *Journal) Append(ctx context.Context, e JournalEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO command_journal (id, operation, scope, target, source, payload, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Operation, e.Scope, e.Target, e.Source, e.Payload, e.At.UTC().Format(journalTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("appending journal entry %s: %w", e.ID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]JournalEntry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, operation, scope, target, source, payload, recorded_at
		FROM command_journal
		ORDER BY recorded_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var at string
		if err := rows.Scan(&e.ID, &e.Operation, &e.Scope, &e.Target, &e.Source, &e.Payload, &at); err != nil {
			return nil, fmt.Errorf("scanning journal row: %w", err)
		}
		e.At, _ = time.Parse(journalTimeLayout, at) //nolint:errcheck // format is controlled
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}
	return out, nil
}

// Prune deletes entries recorded before cutoff and returns how many went.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		"DELETE FROM command_journal WHERE recorded_at < ?",
		cutoff.UTC().Format(journalTimeLayout),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
