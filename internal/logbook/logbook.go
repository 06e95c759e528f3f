// Package logbook records per-account action outcomes: one append-only
// free-text row per meaningful action (send-code, login, reservation
// attempt, energy claim, travel reward). No ordering guarantee across
// accounts.
package logbook

import (
	"context"
	"time"

	"github.com/j5272000/campus-imaotai/internal/db"
)

type Entry struct {
	ID        int64
	Mobile    string
	Content   string
	CreatedAt time.Time
}

type Book struct{ db *db.DB }

func New(d *db.DB) *Book { return &Book{db: d} }

func (b *Book) Record(ctx context.Context, mobile, content string) error {
	_, err := b.db.Exec(ctx,
		`INSERT INTO reservation_logs (mobile, content) VALUES ($1,$2)`, mobile, content)
	return err
}

func (b *Book) Recent(ctx context.Context, mobile string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := b.db.Query(ctx, `
SELECT id, mobile, content, created_at FROM reservation_logs
WHERE mobile=$1 ORDER BY created_at DESC LIMIT $2`, mobile, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Mobile, &e.Content, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
