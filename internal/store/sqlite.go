package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	subscriptions "github.com/hanpama/graphsub/internal/subscriptions"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS subscribers (
	channel    TEXT PRIMARY KEY,
	topic      TEXT NOT NULL,
	field_name TEXT NOT NULL,
	payload    BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS subscribers_topic ON subscribers (topic);
`

// SQLite is a SubscriberStore backed by a SQLite database file.
type SQLite struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens the database at dsn and creates the subscribers table
// when missing. ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, dsn string, logger *zap.Logger) (*SQLite, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite %s: %w", dsn, err)
	}
	logger.Debug("sqlite store ready", zap.String("dsn", dsn))
	return &SQLite{db: db, logger: logger}, nil
}

func (s *SQLite) StoreSubscriber(ctx context.Context, sub *subscriptions.Subscriber, channel string) error {
	payload, err := encode(sub, channel)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO subscribers (channel, topic, field_name, payload, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (channel) DO UPDATE SET
	topic = excluded.topic,
	field_name = excluded.field_name,
	payload = excluded.payload,
	created_at = excluded.created_at`,
		channel, sub.Topic, sub.FieldName, payload, sub.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("store subscriber %s: %w", channel, err)
	}
	return nil
}

func (s *SQLite) SubscriberByChannel(ctx context.Context, channel string) (*subscriptions.Subscriber, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM subscribers WHERE channel = ?`, channel).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, subscriptions.ErrSubscriberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load subscriber %s: %w", channel, err)
	}
	return decode(payload)
}

func (s *SQLite) SubscribersByTopic(ctx context.Context, topic string) ([]*subscriptions.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM subscribers WHERE topic = ? ORDER BY rowid`, topic)
	if err != nil {
		return nil, fmt.Errorf("load subscribers for topic %s: %w", topic, err)
	}
	defer rows.Close()

	var out []*subscriptions.Subscriber
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		sub, err := decode(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteSubscriber(ctx context.Context, channel string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM subscribers WHERE channel = ?`, channel); err != nil {
		return fmt.Errorf("delete subscriber %s: %w", channel, err)
	}
	return nil
}

// Close releases the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
