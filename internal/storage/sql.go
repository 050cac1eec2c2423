package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"newsbot/internal/transport"
	logx "newsbot/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqlStore serves both SQLite and PostgreSQL. Queries are written with "?"
// placeholders and rebound for postgres.
type sqlStore struct {
	db      *sql.DB
	log     logx.Logger
	dialect string
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer keeps SQLITE_BUSY out of the loops.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqlStore{db: db, log: log, dialect: "sqlite"}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("storage opened", logx.String("driver", "sqlite"), logx.String("path", path))
	return st, nil
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable("ping", err)
	}

	st := &sqlStore{db: db, log: log, dialect: "postgres"}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("storage opened", logx.String("driver", "postgres"))
	return st, nil
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/" + s.dialect + ".sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("migrate %s: %w", s.dialect, err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) q(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	return rebind(query)
}

// rebind rewrites "?" placeholders as "$1", "$2", ...
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// insertReturning runs an INSERT ... ON CONFLICT DO NOTHING RETURNING id.
// No returned row means the conflict target already existed.
func (s *sqlStore) insertReturning(ctx context.Context, op, query string, args ...any) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(query), args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, unavailable(op, err)
	}
	return id, true, nil
}

func (s *sqlStore) InsertArticle(ctx context.Context, text string, observedAt time.Time) (int64, bool, error) {
	return s.insertReturning(ctx, "insert article",
		`INSERT INTO articles(digest, text, observed_at) VALUES(?,?,?)
		 ON CONFLICT(digest) DO NOTHING RETURNING id`,
		digest(text), text, observedAt.UnixNano(),
	)
}

func (s *sqlStore) LatestArticle(ctx context.Context) (Article, bool, error) {
	var (
		a  Article
		ns int64
	)
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT id, text, observed_at FROM articles ORDER BY observed_at DESC, id DESC LIMIT 1`,
	)).Scan(&a.ID, &a.Text, &ns)
	if errors.Is(err, sql.ErrNoRows) {
		return Article{}, false, nil
	}
	if err != nil {
		return Article{}, false, unavailable("latest article", err)
	}
	a.ObservedAt = time.Unix(0, ns)
	return a, true, nil
}

func (s *sqlStore) InsertSubscriber(ctx context.Context, chatID transport.ChatID, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO subscribers(chat_id, created_at) VALUES(?,?) ON CONFLICT(chat_id) DO NOTHING`),
		int64(chatID), at.UnixNano(),
	)
	if err != nil {
		return false, unavailable("insert subscriber", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("insert subscriber", err)
	}
	return n > 0, nil
}

func (s *sqlStore) DeleteSubscriber(ctx context.Context, chatID transport.ChatID) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM subscribers WHERE chat_id = ?`), int64(chatID))
	if err != nil {
		return false, unavailable("delete subscriber", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("delete subscriber", err)
	}
	return n > 0, nil
}

func (s *sqlStore) ListSubscribers(ctx context.Context) ([]Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, chat_id, created_at FROM subscribers ORDER BY id`))
	if err != nil {
		return nil, unavailable("list subscribers", err)
	}
	defer rows.Close()

	var out []Subscriber
	for rows.Next() {
		var (
			sub    Subscriber
			chatID int64
			ns     int64
		)
		if err := rows.Scan(&sub.ID, &chatID, &ns); err != nil {
			return nil, unavailable("list subscribers", err)
		}
		sub.ChatID = transport.ChatID(chatID)
		sub.CreatedAt = time.Unix(0, ns)
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list subscribers", err)
	}
	return out, nil
}

func (s *sqlStore) InsertDelivery(ctx context.Context, articleID, subscriberID int64, sentAt time.Time) (int64, bool, error) {
	return s.insertReturning(ctx, "insert delivery",
		`INSERT INTO deliveries(article_id, subscriber_id, sent_at) VALUES(?,?,?)
		 ON CONFLICT(article_id, subscriber_id) DO NOTHING RETURNING id`,
		articleID, subscriberID, sentAt.UnixNano(),
	)
}

func (s *sqlStore) LoadCursor(ctx context.Context, name string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, s.q(`SELECT next_offset FROM inbound_cursor WHERE name = ?`), name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("load cursor", err)
	}
	return v, nil
}

func (s *sqlStore) AdvanceCursor(ctx context.Context, name string, next int64) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, s.q(
		`INSERT INTO inbound_cursor(name, next_offset) VALUES(?,?)
		 ON CONFLICT(name) DO UPDATE SET next_offset =
		   CASE WHEN excluded.next_offset > inbound_cursor.next_offset
		        THEN excluded.next_offset ELSE inbound_cursor.next_offset END
		 RETURNING next_offset`),
		name, next,
	).Scan(&v)
	if err != nil {
		return 0, unavailable("advance cursor", err)
	}
	return v, nil
}
