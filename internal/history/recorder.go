// Package history records finished matches to a local SQLite store.
// Recording is fire-and-forget from the game core's perspective: a
// failed write is logged and dropped, never rolled back into the
// in-memory state transition.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/google/uuid"
)

const schema = `
CREATE TABLE IF NOT EXISTS games_history (
	id               TEXT PRIMARY KEY,
	player1_id       TEXT NOT NULL,
	player2_id       TEXT NOT NULL,
	winner_id        TEXT NOT NULL,
	score1           INTEGER NOT NULL,
	score2           INTEGER NOT NULL,
	duration_seconds INTEGER NOT NULL,
	played_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_games_history_player1 ON games_history(player1_id);
CREATE INDEX IF NOT EXISTS idx_games_history_player2 ON games_history(player2_id);
`

// Match is one completed match result.
type Match struct {
	ID        string
	Player1ID string
	Player2ID string
	WinnerID  string
	Score1    int
	Score2    int
	Duration  time.Duration
	PlayedAt  time.Time
}

// Recorder persists finished matches. Writes are funneled through a
// single goroutine; SQLite performs poorly under concurrent writers.
type Recorder struct {
	db      *sql.DB
	writeCh chan Match
	done    chan struct{}
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewRecorder opens (and if needed initializes) the history database
// and starts the writer goroutine.
func NewRecorder(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}

	r := &Recorder{
		db:      db,
		writeCh: make(chan Match, 100),
		done:    make(chan struct{}),
	}
	r.wg.Add(1)
	go r.writeLoop()
	return r, nil
}

// Record queues a finished match for persistence. It never blocks the
// caller: when the queue is full the match is dropped with a log line.
func (r *Recorder) Record(m Match) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		log.Printf("history recorder closed, dropping match: players=%s,%s", m.Player1ID, m.Player2ID)
		return
	}

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.PlayedAt.IsZero() {
		m.PlayedAt = time.Now()
	}

	select {
	case r.writeCh <- m:
	default:
		log.Printf("history queue full, dropping match: players=%s,%s", m.Player1ID, m.Player2ID)
	}
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()
	for {
		select {
		case m := <-r.writeCh:
			if err := r.insert(m); err != nil {
				log.Printf("history write failed: id=%s err=%v", m.ID, err)
			}
		case <-r.done:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case m := <-r.writeCh:
					if err := r.insert(m); err != nil {
						log.Printf("history write failed: id=%s err=%v", m.ID, err)
					}
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) insert(m Match) error {
	_, err := r.db.Exec(`
		INSERT INTO games_history (id, player1_id, player2_id, winner_id, score1, score2, duration_seconds, played_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Player1ID, m.Player2ID, m.WinnerID,
		m.Score1, m.Score2, int(m.Duration.Seconds()), m.PlayedAt,
	)
	return err
}

// PlayerHistory returns the most recent matches involving the player,
// newest first.
func (r *Recorder) PlayerHistory(ctx context.Context, playerID string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, player1_id, player2_id, winner_id, score1, score2, duration_seconds, played_at
		FROM games_history
		WHERE player1_id = ? OR player2_id = ?
		ORDER BY played_at DESC
		LIMIT ?`,
		playerID, playerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query player history: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var seconds int
		if err := rows.Scan(&m.ID, &m.Player1ID, &m.Player2ID, &m.WinnerID,
			&m.Score1, &m.Score2, &seconds, &m.PlayedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		m.Duration = time.Duration(seconds) * time.Second
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// HealthCheck verifies the database answers a trivial query.
func (r *Recorder) HealthCheck(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close stops the writer, flushes queued matches, and closes the
// database.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.done)
	r.wg.Wait()
	return r.db.Close()
}
