// Package journal keeps a tamper-evident SQLite log of unlock attempts.
//
// Security model:
//  1. File permissions: 0600 (owner read/write only)
//  2. Integrity: every row carries an HMAC under a key derived from a
//     per-install secret
//  3. Append-only: rows are never updated, only pruned from the front
//  4. Chain linking: every row hashes the previous row's hash
//
// The journal is an audit trail for operators. The overlay never reads it
// back to make a decision.
package journal

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"screenguard/internal/router"
)

var (
	// ErrJournalTampered is returned when the chain or a MAC does not verify.
	ErrJournalTampered = errors.New("journal: integrity check failed")

	// ErrReadOnly is returned by writes to a journal that failed verification.
	ErrReadOnly = errors.New("journal: integrity compromised, refusing to write")

	errQueueFull = errors.New("journal: write queue full")
)

const schema = `
CREATE TABLE IF NOT EXISTS integrity (
    id              INTEGER PRIMARY KEY CHECK (id = 1),
    base_hash       BLOB NOT NULL,
    chain_hash      BLOB NOT NULL,
    entry_count     INTEGER NOT NULL DEFAULT 0,
    hmac            BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS attempts (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp_ns    INTEGER NOT NULL,
    outcome         TEXT NOT NULL,
    phase           TEXT NOT NULL,
    taps            INTEGER NOT NULL,
    duration_ms     INTEGER NOT NULL,
    previous_hash   BLOB NOT NULL,
    entry_hash      BLOB NOT NULL UNIQUE,
    hmac            BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attempts_timestamp ON attempts(timestamp_ns);
CREATE INDEX IF NOT EXISTS idx_attempts_outcome ON attempts(outcome);
`

// Entry is one journal row.
type Entry struct {
	ID         int64     `json:"id"`
	Time       time.Time `json:"time"`
	Outcome    string    `json:"outcome"`
	Phase      string    `json:"phase"`
	Taps       int       `json:"taps"`
	DurationMs int64     `json:"duration_ms"`
	Hash       string    `json:"hash"`
}

// FromAttempt converts a router attempt recorded at wall time at.
func FromAttempt(a router.Attempt, at time.Time) Entry {
	e := Entry{
		Time:       at,
		Outcome:    a.Outcome.String(),
		Taps:       a.Taps,
		DurationMs: a.End - a.Start,
	}
	switch a.Outcome {
	case router.OutcomeCompleted, router.OutcomeRejected, router.OutcomeCancelled:
		e.Phase = a.Furthest.String()
	default:
		e.Phase = "-"
	}
	return e
}

// Journal is safe for concurrent use.
type Journal struct {
	db  *sql.DB
	key []byte

	mu        sync.Mutex
	base      [32]byte
	last      [32]byte
	count     int64
	integrity bool
}

// Open opens or creates the journal at path, keyed by the secret at
// secretPath. If an existing journal fails verification, Open returns the
// journal in read-only mode together with an error wrapping
// ErrJournalTampered, so callers can still inspect it.
func Open(path, secretPath string) (*Journal, error) {
	secret, err := LoadOrCreateSecret(secretPath)
	if err != nil {
		return nil, err
	}
	key, err := DeriveKey(secret)
	if err != nil {
		return nil, err
	}
	return OpenWithKey(path, key)
}

// OpenWithKey is Open with an already derived MAC key.
func OpenWithKey(path string, key []byte) (*Journal, error) {
	if len(key) < 32 {
		return nil, errors.New("journal: MAC key must be at least 32 bytes")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal permissions: %w", err)
	}

	j := &Journal{db: db, key: key}

	var exists int
	if err := db.QueryRow(`SELECT COUNT(*) FROM integrity`).Scan(&exists); err != nil {
		db.Close()
		return nil, fmt.Errorf("read integrity record: %w", err)
	}
	if exists == 0 {
		if err := j.initialize(); err != nil {
			db.Close()
			return nil, fmt.Errorf("initialize integrity: %w", err)
		}
		j.integrity = true
		return j, nil
	}

	if err := j.Verify(context.Background()); err != nil {
		return j, err
	}
	return j, nil
}

func (j *Journal) initialize() error {
	var zero [32]byte
	_, err := j.db.Exec(`INSERT INTO integrity (id, base_hash, chain_hash, entry_count, hmac) VALUES (1, ?, ?, 0, ?)`,
		zero[:], zero[:], j.integrityMAC(zero, zero, 0))
	return err
}

// IntegrityOK reports whether the last verification passed.
func (j *Journal) IntegrityOK() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.integrity
}

// Record appends e. ID and Hash are filled in on the returned copy; a zero
// Time is replaced by the current time.
func (j *Journal) Record(ctx context.Context, e Entry) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.integrity {
		return e, ErrReadOnly
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	r := row{
		timestampNs: e.Time.UnixNano(),
		outcome:     e.Outcome,
		phase:       e.Phase,
		taps:        int64(e.Taps),
		durationMs:  e.DurationMs,
		previous:    j.last,
	}
	hash := r.hash()
	mac := j.rowMAC(r)

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return e, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO attempts (timestamp_ns, outcome, phase, taps, duration_ms, previous_hash, entry_hash, hmac)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.timestampNs, r.outcome, r.phase, r.taps, r.durationMs, r.previous[:], hash[:], mac)
	if err != nil {
		return e, fmt.Errorf("insert attempt: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return e, fmt.Errorf("insert attempt: %w", err)
	}

	count := j.count + 1
	if _, err := tx.ExecContext(ctx, `UPDATE integrity SET chain_hash = ?, entry_count = ?, hmac = ? WHERE id = 1`,
		hash[:], count, j.integrityMAC(j.base, hash, count)); err != nil {
		return e, fmt.Errorf("update integrity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return e, fmt.Errorf("commit: %w", err)
	}

	j.last = hash
	j.count = count
	e.ID = id
	e.Hash = hex.EncodeToString(hash[:])
	return e, nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, timestamp_ns, outcome, phase, taps, duration_ms, entry_hash
		FROM attempts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		var hash []byte
		if err := rows.Scan(&e.ID, &ts, &e.Outcome, &e.Phase, &e.Taps, &e.DurationMs, &hash); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		e.Time = time.Unix(0, ts)
		e.Hash = hex.EncodeToString(hash)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return entries, nil
}

// Verify walks the whole chain. On failure the journal turns read-only and
// the error wraps ErrJournalTampered.
func (j *Journal) Verify(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	base, last, count, err := j.verify(ctx)
	if err != nil {
		j.integrity = false
		return err
	}
	j.base, j.last, j.count = base, last, count
	j.integrity = true
	return nil
}

func (j *Journal) verify(ctx context.Context) (base, last [32]byte, count int64, err error) {
	tampered := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrJournalTampered, fmt.Sprintf(format, args...))
	}

	var baseHash, chainHash, storedMAC []byte
	var stored int64
	err = j.db.QueryRowContext(ctx, `SELECT base_hash, chain_hash, entry_count, hmac FROM integrity WHERE id = 1`).
		Scan(&baseHash, &chainHash, &stored, &storedMAC)
	if errors.Is(err, sql.ErrNoRows) {
		return base, last, 0, tampered("integrity record missing")
	}
	if err != nil {
		return base, last, 0, fmt.Errorf("read integrity record: %w", err)
	}

	copy(base[:], baseHash)
	var chain [32]byte
	copy(chain[:], chainHash)
	if !hmac.Equal(storedMAC, j.integrityMAC(base, chain, stored)) {
		return base, last, 0, tampered("integrity record MAC mismatch")
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, timestamp_ns, outcome, phase, taps, duration_ms, previous_hash, entry_hash, hmac
		FROM attempts ORDER BY id ASC`)
	if err != nil {
		return base, last, 0, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	last = base
	for rows.Next() {
		var id int64
		var r row
		var prev, hash, mac []byte
		if err := rows.Scan(&id, &r.timestampNs, &r.outcome, &r.phase, &r.taps, &r.durationMs, &prev, &hash, &mac); err != nil {
			return base, last, 0, fmt.Errorf("scan attempt %d: %w", id, err)
		}
		copy(r.previous[:], prev)

		if r.previous != last {
			return base, last, 0, tampered("chain break at entry %d", id)
		}
		if !hmac.Equal(mac, j.rowMAC(r)) {
			return base, last, 0, tampered("entry %d MAC mismatch", id)
		}
		want := r.hash()
		if !hmac.Equal(hash, want[:]) {
			return base, last, 0, tampered("entry %d hash mismatch", id)
		}
		last = want
		count++
	}
	if err := rows.Err(); err != nil {
		return base, last, 0, fmt.Errorf("iterate attempts: %w", err)
	}

	if count != stored {
		return base, last, 0, tampered("entry count mismatch: expected %d, found %d", stored, count)
	}
	if last != chain {
		return base, last, 0, tampered("chain head mismatch")
	}
	return base, last, count, nil
}

// Prune deletes entries recorded before cutoff. The chain stays verifiable
// from the first remaining entry.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.integrity {
		return 0, ErrReadOnly
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var lastDropped sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(id) FROM attempts WHERE timestamp_ns < ?`, cutoff.UnixNano()).
		Scan(&lastDropped); err != nil {
		return 0, fmt.Errorf("find prune point: %w", err)
	}
	if !lastDropped.Valid {
		return 0, nil
	}

	// Everything up to and including the newest expired row goes, so the
	// remaining rows stay contiguous.
	var newBase []byte
	if err := tx.QueryRowContext(ctx, `SELECT entry_hash FROM attempts WHERE id = ?`, lastDropped.Int64).
		Scan(&newBase); err != nil {
		return 0, fmt.Errorf("read prune point: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM attempts WHERE id <= ?`, lastDropped.Int64)
	if err != nil {
		return 0, fmt.Errorf("delete attempts: %w", err)
	}
	removed, _ := res.RowsAffected()

	var base [32]byte
	copy(base[:], newBase)
	count := j.count - removed
	if _, err := tx.ExecContext(ctx, `UPDATE integrity SET base_hash = ?, entry_count = ?, hmac = ? WHERE id = 1`,
		base[:], count, j.integrityMAC(base, j.last, count)); err != nil {
		return 0, fmt.Errorf("update integrity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	j.base = base
	j.count = count
	return removed, nil
}

// Stats summarizes the journal.
type Stats struct {
	Entries     int64            `json:"entries"`
	ByOutcome   map[string]int64 `json:"by_outcome"`
	Oldest      time.Time        `json:"oldest"`
	Newest      time.Time        `json:"newest"`
	ChainHash   string           `json:"chain_hash"`
	IntegrityOK bool             `json:"integrity_ok"`
}

// Stats returns journal statistics.
func (j *Journal) Stats(ctx context.Context) (*Stats, error) {
	j.mu.Lock()
	stats := &Stats{
		Entries:     j.count,
		ByOutcome:   make(map[string]int64),
		ChainHash:   hex.EncodeToString(j.last[:]),
		IntegrityOK: j.integrity,
	}
	j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM attempts GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		stats.ByOutcome[outcome] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var oldest, newest sql.NullInt64
	if err := j.db.QueryRowContext(ctx, `SELECT MIN(timestamp_ns), MAX(timestamp_ns) FROM attempts`).
		Scan(&oldest, &newest); err != nil {
		return nil, fmt.Errorf("read time range: %w", err)
	}
	if oldest.Valid {
		stats.Oldest = time.Unix(0, oldest.Int64)
		stats.Newest = time.Unix(0, newest.Int64)
	}
	return stats, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

type row struct {
	timestampNs int64
	outcome     string
	phase       string
	taps        int64
	durationMs  int64
	previous    [32]byte
}

func (r row) write(h io.Writer) {
	var buf [8]byte
	putInt := func(v int64) {
		binary.BigEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	putString := func(s string) {
		putInt(int64(len(s)))
		h.Write([]byte(s))
	}

	h.Write([]byte("screenguard-attempt-v1"))
	putInt(r.timestampNs)
	putString(r.outcome)
	putString(r.phase)
	putInt(r.taps)
	putInt(r.durationMs)
	h.Write(r.previous[:])
}

func (r row) hash() [32]byte {
	h := sha256.New()
	r.write(h)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (j *Journal) rowMAC(r row) []byte {
	h := hmac.New(sha256.New, j.key)
	r.write(h)
	return h.Sum(nil)
}

func (j *Journal) integrityMAC(base, chain [32]byte, count int64) []byte {
	h := hmac.New(sha256.New, j.key)
	h.Write([]byte("screenguard-integrity-v1"))
	h.Write(base[:])
	h.Write(chain[:])
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(count))
	h.Write(buf[:])
	return h.Sum(nil)
}
