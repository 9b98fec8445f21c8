package manuscripts

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"refwatch-backend/lib/textutil"
	"refwatch-backend/referee"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/manuscripts")

type LifecycleState string

const (
	StateActive   LifecycleState = "ACTIVE"
	StateArchived LifecycleState = "ARCHIVED"
)

var ErrWriteConflict = fmt.Errorf("concurrent write on the same manuscript key")

// Snapshot is one fully-extracted observation of a manuscript.
type Snapshot struct {
	JournalCode    string
	ExternalID     string
	Title          string
	Authors        []string
	SubmissionDate time.Time
	StatusText     string
	Referees       []referee.Referee
	ObservedAt     time.Time
}

type Manuscript struct {
	JournalCode    string
	ExternalID     string
	Title          string
	Authors        []string
	SubmissionDate time.Time
	StatusText     string
	ContentHash    string
	LifecycleState LifecycleState
	LastSeenAt     time.Time
}

// Store is the per-manuscript snapshot cache with lifecycle tracking.
// Writes are serialized per (journalCode, externalId) key; readers
// only ever observe committed snapshots.
type Store struct {
	db    *sql.DB
	locks *keyedMutex
}

func NewStore(database *sql.DB) Store {
	return Store{
		db:    database,
		locks: newKeyedMutex(),
	}
}

// ContentHash is a stable hash over the normalized fields that decide
// whether re-extraction is worthwhile: title, status and the referee
// roster fingerprint.
func ContentHash(s Snapshot) string {
	roster := make([]string, len(s.Referees))
	for i, ref := range s.Referees {
		roster[i] = ref.IdentityKey + "=" + string(ref.Status)
	}
	sort.Strings(roster)

	h := sha256.New()
	h.Write([]byte(textutil.NormalizeSpace(strings.ToLower(s.Title))))
	h.Write([]byte{0})
	h.Write([]byte(textutil.NormalizeSpace(strings.ToLower(s.StatusText))))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(roster, ";")))
	return hex.EncodeToString(h.Sum(nil))
}

// Changed reports whether the stored hash differs from the given one.
// Unknown manuscripts count as changed.
func (s Store) Changed(ctx context.Context, journalCode, externalID, hash string) (bool, error) {
	var stored string
	err := s.db.QueryRowContext(
		ctx,
		`SELECT content_hash FROM manuscript WHERE journal_code = ? AND external_id = ?`,
		journalCode, externalID,
	).Scan(&stored)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return stored != hash, nil
}

// TouchSeen records that a manuscript was present on the source
// listing. This runs regardless of whether the content hash changed.
func (s Store) TouchSeen(ctx context.Context, journalCode, externalID string, at time.Time) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE manuscript SET last_seen_at = ? WHERE journal_code = ? AND external_id = ?`,
		at.Unix(), journalCode, externalID,
	)
	return err
}

// Upsert stores a snapshot keyed by (journalCode, externalId). The
// lifecycle state of an existing row is left untouched: archival and
// its reversal are reconcile's business, never an implicit side
// effect of writing content.
func (s Store) Upsert(ctx context.Context, snap Snapshot) error {
	ctx, span := tracer.Start(ctx, "store:Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("journal", snap.JournalCode),
		attribute.String("external_id", snap.ExternalID),
	)

	seen := map[string]bool{}
	for _, ref := range snap.Referees {
		if seen[ref.IdentityKey] {
			err := fmt.Errorf("duplicate identity key %q in snapshot %s", ref.IdentityKey, snap.ExternalID)
			span.RecordError(err)
			span.SetStatus(codes.Error, "snapshot violates identity uniqueness")
			return err
		}
		seen[ref.IdentityKey] = true
	}

	unlock := s.locks.lock(snap.JournalCode + "\x00" + snap.ExternalID)
	defer unlock()

	err := withBusyRetry(func() error {
		return s.upsertTx(ctx, snap)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to commit snapshot")
		return err
	}
	return nil
}

// withBusyRetry gives a write that lost a database lock race exactly
// one more attempt before surfacing the conflict. Anything other than
// a lock contention error passes through untouched.
func withBusyRetry(attempt func() error) error {
	err := attempt()
	if err == nil || !isBusy(err) {
		return err
	}
	err = attempt()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrWriteConflict, err)
	}
	return nil
}

func (s Store) upsertTx(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	authorsJson, err := json.Marshal(snap.Authors)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO manuscript (
			journal_code, external_id, title, authors, submission_date,
			status_text, content_hash, lifecycle_state, last_seen_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (journal_code, external_id) DO UPDATE SET
			title = excluded.title,
			authors = excluded.authors,
			submission_date = excluded.submission_date,
			status_text = excluded.status_text,
			content_hash = excluded.content_hash,
			last_seen_at = excluded.last_seen_at`,
		snap.JournalCode, snap.ExternalID, snap.Title, string(authorsJson),
		unixOrNil(snap.SubmissionDate), snap.StatusText, ContentHash(snap),
		string(StateActive), snap.ObservedAt.Unix(),
	)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(
		ctx,
		`DELETE FROM referee_row WHERE journal_code = ? AND external_id = ?`,
		snap.JournalCode, snap.ExternalID,
	)
	if err != nil {
		return err
	}
	for _, ref := range snap.Referees {
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO referee_row (
				journal_code, external_id, identity_key, display_name,
				affiliation, status, contact_date, due_date, report_date
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			snap.JournalCode, snap.ExternalID, ref.IdentityKey, ref.DisplayName,
			ref.Affiliation, string(ref.Status),
			unixOrNil(ref.ContactDate), unixOrNil(ref.DueDate), unixOrNil(ref.ReportDate),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Reconcile archives every previously ACTIVE manuscript of a journal
// that is absent from the current listing. Nothing is deleted and
// ledger entries are not touched. Previously ARCHIVED ids that have
// reappeared are returned separately; resolving them is a manual
// decision, never automated here.
func (s Store) Reconcile(ctx context.Context, journalCode string, currentIDs []string) (archived, reappeared []string, err error) {
	ctx, span := tracer.Start(ctx, "store:Reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("journal", journalCode))

	current := map[string]bool{}
	for _, id := range currentIDs {
		current[id] = true
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(
		ctx,
		`SELECT external_id, lifecycle_state FROM manuscript WHERE journal_code = ?`,
		journalCode,
	)
	if err != nil {
		return nil, nil, err
	}
	for rows.Next() {
		var id, state string
		err = rows.Scan(&id, &state)
		if err != nil {
			rows.Close()
			return nil, nil, err
		}
		switch {
		case LifecycleState(state) == StateActive && !current[id]:
			archived = append(archived, id)
		case LifecycleState(state) == StateArchived && current[id]:
			reappeared = append(reappeared, id)
		}
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, nil, err
	}

	for _, id := range archived {
		_, err = tx.ExecContext(
			ctx,
			`UPDATE manuscript SET lifecycle_state = ? WHERE journal_code = ? AND external_id = ?`,
			string(StateArchived), journalCode, id,
		)
		if err != nil {
			return nil, nil, err
		}
	}

	err = tx.Commit()
	if err != nil {
		return nil, nil, err
	}

	sort.Strings(archived)
	sort.Strings(reappeared)
	span.SetAttributes(
		attribute.Int("archived", len(archived)),
		attribute.Int("reappeared", len(reappeared)),
	)
	return archived, reappeared, nil
}

// State reports the current lifecycle state of a manuscript.
func (s Store) State(ctx context.Context, journalCode, externalID string) (LifecycleState, error) {
	var state string
	err := s.db.QueryRowContext(
		ctx,
		`SELECT lifecycle_state FROM manuscript WHERE journal_code = ? AND external_id = ?`,
		journalCode, externalID,
	).Scan(&state)
	if err != nil {
		return "", err
	}
	return LifecycleState(state), nil
}

func (s Store) Get(ctx context.Context, journalCode, externalID string) (Manuscript, []referee.Referee, error) {
	var m Manuscript
	var authorsJson, state string
	var submission sql.NullInt64
	var lastSeen int64

	err := s.db.QueryRowContext(
		ctx,
		`SELECT journal_code, external_id, title, authors, submission_date,
			status_text, content_hash, lifecycle_state, last_seen_at
		FROM manuscript WHERE journal_code = ? AND external_id = ?`,
		journalCode, externalID,
	).Scan(
		&m.JournalCode, &m.ExternalID, &m.Title, &authorsJson, &submission,
		&m.StatusText, &m.ContentHash, &state, &lastSeen,
	)
	if err != nil {
		return Manuscript{}, nil, err
	}

	err = json.Unmarshal([]byte(authorsJson), &m.Authors)
	if err != nil {
		return Manuscript{}, nil, err
	}
	m.LifecycleState = LifecycleState(state)
	m.LastSeenAt = time.Unix(lastSeen, 0)
	if submission.Valid {
		m.SubmissionDate = time.Unix(submission.Int64, 0)
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT identity_key, display_name, affiliation, status,
			contact_date, due_date, report_date
		FROM referee_row WHERE journal_code = ? AND external_id = ?
		ORDER BY identity_key`,
		journalCode, externalID,
	)
	if err != nil {
		return Manuscript{}, nil, err
	}
	defer rows.Close()

	var referees []referee.Referee
	for rows.Next() {
		var ref referee.Referee
		var status string
		var contact, due, report sql.NullInt64
		err = rows.Scan(
			&ref.IdentityKey, &ref.DisplayName, &ref.Affiliation, &status,
			&contact, &due, &report,
		)
		if err != nil {
			return Manuscript{}, nil, err
		}
		ref.Status = referee.Status(status)
		ref.ManuscriptID = externalID
		if contact.Valid {
			ref.ContactDate = time.Unix(contact.Int64, 0)
		}
		if due.Valid {
			ref.DueDate = time.Unix(due.Int64, 0)
		}
		if report.Valid {
			ref.ReportDate = time.Unix(report.Int64, 0)
		}
		referees = append(referees, ref)
	}

	return m, referees, rows.Err()
}

func unixOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*sync.Mutex{}}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
