// Package ledger is the append-only history of referee status
// observations. Entries are never updated or removed; summaries are
// derived by replaying the whole log.
package ledger

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"refwatch-backend/referee"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/ledger")

type Entry struct {
	Seq          int64
	IdentityKey  string
	DisplayName  string
	JournalCode  string
	ManuscriptID string
	Status       referee.Status
	RecordedAt   time.Time
}

// CareerSummary is a referee's aggregate across every journal and
// manuscript the ledger has ever seen, archived ones included.
type CareerSummary struct {
	IdentityKey string `json:"identityKey"`
	DisplayName string `json:"displayName"`
	Manuscripts int    `json:"manuscripts"`
	Journals    int    `json:"journals"`
	// distinct manuscripts refereed per journal code
	PerJournal      map[string]int `json:"perJournalCounts"`
	Declined        int            `json:"declined"`
	NoResponse      int            `json:"noResponse"`
	ReportsReceived int            `json:"reportsReceived"`
	FirstSeen       time.Time      `json:"firstSeen"`
	LastSeen        time.Time      `json:"lastSeen"`
}

type Ledger struct {
	db    *sql.DB
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(database *sql.DB) *Ledger {
	return &Ledger{
		db:    database,
		locks: map[string]*sync.Mutex{},
	}
}

func (l *Ledger) lockIdentity(key string) func() {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Append records one observation. The (identityKey, manuscriptId,
// status) triple is the idempotency key: replaying the same
// observation is a no-op, while a new status for the same referee and
// manuscript appends a fresh entry.
func (l *Ledger) Append(ctx context.Context, journalCode string, ref referee.Referee, at time.Time) error {
	ctx, span := tracer.Start(ctx, "ledger:Append")
	defer span.End()
	span.SetAttributes(
		attribute.String("identity_key", ref.IdentityKey),
		attribute.String("manuscript_id", ref.ManuscriptID),
		attribute.String("status", string(ref.Status)),
	)

	unlock := l.lockIdentity(ref.IdentityKey)
	defer unlock()

	_, err := l.db.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO ledger_entry (
			identity_key, display_name, journal_code, manuscript_id, status, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		ref.IdentityKey, ref.DisplayName, journalCode, ref.ManuscriptID,
		string(ref.Status), at.Unix(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to append ledger entry")
		return err
	}
	return nil
}

// Export returns every entry in append order.
func (l *Ledger) Export(ctx context.Context) ([]Entry, error) {
	return l.query(ctx, `SELECT seq, identity_key, display_name, journal_code,
		manuscript_id, status, recorded_at FROM ledger_entry ORDER BY seq`)
}

// History returns one referee's entries in append order.
func (l *Ledger) History(ctx context.Context, identityKey string) ([]Entry, error) {
	return l.query(ctx, `SELECT seq, identity_key, display_name, journal_code,
		manuscript_id, status, recorded_at FROM ledger_entry
		WHERE identity_key = ? ORDER BY seq`, identityKey)
}

func (l *Ledger) query(ctx context.Context, stmt string, args ...any) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var status string
		var recorded int64
		err = rows.Scan(
			&e.Seq, &e.IdentityKey, &e.DisplayName, &e.JournalCode,
			&e.ManuscriptID, &status, &recorded,
		)
		if err != nil {
			return nil, err
		}
		e.Status = referee.Status(status)
		e.RecordedAt = time.Unix(recorded, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Summaries replays the full log and aggregates per referee. Counting
// from the log rather than from the manuscript cache is what keeps
// career numbers stable when manuscripts get archived.
func (l *Ledger) Summaries(ctx context.Context) ([]CareerSummary, error) {
	ctx, span := tracer.Start(ctx, "ledger:Summaries")
	defer span.End()

	entries, err := l.Export(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to replay ledger")
		return nil, err
	}

	type acc struct {
		summary     CareerSummary
		manuscripts map[string]bool
		// distinct manuscript ids keyed by journal code
		perJournal map[string]map[string]bool
	}
	byIdentity := map[string]*acc{}
	var order []string

	for _, e := range entries {
		a, ok := byIdentity[e.IdentityKey]
		if !ok {
			a = &acc{
				summary: CareerSummary{
					IdentityKey: e.IdentityKey,
					DisplayName: e.DisplayName,
					FirstSeen:   e.RecordedAt,
				},
				manuscripts: map[string]bool{},
				perJournal:  map[string]map[string]bool{},
			}
			byIdentity[e.IdentityKey] = a
			order = append(order, e.IdentityKey)
		}

		// latest display name wins, earliest first-seen sticks
		a.summary.DisplayName = e.DisplayName
		a.summary.LastSeen = e.RecordedAt
		a.manuscripts[e.JournalCode+"\x00"+e.ManuscriptID] = true
		if a.perJournal[e.JournalCode] == nil {
			a.perJournal[e.JournalCode] = map[string]bool{}
		}
		a.perJournal[e.JournalCode][e.ManuscriptID] = true

		switch e.Status {
		case referee.StatusDeclined:
			a.summary.Declined++
		case referee.StatusNoResponse:
			a.summary.NoResponse++
		case referee.StatusAcceptedReportSubmitted:
			a.summary.ReportsReceived++
		}
	}

	summaries := make([]CareerSummary, 0, len(order))
	for _, key := range order {
		a := byIdentity[key]
		a.summary.Manuscripts = len(a.manuscripts)
		a.summary.Journals = len(a.perJournal)
		a.summary.PerJournal = map[string]int{}
		for journal, ids := range a.perJournal {
			a.summary.PerJournal[journal] = len(ids)
		}
		summaries = append(summaries, a.summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].IdentityKey < summaries[j].IdentityKey
	})
	span.SetAttributes(attribute.Int("referees", len(summaries)))
	return summaries, nil
}

// Summary aggregates a single referee, or reports ok=false when the
// ledger has never seen them.
func (l *Ledger) Summary(ctx context.Context, identityKey string) (CareerSummary, bool, error) {
	summaries, err := l.Summaries(ctx)
	if err != nil {
		return CareerSummary{}, false, err
	}
	for _, s := range summaries {
		if s.IdentityKey == identityKey {
			return s, true, nil
		}
	}
	return CareerSummary{}, false, nil
}
