// Package extraction runs the end-to-end crawl for each configured
// journal and reconciles the results into the manuscript cache and
// the referee ledger.
package extraction

import (
	"context"
	"log/slog"
	"sync"

	"refwatch-backend/lib/scrapers/editorial/browse"
	"refwatch-backend/lib/scrapers/editorial/core"
	"refwatch-backend/lib/scrapers/editorial/detail"
	"refwatch-backend/lib/timezone"
	"refwatch-backend/referee"
	"refwatch-backend/services/ledger"
	"refwatch-backend/services/manuscripts"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/extraction")

// Portal is the authenticated browsing surface one journal run drives.
type Portal interface {
	Login(ctx context.Context, creds core.Credentials) error
	Categories(ctx context.Context) ([]browse.Category, error)
	OpenCategory(ctx context.Context, category browse.Category) (*browse.ListPage, error)
	ParseList(ctx context.Context, page *browse.ListPage) ([]browse.ManuscriptRef, []core.Warning)
	Extract(ctx context.Context, ref browse.ManuscriptRef) (detail.RawSnapshot, []core.Warning, error)
	Markers() referee.Markers
	DateLayouts() []string
	FetchDocuments(ctx context.Context, snapshot detail.RawSnapshot) []core.Warning
}

type Journal struct {
	Code              string  `json:"code"`
	BaseUrl           string  `json:"baseUrl"`
	Platform          string  `json:"platform"`
	RequestsPerSecond float64 `json:"requestsPerSecond"`
}

// PortalOpener builds a fresh portal session for a journal. A session
// is stateful per credential and is never shared across journals.
type PortalOpener func(ctx context.Context, journal Journal, creds core.LoginOptions) (Portal, error)

type Service struct {
	Store       manuscripts.Store
	Ledger      *ledger.Ledger
	Credentials CredentialProvider
	OpenPortal  PortalOpener
	Login       core.LoginOptions
	ReportDir   string
}

// RunAll crawls every journal. Journals run in parallel against
// independent sessions; within one journal everything is sequential
// because the portal's navigation is stateful.
func (s Service) RunAll(ctx context.Context, journals []Journal) []Run {
	ctx, span := tracer.Start(ctx, "extraction:RunAll")
	defer span.End()
	span.SetAttributes(attribute.Int("journals", len(journals)))

	runs := make([]Run, len(journals))
	var wg sync.WaitGroup
	for i, journal := range journals {
		wg.Add(1)
		go func(i int, journal Journal) {
			defer wg.Done()
			runs[i] = s.RunJournal(ctx, journal)
		}(i, journal)
	}
	wg.Wait()

	if s.ReportDir != "" {
		for _, run := range runs {
			path, err := run.Write(s.ReportDir)
			if err != nil {
				slog.ErrorContext(ctx, "failed to write run report",
					"journal", run.JournalCode, "err", err)
				continue
			}
			slog.InfoContext(ctx, "run report written", "path", path)
		}
	}
	return runs
}

// RunJournal crawls one journal end to end. Authentication failures
// end the run; per-manuscript failures downgrade to warnings so one
// broken page never hides the rest of the journal.
func (s Service) RunJournal(ctx context.Context, journal Journal) Run {
	ctx, span := tracer.Start(ctx, "extraction:RunJournal")
	defer span.End()
	span.SetAttributes(attribute.String("journal", journal.Code))

	runID, _ := random.String(10)
	run := Run{
		RunID:       runID,
		JournalCode: journal.Code,
		StartedAt:   timezone.Now(),
		Outcome:     RunSucceeded,
	}
	fail := func(err error, msg string) Run {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		slog.ErrorContext(ctx, msg, "journal", journal.Code, "err", err)
		run.Outcome = RunFailed
		run.Errors = append(run.Errors, err.Error())
		run.FinishedAt = timezone.Now()
		return run
	}

	creds, accountHint, err := s.Credentials.Credentials(journal.Code)
	if err != nil {
		return fail(err, "missing credentials")
	}
	login := s.Login
	if accountHint != "" {
		login.AccountHint = accountHint
	}

	portal, err := s.OpenPortal(ctx, journal, login)
	if err != nil {
		return fail(err, "failed to open portal session")
	}

	err = portal.Login(ctx, creds)
	if err != nil {
		return fail(err, "authentication failed")
	}

	markers := portal.Markers()
	layouts := portal.DateLayouts()

	var currentIDs []string
	listingComplete := true

	// navigation failures after authentication never fail the run,
	// they shrink it to whatever was reachable
	categories, err := portal.Categories(ctx)
	if err != nil {
		if fatalAuth(err) {
			return fail(err, "session lost while discovering categories")
		}
		listingComplete = false
		run.warn(WarningRecord{
			Code:   "category_discovery_failed",
			Detail: err.Error(),
		})
		categories = nil
	}

	for _, category := range categories {
		run.Categories = append(run.Categories, CategoryCount{
			Name:  category.Name,
			Count: category.Count,
		})
		// zero-count categories are recorded but never opened
		if category.Count == 0 {
			continue
		}

		page, err := portal.OpenCategory(ctx, category)
		if err != nil {
			if fatalAuth(err) {
				return fail(err, "session lost while opening category")
			}
			listingComplete = false
			run.warn(WarningRecord{
				Code:    "category_unreachable",
				Subject: category.Name,
				Detail:  err.Error(),
			})
			continue
		}

		refs, warnings := portal.ParseList(ctx, page)
		run.warnCore(warnings)

		for _, ref := range refs {
			currentIDs = append(currentIDs, ref.ExternalID)

			err = s.Store.TouchSeen(ctx, journal.Code, ref.ExternalID, timezone.Now())
			if err != nil {
				run.warn(WarningRecord{
					Code:    "touch_failed",
					Subject: ref.ExternalID,
					Detail:  err.Error(),
				})
			}

			seen, ok := s.extractOne(ctx, portal, journal, ref, markers, layouts, &run)
			if ok {
				run.Manuscripts = append(run.Manuscripts, seen)
			}
		}
	}

	// archival is driven by absence from the listing, so an incomplete
	// listing must not archive anything
	if listingComplete {
		archived, reappeared, err := s.Store.Reconcile(ctx, journal.Code, currentIDs)
		if err != nil {
			return fail(err, "failed to reconcile lifecycle states")
		}
		run.Archived = archived
		run.Reappeared = reappeared
		for _, id := range reappeared {
			run.warn(WarningRecord{
				Code:    "lifecycle_ambiguity",
				Subject: id,
				Detail:  "archived manuscript reappeared on the listing, left for manual review",
			})
			slog.WarnContext(ctx, "archived manuscript reappeared",
				"journal", journal.Code, "external_id", id)
		}
	} else {
		run.warn(WarningRecord{
			Code:   "reconcile_skipped",
			Detail: "listing incomplete, lifecycle reconciliation skipped this run",
		})
	}

	run.FinishedAt = timezone.Now()
	span.SetAttributes(
		attribute.Int("extracted", run.Extracted),
		attribute.Int("skipped_unchanged", run.SkippedUnchanged),
		attribute.Int("warnings", len(run.Warnings)),
	)
	return run
}

func (s Service) extractOne(
	ctx context.Context,
	portal Portal,
	journal Journal,
	ref browse.ManuscriptRef,
	markers referee.Markers,
	layouts []string,
	run *Run,
) (ManuscriptSeen, bool) {
	snapshot, warnings, err := portal.Extract(ctx, ref)
	run.warnCore(warnings)
	if err != nil {
		if fatalAuth(err) || !transientNavigation(err) {
			// surfaced as a warning here; the caller's listing already
			// counted the manuscript so reconcile stays correct
			run.warn(WarningRecord{
				Code:    "extract_failed",
				Subject: ref.ExternalID,
				Detail:  err.Error(),
			})
			return ManuscriptSeen{}, false
		}
		run.warn(WarningRecord{
			Code:    "manuscript_unreachable",
			Subject: ref.ExternalID,
			Detail:  err.Error(),
		})
		return ManuscriptSeen{}, false
	}

	contacted, contactedWarnings := referee.Classify(
		snapshot.ContactedRows, referee.SectionContacted, markers, layouts)
	accepted, acceptedWarnings := referee.Classify(
		snapshot.AcceptedRows, referee.SectionAccepted, markers, layouts)
	run.warnReferee(ref.ExternalID, contactedWarnings)
	run.warnReferee(ref.ExternalID, acceptedWarnings)

	merged, dedupeWarnings := referee.Dedupe(append(contacted, accepted...))
	run.warnReferee(ref.ExternalID, dedupeWarnings)
	for i := range merged {
		merged[i].ManuscriptID = ref.ExternalID
	}

	now := timezone.Now()
	snap := manuscripts.Snapshot{
		JournalCode:    journal.Code,
		ExternalID:     ref.ExternalID,
		Title:          snapshot.Title,
		Authors:        snapshot.Authors,
		SubmissionDate: snapshot.SubmissionDate,
		StatusText:     snapshot.StatusText,
		Referees:       merged,
		ObservedAt:     now,
	}

	hash := manuscripts.ContentHash(snap)
	changed, err := s.Store.Changed(ctx, journal.Code, ref.ExternalID, hash)
	if err != nil {
		run.warn(WarningRecord{
			Code:    "cache_read_failed",
			Subject: ref.ExternalID,
			Detail:  err.Error(),
		})
		changed = true
	}

	if changed {
		run.warnCore(portal.FetchDocuments(ctx, snapshot))
		err = s.Store.Upsert(ctx, snap)
		if err != nil {
			run.warn(WarningRecord{
				Code:    "cache_write_failed",
				Subject: ref.ExternalID,
				Detail:  err.Error(),
			})
		} else {
			// only committed snapshots count as extracted
			run.Extracted++
		}
	} else {
		run.SkippedUnchanged++
	}

	// the ledger always sees every observation; appends are idempotent
	// on the exact (identity, manuscript, status) triple
	for _, r := range merged {
		err = s.Ledger.Append(ctx, journal.Code, r, now)
		if err != nil {
			run.warn(WarningRecord{
				Code:    "ledger_append_failed",
				Subject: r.IdentityKey,
				Detail:  err.Error(),
			})
		}
	}

	breakdown := map[string]int{}
	for _, r := range merged {
		breakdown[string(r.Status)]++
	}

	// an archived manuscript back on the listing stays archived until
	// someone resolves it, and the report must say so
	state, err := s.Store.State(ctx, journal.Code, ref.ExternalID)
	if err != nil {
		state = manuscripts.StateActive
	}

	return ManuscriptSeen{
		ExternalID:      ref.ExternalID,
		LifecycleState:  string(state),
		RefereeCount:    len(merged),
		StatusBreakdown: breakdown,
		Changed:         changed,
	}, true
}
