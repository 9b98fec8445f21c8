package extraction

import (
	"context"
	"sync"
	"testing"

	"refwatch-backend/lib/scrapers/editorial/browse"
	"refwatch-backend/lib/scrapers/editorial/core"
	"refwatch-backend/lib/scrapers/editorial/detail"
	"refwatch-backend/lib/testutil"
	"refwatch-backend/referee"
	"refwatch-backend/services/ledger"
	ledgerdb "refwatch-backend/services/ledger/db"
	"refwatch-backend/services/manuscripts"
	manuscriptsdb "refwatch-backend/services/manuscripts/db"

	"github.com/stretchr/testify/require"
)

type fakePortal struct {
	mu            sync.Mutex
	loginErr      error
	categoriesErr error
	categories    []browse.Category
	lists         map[string][]browse.ManuscriptRef
	snapshots     map[string]detail.RawSnapshot
	extractErr    map[string]error
	openErr       map[string]error

	openedCategories []string
	documentFetches  []string
}

func (f *fakePortal) Login(ctx context.Context, creds core.Credentials) error {
	return f.loginErr
}

func (f *fakePortal) Categories(ctx context.Context) ([]browse.Category, error) {
	if f.categoriesErr != nil {
		return nil, f.categoriesErr
	}
	return f.categories, nil
}

func (f *fakePortal) OpenCategory(ctx context.Context, category browse.Category) (*browse.ListPage, error) {
	if err := f.openErr[category.Name]; err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.openedCategories = append(f.openedCategories, category.Name)
	f.mu.Unlock()
	return &browse.ListPage{Category: category}, nil
}

func (f *fakePortal) ParseList(ctx context.Context, page *browse.ListPage) ([]browse.ManuscriptRef, []core.Warning) {
	return f.lists[page.Category.Locator], nil
}

func (f *fakePortal) Extract(ctx context.Context, ref browse.ManuscriptRef) (detail.RawSnapshot, []core.Warning, error) {
	if err := f.extractErr[ref.ExternalID]; err != nil {
		return detail.RawSnapshot{}, nil, err
	}
	return f.snapshots[ref.ExternalID], nil, nil
}

func (f *fakePortal) Markers() referee.Markers {
	return referee.Markers{
		Declined:       []string{"declined"},
		NoReply:        []string{"noresponse"},
		ContactLabels:  []string{"last contact date"},
		DueLabels:      []string{"due"},
		ReceivedLabels: []string{"rcvd"},
	}
}

func (f *fakePortal) DateLayouts() []string {
	return []string{"2006-01-02"}
}

func (f *fakePortal) FetchDocuments(ctx context.Context, snapshot detail.RawSnapshot) []core.Warning {
	f.mu.Lock()
	f.documentFetches = append(f.documentFetches, snapshot.ExternalID)
	f.mu.Unlock()
	return nil
}

type staticCredentials struct{}

func (staticCredentials) Credentials(journalCode string) (core.Credentials, string, error) {
	return core.Credentials{Username: "editor", Secret: "pw"}, "inbox@journal.org", nil
}

func manuscriptSnapshot(id, title string) detail.RawSnapshot {
	return detail.RawSnapshot{
		ExternalID: id,
		Title:      title,
		Authors:    []string{"Daudin, Pierre"},
		StatusText: "Under Review",
		ContactedRows: []string{
			"Okafor, Chidi (Declined) (Last Contact Date: 2025-02-04)",
		},
		AcceptedRows: []string{
			"Ferrari, Anna (ferrari@uni.it) (Rcvd: 2025-06-02)",
		},
		DocumentLinks: []string{"/files/" + id + ".pdf"},
	}
}

func defaultPortal() *fakePortal {
	return &fakePortal{
		categories: []browse.Category{
			{Name: "Needing Reviewers", Count: 2, Locator: "/list?f=1"},
			{Name: "Completed", Count: 0, Locator: "/list?f=2"},
		},
		lists: map[string][]browse.ManuscriptRef{
			"/list?f=1": {
				{ExternalID: "M100001", DetailLocator: "/d?id=M100001"},
				{ExternalID: "M100002", DetailLocator: "/d?id=M100002"},
			},
		},
		snapshots: map[string]detail.RawSnapshot{
			"M100001": manuscriptSnapshot("M100001", "Adaptive Meshes"),
			"M100002": manuscriptSnapshot("M100002", "Spectral Bounds"),
		},
		extractErr: map[string]error{},
	}
}

func testService(t *testing.T, portal *fakePortal) (Service, manuscripts.Store, *ledger.Ledger) {
	manuscriptsDB := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "manuscripts",
		DbSchema: manuscriptsdb.Schema,
	})
	ledgerDB := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "ledger",
		DbSchema: ledgerdb.Schema,
	})

	store := manuscripts.NewStore(manuscriptsDB.DB)
	l := ledger.New(ledgerDB.DB)

	service := Service{
		Store:       store,
		Ledger:      l,
		Credentials: staticCredentials{},
		OpenPortal: func(ctx context.Context, journal Journal, login core.LoginOptions) (Portal, error) {
			return portal, nil
		},
	}
	return service, store, l
}

var testJournal = Journal{Code: "JMATH", BaseUrl: "https://portal.example.org", Platform: "edflow"}

func TestRunJournalEndToEnd(t *testing.T) {
	ctx := context.Background()
	portal := defaultPortal()
	service, store, l := testService(t, portal)

	run := service.RunJournal(ctx, testJournal)
	require.Equal(t, RunSucceeded, run.Outcome)
	require.Equal(t, 2, run.Extracted)
	require.Equal(t, 0, run.SkippedUnchanged)
	require.Len(t, run.Manuscripts, 2)
	require.Empty(t, run.Archived)

	m, refs, err := store.Get(ctx, "JMATH", "M100001")
	require.NoError(t, err)
	require.Equal(t, "Adaptive Meshes", m.Title)
	require.Equal(t, manuscripts.StateActive, m.LifecycleState)
	require.Len(t, refs, 2)

	entries, err := l.Export(ctx)
	require.NoError(t, err)
	// two referees per manuscript, two manuscripts
	require.Len(t, entries, 4)
}

func TestRunJournalAuthFailureFailsRun(t *testing.T) {
	ctx := context.Background()
	portal := defaultPortal()
	portal.loginErr = core.ErrCredentialsRejected
	service, store, _ := testService(t, portal)

	run := service.RunJournal(ctx, testJournal)
	require.Equal(t, RunFailed, run.Outcome)
	require.NotEmpty(t, run.Errors)

	_, _, err := store.Get(ctx, "JMATH", "M100001")
	require.Error(t, err)
}

func TestZeroCountCategoryIsRecordedButNeverOpened(t *testing.T) {
	ctx := context.Background()
	portal := defaultPortal()
	service, _, _ := testService(t, portal)

	run := service.RunJournal(ctx, testJournal)
	require.Len(t, run.Categories, 2)
	require.Equal(t, CategoryCount{Name: "Completed", Count: 0}, run.Categories[1])
	require.Equal(t, []string{"Needing Reviewers"}, portal.openedCategories)
}

func TestUnchangedManuscriptSkipsDeepFetch(t *testing.T) {
	ctx := context.Background()
	portal := defaultPortal()
	service, _, l := testService(t, portal)

	first := service.RunJournal(ctx, testJournal)
	require.Equal(t, 2, first.Extracted)
	require.Len(t, portal.documentFetches, 2)

	second := service.RunJournal(ctx, testJournal)
	require.Equal(t, 0, second.Extracted)
	require.Equal(t, 2, second.SkippedUnchanged)
	// the expensive document pass did not run again
	require.Len(t, portal.documentFetches, 2)

	// replayed observations never duplicate ledger entries
	entries, err := l.Export(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 4)
}

func TestChangedManuscriptIsReextracted(t *testing.T) {
	ctx := context.Background()
	portal := defaultPortal()
	service, store, _ := testService(t, portal)

	service.RunJournal(ctx, testJournal)

	snap := portal.snapshots["M100001"]
	snap.AcceptedRows = append(snap.AcceptedRows, "Li, Wei (Due: 2025-04-17)")
	portal.snapshots["M100001"] = snap

	run := service.RunJournal(ctx, testJournal)
	require.Equal(t, 1, run.Extracted)
	require.Equal(t, 1, run.SkippedUnchanged)

	_, refs, err := store.Get(ctx, "JMATH", "M100001")
	require.NoError(t, err)
	require.Len(t, refs, 3)
}

func TestUnreachableManuscriptSkippedWithWarning(t *testing.T) {
	ctx := context.Background()
	portal := defaultPortal()
	portal.extractErr["M100002"] = &core.NavigationError{Path: "/d?id=M100002", Err: context.DeadlineExceeded}
	service, _, _ := testService(t, portal)

	run := service.RunJournal(ctx, testJournal)
	require.Equal(t, RunSucceeded, run.Outcome)
	require.Equal(t, 1, run.Extracted)

	var found bool
	for _, w := range run.Warnings {
		if w.Code == "manuscript_unreachable" && w.Subject == "M100002" {
			found = true
		}
	}
	require.True(t, found)
	// it was still on the listing, so it must not be archived
	require.Empty(t, run.Archived)
}

func TestDisappearedManuscriptIsArchived(t *testing.T) {
	ctx := context.Background()
	portal := defaultPortal()
	service, store, l := testService(t, portal)

	service.RunJournal(ctx, testJournal)

	before, err := l.Export(ctx)
	require.NoError(t, err)

	portal.lists["/list?f=1"] = portal.lists["/list?f=1"][:1]
	run := service.RunJournal(ctx, testJournal)
	require.Equal(t, []string{"M100002"}, run.Archived)

	m, _, err := store.Get(ctx, "JMATH", "M100002")
	require.NoError(t, err)
	require.Equal(t, manuscripts.StateArchived, m.LifecycleState)

	// archival never erases ledger history
	after, err := l.Export(ctx)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestReappearanceIsFlaggedNotResolved(t *testing.T) {
	ctx := context.Background()
	portal := defaultPortal()
	service, store, _ := testService(t, portal)

	service.RunJournal(ctx, testJournal)

	full := portal.lists["/list?f=1"]
	portal.lists["/list?f=1"] = full[:1]
	service.RunJournal(ctx, testJournal)

	portal.lists["/list?f=1"] = full
	run := service.RunJournal(ctx, testJournal)
	require.Equal(t, []string{"M100002"}, run.Reappeared)

	var flagged bool
	for _, w := range run.Warnings {
		if w.Code == "lifecycle_ambiguity" && w.Subject == "M100002" {
			flagged = true
		}
	}
	require.True(t, flagged)

	m, _, err := store.Get(ctx, "JMATH", "M100002")
	require.NoError(t, err)
	require.Equal(t, manuscripts.StateArchived, m.LifecycleState)

	// the report reflects the stored state, not the listing's optimism
	var seen ManuscriptSeen
	for _, ms := range run.Manuscripts {
		if ms.ExternalID == "M100002" {
			seen = ms
		}
	}
	require.Equal(t, string(manuscripts.StateArchived), seen.LifecycleState)
}

func TestCategoryDiscoveryFailureIsAWarningNotARunFailure(t *testing.T) {
	ctx := context.Background()
	portal := defaultPortal()
	portal.categoriesErr = &core.NavigationError{Path: "/mainmenu.asp", Err: context.DeadlineExceeded}
	service, _, _ := testService(t, portal)

	run := service.RunJournal(ctx, testJournal)
	require.Equal(t, RunSucceeded, run.Outcome)
	require.Empty(t, run.Errors)

	warningCodes := map[string]bool{}
	for _, w := range run.Warnings {
		warningCodes[w.Code] = true
	}
	require.True(t, warningCodes["category_discovery_failed"])
	// an invisible listing must not archive anything either
	require.True(t, warningCodes["reconcile_skipped"])
	require.Empty(t, run.Archived)
}

func TestUnreachableCategorySkipsReconcile(t *testing.T) {
	ctx := context.Background()
	portal := defaultPortal()
	portal.openErr = map[string]error{
		"Needing Reviewers": &core.NavigationError{Path: "/list?f=1", Err: context.DeadlineExceeded},
	}
	service, _, _ := testService(t, portal)

	run := service.RunJournal(ctx, testJournal)
	require.Equal(t, RunSucceeded, run.Outcome)

	var unreachable, skipped bool
	for _, w := range run.Warnings {
		if w.Code == "category_unreachable" && w.Subject == "Needing Reviewers" {
			unreachable = true
		}
		if w.Code == "reconcile_skipped" {
			skipped = true
		}
	}
	require.True(t, unreachable)
	require.True(t, skipped)
	require.Empty(t, run.Archived)
}

func TestFailedCacheWriteIsNotCountedAsExtracted(t *testing.T) {
	ctx := context.Background()
	portal := defaultPortal()
	// a third folder that cannot be opened keeps the listing
	// incomplete, so reconciliation stays out of the picture
	portal.categories = append(portal.categories,
		browse.Category{Name: "Revisions", Count: 1, Locator: "/list?f=3"})
	portal.openErr = map[string]error{
		"Revisions": &core.NavigationError{Path: "/list?f=3", Err: context.DeadlineExceeded},
	}

	manuscriptsDB := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "manuscripts",
		DbSchema: manuscriptsdb.Schema,
	})
	ledgerDB := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "ledger",
		DbSchema: ledgerdb.Schema,
	})
	service := Service{
		Store:       manuscripts.NewStore(manuscriptsDB.DB),
		Ledger:      ledger.New(ledgerDB.DB),
		Credentials: staticCredentials{},
		OpenPortal: func(ctx context.Context, journal Journal, login core.LoginOptions) (Portal, error) {
			return portal, nil
		},
	}

	// every cache write fails from here on
	manuscriptsDB.DB.Close()

	run := service.RunJournal(ctx, testJournal)
	require.Equal(t, RunSucceeded, run.Outcome)
	require.Equal(t, 0, run.Extracted)

	var writeFailed bool
	for _, w := range run.Warnings {
		if w.Code == "cache_write_failed" {
			writeFailed = true
		}
	}
	require.True(t, writeFailed)

	// the ledger lives in its own database and still saw everything
	entries, err := service.Ledger.Export(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 4)
}

func TestRunAllRunsEveryJournal(t *testing.T) {
	ctx := context.Background()
	portal := defaultPortal()
	service, _, _ := testService(t, portal)

	runs := service.RunAll(ctx, []Journal{
		{Code: "JMATH", BaseUrl: "https://a.example.org", Platform: "edflow"},
		{Code: "JPHYS", BaseUrl: "https://b.example.org", Platform: "edflow"},
	})
	require.Len(t, runs, 2)
	codes := map[string]RunOutcome{}
	for _, run := range runs {
		codes[run.JournalCode] = run.Outcome
	}
	require.Equal(t, RunSucceeded, codes["JMATH"])
	require.Equal(t, RunSucceeded, codes["JPHYS"])
}
