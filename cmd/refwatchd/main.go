package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"refwatch-backend/lib/configutil"
	configsqlite "refwatch-backend/lib/configutil/sqlite"
	"refwatch-backend/lib/scrapers/editorial"
	"refwatch-backend/lib/scrapers/editorial/core"
	"refwatch-backend/lib/serviceutil"
	"refwatch-backend/lib/telemetry"
	"refwatch-backend/services/extraction"
	"refwatch-backend/services/ledger"
	ledgerdb "refwatch-backend/services/ledger/db"
	"refwatch-backend/services/manuscripts"
	manuscriptsdb "refwatch-backend/services/manuscripts/db"

	"github.com/robfig/cron/v3"
)

type Config struct {
	ManuscriptsDatabase configsqlite.Struct `json:"manuscripts_database"`
	LedgerDatabase      configsqlite.Struct `json:"ledger_database"`

	// path to the credentials file mapping journal codes to logins
	Credentials string `json:"credentials"`
	ReportDir   string `json:"report_dir"`
	// when set, fetched manuscript documents are written under here
	DocumentDir string `json:"document_dir"`

	// cron expression; empty means run once and exit
	Schedule   string `json:"schedule"`
	RunOnStart bool   `json:"run_on_start"`

	Journals []extraction.Journal `json:"journals"`
}

func documentSink(dir string) editorial.DocumentSink {
	return func(ctx context.Context, externalID, href string, data []byte) error {
		name := "document"
		if u, err := url.Parse(href); err == nil && u.Path != "" {
			name = filepath.Base(u.Path)
		}
		name = strings.ReplaceAll(name, string(os.PathSeparator), "_")

		target := filepath.Join(dir, externalID)
		err := os.MkdirAll(target, 0755)
		if err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(target, name), data, 0644)
	}
}

func main() {
	configPath := flag.String("config", "refwatchd.json5", "path to the daemon config")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	telemetry.InitSlog(*verbose)
	ctx := serviceutil.SignalContext()

	tel, err := telemetry.SetupFromEnv(ctx, "refwatchd")
	if err != nil {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	defer tel.Shutdown(context.Background())
	telemetry.InstrumentPerfStats(ctx)

	config, err := configutil.ReadConfig[Config](*configPath)
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	if len(config.Journals) == 0 {
		serviceutil.Fatal("invalid config", fmt.Errorf("no journals configured"))
	}

	manuscriptsDB, err := config.ManuscriptsDatabase.OpenDB(manuscriptsdb.Schema)
	if err != nil {
		serviceutil.Fatal("failed to open manuscripts database", err)
	}
	defer manuscriptsDB.Close()
	ledgerDB, err := config.LedgerDatabase.OpenDB(ledgerdb.Schema)
	if err != nil {
		serviceutil.Fatal("failed to open ledger database", err)
	}
	defer ledgerDB.Close()

	creds, err := extraction.FileCredentials(config.Credentials)
	if err != nil {
		serviceutil.Fatal("failed to read credentials", err)
	}

	var sink editorial.DocumentSink
	if config.DocumentDir != "" {
		sink = documentSink(config.DocumentDir)
	}

	service := extraction.Service{
		Store:       manuscripts.NewStore(manuscriptsDB),
		Ledger:      ledger.New(ledgerDB),
		Credentials: creds,
		ReportDir:   config.ReportDir,
		// the daemon has no terminal; a portal that insists on a code
		// with no inbox source configured fails that run
		Login: core.LoginOptions{},
		OpenPortal: func(ctx context.Context, journal extraction.Journal, login core.LoginOptions) (extraction.Portal, error) {
			session, err := editorial.NewSession(ctx, editorial.Options{
				BaseUrl:           journal.BaseUrl,
				PlatformTag:       journal.Platform,
				RequestsPerSecond: journal.RequestsPerSecond,
				Login:             login,
				Sink:              sink,
			})
			if err != nil {
				return nil, err
			}
			return session, nil
		},
	}

	runAll := func() {
		runs := service.RunAll(ctx, config.Journals)
		for _, run := range runs {
			slog.InfoContext(ctx, "journal run finished",
				"journal", run.JournalCode,
				"outcome", run.Outcome,
				"extracted", run.Extracted,
				"skipped_unchanged", run.SkippedUnchanged,
				"archived", len(run.Archived),
				"warnings", len(run.Warnings),
			)
		}
	}

	if config.Schedule == "" {
		runAll()
		return
	}

	scheduler := cron.New()
	_, err = scheduler.AddFunc(config.Schedule, runAll)
	if err != nil {
		serviceutil.Fatal("invalid cron schedule", err)
	}

	if config.RunOnStart {
		runAll()
	}

	scheduler.Start()
	slog.InfoContext(ctx, "scheduler started", "schedule", config.Schedule)

	<-ctx.Done()
	stopped := scheduler.Stop()
	<-stopped.Done()
}
