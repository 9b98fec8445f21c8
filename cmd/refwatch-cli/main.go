package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

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

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type Config struct {
	ManuscriptsDatabase configsqlite.Struct `json:"manuscripts_database"`
	LedgerDatabase      configsqlite.Struct `json:"ledger_database"`

	Credentials string `json:"credentials"`
	ReportDir   string `json:"report_dir"`

	Journals []extraction.Journal `json:"journals"`
}

var configPath string
var verbose bool

func readConfig() (Config, error) {
	return configutil.ReadConfig[Config](configPath)
}

func perJournalCell(counts map[string]int) string {
	journals := make([]string, 0, len(counts))
	for journal := range counts {
		journals = append(journals, journal)
	}
	sort.Strings(journals)

	parts := make([]string, len(journals))
	for i, journal := range journals {
		parts[i] = fmt.Sprintf("%s:%d", journal, counts[journal])
	}
	return strings.Join(parts, " ")
}

func openLedger(config Config) (*ledger.Ledger, *sql.DB, error) {
	db, err := config.LedgerDatabase.OpenDB(ledgerdb.Schema)
	if err != nil {
		return nil, nil, err
	}
	return ledger.New(db), db, nil
}

var rootCmd = &cobra.Command{
	Use:   "refwatch-cli",
	Short: "Inspect and drive the referee extraction pipeline.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(verbose)
	},
}

var runCmd = &cobra.Command{
	Use:   "run [journal code...]",
	Short: "Run extraction now, for all journals or just the given ones.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := serviceutil.SignalContext()

		config, err := readConfig()
		if err != nil {
			return err
		}

		journals := config.Journals
		if len(args) > 0 {
			requested := map[string]bool{}
			for _, code := range args {
				requested[code] = true
			}
			journals = nil
			for _, j := range config.Journals {
				if requested[j.Code] {
					journals = append(journals, j)
				}
			}
			if len(journals) == 0 {
				return fmt.Errorf("none of %v are configured journals", args)
			}
		}

		manuscriptsDB, err := config.ManuscriptsDatabase.OpenDB(manuscriptsdb.Schema)
		if err != nil {
			return err
		}
		defer manuscriptsDB.Close()
		ledgerDB, err := config.LedgerDatabase.OpenDB(ledgerdb.Schema)
		if err != nil {
			return err
		}
		defer ledgerDB.Close()

		creds, err := extraction.FileCredentials(config.Credentials)
		if err != nil {
			return err
		}

		service := extraction.Service{
			Store:       manuscripts.NewStore(manuscriptsDB),
			Ledger:      ledger.New(ledgerDB),
			Credentials: creds,
			ReportDir:   config.ReportDir,
			// interactive runs can relay the verification code by hand
			Login: core.LoginOptions{ManualPrompt: core.StdinPrompt},
			OpenPortal: func(ctx context.Context, journal extraction.Journal, login core.LoginOptions) (extraction.Portal, error) {
				session, err := editorial.NewSession(ctx, editorial.Options{
					BaseUrl:           journal.BaseUrl,
					PlatformTag:       journal.Platform,
					RequestsPerSecond: journal.RequestsPerSecond,
					Login:             login,
				})
				if err != nil {
					return nil, err
				}
				return session, nil
			},
		}

		runs := service.RunAll(ctx, journals)

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Journal", "Outcome", "Extracted", "Unchanged", "Archived", "Warnings"})
		for _, run := range runs {
			t.AppendRow(table.Row{
				run.JournalCode, run.Outcome, run.Extracted,
				run.SkippedUnchanged, len(run.Archived), len(run.Warnings),
			})
		}
		t.Render()
		return nil
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print per-referee career summaries replayed from the ledger.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		config, err := readConfig()
		if err != nil {
			return err
		}
		l, db, err := openLedger(config)
		if err != nil {
			return err
		}
		defer db.Close()

		summaries, err := l.Summaries(ctx)
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{
			"Referee", "Manuscripts", "Per Journal", "Declined",
			"No Response", "Reports", "First Seen", "Last Seen",
		})
		for _, s := range summaries {
			t.AppendRow(table.Row{
				s.DisplayName, s.Manuscripts, perJournalCell(s.PerJournal),
				s.Declined, s.NoResponse, s.ReportsReceived,
				s.FirstSeen.Format(time.DateOnly),
				s.LastSeen.Format(time.DateOnly),
			})
		}
		t.Render()
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <identity-key>",
	Short: "Print one referee's full observation history.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		config, err := readConfig()
		if err != nil {
			return err
		}
		l, db, err := openLedger(config)
		if err != nil {
			return err
		}
		defer db.Close()

		entries, err := l.History(ctx, args[0])
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no ledger entries for", args[0])
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Seq", "Journal", "Manuscript", "Status", "Recorded"})
		for _, e := range entries {
			t.AppendRow(table.Row{
				e.Seq, e.JournalCode, e.ManuscriptID, e.Status,
				e.RecordedAt.Format(time.DateOnly),
			})
		}
		t.Render()
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Dump the full ledger as json in append order.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		config, err := readConfig()
		if err != nil {
			return err
		}
		l, db, err := openLedger(config)
		if err != nil {
			return err
		}
		defer db.Close()

		entries, err := l.Export(ctx)
		if err != nil {
			return err
		}
		// one entry per line, in append order
		encoder := json.NewEncoder(os.Stdout)
		for _, e := range entries {
			err = encoder.Encode(e)
			if err != nil {
				return err
			}
		}
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "refwatchd.json5", "path to the service config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(runCmd, summaryCmd, historyCmd, exportCmd)

	err := rootCmd.Execute()
	if err != nil {
		serviceutil.Fatal("command failed", err)
	}
}
