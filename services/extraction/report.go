package extraction

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"refwatch-backend/lib/scrapers/editorial/core"
	"refwatch-backend/referee"
)

type RunOutcome string

const (
	RunSucceeded RunOutcome = "succeeded"
	RunFailed    RunOutcome = "failed"
)

type CategoryCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type ManuscriptSeen struct {
	ExternalID      string         `json:"externalId"`
	LifecycleState  string         `json:"lifecycleState"`
	RefereeCount    int            `json:"refereeCount"`
	StatusBreakdown map[string]int `json:"statusBreakdown,omitempty"`
	Changed         bool           `json:"changed"`
}

type WarningRecord struct {
	Code    string `json:"code"`
	Subject string `json:"subject,omitempty"`
	Detail  string `json:"detail"`
}

// Run is the machine-readable report of one journal extraction.
type Run struct {
	RunID       string     `json:"runId"`
	JournalCode string     `json:"journalCode"`
	StartedAt   time.Time  `json:"startedAt"`
	FinishedAt  time.Time  `json:"finishedAt"`
	Outcome     RunOutcome `json:"outcome"`

	Categories  []CategoryCount  `json:"categories,omitempty"`
	Manuscripts []ManuscriptSeen `json:"manuscriptsSeen,omitempty"`

	Extracted        int      `json:"extracted"`
	SkippedUnchanged int      `json:"skippedUnchanged"`
	Archived         []string `json:"archived,omitempty"`
	Reappeared       []string `json:"reappeared,omitempty"`

	Warnings []WarningRecord `json:"warnings,omitempty"`
	Errors   []string        `json:"errors,omitempty"`
}

func (r *Run) warn(w WarningRecord) {
	r.Warnings = append(r.Warnings, w)
}

func (r *Run) warnCore(warnings []core.Warning) {
	for _, w := range warnings {
		r.warn(WarningRecord{Code: w.Code, Subject: w.Subject, Detail: w.Detail})
	}
}

func (r *Run) warnReferee(externalID string, warnings []referee.Warning) {
	for _, w := range warnings {
		r.warn(WarningRecord{
			Code:    "referee_row",
			Subject: externalID,
			Detail:  fmt.Sprintf("%s (row: %s)", w.Message, w.Row),
		})
	}
}

// Write persists the report as json under dir and returns the path.
func (r Run) Write(dir string) (string, error) {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, fmt.Sprintf("%s-%s.json", r.JournalCode, r.RunID))
	err = os.WriteFile(path, data, 0644)
	if err != nil {
		return "", err
	}
	return path, nil
}
