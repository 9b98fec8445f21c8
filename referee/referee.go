package referee

import (
	"strings"
	"time"

	"refwatch-backend/lib/textutil"
)

// Status is the canonical referee status on one manuscript.
type Status string

const (
	StatusDeclined                Status = "DECLINED"
	StatusNoResponse              Status = "NO_RESPONSE"
	StatusAwaitingResponse        Status = "AWAITING_RESPONSE"
	StatusAcceptedAwaitingReport  Status = "ACCEPTED_AWAITING_REPORT"
	StatusAcceptedReportSubmitted Status = "ACCEPTED_REPORT_SUBMITTED"
)

// Rank orders statuses by how far along the referee lifecycle they
// are. Declining and accepting-without-a-report are equally far from
// the initial contact.
func (s Status) Rank() int {
	switch s {
	case StatusAwaitingResponse:
		return 0
	case StatusDeclined, StatusNoResponse, StatusAcceptedAwaitingReport:
		return 1
	case StatusAcceptedReportSubmitted:
		return 2
	}
	return 0
}

// Section is the structural group a referee row was extracted from.
// It is the authoritative signal for which status subset applies,
// row text never overrides it.
type Section int

const (
	SectionContacted Section = iota
	SectionAccepted
)

func (s Section) String() string {
	switch s {
	case SectionContacted:
		return "contacted"
	case SectionAccepted:
		return "accepted"
	}
	return "unknown"
}

type Referee struct {
	IdentityKey  string
	DisplayName  string
	Affiliation  string
	Status       Status
	ContactDate  time.Time
	DueDate      time.Time
	ReportDate   time.Time
	ManuscriptID string
}

// Markers are the platform-specific vocabulary for interpreting
// referee rows. Keyword lists are matched against whitespace-stripped
// lowercase text, label lists against "Label: value" fragments.
type Markers struct {
	Declined       []string
	NoReply        []string
	ContactLabels  []string
	DueLabels      []string
	ReceivedLabels []string
}

// Warning records a degraded row or field. It never aborts
// classification of sibling rows.
type Warning struct {
	Row     string
	Message string
}

// IdentityKey merges observations of the same person: the normalized
// email when one is present, otherwise the normalized display name.
func IdentityKey(displayName, email string) string {
	email = strings.TrimSpace(strings.ToLower(email))
	if email != "" {
		return email
	}
	return strings.ToLower(textutil.NormalizeSpace(displayName))
}
