package platform

import (
	"regexp"

	"refwatch-backend/referee"
)

func init() {
	Register(Edflow{})
}

// Edflow covers the Editorial-Manager-style portals most journals in
// the pilot run on.
type Edflow struct{}

func (Edflow) Tag() string { return "edflow" }

func (Edflow) Selectors() Selectors {
	return Selectors{
		LoginPath:     "/login.asp",
		LoginForm:     "form#login-form",
		UsernameField: "username",
		PasswordField: "password",
		LoginAction:   "/login.asp",

		CodePrompt: "form#verification-form",
		CodeField:  "otc",
		CodeAction: "/verify.asp",

		RejectedMarker: "div.login-error",
		AuthedMarker:   "a[href*='logout']",

		LandingPath:     "/mainmenu.asp",
		CategoryAnchors: "div#folders a",

		ManuscriptRows: "table#documents tr.row",
		RowID:          "td.docid",
		RowDetailLink:  "td.actions a.details",

		DetailTitle:      "td#title",
		DetailAuthors:    "td#authors",
		DetailStatus:     "td#status",
		DetailFields:     "table#info td",
		SubmittedLabel:   "Date Submitted",
		ContactedSection: "div#reviewers-invited",
		AcceptedSection:  "div#reviewers-agreed",
		RefereeRow:       "li.reviewer",
		DocumentLinks:    "div#downloads a",
		PopupFileLink:    "a.file",
	}
}

func (Edflow) Markers() referee.Markers {
	return referee.Markers{
		Declined:       []string{"declined", "refused", "unwilling"},
		NoReply:        []string{"noresponse", "noreply", "unanswered"},
		ContactLabels:  []string{"last contact date", "contact date", "invited"},
		DueLabels:      []string{"due", "report due"},
		ReceivedLabels: []string{"rcvd", "received", "report received"},
	}
}

var edflowID = regexp.MustCompile(`^[A-Z]{1,6}-[A-Za-z0-9]{2,6}-\d{2,6}(\.R\d+)?$|^M\d{3,8}$`)

func (Edflow) IDPattern() *regexp.Regexp { return edflowID }

func (Edflow) DateLayouts() []string {
	return []string{"2006-01-02", "Jan 02, 2006", "01/02/2006"}
}
