package referee

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"refwatch-backend/lib/textutil"
)

var parenGroup = regexp.MustCompile(`\(([^)]*)\)`)
var rowIndex = regexp.MustCompile(`#\d+\s*$`)
var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

type parsedRow struct {
	displayName string
	email       string
	affiliation string
	contactRaw  string
	dueRaw      string
	receivedRaw string
	declined    bool
	noReply     bool
}

func matchLabel(label string, labels []string) bool {
	label = textutil.NormalizeName(label)
	for _, l := range labels {
		if strings.Contains(label, textutil.NormalizeName(l)) {
			return true
		}
	}
	return false
}

func parseRow(text string, m Markers) parsedRow {
	var row parsedRow

	if email := emailPattern.FindString(text); email != "" {
		row.email = strings.ToLower(email)
	}

	head := text
	if idx := strings.Index(text, "("); idx >= 0 {
		head = text[:idx]
	}
	head = rowIndex.ReplaceAllString(strings.TrimSpace(head), "")
	row.displayName = textutil.NormalizeSpace(head)

	for _, group := range parenGroup.FindAllStringSubmatch(text, -1) {
		body := strings.TrimSpace(group[1])
		if body == "" {
			continue
		}

		label, value, hasLabel := strings.Cut(body, ":")
		if hasLabel {
			value = strings.TrimSpace(value)
			switch {
			case matchLabel(label, m.ContactLabels):
				row.contactRaw = value
				continue
			case matchLabel(label, m.ReceivedLabels):
				row.receivedRaw = value
				continue
			case matchLabel(label, m.DueLabels):
				row.dueRaw = value
				continue
			}
			// fall through: a labeled group we don't track, e.g.
			// (Status: Declined), still feeds the decision markers
		}

		if textutil.MatchName(body, m.Declined) {
			row.declined = true
			continue
		}
		if textutil.MatchName(body, m.NoReply) {
			row.noReply = true
			continue
		}
		if !hasLabel && !strings.Contains(body, "@") && row.affiliation == "" {
			row.affiliation = textutil.NormalizeSpace(body)
		}
	}

	return row
}

// Classify maps raw referee rows from one section to canonical
// referees. Section membership decides which status subset applies;
// decision markers in the row text only refine within that subset.
func Classify(rows []string, section Section, m Markers, dateLayouts []string) ([]Referee, []Warning) {
	var out []Referee
	var warnings []Warning

	parseDate := func(raw, field, rowText string) (t timeValue) {
		if raw == "" {
			return t
		}
		parsed, err := ParseDate(raw, dateLayouts)
		if err != nil {
			warnings = append(warnings, Warning{
				Row:     rowText,
				Message: fmt.Sprintf("unparseable %s date %q", field, raw),
			})
			return t
		}
		t.value = parsed
		t.ok = true
		return t
	}

	for _, text := range rows {
		text = textutil.NormalizeSpace(text)
		if text == "" {
			continue
		}
		row := parseRow(text, m)
		if row.displayName == "" && row.email == "" {
			warnings = append(warnings, Warning{
				Row:     text,
				Message: "row has no recognizable referee identity, skipped",
			})
			continue
		}

		ref := Referee{
			IdentityKey: IdentityKey(row.displayName, row.email),
			DisplayName: row.displayName,
			Affiliation: row.affiliation,
		}
		contact := parseDate(row.contactRaw, "contact", text)
		due := parseDate(row.dueRaw, "due", text)
		received := parseDate(row.receivedRaw, "received", text)
		ref.ContactDate = contact.value
		ref.DueDate = due.value
		ref.ReportDate = received.value

		switch section {
		case SectionContacted:
			switch {
			case row.declined:
				ref.Status = StatusDeclined
			case row.noReply:
				ref.Status = StatusNoResponse
			default:
				ref.Status = StatusAwaitingResponse
			}
		case SectionAccepted:
			switch {
			case received.ok:
				ref.Status = StatusAcceptedReportSubmitted
			case due.ok:
				ref.Status = StatusAcceptedAwaitingReport
			default:
				warnings = append(warnings, Warning{
					Row:     text,
					Message: "accepted referee carries neither a due nor a received date",
				})
				ref.Status = StatusAcceptedAwaitingReport
			}
		}

		out = append(out, ref)
	}

	return out, warnings
}

type timeValue struct {
	value time.Time
	ok    bool
}
