package detail

import (
	"context"
	"strings"
	"time"

	"refwatch-backend/lib/htmlutil"
	"refwatch-backend/lib/scrapers/editorial/browse"
	"refwatch-backend/lib/scrapers/editorial/core"
	"refwatch-backend/referee"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/editorial/detail")

// Placeholder marks a required field that could not be parsed. A
// degraded field is always this value plus a warning, never a bare
// empty string pretending to be clean data.
const Placeholder = "[unparsed]"

// RawSnapshot is the still-unclassified extraction of one manuscript
// detail view.
type RawSnapshot struct {
	ExternalID     string
	Title          string
	Authors        []string
	SubmissionDate time.Time
	StatusText     string
	ContactedRows  []string
	AcceptedRows   []string
	DocumentLinks  []string
	// names of fields that fell back to Placeholder
	Degraded []string
}

type Extractor struct {
	Client *core.Client
}

// Extract parses one manuscript's detail view. Every structural field
// is parsed into a local before the snapshot is constructed; building
// a record first and filling it afterward is what used to produce
// silently empty titles whenever parsing failed partway.
func (e Extractor) Extract(ctx context.Context, ref browse.ManuscriptRef) (RawSnapshot, []core.Warning, error) {
	ctx, span := tracer.Start(ctx, "extractor:Extract")
	defer span.End()
	span.SetAttributes(attribute.String("external_id", ref.ExternalID))

	doc, err := e.Client.GetDocument(ctx, ref.DetailLocator)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch detail view")
		return RawSnapshot{}, nil, err
	}

	sel := e.Client.Platform.Selectors()
	var warnings []core.Warning
	var degraded []string

	degrade := func(field, detail string) string {
		degraded = append(degraded, field)
		warnings = append(warnings, core.Warning{
			Code:    "degraded_field",
			Subject: ref.ExternalID,
			Detail:  field + ": " + detail,
		})
		return Placeholder
	}

	title := htmlutil.CleanText(doc.Find(sel.DetailTitle).Text())
	if title == "" {
		title = degrade("title", "no title element found")
	}

	authors := splitAuthors(htmlutil.CleanText(doc.Find(sel.DetailAuthors).Text()))
	if len(authors) == 0 {
		authors = []string{degrade("authors", "no authors element found")}
	}

	statusText := htmlutil.CleanText(doc.Find(sel.DetailStatus).Text())
	if statusText == "" {
		statusText = degrade("status", "no status element found")
	}

	var submissionDate time.Time
	submittedRaw := htmlutil.LabeledValue(doc.Find(sel.DetailFields), sel.SubmittedLabel)
	if submittedRaw == "" {
		degrade("submission_date", "no submission date field found")
	} else {
		submissionDate, err = referee.ParseDate(submittedRaw, e.Client.Platform.DateLayouts())
		if err != nil {
			degrade("submission_date", err.Error())
		}
	}

	contactedRows := sectionRows(doc, sel.ContactedSection, sel.RefereeRow)
	acceptedRows := sectionRows(doc, sel.AcceptedSection, sel.RefereeRow)

	var documentLinks []string
	for _, a := range htmlutil.GetAnchors(ctx, doc.Find(sel.DocumentLinks)) {
		if a.Href != "" {
			documentLinks = append(documentLinks, a.Href)
		}
	}

	// every field above is resolved, only now does the record exist
	snapshot := RawSnapshot{
		ExternalID:     ref.ExternalID,
		Title:          title,
		Authors:        authors,
		SubmissionDate: submissionDate,
		StatusText:     statusText,
		ContactedRows:  contactedRows,
		AcceptedRows:   acceptedRows,
		DocumentLinks:  documentLinks,
		Degraded:       degraded,
	}

	span.SetAttributes(
		attribute.Int("contacted_rows", len(contactedRows)),
		attribute.Int("accepted_rows", len(acceptedRows)),
		attribute.Int("degraded_fields", len(degraded)),
	)
	return snapshot, warnings, nil
}

func sectionRows(doc *goquery.Document, section, row string) []string {
	var rows []string
	doc.Find(section).Find(row).Each(func(_ int, s *goquery.Selection) {
		text := htmlutil.CleanText(s.Text())
		if text != "" {
			rows = append(rows, text)
		}
	})
	return rows
}

// splitAuthors prefers the semicolon delimiter so "Surname, Given"
// names survive intact; comma splitting is the fallback for portals
// that use it exclusively.
func splitAuthors(raw string) []string {
	if raw == "" {
		return nil
	}
	sep := ","
	if strings.Contains(raw, ";") {
		sep = ";"
	}
	var authors []string
	for _, p := range strings.Split(raw, sep) {
		p = strings.TrimSpace(p)
		if p != "" {
			authors = append(authors, p)
		}
	}
	return authors
}
