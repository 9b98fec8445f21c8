package browse

import (
	"context"
	"fmt"
	"log/slog"

	"refwatch-backend/lib/htmlutil"
	"refwatch-backend/lib/scrapers/editorial/core"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/editorial/browse")

type Browser struct {
	Client *core.Client
}

// Category is one work-item folder on the authenticated landing view.
type Category struct {
	Name    string
	Count   int
	Locator string
}

type ListPage struct {
	Category Category
	doc      *goquery.Document
}

type ManuscriptRef struct {
	ExternalID    string
	DetailLocator string
}

// Categories discovers folders on the landing view. Only clickable
// entries with an adjacent non-negative count qualify; zero-count
// entries are still returned so the run report can record them, the
// caller just never opens them.
func (b Browser) Categories(ctx context.Context) ([]Category, error) {
	ctx, span := tracer.Start(ctx, "browser:Categories")
	defer span.End()

	sel := b.Client.Platform.Selectors()
	doc, err := b.Client.GetDocument(ctx, sel.LandingPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch landing view")
		return nil, err
	}

	var categories []Category
	for _, a := range htmlutil.GetAnchors(ctx, doc.Find(sel.CategoryAnchors)) {
		count := htmlutil.AdjacentCount(a.Name)
		if count < 0 {
			continue
		}
		categories = append(categories, Category{
			Name:    htmlutil.StripAdjacentCount(a.Name),
			Count:   count,
			Locator: a.Href,
		})
	}

	span.SetAttributes(attribute.Int("categories", len(categories)))
	return categories, nil
}

// OpenCategory fetches a category's listing. It holds no navigation
// state of its own, so reopening after a detail view yields the same
// listing.
func (b Browser) OpenCategory(ctx context.Context, category Category) (*ListPage, error) {
	ctx, span := tracer.Start(ctx, "browser:OpenCategory")
	defer span.End()
	span.SetAttributes(attribute.String("category", category.Name))

	doc, err := b.Client.GetDocument(ctx, category.Locator)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open category")
		return nil, err
	}
	return &ListPage{Category: category, doc: doc}, nil
}

// ParseList extracts manuscript references from a listing. Rows whose
// identifier does not match the platform's shape are skipped with a
// warning, never fatally.
func (b Browser) ParseList(ctx context.Context, page *ListPage) ([]ManuscriptRef, []core.Warning) {
	ctx, span := tracer.Start(ctx, "browser:ParseList")
	defer span.End()

	sel := b.Client.Platform.Selectors()
	idPattern := b.Client.Platform.IDPattern()

	var refs []ManuscriptRef
	var warnings []core.Warning

	page.doc.Find(sel.ManuscriptRows).Each(func(i int, row *goquery.Selection) {
		id := htmlutil.CleanText(row.Find(sel.RowID).Text())
		if !idPattern.MatchString(id) {
			warnings = append(warnings, core.Warning{
				Code:    "invalid_external_id",
				Subject: page.Category.Name,
				Detail:  fmt.Sprintf("row %d: identifier %q does not match the platform shape", i, id),
			})
			return
		}

		href, ok := row.Find(sel.RowDetailLink).Attr("href")
		if !ok || href == "" {
			warnings = append(warnings, core.Warning{
				Code:    "missing_detail_link",
				Subject: id,
				Detail:  "listing row has no detail link",
			})
			return
		}

		refs = append(refs, ManuscriptRef{
			ExternalID:    id,
			DetailLocator: href,
		})
	})

	span.SetAttributes(
		attribute.Int("manuscripts", len(refs)),
		attribute.Int("warnings", len(warnings)),
	)
	return refs, warnings
}

// WithPopup runs fn against a secondary context (the portals render
// referee and report lookups in popups) and guarantees control
// returns to the primary context on every exit path. Continuing a
// crawl against the popup context is how runs get stuck.
func (b Browser) WithPopup(ctx context.Context, href string, fn func(doc *goquery.Document) error) error {
	ctx, span := tracer.Start(ctx, "browser:WithPopup")
	defer span.End()
	span.SetAttributes(attribute.String("popup", href))

	doc, err := b.Client.GetDocument(ctx, href)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open popup")
		return err
	}
	defer func() {
		sel := b.Client.Platform.Selectors()
		_, rerr := b.Client.GetDocument(ctx, sel.LandingPath)
		if rerr != nil {
			slog.WarnContext(ctx, "failed to restore primary context after popup", "err", rerr)
		}
	}()

	return fn(doc)
}
