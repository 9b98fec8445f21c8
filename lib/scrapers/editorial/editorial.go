// Package editorial composes the portal scraping layers into one
// session bound to a single authenticated browsing context.
package editorial

import (
	"context"
	"errors"
	"fmt"

	"refwatch-backend/lib/scrapers/editorial/browse"
	"refwatch-backend/lib/scrapers/editorial/core"
	"refwatch-backend/lib/scrapers/editorial/detail"
	"refwatch-backend/lib/scrapers/editorial/platform"
	"refwatch-backend/referee"

	"github.com/PuerkitoBio/goquery"
)

// DocumentSink receives manuscript/report file bytes downloaded
// within the session. What happens to the bytes (storage, text
// extraction) is outside this module.
type DocumentSink func(ctx context.Context, externalID, href string, data []byte) error

type Session struct {
	Core      *core.Client
	Browser   browse.Browser
	Extractor detail.Extractor

	login core.LoginOptions
	sink  DocumentSink
}

type Options struct {
	BaseUrl           string
	PlatformTag       string
	RequestsPerSecond float64
	Login             core.LoginOptions
	Sink              DocumentSink
}

func NewSession(ctx context.Context, opts Options) (*Session, error) {
	p, err := platform.Lookup(opts.PlatformTag)
	if err != nil {
		return nil, err
	}
	client, err := core.NewClient(ctx, core.ClientOptions{
		BaseUrl:           opts.BaseUrl,
		Platform:          p,
		RequestsPerSecond: opts.RequestsPerSecond,
	})
	if err != nil {
		return nil, err
	}
	return &Session{
		Core:      client,
		Browser:   browse.Browser{Client: client},
		Extractor: detail.Extractor{Client: client},
		login:     opts.Login,
		sink:      opts.Sink,
	}, nil
}

func (s *Session) Login(ctx context.Context, creds core.Credentials) error {
	return s.Core.Login(ctx, creds, s.login)
}

func (s *Session) Platform() platform.Platform {
	return s.Core.Platform
}

func (s *Session) Markers() referee.Markers {
	return s.Core.Platform.Markers()
}

func (s *Session) DateLayouts() []string {
	return s.Core.Platform.DateLayouts()
}

func (s *Session) Categories(ctx context.Context) ([]browse.Category, error) {
	return s.Browser.Categories(ctx)
}

func (s *Session) OpenCategory(ctx context.Context, category browse.Category) (*browse.ListPage, error) {
	return s.Browser.OpenCategory(ctx, category)
}

func (s *Session) ParseList(ctx context.Context, page *browse.ListPage) ([]browse.ManuscriptRef, []core.Warning) {
	return s.Browser.ParseList(ctx, page)
}

func (s *Session) Extract(ctx context.Context, ref browse.ManuscriptRef) (detail.RawSnapshot, []core.Warning, error) {
	return s.Extractor.Extract(ctx, ref)
}

// FetchDocuments is the expensive deep step skipped when a
// manuscript's content hash is unchanged. Each document link opens a
// popup holding the real file anchor; WithPopup guarantees the
// session is back on the primary context before the next link.
func (s *Session) FetchDocuments(ctx context.Context, snapshot detail.RawSnapshot) []core.Warning {
	if s.sink == nil {
		return nil
	}

	sel := s.Core.Platform.Selectors()
	var warnings []core.Warning
	for _, href := range snapshot.DocumentLinks {
		err := s.Browser.WithPopup(ctx, href, func(doc *goquery.Document) error {
			fileHref, ok := doc.Find(sel.PopupFileLink).Attr("href")
			if !ok || fileHref == "" {
				return errors.New("popup carries no file link")
			}
			data, err := s.Core.Download(ctx, fileHref)
			if err != nil {
				return err
			}
			err = s.sink(ctx, snapshot.ExternalID, fileHref, data)
			if err != nil {
				warnings = append(warnings, core.Warning{
					Code:    "document_sink_failed",
					Subject: snapshot.ExternalID,
					Detail:  fmt.Sprintf("%s: %s", fileHref, err),
				})
			}
			return nil
		})
		if err != nil {
			warnings = append(warnings, core.Warning{
				Code:    "document_fetch_failed",
				Subject: snapshot.ExternalID,
				Detail:  fmt.Sprintf("%s: %s", href, err),
			})
		}
	}
	return warnings
}
