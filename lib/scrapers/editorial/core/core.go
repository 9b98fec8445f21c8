package core

import (
	"bytes"
	"context"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"time"

	"refwatch-backend/lib/scrapers/editorial/platform"
	"refwatch-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("scrapers/editorial/core")

// Warning is a non-fatal extraction defect surfaced to the run
// report. "nothing found" must never be conflated with "parsing
// threw", so degraded results always carry one of these.
type Warning struct {
	Code    string
	Subject string
	Detail  string
}

// NavigationError wraps timeouts and transport failures that survive
// the bounded retry loop. The orchestrator downgrades these to a
// skip-with-warning for the one manuscript involved.
type NavigationError struct {
	Path string
	Err  error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed: %s", e.Path, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

const navigationAttempts = 3

// Client is one authenticated browsing context. Portals are stateful
// per credential: a client must never be shared across concurrent
// journal crawls.
type Client struct {
	BaseUrl  *url.URL
	Http     *resty.Client
	Platform platform.Platform

	limiter *rate.Limiter
}

type ClientOptions struct {
	BaseUrl  string
	Platform platform.Platform
	// polite pacing against the portal, defaults to 2 rps
	RequestsPerSecond float64
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "scrapers/editorial/http")

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}

	c := &Client{
		BaseUrl:  baseUrl,
		Http:     client,
		Platform: opts.Platform,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
	}
	return c, nil
}

// GetDocument fetches a page within the session, retrying transient
// failures with backoff before giving up with a NavigationError.
func (c *Client) GetDocument(ctx context.Context, path string) (*goquery.Document, error) {
	ctx, span := tracer.Start(ctx, "client:GetDocument")
	defer span.End()
	span.SetAttributes(attribute.String("path", path))

	var lastErr error
	for attempt := 0; attempt < navigationAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Second * (1 << attempt)):
			case <-ctx.Done():
				return nil, &NavigationError{Path: path, Err: ctx.Err()}
			}
		}

		err := c.limiter.Wait(ctx)
		if err != nil {
			return nil, &NavigationError{Path: path, Err: err}
		}

		res, err := c.Http.R().
			SetContext(ctx).
			Get(path)
		if err != nil {
			lastErr = err
			continue
		}
		if res.StatusCode() >= 500 {
			lastErr = fmt.Errorf("status %d", res.StatusCode())
			continue
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to parse html")
			return nil, err
		}
		return doc, nil
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "retries exhausted")
	return nil, &NavigationError{Path: path, Err: lastErr}
}

// PostForm submits a form and parses the resulting page.
func (c *Client) PostForm(ctx context.Context, path string, form map[string]string) (*goquery.Document, error) {
	ctx, span := tracer.Start(ctx, "client:PostForm")
	defer span.End()
	span.SetAttributes(attribute.String("path", path))

	err := c.limiter.Wait(ctx)
	if err != nil {
		return nil, &NavigationError{Path: path, Err: err}
	}

	res, err := c.Http.R().
		SetContext(ctx).
		SetFormData(form).
		Post(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit form")
		return nil, &NavigationError{Path: path, Err: err}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse html")
		return nil, err
	}
	return doc, nil
}

// Download fetches raw bytes for a url within the session. This is
// the pass-through capability detail extraction hands to document
// consumers, the bytes themselves are not interpreted here.
func (c *Client) Download(ctx context.Context, href string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "client:Download")
	defer span.End()
	span.SetAttributes(attribute.String("url", href))

	err := c.limiter.Wait(ctx)
	if err != nil {
		return nil, err
	}

	res, err := c.Http.R().
		SetContext(ctx).
		Get(href)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "download failed")
		return nil, err
	}
	return res.Body(), nil
}
