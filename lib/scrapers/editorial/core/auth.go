package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"refwatch-backend/lib/timezone"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/codes"
)

var ErrCredentialsRejected = fmt.Errorf("credentials rejected by portal")
var ErrUnknownPageState = fmt.Errorf("page state after login is neither authenticated nor a login form")

type Credentials struct {
	Username string
	Secret   string
}

type LoginOptions struct {
	// identifies the account to the code channel, e.g. the inbox the
	// portal sends verification codes to
	AccountHint string
	CodeSource  OneTimeCodeSource
	// consulted only after the code source is exhausted; nil disables
	// the manual fallback
	ManualPrompt ManualCodePrompt

	CodeMaxWait      time.Duration
	CodePollInterval time.Duration
}

// Login drives the full authentication flow including the one-time
// code round trip. Any error it returns is fatal for the journal run.
func (c *Client) Login(ctx context.Context, creds Credentials, opts LoginOptions) error {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()

	sel := c.Platform.Selectors()

	_, err := c.GetDocument(ctx, sel.LoginPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch login page")
		return err
	}

	doc, err := c.PostForm(ctx, sel.LoginAction, map[string]string{
		sel.UsernameField: creds.Username,
		sel.PasswordField: creds.Secret,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit login form")
		return err
	}

	if len(doc.Find(sel.CodePrompt).Nodes) > 0 {
		// the floor for discarding stale codes is the moment we
		// observed the prompt, not the moment we started polling
		loginTimestamp := timezone.Now()

		code, err := c.resolveOneTimeCode(ctx, opts, loginTimestamp)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to obtain one-time code")
			return err
		}

		doc, err = c.PostForm(ctx, sel.CodeAction, map[string]string{
			sel.CodeField: code,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to submit one-time code")
			return err
		}
	}

	err = c.verifyAuthenticated(doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (c *Client) resolveOneTimeCode(ctx context.Context, opts LoginOptions, after time.Time) (string, error) {
	ctx, span := tracer.Start(ctx, "client:resolveOneTimeCode")
	defer span.End()

	maxWait := opts.CodeMaxWait
	if maxWait <= 0 {
		maxWait = time.Second * 90
	}
	pollInterval := opts.CodePollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second * 5
	}

	if opts.CodeSource != nil {
		// a timeout gets exactly one retry before falling back
		for attempt := 0; attempt < 2; attempt++ {
			code, err := opts.CodeSource.FetchCode(ctx, opts.AccountHint, after, maxWait, pollInterval)
			if err == nil {
				return code, nil
			}
			if !errors.Is(err, ErrCodeTimeout) {
				return "", err
			}
			span.AddEvent("code poll timed out")
		}
	}

	if opts.ManualPrompt != nil {
		return opts.ManualPrompt(ctx)
	}
	return "", ErrCodeTimeout
}

// verifyAuthenticated decides the post-login page state. Success
// requires BOTH the login form to be absent and an authenticated-only
// element to be present; either check alone passes on pages it must
// not (the portals reuse login vocabulary on authenticated views).
func (c *Client) verifyAuthenticated(doc *goquery.Document) error {
	sel := c.Platform.Selectors()

	if len(doc.Find(sel.RejectedMarker).Nodes) > 0 {
		return ErrCredentialsRejected
	}

	loginFormPresent := len(doc.Find(sel.LoginForm).Nodes) > 0
	authedPresent := len(doc.Find(sel.AuthedMarker).Nodes) > 0

	switch {
	case !loginFormPresent && authedPresent:
		return nil
	case loginFormPresent && !authedPresent:
		return ErrCredentialsRejected
	default:
		// both or neither: do not guess, and never treat this as
		// success
		return ErrUnknownPageState
	}
}
