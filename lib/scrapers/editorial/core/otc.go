package core

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

var ErrCodeTimeout = fmt.Errorf("timed out waiting for one-time code")

// OneTimeCodeSource retrieves the short-lived verification code a
// portal emails out during login. `after` is a hard time floor: codes
// sourced before it belong to an earlier login attempt and must not
// be returned.
type OneTimeCodeSource interface {
	FetchCode(ctx context.Context, accountHint string, after time.Time, maxWait, pollInterval time.Duration) (string, error)
}

// ManualCodePrompt is the synchronous fallback once polling is
// exhausted.
type ManualCodePrompt func(ctx context.Context) (string, error)

// InboxSearch looks for a verification code in a searchable inbox
// scoped by sender and time window. How the inbox itself is reached
// and authenticated is not this package's concern.
type InboxSearch func(ctx context.Context, accountHint string, since time.Time) (code string, receivedAt time.Time, err error)

// InboxCodeSource adapts an InboxSearch into a bounded, backoff-spaced
// poll loop.
type InboxCodeSource struct {
	Search InboxSearch
}

func (s InboxCodeSource) FetchCode(ctx context.Context, accountHint string, after time.Time, maxWait, pollInterval time.Duration) (string, error) {
	deadline := time.Now().Add(maxWait)
	wait := pollInterval

	for {
		code, receivedAt, err := s.Search(ctx, accountHint, after)
		// a code stamped before the login attempt is a stale leftover
		// from an earlier retry, keep polling
		if err == nil && code != "" && !receivedAt.Before(after) {
			return code, nil
		}
		if err != nil && ctx.Err() != nil {
			return "", ctx.Err()
		}

		if time.Now().Add(wait).After(deadline) {
			return "", ErrCodeTimeout
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		wait *= 2
	}
}

// StdinPrompt reads a manually relayed code from the terminal.
func StdinPrompt(ctx context.Context) (string, error) {
	fmt.Fprint(os.Stderr, "enter verification code: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
