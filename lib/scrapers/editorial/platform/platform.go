// Package platform isolates per-portal page layout behind one
// interface so that portal quirks never leak into the orchestrator.
package platform

import (
	"fmt"
	"regexp"
	"sync"

	"refwatch-backend/referee"
)

// Selectors are the css selectors and form paths of one portal
// variant.
type Selectors struct {
	LoginPath     string
	LoginForm     string
	UsernameField string
	PasswordField string
	LoginAction   string

	// one-time verification code prompt
	CodePrompt string
	CodeField  string
	CodeAction string

	// present when credentials were refused outright
	RejectedMarker string
	// present only on an authenticated page, e.g. the sign-out action
	AuthedMarker string

	LandingPath     string
	CategoryAnchors string

	ManuscriptRows string
	RowID          string
	RowDetailLink  string

	DetailTitle      string
	DetailAuthors    string
	DetailStatus     string
	DetailFields     string
	SubmittedLabel   string
	ContactedSection string
	AcceptedSection  string
	RefereeRow       string
	DocumentLinks    string
	// file anchor inside the download popup a DocumentLinks entry opens
	PopupFileLink string
}

type Platform interface {
	Tag() string
	Selectors() Selectors
	Markers() referee.Markers
	// shape of a valid platform-scoped manuscript identifier
	IDPattern() *regexp.Regexp
	// preferred date layouts, tried before the tolerant fallback
	DateLayouts() []string
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Platform{}
)

func Register(p Platform) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[p.Tag()] = p
}

func Lookup(tag string) (Platform, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[tag]
	if !ok {
		return nil, fmt.Errorf("unknown platform %q", tag)
	}
	return p, nil
}
