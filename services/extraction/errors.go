package extraction

import (
	"errors"

	"refwatch-backend/lib/scrapers/editorial/core"
)

// fatalAuth reports whether an error ends the journal run outright.
// Anything wrong with authentication poisons every page fetched
// afterward, so there is no per-manuscript downgrade for these.
func fatalAuth(err error) bool {
	return errors.Is(err, core.ErrCredentialsRejected) ||
		errors.Is(err, core.ErrUnknownPageState) ||
		errors.Is(err, core.ErrCodeTimeout)
}

// transientNavigation reports whether an error is a page-level
// transport failure. These downgrade to a skip-with-warning scoped to
// the one category or manuscript involved.
func transientNavigation(err error) bool {
	var nav *core.NavigationError
	return errors.As(err, &nav)
}
