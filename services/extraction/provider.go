package extraction

import (
	"fmt"

	"refwatch-backend/lib/configutil"
	"refwatch-backend/lib/scrapers/editorial/core"
)

// CredentialProvider resolves portal credentials per journal. Secrets
// stay out of the journal config so the config file can be committed.
type CredentialProvider interface {
	Credentials(journalCode string) (core.Credentials, string, error)
}

type credentialEntry struct {
	Username    string `json:"username"`
	Secret      string `json:"secret"`
	AccountHint string `json:"accountHint"`
}

type fileCredentials struct {
	entries map[string]credentialEntry
}

// FileCredentials loads a credentials file (json5, with the usual
// .local override) mapping journal codes to login entries.
func FileCredentials(path string) (CredentialProvider, error) {
	entries, err := configutil.ReadConfig[map[string]credentialEntry](path)
	if err != nil {
		return nil, err
	}
	return fileCredentials{entries: entries}, nil
}

func (f fileCredentials) Credentials(journalCode string) (core.Credentials, string, error) {
	entry, ok := f.entries[journalCode]
	if !ok {
		return core.Credentials{}, "", fmt.Errorf("no credentials configured for journal %q", journalCode)
	}
	return core.Credentials{
		Username: entry.Username,
		Secret:   entry.Secret,
	}, entry.AccountHint, nil
}
