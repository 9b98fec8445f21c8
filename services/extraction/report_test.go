package extraction

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunReportFieldNames(t *testing.T) {
	run := Run{
		RunID:       "abc123",
		JournalCode: "JMATH",
		Outcome:     RunFailed,
		Manuscripts: []ManuscriptSeen{
			{ExternalID: "M100001", LifecycleState: "ACTIVE", RefereeCount: 2, Changed: true},
		},
		Errors: []string{"authentication failed"},
	}

	data, err := json.Marshal(run)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Contains(t, decoded, "manuscriptsSeen")
	require.Contains(t, decoded, "errors")
	require.NotContains(t, decoded, "error")
	require.NotContains(t, decoded, "manuscripts")
}

func TestRunWritePersistsReport(t *testing.T) {
	dir := t.TempDir()
	run := Run{RunID: "abc123", JournalCode: "JMATH", Outcome: RunSucceeded}

	path, err := run.Write(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "JMATH-abc123.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded Run
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, RunSucceeded, decoded.Outcome)
}
