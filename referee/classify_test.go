package referee

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testMarkers = Markers{
	Declined:       []string{"declined", "refused"},
	NoReply:        []string{"noresponse", "noreply"},
	ContactLabels:  []string{"last contact date", "contact date", "invited"},
	DueLabels:      []string{"due", "report due"},
	ReceivedLabels: []string{"rcvd", "received"},
}

var testLayouts = []string{"2006-01-02", "Jan 02, 2006", "01/02/2006"}

func date(t *testing.T, value string) time.Time {
	parsed, err := ParseDate(value, testLayouts)
	require.NoError(t, err)
	return parsed
}

func TestClassifyContactedSection(t *testing.T) {
	rows := []string{
		"Daudin, Pierre #3 (Université de Genève) (Declined) (Last Contact Date: 2025-02-04)",
		"Okafor, Chidi (No Response) (Last Contact Date: 2025-01-20)",
		"Müller, Hans (mueller@example.edu) (Last Contact Date: 2025-03-01)",
	}

	refs, warnings := Classify(rows, SectionContacted, testMarkers, testLayouts)
	require.Empty(t, warnings)
	require.Len(t, refs, 3)

	{
		ref := refs[0]
		require.Equal(t, "Daudin, Pierre", ref.DisplayName)
		require.Equal(t, "daudin, pierre", ref.IdentityKey)
		require.Equal(t, StatusDeclined, ref.Status)
		require.Equal(t, "Université de Genève", ref.Affiliation)
		require.Equal(t, date(t, "2025-02-04"), ref.ContactDate)
	}
	{
		ref := refs[1]
		require.Equal(t, StatusNoResponse, ref.Status)
		require.Equal(t, date(t, "2025-01-20"), ref.ContactDate)
	}
	{
		ref := refs[2]
		require.Equal(t, StatusAwaitingResponse, ref.Status)
		// email takes over as the identity key when present
		require.Equal(t, "mueller@example.edu", ref.IdentityKey)
	}
}

func TestClassifyAcceptedSection(t *testing.T) {
	rows := []string{
		"Ferrari, Anna (ferrari@uni.it) (Report Rcvd: Jun 02, 2025)",
		"Li, Wei (Due: 2025-04-17)",
	}

	refs, warnings := Classify(rows, SectionAccepted, testMarkers, testLayouts)
	require.Empty(t, warnings)
	require.Len(t, refs, 2)

	require.Equal(t, StatusAcceptedReportSubmitted, refs[0].Status)
	require.Equal(t, date(t, "2025-06-02"), refs[0].ReportDate)

	require.Equal(t, StatusAcceptedAwaitingReport, refs[1].Status)
	require.Equal(t, date(t, "2025-04-17"), refs[1].DueDate)
	require.True(t, refs[1].ReportDate.IsZero())
}

func TestClassifySectionDecidesStatusFamily(t *testing.T) {
	// the row text claims a decline, but the row sits in the accepted
	// section; section membership wins
	rows := []string{"Novak, Petra (Status: Declined) (Due: 2025-05-10)"}

	refs, warnings := Classify(rows, SectionAccepted, testMarkers, testLayouts)
	require.Empty(t, warnings)
	require.Len(t, refs, 1)
	require.Equal(t, StatusAcceptedAwaitingReport, refs[0].Status)
}

func TestClassifyAcceptedWithoutAnyDate(t *testing.T) {
	rows := []string{"Santos, Maria (Universidade de Lisboa)"}

	refs, warnings := Classify(rows, SectionAccepted, testMarkers, testLayouts)
	require.Len(t, refs, 1)
	require.Equal(t, StatusAcceptedAwaitingReport, refs[0].Status)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0].Message, "neither a due nor a received date")
}

func TestClassifyToleratesLooseDateFormats(t *testing.T) {
	// not one of the platform layouts, the fallback parser picks it up
	rows := []string{"Ferrari, Anna (Report Rcvd: June 2, 2025)"}

	refs, warnings := Classify(rows, SectionAccepted, testMarkers, testLayouts)
	require.Empty(t, warnings)
	require.Len(t, refs, 1)
	require.Equal(t, StatusAcceptedReportSubmitted, refs[0].Status)
	require.Equal(t, 2025, refs[0].ReportDate.Year())
	require.Equal(t, time.June, refs[0].ReportDate.Month())
	require.Equal(t, 2, refs[0].ReportDate.Day())
}

func TestClassifyUnparseableDateDegrades(t *testing.T) {
	rows := []string{"Li, Wei (Due: sometime soon)"}

	refs, warnings := Classify(rows, SectionAccepted, testMarkers, testLayouts)
	require.Len(t, refs, 1)
	// the date degraded, the referee did not vanish
	require.True(t, refs[0].DueDate.IsZero())
	require.NotEmpty(t, warnings)
	require.Contains(t, warnings[0].Message, "unparseable due date")
}

func TestClassifySkipsRowsWithoutIdentity(t *testing.T) {
	rows := []string{
		"(Declined) (Last Contact Date: 2025-02-04)",
		"Okafor, Chidi (Last Contact Date: 2025-01-20)",
	}

	refs, warnings := Classify(rows, SectionContacted, testMarkers, testLayouts)
	require.Len(t, refs, 1)
	require.Equal(t, "Okafor, Chidi", refs[0].DisplayName)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0].Message, "no recognizable referee identity")
}

func TestIdentityKeyPrefersEmail(t *testing.T) {
	require.Equal(t, "a@b.org", IdentityKey("Someone Else", "A@B.org"))
	require.Equal(t, "ferrari, anna", IdentityKey("Ferrari,   Anna", ""))
}
