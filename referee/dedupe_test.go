package referee

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDedupeAdvancedStatusWins(t *testing.T) {
	contact := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	report := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	refs, warnings := Dedupe([]Referee{
		{
			IdentityKey: "ferrari@uni.it",
			DisplayName: "Ferrari, Anna",
			Status:      StatusAwaitingResponse,
			ContactDate: contact,
		},
		{
			IdentityKey: "ferrari@uni.it",
			DisplayName: "Ferrari, Anna",
			Status:      StatusAcceptedReportSubmitted,
			ReportDate:  report,
		},
	})
	require.Empty(t, warnings)
	require.Len(t, refs, 1)

	ref := refs[0]
	require.Equal(t, StatusAcceptedReportSubmitted, ref.Status)
	// the losing row still contributes the date the winner was missing
	require.Equal(t, contact, ref.ContactDate)
	require.Equal(t, report, ref.ReportDate)
}

func TestDedupeEqualRankKeepsFirstObservation(t *testing.T) {
	refs, _ := Dedupe([]Referee{
		{IdentityKey: "li, wei", DisplayName: "Li, Wei", Status: StatusDeclined},
		{IdentityKey: "li, wei", DisplayName: "Li, Wei", Status: StatusNoResponse},
	})
	require.Len(t, refs, 1)
	require.Equal(t, StatusDeclined, refs[0].Status)

	// reversed input keeps its own first observation, so the policy is
	// order-dependent but never ambiguous
	refs, _ = Dedupe([]Referee{
		{IdentityKey: "li, wei", DisplayName: "Li, Wei", Status: StatusNoResponse},
		{IdentityKey: "li, wei", DisplayName: "Li, Wei", Status: StatusDeclined},
	})
	require.Len(t, refs, 1)
	require.Equal(t, StatusNoResponse, refs[0].Status)
}

func TestDedupeIsIdempotent(t *testing.T) {
	input := []Referee{
		{IdentityKey: "a@x.org", DisplayName: "Adams, Ben", Status: StatusAwaitingResponse},
		{IdentityKey: "a@x.org", DisplayName: "Adams, Ben", Status: StatusAcceptedAwaitingReport},
		{IdentityKey: "chen, yu", DisplayName: "Chen, Yu", Status: StatusDeclined},
	}

	once, _ := Dedupe(input)
	twice, _ := Dedupe(once)
	require.Equal(t, once, twice)
}

func TestDedupePreservesDistinctIdentities(t *testing.T) {
	refs, _ := Dedupe([]Referee{
		{IdentityKey: "a@x.org", DisplayName: "Adams, Ben", Status: StatusDeclined},
		{IdentityKey: "b@y.org", DisplayName: "Brown, Cal", Status: StatusDeclined},
	})
	require.Len(t, refs, 2)
}

func TestDedupeFlagsNearIdenticalNames(t *testing.T) {
	refs, warnings := Dedupe([]Referee{
		{IdentityKey: "anna.ferrari@uni.it", DisplayName: "Ferrari, Anna", Status: StatusDeclined},
		{IdentityKey: "a.ferrari@uni.it", DisplayName: "Ferrari, Anne", Status: StatusNoResponse},
	})
	// both survive; merging identities is never automated
	require.Len(t, refs, 2)
	require.NotEmpty(t, warnings)
	require.Contains(t, warnings[0].Message, "similar under distinct identity keys")
}
