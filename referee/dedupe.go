package referee

import (
	"fmt"
	"time"

	"github.com/antzucaro/matchr"
)

// two display names this similar under different identity keys are
// probably the same person typed twice; flagged, never auto-merged
const nearIdentityThreshold = 0.93

// Dedupe merges referees sharing an identity key within one
// manuscript snapshot. The surviving status is the one furthest along
// the lifecycle; on equal rank the earlier observation wins, which
// keeps the result deterministic. Later rows may still fill dates the
// surviving row was missing, since later extraction passes within a
// run can observe more complete state.
func Dedupe(refs []Referee) ([]Referee, []Warning) {
	var order []string
	byKey := map[string]Referee{}

	for _, ref := range refs {
		existing, seen := byKey[ref.IdentityKey]
		if !seen {
			byKey[ref.IdentityKey] = ref
			order = append(order, ref.IdentityKey)
			continue
		}

		winner, loser := existing, ref
		if ref.Status.Rank() > existing.Status.Rank() {
			winner, loser = ref, existing
		}
		winner.ContactDate = fillDate(winner.ContactDate, loser.ContactDate)
		winner.DueDate = fillDate(winner.DueDate, loser.DueDate)
		winner.ReportDate = fillDate(winner.ReportDate, loser.ReportDate)
		if winner.Affiliation == "" {
			winner.Affiliation = loser.Affiliation
		}
		byKey[ref.IdentityKey] = winner
	}

	out := make([]Referee, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}

	return out, nearIdentityWarnings(out)
}

func fillDate(primary, fallback time.Time) time.Time {
	if primary.IsZero() {
		return fallback
	}
	return primary
}

func nearIdentityWarnings(refs []Referee) []Warning {
	var warnings []Warning
	for i := 0; i < len(refs); i++ {
		for j := i + 1; j < len(refs); j++ {
			left := IdentityKey(refs[i].DisplayName, "")
			right := IdentityKey(refs[j].DisplayName, "")
			if left == "" || right == "" {
				continue
			}
			similarity := matchr.JaroWinkler(left, right, false)
			if similarity >= nearIdentityThreshold {
				warnings = append(warnings, Warning{
					Row: refs[j].DisplayName,
					Message: fmt.Sprintf(
						"display names %q and %q are %.0f%% similar under distinct identity keys",
						refs[i].DisplayName, refs[j].DisplayName, similarity*100,
					),
				})
			}
		}
	}
	return warnings
}
