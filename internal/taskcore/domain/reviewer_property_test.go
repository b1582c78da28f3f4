package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestPropertyStrikeCounterMonotonicity is spec §8 property 3: across
// any sequence of RecordMissedDeadline calls up to suspension, each
// call moves exactly one counter forward (a warning, or a violation
// that resets warnings to 0), so the total strike count
// (warnings + 3*violations, since every third lapse is a violation)
// never decreases, and the call that suspends leaves the reviewer
// inactive and offline. Stickiness after suspension is checked by
// TestPropertySuspensionStickyUntilAdminReset.
func TestPropertyStrikeCounterMonotonicity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewReviewer("rev-1", RoleEmployee)
		hits := rapid.IntRange(1, 50).Draw(t, "hits")

		seenSuspended := false
		prevWarnings, prevViolations := 0, 0
		for i := 0; i < hits; i++ {
			wasActive := r.Active()
			result := r.RecordMissedDeadline()

			if !wasActive {
				t.Fatalf("RecordMissedDeadline called on an already-suspended reviewer")
			}

			// Exactly one of warnings/violations must have moved forward
			// relative to the prior iteration (never both reset without
			// a violation rollover, never backward).
			if result.Kind == IncidentWarning {
				require.Equal(t, prevWarnings+1, result.Warnings)
				require.Equal(t, prevViolations, result.Violations)
			} else {
				require.Equal(t, 0, result.Warnings)
				require.Equal(t, prevViolations+1, result.Violations)
			}
			prevWarnings, prevViolations = result.Warnings, result.Violations

			if result.Suspended {
				seenSuspended = true
				require.False(t, r.Active())
				require.Equal(t, PresenceOffline, r.Presence())
			}
			if seenSuspended {
				// Callers stop calling RecordMissedDeadline once a
				// reviewer is inactive, so the loop ends at suspension;
				// the Fatalf above catches any call past this point.
				break
			}
		}
	})
}

// TestPropertySuspensionStickyUntilAdminReset is spec §8 property 4:
// once active=false, only AdminReset can bring it back to true; no
// other reviewer mutator may revive a suspended reviewer.
func TestPropertySuspensionStickyUntilAdminReset(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewReviewer("rev-1", RoleEmployee)
		for r.Active() {
			r.RecordMissedDeadline()
		}
		require.False(t, r.Active())

		// Every mutator except AdminReset must leave a suspended
		// reviewer suspended.
		_ = r.SetPresence(PresenceAvailable)
		require.False(t, r.Active())

		r.MarkOffline()
		require.False(t, r.Active())

		r.AdminReset()
		require.True(t, r.Active())
		require.Equal(t, 0, r.Warnings())
		require.Equal(t, 0, r.Violations())
	})
}
