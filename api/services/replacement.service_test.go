package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beatwatch/pkg/ontology"
	"beatwatch/pkg/shared"
)

func TestRecordReplacement(t *testing.T) {
	env := newTestEnv(t)

	t.Run("substitution releases the old row and seeds a pending one", func(t *testing.T) {
		beat := createTestBeat(t, env, "p-300", "p-301")

		record, err := env.replacements.RecordReplacement(&ontology.RecordReplacementRequest{
			BeatID:         beat.BeatID,
			OldPersonnelID: strPtr("p-300"),
			NewPersonnelID: strPtr("p-302"),
			Reason:         "shift swap",
		}, "test-supervisor")
		require.NoError(t, err)
		require.NotNil(t, record.OldPersonnelID)
		require.NotNil(t, record.NewPersonnelID)
		assert.Equal(t, "shift swap", record.Reason)

		current, err := env.beats.GetBeat(beat.BeatID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"p-301", "p-302"}, current.AssignedPersonnel)

		// The old row survives as history.
		accs, err := env.acceptances.ListForBeat(beat.BeatID)
		require.NoError(t, err)
		assert.Len(t, accs, 3)

		for _, acc := range accs {
			if acc.PersonnelID == "p-302" {
				assert.Equal(t, shared.AcceptanceStatusPending, acc.Status)
				assert.False(t, acc.Released)
			}
			if acc.PersonnelID == "p-300" {
				assert.True(t, acc.Released)
			}
		}
	})

	t.Run("pure removal leaves the beat status alone", func(t *testing.T) {
		beat := createTestBeat(t, env, "p-310", "p-311")

		_, err := env.replacements.RecordReplacement(&ontology.RecordReplacementRequest{
			BeatID:         beat.BeatID,
			OldPersonnelID: strPtr("p-310"),
			Reason:         "resigned",
		}, "test-supervisor")
		require.NoError(t, err)

		current, err := env.beats.GetBeat(beat.BeatID)
		require.NoError(t, err)
		assert.Equal(t, shared.BeatStatusPending, current.Status)
		assert.Equal(t, []string{"p-311"}, current.AssignedPersonnel)
	})

	t.Run("adding a member suspends an active duty", func(t *testing.T) {
		beat := createTestBeat(t, env, "p-320")
		acceptAll(t, env, beat.BeatID, "p-320")

		_, err := env.replacements.RecordReplacement(&ontology.RecordReplacementRequest{
			BeatID:         beat.BeatID,
			NewPersonnelID: strPtr("p-321"),
			Reason:         "reinforcement",
		}, "test-supervisor")
		require.NoError(t, err)

		current, err := env.beats.GetBeat(beat.BeatID)
		require.NoError(t, err)
		assert.Equal(t, shared.BeatStatusPending, current.Status)

		// Duty resumes once the newcomer accepts.
		acceptAll(t, env, beat.BeatID, "p-321")
		current, err = env.beats.GetBeat(beat.BeatID)
		require.NoError(t, err)
		assert.Equal(t, shared.BeatStatusInProgress, current.Status)
	})

	t.Run("replacing a decliner reopens a declined beat", func(t *testing.T) {
		beat := createTestBeat(t, env, "p-330")

		_, err := env.acceptances.Respond(&ontology.RespondRequest{
			BeatID:      beat.BeatID,
			PersonnelID: "p-330",
			Decision:    "decline",
			Reason:      "on leave",
		}, "p-330")
		require.NoError(t, err)

		_, err = env.beats.MarkDeclined(beat.BeatID, "test-supervisor")
		require.NoError(t, err)

		_, err = env.replacements.RecordReplacement(&ontology.RecordReplacementRequest{
			BeatID:         beat.BeatID,
			OldPersonnelID: strPtr("p-330"),
			NewPersonnelID: strPtr("p-331"),
			Reason:         "decliner substituted",
		}, "test-supervisor")
		require.NoError(t, err)

		current, err := env.beats.GetBeat(beat.BeatID)
		require.NoError(t, err)
		assert.Equal(t, shared.BeatStatusPending, current.Status)
	})

	t.Run("requires a reason", func(t *testing.T) {
		beat := createTestBeat(t, env, "p-340")

		_, err := env.replacements.RecordReplacement(&ontology.RecordReplacementRequest{
			BeatID:         beat.BeatID,
			OldPersonnelID: strPtr("p-340"),
		}, "test-supervisor")
		assert.True(t, shared.IsValidation(err))

		// A failed request leaves no ledger entry behind.
		records, err := env.replacements.HistoryForBeat(beat.BeatID)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("requires at least one personnel id", func(t *testing.T) {
		beat := createTestBeat(t, env, "p-341")

		_, err := env.replacements.RecordReplacement(&ontology.RecordReplacementRequest{
			BeatID: beat.BeatID,
			Reason: "no-op",
		}, "test-supervisor")
		assert.True(t, shared.IsValidation(err))
	})

	t.Run("rejects a completed beat", func(t *testing.T) {
		beat := createTestBeat(t, env, "p-342")
		acceptAll(t, env, beat.BeatID, "p-342")
		_, err := env.beats.CompleteBeat(beat.BeatID, "test-supervisor")
		require.NoError(t, err)

		_, err = env.replacements.RecordReplacement(&ontology.RecordReplacementRequest{
			BeatID:         beat.BeatID,
			NewPersonnelID: strPtr("p-343"),
			Reason:         "late add",
		}, "test-supervisor")
		assert.True(t, shared.IsInvalidState(err))
	})

	t.Run("rejects an old member who is not assigned", func(t *testing.T) {
		beat := createTestBeat(t, env, "p-344")

		_, err := env.replacements.RecordReplacement(&ontology.RecordReplacementRequest{
			BeatID:         beat.BeatID,
			OldPersonnelID: strPtr("p-999"),
			Reason:         "bad roster",
		}, "test-supervisor")
		assert.True(t, shared.IsNotFound(err))
	})

	t.Run("rejects a new member who is already assigned", func(t *testing.T) {
		beat := createTestBeat(t, env, "p-345", "p-346")

		_, err := env.replacements.RecordReplacement(&ontology.RecordReplacementRequest{
			BeatID:         beat.BeatID,
			NewPersonnelID: strPtr("p-346"),
			Reason:         "duplicate add",
		}, "test-supervisor")
		assert.True(t, shared.IsConflict(err))
	})
}

func TestHistoryForBeat(t *testing.T) {
	env := newTestEnv(t)

	beat := createTestBeat(t, env, "p-350", "p-351")

	_, err := env.replacements.RecordReplacement(&ontology.RecordReplacementRequest{
		BeatID:         beat.BeatID,
		OldPersonnelID: strPtr("p-350"),
		NewPersonnelID: strPtr("p-352"),
		Reason:         "first swap",
	}, "test-supervisor")
	require.NoError(t, err)

	_, err = env.replacements.RecordReplacement(&ontology.RecordReplacementRequest{
		BeatID:         beat.BeatID,
		OldPersonnelID: strPtr("p-352"),
		NewPersonnelID: strPtr("p-353"),
		Reason:         "second swap",
	}, "test-supervisor")
	require.NoError(t, err)

	records, err := env.replacements.HistoryForBeat(beat.BeatID)
	require.NoError(t, err)
	require.Len(t, records, 2)

	reasons := []string{records[0].Reason, records[1].Reason}
	assert.ElementsMatch(t, []string{"first swap", "second swap"}, reasons)

	t.Run("unknown beat", func(t *testing.T) {
		_, err := env.replacements.HistoryForBeat("nope")
		assert.True(t, shared.IsNotFound(err))
	})
}
