package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beatwatch/pkg/ontology"
	"beatwatch/pkg/shared"
)

func TestCreateBeat(t *testing.T) {
	env := newTestEnv(t)

	t.Run("creates pending beat with pending acceptance rows", func(t *testing.T) {
		beat := createTestBeat(t, env, "p-001", "p-002")

		assert.NotEmpty(t, beat.BeatID)
		assert.Equal(t, shared.BeatStatusPending, beat.Status)
		assert.Equal(t, []string{"p-001", "p-002"}, beat.AssignedPersonnel)
		assert.Equal(t, int64(0), beat.ViolationCount)
		assert.Nil(t, beat.StartedAt)

		accs, err := env.acceptances.ListForBeat(beat.BeatID)
		require.NoError(t, err)
		require.Len(t, accs, 2)
		for _, acc := range accs {
			assert.Equal(t, shared.AcceptanceStatusPending, acc.Status)
			assert.False(t, acc.Released)
		}
	})

	t.Run("rejects missing province", func(t *testing.T) {
		req := testBeatRequest("p-001")
		req.Province = ""

		_, err := env.beats.CreateBeat(req, "test-supervisor")
		assert.True(t, shared.IsValidation(err))
	})

	t.Run("rejects radius outside bounds", func(t *testing.T) {
		for _, radius := range []float64{9.9, 10001} {
			req := testBeatRequest("p-001")
			req.RadiusMeters = radius

			_, err := env.beats.CreateBeat(req, "test-supervisor")
			assert.True(t, shared.IsValidation(err), "radius %v", radius)
		}
	})

	t.Run("rejects out-of-range center", func(t *testing.T) {
		req := testBeatRequest("p-001")
		req.Center.Latitude = 91

		_, err := env.beats.CreateBeat(req, "test-supervisor")
		assert.True(t, shared.IsValidation(err))
	})

	t.Run("rejects malformed schedule", func(t *testing.T) {
		req := testBeatRequest("p-001")
		req.DutyEnd = "25:00"

		_, err := env.beats.CreateBeat(req, "test-supervisor")
		assert.True(t, shared.IsValidation(err))
	})

	t.Run("rejects duplicate personnel ids", func(t *testing.T) {
		_, err := env.beats.CreateBeat(testBeatRequest("p-001", "p-001"), "test-supervisor")
		assert.True(t, shared.IsValidation(err))
	})

	t.Run("rejects empty personnel id", func(t *testing.T) {
		_, err := env.beats.CreateBeat(testBeatRequest("p-001", ""), "test-supervisor")
		assert.True(t, shared.IsValidation(err))
	})
}

func TestUpdateBeat(t *testing.T) {
	env := newTestEnv(t)

	t.Run("patches only the provided fields", func(t *testing.T) {
		beat := createTestBeat(t, env, "p-010")

		radius := 750.0
		updated, err := env.beats.UpdateBeat(&ontology.UpdateBeatRequest{
			BeatID:       beat.BeatID,
			RadiusMeters: &radius,
			DutyEnd:      strPtr("18:00"),
		}, "test-supervisor")
		require.NoError(t, err)

		assert.Equal(t, 750.0, updated.RadiusMeters)
		assert.Equal(t, "18:00", updated.DutyEnd)
		assert.Equal(t, beat.CenterLat, updated.CenterLat)
		assert.Equal(t, beat.DutyStart, updated.DutyStart)
		assert.Equal(t, beat.Province, updated.Province)
	})

	t.Run("validates the merged geometry", func(t *testing.T) {
		beat := createTestBeat(t, env, "p-011")

		radius := 5.0
		_, err := env.beats.UpdateBeat(&ontology.UpdateBeatRequest{
			BeatID:       beat.BeatID,
			RadiusMeters: &radius,
		}, "test-supervisor")
		assert.True(t, shared.IsValidation(err))
	})

	t.Run("rejects edits once the beat is on duty", func(t *testing.T) {
		beat := createTestBeat(t, env, "p-012")
		acceptAll(t, env, beat.BeatID, "p-012")

		radius := 600.0
		_, err := env.beats.UpdateBeat(&ontology.UpdateBeatRequest{
			BeatID:       beat.BeatID,
			RadiusMeters: &radius,
		}, "test-supervisor")
		assert.True(t, shared.IsInvalidState(err))
	})

	t.Run("unknown beat", func(t *testing.T) {
		_, err := env.beats.UpdateBeat(&ontology.UpdateBeatRequest{BeatID: "nope"}, "test-supervisor")
		assert.True(t, shared.IsNotFound(err))
	})
}

func TestDeleteBeat(t *testing.T) {
	env := newTestEnv(t)

	t.Run("deletes a pending beat and its acceptance rows", func(t *testing.T) {
		beat := createTestBeat(t, env, "p-020")

		require.NoError(t, env.beats.DeleteBeat(beat.BeatID, "test-supervisor"))

		_, err := env.beats.GetBeat(beat.BeatID)
		assert.True(t, shared.IsNotFound(err))

		var count int
		require.NoError(t, env.store.DB.QueryRow(
			`SELECT COUNT(*) FROM acceptances WHERE beat_id = ?`, beat.BeatID,
		).Scan(&count))
		assert.Zero(t, count)
	})

	t.Run("refuses to delete a beat with personnel on active duty", func(t *testing.T) {
		beat := createTestBeat(t, env, "p-021")
		acceptAll(t, env, beat.BeatID, "p-021")

		err := env.beats.DeleteBeat(beat.BeatID, "test-supervisor")
		assert.True(t, shared.IsConflict(err))
	})

	t.Run("unknown beat", func(t *testing.T) {
		err := env.beats.DeleteBeat("nope", "test-supervisor")
		assert.True(t, shared.IsNotFound(err))
	})
}

func TestMarkDeclined(t *testing.T) {
	env := newTestEnv(t)

	t.Run("requires a recorded decline", func(t *testing.T) {
		beat := createTestBeat(t, env, "p-030", "p-031")

		_, err := env.beats.MarkDeclined(beat.BeatID, "test-supervisor")
		assert.True(t, shared.IsInvalidState(err))
	})

	t.Run("marks a pending beat declined after a decline", func(t *testing.T) {
		beat := createTestBeat(t, env, "p-032", "p-033")

		_, err := env.acceptances.Respond(&ontology.RespondRequest{
			BeatID:      beat.BeatID,
			PersonnelID: "p-032",
			Decision:    "decline",
			Reason:      "medical leave",
		}, "p-032")
		require.NoError(t, err)

		declined, err := env.beats.MarkDeclined(beat.BeatID, "test-supervisor")
		require.NoError(t, err)
		assert.Equal(t, shared.BeatStatusDeclined, declined.Status)
	})

	t.Run("rejects non-pending beats", func(t *testing.T) {
		beat := createTestBeat(t, env, "p-034")
		acceptAll(t, env, beat.BeatID, "p-034")

		_, err := env.beats.MarkDeclined(beat.BeatID, "test-supervisor")
		assert.True(t, shared.IsInvalidState(err))
	})
}

func TestCompleteBeat(t *testing.T) {
	env := newTestEnv(t)

	t.Run("completes an in-progress beat", func(t *testing.T) {
		beat := createTestBeat(t, env, "p-040")
		acceptAll(t, env, beat.BeatID, "p-040")

		completed, err := env.beats.CompleteBeat(beat.BeatID, "test-supervisor")
		require.NoError(t, err)
		assert.Equal(t, shared.BeatStatusCompleted, completed.Status)
		require.NotNil(t, completed.CompletedAt)
	})

	t.Run("rejects a second completion", func(t *testing.T) {
		beat := createTestBeat(t, env, "p-041")
		acceptAll(t, env, beat.BeatID, "p-041")

		_, err := env.beats.CompleteBeat(beat.BeatID, "test-supervisor")
		require.NoError(t, err)

		_, err = env.beats.CompleteBeat(beat.BeatID, "test-supervisor")
		assert.True(t, shared.IsInvalidState(err))
	})

	t.Run("rejects a beat that never started", func(t *testing.T) {
		beat := createTestBeat(t, env, "p-042")

		_, err := env.beats.CompleteBeat(beat.BeatID, "test-supervisor")
		assert.True(t, shared.IsInvalidState(err))
	})
}

func TestListBeats(t *testing.T) {
	env := newTestEnv(t)

	beat := createTestBeat(t, env, "p-050")
	other := testBeatRequest("p-051")
	other.Province = "Batangas"
	_, err := env.beats.CreateBeat(other, "test-supervisor")
	require.NoError(t, err)

	t.Run("filters by province", func(t *testing.T) {
		beats, err := env.beats.ListBeats(ontology.BeatFilters{Province: "Oriental Mindoro"})
		require.NoError(t, err)
		require.Len(t, beats, 1)
		assert.Equal(t, beat.BeatID, beats[0].BeatID)
		assert.Equal(t, []string{"p-050"}, beats[0].AssignedPersonnel)
	})

	t.Run("filters by status", func(t *testing.T) {
		beats, err := env.beats.ListBeats(ontology.BeatFilters{Status: shared.BeatStatusPending})
		require.NoError(t, err)
		assert.Len(t, beats, 2)
	})
}
