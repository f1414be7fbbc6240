package services

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"beatwatch/db"
	"beatwatch/pkg/ontology"
)

// testEnv wires every service against an in-memory SQLite store and a nil
// NATS client. Audit publishing degrades to a no-op without a broker, which
// keeps these tests focused on state transitions.
type testEnv struct {
	store        *db.Service
	beats        *BeatService
	acceptances  *AcceptanceService
	violations   *ViolationService
	replacements *ReplacementService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := db.New(&db.Config{
		DBPath:         ":memory:",
		MaxOpenConns:   1,
		MaxIdleConns:   1,
		AutoInitialize: true,
		Logger:         zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	locks := NewBeatLocks()
	logger := zap.NewNop()

	return &testEnv{
		store:        store,
		beats:        NewBeatService(store, nil, locks, logger),
		acceptances:  NewAcceptanceService(store, nil, locks, logger),
		violations:   NewViolationService(store, nil, locks, logger),
		replacements: NewReplacementService(store, nil, locks, logger),
	}
}

// testBeatRequest is a valid create request centered on Calapan City with a
// 500 meter radius and a 06:00-14:00 duty window.
func testBeatRequest(personnel ...string) *ontology.CreateBeatRequest {
	return &ontology.CreateBeatRequest{
		Province:     "Oriental Mindoro",
		Unit:         "Calapan City PS",
		SubUnit:      "Beat 7",
		Center:       ontology.Position{Latitude: 13.4119, Longitude: 121.1805},
		RadiusMeters: 500,
		DutyStart:    "06:00",
		DutyEnd:      "14:00",
		PersonnelIDs: personnel,
	}
}

func createTestBeat(t *testing.T, env *testEnv, personnel ...string) *ontology.Beat {
	t.Helper()

	beat, err := env.beats.CreateBeat(testBeatRequest(personnel...), "test-supervisor")
	require.NoError(t, err)
	return beat
}

// acceptAll responds accept for every listed personnel member, which fires
// the auto-start transition once the last one answers.
func acceptAll(t *testing.T, env *testEnv, beatID string, personnel ...string) {
	t.Helper()

	for _, id := range personnel {
		_, err := env.acceptances.Respond(&ontology.RespondRequest{
			BeatID:      beatID,
			PersonnelID: id,
			Decision:    "accept",
		}, id)
		require.NoError(t, err)
	}
}

func strPtr(s string) *string { return &s }
