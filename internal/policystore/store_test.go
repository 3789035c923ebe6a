package policystore

import (
	"io"
	"log"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/hack-pad/hackpadfs"
	"github.com/hack-pad/hackpadfs/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/spinloop/internal/bandit"
)

type storeUnderTest struct {
	store bandit.PolicyStore
	// corrupt overwrites the persisted snapshot with unreadable bytes.
	corrupt func(t *testing.T)
	close   func()
}

type storeFactory func(t *testing.T) storeUnderTest

func fileFactory(t *testing.T) storeUnderTest {
	fsys, err := mem.NewFS()
	require.NoError(t, err)
	f := NewFile(fsys, "state/policy.json")
	return storeUnderTest{
		store: f,
		corrupt: func(t *testing.T) {
			require.NoError(t, hackpadfs.WriteFullFile(fsys, f.Path, []byte("{not json"), 0o644))
		},
		close: func() {},
	}
}

func sqliteFactory(t *testing.T) storeUnderTest {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "policy.db"), 3)
	require.NoError(t, err)
	return storeUnderTest{
		store: s,
		corrupt: func(t *testing.T) {
			_, err := s.db.Exec(`UPDATE policy_snapshots SET body = '{not json'`)
			require.NoError(t, err)
		},
		close: func() { s.Close() },
	}
}

// runTestsForAllStores runs a test function against both backends.
func runTestsForAllStores(t *testing.T, testName string, testFn func(t *testing.T, s storeUnderTest)) {
	factories := map[string]storeFactory{
		"File":   fileFactory,
		"SQLite": sqliteFactory,
	}
	for name, factory := range factories {
		t.Run(name+"/"+testName, func(t *testing.T) {
			s := factory(t)
			defer s.close()
			testFn(t, s)
		})
	}
}

func sampleSnapshot() bandit.Snapshot {
	return bandit.Snapshot{
		Version: bandit.SnapshotVersion,
		SavedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Actions: []bandit.Action{"summary", "plot"},
		Encoder: bandit.EncoderState{
			Terms:     []string{"dragon", "plot", "summary"},
			IDF:       []float64{1.6931471805599454, 1.2876820724517808, 1.2876820724517808},
			Documents: 3,
		},
		Models: map[bandit.Action]bandit.ModelState{
			"summary": {},
			"plot":    {Weights: []float64{0.0071, 0.0054, 0}, Intercept: 0.008, Steps: 1},
		},
		History: []bandit.Interaction{{Query: "dragon plot", Action: "plot", Reward: 0.8}},
	}
}

func newAgent(t *testing.T, store bandit.PolicyStore) *bandit.Agent {
	t.Helper()
	a, err := bandit.New(bandit.Options{
		Actions: []bandit.Action{"summary", "characters", "plot"},
		Rand:    rand.New(rand.NewSource(1)),
		Store:   store,
		Logger:  log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)
	return a
}

func TestLoadEmptyStore(t *testing.T) {
	runTestsForAllStores(t, "LoadEmpty", func(t *testing.T, s storeUnderTest) {
		_, err := s.store.Load()
		assert.ErrorIs(t, err, bandit.ErrNoSnapshot)
	})
}

func TestSaveLoadRoundTrip(t *testing.T) {
	runTestsForAllStores(t, "RoundTrip", func(t *testing.T, s storeUnderTest) {
		want := sampleSnapshot()
		require.NoError(t, s.store.Save(want))
		got, err := s.store.Load()
		require.NoError(t, err)
		assert.Equal(t, want, *got)
	})
}

func TestSaveReplacesPrevious(t *testing.T) {
	runTestsForAllStores(t, "Replace", func(t *testing.T, s storeUnderTest) {
		first := sampleSnapshot()
		require.NoError(t, s.store.Save(first))
		second := sampleSnapshot()
		second.History = append(second.History, bandit.Interaction{Query: "summary", Action: "summary", Reward: -0.2})
		require.NoError(t, s.store.Save(second))

		got, err := s.store.Load()
		require.NoError(t, err)
		assert.Len(t, got.History, 2)
	})
}

func TestCorruptSnapshotIsAnError(t *testing.T) {
	runTestsForAllStores(t, "Corrupt", func(t *testing.T, s storeUnderTest) {
		require.NoError(t, s.store.Save(sampleSnapshot()))
		s.corrupt(t)
		_, err := s.store.Load()
		require.Error(t, err)
		assert.NotErrorIs(t, err, bandit.ErrNoSnapshot)

		// the agent starts fresh instead of failing
		a := newAgent(t, s.store)
		assert.Equal(t, 0, a.HistoryLen())
	})
}

func TestAgentSurvivesRestart(t *testing.T) {
	runTestsForAllStores(t, "AgentRestart", func(t *testing.T, s storeUnderTest) {
		a := newAgent(t, s.store)
		require.NoError(t, a.Update("summary", "summary", 1))
		require.NoError(t, a.Update("who is the hero", "characters", 0.6))
		require.NoError(t, a.Update("dragon plot twist", "plot", 0.2))
		require.NoError(t, a.Save())

		b := newAgent(t, s.store)
		assert.Equal(t, 3, b.HistoryLen())
		assert.Equal(t, a.Vocabulary(), b.Vocabulary())
		for _, q := range []string{"summary", "who is the hero", "dragon plot"} {
			assert.Equal(t, a.Decide(q).Scores, b.Decide(q).Scores, q)
		}
	})
}

func TestFileSaveLeavesNoTempFile(t *testing.T) {
	fsys, err := mem.NewFS()
	require.NoError(t, err)
	f := NewFile(fsys, "policy.json")
	require.NoError(t, f.Save(sampleSnapshot()))
	require.NoError(t, f.Save(sampleSnapshot()))

	_, err = hackpadfs.Stat(fsys, "policy.json.tmp")
	assert.Error(t, err)
	_, err = hackpadfs.Stat(fsys, "policy.json")
	assert.NoError(t, err)
}

func TestOSFileRoundTrip(t *testing.T) {
	f, err := NewOSFile(filepath.Join(t.TempDir(), "nested", "policy.json"))
	require.NoError(t, err)
	_, err = f.Load()
	assert.ErrorIs(t, err, bandit.ErrNoSnapshot)

	require.NoError(t, f.Save(sampleSnapshot()))
	got, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot(), *got)
}

func TestSQLiteVersionsArePruned(t *testing.T) {
	s, err := NewSQLite(":memory:", 2)
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 4; i++ {
		snap := sampleSnapshot()
		for j := 0; j < i; j++ {
			snap.History = append(snap.History, bandit.Interaction{Query: "plot", Action: "plot", Reward: 0.1})
		}
		require.NoError(t, s.Save(snap))
	}
	versions, err := s.Versions()
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.True(t, versions[0].Active)
	assert.False(t, versions[1].Active)
	assert.Equal(t, 4, versions[0].HistoryLen)
	assert.Equal(t, 3, versions[0].VocabLen)

	require.NoError(t, s.Activate(versions[1].ID))
	got, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, got.History, 3)

	assert.Error(t, s.Activate("missing"))
}

func TestNewSelectsBackend(t *testing.T) {
	dir := t.TempDir()
	st, err := New("file", filepath.Join(dir, "p.json"), 0)
	require.NoError(t, err)
	assert.IsType(t, &File{}, st)

	st, err = New("sqlite", filepath.Join(dir, "p.db"), 3)
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, st)
	st.(*SQLite).Close()

	_, err = New("s3", "x", 0)
	assert.Error(t, err)
}
