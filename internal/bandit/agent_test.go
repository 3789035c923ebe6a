package bandit

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStore keeps every saved snapshot as JSON so tests exercise the
// same encoding path as the durable stores.
type memoryStore struct {
	saved   [][]byte
	loadErr error
	saveErr error
}

func (m *memoryStore) Save(snap Snapshot) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	m.saved = append(m.saved, b)
	return nil
}

func (m *memoryStore) Load() (*Snapshot, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if len(m.saved) == 0 {
		return nil, ErrNoSnapshot
	}
	return m.decode(len(m.saved) - 1)
}

func (m *memoryStore) decode(i int) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(m.saved[i], &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// fixedStore always loads the same snapshot.
type fixedStore struct{ snap *Snapshot }

func (f fixedStore) Save(Snapshot) error { return nil }

func (f fixedStore) Load() (*Snapshot, error) { return f.snap, nil }

var testActions = []Action{"summary", "characters", "style", "plot"}

func newTestAgent(t *testing.T, store PolicyStore, epsilon float64, seed int64) *Agent {
	t.Helper()
	a, err := New(Options{
		Actions: testActions,
		Epsilon: epsilon,
		Alpha:   DefaultAlpha,
		Rand:    rand.New(rand.NewSource(seed)),
		Store:   store,
		Logger:  log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)
	return a
}

// trainAll gives every action at least one example without growing the vocabulary.
func trainAll(t *testing.T, a *Agent) {
	t.Helper()
	require.NoError(t, a.Update("summary", "summary", 1))
	require.NoError(t, a.Update("characters", "characters", 0.6))
	require.NoError(t, a.Update("style", "style", -0.2))
	require.NoError(t, a.Update("plot", "plot", 0.4))
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
	_, err = New(Options{Actions: []Action{"plot", "plot"}})
	assert.Error(t, err)
	_, err = New(Options{Actions: []Action{"plot", " "}})
	assert.Error(t, err)
	_, err = New(Options{Actions: []Action{"plot"}, Epsilon: 1.5})
	assert.Error(t, err)
}

func TestFreshAgentVocabularyIsActionLabels(t *testing.T) {
	a := newTestAgent(t, &memoryStore{}, 0, 1)
	assert.Equal(t, []string{"characters", "plot", "style", "summary"}, a.Vocabulary())
	assert.Equal(t, 0, a.HistoryLen())
}

func TestChooseActionAlwaysReturnsConfiguredAction(t *testing.T) {
	a := newTestAgent(t, nil, 0.3, 7)
	queries := []string{"", "   ", "summary", "dragon lore", "characters of the north", "!!!"}
	for round := 0; round < 3; round++ {
		for _, q := range queries {
			assert.Contains(t, testActions, a.ChooseAction(q))
		}
		require.NoError(t, a.Update("style of "+queries[round+3], "style", 0.2))
	}
}

func TestDecideEmptyQueryExplores(t *testing.T) {
	a := newTestAgent(t, nil, 0, 3)
	trainAll(t, a)
	d := a.Decide("")
	assert.Equal(t, OutcomeExplore, d.Outcome)
	assert.Contains(t, testActions, d.Action)
}

func TestDecideDegradesWhenModelsUnfitted(t *testing.T) {
	a := newTestAgent(t, nil, 0, 3)
	d := a.Decide("summary")
	assert.Equal(t, OutcomeDegraded, d.Outcome)
	assert.ErrorIs(t, d.Reason, ErrNotFitted)
	assert.Contains(t, testActions, d.Action)
}

func TestExploitIsDeterministic(t *testing.T) {
	a := newTestAgent(t, nil, 0, 11)
	trainAll(t, a)

	first := a.Decide("summary")
	require.Equal(t, OutcomeExploit, first.Outcome)
	assert.Equal(t, Action("summary"), first.Action)
	for i := 0; i < 10; i++ {
		d := a.Decide("summary")
		assert.Equal(t, first.Action, d.Action)
		assert.Equal(t, first.Scores, d.Scores)
	}
}

func TestSeededExplorationIsReproducible(t *testing.T) {
	a := newTestAgent(t, nil, 0.5, 99)
	b := newTestAgent(t, nil, 0.5, 99)
	trainAll(t, a)
	trainAll(t, b)
	for i := 0; i < 50; i++ {
		assert.Equal(t, a.Decide("plot summary"), b.Decide("plot summary"))
	}
}

func TestExploitTieGoesToFirstAction(t *testing.T) {
	a := newTestAgent(t, nil, 0, 5)
	for _, act := range testActions {
		require.NoError(t, a.Update("summary", act, 0.5))
	}
	d := a.Decide("summary")
	require.Equal(t, OutcomeExploit, d.Outcome)
	assert.Equal(t, Action("summary"), d.Action)
}

func TestUpdateAppendsExactlyOneRecord(t *testing.T) {
	a := newTestAgent(t, nil, 0, 1)
	require.NoError(t, a.Update("summary", "summary", 0.5))
	assert.Equal(t, 1, a.HistoryLen())
	require.NoError(t, a.Update("a brand new query", "plot", -0.5))
	assert.Equal(t, 2, a.HistoryLen())
}

func TestUpdateRejectsUnknownActionAndBadReward(t *testing.T) {
	a := newTestAgent(t, nil, 0, 1)
	assert.ErrorIs(t, a.Update("summary", "weather", 1), ErrUnknownAction)
	assert.ErrorIs(t, a.Update("summary", "plot", math.NaN()), ErrInvalidReward)
	assert.ErrorIs(t, a.Update("summary", "plot", math.Inf(-1)), ErrInvalidReward)
	assert.Equal(t, 0, a.HistoryLen())
}

func TestUpdateRewardBoundaries(t *testing.T) {
	a := newTestAgent(t, nil, 0, 1)
	assert.NoError(t, a.Update("summary", "summary", -1))
	assert.NoError(t, a.Update("summary", "plot", 1))
	assert.Equal(t, 2, a.HistoryLen())
}

func TestVocabularyDriftRetrainsEveryModel(t *testing.T) {
	a := newTestAgent(t, nil, 0, 1)
	trainAll(t, a)
	before := a.Snapshot()
	require.NotContains(t, before.Encoder.Terms, "dragon")

	require.NoError(t, a.Update("dragon lore", "plot", 0.8))

	after := a.Snapshot()
	assert.Contains(t, after.Encoder.Terms, "dragon")
	assert.Contains(t, after.Encoder.Terms, "lore")
	assert.Greater(t, len(after.Encoder.Terms), len(before.Encoder.Terms))
	assert.Len(t, after.History, 5)
	for _, act := range testActions {
		st := after.Models[act]
		assert.Len(t, st.Weights, len(after.Encoder.Terms), "model %s", act)
	}
	assert.Equal(t, 2, after.Models["plot"].Steps)
	assert.Equal(t, 1, after.Models["summary"].Steps)

	d := a.Decide("dragon lore")
	assert.Equal(t, OutcomeExploit, d.Outcome)
	assert.Len(t, d.Scores, len(testActions))
}

func TestNoDriftUpdatesOnlyNamedModel(t *testing.T) {
	a := newTestAgent(t, nil, 0, 1)
	trainAll(t, a)
	before := a.Snapshot()

	require.NoError(t, a.Update("plot summary", "style", 0.5))

	after := a.Snapshot()
	assert.Equal(t, before.Encoder, after.Encoder)
	for _, act := range []Action{"summary", "characters", "plot"} {
		assert.Equal(t, before.Models[act], after.Models[act], "model %s changed", act)
	}
	assert.NotEqual(t, before.Models["style"], after.Models["style"])
	assert.Equal(t, before.Models["style"].Steps+1, after.Models["style"].Steps)
}

func TestRetrainReplaysHistoryInOrder(t *testing.T) {
	a := newTestAgent(t, nil, 0, 1)
	trainAll(t, a)
	require.NoError(t, a.Update("dragon lore", "plot", 0.8))
	require.NoError(t, a.Update("wyvern style", "style", 0.1))

	// a fresh agent fed the same history in one retrain must match
	snap := a.Snapshot()
	b := newTestAgent(t, nil, 0, 1)
	gen, err := b.fit(snap.History)
	require.NoError(t, err)
	assert.Equal(t, snap.Encoder, gen.encoder.State())
	for _, act := range testActions {
		assert.Equal(t, snap.Models[act], gen.models[act].State())
	}
}

func TestSaveRoundTrip(t *testing.T) {
	store := &memoryStore{}
	a := newTestAgent(t, store, 0, 1)
	trainAll(t, a)
	queries := []string{"summary", "dragon lore", "the style of the plot", "characters"}
	require.NoError(t, a.Update("dragon lore", "plot", 0.8))
	require.NoError(t, a.Update("the style of the plot", "style", 0.9))
	require.NoError(t, a.Save())

	b := newTestAgent(t, store, 0, 1)
	assert.Equal(t, a.HistoryLen(), b.HistoryLen())
	assert.Equal(t, a.Vocabulary(), b.Vocabulary())
	for _, q := range queries {
		da, db := a.Decide(q), b.Decide(q)
		assert.Equal(t, da.Action, db.Action, q)
		assert.Equal(t, da.Scores, db.Scores, q)
	}
}

func TestSaveTwiceIsIdempotent(t *testing.T) {
	store := &memoryStore{}
	a := newTestAgent(t, store, 0, 1)
	trainAll(t, a)
	require.NoError(t, a.Save())
	require.NoError(t, a.Save())
	require.Len(t, store.saved, 2)

	first, err := store.decode(0)
	require.NoError(t, err)
	second, err := store.decode(1)
	require.NoError(t, err)
	assert.Equal(t, first.Encoder, second.Encoder)
	assert.Equal(t, first.Models, second.Models)
	assert.Equal(t, first.History, second.History)

	b := newTestAgent(t, fixedStore{first}, 0, 1)
	c := newTestAgent(t, fixedStore{second}, 0, 1)
	for _, q := range []string{"summary", "plot style", "characters"} {
		assert.Equal(t, b.Decide(q), c.Decide(q))
	}
}

func TestSaveErrorIsSurfaced(t *testing.T) {
	a := newTestAgent(t, &memoryStore{saveErr: errors.New("disk full")}, 0, 1)
	err := a.Save()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	b := newTestAgent(t, nil, 0, 1)
	assert.Error(t, b.Save())
}

func TestCorruptSnapshotFallsBackToFreshAgent(t *testing.T) {
	a := newTestAgent(t, &memoryStore{loadErr: errors.New("unexpected EOF")}, 0, 1)
	assert.Equal(t, 0, a.HistoryLen())
	assert.Equal(t, []string{"characters", "plot", "style", "summary"}, a.Vocabulary())
}

func TestInconsistentSnapshotIsRejected(t *testing.T) {
	src := newTestAgent(t, nil, 0, 1)
	trainAll(t, src)
	snap := src.Snapshot()
	st := snap.Models["plot"]
	st.Weights = append(st.Weights, 0.5)
	snap.Models["plot"] = st

	a := newTestAgent(t, fixedStore{&snap}, 0, 1)
	assert.Equal(t, 0, a.HistoryLen())
}

func TestSnapshotWithDifferentActionsIsRebuilt(t *testing.T) {
	src, err := New(Options{
		Actions: []Action{"summary", "weather"},
		Rand:    rand.New(rand.NewSource(1)),
		Logger:  log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)
	require.NoError(t, src.Update("summary", "summary", 1))
	require.NoError(t, src.Update("rainy weather", "weather", 1))
	snap := src.Snapshot()

	a := newTestAgent(t, fixedStore{&snap}, 0, 1)
	assert.Equal(t, 1, a.HistoryLen())
	st := a.Snapshot()
	assert.Equal(t, 1, st.Models["summary"].Steps)
	assert.NotContains(t, st.Encoder.Terms, "rainy")
}

func TestPolicyListsWeightsHighestFirst(t *testing.T) {
	a := newTestAgent(t, nil, 0, 1)
	for i := 0; i < 30; i++ {
		require.NoError(t, a.Update("dragon lore", "plot", 1))
		require.NoError(t, a.Update("boring summary", "plot", -1))
	}
	var plot ActionPolicy
	for _, p := range a.Policy(0.01) {
		if p.Action == "plot" {
			plot = p
		} else {
			assert.False(t, p.Fitted)
		}
	}
	require.True(t, plot.Fitted)
	require.NotEmpty(t, plot.Weights)
	for i := 1; i < len(plot.Weights); i++ {
		assert.GreaterOrEqual(t, plot.Weights[i-1].Weight, plot.Weights[i].Weight)
	}
	assert.Contains(t, []string{"dragon", "lore"}, plot.Weights[0].Term)
}

func TestMetricsRecordDecisionsAndUpdates(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	a, err := New(Options{
		Actions: testActions,
		Rand:    rand.New(rand.NewSource(1)),
		Logger:  log.New(io.Discard, "", 0),
		Metrics: m,
	})
	require.NoError(t, err)

	a.Decide("summary")
	trainAll(t, a)
	a.Decide("summary")
	require.NoError(t, a.Update("dragon", "plot", 1))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues(string(OutcomeDegraded))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues(string(OutcomeExploit))))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.updates.WithLabelValues("incremental")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.updates.WithLabelValues("retrain")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.historySize))
}

// gatedStore blocks the first Save until release is closed.
type gatedStore struct {
	memoryStore
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedStore) Save(snap Snapshot) error {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()
	if first {
		close(g.entered)
		<-g.release
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.memoryStore.Save(snap)
}

func TestConcurrentSavesPersistNewestSnapshotLast(t *testing.T) {
	store := newGatedStore()
	a := newTestAgent(t, store, 0, 1)
	require.NoError(t, a.Update("summary", "summary", 1))

	first := make(chan error, 1)
	go func() { first <- a.Save() }()
	<-store.entered

	require.NoError(t, a.Update("plot", "plot", 0.5))
	second := make(chan error, 1)
	go func() { second <- a.Save() }()

	select {
	case err := <-second:
		t.Fatalf("second save finished while the first was still writing: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(store.release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	snap, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, snap.History, 2)
	assert.Equal(t, a.HistoryLen(), len(snap.History))
}

func TestFailedRetrainKeepsPreviousGeneration(t *testing.T) {
	a := newTestAgent(t, &memoryStore{}, 0, 1)
	trainAll(t, a)
	vocab := a.Vocabulary()
	models := a.Snapshot().Models

	a.mu.Lock()
	a.history = append(a.history, Interaction{Query: "ghost", Action: "ghost", Reward: 1})
	a.mu.Unlock()

	err := a.Update("wyvern lore", "plot", 1)
	require.ErrorIs(t, err, ErrUnknownAction)
	assert.Equal(t, vocab, a.Vocabulary())
	assert.Equal(t, models, a.Snapshot().Models)
	assert.NotContains(t, a.Vocabulary(), "wyvern")
}

func TestZeroEpsilonNeverExplores(t *testing.T) {
	a := newTestAgent(t, &memoryStore{}, 0, 3)
	trainAll(t, a)
	for i := 0; i < 200; i++ {
		assert.Equal(t, OutcomeExploit, a.Decide("summary plot").Outcome)
	}
}
