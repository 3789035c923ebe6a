// Package bandit implements an epsilon-greedy contextual bandit that picks a
// query-expansion keyword for a retrieval query and learns from rated
// outcomes.
//
// Each action owns a linear reward model over TF-IDF features of the query.
// The feature vocabulary only grows: when a rated query brings unseen terms
// the agent fits a new encoder generation over the whole history and
// replays every interaction into fresh models, so model dimensions always
// match the encoder that scores them.
package bandit

import (
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultEpsilon is the exploration probability the configuration layer
// starts from. Options.Epsilon is taken as given, so zero means the agent
// always exploits.
const DefaultEpsilon = 0.10

// DefaultActions are the query-expansion keywords the retrieval service
// ships with.
var DefaultActions = []Action{"summary", "characters", "style", "setting", "plot"}

// Action is a query-expansion keyword.
type Action string

// Interaction is one rated outcome. Records are appended once and never changed.
type Interaction struct {
	Query  string  `json:"query"`
	Action Action  `json:"action"`
	Reward float64 `json:"reward"`
}

// Outcome tells how an action was selected.
type Outcome string

const (
	OutcomeExploit Outcome = "exploit"
	OutcomeExplore Outcome = "explore"
	// OutcomeDegraded is a random choice forced by an unusable model.
	OutcomeDegraded Outcome = "degraded"
)

// Decision is the result of Decide.
type Decision struct {
	Action  Action
	Outcome Outcome
	// Scores holds every action's predicted reward on exploit decisions.
	Scores map[Action]float64
	// Reason is set on degraded decisions.
	Reason error
}

// Options configures an Agent.
type Options struct {
	Actions      []Action
	Epsilon      float64
	LearningRate float64
	Alpha        float64
	// Rand drives exploration. A time-seeded source is used when nil.
	Rand    *rand.Rand
	Store   PolicyStore
	Logger  *log.Logger
	Metrics *Metrics
}

// generation pairs an encoder with models sized to it. It is replaced as a
// unit and never partially updated across encoders.
type generation struct {
	encoder *Encoder
	models  map[Action]*Model
}

// Agent is safe for concurrent use; calls are serialised internally.
type Agent struct {
	mu sync.Mutex
	// saveMu orders snapshot-and-write so an older snapshot never lands
	// after a newer one.
	saveMu sync.Mutex

	actions      []Action
	epsilon      float64
	learningRate float64
	alpha        float64
	rng          *rand.Rand
	store        PolicyStore
	logger       *log.Logger
	metrics      *Metrics

	gen     *generation
	history []Interaction
}

// New builds an agent, restoring the snapshot held by opts.Store when one
// is readable and starting fresh otherwise.
func New(opts Options) (*Agent, error) {
	if len(opts.Actions) == 0 {
		return nil, errors.New("bandit: at least one action is required")
	}
	seen := make(map[Action]struct{}, len(opts.Actions))
	for _, act := range opts.Actions {
		if strings.TrimSpace(string(act)) == "" {
			return nil, errors.New("bandit: empty action label")
		}
		if _, dup := seen[act]; dup {
			return nil, fmt.Errorf("bandit: duplicate action %q", act)
		}
		seen[act] = struct{}{}
	}
	if opts.Epsilon < 0 || opts.Epsilon > 1 || math.IsNaN(opts.Epsilon) {
		return nil, fmt.Errorf("bandit: epsilon %v outside [0,1]", opts.Epsilon)
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[BANDIT] ", log.LstdFlags)
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = DefaultLearningRate
	}
	if opts.Alpha < 0 {
		opts.Alpha = DefaultAlpha
	}

	a := &Agent{
		actions:      append([]Action(nil), opts.Actions...),
		epsilon:      opts.Epsilon,
		learningRate: opts.LearningRate,
		alpha:        opts.Alpha,
		rng:          opts.Rand,
		store:        opts.Store,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}
	a.load()
	a.metrics.sizes(len(a.history), a.gen.encoder.Dim())
	return a, nil
}

func (a *Agent) load() {
	if a.store != nil {
		snap, err := a.store.Load()
		switch {
		case err == nil:
			rerr := a.restore(snap)
			if rerr == nil {
				a.logger.Printf("loaded saved policy with %d history records", len(a.history))
				return
			}
			a.logger.Printf("saved policy rejected: %v; initializing new policy", rerr)
		case errors.Is(err, ErrNoSnapshot):
			a.logger.Printf("no saved policy; initializing new policy")
		default:
			a.logger.Printf("policy unreadable: %v; initializing new policy", err)
		}
	}
	a.history = nil
	gen, _ := a.fit(nil)
	a.gen = gen
}

func (a *Agent) restore(snap *Snapshot) error {
	if snap == nil {
		return errorf("empty snapshot")
	}
	if snap.Version != SnapshotVersion {
		return errorf("unsupported version %d", snap.Version)
	}
	for i, rec := range snap.History {
		if math.IsNaN(rec.Reward) || math.IsInf(rec.Reward, 0) {
			return errorf("history record %d has a non-finite reward", i)
		}
	}
	if !sameActions(snap.Actions, a.actions) {
		kept := make([]Interaction, 0, len(snap.History))
		for _, rec := range snap.History {
			if a.known(rec.Action) {
				kept = append(kept, rec)
			}
		}
		a.logger.Printf("saved policy was trained for actions %v; rebuilding from %d of %d history records",
			snap.Actions, len(kept), len(snap.History))
		gen, err := a.fit(kept)
		if err != nil {
			return err
		}
		a.gen, a.history = gen, kept
		return nil
	}

	enc, err := EncoderFromState(snap.Encoder)
	if err != nil {
		return err
	}
	models := make(map[Action]*Model, len(a.actions))
	for _, act := range a.actions {
		st, ok := snap.Models[act]
		if !ok {
			models[act] = NewModel(a.learningRate, a.alpha)
			continue
		}
		if st.Weights != nil && len(st.Weights) != enc.Dim() {
			return errorf("model %q has %d weights for %d features", act, len(st.Weights), enc.Dim())
		}
		models[act] = modelFromState(st, a.learningRate, a.alpha)
	}
	for i, rec := range snap.History {
		if !a.known(rec.Action) {
			return errorf("history record %d names unknown action %q", i, rec.Action)
		}
	}
	a.gen = &generation{encoder: enc, models: models}
	a.history = append([]Interaction(nil), snap.History...)
	return nil
}

// fit builds a new generation from the action labels plus the queries of
// history, then replays history into fresh models in order.
func (a *Agent) fit(history []Interaction) (*generation, error) {
	corpus := make([]string, 0, len(a.actions)+len(history))
	for _, act := range a.actions {
		corpus = append(corpus, string(act))
	}
	for _, rec := range history {
		corpus = append(corpus, rec.Query)
	}
	gen := &generation{encoder: FitEncoder(corpus), models: make(map[Action]*Model, len(a.actions))}
	for _, act := range a.actions {
		gen.models[act] = NewModel(a.learningRate, a.alpha)
	}
	for i, rec := range history {
		model, ok := gen.models[rec.Action]
		if !ok {
			return nil, fmt.Errorf("replay record %d: %w %q", i, ErrUnknownAction, rec.Action)
		}
		if err := model.PartialFit(gen.encoder.Transform(rec.Query), rec.Reward); err != nil {
			return nil, fmt.Errorf("replay record %d: %w", i, err)
		}
	}
	return gen, nil
}

func (a *Agent) known(act Action) bool {
	for _, candidate := range a.actions {
		if candidate == act {
			return true
		}
	}
	return false
}

// ChooseAction returns the action to expand query with. It always returns a
// member of the configured action set.
func (a *Agent) ChooseAction(query string) Action {
	return a.Decide(query).Action
}

// Decide is ChooseAction with the selection outcome attached. With
// probability epsilon, or for an empty query, the action is uniformly
// random. Otherwise the action with the strictly highest predicted reward
// wins, ties going to the earliest action in configuration order. Any
// prediction failure downgrades the decision to a random action.
func (a *Agent) Decide(query string) Decision {
	a.mu.Lock()
	defer a.mu.Unlock()

	if strings.TrimSpace(query) == "" || a.rng.Float64() < a.epsilon {
		d := Decision{Action: a.randomAction(), Outcome: OutcomeExplore}
		a.metrics.decision(d.Outcome)
		return d
	}

	x := a.gen.encoder.Transform(query)
	scores := make(map[Action]float64, len(a.actions))
	best := Action("")
	bestScore := math.Inf(-1)
	for _, act := range a.actions {
		score, err := a.gen.models[act].Predict(x)
		if err != nil {
			d := Decision{Action: a.randomAction(), Outcome: OutcomeDegraded, Reason: fmt.Errorf("predict %s: %w", act, err)}
			a.logger.Printf("degraded to random action %q: %v", d.Action, d.Reason)
			a.metrics.decision(d.Outcome)
			return d
		}
		scores[act] = score
		if best == "" || score > bestScore {
			best, bestScore = act, score
		}
	}
	a.metrics.decision(OutcomeExploit)
	return Decision{Action: best, Outcome: OutcomeExploit, Scores: scores}
}

func (a *Agent) randomAction() Action {
	return a.actions[a.rng.Intn(len(a.actions))]
}

// Update records the reward observed for (query, action) and trains on it.
// The interaction is appended to history before any model sees it. Queries
// with unseen terms trigger a full retrain, the only call whose cost grows
// with history size; if the retrain fails the previous generation stays
// in place and the error is returned.
func (a *Agent) Update(query string, action Action, reward float64) error {
	if !a.known(action) {
		return fmt.Errorf("%w %q", ErrUnknownAction, action)
	}
	if math.IsNaN(reward) || math.IsInf(reward, 0) {
		return ErrInvalidReward
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.history = append(a.history, Interaction{Query: query, Action: action, Reward: reward})
	defer func() { a.metrics.sizes(len(a.history), a.gen.encoder.Dim()) }()

	unseen := a.gen.encoder.UnseenTokens(query)
	if len(unseen) == 0 {
		x := a.gen.encoder.Transform(query)
		if err := a.gen.models[action].PartialFit(x, reward); err != nil {
			return fmt.Errorf("update %s: %w", action, err)
		}
		a.metrics.update("incremental")
		a.logger.Printf("updated model for action %q with reward %.3f", action, reward)
		return nil
	}

	a.logger.Printf("new vocabulary %v; retraining all models from %d history records", unseen, len(a.history))
	start := time.Now()
	gen, err := a.fit(a.history)
	if err != nil {
		return fmt.Errorf("retrain: %w", err)
	}
	a.gen = gen
	elapsed := time.Since(start)
	a.metrics.update("retrain")
	a.metrics.retrained(elapsed)
	a.logger.Printf("retrained %d models over %d terms in %s", len(gen.models), gen.encoder.Dim(), elapsed)
	return nil
}

// Save writes a snapshot through the configured store.
func (a *Agent) Save() error {
	if a.store == nil {
		return errors.New("bandit: no policy store configured")
	}
	a.saveMu.Lock()
	defer a.saveMu.Unlock()
	snap := a.Snapshot()
	if err := a.store.Save(snap); err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	a.logger.Printf("policy saved with %d history records", len(snap.History))
	return nil
}

// Snapshot returns a deep copy of the agent state.
func (a *Agent) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	models := make(map[Action]ModelState, len(a.gen.models))
	for act, m := range a.gen.models {
		models[act] = m.State()
	}
	return Snapshot{
		Version: SnapshotVersion,
		SavedAt: time.Now().UTC(),
		Actions: append([]Action(nil), a.actions...),
		Encoder: a.gen.encoder.State(),
		Models:  models,
		History: append([]Interaction(nil), a.history...),
	}
}

// Actions returns the configured action set in order.
func (a *Agent) Actions() []Action {
	return append([]Action(nil), a.actions...)
}

// HistoryLen is the number of recorded interactions.
func (a *Agent) HistoryLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.history)
}

// Vocabulary returns the terms of the current encoder generation.
func (a *Agent) Vocabulary() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gen.encoder.Vocabulary()
}

// TermWeight is one learned coefficient.
type TermWeight struct {
	Term   string  `json:"term" yaml:"term"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// ActionPolicy summarises what an action's model has learned.
type ActionPolicy struct {
	Action    Action       `json:"action" yaml:"action"`
	Fitted    bool         `json:"fitted" yaml:"fitted"`
	Steps     int          `json:"steps" yaml:"steps"`
	Intercept float64      `json:"intercept" yaml:"intercept"`
	Weights   []TermWeight `json:"weights,omitempty" yaml:"weights,omitempty"`
}

// Policy lists, per action, the terms whose weight magnitude exceeds
// minAbs, highest weight first.
func (a *Agent) Policy(minAbs float64) []ActionPolicy {
	a.mu.Lock()
	defer a.mu.Unlock()
	terms := a.gen.encoder.terms
	out := make([]ActionPolicy, 0, len(a.actions))
	for _, act := range a.actions {
		m := a.gen.models[act]
		p := ActionPolicy{Action: act, Fitted: m.Fitted(), Steps: m.steps, Intercept: m.intercept}
		if m.Fitted() {
			for i, term := range terms {
				if w := m.Weight(i); math.Abs(w) > minAbs {
					p.Weights = append(p.Weights, TermWeight{Term: term, Weight: w})
				}
			}
			sort.SliceStable(p.Weights, func(i, j int) bool { return p.Weights[i].Weight > p.Weights[j].Weight })
		}
		out = append(out, p)
	}
	return out
}
