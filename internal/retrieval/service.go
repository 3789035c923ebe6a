// Package retrieval expands search queries with a bandit-chosen keyword and
// learns from user ratings of the results.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/spinloop/internal/bandit"
	"github.com/mohammad-safakhou/spinloop/internal/vecstore"
)

const (
	DefaultResults = 5
	MaxRating      = 5
	// MinPolicyWeight hides near-zero coefficients from Policy.
	MinPolicyWeight = 0.01
)

var ErrInvalidRating = errors.New("rating must be between 0 and 5")

// Agent is the bandit surface the service drives.
type Agent interface {
	Decide(query string) bandit.Decision
	Update(query string, action bandit.Action, reward float64) error
	Save() error
	Policy(minAbs float64) []bandit.ActionPolicy
}

// Result is what Retrieve returns.
type Result struct {
	Query         string         `json:"query" yaml:"query"`
	Action        bandit.Action  `json:"action_keyword" yaml:"action_keyword"`
	Outcome       bandit.Outcome `json:"outcome" yaml:"outcome"`
	EnhancedQuery string         `json:"enhanced_query" yaml:"enhanced_query"`
	Results       []vecstore.Hit `json:"results" yaml:"results"`
}

type Options struct {
	Agent          Agent
	Collection     vecstore.Collection
	CollectionName string
	DefaultResults int
	Logger         *log.Logger
}

type Service struct {
	agent          Agent
	collection     vecstore.Collection
	collectionName string
	defaultResults int
	logger         *log.Logger
}

func New(opts Options) (*Service, error) {
	if opts.Agent == nil || opts.Collection == nil {
		return nil, errors.New("retrieval: agent and collection required")
	}
	if opts.CollectionName == "" {
		opts.CollectionName = "approved_versions"
	}
	if opts.DefaultResults <= 0 {
		opts.DefaultResults = DefaultResults
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[RETRIEVAL] ", log.LstdFlags)
	}
	return &Service{
		agent:          opts.Agent,
		collection:     opts.Collection,
		collectionName: opts.CollectionName,
		defaultResults: opts.DefaultResults,
		logger:         opts.Logger,
	}, nil
}

// EnhanceQuery appends the action keyword to query.
func EnhanceQuery(query string, action bandit.Action) string {
	return strings.TrimSpace(query + " " + string(action))
}

// Retrieve picks an expansion keyword for query and searches the
// collection with the expanded query.
func (s *Service) Retrieve(ctx context.Context, query string, n int) (*Result, error) {
	if n <= 0 {
		n = s.defaultResults
	}
	d := s.agent.Decide(query)
	enhanced := EnhanceQuery(query, d.Action)
	s.logger.Printf("agent used %q (%s) -> query %q", d.Action, d.Outcome, enhanced)
	hits, err := s.collection.Query(ctx, s.collectionName, enhanced, n)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.collectionName, err)
	}
	return &Result{
		Query:         query,
		Action:        d.Action,
		Outcome:       d.Outcome,
		EnhancedQuery: enhanced,
		Results:       hits,
	}, nil
}

// RewardForRating maps a 0..5 rating onto [-1, 1].
func RewardForRating(rating int) (float64, error) {
	if rating < 0 || rating > MaxRating {
		return 0, ErrInvalidRating
	}
	return (float64(rating) - 2.5) / 2.5, nil
}

// Rate trains the agent on a rated retrieval and persists the policy.
func (s *Service) Rate(_ context.Context, query string, action bandit.Action, rating int) (float64, error) {
	reward, err := RewardForRating(rating)
	if err != nil {
		return 0, err
	}
	if err := s.agent.Update(query, action, reward); err != nil {
		return 0, err
	}
	if err := s.agent.Save(); err != nil {
		return reward, err
	}
	s.logger.Printf("rated %q with %q: %d -> reward %.2f", query, action, rating, reward)
	return reward, nil
}

// Policy lists what each action has learned, strongest terms first.
func (s *Service) Policy() []bandit.ActionPolicy {
	return s.agent.Policy(MinPolicyWeight)
}
