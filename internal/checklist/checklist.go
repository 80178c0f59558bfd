// Package checklist defines the elicitation checklist: which topics a
// requirements conversation must cover, each topic's readiness weight, and
// the required questions and subtopics the scorer measures coverage against.
//
// The checklist is an explicit, immutable configuration object. Callers pass
// it into the scorer and readiness aggregation rather than reading ambient
// global state, so tests can inject alternate weight tables.
package checklist

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// TopicSpec describes one requirements area.
type TopicSpec struct {
	Name              string   `yaml:"name"`
	Weight            float64  `yaml:"weight"`
	RequiredQuestions []string `yaml:"required_questions"`
	RequiredSubtopics []string `yaml:"required_subtopics"`
}

// Checklist is an ordered list of topic specs. Order matters: when several
// topics tie on confidence, the next-topic decision falls back to checklist
// order so the choice is deterministic.
type Checklist struct {
	Topics []TopicSpec `yaml:"topics"`

	byName map[string]int
}

// Load reads a checklist from a YAML file.
func Load(path string) (*Checklist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checklist: read %s: %w", path, err)
	}
	var c Checklist
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("checklist: parse %s: %w", path, err)
	}
	if err := c.init(); err != nil {
		return nil, err
	}
	return &c, nil
}

// New builds a checklist from topic specs. Used by tests and by Default.
func New(topics []TopicSpec) (*Checklist, error) {
	c := &Checklist{Topics: topics}
	if err := c.init(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Checklist) init() error {
	if len(c.Topics) == 0 {
		return fmt.Errorf("checklist: no topics defined")
	}
	c.byName = make(map[string]int, len(c.Topics))
	var sum float64
	for i, t := range c.Topics {
		if t.Name == "" {
			return fmt.Errorf("checklist: topic %d has no name", i)
		}
		if _, dup := c.byName[t.Name]; dup {
			return fmt.Errorf("checklist: duplicate topic %q", t.Name)
		}
		if t.Weight < 0 {
			return fmt.Errorf("checklist: topic %q has negative weight", t.Name)
		}
		c.byName[t.Name] = i
		sum += t.Weight
	}
	// Weights must sum to 1.0 over the full checklist. The readiness
	// aggregation renormalizes over applicable topics at score time.
	if math.Abs(sum-1.0) > 0.001 {
		return fmt.Errorf("checklist: topic weights sum to %.3f, want 1.0", sum)
	}
	return nil
}

// Spec returns the spec for a named topic, or false if the topic is not on
// the checklist. Topics outside the checklist are still scored, with zero
// required questions and subtopics and zero readiness weight.
func (c *Checklist) Spec(name string) (TopicSpec, bool) {
	i, ok := c.byName[name]
	if !ok {
		return TopicSpec{}, false
	}
	return c.Topics[i], true
}

// Position returns a topic's checklist position for deterministic ordering,
// with unknown topics sorted last.
func (c *Checklist) Position(name string) int {
	if i, ok := c.byName[name]; ok {
		return i
	}
	return len(c.Topics)
}

// Default returns the built-in checklist used when no YAML file is
// configured. Weights sum to 1.0.
func Default() *Checklist {
	c, err := New([]TopicSpec{
		{
			Name:   "business_requirements",
			Weight: 0.15,
			RequiredQuestions: []string{
				"What problem does this product solve?",
				"Who are the primary users?",
				"What does success look like in six months?",
				"What is explicitly out of scope for v1?",
			},
			RequiredSubtopics: []string{"problem_statement", "target_users", "success_metrics", "scope"},
		},
		{
			Name:   "user_experience",
			Weight: 0.10,
			RequiredQuestions: []string{
				"What are the main screens or views?",
				"What is the critical user flow from first open to core value?",
				"Web, mobile, desktop, or some combination?",
			},
			RequiredSubtopics: []string{"screens", "core_flow", "platforms"},
		},
		{
			Name:   "database_architecture",
			Weight: 0.15,
			RequiredQuestions: []string{
				"What are the core entities and how do they relate?",
				"What data volumes and growth do you expect?",
				"Any strong consistency or audit requirements?",
				"Relational, document, or mixed storage?",
			},
			RequiredSubtopics: []string{"entities", "relationships", "volume", "consistency"},
		},
		{
			Name:   "api_design",
			Weight: 0.15,
			RequiredQuestions: []string{
				"Who consumes the API — first-party UI, third parties, both?",
				"REST, GraphQL, gRPC, or event-driven?",
				"What are the highest-traffic operations?",
			},
			RequiredSubtopics: []string{"consumers", "style", "hot_paths"},
		},
		{
			Name:   "security_model",
			Weight: 0.15,
			RequiredQuestions: []string{
				"How do users authenticate?",
				"What roles or permission levels exist?",
				"Any compliance requirements (GDPR, HIPAA, SOC2)?",
				"What data is sensitive and how is it protected?",
			},
			RequiredSubtopics: []string{"authentication", "authorization", "compliance", "data_protection"},
		},
		{
			Name:   "infrastructure",
			Weight: 0.10,
			RequiredQuestions: []string{
				"Cloud provider preference or existing footprint?",
				"Expected traffic and availability targets?",
				"Who operates this after launch?",
			},
			RequiredSubtopics: []string{"hosting", "scale", "operations"},
		},
		{
			Name:   "integrations",
			Weight: 0.10,
			RequiredQuestions: []string{
				"What external services must this talk to?",
				"Payment, email, analytics — which providers?",
			},
			RequiredSubtopics: []string{"external_services", "providers"},
		},
		{
			Name:   "testing_strategy",
			Weight: 0.10,
			RequiredQuestions: []string{
				"What level of test coverage do you expect?",
				"Manual QA, automated, or both?",
			},
			RequiredSubtopics: []string{"coverage", "automation"},
		},
	})
	if err != nil {
		// The built-in table is validated by tests; a failure here is a
		// programming error, not a runtime condition.
		panic(err)
	}
	return c
}
