package triage

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// OptionsPerQuestion is the number of options every question offers.
const OptionsPerQuestion = 3

// MaxOptionScore bounds the weight of a single option.
const MaxOptionScore = 10

//go:embed questionnaire.yaml
var defaultQuestionnaire []byte

// Thresholds are the total scores at which a triage escalates.
type Thresholds struct {
	Rapid  int `json:"rapid" yaml:"rapid"`
	Urgent int `json:"urgent" yaml:"urgent"`
}

// Guidance is the fixed advice shown for a tier.
type Guidance struct {
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description" yaml:"description"`
	Actions     []string `json:"actions" yaml:"actions"`
}

// Questionnaire holds the ordered questions, thresholds and per-tier guidance.
type Questionnaire struct {
	Questions  []Question        `json:"questions" yaml:"questions"`
	Thresholds Thresholds        `json:"thresholds" yaml:"thresholds"`
	Guidance   map[Tier]Guidance `json:"-" yaml:"guidance"`
}

// DefaultQuestionnaire returns the built-in questionnaire.
func DefaultQuestionnaire() *Questionnaire {
	q, err := ParseQuestionnaire(defaultQuestionnaire)
	if err != nil {
		panic(fmt.Sprintf("embedded questionnaire: %v", err))
	}
	return q
}

// LoadQuestionnaire reads and validates a questionnaire from a YAML file.
// An empty path returns the built-in questionnaire.
func LoadQuestionnaire(path string) (*Questionnaire, error) {
	if path == "" {
		return DefaultQuestionnaire(), nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read questionnaire: %w", err)
	}
	return ParseQuestionnaire(data)
}

// ParseQuestionnaire decodes and validates a YAML questionnaire.
func ParseQuestionnaire(data []byte) (*Questionnaire, error) {
	var q Questionnaire
	if err := yaml.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("decode questionnaire: %w", err)
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return &q, nil
}

// Validate checks the questionnaire is usable by the scorer.
func (q *Questionnaire) Validate() error {
	var errs []error

	if len(q.Questions) == 0 {
		errs = append(errs, errors.New("questionnaire has no questions"))
	}

	seen := make(map[string]bool, len(q.Questions))
	for i, qu := range q.Questions {
		if qu.ID == "" {
			errs = append(errs, fmt.Errorf("question %d: missing id", i))
			continue
		}
		if seen[qu.ID] {
			errs = append(errs, fmt.Errorf("question %q: duplicate id", qu.ID))
		}
		seen[qu.ID] = true

		if len(qu.Options) != OptionsPerQuestion {
			errs = append(errs, fmt.Errorf("question %q: has %d options, want %d", qu.ID, len(qu.Options), OptionsPerQuestion))
		}
		for j, o := range qu.Options {
			if o.Score < 0 || o.Score > MaxOptionScore {
				errs = append(errs, fmt.Errorf("question %q option %d: score %d out of range 0..%d", qu.ID, j, o.Score, MaxOptionScore))
			}
			if !o.Level.Valid() {
				errs = append(errs, fmt.Errorf("question %q option %d: unknown level %q", qu.ID, j, o.Level))
			}
		}
	}

	if q.Thresholds.Rapid <= 0 || q.Thresholds.Urgent <= q.Thresholds.Rapid {
		errs = append(errs, fmt.Errorf("invalid thresholds rapid=%d urgent=%d (need 0 < rapid < urgent)", q.Thresholds.Rapid, q.Thresholds.Urgent))
	}

	for _, t := range Tiers {
		g, ok := q.Guidance[t]
		if !ok || g.Title == "" {
			errs = append(errs, fmt.Errorf("missing guidance for tier %q", t))
			continue
		}
		if len(g.Actions) == 0 {
			errs = append(errs, fmt.Errorf("tier %q: guidance has no actions", t))
		}
	}

	return errors.Join(errs...)
}

// Question returns the question with the given ID and its position.
func (q *Questionnaire) Question(id string) (Question, int, bool) {
	for i, qu := range q.Questions {
		if qu.ID == id {
			return qu, i, true
		}
	}
	return Question{}, -1, false
}
