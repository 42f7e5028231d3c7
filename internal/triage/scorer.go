package triage

import (
	"errors"
	"fmt"
)

var (
	// ErrIncomplete is returned when not every question has an answer.
	ErrIncomplete = errors.New("incomplete answer set")

	// ErrUnknownQuestion is returned for an answer to a question not in the questionnaire.
	ErrUnknownQuestion = errors.New("unknown question")

	// ErrDuplicateAnswer is returned when a question is answered twice.
	ErrDuplicateAnswer = errors.New("duplicate answer")

	// ErrInvalidOption is returned for an option index outside the question's options.
	ErrInvalidOption = errors.New("invalid option")
)

// Scorer maps a complete answer set to an urgency tier and its fixed guidance.
// It holds no mutable state and is safe for concurrent use.
type Scorer struct {
	q *Questionnaire
}

// NewScorer creates a scorer over a validated questionnaire.
func NewScorer(q *Questionnaire) (*Scorer, error) {
	if q == nil {
		return nil, errors.New("questionnaire is required")
	}
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("invalid questionnaire: %w", err)
	}
	return &Scorer{q: q}, nil
}

// Questionnaire returns the questionnaire the scorer was built from.
func (s *Scorer) Questionnaire() *Questionnaire {
	return s.q
}

// Classify scores the answers. Every question must be answered exactly once,
// otherwise no result is produced.
func (s *Scorer) Classify(answers []Answer) (*Result, error) {
	seen := make(map[string]bool, len(answers))
	for _, a := range answers {
		if _, _, ok := s.q.Question(a.QuestionID); !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownQuestion, a.QuestionID)
		}
		if seen[a.QuestionID] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateAnswer, a.QuestionID)
		}
		seen[a.QuestionID] = true
	}
	if len(seen) != len(s.q.Questions) {
		return nil, fmt.Errorf("%w: %d of %d questions answered", ErrIncomplete, len(seen), len(s.q.Questions))
	}

	total := 0
	hasCritical := false
	for _, a := range answers {
		total += a.Option.Score
		if a.Option.Level == LevelCritical {
			hasCritical = true
		}
	}

	tier := s.tierFor(total, hasCritical)
	g := s.q.Guidance[tier]

	return &Result{
		Tier:        tier,
		Title:       g.Title,
		Description: g.Description,
		Actions:     append([]string(nil), g.Actions...),
		Total:       total,
		HasCritical: hasCritical,
	}, nil
}

func (s *Scorer) tierFor(total int, hasCritical bool) Tier {
	switch {
	case hasCritical || total >= s.q.Thresholds.Urgent:
		return TierUrgence
	case total >= s.q.Thresholds.Rapid:
		return TierConsultationRapide
	default:
		return TierSurveillance
	}
}

// Resolve turns option indexes keyed by question ID into answers in
// questionnaire order. Unanswered questions are left out; Classify reports them.
func (s *Scorer) Resolve(choices map[string]int) ([]Answer, error) {
	for id := range choices {
		if _, _, ok := s.q.Question(id); !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownQuestion, id)
		}
	}

	answers := make([]Answer, 0, len(choices))
	for _, qu := range s.q.Questions {
		idx, ok := choices[qu.ID]
		if !ok {
			continue
		}
		opt, err := optionAt(qu, idx)
		if err != nil {
			return nil, err
		}
		answers = append(answers, Answer{QuestionID: qu.ID, Option: opt})
	}
	return answers, nil
}

func optionAt(qu Question, idx int) (Option, error) {
	if idx < 0 || idx >= len(qu.Options) {
		return Option{}, fmt.Errorf("%w: question %q has no option %d", ErrInvalidOption, qu.ID, idx)
	}
	return qu.Options[idx], nil
}
