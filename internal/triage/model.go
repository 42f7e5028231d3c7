package triage

import "time"

// Level is the severity tag carried by an answer option.
type Level string

const (
	LevelOK       Level = "ok"
	LevelModerate Level = "moderate"
	LevelSerious  Level = "serious"
	LevelCritical Level = "critical"
)

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelOK, LevelModerate, LevelSerious, LevelCritical:
		return true
	}
	return false
}

// Tier is the urgency bucket produced by the scorer.
type Tier string

const (
	// TierUrgence means the animal needs emergency care now
	TierUrgence Tier = "URGENCE"

	// TierConsultationRapide means urgent but not an emergency
	TierConsultationRapide Tier = "CONSULTATION RAPIDE"

	// TierSurveillance means watch at home
	TierSurveillance Tier = "SURVEILLANCE"
)

// Tiers lists every tier from most to least urgent.
var Tiers = []Tier{TierUrgence, TierConsultationRapide, TierSurveillance}

// Option is one of the fixed answers to a question.
type Option struct {
	Label string `json:"label" yaml:"label"`
	Score int    `json:"score" yaml:"score"`
	Level Level  `json:"level" yaml:"level"`
}

// Question is a single step of the questionnaire.
type Question struct {
	ID      string   `json:"id" yaml:"id"`
	Prompt  string   `json:"prompt" yaml:"prompt"`
	Options []Option `json:"options" yaml:"options"`
}

// Answer is the option selected for a question.
type Answer struct {
	QuestionID string `json:"question_id"`
	Option     Option `json:"option"`
}

// Result is the outcome of classifying a complete answer set.
type Result struct {
	Tier        Tier     `json:"tier"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Actions     []string `json:"actions"`
	Total       int      `json:"total"`
	HasCritical bool     `json:"has_critical"`
}

// State tracks where a session is in the questionnaire.
type State string

const (
	// StateNotStarted means no question has been answered yet
	StateNotStarted State = "not_started"

	// StateAnswering means at least one but not all questions are answered
	StateAnswering State = "answering"

	// StateCompleted means every question is answered and a result exists
	StateCompleted State = "completed"
)

// Session is one owner's walk through the questionnaire.
type Session struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	PetName     string    `json:"pet_name,omitempty"`
	State       State     `json:"state"`
	Answers     []Answer  `json:"answers"`
	Result      *Result   `json:"result,omitempty"`
	Restarts    int       `json:"restarts"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	cp := *s
	if s.Answers != nil {
		cp.Answers = append([]Answer(nil), s.Answers...)
	}
	if s.Result != nil {
		r := *s.Result
		r.Actions = append([]string(nil), s.Result.Actions...)
		cp.Result = &r
	}
	return &cp
}
