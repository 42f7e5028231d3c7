package triage

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrOutOfOrder is returned when an answer does not target the current question.
	ErrOutOfOrder = errors.New("question answered out of order")

	// ErrSessionCompleted is returned when answering a session that already has a result.
	ErrSessionCompleted = errors.New("session already completed")
)

// Next returns the question the session is waiting on.
// It returns false once every question has been answered.
func (s *Session) Next(q *Questionnaire) (Question, bool) {
	if s.State == StateCompleted || len(s.Answers) >= len(q.Questions) {
		return Question{}, false
	}
	return q.Questions[len(s.Answers)], true
}

// Answer records the option chosen for the current question. Questions are
// answered strictly in questionnaire order. The last answer classifies the
// session and moves it to StateCompleted.
func (s *Session) Answer(sc *Scorer, questionID string, option int, now time.Time) error {
	if s.State == StateCompleted {
		return ErrSessionCompleted
	}

	q := sc.Questionnaire()
	next, ok := s.Next(q)
	if !ok {
		return ErrSessionCompleted
	}
	if _, _, known := q.Question(questionID); !known {
		return fmt.Errorf("%w: %q", ErrUnknownQuestion, questionID)
	}
	if next.ID != questionID {
		return fmt.Errorf("%w: expected %q, got %q", ErrOutOfOrder, next.ID, questionID)
	}

	opt, err := optionAt(next, option)
	if err != nil {
		return err
	}

	s.Answers = append(s.Answers, Answer{QuestionID: questionID, Option: opt})
	s.State = StateAnswering
	s.UpdatedAt = now

	if len(s.Answers) < len(q.Questions) {
		return nil
	}

	res, err := sc.Classify(s.Answers)
	if err != nil {
		// unreachable with in-order answers, roll back rather than store a half state
		s.Answers = s.Answers[:len(s.Answers)-1]
		if len(s.Answers) == 0 {
			s.State = StateNotStarted
		}
		return err
	}
	s.Result = res
	s.State = StateCompleted
	s.CompletedAt = now
	return nil
}

// Restart clears every answer and returns the session to StateNotStarted.
func (s *Session) Restart(now time.Time) {
	s.Answers = nil
	s.Result = nil
	s.State = StateNotStarted
	s.CompletedAt = time.Time{}
	s.Restarts++
	s.UpdatedAt = now
}
