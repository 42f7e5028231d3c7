package triage

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/linnemanlabs/pawcketvet/internal/triage")

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// statsScanLimit bounds how many sessions Stats lists from a store that
// cannot aggregate on its own.
const statsScanLimit = 10000

// putAttempts bounds the read-modify-write retries on ErrConflict.
const putAttempts = 3

const lockStripes = 64

// Notifier is told about sessions that completed with an emergency tier.
type Notifier interface {
	Send(ctx context.Context, s *Session) error
}

// Service is the business boundary for triage operations.
type Service struct {
	store    Store
	scorer   *Scorer
	logger   log.Logger
	metrics  *Metrics
	notifier Notifier
	now      func() time.Time

	scanLimit int

	// serializes read-modify-write on a session, striped by ID
	locks [lockStripes]sync.Mutex
}

// NewService creates a new triage service. metrics and notifier may be nil.
func NewService(store Store, scorer *Scorer, logger log.Logger, metrics *Metrics, notifier Notifier) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:    store,
		scorer:   scorer,
		logger:   logger,
		metrics:  metrics,
		notifier: notifier,
		now:      time.Now,

		scanLimit: statsScanLimit,
	}
}

// Questionnaire returns the questionnaire sessions are scored against.
func (s *Service) Questionnaire() *Questionnaire {
	return s.scorer.Questionnaire()
}

// Start creates a new session for an owner.
func (s *Service) Start(ctx context.Context, ownerID, petName string) (*Session, error) {
	now := s.now().UTC()
	sess := &Session{
		ID:        ulid.Make().String(),
		OwnerID:   ownerID,
		PetName:   petName,
		State:     StateNotStarted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	s.metrics.sessionStarted()

	s.logger.Info(ctx, "triage session started", "session_id", sess.ID, "owner_id", ownerID)
	return sess, nil
}

// Get retrieves a session by ID.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	sess, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// List returns sessions matching the filter, newest first.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*Session, error) {
	return s.store.List(ctx, f)
}

// Answer records the option chosen for the session's current question.
func (s *Service) Answer(ctx context.Context, id, questionID string, option int) (*Session, error) {
	ctx, span := tracer.Start(ctx, "triage.answer", trace.WithAttributes(
		attribute.String("triage.session.id", id),
		attribute.String("triage.question.id", questionID),
		attribute.Int("triage.option", option),
	))
	defer span.End()

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	sess, err := s.update(ctx, id, func(sess *Session) error {
		return sess.Answer(s.scorer, questionID, option, s.now().UTC())
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	last := sess.Answers[len(sess.Answers)-1]
	s.metrics.answered(last.Option.Level)
	span.SetAttributes(
		attribute.String("triage.level", string(last.Option.Level)),
		attribute.String("triage.session.state", string(sess.State)),
	)

	if sess.State == StateCompleted {
		span.SetAttributes(
			attribute.String("triage.tier", string(sess.Result.Tier)),
			attribute.Int("triage.total", sess.Result.Total),
		)
		s.completed(ctx, sess)
	}
	return sess, nil
}

// Restart clears the session's answers.
func (s *Service) Restart(ctx context.Context, id string) (*Session, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	sess, err := s.update(ctx, id, func(sess *Session) error {
		sess.Restart(s.now().UTC())
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.restarted()

	s.logger.Info(ctx, "triage session restarted", "session_id", id, "restarts", sess.Restarts)
	return sess, nil
}

// Classify scores a complete set of option choices without creating a session.
func (s *Service) Classify(ctx context.Context, choices map[string]int) (*Result, error) {
	_, span := tracer.Start(ctx, "triage.classify", trace.WithAttributes(
		attribute.Int("triage.answers", len(choices)),
	))
	defer span.End()

	answers, err := s.scorer.Resolve(choices)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	res, err := s.scorer.Classify(answers)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	s.metrics.classified(res, "direct")
	span.SetAttributes(
		attribute.String("triage.tier", string(res.Tier)),
		attribute.Int("triage.total", res.Total),
		attribute.Bool("triage.has_critical", res.HasCritical),
	)
	return res, nil
}

// Stats aggregates sessions created since the given time (zero means all).
// Stores implementing Aggregator compute it themselves; otherwise at most
// statsScanLimit sessions are scanned and Truncated reports a partial result.
func (s *Service) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	if agg, ok := s.store.(Aggregator); ok {
		return agg.Aggregate(ctx, since)
	}

	sessions, err := s.store.List(ctx, ListFilter{Since: since, Limit: s.scanLimit + 1})
	if err != nil {
		return nil, err
	}

	st := NewStats(since)
	if len(sessions) > s.scanLimit {
		sessions = sessions[:s.scanLimit]
		st.Truncated = true
		s.logger.Warn(ctx, "triage stats truncated", "scan_limit", s.scanLimit)
	}
	for _, sess := range sessions {
		st.Add(sess)
	}
	return st, nil
}

// update loads a session, applies fn and stores the result. When another
// writer got there first the whole cycle is replayed on fresh state, so fn
// sees what the other writer stored.
func (s *Service) update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	for attempt := 1; ; attempt++ {
		sess, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(sess); err != nil {
			return nil, err
		}

		err = s.store.Put(ctx, sess)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, ErrConflict) || attempt == putAttempts {
			return nil, fmt.Errorf("store session: %w", err)
		}
		s.logger.Warn(ctx, "triage session write conflict, retrying", "session_id", id, "attempt", attempt)
	}
}

func (s *Service) completed(ctx context.Context, sess *Session) {
	res := sess.Result
	s.metrics.classified(res, "session")

	L := s.logger.With("session_id", sess.ID, "owner_id", sess.OwnerID)
	L.Info(ctx, "triage session completed",
		"tier", res.Tier,
		"total", res.Total,
		"has_critical", res.HasCritical,
		"restarts", sess.Restarts,
	)

	if res.Tier != TierUrgence || s.notifier == nil {
		return
	}

	// notify async - pass a copy so the caller keeps ownership of sess.
	cp := sess.Clone()
	go func(ctx context.Context) {
		if err := s.notifier.Send(ctx, cp); err != nil {
			L.Error(ctx, err, "failed to send urgent triage notification")
			s.metrics.notified("error")
			return
		}
		s.metrics.notified("success")
	}(context.WithoutCancel(ctx))
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (s *Service) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.locks[h.Sum32()%lockStripes]
}
