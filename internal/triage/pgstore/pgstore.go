// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/pawcketvet/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/pawcketvet/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists triage sessions in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
// The caller owns the pool and closes it.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pgstore: pool is required")
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const sessionColumns = `id, owner_id, pet_name, state, answers, result, restarts,
	version, created_at, updated_at, completed_at`

// Get retrieves a session by ID.
func (s *Store) Get(ctx context.Context, id string) (*triage.Session, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	query := `SELECT ` + sessionColumns + ` FROM triage_sessions WHERE id = $1`
	sess, err := scanSession(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		recordError(span, err)
		return nil, false, err
	}
	return sess, true, nil
}

// Put inserts a new session (Version 0) or updates the stored one when its
// version still matches.
func (s *Store) Put(ctx context.Context, sess *triage.Session) error {
	ctx, span := startSpan(ctx, "pgstore.Put", "UPSERT")
	defer span.End()

	answers := sess.Answers
	if answers == nil {
		answers = []triage.Answer{}
	}
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		recordError(span, err)
		return fmt.Errorf("marshal answers: %w", err)
	}

	var (
		resultJSON  []byte
		tier        *string
		total       *int
		hasCritical *bool
		completedAt *time.Time
	)
	if sess.Result != nil {
		resultJSON, err = json.Marshal(sess.Result)
		if err != nil {
			recordError(span, err)
			return fmt.Errorf("marshal result: %w", err)
		}
		t := string(sess.Result.Tier)
		tier = &t
		total = &sess.Result.Total
		hasCritical = &sess.Result.HasCritical
	}
	if !sess.CompletedAt.IsZero() {
		completedAt = &sess.CompletedAt
	}

	args := []any{
		sess.ID, sess.OwnerID, sess.PetName, string(sess.State), answersJSON, resultJSON,
		tier, total, hasCritical, sess.Restarts, sess.CreatedAt, sess.UpdatedAt, completedAt,
	}

	query := insertSession
	if sess.Version > 0 {
		query = updateSession
		args = append(args, sess.Version)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		recordError(span, err)
		return fmt.Errorf("upsert session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetAttributes(attribute.Bool("db.conflict", true))
		return triage.ErrConflict
	}
	sess.Version++
	return nil
}

const insertSession = `INSERT INTO triage_sessions (
	id, owner_id, pet_name, state, answers, result, tier, total, has_critical,
	restarts, created_at, updated_at, completed_at, version
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,1)
ON CONFLICT (id) DO NOTHING`

// the version predicate turns a stale write into a zero-row update
const updateSession = `UPDATE triage_sessions SET
	owner_id     = $2,
	pet_name     = $3,
	state        = $4,
	answers      = $5,
	result       = $6,
	tier         = $7,
	total        = $8,
	has_critical = $9,
	restarts     = $10,
	created_at   = $11,
	updated_at   = $12,
	completed_at = $13,
	version      = version + 1
WHERE id = $1 AND version = $14`

// List returns sessions matching f, newest first.
func (s *Store) List(ctx context.Context, f triage.ListFilter) ([]*triage.Session, error) {
	ctx, span := startSpan(ctx, "pgstore.List", "SELECT")
	defer span.End()

	query, args := listQuery(f)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []*triage.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			recordError(span, err)
			return nil, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	span.SetAttributes(attribute.Int("db.rows", len(out)))
	return out, nil
}

// listQuery builds the SELECT for a filter with positional arguments.
func listQuery(f triage.ListFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.OwnerID != "" {
		args = append(args, f.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + sessionColumns + ` FROM triage_sessions`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, f.EffectiveLimit())
	fmt.Fprintf(&b, " ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	return b.String(), args
}

// Aggregate computes dashboard stats in the database, grouped by state and tier.
func (s *Store) Aggregate(ctx context.Context, since time.Time) (*triage.Stats, error) {
	ctx, span := startSpan(ctx, "pgstore.Aggregate", "SELECT")
	defer span.End()

	query, args := aggregateQuery(since)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("aggregate sessions: %w", err)
	}
	defer rows.Close()

	st := triage.NewStats(since)
	for rows.Next() {
		var state string
		var tier *string
		var sessions, scored, sum, critical, restarts int64
		if err := rows.Scan(&state, &tier, &sessions, &scored, &sum, &critical, &restarts); err != nil {
			recordError(span, err)
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		g := triage.Group{
			State:    triage.State(state),
			Sessions: int(sessions),
			Scored:   int(scored),
			ScoreSum: int(sum),
			Critical: int(critical),
			Restarts: int(restarts),
		}
		if tier != nil {
			g.Tier = triage.Tier(*tier)
		}
		st.AddGroup(g)
	}
	if err := rows.Err(); err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("iterate aggregate: %w", err)
	}
	return st, nil
}

func aggregateQuery(since time.Time) (string, []any) {
	q := `SELECT state, tier, COUNT(*), COUNT(total), COALESCE(SUM(total), 0),
	COUNT(*) FILTER (WHERE has_critical), COALESCE(SUM(restarts), 0)
FROM triage_sessions`
	var args []any
	if !since.IsZero() {
		q += ` WHERE created_at >= $1`
		args = append(args, since)
	}
	return q + ` GROUP BY state, tier`, args
}

// scanSession scans a single row into a triage.Session.
func scanSession(row pgx.Row) (*triage.Session, error) {
	var (
		sess        triage.Session
		state       string
		answersJSON []byte
		resultJSON  []byte
		completedAt *time.Time
	)

	err := row.Scan(
		&sess.ID, &sess.OwnerID, &sess.PetName, &state, &answersJSON, &resultJSON,
		&sess.Restarts, &sess.Version, &sess.CreatedAt, &sess.UpdatedAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	sess.State = triage.State(state)
	if completedAt != nil {
		sess.CompletedAt = *completedAt
	}

	if err := json.Unmarshal(answersJSON, &sess.Answers); err != nil {
		return nil, fmt.Errorf("unmarshal answers: %w", err)
	}
	if len(sess.Answers) == 0 {
		sess.Answers = nil
	}
	if len(resultJSON) > 0 {
		var r triage.Result
		if err := json.Unmarshal(resultJSON, &r); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		sess.Result = &r
	}

	return &sess, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
