// Package redisstore provides a Redis implementation of triage.Store.
// Sessions expire after a TTL, which suits anonymous SOS triage that nobody
// comes back to.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/pawcketvet/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/pawcketvet/internal/triage/redisstore")

// DefaultTTL is how long an untouched session is kept.
const DefaultTTL = 7 * 24 * time.Hour

const (
	keyPrefix = "pawcketvet:triage:"
	indexAll  = keyPrefix + "index"
	expiryAll = keyPrefix + "expiry"
)

// aggregatePage is how many index entries Aggregate reads per round trip.
const aggregatePage = 500

// pruneBatch caps how many expired IDs one Put removes from the global index.
const pruneBatch = 500

// pruneExpired drops IDs whose expiry score has passed from the expiry set
// (KEYS[1]) and the global index (KEYS[2]) in one step, so a concurrent Put
// that pushed the expiry forward is never pruned.
var pruneExpired = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
if #ids > 0 then
  redis.call('ZREM', KEYS[2], unpack(ids))
  redis.call('ZREM', KEYS[1], unpack(ids))
end
return #ids
`)

// Store persists triage sessions in Redis.
//
// Every session is indexed by creation time in a global sorted set and in a
// per-owner sorted set. A third sorted set scores each ID by the time its key
// expires so the global index can be trimmed on writes.
type Store struct {
	client redis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
}

// Connect initializes a Redis client from a redis:// URL or host:port and pings it.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return client, nil
}

// New returns a Store on the given client. ttl <= 0 uses DefaultTTL.
// The caller owns the client and closes it.
func New(client redis.UniversalClient, ttl time.Duration) (*Store, error) {
	if client == nil {
		return nil, errors.New("redisstore: client is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, ttl: ttl, now: time.Now}, nil
}

func sessionKey(id string) string {
	return keyPrefix + "session:" + id
}

func ownerIndexKey(ownerID string) string {
	return keyPrefix + "owner:" + ownerID
}

// Get retrieves a session by ID.
func (s *Store) Get(ctx context.Context, id string) (*triage.Session, bool, error) {
	ctx, span := startSpan(ctx, "redisstore.Get", "GET")
	defer span.End()

	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		recordError(span, err)
		return nil, false, fmt.Errorf("get session: %w", err)
	}

	var sess triage.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		recordError(span, err)
		return nil, false, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, true, nil
}

// Put stores the session if the stored version still matches, refreshes its
// TTL and index entries, then trims expired IDs from the global index.
func (s *Store) Put(ctx context.Context, sess *triage.Session) error {
	ctx, span := startSpan(ctx, "redisstore.Put", "SET")
	defer span.End()

	next := *sess
	next.Version++
	data, err := json.Marshal(&next)
	if err != nil {
		recordError(span, err)
		return fmt.Errorf("marshal session: %w", err)
	}

	now := s.now()
	key := sessionKey(sess.ID)
	owner := ownerIndexKey(sess.OwnerID)
	member := redis.Z{Score: score(sess.CreatedAt), Member: sess.ID}
	expiry := redis.Z{Score: score(now.Add(s.ttl)), Member: sess.ID}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		version, err := storedVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if version != sess.Version {
			return triage.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			pipe.ZAdd(ctx, indexAll, member)
			pipe.ZAdd(ctx, expiryAll, expiry)
			pipe.ZAdd(ctx, owner, member)
			pipe.Expire(ctx, owner, s.ttl)
			return nil
		})
		return err
	}, key)
	switch {
	case errors.Is(err, triage.ErrConflict), errors.Is(err, redis.TxFailedErr):
		span.SetAttributes(attribute.Bool("db.conflict", true))
		return triage.ErrConflict
	case err != nil:
		recordError(span, err)
		return fmt.Errorf("put session: %w", err)
	}
	sess.Version = next.Version

	n, err := pruneExpired.Run(ctx, s.client, []string{expiryAll, indexAll}, score(now), pruneBatch).Int()
	if err != nil {
		// the write landed, trimming is retried on the next Put
		span.AddEvent("prune failed", trace.WithAttributes(attribute.String("error", err.Error())))
	} else if n > 0 {
		span.SetAttributes(attribute.Int("db.pruned", n))
	}
	return nil
}

// storedVersion reads the version of the stored session; a missing key is 0.
func storedVersion(ctx context.Context, tx *redis.Tx, key string) (int64, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read version: %w", err)
	}
	var stored struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(data, &stored); err != nil {
		return 0, fmt.Errorf("unmarshal version: %w", err)
	}
	return stored.Version, nil
}

// List returns sessions matching f, newest first. Index entries whose session
// has expired are skipped and pruned, and further pages are read until the
// limit is filled with live sessions or the index runs out.
func (s *Store) List(ctx context.Context, f triage.ListFilter) ([]*triage.Session, error) {
	ctx, span := startSpan(ctx, "redisstore.List", "ZREVRANGEBYSCORE")
	defer span.End()

	index := indexAll
	if f.OwnerID != "" {
		index = ownerIndexKey(f.OwnerID)
	}

	limit := f.EffectiveLimit()
	var (
		out   []*triage.Session
		stale []any
	)
	err := s.scan(ctx, index, f.Since, int64(limit), func(sess *triage.Session) bool {
		if f.Match(sess) {
			out = append(out, sess)
		}
		return len(out) < limit
	}, func(id string) {
		stale = append(stale, id)
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	s.prune(ctx, span, index, stale)
	span.SetAttributes(attribute.Int("db.rows", len(out)))
	return out, nil
}

// Aggregate computes dashboard stats over every live session created since
// the given time.
func (s *Store) Aggregate(ctx context.Context, since time.Time) (*triage.Stats, error) {
	ctx, span := startSpan(ctx, "redisstore.Aggregate", "ZREVRANGEBYSCORE")
	defer span.End()

	st := triage.NewStats(since)
	var stale []any
	err := s.scan(ctx, indexAll, since, aggregatePage, func(sess *triage.Session) bool {
		st.Add(sess)
		return true
	}, func(id string) {
		stale = append(stale, id)
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	s.prune(ctx, span, indexAll, stale)
	return st, nil
}

// scan walks index newest first in pages, handing live sessions to visit until
// it returns false and IDs without a session key to expired.
func (s *Store) scan(ctx context.Context, index string, since time.Time, page int64, visit func(*triage.Session) bool, expired func(string)) error {
	lower := "-inf"
	if !since.IsZero() {
		lower = strconv.FormatFloat(score(since), 'f', -1, 64)
	}

	for offset := int64(0); ; offset += page {
		ids, err := s.client.ZRevRangeByScore(ctx, index, &redis.ZRangeBy{
			Min:    lower,
			Max:    "+inf",
			Offset: offset,
			Count:  page,
		}).Result()
		if err != nil {
			return fmt.Errorf("read index: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = sessionKey(id)
		}
		vals, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("read sessions: %w", err)
		}

		for i, v := range vals {
			str, ok := v.(string)
			if !ok {
				expired(ids[i])
				continue
			}
			var sess triage.Session
			if err := json.Unmarshal([]byte(str), &sess); err != nil {
				return fmt.Errorf("unmarshal session %s: %w", ids[i], err)
			}
			if !visit(&sess) {
				return nil
			}
		}

		if int64(len(ids)) < page {
			return nil
		}
	}
}

// prune removes IDs of expired sessions from an index once the scan is done,
// so removals never shift the pages being read.
func (s *Store) prune(ctx context.Context, span trace.Span, index string, stale []any) {
	if len(stale) == 0 {
		return
	}
	if err := s.client.ZRem(ctx, index, stale...).Err(); err != nil {
		// listing still succeeded, pruning is retried next time
		span.AddEvent("prune failed", trace.WithAttributes(attribute.String("error", err.Error())))
		return
	}
	span.SetAttributes(attribute.Int("db.pruned", len(stale)))
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation.name", op),
	))
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
