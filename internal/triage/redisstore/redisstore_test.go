package redisstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/pawcketvet/internal/triage"
)

func openStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	url := os.Getenv("PAWCKETVET_TEST_REDIS_URL")
	if url == "" {
		t.Skip("PAWCKETVET_TEST_REDIS_URL not set, skipping integration test")
	}
	client, err := Connect(context.Background(), url)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	s, err := New(client, ttl)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// memStore runs the store against an in-process Redis whose clock the test
// drives: advance moves key expiry and the store's own clock together.
func memStore(t *testing.T, ttl time.Duration) (*Store, func(time.Duration)) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s, err := New(client, ttl)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clock := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	return s, func(d time.Duration) {
		clock = clock.Add(d)
		mr.FastForward(d)
	}
}

func TestNew_NilClient(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, time.Minute); err == nil {
		t.Fatal("New(nil) = nil error, want error")
	}
}

func TestKeys(t *testing.T) {
	t.Parallel()

	if got := sessionKey("01J"); got != "pawcketvet:triage:session:01J" {
		t.Errorf("sessionKey = %q", got)
	}
	if got := ownerIndexKey("o-1"); got != "pawcketvet:triage:owner:o-1" {
		t.Errorf("ownerIndexKey = %q", got)
	}
}

func TestScore_Monotonic(t *testing.T) {
	t.Parallel()

	a := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	b := a.Add(time.Millisecond)
	if score(b) <= score(a) {
		t.Errorf("score(%v) = %v, want > score(%v) = %v", b, score(b), a, score(a))
	}
}

func TestConnect_BadURL(t *testing.T) {
	t.Parallel()

	if _, err := Connect(context.Background(), "redis://:bad url"); err == nil {
		t.Fatal("Connect(bad url) = nil error, want error")
	}
}

func TestPutAndGet(t *testing.T) {
	s := openStore(t, time.Minute)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	sess := &triage.Session{
		ID:        ulid.Make().String(),
		OwnerID:   "owner-redis",
		PetName:   "Mina",
		State:     triage.StateCompleted,
		Answers:   []triage.Answer{{QuestionID: "ingestion", Option: triage.Option{Score: 10, Level: triage.LevelCritical}}},
		Result:    &triage.Result{Tier: triage.TierUrgence, Total: 10, HasCritical: true},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Put(ctx, sess); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get(ctx, sess.ID)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.PetName != "Mina" || got.Result == nil || got.Result.Tier != triage.TierUrgence {
		t.Errorf("Get = %+v", got)
	}

	if _, ok, err := s.Get(ctx, "missing-"+sess.ID); err != nil || ok {
		t.Errorf("Get(missing) = ok=%v err=%v, want false, nil", ok, err)
	}
}

func TestList(t *testing.T) {
	s := openStore(t, time.Minute)
	ctx := context.Background()

	owner := "owner-list-" + ulid.Make().String()
	base := time.Now().UTC().Truncate(time.Millisecond)
	var ids []string
	for i := 0; i < 3; i++ {
		sess := &triage.Session{
			ID:        ulid.Make().String(),
			OwnerID:   owner,
			State:     triage.StateNotStarted,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.Put(ctx, sess); err != nil {
			t.Fatalf("Put: %v", err)
		}
		ids = append(ids, sess.ID)
	}

	got, err := s.List(ctx, triage.ListFilter{OwnerID: owner})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 || got[0].ID != ids[2] || got[2].ID != ids[0] {
		t.Fatalf("List order wrong: %v", got)
	}

	got, err = s.List(ctx, triage.ListFilter{OwnerID: owner, Since: base.Add(time.Second)})
	if err != nil {
		t.Fatalf("List since: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("List since = %d sessions, want 2", len(got))
	}
}

func TestList_PrunesExpired(t *testing.T) {
	s := openStore(t, time.Minute)
	ctx := context.Background()

	owner := "owner-prune-" + ulid.Make().String()
	sess := &triage.Session{ID: ulid.Make().String(), OwnerID: owner, CreatedAt: time.Now().UTC()}
	if err := s.Put(ctx, sess); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// simulate expiry of the session key while the index entry remains
	if err := s.client.Del(ctx, sessionKey(sess.ID)).Err(); err != nil {
		t.Fatalf("Del: %v", err)
	}

	got, err := s.List(ctx, triage.ListFilter{OwnerID: owner})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("List = %d sessions, want 0", len(got))
	}

	n, err := s.client.ZCard(ctx, ownerIndexKey(owner)).Result()
	if err != nil {
		t.Fatalf("ZCard: %v", err)
	}
	if n != 0 {
		t.Errorf("owner index size = %d, want 0 after prune", n)
	}
}

func TestList_SkipsExpiredEntriesBeyondFirstPage(t *testing.T) {
	t.Parallel()

	s, advance := memStore(t, time.Hour)
	ctx := context.Background()
	created := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	a := &triage.Session{ID: "a", OwnerID: "o", CreatedAt: created}
	b := &triage.Session{ID: "b", OwnerID: "o", CreatedAt: created.Add(time.Minute)}
	for _, sess := range []*triage.Session{a, b} {
		if err := s.Put(ctx, sess); err != nil {
			t.Fatalf("Put(%s): %v", sess.ID, err)
		}
	}

	// a is written again and outlives b, which is newer in the index
	advance(50 * time.Minute)
	a.PetName = "Rex"
	if err := s.Put(ctx, a); err != nil {
		t.Fatalf("re-Put(a): %v", err)
	}
	advance(20 * time.Minute)

	for _, owner := range []string{"o", ""} {
		got, err := s.List(ctx, triage.ListFilter{OwnerID: owner, Limit: 1})
		if err != nil {
			t.Fatalf("List(owner=%q): %v", owner, err)
		}
		if len(got) != 1 || got[0].ID != "a" {
			t.Errorf("List(owner=%q, limit=1) = %v, want [a]", owner, got)
		}
	}

	n, err := s.client.ZCard(ctx, ownerIndexKey("o")).Result()
	if err != nil {
		t.Fatalf("ZCard: %v", err)
	}
	if n != 1 {
		t.Errorf("owner index size = %d, want 1 after prune", n)
	}
}

func TestPut_TrimsGlobalIndex(t *testing.T) {
	t.Parallel()

	s, advance := memStore(t, time.Hour)
	ctx := context.Background()
	created := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"x1", "x2", "x3"} {
		sess := &triage.Session{ID: id, OwnerID: "o-" + id, CreatedAt: created.Add(time.Duration(i) * time.Second)}
		if err := s.Put(ctx, sess); err != nil {
			t.Fatalf("Put(%s): %v", id, err)
		}
	}

	// nothing lists after the sessions expire, the next write trims them
	advance(2 * time.Hour)
	if err := s.Put(ctx, &triage.Session{ID: "fresh", OwnerID: "o", CreatedAt: created.Add(2 * time.Hour)}); err != nil {
		t.Fatalf("Put(fresh): %v", err)
	}

	for _, key := range []string{indexAll, expiryAll} {
		members, err := s.client.ZRange(ctx, key, 0, -1).Result()
		if err != nil {
			t.Fatalf("ZRange(%s): %v", key, err)
		}
		if len(members) != 1 || members[0] != "fresh" {
			t.Errorf("%s = %v, want [fresh]", key, members)
		}
	}
}

func TestPut_VersionConflict(t *testing.T) {
	t.Parallel()

	s, _ := memStore(t, time.Hour)
	ctx := context.Background()

	sess := &triage.Session{ID: "v", OwnerID: "o", CreatedAt: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	if err := s.Put(ctx, sess); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if sess.Version != 1 {
		t.Errorf("Version after insert = %d, want 1", sess.Version)
	}

	a, _, _ := s.Get(ctx, "v")
	b, _, _ := s.Get(ctx, "v")
	a.PetName = "Rex"
	b.PetName = "Medor"
	if err := s.Put(ctx, a); err != nil {
		t.Fatalf("Put(a): %v", err)
	}
	if err := s.Put(ctx, b); !errors.Is(err, triage.ErrConflict) {
		t.Fatalf("Put(b) err = %v, want %v", err, triage.ErrConflict)
	}

	got, _, _ := s.Get(ctx, "v")
	if got.PetName != "Rex" || got.Version != 2 {
		t.Errorf("stored = {%q v%d}, want {Rex v2}", got.PetName, got.Version)
	}
}

func TestAggregate_CountsPastListLimit(t *testing.T) {
	t.Parallel()

	s, advance := memStore(t, time.Hour)
	ctx := context.Background()
	created := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	const n = aggregatePage + 30
	for i := 0; i < n; i++ {
		sess := &triage.Session{
			ID:        ulid.Make().String(),
			OwnerID:   "o",
			State:     triage.StateCompleted,
			Result:    &triage.Result{Tier: triage.TierSurveillance, Total: i % 3},
			CreatedAt: created.Add(time.Duration(i) * time.Millisecond),
		}
		if err := s.Put(ctx, sess); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	// expires before the aggregate runs
	advance(30 * time.Minute)
	gone := &triage.Session{ID: "gone", OwnerID: "o", CreatedAt: created.Add(time.Hour)}
	if err := s.client.Set(ctx, sessionKey(gone.ID), "{}", time.Millisecond).Err(); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.client.ZAdd(ctx, indexAll, redis.Z{Score: score(gone.CreatedAt), Member: gone.ID}).Err(); err != nil {
		t.Fatalf("ZAdd: %v", err)
	}
	advance(time.Second)

	st, err := s.Aggregate(ctx, time.Time{})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if st.Sessions != n || st.ByTier[triage.TierSurveillance] != n {
		t.Errorf("stats = {sessions %d surveillance %d}, want %d", st.Sessions, st.ByTier[triage.TierSurveillance], n)
	}
	if err := s.client.ZScore(ctx, indexAll, gone.ID).Err(); !errors.Is(err, redis.Nil) {
		t.Errorf("ZScore(expired) err = %v, want redis.Nil after prune", err)
	}
}
