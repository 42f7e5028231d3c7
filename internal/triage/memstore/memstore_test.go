package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/pawcketvet/internal/triage"
)

var base = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func TestStore_PutAndGet(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	sess := &triage.Session{ID: "s-1", OwnerID: "o-1", PetName: "Rex", State: triage.StateNotStarted, CreatedAt: base}
	if err := s.Put(ctx, sess); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get(ctx, "s-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected session to be found")
	}
	if got.OwnerID != "o-1" {
		t.Errorf("OwnerID = %q, want %q", got.OwnerID, "o-1")
	}
	if got.PetName != "Rex" {
		t.Errorf("PetName = %q, want %q", got.PetName, "Rex")
	}
}

func TestStore_GetMissing(t *testing.T) {
	t.Parallel()

	s := New()
	_, ok, err := s.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing ID")
	}
}

func TestStore_PutOverwrites(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_ = s.Put(ctx, &triage.Session{ID: "s-2", OwnerID: "o", State: triage.StateNotStarted})
	_ = s.Put(ctx, &triage.Session{
		ID:      "s-2",
		OwnerID: "o",
		Version: 1,
		State:   triage.StateCompleted,
		Result:  &triage.Result{Tier: triage.TierUrgence, Total: 40},
	})

	got, _, _ := s.Get(ctx, "s-2")
	if got.State != triage.StateCompleted {
		t.Errorf("State = %q, want %q", got.State, triage.StateCompleted)
	}
	if got.Result == nil || got.Result.Tier != triage.TierUrgence {
		t.Errorf("Result = %+v, want URGENCE", got.Result)
	}

	// overwrite must not duplicate the owner index
	list, _ := s.List(ctx, triage.ListFilter{OwnerID: "o"})
	if len(list) != 1 {
		t.Errorf("List(owner) = %d sessions, want 1", len(list))
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	orig := &triage.Session{ID: "s-3", Answers: []triage.Answer{{QuestionID: "breathing"}}}
	_ = s.Put(ctx, orig)

	orig.Answers[0].QuestionID = "mutated-after-put"
	got, _, _ := s.Get(ctx, "s-3")
	if got.Answers[0].QuestionID != "breathing" {
		t.Errorf("stored session shares memory with caller: %q", got.Answers[0].QuestionID)
	}

	got.Answers[0].QuestionID = "mutated-after-get"
	again, _, _ := s.Get(ctx, "s-3")
	if again.Answers[0].QuestionID != "breathing" {
		t.Errorf("Get returned shared memory: %q", again.Answers[0].QuestionID)
	}
}

func TestStore_List(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		owner := "o-a"
		if i%2 == 1 {
			owner = "o-b"
		}
		_ = s.Put(ctx, &triage.Session{
			ID:        fmt.Sprintf("s-%d", i),
			OwnerID:   owner,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	tests := []struct {
		name   string
		filter triage.ListFilter
		want   []string
	}{
		{"all newest first", triage.ListFilter{}, []string{"s-4", "s-3", "s-2", "s-1", "s-0"}},
		{"by owner", triage.ListFilter{OwnerID: "o-b"}, []string{"s-3", "s-1"}},
		{"since", triage.ListFilter{Since: base.Add(3 * time.Minute)}, []string{"s-4", "s-3"}},
		{"limit", triage.ListFilter{Limit: 2}, []string{"s-4", "s-3"}},
		{"owner and since", triage.ListFilter{OwnerID: "o-a", Since: base.Add(time.Minute)}, []string{"s-4", "s-2"}},
		{"unknown owner", triage.ListFilter{OwnerID: "o-z"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := s.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("List = %d sessions, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("List[%d] = %q, want %q", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n * 2)

	for i := range n {
		id := fmt.Sprintf("id-%d", i)
		owner := fmt.Sprintf("o-%d", i%7)

		go func() {
			defer wg.Done()
			_ = s.Put(ctx, &triage.Session{ID: id, OwnerID: owner, State: triage.StateNotStarted})
		}()

		go func() {
			defer wg.Done()
			_, _, _ = s.Get(ctx, id)
			_, _ = s.List(ctx, triage.ListFilter{OwnerID: owner})
		}()
	}

	wg.Wait()
}

func TestStore_PutVersionCheck(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	sess := &triage.Session{ID: "s-v", OwnerID: "o", State: triage.StateNotStarted}
	if err := s.Put(ctx, sess); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if sess.Version != 1 {
		t.Errorf("Version after insert = %d, want 1", sess.Version)
	}

	// two writers read version 1, only the first write lands
	a, _, _ := s.Get(ctx, "s-v")
	b, _, _ := s.Get(ctx, "s-v")
	a.PetName = "Rex"
	b.PetName = "Medor"
	if err := s.Put(ctx, a); err != nil {
		t.Fatalf("Put(a): %v", err)
	}
	if err := s.Put(ctx, b); !errors.Is(err, triage.ErrConflict) {
		t.Fatalf("Put(b) err = %v, want %v", err, triage.ErrConflict)
	}
	if b.Version != 1 {
		t.Errorf("rejected Put advanced Version to %d", b.Version)
	}

	got, _, _ := s.Get(ctx, "s-v")
	if got.PetName != "Rex" || got.Version != 2 {
		t.Errorf("stored = {%q v%d}, want {Rex v2}", got.PetName, got.Version)
	}

	// a second insert of the same ID is a conflict too
	if err := s.Put(ctx, &triage.Session{ID: "s-v", OwnerID: "o"}); !errors.Is(err, triage.ErrConflict) {
		t.Errorf("re-insert err = %v, want %v", err, triage.ErrConflict)
	}
}

func TestStore_Aggregate(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	put := func(sess *triage.Session) {
		t.Helper()
		if err := s.Put(ctx, sess); err != nil {
			t.Fatalf("Put(%s): %v", sess.ID, err)
		}
	}

	put(&triage.Session{ID: "a", State: triage.StateCompleted, CreatedAt: base, Restarts: 2,
		Result: &triage.Result{Tier: triage.TierUrgence, Total: 12, HasCritical: true}})
	put(&triage.Session{ID: "b", State: triage.StateCompleted, CreatedAt: base.Add(time.Minute),
		Result: &triage.Result{Tier: triage.TierSurveillance, Total: 4}})
	put(&triage.Session{ID: "c", State: triage.StateAnswering, CreatedAt: base.Add(2 * time.Minute), Restarts: 1})

	st, err := s.Aggregate(ctx, time.Time{})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if st.Sessions != 3 || st.Restarts != 3 || st.Critical != 1 {
		t.Errorf("stats = {sessions %d restarts %d critical %d}, want {3 3 1}", st.Sessions, st.Restarts, st.Critical)
	}
	if st.ByState[triage.StateCompleted] != 2 || st.ByState[triage.StateAnswering] != 1 {
		t.Errorf("ByState = %v", st.ByState)
	}
	if st.ByTier[triage.TierUrgence] != 1 || st.ByTier[triage.TierSurveillance] != 1 || st.ByTier[triage.TierConsultationRapide] != 0 {
		t.Errorf("ByTier = %v", st.ByTier)
	}
	if st.AverageScore != 8 {
		t.Errorf("AverageScore = %v, want 8", st.AverageScore)
	}

	st, _ = s.Aggregate(ctx, base.Add(time.Minute))
	if st.Sessions != 2 {
		t.Errorf("Sessions since = %d, want 2", st.Sessions)
	}
}

func TestStore_StatsCountEverySession(t *testing.T) {
	t.Parallel()

	sc, err := triage.NewScorer(triage.DefaultQuestionnaire())
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}
	svc := triage.NewService(New(), sc, log.Nop(), nil, nil)
	ctx := context.Background()

	const n = 10050
	for i := 0; i < n; i++ {
		if _, err := svc.Start(ctx, "o", ""); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}

	st, err := svc.Stats(ctx, time.Time{})
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Sessions != n || st.ByState[triage.StateNotStarted] != n {
		t.Errorf("stats = {sessions %d not_started %d}, want %d", st.Sessions, st.ByState[triage.StateNotStarted], n)
	}
	if st.Truncated {
		t.Error("Truncated = true for an aggregating store")
	}
}
