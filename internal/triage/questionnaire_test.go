package triage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultQuestionnaire(t *testing.T) {
	t.Parallel()

	q := DefaultQuestionnaire()

	wantIDs := []string{"breathing", "consciousness", "bleeding", "vomiting", "eating", "mobility", "pain", "ingestion"}
	if len(q.Questions) != len(wantIDs) {
		t.Fatalf("len(Questions) = %d, want %d", len(q.Questions), len(wantIDs))
	}
	for i, id := range wantIDs {
		if q.Questions[i].ID != id {
			t.Errorf("Questions[%d].ID = %q, want %q", i, q.Questions[i].ID, id)
		}
		if q.Questions[i].Options[0].Level != LevelOK || q.Questions[i].Options[0].Score != 0 {
			t.Errorf("question %q: first option should be ok/0, got %q/%d", id, q.Questions[i].Options[0].Level, q.Questions[i].Options[0].Score)
		}
	}

	if q.Thresholds.Rapid != 15 || q.Thresholds.Urgent != 30 {
		t.Errorf("Thresholds = %+v, want {Rapid:15 Urgent:30}", q.Thresholds)
	}
	for _, tier := range Tiers {
		if len(q.Guidance[tier].Actions) == 0 {
			t.Errorf("tier %q has no actions", tier)
		}
	}
}

func TestQuestionnaire_Question(t *testing.T) {
	t.Parallel()

	q := DefaultQuestionnaire()

	qu, idx, ok := q.Question("vomiting")
	if !ok || idx != 3 || qu.ID != "vomiting" {
		t.Errorf("Question(vomiting) = (%q, %d, %v), want (vomiting, 3, true)", qu.ID, idx, ok)
	}
	if _, idx, ok := q.Question("nope"); ok || idx != -1 {
		t.Errorf("Question(nope) = (_, %d, %v), want (_, -1, false)", idx, ok)
	}
}

func TestQuestionnaire_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(q *Questionnaire)
		wantErr string
	}{
		{"valid", func(*Questionnaire) {}, ""},
		{"no questions", func(q *Questionnaire) { q.Questions = nil }, "no questions"},
		{"missing id", func(q *Questionnaire) { q.Questions[0].ID = "" }, "missing id"},
		{"duplicate id", func(q *Questionnaire) { q.Questions[1].ID = q.Questions[0].ID }, "duplicate id"},
		{"two options", func(q *Questionnaire) { q.Questions[0].Options = q.Questions[0].Options[:2] }, "has 2 options"},
		{"score too high", func(q *Questionnaire) { q.Questions[0].Options[2].Score = 11 }, "out of range"},
		{"negative score", func(q *Questionnaire) { q.Questions[0].Options[0].Score = -1 }, "out of range"},
		{"bad level", func(q *Questionnaire) { q.Questions[0].Options[1].Level = "fatal" }, "unknown level"},
		{"zero rapid", func(q *Questionnaire) { q.Thresholds.Rapid = 0 }, "invalid thresholds"},
		{"equal thresholds", func(q *Questionnaire) { q.Thresholds.Urgent = q.Thresholds.Rapid }, "invalid thresholds"},
		{"missing guidance", func(q *Questionnaire) { delete(q.Guidance, TierSurveillance) }, "missing guidance"},
		{"no actions", func(q *Questionnaire) {
			g := q.Guidance[TierUrgence]
			g.Actions = nil
			q.Guidance[TierUrgence] = g
		}, "no actions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			q := DefaultQuestionnaire()
			tt.mutate(q)
			err := q.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadQuestionnaire_EmptyPathUsesDefault(t *testing.T) {
	t.Parallel()

	q, err := LoadQuestionnaire("")
	if err != nil {
		t.Fatalf("LoadQuestionnaire: %v", err)
	}
	if len(q.Questions) != 8 {
		t.Errorf("len(Questions) = %d, want 8", len(q.Questions))
	}
}

func TestLoadQuestionnaire_File(t *testing.T) {
	t.Parallel()

	doc := `
thresholds: {rapid: 4, urgent: 8}
questions:
  - id: appetite
    prompt: "Appétit ?"
    options:
      - {label: "Normal", score: 0, level: ok}
      - {label: "Réduit", score: 4, level: moderate}
      - {label: "Nul", score: 8, level: serious}
guidance:
  URGENCE: {title: "U", description: "u", actions: ["call"]}
  CONSULTATION RAPIDE: {title: "C", description: "c", actions: ["book"]}
  SURVEILLANCE: {title: "S", description: "s", actions: ["watch"]}
`
	path := filepath.Join(t.TempDir(), "q.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	q, err := LoadQuestionnaire(path)
	if err != nil {
		t.Fatalf("LoadQuestionnaire: %v", err)
	}

	sc, err := NewScorer(q)
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}
	res, err := sc.Classify([]Answer{{QuestionID: "appetite", Option: q.Questions[0].Options[1]}})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Tier != TierConsultationRapide || res.Title != "C" {
		t.Errorf("result = {%q %q}, want {%q C}", res.Tier, res.Title, TierConsultationRapide)
	}
}

func TestLoadQuestionnaire_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	if _, err := LoadQuestionnaire(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadQuestionnaire(missing) = nil error, want error")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("questions: [::"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := LoadQuestionnaire(bad); err == nil {
		t.Error("LoadQuestionnaire(bad yaml) = nil error, want error")
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("thresholds: {rapid: 1, urgent: 2}\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := LoadQuestionnaire(invalid); err == nil {
		t.Error("LoadQuestionnaire(no questions) = nil error, want error")
	}
}
