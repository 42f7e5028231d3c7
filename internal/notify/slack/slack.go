// Package slack sends urgent triage notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/pawcketvet/internal/triage"
)

const (
	maxAnswersLen = 3000
	maxPetNameLen = 100
	httpTimeout   = 10 * time.Second
)

// Notifier sends completed triage sessions to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Send posts a completed session to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, sess *triage.Session) error {
	if n.webhookURL == "" {
		return nil
	}
	if sess == nil || sess.Result == nil {
		return errors.New("slack: session has no result")
	}

	msg := buildMessage(sess)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "slack notification sent", "session_id", sess.ID, "tier", sess.Result.Tier)
	return nil
}

func buildMessage(s *triage.Session) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(s),
			{"type": "divider"},
			fieldsBlock(s),
			{"type": "divider"},
			answersBlock(s),
			{"type": "divider"},
			contextBlock(s),
		},
	}
}

func headerBlock(s *triage.Session) map[string]any {
	emoji := tierEmoji(s.Result.Tier)
	pet := truncate(s.PetName, maxPetNameLen)
	if pet == "" {
		pet = "unnamed pet"
	}
	text := fmt.Sprintf("%s SOS triage %s: %s", emoji, s.Result.Tier, pet)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(s *triage.Session) map[string]any {
	critical := "no"
	if s.Result.HasCritical {
		critical = "yes"
	}

	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Tier:* %s", s.Result.Tier),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Score:* %d", s.Result.Total),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Critical answer:* %s", critical),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Owner:* %s", escape(s.OwnerID)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Restarts:* %d", s.Restarts),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Answers:* %d", len(s.Answers)),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

// answersBlock lists every answer that is not ok, worst level first.
func answersBlock(s *triage.Session) map[string]any {
	var lines []string
	for _, lvl := range []triage.Level{triage.LevelCritical, triage.LevelSerious, triage.LevelModerate} {
		for _, a := range s.Answers {
			if a.Option.Level != lvl {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s *%s*: %s (%d)",
				levelMarker(lvl), escape(a.QuestionID), escape(a.Option.Label), a.Option.Score))
		}
	}

	text := truncate(strings.Join(lines, "\n"), maxAnswersLen)
	if text == "" {
		text = "_No concerning answers._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Signs reported*\n\n%s", text),
		},
	}
}

func contextBlock(s *triage.Session) map[string]any {
	ts := s.CompletedAt
	if ts.IsZero() {
		ts = s.CreatedAt
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("pawcketvet • session %s • %s", s.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func tierEmoji(tier triage.Tier) string {
	switch tier {
	case triage.TierUrgence:
		return "\U0001f534" // red circle
	case triage.TierConsultationRapide:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func levelMarker(lvl triage.Level) string {
	switch lvl {
	case triage.LevelCritical:
		return "\u203c\ufe0f" // double exclamation
	case triage.LevelSerious:
		return "\u2757" // exclamation
	default:
		return "\u2022" // bullet
	}
}

var mrkdwnEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// escape neutralises the characters Slack treats as control sequences in mrkdwn.
func escape(s string) string {
	return mrkdwnEscaper.Replace(s)
}

// truncate caps s at limit bytes, cutting on a rune boundary.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
