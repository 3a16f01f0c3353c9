package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Notifier sends alert notifications to external channels.
type Notifier interface {
	Notify(ctx context.Context, alerts []Alert) error
}

type slackNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewSlackNotifier creates a Notifier posting to a Slack incoming webhook.
func NewSlackNotifier(webhookURL string) Notifier {
	return &slackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Block Kit subset: header, section (text and fields), context, divider.
type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func mrkdwn(format string, args ...any) slackText {
	return slackText{Type: "mrkdwn", Text: fmt.Sprintf(format, args...)}
}

// Notify posts alerts as one message grouped by activity. No request is
// made for no alerts.
func (s *slackNotifier) Notify(ctx context.Context, alerts []Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	body, err := json.Marshal(buildSlackMessage(alerts))
	if err != nil {
		return fmt.Errorf("marshalling slack message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// buildSlackMessage renders a summary line, then one section per activity
// with a field pair per alert.
func buildSlackMessage(alerts []Alert) slackMessage {
	byActivity := make(map[string][]Alert)
	bySeverity := make(map[AlertSeverity]int)
	for _, a := range alerts {
		byActivity[a.Activity] = append(byActivity[a.Activity], a)
		bySeverity[a.Severity]++
	}
	activities := make([]string, 0, len(byActivity))
	for name := range byActivity {
		activities = append(activities, name)
	}
	sort.Strings(activities)

	var counts []string
	for _, sev := range []AlertSeverity{SeverityHigh, SeverityMedium, SeverityLow} {
		if n := bySeverity[sev]; n > 0 {
			counts = append(counts, fmt.Sprintf("%s %d %s", severityEmoji(sev), n, sev))
		}
	}
	summary := fmt.Sprintf("%d alert(s) across %d activit%s", len(alerts), len(activities), plural(len(activities), "y", "ies"))

	blocks := []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: "sfini worker alerts"}},
		{Type: "section", Text: &slackText{Type: "mrkdwn", Text: summary + ": " + strings.Join(counts, ", ")}},
	}
	for _, name := range activities {
		label := name
		if label == "" {
			label = "(unknown activity)"
		}
		blocks = append(blocks,
			slackBlock{Type: "divider"},
			slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf("*%s*", label)}},
		)
		for _, a := range byActivity[name] {
			blocks = append(blocks,
				slackBlock{Type: "section", Fields: []slackText{
					mrkdwn("%s *%s*\n%s", severityEmoji(a.Severity), strings.ToUpper(string(a.Severity)), a.Condition),
					mrkdwn("%s", a.Message),
				}},
				slackBlock{Type: "context", Elements: []slackText{
					mrkdwn("`%s` triggered %s", a.ID, a.TriggeredAt.Format("2006-01-02 15:04 UTC")),
				}},
			)
		}
	}
	return slackMessage{Text: summary, Blocks: blocks}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func severityEmoji(severity AlertSeverity) string {
	switch severity {
	case SeverityHigh:
		return "\U0001f534"
	case SeverityMedium:
		return "\U0001f7e1"
	case SeverityLow:
		return "\U0001f535"
	default:
		return "❓"
	}
}
