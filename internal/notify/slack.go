// Package notify posts run notifications to a Slack incoming webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/johndauphine/pg-mssql-migrate/internal/config"
)

const appName = "pg-mssql-migrate"

const (
	colorGood    = "#36a64f"
	colorWarning = "#ffc107"
	colorDanger  = "#dc3545"

	maxErrorLen   = 500
	listFailures  = 5
	sendTimeout   = 10 * time.Second
	startedLayout = "2006-01-02 15:04:05 UTC"
)

// Notifier sends notifications to Slack.
type Notifier struct {
	cfg    config.SlackConfig
	client *http.Client
}

// SlackMessage is a Slack webhook payload.
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment is a Slack message attachment.
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField is a field in a Slack attachment.
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// New creates a Slack notifier. A nil config yields a disabled notifier.
func New(cfg *config.SlackConfig) *Notifier {
	n := &Notifier{client: &http.Client{Timeout: sendTimeout}}
	if cfg != nil {
		n.cfg = *cfg
	}
	return n
}

// IsEnabled reports whether notifications will be sent.
func (n *Notifier) IsEnabled() bool {
	return n.cfg.Enabled && n.cfg.WebhookURL != ""
}

// RunStarted announces a run once its tables are known.
func (n *Notifier) RunStarted(run Run) error {
	return n.post(":rocket:", "", SlackAttachment{
		Color: colorGood,
		Title: "Migration Started",
		Fields: []SlackField{
			short("Run ID", run.ID),
			short("Tables", strconv.Itoa(run.Tables)),
			short("Source (PostgreSQL)", run.SourceDB),
			short("Target (SQL Server)", run.TargetDB),
		},
	})
}

// TableFailed reports one table whose data load failed.
func (n *Notifier) TableFailed(run Run, table string, err error) error {
	return n.post(":warning:", "", SlackAttachment{
		Color: colorWarning,
		Title: "Table Transfer Failed",
		Fields: []SlackField{
			short("Run ID", run.ID),
			short("Table", table),
			long("Error", errorText(err)),
		},
	})
}

// RunFinished reports how the run ended.
func (n *Notifier) RunFinished(run Run) error {
	if run.Err != nil {
		return n.post(":x:", "", SlackAttachment{
			Color: colorDanger,
			Title: "Migration Failed",
			Fields: []SlackField{
				short("Run ID", run.ID),
				short("Duration", formatDuration(run.Duration)),
				long("Error", errorText(run.Err)),
			},
		})
	}

	rate := formatCount(int64(run.RowsPerSecond())) + " rows/sec"
	fields := []SlackField{
		short("Run ID", run.ID),
		short("Started", run.Started.UTC().Format(startedLayout)),
		short("Duration", formatDuration(run.Duration)),
	}

	if run.Failed > 0 {
		text := fmt.Sprintf("Migration completed with errors. %d tables succeeded, %d tables failed. Transferred %s rows. Throughput: %s.",
			run.Succeeded(), run.Failed, formatCount(run.Rows), rate)
		fields = append(fields,
			short("Succeeded", fmt.Sprintf("%d tables", run.Succeeded())),
			short("Failed", fmt.Sprintf("%d tables", run.Failed)),
			short("Total Rows", formatCount(run.Rows)),
			long("Failed Tables", summarizeFailures(run.Failures)),
		)
		return n.post(":warning:", text, SlackAttachment{Color: colorWarning, Fields: fields})
	}

	text := fmt.Sprintf("Migration completed successfully. Migrated %d tables with %s total rows. Throughput: %s.",
		run.Tables, formatCount(run.Rows), rate)
	fields = append(fields,
		short("Tables", strconv.Itoa(run.Tables)),
		short("Total Rows", formatCount(run.Rows)),
		short("Throughput", rate),
	)
	return n.post(":white_check_mark:", text, SlackAttachment{Color: colorGood, Fields: fields})
}

// post sends one attachment. A disabled notifier does nothing.
func (n *Notifier) post(icon, text string, att SlackAttachment) error {
	if !n.IsEnabled() {
		return nil
	}
	att.Footer = appName
	att.Timestamp = time.Now().Unix()

	username := n.cfg.Username
	if username == "" {
		username = appName
	}
	payload, err := json.Marshal(SlackMessage{
		Channel:     n.cfg.Channel,
		Username:    username,
		IconEmoji:   icon,
		Text:        text,
		Attachments: []SlackAttachment{att},
	})
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building Slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending to Slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

func short(title, value string) SlackField {
	return SlackField{Title: title, Value: value, Short: true}
}
func long(title, value string) SlackField { return SlackField{Title: title, Value: value} }

func errorText(err error) string {
	if err == nil {
		return "Unknown error"
	}
	msg := err.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen] + "..."
	}
	return msg
}

func summarizeFailures(failures []string) string {
	if len(failures) == 0 {
		return ""
	}
	if len(failures) <= listFailures {
		return "Failed tables: " + strings.Join(failures, ", ")
	}
	return fmt.Sprintf("Failed tables: %s... and %d more", strings.Join(failures[:3], ", "), len(failures)-3)
}

// formatCount groups digits in threes: 1234567 -> "1,234,567".
func formatCount(n int64) string {
	digits := strconv.FormatInt(n, 10)
	sign := ""
	if n < 0 {
		sign, digits = "-", digits[1:]
	}
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String()
}

// formatDuration renders whole seconds as "1h 2m 3s", dropping leading zero units.
func formatDuration(d time.Duration) string {
	total := int64(d.Round(time.Second) / time.Second)
	h, m, s := total/3600, total%3600/60, total%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
