package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/0xPuncker/panelcron/pkg/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// outputTailLines is how much captured output goes into an alert
const outputTailLines = 10

type SlackService struct {
	logger     *logrus.Logger
	webhookURL string
	client     *http.Client
}

type SlackMessage struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type Attachment struct {
	Color  string  `json:"color,omitempty"`
	Text   string  `json:"text,omitempty"`
	Fields []Field `json:"fields,omitempty"`
	Footer string  `json:"footer,omitempty"`
	Ts     int64   `json:"ts,omitempty"`
}

type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func NewSlackService(webhookURL string, logger *logrus.Logger) (*SlackService, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("slack webhook URL is not set")
	}

	return &SlackService{
		logger:     logger,
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// SendFailureAlert reports an executed job that exited non-zero
func (s *SlackService) SendFailureAlert(outcome types.Outcome) error {
	exitCode := 0
	if outcome.ExitCode != nil {
		exitCode = *outcome.ExitCode
	}

	color := "#ffcc00"
	if exitCode >= 128 {
		color = "#ff0000"
	}

	mainMessage := fmt.Sprintf("⚠️ Scheduled job #%d for %s failed with exit code %d",
		outcome.JobID,
		cases.Title(language.English).String(outcome.Owner),
		exitCode)

	fields := []Field{
		{
			Title: "Owner",
			Value: outcome.Owner,
			Short: true,
		},
		{
			Title: "Schedule",
			Value: outcome.Schedule,
			Short: true,
		},
		{
			Title: "Exit Code",
			Value: fmt.Sprintf("%d", exitCode),
			Short: true,
		},
	}

	if outcome.Duration != "" {
		fields = append(fields, Field{
			Title: "Duration",
			Value: outcome.Duration,
			Short: true,
		})
	}

	message := SlackMessage{
		Text: mainMessage,
		Attachments: []Attachment{
			{
				Color:  color,
				Fields: fields,
				Footer: fmt.Sprintf("Job #%d | Started: %s",
					outcome.JobID,
					outcome.Started.Format("Mon, 02 Jan 2006 15:04:05 MST")),
				Ts: time.Now().Unix(),
			},
		},
	}

	if tail := tailLines(outcome.Output, outputTailLines); tail != "" {
		message.Attachments[0].Text = "```" + tail + "```"
	}

	return s.SendSlackMessage(&message)
}

func (s *SlackService) SendSlackMessage(message *SlackMessage) error {
	if s.webhookURL == "" {
		return fmt.Errorf("slack webhook URL not configured")
	}

	jsonMessage, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("error marshaling slack message: %w", err)
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewBuffer(jsonMessage))
	if err != nil {
		return fmt.Errorf("error sending slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned non-200 status code: %d", resp.StatusCode)
	}

	s.logger.Debug("Successfully sent message to Slack")
	return nil
}

func tailLines(lines []string, n int) string {
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
