package notify

import (
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/skyhound/recongraph/pkg/models"
)

const maxBlockTextLength = 2900

var statusEmoji = map[string]string{
	models.StatusCompleted: ":white_check_mark:",
	models.StatusFailed:    ":x:",
	models.StatusCancelled: ":no_entry_sign:",
}

var statusLabel = map[string]string{
	models.StatusCompleted: "Mission Completed",
	models.StatusFailed:    "Mission Failed",
	models.StatusCancelled: "Mission Cancelled",
}

func missionURL(missionID, dashboardURL string) string {
	return fmt.Sprintf("%s/missions/%s", dashboardURL, missionID)
}

// BuildStartedMessage creates Block Kit blocks for a mission start notification.
func BuildStartedMessage(m *models.Mission, dashboardURL string) []goslack.Block {
	url := missionURL(m.ID, dashboardURL)
	text := fmt.Sprintf(":arrows_counterclockwise: *Recon started* for `%s` (%s mode).\n<%s|View in Dashboard>",
		m.Target, m.Mode, url)

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

// BuildFinishedMessage creates Block Kit blocks for a terminal mission
// notification.
func BuildFinishedMessage(m *models.Mission, status, dashboardURL string) []goslack.Block {
	emoji := statusEmoji[status]
	if emoji == "" {
		emoji = ":question:"
	}
	label := statusLabel[status]
	if label == "" {
		label = "Mission " + status
	}

	headerText := fmt.Sprintf("%s *%s*: `%s`", emoji, label, m.Target)
	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
			nil, nil,
		),
	}

	switch {
	case status == models.StatusFailed && m.ErrorMessage != "":
		text := fmt.Sprintf("*Error* (`%s` at %s):\n%s", m.ErrorCode, m.ErrorStage, truncateForSlack(m.ErrorMessage))
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		))
	case status == models.StatusCompleted && m.Report != nil && m.Report.Summary != "":
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(m.Report.Summary), false, false),
			nil, nil,
		))
	}

	buttonText := "View Report"
	if status != models.StatusCompleted {
		buttonText = "View Details"
	}
	btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, buttonText, false, false))
	btn.URL = missionURL(m.ID, dashboardURL)
	blocks = append(blocks, goslack.NewActionBlock("", btn))

	return blocks
}

// truncateForSlack caps text at the Block Kit limit without splitting a
// multi-byte rune.
func truncateForSlack(text string) string {
	runes := []rune(text)
	if len(runes) <= maxBlockTextLength {
		return text
	}
	return string(runes[:maxBlockTextLength]) + "\n\n_... (truncated; view the full report in the dashboard)_"
}
