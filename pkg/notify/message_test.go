package notify

import (
	"strings"
	"testing"
	"unicode/utf8"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyhound/recongraph/pkg/models"
)

func TestBuildStartedMessage(t *testing.T) {
	m := &models.Mission{ID: "01MISSION", Target: "colombes.fr", Mode: "balanced"}
	blocks := BuildStartedMessage(m, "https://recon.example.test")

	require.Len(t, blocks, 1)

	section, ok := blocks[0].(*goslack.SectionBlock)
	require.True(t, ok)
	assert.Contains(t, section.Text.Text, ":arrows_counterclockwise:")
	assert.Contains(t, section.Text.Text, "colombes.fr")
	assert.Contains(t, section.Text.Text, "balanced")
	assert.Contains(t, section.Text.Text, "https://recon.example.test/missions/01MISSION")
}

func TestBuildFinishedMessage_Completed(t *testing.T) {
	m := &models.Mission{
		ID:     "01MISSION",
		Target: "colombes.fr",
		Report: &models.Report{Summary: "Mapped 14 subdomains, 2 open findings."},
	}
	blocks := BuildFinishedMessage(m, models.StatusCompleted, "https://recon.example.test")

	require.Len(t, blocks, 3)

	header := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, header.Text.Text, ":white_check_mark:")
	assert.Contains(t, header.Text.Text, "Mission Completed")
	assert.Contains(t, header.Text.Text, "colombes.fr")

	content := blocks[1].(*goslack.SectionBlock)
	assert.Contains(t, content.Text.Text, "2 open findings")

	action := blocks[2].(*goslack.ActionBlock)
	require.Len(t, action.Elements.ElementSet, 1)
	btn, ok := action.Elements.ElementSet[0].(*goslack.ButtonBlockElement)
	require.True(t, ok)
	assert.Equal(t, "View Report", btn.Text.Text)
	assert.Contains(t, btn.URL, "/missions/01MISSION")
}

func TestBuildFinishedMessage_CompletedWithoutReport(t *testing.T) {
	m := &models.Mission{ID: "01MISSION", Target: "colombes.fr"}
	blocks := BuildFinishedMessage(m, models.StatusCompleted, "https://recon.example.test")

	require.Len(t, blocks, 2, "header and button only")
}

func TestBuildFinishedMessage_Failed(t *testing.T) {
	m := &models.Mission{
		ID:           "01MISSION",
		Target:       "colombes.fr",
		ErrorCode:    "E301",
		ErrorStage:   models.PhaseActiveRecon,
		ErrorMessage: "store unavailable",
	}
	blocks := BuildFinishedMessage(m, models.StatusFailed, "https://recon.example.test")

	require.Len(t, blocks, 3)

	header := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, header.Text.Text, ":x:")
	assert.Contains(t, header.Text.Text, "Mission Failed")

	errBlock := blocks[1].(*goslack.SectionBlock)
	assert.Contains(t, errBlock.Text.Text, "E301")
	assert.Contains(t, errBlock.Text.Text, "store unavailable")

	action := blocks[2].(*goslack.ActionBlock)
	btn := action.Elements.ElementSet[0].(*goslack.ButtonBlockElement)
	assert.Equal(t, "View Details", btn.Text.Text)
}

func TestBuildFinishedMessage_Cancelled(t *testing.T) {
	m := &models.Mission{ID: "01MISSION", Target: "colombes.fr"}
	blocks := BuildFinishedMessage(m, models.StatusCancelled, "https://recon.example.test")

	header := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, header.Text.Text, ":no_entry_sign:")
	assert.Contains(t, header.Text.Text, "Mission Cancelled")
}

func TestTruncateForSlack(t *testing.T) {
	t.Run("short text unchanged", func(t *testing.T) {
		assert.Equal(t, "hello", truncateForSlack("hello"))
	})

	t.Run("exact limit unchanged", func(t *testing.T) {
		text := strings.Repeat("a", maxBlockTextLength)
		assert.Equal(t, text, truncateForSlack(text))
	})

	t.Run("over limit truncated", func(t *testing.T) {
		text := strings.Repeat("a", maxBlockTextLength+100)
		result := truncateForSlack(text)
		assert.True(t, len(result) < len(text))
		assert.Contains(t, result, "truncated")
	})

	t.Run("multi-byte runes not split", func(t *testing.T) {
		text := strings.Repeat("🛰", maxBlockTextLength+10)
		result := truncateForSlack(text)
		assert.Contains(t, result, "truncated")
		assert.True(t, utf8.ValidString(result), "result should be valid UTF-8")
		prefix := strings.Split(result, "\n\n_...")[0]
		assert.Equal(t, maxBlockTextLength, utf8.RuneCountInString(prefix))
	})
}
