package slack

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"interviewhub/pkg/types"
)

// Payload is the Slack incoming-webhook message body.
type Payload struct {
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is one colored block in a Slack message.
type Attachment struct {
	Color     string  `json:"color,omitempty"`
	Title     string  `json:"title,omitempty"`
	Fields    []Field `json:"fields,omitempty"`
	Footer    string  `json:"footer,omitempty"`
	Timestamp int64   `json:"ts,omitempty"`
}

// Field is one key/value pair inside an attachment.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// recommendationStyle maps a recommendation to its sidebar color and label.
var recommendationStyle = map[string]struct {
	color string
	label string
}{
	"STRONG_HIRE":           {"#2eb886", "Strong Hire"},
	"HIRE":                  {"#36a64f", "Hire"},
	"PROCEED_TO_NEXT_ROUND": {"#3aa3e3", "Proceed to Next Round"},
	"MAYBE":                 {"#ffc107", "Maybe"},
	"NO_HIRE":               {"#dc3545", "No Hire"},
}

// EngagementLevel buckets an activity score for the report.
func EngagementLevel(score int) string {
	switch {
	case score > 80:
		return "High"
	case score > 60:
		return "Medium"
	default:
		return "Low"
	}
}

// FormatSessionReport builds the end-of-interview Slack message from the
// archived session state.
func FormatSessionReport(archive *types.SessionArchive) *Payload {
	color := "#cccccc"
	recommendation := "No recommendation"
	if archive.Notes != nil && archive.Notes.Recommendation != "" {
		recommendation = archive.Notes.Recommendation
		if style, ok := recommendationStyle[archive.Notes.Recommendation]; ok {
			color = style.color
			recommendation = style.label
		}
	}

	fields := []Field{
		{Title: "Session Code", Value: archive.Code, Short: true},
		{Title: "Candidate", Value: candidateNames(archive.PreservedParticipants), Short: true},
		{Title: "Duration", Value: formatDuration(archive.Created, archive.TerminatedAt), Short: true},
		{Title: "Recommendation", Value: recommendation, Short: true},
	}

	if archive.Notes != nil && archive.Notes.Rating.Overall > 0 {
		fields = append(fields, Field{
			Title: "Overall Rating",
			Value: fmt.Sprintf("%d/5", archive.Notes.Rating.Overall),
			Short: true,
		})
	}
	if archive.FinalSummary != nil {
		fields = append(fields, Field{
			Title: "Engagement",
			Value: fmt.Sprintf("%s (%d/100)", EngagementLevel(archive.FinalSummary.ActivityScore), archive.FinalSummary.ActivityScore),
			Short: true,
		})
		if archive.FinalSummary.SuspiciousPatterns > 0 {
			fields = append(fields, Field{
				Title: "Flagged Behavior",
				Value: fmt.Sprintf("%d suspicious pattern(s), %d tab switch(es)",
					archive.FinalSummary.SuspiciousPatterns, archive.FinalSummary.TabSwitches),
				Short: false,
			})
		}
	}
	if archive.Notes != nil && archive.Notes.Content != "" {
		fields = append(fields, Field{Title: "Notes", Value: archive.Notes.Content, Short: false})
	}
	if archive.Notes != nil && len(archive.Notes.Tags) > 0 {
		fields = append(fields, Field{Title: "Tags", Value: strings.Join(archive.Notes.Tags, ", "), Short: false})
	}

	return &Payload{
		Text: fmt.Sprintf("Interview session %s completed", archive.Code),
		Attachments: []Attachment{{
			Color:     color,
			Title:     "Interview Report",
			Fields:    fields,
			Footer:    "InterviewHub",
			Timestamp: archive.TerminatedAt / 1000,
		}},
	}
}

func candidateNames(participants map[string]types.Participant) string {
	var names []string
	for _, p := range participants {
		if p.Role == types.RoleCandidate {
			names = append(names, p.Name)
		}
	}
	if len(names) == 0 {
		return "Unknown"
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func formatDuration(createdMillis, endedMillis int64) string {
	if createdMillis <= 0 || endedMillis <= createdMillis {
		return "Unknown"
	}
	d := time.Duration(endedMillis-createdMillis) * time.Millisecond
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
