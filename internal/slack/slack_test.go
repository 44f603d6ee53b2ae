package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"interviewhub/pkg/types"
)

func sampleArchive() *types.SessionArchive {
	return &types.SessionArchive{
		Code:         "123456",
		Created:      1724800000000,
		CreatedBy:    "interviewer@example.com",
		TerminatedBy: "interviewer@example.com",
		TerminatedAt: 1724800000000 + 45*60*1000, // 45 minutes later
		PreservedParticipants: map[string]types.Participant{
			"candidate_a":   {Name: "Alice", Role: types.RoleCandidate},
			"interviewer_b": {Name: "Ivy", Role: types.RoleInterviewer},
		},
		FinalSummary: &types.ActivitySummary{ActivityScore: 85, TabSwitches: 2},
		Notes: &types.InterviewerNotes{
			Recommendation: "HIRE",
			Rating:         types.Rating{Overall: 4},
			Content:        "Strong problem solving",
			Tags:           []string{"algorithms", "communication"},
		},
	}
}

func fieldValue(t *testing.T, p *Payload, title string) string {
	t.Helper()
	for _, f := range p.Attachments[0].Fields {
		if f.Title == title {
			return f.Value
		}
	}
	t.Fatalf("field %q missing: %+v", title, p.Attachments[0].Fields)
	return ""
}

func TestFormatSessionReport(t *testing.T) {
	p := FormatSessionReport(sampleArchive())

	if len(p.Attachments) != 1 {
		t.Fatalf("got %d attachments", len(p.Attachments))
	}
	if p.Attachments[0].Color != "#36a64f" {
		t.Errorf("color: got %q", p.Attachments[0].Color)
	}
	if got := fieldValue(t, p, "Recommendation"); got != "Hire" {
		t.Errorf("recommendation: got %q", got)
	}
	if got := fieldValue(t, p, "Candidate"); got != "Alice" {
		t.Errorf("candidate: got %q", got)
	}
	if got := fieldValue(t, p, "Duration"); got != "45m" {
		t.Errorf("duration: got %q", got)
	}
	if got := fieldValue(t, p, "Engagement"); got != "High (85/100)" {
		t.Errorf("engagement: got %q", got)
	}
	if got := fieldValue(t, p, "Overall Rating"); got != "4/5" {
		t.Errorf("rating: got %q", got)
	}
	if got := fieldValue(t, p, "Tags"); got != "algorithms, communication" {
		t.Errorf("tags: got %q", got)
	}
}

func TestFormatSessionReport_UnknownRecommendation(t *testing.T) {
	archive := sampleArchive()
	archive.Notes = nil
	archive.FinalSummary.ActivityScore = 50

	p := FormatSessionReport(archive)
	if p.Attachments[0].Color != "#cccccc" {
		t.Errorf("color: got %q", p.Attachments[0].Color)
	}
	if got := fieldValue(t, p, "Recommendation"); got != "No recommendation" {
		t.Errorf("recommendation: got %q", got)
	}
	if got := fieldValue(t, p, "Engagement"); !strings.HasPrefix(got, "Low") {
		t.Errorf("engagement: got %q", got)
	}
}

func TestEngagementLevel(t *testing.T) {
	cases := map[int]string{100: "High", 81: "High", 80: "Medium", 61: "Medium", 60: "Low", 0: "Low"}
	for score, want := range cases {
		if got := EngagementLevel(score); got != want {
			t.Errorf("score %d: got %q, want %q", score, got, want)
		}
	}
}

func TestClient_Send(t *testing.T) {
	var received Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type: got %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	if err := c.Send(context.Background(), FormatSessionReport(sampleArchive())); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if received.Text == "" || len(received.Attachments) != 1 {
		t.Errorf("unexpected payload: %+v", received)
	}
}

func TestClient_SendFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer server.Close()

	c := NewClient(server.URL)
	if err := c.Send(context.Background(), &Payload{Text: "x"}); err == nil {
		t.Error("non-200 response not surfaced")
	}

	unconfigured := NewClient("")
	if err := unconfigured.Send(context.Background(), &Payload{Text: "x"}); err != ErrNotConfigured {
		t.Errorf("got %v, want ErrNotConfigured", err)
	}
}
