package analytics

import (
	"strings"
	"testing"
	"time"

	"mingling-chat/internal/storage"
)

func TestAnalyzeDailyLogs(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	events := []storage.Event{
		{Timestamp: day.Add(2 * time.Hour), Owner: "alice", Domain: "programming", UserMessage: "Hello", AssistantResponse: "```js```"},
		{Timestamp: day.Add(3 * time.Hour), Owner: "alice", Domain: "data", Attachments: 2, AssistantResponse: "ok"},
		{Timestamp: day.Add(4 * time.Hour), Owner: "bob", Domain: "", UserMessage: "hi", Failed: true, FailureReason: "timeout"},
		// другой день
		{Timestamp: day.AddDate(0, 0, 1), Owner: "carol", Domain: "business", UserMessage: "tomorrow"},
		// пустая запись
		{Timestamp: day.Add(5 * time.Hour), Owner: "alice"},
	}

	stats := AnalyzeDailyLogs(events, day.Add(13*time.Hour))

	if stats.Date != "2024-01-15" {
		t.Fatalf("date = %q", stats.Date)
	}
	if stats.TotalTurns != 3 {
		t.Fatalf("turns = %d", stats.TotalTurns)
	}
	if stats.UniqueOwners != 2 {
		t.Fatalf("owners = %d", stats.UniqueOwners)
	}
	if stats.FailedResponses != 1 || stats.FailuresByCause["timeout"] != 1 {
		t.Fatalf("failures = %d %v", stats.FailedResponses, stats.FailuresByCause)
	}
	if stats.Attachments != 2 {
		t.Fatalf("attachments = %d", stats.Attachments)
	}
	want := map[string]int{"programming": 1, "data": 1, "general": 1}
	for k, v := range want {
		if stats.TurnsByDomain[k] != v {
			t.Fatalf("domain %s = %d, want %d", k, stats.TurnsByDomain[k], v)
		}
	}
	if a := stats.OwnerStats["alice"]; a.Turns != 2 || a.Attachments != 2 || a.Failed != 0 {
		t.Fatalf("alice stats = %+v", a)
	}
	if b := stats.OwnerStats["bob"]; b.Turns != 1 || b.Failed != 1 {
		t.Fatalf("bob stats = %+v", b)
	}
}

func TestGenerateReportSummary(t *testing.T) {
	stats := &DailyStats{
		Date:            "2024-01-15",
		TotalTurns:      3,
		UniqueOwners:    2,
		FailedResponses: 1,
		TurnsByDomain:   map[string]int{"programming": 2, "data": 1},
		FailuresByCause: map[string]int{"backend": 1},
	}
	s := stats.GenerateReportSummary()
	for _, part := range []string{"2024-01-15", "Turns: 3", "Unique owners: 2", "- data: 1\n- programming: 2", "- backend: 1"} {
		if !strings.Contains(s, part) {
			t.Fatalf("summary missing %q:\n%s", part, s)
		}
	}
}
