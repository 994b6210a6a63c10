package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"mingling-chat/internal/storage"
)

// DailyStats содержит статистику за день
type DailyStats struct {
	Date            string               `json:"date"`
	TotalTurns      int                  `json:"total_turns"`
	UniqueOwners    int                  `json:"unique_owners"`
	FailedResponses int                  `json:"failed_responses"`
	Attachments     int                  `json:"attachments"`
	TurnsByDomain   map[string]int       `json:"turns_by_domain"`
	FailuresByCause map[string]int       `json:"failures_by_cause"`
	OwnerStats      map[string]OwnerStats `json:"owner_stats"`
}

// OwnerStats содержит статистику по владельцу сессии
type OwnerStats struct {
	Owner       string `json:"owner"`
	Turns       int    `json:"turns"`
	Failed      int    `json:"failed"`
	Attachments int    `json:"attachments"`
}

// AnalyzeDailyLogs считает ходы за календарный день targetDate (в его часовом поясе).
func AnalyzeDailyLogs(events []storage.Event, targetDate time.Time) *DailyStats {
	startOfDay := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, targetDate.Location())
	endOfDay := startOfDay.AddDate(0, 0, 1)

	stats := &DailyStats{
		Date:            startOfDay.Format("2006-01-02"),
		TurnsByDomain:   make(map[string]int),
		FailuresByCause: make(map[string]int),
		OwnerStats:      make(map[string]OwnerStats),
	}

	for _, event := range events {
		if event.Timestamp.Before(startOfDay) || !event.Timestamp.Before(endOfDay) {
			continue
		}
		// пустые записи без запроса не учитываем
		if event.UserMessage == "" && event.Attachments == 0 {
			continue
		}

		stats.TotalTurns++
		stats.Attachments += event.Attachments
		domain := event.Domain
		if domain == "" {
			domain = "general"
		}
		stats.TurnsByDomain[domain]++

		st := stats.OwnerStats[event.Owner]
		st.Owner = event.Owner
		st.Turns++
		st.Attachments += event.Attachments
		if event.Failed {
			stats.FailedResponses++
			cause := event.FailureReason
			if cause == "" {
				cause = "unknown"
			}
			stats.FailuresByCause[cause]++
			st.Failed++
		}
		stats.OwnerStats[event.Owner] = st
	}

	stats.UniqueOwners = len(stats.OwnerStats)
	return stats
}

// GenerateReportSummary создает текстовое резюме для лога
func (ds *DailyStats) GenerateReportSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "MinglingMind usage for %s:\n\n", ds.Date)
	fmt.Fprintf(&b, "- Turns: %d\n- Unique owners: %d\n- Failed responses: %d\n- Attachments sent: %d\n",
		ds.TotalTurns, ds.UniqueOwners, ds.FailedResponses, ds.Attachments)

	if len(ds.TurnsByDomain) > 0 {
		b.WriteString("\nBy domain:\n")
		for _, k := range sortedKeys(ds.TurnsByDomain) {
			fmt.Fprintf(&b, "- %s: %d\n", k, ds.TurnsByDomain[k])
		}
	}
	if len(ds.FailuresByCause) > 0 {
		b.WriteString("\nFailures:\n")
		for _, k := range sortedKeys(ds.FailuresByCause) {
			fmt.Fprintf(&b, "- %s: %d\n", k, ds.FailuresByCause[k])
		}
	}
	return b.String()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
