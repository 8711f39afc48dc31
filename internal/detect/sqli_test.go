package detect

import (
	"testing"
	"time"

	"github.com/octoreflex/siemstream/internal/model"
)

// TestSQLInjection_PercentEncodedPayload exercises a single web event with a
// percent-encoded `' OR '1'='1` payload in url_full.
func TestSQLInjection_PercentEncodedPayload(t *testing.T) {
	d := NewSQLInjection(Deps{})
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	ev := model.Event{Timestamp: ts, SourceIP: "6.6.6.6", URLFull: "/login?id=1%27%20OR%20%271%27%3D%271"}
	ev.AddCategory("web")

	alerts := d.Scan([]model.Event{ev})
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d (%v)", len(alerts), alerts)
	}
	if alerts[0].Rule != "Suspicious Web Activity - SQLi" {
		t.Errorf("rule = %q", alerts[0].Rule)
	}
	if alerts[0].Technique != model.TechniqueSQLInjection {
		t.Errorf("technique = %v, want sql_injection", alerts[0].Technique)
	}
	if alerts[0].Severity != model.SeverityCritical {
		t.Errorf("severity = %v, want CRITICAL at threshold", alerts[0].Severity)
	}
}

func TestSQLInjection_MatchesUnionSelectAndComments(t *testing.T) {
	d := NewSQLInjection(Deps{})
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := []string{
		"/search?q=1 UNION SELECT username,password FROM users--",
		"/item?id=5; DROP TABLE users;",
		"/x?a=1 or 1=1",
	}
	for _, payload := range cases {
		ev := model.Event{Timestamp: ts, SourceIP: "7.7.7.7", URLFull: payload}
		ev.AddCategory("web")
		alerts := d.Scan([]model.Event{ev})
		if len(alerts) == 0 {
			t.Errorf("payload %q should have matched the SQLi pattern set", payload)
		}
		// fresh detector per payload to avoid cross-case dedupe
		d = NewSQLInjection(Deps{})
	}
}

func TestSQLInjection_IgnoresCleanRequests(t *testing.T) {
	d := NewSQLInjection(Deps{})
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	ev := model.Event{Timestamp: ts, SourceIP: "7.7.7.7", URLFull: "/search?q=red+shoes"}
	ev.AddCategory("web")
	if alerts := d.Scan([]model.Event{ev}); len(alerts) != 0 {
		t.Errorf("a clean request must not trigger D7, got %v", alerts)
	}
}
