package review

import (
	"strings"
	"testing"
	"time"

	"github.com/mkravets/orderwatch/internal/model"
)

func TestSummary(t *testing.T) {
	if got := Summary(nil); got != "no tracked listings" {
		t.Errorf("Summary(nil) = %q", got)
	}

	entries := []model.DedupEntry{
		{ExternalID: "1", FirstSeenAt: time.Date(2026, 8, 20, 10, 0, 0, 0, time.Local), Notified: map[int64]string{42: "h"}},
		{ExternalID: "2", FirstSeenAt: time.Date(2026, 8, 21, 10, 0, 0, 0, time.Local)},
	}
	got := Summary(entries)
	if !strings.Contains(got, "2 tracked") || !strings.Contains(got, "1 notified") {
		t.Errorf("Summary = %q", got)
	}
	if !strings.Contains(got, "2026-08-21") {
		t.Errorf("Summary should report the newest entry: %q", got)
	}
}

func TestRenderEntries(t *testing.T) {
	if got := renderEntries(nil, 0); !strings.Contains(got, "nothing tracked") {
		t.Errorf("empty render = %q", got)
	}

	entries := []model.DedupEntry{
		{ExternalID: "1", Title: "Логотип для кофейни", FirstSeenAt: time.Now()},
		{ExternalID: "2", FirstSeenAt: time.Now()}, // no title: falls back to id
	}
	got := renderEntries(entries, 1)
	if !strings.Contains(got, "Логотип для кофейни") {
		t.Errorf("render lacks title: %q", got)
	}
	if !strings.Contains(got, "> ") {
		t.Errorf("render lacks cursor marker: %q", got)
	}
	if !strings.Contains(got, "2") {
		t.Errorf("render lacks id fallback: %q", got)
	}
}

func TestSortedSubscriberIDs(t *testing.T) {
	ids := sortedSubscriberIDs(map[int64]string{9: "h", 1: "h", 5: "h"})
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 5 || ids[2] != 9 {
		t.Errorf("ids = %v, want ascending", ids)
	}
}
