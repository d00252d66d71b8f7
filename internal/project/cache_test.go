package project

import (
	"testing"
	"time"
)

func newAnalysis(path string, confidence float64) *Analysis {
	return &Analysis{
		Path:         path,
		Confidence:   confidence,
		AnalyzedAt:   time.Now(),
		ExtHistogram: map[string]int{},
	}
}

func TestCachePutAndGet(t *testing.T) {
	c := NewCache(1<<20, 0)
	c.Put("/proj/a", newAnalysis("/proj/a", 0.9))

	got, ok := c.Get("/proj/a")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.Path != "/proj/a" {
		t.Errorf("got.Path = %q, want /proj/a", got.Path)
	}
}

func TestCacheEvictsOverBudget(t *testing.T) {
	c := NewCache(300, 0) // room for one 263-byte entry, not two
	c.Put("/proj/a", newAnalysis("/proj/a", 0.9))
	c.Put("/proj/b", newAnalysis("/proj/b", 0.9))

	if _, ok := c.Get("/proj/a"); ok {
		t.Error("expected /proj/a to be evicted under a 300-byte budget")
	}
	if _, ok := c.Get("/proj/b"); !ok {
		t.Error("expected /proj/b (most recent) to survive")
	}
}

func TestCacheUnboundedWhenZeroBudget(t *testing.T) {
	c := NewCache(0, 0)
	for i := 0; i < 50; i++ {
		c.Put(string(rune('a'+i%26))+"-proj", newAnalysis("x", 0.9))
	}
	if c.Len() == 0 {
		t.Error("expected entries to persist with zero (unbounded) budget")
	}
}

func TestCachePurgeRemovesStale(t *testing.T) {
	c := NewCache(1<<20, 0)
	stale := newAnalysis("/proj/old", 0.9)
	stale.AnalyzedAt = time.Now().Add(-2 * time.Hour)
	c.Put("/proj/old", stale)
	c.Put("/proj/new", newAnalysis("/proj/new", 0.9))

	purged := c.Purge(time.Hour)
	if purged != 1 {
		t.Errorf("Purge() removed %d, want 1", purged)
	}
	if _, ok := c.Get("/proj/old"); ok {
		t.Error("expected stale entry to be purged")
	}
	if _, ok := c.Get("/proj/new"); !ok {
		t.Error("expected fresh entry to survive purge")
	}
}

func TestCacheRemove(t *testing.T) {
	c := NewCache(1<<20, 0)
	c.Put("/proj/a", newAnalysis("/proj/a", 0.9))
	c.Remove("/proj/a")

	if _, ok := c.Get("/proj/a"); ok {
		t.Error("expected entry to be removed")
	}
	if c.TotalBytes() != 0 {
		t.Errorf("TotalBytes() = %d, want 0 after removing the only entry", c.TotalBytes())
	}
}

func TestAnalysisFresh(t *testing.T) {
	tests := []struct {
		name       string
		age        time.Duration
		confidence float64
		want       bool
	}{
		{"fresh and confident", time.Minute, 0.95, true},
		{"too old", 61 * time.Minute, 0.95, false},
		{"too low confidence", time.Minute, 0.5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Analysis{AnalyzedAt: time.Now().Add(-tt.age), Confidence: tt.confidence}
			got := a.Fresh(time.Now(), 60*time.Minute, 0.9)
			if got != tt.want {
				t.Errorf("Fresh() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnalysisFreshNil(t *testing.T) {
	var a *Analysis
	if a.Fresh(time.Now(), time.Hour, 0.9) {
		t.Error("expected nil Analysis to never be fresh")
	}
}
