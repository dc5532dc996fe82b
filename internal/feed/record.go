// Package feed defines the record model shared by extraction, merging and
// storage: one Record per tracked live match, with a stable derived key.
package feed

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"time"
)

// NormalizeFunc canonicalizes a raw name into a key component. It must be
// pure and deterministic for identical inputs; record key stability across
// ticks and sessions depends on it.
type NormalizeFunc func(raw, categoryHint string) string

// Outcome is one selection within a betting market.
type Outcome struct {
	Name string  `json:"name"`            // home_win, draw, total_over, ...
	Line string  `json:"line,omitempty"`  // parameter: "2.5", "+1.5"
	Odds float64 `json:"odds"`
}

// Market is one betting market attached to a match (1x2, total, handicap).
type Market struct {
	Name     string    `json:"name"`
	Outcomes []Outcome `json:"outcomes"`
}

// Match is the payload of a Record: the live state of one match as last
// extracted. Fields are normalized enough to compare across sessions.
type Match struct {
	Home      string   `json:"home"`
	Away      string   `json:"away"`
	League    string   `json:"league,omitempty"`
	ScoreHome int      `json:"score_home"`
	ScoreAway int      `json:"score_away"`
	Phase     string   `json:"phase,omitempty"` // 1H, HT, 2H, OT, set number...
	Minute    int      `json:"minute,omitempty"`
	Markets   []Market `json:"markets,omitempty"`
}

// Record is one tracked live match with its derived identity and lifecycle
// timestamps. At most one Record per Key exists in the store at any time.
type Record struct {
	Key         string    `json:"key"`
	Category    string    `json:"category"`
	Match       Match     `json:"match"`
	FirstSeen   time.Time `json:"first_seen"`
	LastUpdated time.Time `json:"last_updated"`
}

// DeriveKey computes the stable record key from canonical identifying
// attributes. Source-assigned numeric ids are unstable across redirects and
// sessions, so the key is built from the canonical team pair plus category.
// The pair is sorted so a feed that flips home/away mid-redirect still
// yields the same key.
func DeriveKey(category string, m Match, normalize NormalizeFunc) string {
	a := normalize(m.Home, category)
	b := normalize(m.Away, category)
	if a > b {
		a, b = b, a
	}
	sum := sha256.Sum256([]byte(category + "\x00" + a + "\x00" + b))
	return fmt.Sprintf("%x", sum[:16])
}

// Quality scores a record for merge tie-breaks. Higher wins. The components
// are ordered by weight so that (a) odds presence dominates, then (b) a
// non-zero live score, then (c) a non-empty league label.
func Quality(r *Record) int {
	score := 0
	if hasOdds(r.Match.Markets) {
		score += 4
	}
	if r.Match.ScoreHome != 0 || r.Match.ScoreAway != 0 {
		score += 2
	}
	if strings.TrimSpace(r.Match.League) != "" {
		score++
	}
	return score
}

func hasOdds(markets []Market) bool {
	for _, m := range markets {
		for _, o := range m.Outcomes {
			if o.Odds > 0 {
				return true
			}
		}
	}
	return false
}

// PayloadEqual reports whether two match payloads carry the same data.
// Market order is not significant: sessions can emit markets in page order,
// which shifts as rows render.
func PayloadEqual(a, b Match) bool {
	if a.Home != b.Home || a.Away != b.Away || a.League != b.League {
		return false
	}
	if a.ScoreHome != b.ScoreHome || a.ScoreAway != b.ScoreAway {
		return false
	}
	if a.Phase != b.Phase || a.Minute != b.Minute {
		return false
	}
	return marketsEqual(a.Markets, b.Markets)
}

func marketsEqual(a, b []Market) bool {
	if len(a) != len(b) {
		return false
	}
	as, bs := sortedMarkets(a), sortedMarkets(b)
	for i := range as {
		if as[i].Name != bs[i].Name {
			return false
		}
		if len(as[i].Outcomes) != len(bs[i].Outcomes) {
			return false
		}
		for j := range as[i].Outcomes {
			if as[i].Outcomes[j] != bs[i].Outcomes[j] {
				return false
			}
		}
	}
	return true
}

func sortedMarkets(m []Market) []Market {
	out := make([]Market, len(m))
	copy(out, m)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	for i := range out {
		oc := make([]Outcome, len(out[i].Outcomes))
		copy(oc, out[i].Outcomes)
		sort.Slice(oc, func(a, b int) bool {
			if oc[a].Name != oc[b].Name {
				return oc[a].Name < oc[b].Name
			}
			return oc[a].Line < oc[b].Line
		})
		out[i].Outcomes = oc
	}
	return out
}
