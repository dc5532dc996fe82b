package extract

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gohtml "golang.org/x/net/html"
)

func canon(raw, hint string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

const feedHTML = `
<html><body>
<div class="feed">
  <div class="match row">
    <span class="league">Premier League</span>
    <span class="home">Arsenal</span>
    <span class="away">Chelsea</span>
    <span class="score-home">2</span>
    <span class="score-away">1</span>
    <span class="phase">2H</span>
    <div class="market" data-market="1x2">
      <span class="cell" data-outcome="home_win">1.85</span>
      <span class="cell" data-outcome="draw">3.40</span>
      <span class="cell" data-outcome="away_win">4.20</span>
    </div>
  </div>
  <div class="match row">
    <span class="home">Liverpool</span>
    <span class="away">Everton</span>
    <span class="score-home">0</span>
    <span class="score-away">0</span>
  </div>
  <div class="match row">
    <span class="home"></span>
    <span class="away">Orphan</span>
  </div>
</div>
</body></html>`

var testSelectors = SelectorSet{
	Row:       "div.match",
	Home:      "span.home",
	Away:      "span.away",
	League:    "span.league",
	ScoreHome: "span.score-home",
	ScoreAway: "span.score-away",
	Phase:     "span.phase",
	Market:    "div.market",
	Outcome:   "span.cell",
}

func testEndpoint(url string) Endpoint {
	return Endpoint{
		Category:  "soccer",
		URL:       url,
		Mode:      ModeHTTP,
		Marker:    "/soccer",
		Selectors: testSelectors,
	}
}

func TestParseRecords(t *testing.T) {
	// WHAT: Selector-driven parsing yields one record per complete row,
	// with scores, phase and odds populated.
	// WHY: The whole candidate pipeline starts here.
	records, err := ParseRecords([]byte(feedHTML), testEndpoint("x"), canon)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2 (row without home name is dropped)", len(records))
	}

	r := records[0]
	if r.Match.Home != "Arsenal" || r.Match.Away != "Chelsea" {
		t.Errorf("teams = %s/%s", r.Match.Home, r.Match.Away)
	}
	if r.Match.ScoreHome != 2 || r.Match.ScoreAway != 1 {
		t.Errorf("score = %d:%d, want 2:1", r.Match.ScoreHome, r.Match.ScoreAway)
	}
	if r.Match.Phase != "2H" {
		t.Errorf("phase = %q", r.Match.Phase)
	}
	if len(r.Match.Markets) != 1 || r.Match.Markets[0].Name != "1x2" {
		t.Fatalf("markets = %+v", r.Match.Markets)
	}
	if len(r.Match.Markets[0].Outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(r.Match.Markets[0].Outcomes))
	}
	if o := r.Match.Markets[0].Outcomes[0]; o.Name != "home_win" || o.Odds != 1.85 {
		t.Errorf("outcome = %+v", o)
	}
	if r.Key == "" {
		t.Error("record has no key")
	}
}

func TestParseRecordsNoKeylessRecords(t *testing.T) {
	// WHAT: Every parsed record carries a key.
	// WHY: Extractor contract: never return partial records without a key.
	records, err := ParseRecords([]byte(feedHTML), testEndpoint("x"), canon)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	for _, r := range records {
		if r.Key == "" {
			t.Errorf("keyless record for %s/%s", r.Match.Home, r.Match.Away)
		}
	}
}

func TestHTTPExtract(t *testing.T) {
	// WHAT: HTTP mode fetches, parses, and reports OK health.
	// WHY: End-to-end extractor path without a browser.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feedHTML))
	}))
	defer srv.Close()

	x := NewHTTP(HTTPConfig{}, canon, nil)
	defer x.Close()

	ep := testEndpoint(srv.URL + "/soccer/live")
	h, err := x.Open(context.Background(), ep)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()

	records, health := x.Extract(context.Background(), h)
	if !health.OK || health.Redirected || health.Err != nil {
		t.Fatalf("health = %+v", health)
	}
	if len(records) != 2 {
		t.Errorf("records = %d, want 2", len(records))
	}
}

func TestHTTPRedirectDetection(t *testing.T) {
	// WHAT: A feed that redirects off its category marker reports
	// Redirected, not an error.
	// WHY: Redirect and error drive different session transitions.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/soccer") {
			http.Redirect(w, r, "/tennis/live", http.StatusFound)
			return
		}
		w.Write([]byte("<html><body>tennis</body></html>"))
	}))
	defer srv.Close()

	x := NewHTTP(HTTPConfig{}, canon, nil)
	defer x.Close()

	h := &httpHandle{ep: testEndpoint(srv.URL + "/soccer/live")}
	_, health := x.Extract(context.Background(), h)
	if !health.Redirected {
		t.Fatalf("health = %+v, want Redirected", health)
	}
	if health.Err != nil {
		t.Errorf("redirect reported as error: %v", health.Err)
	}
}

func TestHTTPErrorHealth(t *testing.T) {
	// WHAT: A 5xx answer reports an error, not a redirect.
	// WHY: Transient failures feed the ERROR transition.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	x := NewHTTP(HTTPConfig{}, canon, nil)
	defer x.Close()

	h := &httpHandle{ep: testEndpoint(srv.URL + "/soccer/live")}
	_, health := x.Extract(context.Background(), h)
	if health.Err == nil || health.Redirected || health.OK {
		t.Fatalf("health = %+v, want Err", health)
	}
}

func TestSelectorSubset(t *testing.T) {
	// WHAT: "tag", ".class" and "tag.class" forms all match.
	// WHY: Documented selector subset.
	doc := []byte(`<div><p class="a b">one</p><span class="a">two</span></div>`)
	if n := len(mustSelect(t, doc, "p.a")); n != 1 {
		t.Errorf("p.a matched %d, want 1", n)
	}
	if n := len(mustSelect(t, doc, ".a")); n != 2 {
		t.Errorf(".a matched %d, want 2", n)
	}
	if n := len(mustSelect(t, doc, "span")); n != 1 {
		t.Errorf("span matched %d, want 1", n)
	}
}

func mustSelect(t *testing.T, raw []byte, sel string) []string {
	t.Helper()
	doc, err := gohtml.Parse(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var out []string
	for _, n := range selectAll(doc, sel) {
		out = append(out, nodeText(n))
	}
	return out
}
