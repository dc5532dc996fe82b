package extract

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/livewatch/internal/feed"
)

// ParseRecords turns raw feed HTML into records using the endpoint's
// selectors. Rows without both team names are dropped: a record with no
// identity has no key, and keyless partial records must never escape the
// extractor.
func ParseRecords(rawHTML []byte, ep Endpoint, normalize feed.NormalizeFunc) ([]*feed.Record, error) {
	doc, err := html.Parse(bytes.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("extract: parse HTML: %w", err)
	}
	if ep.Selectors.Row == "" {
		return nil, fmt.Errorf("extract: endpoint %s has no row selector", ep.Category)
	}

	var records []*feed.Record
	for _, row := range selectAll(doc, ep.Selectors.Row) {
		m := parseRow(row, ep.Selectors)
		if strings.TrimSpace(m.Home) == "" || strings.TrimSpace(m.Away) == "" {
			continue
		}
		records = append(records, &feed.Record{
			Key:      feed.DeriveKey(ep.Category, m, normalize),
			Category: ep.Category,
			Match:    m,
		})
	}
	return records, nil
}

func parseRow(row *html.Node, sel SelectorSet) feed.Match {
	m := feed.Match{
		Home:   selectText(row, sel.Home),
		Away:   selectText(row, sel.Away),
		League: selectText(row, sel.League),
		Phase:  selectText(row, sel.Phase),
	}
	m.ScoreHome = parseInt(selectText(row, sel.ScoreHome))
	m.ScoreAway = parseInt(selectText(row, sel.ScoreAway))

	if sel.Market == "" {
		return m
	}
	for _, mk := range selectAll(row, sel.Market) {
		market := feed.Market{Name: selectText(mk, sel.MarketName)}
		if market.Name == "" {
			market.Name = attrValue(mk, "data-market")
		}
		for _, cell := range selectAll(mk, sel.Outcome) {
			o := feed.Outcome{
				Name: selectText(cell, sel.OutcomeName),
				Line: selectText(cell, sel.OutcomeLine),
			}
			if o.Name == "" {
				o.Name = attrValue(cell, "data-outcome")
			}
			oddsText := selectText(cell, sel.Odds)
			if oddsText == "" {
				oddsText = nodeText(cell)
			}
			o.Odds = parseFloat(oddsText)
			if o.Name == "" && o.Odds == 0 {
				continue
			}
			market.Outcomes = append(market.Outcomes, o)
		}
		if market.Name != "" || len(market.Outcomes) > 0 {
			m.Markets = append(m.Markets, market)
		}
	}
	return m
}

// selector is the parsed form of "tag", ".class" or "tag.class".
type selector struct {
	tag   string
	class string
}

func parseSelector(s string) selector {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return selector{tag: s[:i], class: s[i+1:]}
	}
	return selector{tag: s}
}

func (sel selector) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if sel.tag != "" && n.Data != sel.tag {
		return false
	}
	if sel.class != "" && !hasClassToken(n, sel.class) {
		return false
	}
	return true
}

func hasClassToken(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, tok := range strings.Fields(attr.Val) {
			if tok == class {
				return true
			}
		}
	}
	return false
}

// selectAll returns every descendant matching the selector, document order.
func selectAll(root *html.Node, s string) []*html.Node {
	if s == "" {
		return nil
	}
	sel := parseSelector(s)
	var matches []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n != root && sel.matches(n) {
			matches = append(matches, n)
			// Rows do not nest; stop descending into a match.
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return matches
}

// selectText returns the collapsed text of the first selector match.
func selectText(root *html.Node, s string) string {
	if s == "" {
		return ""
	}
	matches := selectAll(root, s)
	if len(matches) == 0 {
		return ""
	}
	return nodeText(matches[0])
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return strings.TrimSpace(attr.Val)
		}
	}
	return ""
}

// nodeText collects and collapses visible text under a node.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return sb.String()
}

func parseInt(s string) int {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}

func parseFloat(s string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" || s == "-" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
