package metar

import (
	"log"
	"regexp"
	"strings"
	"time"
)

// Parser decodes METAR report strings. Reports carry only day-of-month
// timestamps, so the parser needs a reference time supplying the year and
// month of the chunk the report came from.
type Parser struct {
	ref time.Time
}

// NewParser returns a parser resolving report times against the year and
// month of ref.
func NewParser(ref time.Time) *Parser {
	return &Parser{ref: ref.UTC()}
}

// Parse decodes one report. It never returns an error: unrecognizable
// tokens end up in the observation's diagnostic lists, and a handler
// failure aborts parsing of this single report leaving already-populated
// fields intact.
func (p *Parser) Parse(raw string) (o *Observation) {
	o = &Observation{Raw: strings.TrimSpace(raw)}
	code := o.Raw + " "

	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: metar parse failed while processing %q: %v", fragment(code), r)
		}
	}()

	code = p.parseBody(o, code)
	if strings.TrimSpace(code) != "" {
		p.parseRemarks(o, code)
	}
	return o
}

// parseBody runs the main-body grammar and returns the unconsumed
// remainder (remark text, when present).
func (p *Parser) parseBody(o *Observation, code string) string {
	igroup := 0
	ifailed := -1
	n := len(bodyRules)

	for igroup < n && strings.TrimSpace(code) != "" {
		r := bodyRules[igroup]
		m := match(r.re, code)
		for m != nil {
			ifailed = -1
			r.handle(o, p, m)
			code = code[len(m[""]):]
			if r.toRemarks {
				return code
			}
			if r.trend {
				code = p.consumeTrend(o, code)
			}
			if !r.repeatable {
				break
			}
			m = match(r.re, code)
		}
		if m == nil && ifailed < 0 {
			ifailed = igroup
		}
		igroup++

		if igroup == n && strings.TrimSpace(code) != "" {
			// Nothing in the table matched this token: record it and
			// resume from the earliest rule that had failed, so later
			// groups can still be recognized.
			mu := match(unparsedRe, code)
			if mu == nil {
				break
			}
			o.UnparsedGroups = append(o.UnparsedGroups, mu["group"])
			code = code[len(mu[""]):]
			igroup = ifailed
			if igroup < 0 {
				igroup = 0
			}
			ifailed = -1
		}
	}
	return code
}

// parseRemarks applies the remark rule list repeatedly to the remainder,
// consuming one group per iteration. Tokens no remark rule recognizes are
// recorded as diagnostics and skipped.
func (p *Parser) parseRemarks(o *Observation, code string) {
	for strings.TrimSpace(code) != "" {
		matched := false
		for _, r := range remarkRules {
			if m := match(r.re, code); m != nil {
				r.handle(o, p, m)
				code = code[len(m[""]):]
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		mu := match(unparsedRe, code)
		if mu == nil {
			return
		}
		o.UnparsedRemarks = append(o.UnparsedRemarks, mu["group"])
		code = code[len(mu[""]):]
	}
}

// consumeTrend eats trend-forecast groups following a trend marker,
// keeping their raw text, until the trend subgrammar stops matching.
func (p *Parser) consumeTrend(o *Observation, code string) string {
	for {
		matched := false
		for _, re := range trendPatterns {
			if m := match(re, code); m != nil {
				o.Trend = append(o.Trend, strings.TrimSpace(m[""]))
				code = code[len(m[""]):]
				matched = true
				break
			}
		}
		if !matched {
			return code
		}
	}
}

// match applies an anchored pattern and returns the named submatches,
// with the full matched prefix under the empty key. Returns nil when the
// pattern does not match at the start of s.
func match(re *regexp.Regexp, s string) map[string]string {
	sub := re.FindStringSubmatch(s)
	if sub == nil {
		return nil
	}
	m := map[string]string{"": sub[0]}
	for i, name := range re.SubexpNames() {
		if name != "" && i < len(sub) {
			m[name] = sub[i]
		}
	}
	return m
}

func fragment(code string) string {
	code = strings.TrimSpace(code)
	if len(code) > 40 {
		return code[:40] + "..."
	}
	return code
}
