package ontology

import (
	"fmt"
	"strconv"
	"strings"
)

// RRuleNorm is the canonical (FREQ,INTERVAL,BYHOUR,BYMIN,BYSEC,BYDAY,
// BYMONTH,BYMONTHDAY) tuple spec §4.2 names. Normalizing at ingest
// means the timer wheel never re-parses a raw RRULE string on the
// hot path.
type RRuleNorm struct {
	Freq       string // SECONDLY|MINUTELY|HOURLY|DAILY|WEEKLY|MONTHLY|YEARLY
	Interval   int
	ByHour     []int
	ByMinute   []int
	BySecond   []int
	ByDay      []string // MO,TU,WE,TH,FR,SA,SU
	ByMonth    []int
	ByMonthDay []int
}

var validFreq = map[string]bool{
	"SECONDLY": true, "MINUTELY": true, "HOURLY": true,
	"DAILY": true, "WEEKLY": true, "MONTHLY": true, "YEARLY": true,
}

var validDay = map[string]bool{
	"MO": true, "TU": true, "WE": true, "TH": true, "FR": true, "SA": true, "SU": true,
}

// NormalizeRRULE parses an RFC 5545-style RRULE value string (without
// the leading "RRULE:") into the canonical tuple, hand-rolled because
// no RRULE library is present anywhere in the example pack (see
// DESIGN.md). Only the subset of fields spec §4.2 names is accepted;
// unknown keys are rejected rather than silently ignored, matching
// Σ's fail-fast posture.
func NormalizeRRULE(raw string) (RRuleNorm, error) {
	norm := RRuleNorm{Interval: 1}
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "RRULE:")
	if raw == "" {
		return norm, fmt.Errorf("ontology: empty RRULE")
	}

	sawFreq := false
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return norm, fmt.Errorf("ontology: malformed RRULE component %q", part)
		}
		key, val := strings.ToUpper(kv[0]), strings.ToUpper(kv[1])
		switch key {
		case "FREQ":
			if !validFreq[val] {
				return norm, fmt.Errorf("ontology: unknown RRULE FREQ %q", val)
			}
			norm.Freq = val
			sawFreq = true
		case "INTERVAL":
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				return norm, fmt.Errorf("ontology: invalid RRULE INTERVAL %q", val)
			}
			norm.Interval = n
		case "BYHOUR":
			ns, err := intList(val, 0, 23)
			if err != nil {
				return norm, err
			}
			norm.ByHour = ns
		case "BYMINUTE":
			ns, err := intList(val, 0, 59)
			if err != nil {
				return norm, err
			}
			norm.ByMinute = ns
		case "BYSECOND":
			ns, err := intList(val, 0, 60)
			if err != nil {
				return norm, err
			}
			norm.BySecond = ns
		case "BYDAY":
			for _, d := range strings.Split(val, ",") {
				if !validDay[d] {
					return norm, fmt.Errorf("ontology: unknown RRULE BYDAY %q", d)
				}
				norm.ByDay = append(norm.ByDay, d)
			}
		case "BYMONTH":
			ns, err := intList(val, 1, 12)
			if err != nil {
				return norm, err
			}
			norm.ByMonth = ns
		case "BYMONTHDAY":
			ns, err := intList(val, -31, 31)
			if err != nil {
				return norm, err
			}
			norm.ByMonthDay = ns
		default:
			return norm, fmt.Errorf("ontology: unsupported RRULE field %q", key)
		}
	}
	if !sawFreq {
		return norm, fmt.Errorf("ontology: RRULE missing FREQ")
	}
	return norm, nil
}

func intList(val string, min, max int) ([]int, error) {
	var out []int
	for _, s := range strings.Split(val, ",") {
		n, err := strconv.Atoi(s)
		if err != nil || n < min || n > max {
			return nil, fmt.Errorf("ontology: value %q out of range [%d,%d]", s, min, max)
		}
		out = append(out, n)
	}
	return out, nil
}
