package parser

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Status classifies how much of a line a recognizer could normalize.
type Status string

const (
	StatusParsed  Status = "parsed"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Recognizer names carried on records for observability.
const (
	ParserJSON    = "json_v1"
	ParserApp     = "app_v1"
	ParserAndroid = "android_v1"
	ParserAccess  = "access_v1"
)

// Record is the normalized form of one raw log line. Timestamps are naive
// UTC. Nullable fields are pointers; failed status implies timestamp, level,
// service and message are all nil and confidence zero.
type Record struct {
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	Level      *string    `json:"level,omitempty"`
	Service    *string    `json:"service,omitempty"`
	Message    *string    `json:"message,omitempty"`
	RawLine    string     `json:"raw_line"`
	Status     Status     `json:"parse_status"`
	Confidence float64    `json:"parse_confidence"`
	ParserName *string    `json:"parser_name,omitempty"`
	ParseError *string    `json:"parse_error,omitempty"`
}

// App log shapes:
//
//	2025-12-31T12:15:41Z INFO auth-service User login ok
//	2025-12-31 12:15:41,120 ERROR billing Payment failed
var appRegexes = []*regexp.Regexp{
	regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?Z)\s+([A-Z]+)\s+([\w\-.]+)\s+(.*)$`),
	regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2}:\d{2}(?:,\d{1,6})?)\s+([A-Z]+)\s+([\w\-.]+)\s+(.*)$`),
}

// Android logcat shapes:
//
//	threadtime: "11-01 08:11:52.482  1203  1203 D AndroidRuntime: CheckJNI is OFF"
//	brief:      "D/AndroidRuntime( 1203): CheckJNI is OFF"
var (
	androidThreadtimeRegex = regexp.MustCompile(`^(\d{2}-\d{2}\s+\d{2}:\d{2}:\d{2}\.\d+)\s+(\d+)\s+(\d+)\s+([VDIWEFA])\s+([^:]+?):\s+(.*)$`)
	androidBriefRegex      = regexp.MustCompile(`^([VDIWEFA])/([^(]+?)\(\s*(\d+)\):\s+(.*)$`)
)

var androidPriorityMap = map[string]string{
	"V": "DEBUG", "D": "DEBUG", "I": "INFO", "W": "WARNING", "E": "ERROR", "F": "ERROR", "A": "ERROR",
}

// Access log shape (common/combined-ish):
//
//	127.0.0.1 - - [31/Dec/2025:12:15:41 +0000] "GET /path HTTP/1.1" 200 123
var accessRegex = regexp.MustCompile(`^(\S+)\s+\S+\s+\S+\s+\[([^\]]+)\]\s+"([^"]*)"\s+(\d{3})\s+(\S+)(?:\s+"([^"]*)"\s+"([^"]*)")?\s*$`)

var accessMonths = map[string]time.Month{
	"Jan": time.January, "Feb": time.February, "Mar": time.March, "Apr": time.April,
	"May": time.May, "Jun": time.June, "Jul": time.July, "Aug": time.August,
	"Sep": time.September, "Oct": time.October, "Nov": time.November, "Dec": time.December,
}

// JSON field alias tables, tried in order.
var (
	jsonTimestampKeys = []string{"timestamp", "time", "ts", "@timestamp", "datetime", "date"}
	jsonLevelKeys     = []string{"level", "severity", "lvl", "log_level", "loglevel", "priority"}
	jsonServiceKeys   = []string{"service", "source", "app", "application", "component", "logger", "program"}
	jsonMessageKeys   = []string{"message", "msg", "text", "body", "log"}
)

// Parse normalizes one raw line into a Record. It is total: it never panics
// and never returns an error, degrading to a partial or failed record instead.
func Parse(raw string) Record {
	line := strings.TrimRight(raw, "\n")

	if rec, ok := tryJSON(line); ok {
		return rec
	}
	if rec, ok := tryApp(line); ok {
		return rec
	}
	if rec, ok := tryAndroid(line); ok {
		return rec
	}
	if rec, ok := tryAccess(line); ok {
		return rec
	}

	return Record{
		RawLine:    line,
		Status:     StatusFailed,
		Confidence: 0.0,
		ParseError: strPtr("No parser matched"),
	}
}

func tryJSON(line string) (Record, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return Record{}, false
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(trimmed), &data); err != nil {
		// Malformed JSON is a recognizer miss, not an error.
		return Record{}, false
	}

	ts := parseJSONTimestamp(findField(data, jsonTimestampKeys))
	var level, service, message *string
	if v := findField(data, jsonLevelKeys); v != nil {
		level = strPtr(strings.ToUpper(stringify(v)))
	}
	if v := findField(data, jsonServiceKeys); v != nil {
		service = strPtr(stringify(v))
	}
	if v := findField(data, jsonMessageKeys); v != nil {
		message = strPtr(stringify(v))
	}

	found := 0
	if ts != nil {
		found++
	}
	for _, p := range []*string{level, service, message} {
		if p != nil {
			found++
		}
	}

	status := StatusPartial
	confidence := 0.5
	switch {
	case found == 4:
		status = StatusParsed
		confidence = 0.95
	case found >= 1:
		confidence = 0.7
	}
	// found == 0: any valid JSON object is still accepted as this format.

	return Record{
		Timestamp:  ts,
		Level:      level,
		Service:    service,
		Message:    message,
		RawLine:    line,
		Status:     status,
		Confidence: confidence,
		ParserName: strPtr(ParserJSON),
	}, true
}

// findField looks an alias list up at the top level first, then one level
// into each nested object. Top-level keys are walked in sorted order so the
// nested search is deterministic.
func findField(data map[string]any, aliases []string) any {
	for _, key := range aliases {
		if v, ok := data[key]; ok {
			return v
		}
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		nested, ok := data[k].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range aliases {
			if v, ok := nested[key]; ok {
				return v
			}
		}
	}
	return nil
}

func parseJSONTimestamp(v any) *time.Time {
	if v == nil {
		return nil
	}
	if n, ok := v.(float64); ok {
		sec, frac := math.Modf(n)
		t := time.Unix(int64(sec), int64(frac*1e9)).UTC()
		return &t
	}
	s := stringify(v)
	if strings.HasSuffix(s, "Z") {
		if t := parseISOZ(s); t != nil {
			return t
		}
	}
	if t := parseISOSpace(s); t != nil {
		return t
	}
	return parseISOGeneric(s)
}

func tryApp(line string) (Record, bool) {
	for _, rx := range appRegexes {
		m := rx.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		ts, level, service, msg := m[1], m[2], m[3], m[4]

		var dt *time.Time
		if strings.Contains(ts, "T") && strings.HasSuffix(ts, "Z") {
			dt = parseISOZ(ts)
		} else {
			dt = parseISOSpace(ts)
		}

		status := StatusPartial
		confidence := 0.6
		if dt != nil && level != "" && service != "" {
			status = StatusParsed
			confidence = 0.95
		}

		return Record{
			Timestamp:  dt,
			Level:      strPtr(strings.ToUpper(level)),
			Service:    strPtr(service),
			Message:    strPtr(msg),
			RawLine:    line,
			Status:     status,
			Confidence: confidence,
			ParserName: strPtr(ParserApp),
		}, true
	}
	return Record{}, false
}

func tryAndroid(line string) (Record, bool) {
	var pri, tag, msg, ts string
	if m := androidThreadtimeRegex.FindStringSubmatch(line); m != nil {
		ts, pri, tag, msg = m[1], m[4], m[5], m[6]
	} else if m := androidBriefRegex.FindStringSubmatch(line); m != nil {
		pri, tag, msg = m[1], m[2], m[4]
	} else {
		return Record{}, false
	}

	level, ok := androidPriorityMap[pri]
	if !ok {
		level = "INFO"
	}
	tag = strings.TrimSpace(tag)

	var dt *time.Time
	if ts != "" {
		dt = parseAndroidTime(ts)
	}

	status := StatusPartial
	confidence := 0.6
	if dt != nil && level != "" && tag != "" {
		status = StatusParsed
		confidence = 0.90
	}

	return Record{
		Timestamp:  dt,
		Level:      strPtr(level),
		Service:    strPtr(tag),
		Message:    strPtr(msg),
		RawLine:    line,
		Status:     status,
		Confidence: confidence,
		ParserName: strPtr(ParserAndroid),
	}, true
}

// parseAndroidTime handles the logcat "MM-DD HH:MM:SS.mmm" shape. Logcat
// lines carry no year, so the current UTC year is assumed.
func parseAndroidTime(ts string) *time.Time {
	year := time.Now().UTC().Year()
	t, err := time.Parse("2006-01-02 15:04:05.999999", fmt.Sprintf("%d-%s", year, ts))
	if err != nil {
		return nil
	}
	return &t
}

func tryAccess(line string) (Record, bool) {
	m := accessRegex.FindStringSubmatch(line)
	if m == nil {
		return Record{}, false
	}
	ts, req, statusCode := m[2], m[3], m[4]

	dt := parseAccessTime(ts)

	var message *string
	if req != "" {
		message = strPtr(fmt.Sprintf("%s -> %s", req, statusCode))
	}

	rec := Record{
		Timestamp:  dt,
		Message:    message,
		RawLine:    line,
		Status:     StatusParsed,
		Confidence: 0.85,
		ParserName: strPtr(ParserAccess),
	}
	if dt == nil {
		rec.Status = StatusPartial
		rec.Confidence = 0.7
		rec.ParseError = strPtr("access timestamp parse failed")
	}
	return rec, true
}

// parseAccessTime parses "31/Dec/2025:12:15:41 +0000" from fixed-width
// substrings and normalizes the numeric offset away so the result is naive
// UTC.
func parseAccessTime(ts string) *time.Time {
	parts := strings.Fields(ts)
	if len(parts) == 0 {
		return nil
	}
	dtPart := parts[0]
	tzPart := "+0000"
	if len(parts) > 1 {
		tzPart = parts[1]
	}
	if len(dtPart) < 20 {
		return nil
	}

	day, ok1 := atoi(dtPart[0:2])
	monStr := dtPart[3:6]
	year, ok2 := atoi(dtPart[7:11])
	hour, ok3 := atoi(dtPart[12:14])
	minute, ok4 := atoi(dtPart[15:17])
	second, ok5 := atoi(dtPart[18:20])
	if !(ok1 && ok2 && ok3 && ok4 && ok5) {
		return nil
	}
	month, ok := accessMonths[monStr]
	if !ok {
		return nil
	}

	dt := time.Date(year, month, day, hour, minute, second, 0, time.UTC)

	if len(tzPart) == 5 && (tzPart[0] == '+' || tzPart[0] == '-') {
		tzh, okh := atoi(tzPart[1:3])
		tzm, okm := atoi(tzPart[3:5])
		if !okh || !okm {
			return nil
		}
		offset := time.Duration(tzh)*time.Hour + time.Duration(tzm)*time.Minute
		if tzPart[0] == '-' {
			offset = -offset
		}
		dt = dt.Add(-offset)
	}
	return &dt
}

// parseISOZ parses "2025-12-31T12:15:41Z" with optional fractional seconds.
func parseISOZ(ts string) *time.Time {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// parseISOSpace parses "2025-12-31 12:15:41,120", comma or dot fraction.
func parseISOSpace(ts string) *time.Time {
	ts = strings.Replace(ts, ",", ".", 1)
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, ts); err == nil {
			return &t
		}
	}
	return nil
}

// parseISOGeneric is the last-resort ISO-8601 fallback. Zoned inputs are
// normalized to naive UTC.
func parseISOGeneric(ts string) *time.Time {
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
	} {
		if t, err := time.Parse(layout, ts); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func atoi(s string) (int, bool) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

func strPtr(s string) *string { return &s }
