package parser

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppISOZ(t *testing.T) {
	rec := Parse("2025-12-31T12:15:41Z INFO auth-service User login ok")

	require.NotNil(t, rec.ParserName)
	assert.Equal(t, ParserApp, *rec.ParserName)
	assert.Equal(t, StatusParsed, rec.Status)
	assert.Equal(t, 0.95, rec.Confidence)
	require.NotNil(t, rec.Timestamp)
	assert.Equal(t, time.Date(2025, 12, 31, 12, 15, 41, 0, time.UTC), *rec.Timestamp)
	assert.Equal(t, "INFO", *rec.Level)
	assert.Equal(t, "auth-service", *rec.Service)
	assert.Equal(t, "User login ok", *rec.Message)
}

func TestParseAppSpaceComma(t *testing.T) {
	rec := Parse("2025-12-31 12:15:41,120 ERROR billing Payment failed")

	require.NotNil(t, rec.ParserName)
	assert.Equal(t, ParserApp, *rec.ParserName)
	assert.Equal(t, StatusParsed, rec.Status)
	require.NotNil(t, rec.Timestamp)
	assert.Equal(t, time.Date(2025, 12, 31, 12, 15, 41, 120000000, time.UTC), *rec.Timestamp)
	assert.Equal(t, "ERROR", *rec.Level)
	assert.Equal(t, "billing", *rec.Service)
}

func TestParseAccessOffsetNormalizedToUTC(t *testing.T) {
	rec := Parse(`192.168.1.1 - - [31/Dec/2025:12:15:41 -0500] "GET / HTTP/1.1" 200 0`)

	require.NotNil(t, rec.ParserName)
	assert.Equal(t, ParserAccess, *rec.ParserName)
	assert.Equal(t, StatusParsed, rec.Status)
	assert.Equal(t, 0.85, rec.Confidence)
	require.NotNil(t, rec.Timestamp)
	assert.Equal(t, time.Date(2025, 12, 31, 17, 15, 41, 0, time.UTC), *rec.Timestamp)
	require.NotNil(t, rec.Message)
	assert.Equal(t, "GET / HTTP/1.1 -> 200", *rec.Message)
	assert.Nil(t, rec.Level)
	assert.Nil(t, rec.Service)
}

func TestParseAccessCombined(t *testing.T) {
	rec := Parse(`10.0.0.7 - frank [10/Oct/2025:13:55:36 +0000] "POST /login HTTP/1.1" 401 217 "http://example.com" "curl/8.0"`)

	require.NotNil(t, rec.ParserName)
	assert.Equal(t, ParserAccess, *rec.ParserName)
	assert.Equal(t, StatusParsed, rec.Status)
	require.NotNil(t, rec.Timestamp)
	assert.Equal(t, time.Date(2025, 10, 10, 13, 55, 36, 0, time.UTC), *rec.Timestamp)
}

func TestParseJSONAllFields(t *testing.T) {
	rec := Parse(`{"timestamp":"2025-06-15T10:00:00Z","level":"info","service":"api","message":"Hello"}`)

	require.NotNil(t, rec.ParserName)
	assert.Equal(t, ParserJSON, *rec.ParserName)
	assert.Equal(t, StatusParsed, rec.Status)
	assert.Equal(t, 0.95, rec.Confidence)
	assert.Equal(t, "INFO", *rec.Level)
	assert.Equal(t, "api", *rec.Service)
	assert.Equal(t, "Hello", *rec.Message)
	assert.Equal(t, time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC), *rec.Timestamp)
}

func TestParseJSONNestedService(t *testing.T) {
	rec := Parse(`{"timestamp":"2025-06-15T10:00:00Z","level":"INFO","context":{"service":"nested-svc"},"message":"Hello"}`)

	require.NotNil(t, rec.ParserName)
	assert.Equal(t, ParserJSON, *rec.ParserName)
	assert.Equal(t, StatusParsed, rec.Status)
	require.NotNil(t, rec.Service)
	assert.Equal(t, "nested-svc", *rec.Service)
}

func TestParseJSONEpochTimestamp(t *testing.T) {
	rec := Parse(`{"ts":1735646141,"lvl":"warn","app":"worker","msg":"slow job"}`)

	assert.Equal(t, StatusParsed, rec.Status)
	require.NotNil(t, rec.Timestamp)
	assert.Equal(t, time.Unix(1735646141, 0).UTC(), *rec.Timestamp)
	assert.Equal(t, "WARN", *rec.Level)
}

func TestParseJSONPartial(t *testing.T) {
	rec := Parse(`{"message":"orphan line"}`)

	assert.Equal(t, StatusPartial, rec.Status)
	assert.Equal(t, 0.7, rec.Confidence)
	assert.Nil(t, rec.Timestamp)
	assert.Nil(t, rec.Level)
}

func TestParseJSONZeroFieldsStillPartial(t *testing.T) {
	// A valid object with no recognized aliases is still a json_v1 match.
	rec := Parse(`{"foo":"bar","baz":1}`)

	require.NotNil(t, rec.ParserName)
	assert.Equal(t, ParserJSON, *rec.ParserName)
	assert.Equal(t, StatusPartial, rec.Status)
	assert.Equal(t, 0.5, rec.Confidence)
}

func TestParseBrokenJSONFallsThrough(t *testing.T) {
	rec := Parse(`{"broken json`)

	assert.Nil(t, rec.ParserName)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, 0.0, rec.Confidence)
	require.NotNil(t, rec.ParseError)
	assert.Equal(t, "No parser matched", *rec.ParseError)
}

func TestParseJSONArrayFallsThrough(t *testing.T) {
	rec := Parse(`[{"level":"INFO"}]`)

	assert.Nil(t, rec.ParserName)
	assert.Equal(t, StatusFailed, rec.Status)
}

func TestParseAndroidThreadtime(t *testing.T) {
	rec := Parse("11-01 08:11:52.482  1203  1203 D AndroidRuntime: CheckJNI is OFF")

	require.NotNil(t, rec.ParserName)
	assert.Equal(t, ParserAndroid, *rec.ParserName)
	assert.Equal(t, StatusParsed, rec.Status)
	assert.Equal(t, 0.90, rec.Confidence)
	assert.Equal(t, "DEBUG", *rec.Level)
	assert.Equal(t, "AndroidRuntime", *rec.Service)
	assert.Equal(t, "CheckJNI is OFF", *rec.Message)
	require.NotNil(t, rec.Timestamp)
	year := time.Now().UTC().Year()
	assert.Equal(t, time.Date(year, 11, 1, 8, 11, 52, 482000000, time.UTC), *rec.Timestamp)
}

func TestParseAndroidBrief(t *testing.T) {
	rec := Parse("E/ActivityManager( 1203): ANR in com.example.app")

	require.NotNil(t, rec.ParserName)
	assert.Equal(t, ParserAndroid, *rec.ParserName)
	assert.Equal(t, StatusPartial, rec.Status)
	assert.Equal(t, 0.6, rec.Confidence)
	assert.Nil(t, rec.Timestamp)
	assert.Equal(t, "ERROR", *rec.Level)
	assert.Equal(t, "ActivityManager", *rec.Service)
}

func TestParseFallback(t *testing.T) {
	for _, line := range []string{"", "   ", "complete garbage %%%%", "\t"} {
		rec := Parse(line)
		assert.Equal(t, StatusFailed, rec.Status, "line %q", line)
		assert.Equal(t, 0.0, rec.Confidence)
		assert.Nil(t, rec.ParserName)
		assert.Nil(t, rec.Timestamp)
		assert.Nil(t, rec.Level)
		assert.Nil(t, rec.Service)
		assert.Nil(t, rec.Message)
	}
}

func TestParseStripsTrailingNewline(t *testing.T) {
	rec := Parse("2025-12-31T12:15:41Z INFO auth-service ok\n")
	assert.Equal(t, "2025-12-31T12:15:41Z INFO auth-service ok", rec.RawLine)
}

func TestParseNeverPanicsAndAlwaysClassifies(t *testing.T) {
	inputs := []string{
		"", "{", "}", "{}", "[]", `{"a":`, "\x00\x01\x02",
		strings.Repeat("x", 10000),
		"99-99 99:99:99.999 1 1 D tag: msg",
		`1.2.3.4 - - [99/Xxx/2025:99:99:99 +0000] "GET / HTTP/1.1" 200 0`,
	}
	for i, line := range inputs {
		rec := Parse(line)
		assert.NotPanics(t, func() { _ = Parse(line) })
		assert.Contains(t, []Status{StatusParsed, StatusPartial, StatusFailed}, rec.Status,
			fmt.Sprintf("input %d", i))
	}
}

func TestParseAppPartialWhenTimestampInvalid(t *testing.T) {
	// Matches the app shape but the date is impossible, so the timestamp
	// fails to parse and the record degrades to partial.
	rec := Parse("2025-13-45 12:15:41 ERROR billing boom")

	require.NotNil(t, rec.ParserName)
	assert.Equal(t, ParserApp, *rec.ParserName)
	assert.Equal(t, StatusPartial, rec.Status)
	assert.Equal(t, 0.6, rec.Confidence)
	assert.Nil(t, rec.Timestamp)
	assert.Equal(t, "ERROR", *rec.Level)
}
