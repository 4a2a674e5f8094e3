package logutil

import (
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"pgregory.net/rapid"
)

func TestFormatHeadersForLog_RedactsAuthorization(t *testing.T) {
	t.Parallel()
	h := http.Header{}
	h.Set("Authorization", "Bearer abc123")
	h.Set("Content-Type", "application/json")

	got := FormatHeadersForLog(h)
	if strings.Contains(got, "abc123") {
		t.Fatalf("token leaked: %s", got)
	}
	if !strings.Contains(got, `content-type="application/json"`) {
		t.Fatalf("missing content-type: %s", got)
	}
}

func TestFormatBodyForLog_PreviewsContentAndRedactsTokens(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("private thought ", 20)
	body := []byte(`{"content":"` + long + `","token":"s3cr3t","tags":["a"]}`)

	got := FormatBodyForLog("application/json", body, 0)
	if strings.Contains(got, "s3cr3t") {
		t.Fatalf("token leaked: %s", got)
	}
	if strings.Contains(got, long) {
		t.Fatalf("full content leaked: %s", got)
	}
	if !strings.Contains(got, "[truncated]") {
		t.Fatalf("content not previewed: %s", got)
	}
}

func testTruncateForLog_Bounded(t *rapid.T) {
	value := rapid.String().Draw(t, "value")
	max := rapid.IntRange(1, 64).Draw(t, "max")

	got := TruncateForLog(value, max)
	if strings.Contains(got, "\n") {
		t.Fatalf("newline survived: %q", got)
	}
	limit := max + len("... [truncated]")
	if utf8.RuneCountInString(got) > limit {
		t.Fatalf("preview too long: %d > %d", utf8.RuneCountInString(got), limit)
	}
}

func TestTruncateForLog_Bounded(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testTruncateForLog_Bounded)
}

func FuzzTruncateForLog_Bounded(f *testing.F) {
	f.Fuzz(rapid.MakeFuzz(testTruncateForLog_Bounded))
}
