package retrieval

import (
	"reflect"
	"testing"
)

func TestExtractURLsStripsTrailingPunctuation(t *testing.T) {
	got := ExtractURLs("Check (https://foo.com/bar).", 3)
	if !reflect.DeepEqual(got, []string{"https://foo.com/bar"}) {
		t.Fatalf("unexpected urls %v", got)
	}
}

func TestExtractURLsDeduplicates(t *testing.T) {
	got := ExtractURLs("https://foo.com/a and again https://foo.com/a, twice", 3)
	if len(got) != 1 {
		t.Fatalf("expected one url, got %v", got)
	}
}

func TestExtractURLsAppliesCap(t *testing.T) {
	text := "https://a.com https://b.com https://c.com https://d.com"
	got := ExtractURLs(text, 3)
	if !reflect.DeepEqual(got, []string{"https://a.com", "https://b.com", "https://c.com"}) {
		t.Fatalf("unexpected urls %v", got)
	}
}

func TestExtractURLsHandlesSlackLinkMarkup(t *testing.T) {
	got := ExtractURLs("see <https://foo.com/x|foo> and <www.bar.io/y>", 0)
	if !reflect.DeepEqual(got, []string{"https://foo.com/x", "www.bar.io/y"}) {
		t.Fatalf("unexpected urls %v", got)
	}
}

func TestExtractURLsIgnoresCase(t *testing.T) {
	got := ExtractURLs("read HTTPS://Example.com/x, Http://foo.io and WWW.Bar.io/y or just WWW.", 5)
	want := []string{"HTTPS://Example.com/x", "Http://foo.io", "WWW.Bar.io/y"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected urls %v", got)
	}
}

func TestExtractURLsWithoutLinks(t *testing.T) {
	if got := ExtractURLs("nothing to see here", 3); len(got) != 0 {
		t.Fatalf("expected no urls, got %v", got)
	}
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"www.foo.com/a":       "https://www.foo.com/a",
		"http://foo.com":      "http://foo.com",
		"HTTPS://Foo.com/c":   "HTTPS://Foo.com/c",
		"WWW.Foo.com":         "https://WWW.Foo.com",
		" https://foo.com/b ": "https://foo.com/b",
	}
	for input, want := range cases {
		if got := NormalizeURL(input); got != want {
			t.Fatalf("NormalizeURL(%q) = %q, want %q", input, got, want)
		}
	}
}
