package scope

import "testing"

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"lowercases host", "https://Example.COM/Docs", "https://example.com/Docs", true},
		{"strips fragment", "https://example.com/a#section", "https://example.com/a", true},
		{"strips default https port", "https://example.com:443/a", "https://example.com/a", true},
		{"strips default http port", "http://example.com:80/", "http://example.com/", true},
		{"keeps custom port", "http://example.com:8080/a", "http://example.com:8080/a", true},
		{"trims trailing slash", "https://example.com/docs/", "https://example.com/docs", true},
		{"root keeps slash", "https://example.com", "https://example.com/", true},
		{"relative rejected", "/just/a/path", "", false},
		{"garbage rejected", "http://%zz", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Normalize(tc.in)
			if ok != tc.ok {
				t.Fatalf("Normalize(%q) ok = %v, want %v", tc.in, ok, tc.ok)
			}
			if got != tc.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	t.Parallel()

	first, ok := Normalize("HTTPS://Example.com:443/docs/#top")
	if !ok {
		t.Fatal("first pass failed")
	}
	second, ok := Normalize(first)
	if !ok || second != first {
		t.Fatalf("second pass changed result: %q vs %q", first, second)
	}
}

func TestSameOrigin(t *testing.T) {
	t.Parallel()

	if !SameOrigin("https://example.com/a", "https://EXAMPLE.com/b") {
		t.Fatal("expected same origin for case-differing hosts")
	}
	if SameOrigin("https://example.com/a", "https://other.com/a") {
		t.Fatal("expected different origin for different hosts")
	}
	if SameOrigin("https://example.com/a", "http://example.com/a") {
		t.Fatal("expected different origin for different schemes")
	}
}

func TestAllowedExcludeWins(t *testing.T) {
	t.Parallel()

	include := []string{"/docs"}
	exclude := []string{"/docs/private"}

	if !Allowed("https://example.com/docs/intro", include, exclude) {
		t.Fatal("expected included path to pass")
	}
	if Allowed("https://example.com/docs/private/key", include, exclude) {
		t.Fatal("expected exclude to take precedence over include")
	}
	if Allowed("https://example.com/blog/post", include, nil) {
		t.Fatal("expected non-included path to be rejected")
	}
	if !Allowed("https://example.com/anything", nil, nil) {
		t.Fatal("expected empty filters to admit everything")
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	if got := Resolve("https://example.com/docs/", "../img/a.png"); got != "https://example.com/img/a.png" {
		t.Fatalf("unexpected resolution %q", got)
	}
	if got := Resolve("https://example.com/", "javascript:void(0)"); got != "" {
		t.Fatalf("expected script href to be dropped, got %q", got)
	}
	if got := Resolve("https://example.com/", "mailto:x@example.com"); got != "" {
		t.Fatalf("expected mailto href to be dropped, got %q", got)
	}
}
