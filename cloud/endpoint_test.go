package cloud

import (
	"net/url"
	"testing"
)

func TestNormalizePrefix(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", ""},
		{"/", ""},
		{"  ", ""},
		{"dav", "/dav"},
		{"/dav", "/dav"},
		{"/dav/", "/dav"},
		{"dav///", "/dav"},
	}
	for _, c := range cases {
		if got := NormalizePrefix(c.in); got != c.want {
			t.Errorf("NormalizePrefix(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestJoinBasePrefix(t *testing.T) {
	if got := JoinBasePrefix("https://dav.example.com/", "remote/"); got != "https://dav.example.com/remote" {
		t.Fatalf("joined = %q", got)
	}
	if got := JoinBasePrefix(" https://dav.example.com ", ""); got != "https://dav.example.com" {
		t.Fatalf("joined = %q", got)
	}
}

func TestResolveBaseURL(t *testing.T) {
	if got := ResolveBaseURL("https://a.example/", "https://b.example", ""); got != "https://a.example" {
		t.Fatalf("configured not preferred: %q", got)
	}
	if got := ResolveBaseURL("", "https://b.example/", ""); got != "https://b.example" {
		t.Fatalf("fallback not used: %q", got)
	}
	if got := ResolveBaseURL("", "", "https://c.example/dav/path"); got != "https://c.example" {
		t.Fatalf("legacy endpoint host not derived: %q", got)
	}
	if got := ResolveBaseURL("", "", ""); got != "" {
		t.Fatalf("empty inputs resolved to %q", got)
	}
}

func TestResolvePrefix(t *testing.T) {
	// A configured base pins the prefix to the configured one, even
	// when empty.
	if got := ResolvePrefix("", "https://a.example", "/env", "https://b.example", ""); got != "" {
		t.Fatalf("configured base did not pin prefix: %q", got)
	}
	if got := ResolvePrefix("/mine", "https://a.example", "/env", "", ""); got != "/mine" {
		t.Fatalf("configured prefix lost: %q", got)
	}
	// An env base falls back to the env prefix.
	if got := ResolvePrefix("", "", "/env", "https://b.example", ""); got != "/env" {
		t.Fatalf("env prefix not used: %q", got)
	}
	// Legacy endpoint path is the last resort.
	if got := ResolvePrefix("", "", "", "", "https://c.example/dav/"); got != "/dav" {
		t.Fatalf("legacy path not derived: %q", got)
	}
}

func TestEndpointURLDirect(t *testing.T) {
	e := Endpoint{BaseURL: "https://dav.example.com", Prefix: "/remote"}
	if got := e.URL("/"+DefaultFile, ""); got != "https://dav.example.com/remote/"+DefaultFile {
		t.Fatalf("direct url = %q", got)
	}
}

func TestEndpointURLProxied(t *testing.T) {
	e := Endpoint{
		BaseURL:  "https://dav.example.com",
		Prefix:   "/remote",
		UseProxy: true,
		ProxyURL: "https://app.example.com/",
	}
	raw := e.URL(DefaultFolder, "MKCOL")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	if u.Host != "app.example.com" || u.Path != ProxyPrefix+"/"+DefaultFolder {
		t.Fatalf("proxy target wrong: %q", raw)
	}
	q := u.Query()
	if q.Get("endpoint") != "https://dav.example.com/remote" {
		t.Fatalf("endpoint param = %q", q.Get("endpoint"))
	}
	if q.Get("proxy_method") != "MKCOL" {
		t.Fatalf("proxy_method param = %q", q.Get("proxy_method"))
	}
}
