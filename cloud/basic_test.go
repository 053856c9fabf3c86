package cloud

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func basicTestClient(t *testing.T, handler http.HandlerFunc) *BasicClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewBasicClient(BasicConfig{
		Endpoint: Endpoint{BaseURL: srv.URL},
		Username: "alice",
		Password: "secret",
	})
}

func TestBasicClientSendsCredentials(t *testing.T) {
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("alice:secret"))
	var got string
	c := basicTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	})

	if !c.Check(context.Background()) {
		t.Fatalf("check failed against 200")
	}
	if got != want {
		t.Fatalf("authorization = %q, want %q", got, want)
	}
}

func TestBasicClientCheckAcceptsProvisionedStatuses(t *testing.T) {
	for _, status := range []int{201, 200, 404, 405, 301, 302, 307, 308} {
		status := status
		c := basicTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})
		if !c.Check(context.Background()) {
			t.Errorf("check rejected status %d", status)
		}
	}

	c := basicTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	if c.Check(context.Background()) {
		t.Fatalf("check accepted status 500")
	}
}

func TestBasicClientGetMapsNotFoundToEmpty(t *testing.T) {
	c := basicTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	got, err := c.Get(context.Background(), "backup")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "" {
		t.Fatalf("404 body = %q, want empty", got)
	}
}

func TestBasicClientGetReturnsBody(t *testing.T) {
	var path string
	c := basicTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"chat":{}}`))
	})
	got, err := c.Get(context.Background(), "backup")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != `{"chat":{}}` {
		t.Fatalf("body = %q", got)
	}
	if path != "/"+DefaultFile {
		t.Fatalf("fetched %q, want %q", path, "/"+DefaultFile)
	}
}

func TestBasicClientGetRejectsHTML(t *testing.T) {
	c := basicTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html>login portal</html>"))
	})
	if _, err := c.Get(context.Background(), "backup"); err == nil {
		t.Fatalf("html response accepted as snapshot")
	}
}

func TestBasicClientSet(t *testing.T) {
	var method, body string
	c := basicTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusCreated)
	})
	if err := c.Set(context.Background(), "backup", `{"v":1}`); err != nil {
		t.Fatalf("set: %v", err)
	}
	if method != http.MethodPut || body != `{"v":1}` {
		t.Fatalf("recorded %s %q", method, body)
	}

	failing := basicTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	if err := failing.Set(context.Background(), "backup", "x"); err == nil {
		t.Fatalf("forbidden put reported success")
	}
}
