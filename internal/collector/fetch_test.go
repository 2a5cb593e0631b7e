package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestFetchPageSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.Contains(ua, "Mozilla") {
			t.Errorf("expected browser-like User-Agent, got %q", ua)
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	c := New(2*time.Second, "")
	page, err := c.FetchPage(context.Background(), SiteConfig{Name: "example.test"}, srv.URL+"/news/a-b-c")
	if err != nil {
		t.Fatalf("FetchPage error: %v", err)
	}
	if page.Site != "example.test" {
		t.Fatalf("page.Site = %q", page.Site)
	}
	if page.URL != srv.URL+"/news/a-b-c" {
		t.Fatalf("page.URL = %q", page.URL)
	}
	if !strings.Contains(string(page.HTML), "ok") {
		t.Fatalf("unexpected page body: %q", page.HTML)
	}
	if page.FetchedAt.IsZero() {
		t.Fatalf("FetchedAt should be set")
	}
}

func TestFetchPageNon200RetriesThenFails(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(2*time.Second, "")
	if _, err := c.FetchPage(context.Background(), SiteConfig{Name: "example.test"}, srv.URL); err == nil {
		t.Fatalf("expected error for 404")
	}
	if hits != maxFetchRetries+1 {
		t.Fatalf("expected %d attempts, got %d", maxFetchRetries+1, hits)
	}
}

func TestFetchPageTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	c := New(100*time.Millisecond, "")
	if _, err := c.FetchPage(context.Background(), SiteConfig{Name: "example.test"}, srv.URL); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestFetchPageBrowserFallback(t *testing.T) {
	browser := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/render" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req renderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode render request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(renderResponse{OK: true, HTML: "<html><body>rendered</body></html>"})
	}))
	defer browser.Close()

	// 目标站点不可达，应转而命中渲染服务
	c := New(200*time.Millisecond, browser.URL)
	page, err := c.FetchPage(context.Background(), SiteConfig{Name: "blocked.test"}, "http://127.0.0.1:1/news/a-b-c")
	if err != nil {
		t.Fatalf("FetchPage with fallback error: %v", err)
	}
	if !strings.Contains(string(page.HTML), "rendered") {
		t.Fatalf("expected rendered HTML, got %q", page.HTML)
	}
}

func TestNormalizeDomain(t *testing.T) {
	cases := map[string]string{
		"https://www.independent.co.uk":       "independent.co.uk",
		"https://WWW.Example.COM/path?q=1":    "example.com",
		"http://news.example.org":             "news.example.org",
		"https://www.lemonde.fr:443/politics": "lemonde.fr",
	}
	for in, want := range cases {
		if got := NormalizeDomain(in); got != want {
			t.Fatalf("NormalizeDomain(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSitesFromList(t *testing.T) {
	sites := SitesFromList([]string{"https://www.example.com", "https://news.test=5"})
	if len(sites) != 2 {
		t.Fatalf("expected 2 sites, got %d", len(sites))
	}
	if sites[0].Name != "example.com" || sites[0].MaxArticles != 0 {
		t.Fatalf("unexpected first site: %+v", sites[0])
	}
	if sites[1].Name != "news.test" || sites[1].MaxArticles != 5 || sites[1].BaseURL != "https://news.test" {
		t.Fatalf("unexpected second site: %+v", sites[1])
	}
}
