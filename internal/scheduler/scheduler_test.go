package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LJTian/InsightBot/internal/collector"
	"github.com/LJTian/InsightBot/internal/storage"
)

const (
	paraOne   = "World leaders gathered in the capital today to discuss a sweeping new agreement on cross border trade and the future of regional cooperation between the member states."
	paraTwo   = "Officials said the negotiations had continued late into the night, with several delegations pushing for stronger commitments on tariffs, supply chains and digital services."
	paraThree = "Analysts believe the outcome of the summit could reshape economic policy across the region for the next decade, although many details remain unresolved at this stage."
)

func pageHTML(title string, paras ...string) []byte {
	var b strings.Builder
	b.WriteString("<html><head><title>")
	b.WriteString(title)
	b.WriteString("</title></head><body><article>")
	for _, p := range paras {
		b.WriteString("<p>")
		b.WriteString(p)
		b.WriteString("</p>")
	}
	b.WriteString("</article></body></html>")
	return []byte(b.String())
}

// fakeSource 用预置页面替代真实抓取，记录每次 FetchPage 的调用顺序
type fakeSource struct {
	mu       sync.Mutex
	links    map[string][]string
	pages    map[string][]byte
	attempts []string

	block   chan struct{} // 非 nil 时 FetchPage 阻塞等待
	started chan struct{} // 首次 FetchPage 时关闭
}

func (f *fakeSource) CollectLinks(_ context.Context, site collector.SiteConfig, limit int) ([]string, error) {
	ls := f.links[site.Name]
	if len(ls) > limit {
		ls = ls[:limit]
	}
	return ls, nil
}

func (f *fakeSource) FetchPage(_ context.Context, site collector.SiteConfig, url string) (*collector.Page, error) {
	f.mu.Lock()
	f.attempts = append(f.attempts, url)
	started := f.started
	f.started = nil
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if f.block != nil {
		<-f.block
	}

	html, ok := f.pages[url]
	if !ok {
		return nil, fmt.Errorf("fetch %s: connection refused", url)
	}
	return &collector.Page{Site: site.Name, URL: url, HTML: html, FetchedAt: time.Now().UTC()}, nil
}

func (f *fakeSource) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attempts)
}

type fakeStore struct {
	mu        sync.Mutex
	articles  map[string]*storage.Article
	fps       map[string]bool
	insertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		articles: make(map[string]*storage.Article),
		fps:      make(map[string]bool),
	}
}

func (f *fakeStore) Insert(_ context.Context, a *storage.Article) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return false, f.insertErr
	}
	if _, ok := f.articles[a.URL]; ok {
		return false, nil
	}
	f.articles[a.URL] = a
	f.fps[a.Fingerprint] = true
	return true, nil
}

func (f *fakeStore) Exists(_ context.Context, url string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.articles[url]
	return ok, nil
}

func (f *fakeStore) ExistsByFingerprint(_ context.Context, fp string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fps[fp], nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.articles)
}

var testSite = collector.SiteConfig{Name: "example.com", BaseURL: "https://example.com"}

func TestRunManualPipeline(t *testing.T) {
	source := &fakeSource{
		links: map[string][]string{
			"example.com": {
				"http://example.com/a",
				"http://example.com/bad",
				"http://example.com/missing",
				"http://example.com/dup?utm_source=feed",
				"http://example.com/b",
			},
		},
		pages: map[string][]byte{
			"http://example.com/a":                   pageHTML("Trade Summit Reaches Deal", paraOne, paraTwo, paraThree),
			"http://example.com/bad":                 []byte("<html><body><p>too short</p></body></html>"),
			"http://example.com/dup?utm_source=feed": pageHTML("Trade Summit Reaches Deal", paraOne, paraTwo, paraThree),
			"http://example.com/b":                   pageHTML("Parliament Passes Budget Bill", paraTwo, paraThree, paraOne),
		},
	}
	store := newFakeStore()

	s, err := New("0 8 * * *", source, store, []collector.SiteConfig{testSite}, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	summary, err := s.RunManual(context.Background(), 10)
	if err != nil {
		t.Fatalf("RunManual: %v", err)
	}
	if summary.Mode != ModeManual {
		t.Fatalf("mode = %s, want manual", summary.Mode)
	}

	res, ok := summary.Sites["example.com"]
	if !ok {
		t.Fatalf("no result for example.com: %+v", summary.Sites)
	}
	if res.Fetched != 3 || res.New != 2 || res.Duplicate != 1 {
		t.Fatalf("unexpected counts: %+v", res)
	}
	if res.FetchErrors != 1 || res.ParseErrors != 1 {
		t.Fatalf("unexpected error counts: %+v", res)
	}

	if store.count() != 2 {
		t.Fatalf("stored %d articles, want 2", store.count())
	}
	a, ok := store.articles["http://example.com/a"]
	if !ok {
		t.Fatalf("canonical URL not stored: %v", store.articles)
	}
	if a.Language != "en" {
		t.Fatalf("language = %q, want en", a.Language)
	}
	if len(a.ID) != 40 || len(a.Fingerprint) != 40 {
		t.Fatalf("bad hashes: id=%q fp=%q", a.ID, a.Fingerprint)
	}
	if a.Title != "Trade Summit Reaches Deal" {
		t.Fatalf("title = %q", a.Title)
	}
}

func TestManualTriggerWhileRunning(t *testing.T) {
	source := &fakeSource{
		links:   map[string][]string{"example.com": {"http://example.com/a"}},
		pages:   map[string][]byte{"http://example.com/a": pageHTML("Trade Summit Reaches Deal", paraOne, paraTwo)},
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	store := newFakeStore()

	s, err := New("0 8 * * *", source, store, []collector.SiteConfig{testSite}, 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	started := source.started
	done := make(chan *RunSummary, 1)
	go func() {
		summary, runErr := s.RunManual(context.Background(), 3)
		if runErr != nil {
			t.Errorf("first RunManual: %v", runErr)
		}
		done <- summary
	}()

	<-started
	if _, err := s.RunManual(context.Background(), 3); !errors.Is(err, ErrCycleAlreadyRunning) {
		t.Fatalf("second RunManual error = %v, want ErrCycleAlreadyRunning", err)
	}

	close(source.block)
	summary := <-done
	if summary == nil || summary.Totals().New != 1 {
		t.Fatalf("first cycle summary: %+v", summary)
	}

	// 前一轮结束后可以再次触发
	if _, err := s.RunManual(context.Background(), 3); err != nil {
		t.Fatalf("RunManual after cycle finished: %v", err)
	}
}

func TestPerSiteLimitStopsFetching(t *testing.T) {
	links := make([]string, 0, 24)
	pages := make(map[string][]byte, 24)
	for i := 0; i < 24; i++ {
		u := fmt.Sprintf("http://example.com/story-%d", i)
		links = append(links, u)
		pages[u] = pageHTML(fmt.Sprintf("Breaking Story Number %d", i),
			paraOne, fmt.Sprintf("%s Update number %d arrived later in the day.", paraTwo, i))
	}
	source := &fakeSource{links: map[string][]string{"example.com": links}, pages: pages}
	store := newFakeStore()

	s, err := New("0 8 * * *", source, store, []collector.SiteConfig{testSite}, 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	summary, err := s.RunManual(context.Background(), 3)
	if err != nil {
		t.Fatalf("RunManual: %v", err)
	}

	// 上限达到后不再请求多余页面
	if got := source.attemptCount(); got != 3 {
		t.Fatalf("fetch attempts = %d, want 3", got)
	}
	if res := summary.Sites["example.com"]; res.Fetched != 3 || res.New != 3 {
		t.Fatalf("unexpected counts: %+v", res)
	}
}

func TestFetchFailuresDoNotStopSite(t *testing.T) {
	links := []string{
		"http://example.com/down-1",
		"http://example.com/ok-1",
		"http://example.com/down-2",
		"http://example.com/down-3",
		"http://example.com/ok-2",
		"http://example.com/down-4",
	}
	pages := map[string][]byte{
		"http://example.com/ok-1": pageHTML("Trade Summit Reaches Deal", paraOne, paraTwo, paraThree),
		"http://example.com/ok-2": pageHTML("Parliament Passes Budget Bill", paraTwo, paraThree),
	}
	source := &fakeSource{links: map[string][]string{"example.com": links}, pages: pages}
	store := newFakeStore()

	s, err := New("0 8 * * *", source, store, []collector.SiteConfig{testSite}, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	summary, err := s.RunManual(context.Background(), 10)
	if err != nil {
		t.Fatalf("RunManual: %v", err)
	}

	res := summary.Sites["example.com"]
	if res.FetchErrors != 4 || res.New != 2 {
		t.Fatalf("unexpected counts: %+v", res)
	}
	if got := source.attemptCount(); got != len(links) {
		t.Fatalf("fetch attempts = %d, want %d", got, len(links))
	}
}

func TestStoreUnavailableAbortsSiteBatch(t *testing.T) {
	links := make([]string, 0, 5)
	pages := make(map[string][]byte, 5)
	for i := 0; i < 5; i++ {
		u := fmt.Sprintf("http://example.com/story-%d", i)
		links = append(links, u)
		pages[u] = pageHTML(fmt.Sprintf("Breaking Story Number %d", i), paraOne, paraTwo)
	}
	source := &fakeSource{links: map[string][]string{"example.com": links}, pages: pages}
	store := newFakeStore()
	store.insertErr = fmt.Errorf("insert articles: %w", storage.ErrStoreUnavailable)

	s, err := New("0 8 * * *", source, store, []collector.SiteConfig{testSite}, 5)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	summary, err := s.RunManual(context.Background(), 5)
	if err != nil {
		t.Fatalf("RunManual: %v", err)
	}

	// 首次写库失败即放弃该站剩余链接
	if got := source.attemptCount(); got != 1 {
		t.Fatalf("fetch attempts = %d, want 1", got)
	}
	if res := summary.Sites["example.com"]; res.New != 0 {
		t.Fatalf("unexpected counts: %+v", res)
	}
}

func TestSecondCycleSeesStoredDuplicates(t *testing.T) {
	source := &fakeSource{
		links: map[string][]string{"example.com": {"http://example.com/a", "http://example.com/b"}},
		pages: map[string][]byte{
			"http://example.com/a": pageHTML("Trade Summit Reaches Deal", paraOne, paraTwo, paraThree),
			"http://example.com/b": pageHTML("Parliament Passes Budget Bill", paraTwo, paraThree),
		},
	}
	store := newFakeStore()

	s, err := New("0 8 * * *", source, store, []collector.SiteConfig{testSite}, 5)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first, err := s.RunManual(context.Background(), 5)
	if err != nil {
		t.Fatalf("first RunManual: %v", err)
	}
	if t1 := first.Totals(); t1.New != 2 || t1.Duplicate != 0 {
		t.Fatalf("first cycle: %+v", t1)
	}

	second, err := s.RunManual(context.Background(), 5)
	if err != nil {
		t.Fatalf("second RunManual: %v", err)
	}
	if t2 := second.Totals(); t2.New != 0 || t2.Duplicate != 2 {
		t.Fatalf("second cycle: %+v", t2)
	}
	if store.count() != 2 {
		t.Fatalf("stored %d articles, want 2", store.count())
	}
}

func TestScheduledModeHonorsSiteCap(t *testing.T) {
	links := make([]string, 0, 6)
	pages := make(map[string][]byte, 6)
	for i := 0; i < 6; i++ {
		u := fmt.Sprintf("http://example.com/story-%d", i)
		links = append(links, u)
		pages[u] = pageHTML(fmt.Sprintf("Breaking Story Number %d", i), paraOne, paraTwo)
	}
	source := &fakeSource{links: map[string][]string{"example.com": links}, pages: pages}
	store := newFakeStore()

	site := collector.SiteConfig{Name: "example.com", BaseURL: "https://example.com", MaxArticles: 1}
	s, err := New("0 8 * * *", source, store, []collector.SiteConfig{site}, 5)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	summary := s.runCycle(context.Background(), ModeScheduled, 5)
	if got := source.attemptCount(); got != 1 {
		t.Fatalf("fetch attempts = %d, want 1", got)
	}
	if res := summary.Sites["example.com"]; res.New != 1 {
		t.Fatalf("unexpected counts: %+v", res)
	}
}
