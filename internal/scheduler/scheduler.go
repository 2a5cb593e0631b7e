package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/datatypes"

	"github.com/LJTian/InsightBot/internal/collector"
	"github.com/LJTian/InsightBot/internal/extractor"
	"github.com/LJTian/InsightBot/internal/language"
	"github.com/LJTian/InsightBot/internal/processor"
	"github.com/LJTian/InsightBot/internal/storage"
)

// ErrCycleAlreadyRunning 已有一轮采集在跑。定时触发直接跳过本次，
// 手动触发把这个错误返回给调用方。
var ErrCycleAlreadyRunning = errors.New("cycle already running")

// 每个站点收集的候选链接数是入库上限的数倍，留出解析失败与判重的余量
const candidateFactor = 8

// 进程启动后延迟首轮采集，避免与服务初始化抢资源
const startupDelay = 15 * time.Second

type Mode string

const (
	ModeScheduled Mode = "scheduled"
	ModeManual    Mode = "manual"
)

// SiteResult 单个站点在一轮采集里的计数
type SiteResult struct {
	Fetched     int `json:"fetched"` // 成功抽取出文章的页面数
	New         int `json:"new"`
	Duplicate   int `json:"duplicate"`
	FetchErrors int `json:"fetchErrors"`
	ParseErrors int `json:"parseErrors"`
}

// RunSummary 一轮采集的汇总，随手动触发返回并在日志里输出；不落库
type RunSummary struct {
	Mode         Mode                  `json:"mode"`
	PerSiteLimit int                   `json:"perSiteLimit"`
	StartedAt    time.Time             `json:"startedAt"`
	FinishedAt   time.Time             `json:"finishedAt"`
	Sites        map[string]SiteResult `json:"sites"`
}

// Totals 所有站点计数之和
func (r *RunSummary) Totals() SiteResult {
	var t SiteResult
	for _, s := range r.Sites {
		t.Fetched += s.Fetched
		t.New += s.New
		t.Duplicate += s.Duplicate
		t.FetchErrors += s.FetchErrors
		t.ParseErrors += s.ParseErrors
	}
	return t
}

// Store 采集管线需要的存储能力，由 storage.Store 实现
type Store interface {
	Insert(ctx context.Context, a *storage.Article) (bool, error)
	Exists(ctx context.Context, url string) (bool, error)
	ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error)
}

// PageSource 页面来源，由 collector.Collector 实现；测试时可替换
type PageSource interface {
	CollectLinks(ctx context.Context, site collector.SiteConfig, limit int) ([]string, error)
	FetchPage(ctx context.Context, site collector.SiteConfig, url string) (*collector.Page, error)
}

// Scheduler 驱动 fetch→extract→classify→dedupe→store 的完整周期。
// 任一时刻最多只有一轮在跑：定时触发撞上运行中的周期会被丢弃，不排队。
type Scheduler struct {
	cron         *cron.Cron
	source       PageSource
	store        Store
	sites        []collector.SiteConfig
	perSiteLimit int

	mu      sync.Mutex
	running bool
}

func New(cronSpec string, source PageSource, store Store, sites []collector.SiteConfig, perSiteLimit int) (*Scheduler, error) {
	if perSiteLimit <= 0 {
		perSiteLimit = 3
	}
	s := &Scheduler{
		cron:         cron.New(),
		source:       source,
		store:        store,
		sites:        sites,
		perSiteLimit: perSiteLimit,
	}

	if _, err := s.cron.AddFunc(cronSpec, s.runScheduled); err != nil {
		return nil, err
	}
	return s, nil
}

// Start 启动定时器，并延迟执行首轮采集
func (s *Scheduler) Start() {
	s.cron.Start()
	time.AfterFunc(startupDelay, func() {
		go s.runScheduled()
	})
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) runScheduled() {
	if _, err := s.tryRun(context.Background(), ModeScheduled, s.perSiteLimit); err != nil {
		if errors.Is(err, ErrCycleAlreadyRunning) {
			log.Println("collect cycle still running, skip this tick")
			return
		}
		log.Printf("scheduled cycle error: %v", err)
	}
}

// RunManual 手动触发一轮采集；perSiteLimit <= 0 时使用配置默认值。
// 已有周期在跑时返回 ErrCycleAlreadyRunning，不会排队执行。
func (s *Scheduler) RunManual(ctx context.Context, perSiteLimit int) (*RunSummary, error) {
	if perSiteLimit <= 0 {
		perSiteLimit = s.perSiteLimit
	}
	return s.tryRun(ctx, ModeManual, perSiteLimit)
}

func (s *Scheduler) tryRun(ctx context.Context, mode Mode, perSiteLimit int) (*RunSummary, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrCycleAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	return s.runCycle(ctx, mode, perSiteLimit), nil
}

// runCycle 站点间并发抓取；判重与写库通过 insertMu 串行，
// 保证一轮之内 URL 与指纹的唯一性判断始终基于最新状态。
func (s *Scheduler) runCycle(ctx context.Context, mode Mode, perSiteLimit int) *RunSummary {
	log.Printf("start collect cycle (mode=%s, per_site=%d, sites=%d)...", mode, perSiteLimit, len(s.sites))

	summary := &RunSummary{
		Mode:         mode,
		PerSiteLimit: perSiteLimit,
		StartedAt:    time.Now().UTC(),
		Sites:        make(map[string]SiteResult, len(s.sites)),
	}

	dedup := processor.NewDedup(s.store)

	var (
		insertMu  sync.Mutex
		summaryMu sync.Mutex
		wg        sync.WaitGroup
	)
	for _, site := range s.sites {
		limit := perSiteLimit
		// 定时模式下站点可以自带更小/更大的上限；手动上限是显式要求，全站生效
		if mode == ModeScheduled && site.MaxArticles > 0 {
			limit = site.MaxArticles
		}

		wg.Add(1)
		go func(site collector.SiteConfig, limit int) {
			defer wg.Done()
			res := s.scrapeSite(ctx, site, limit, dedup, &insertMu)
			log.Printf("site %s done: fetched=%d new=%d dup=%d fetch_err=%d parse_err=%d",
				site.Name, res.Fetched, res.New, res.Duplicate, res.FetchErrors, res.ParseErrors)
			summaryMu.Lock()
			summary.Sites[site.Name] = res
			summaryMu.Unlock()
		}(site, limit)
	}
	wg.Wait()

	summary.FinishedAt = time.Now().UTC()
	t := summary.Totals()
	log.Printf("collect cycle done (mode=%s): fetched=%d new=%d dup=%d fetch_err=%d parse_err=%d, took %s",
		mode, t.Fetched, t.New, t.Duplicate, t.FetchErrors, t.ParseErrors,
		summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond))

	return summary
}

func (s *Scheduler) scrapeSite(ctx context.Context, site collector.SiteConfig, limit int, dedup *processor.Dedup, insertMu *sync.Mutex) SiteResult {
	var res SiteResult

	links, err := s.source.CollectLinks(ctx, site, limit*candidateFactor)
	if err != nil {
		log.Printf("collect links %s error: %v", site.Name, err)
		res.FetchErrors++
		return res
	}
	if len(links) == 0 {
		log.Printf("no candidate links for %s", site.Name)
		return res
	}

	for _, link := range links {
		// 达到该站上限后不再请求任何页面
		if res.Fetched >= limit {
			break
		}

		page, err := s.source.FetchPage(ctx, site, link)
		if err != nil {
			log.Printf("fetch %s error: %v", link, err)
			res.FetchErrors++
			continue
		}

		art, err := extractor.Extract(page)
		if err != nil {
			log.Printf("extract %s skipped: %v", link, err)
			res.ParseErrors++
			continue
		}

		canonical, err := processor.CanonicalURL(art.URL)
		if err != nil {
			log.Printf("canonicalize %s skipped: %v", link, err)
			res.ParseErrors++
			continue
		}
		res.Fetched++

		fp := processor.Fingerprint(art.Title, art.Body)
		rec := buildRecord(art, canonical, fp)

		insertMu.Lock()
		decision, derr := dedup.Check(ctx, canonical, fp)
		var inserted bool
		if derr == nil && decision == processor.New {
			inserted, derr = s.store.Insert(ctx, rec)
		}
		insertMu.Unlock()

		if derr != nil {
			if errors.Is(derr, storage.ErrStoreUnavailable) {
				log.Printf("store unavailable, aborting %s batch: %v", site.Name, derr)
				return res
			}
			log.Printf("dedupe/insert %s error: %v", canonical, derr)
			continue
		}

		if decision == processor.New && inserted {
			res.New++
		} else {
			res.Duplicate++
		}
	}

	return res
}

// buildRecord 把抽取草稿补全成入库记录；语言在这里统一由分类器打标
func buildRecord(art *extractor.Article, canonical, fingerprint string) *storage.Article {
	extra := datatypes.JSONMap{
		"extractor": art.Extractor,
		"length":    len(art.Body),
	}
	if art.RawPublished != "" {
		extra["rawPublished"] = art.RawPublished
	}

	return &storage.Article{
		ID:          processor.HashURL(canonical),
		URL:         canonical,
		Source:      art.Source,
		Title:       art.Title,
		Body:        art.Body,
		Language:    language.Detect(art.Title + " " + art.Body),
		Fingerprint: fingerprint,
		PublishedAt: art.PublishedAt,
		FetchedAt:   art.FetchedAt,
		ExtraData:   extra,
	}
}
