package collector

import (
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// 单个页面响应体上限，新闻正文页不会超过这个量级
	maxPageBytes = 2 << 20 // 2MB

	// 失败后的重试次数与基础等待，等待里加一点抖动避免固定节奏请求
	maxFetchRetries = 2
	retryBaseDelay  = 500 * time.Millisecond
)

// 轮换使用的 User-Agent 池，部分站点会直接拒绝默认的 Go UA
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0.3 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/88.0.4324.96 Safari/537.36",
}

func pickUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}

// SiteConfig 描述一个抓取目标站点，运行期间只读
type SiteConfig struct {
	Name        string // 规范化域名，例如 independent.co.uk
	BaseURL     string
	MaxArticles int // 单轮该站最多入库的文章数，0 表示使用全局默认
}

// Page 一次抓取得到的原始页面
type Page struct {
	Site      string
	URL       string
	HTML      []byte
	FetchedAt time.Time
}

// Collector 负责站点首页的链接收集与文章页抓取
type Collector struct {
	timeout    time.Duration
	browserURL string
	client     *http.Client
}

func New(timeout time.Duration, browserURL string) *Collector {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Collector{
		timeout:    timeout,
		browserURL: strings.TrimRight(browserURL, "/"),
		client:     &http.Client{Timeout: timeout},
	}
}

// NormalizeDomain 取 URL 的域名并去掉 www. 前缀，作为站点名与文章 source 字段
func NormalizeDomain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// SitesFromList 解析配置里的站点条目；"https://example.com=5" 末尾的数字为该站单轮上限
func SitesFromList(entries []string) []SiteConfig {
	sites := make([]SiteConfig, 0, len(entries))
	for _, entry := range entries {
		base := entry
		max := 0
		if idx := strings.LastIndex(entry, "="); idx > 0 {
			if n, err := strconv.Atoi(entry[idx+1:]); err == nil && n > 0 {
				base = entry[:idx]
				max = n
			}
		}
		sites = append(sites, SiteConfig{
			Name:        NormalizeDomain(base),
			BaseURL:     base,
			MaxArticles: max,
		})
	}
	return sites
}
