package collector

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/gocolly/colly/v2"
)

var (
	badExtRe   = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif|svg|pdf|mp4|mp3|zip|rss|ico)$`)
	datePathRe = regexp.MustCompile(`/\d{4}/\d{2}/\d{2}/`)

	badSubstrings = []string{"mailto:", "tel:", "#", "signup", "login", "terms", "privacy", "javascript:"}

	// 栏目页、标签页等聚合页，不是文章本身
	sectionHints = []string{"/section/", "/topic/", "/tag/", "/tags/", "/category/", "/categories/", "/topics/", "/collections/", "/series/"}

	positiveSigns = []string{"/news/", "/article/", "/story/", "/world/", "/politics/", "/business/", "/202"}
)

// isProbableArticle 根据 URL 形态与锚文本判断链接是否指向一篇文章
func isProbableArticle(href, anchorText string) bool {
	if href == "" {
		return false
	}
	hrefLower := strings.ToLower(href)
	if badExtRe.MatchString(hrefLower) {
		return false
	}
	for _, b := range badSubstrings {
		if strings.Contains(hrefLower, b) {
			return false
		}
	}

	parsed, err := url.Parse(hrefLower)
	if err != nil {
		return false
	}
	path := parsed.Path
	for _, seg := range sectionHints {
		if strings.Contains(path, seg) {
			return false
		}
	}
	// 很浅的目录式路径基本都是栏目首页
	if strings.HasSuffix(path, "/") && strings.Count(path, "/") <= 3 {
		return false
	}

	if datePathRe.MatchString(path) {
		return true
	}
	for _, k := range positiveSigns {
		if strings.Contains(hrefLower, k) {
			return true
		}
	}
	// 长的连字符 slug 是文章页最常见的形态
	if strings.Count(path, "-") >= 2 && len(path) > 25 {
		return true
	}
	// 锚文本像一个标题
	if len(strings.Fields(anchorText)) >= 4 {
		return true
	}
	return false
}

// CollectLinks 抓取站点首页并收集候选文章链接，保持页面出现顺序且去重
func (c *Collector) CollectLinks(ctx context.Context, site SiteConfig, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base, err := url.Parse(site.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", site.BaseURL, err)
	}

	// Host 与 Hostname 都加入白名单，带端口的内网/测试地址也能匹配
	col := colly.NewCollector(
		colly.AllowedDomains(base.Hostname(), base.Host),
		colly.UserAgent(pickUserAgent()),
	)
	col.SetRequestTimeout(c.timeout)

	seen := make(map[string]struct{})
	links := make([]string, 0, limit)
	add := func(full, text string) {
		if len(links) >= limit || full == "" {
			return
		}
		if _, ok := seen[full]; ok {
			return
		}
		if !isProbableArticle(full, text) {
			return
		}
		seen[full] = struct{}{}
		links = append(links, full)
	}

	// 头条通常挂在 h1/h2 下，优先收集；回调按注册顺序依次跑完整个文档
	col.OnHTML("h1 a[href], h2 a[href]", func(e *colly.HTMLElement) {
		add(e.Request.AbsoluteURL(e.Attr("href")), strings.TrimSpace(e.Text))
	})
	col.OnHTML("a[href]", func(e *colly.HTMLElement) {
		add(e.Request.AbsoluteURL(e.Attr("href")), strings.TrimSpace(e.Text))
	})

	if err := col.Visit(site.BaseURL); err != nil {
		return nil, fmt.Errorf("collect links %s: %w", site.Name, err)
	}
	col.Wait()

	return links, nil
}
