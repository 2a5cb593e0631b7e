package extractor

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
)

var metaDateSelectors = []string{
	`meta[property="article:published_time"]`,
	`meta[name="pubdate"]`,
	`meta[name="publish-date"]`,
	`meta[name="publication_date"]`,
	`meta[itemprop="datePublished"]`,
	`meta[property="og:updated_time"]`,
	`meta[name="date"]`,
}

var dateSelectors = []string{
	"span.pubdate", ".published-date", ".article-date", ".date", ".byline time", ".meta__date",
}

var (
	isoTimestampRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`)
	urlDateRe      = regexp.MustCompile(`/(\d{4})/(\d{2})/(\d{2})/`)
)

// parsePublished 尽力解析发布时间：meta 标签、<time>、常见日期选择器、
// 页面文本里的 ISO 时间戳，最后是 URL 路径里的日期。解析不出来返回 nil，不算失败。
func parsePublished(doc *goquery.Document, pageURL string) (*time.Time, string) {
	var candidates []string

	for _, sel := range metaDateSelectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			candidates = append(candidates, strings.TrimSpace(v))
		}
	}

	doc.Find("time").Each(func(_ int, t *goquery.Selection) {
		if dt, ok := t.Attr("datetime"); ok && strings.TrimSpace(dt) != "" {
			candidates = append(candidates, strings.TrimSpace(dt))
			return
		}
		if txt := cleanText(t.Text()); txt != "" {
			candidates = append(candidates, txt)
		}
	})

	for _, sel := range dateSelectors {
		el := doc.Find(sel).First()
		if el.Length() == 0 {
			continue
		}
		if dt, ok := el.Attr("datetime"); ok && strings.TrimSpace(dt) != "" {
			candidates = append(candidates, strings.TrimSpace(dt))
		} else if txt := cleanText(el.Text()); txt != "" {
			candidates = append(candidates, txt)
		}
	}

	if m := isoTimestampRe.FindString(doc.Text()); m != "" {
		candidates = append(candidates, m)
	}

	for _, cand := range candidates {
		if t, err := dateparse.ParseAny(cand); err == nil {
			utc := t.UTC()
			return &utc, cand
		}
	}

	// URL 形如 /2024/05/06/slug/ 时用路径里的日期
	if u, err := url.Parse(pageURL); err == nil {
		if m := urlDateRe.FindStringSubmatch(u.Path); m != nil {
			if t, err := time.Parse("2006-01-02", m[1]+"-"+m[2]+"-"+m[3]); err == nil {
				utc := t.UTC()
				return &utc, m[0]
			}
		}
	}

	return nil, ""
}
