package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/LJTian/InsightBot/internal/collector"
)

var (
	// ErrMalformedMarkup 页面结构无法解析
	ErrMalformedMarkup = errors.New("malformed markup")
	// ErrEmptyContent 解析成功但抽不出有效的标题/正文
	ErrEmptyContent = errors.New("empty content")
)

const (
	minContainerScore = 180
	minParaLen        = 40
	longParaLen       = 80
	maxParas          = 120
	minBodyLen        = 150
	minTitleWords     = 3
)

// 导流、广告类段落，混在正文容器里但不属于文章
var badPhrases = []string{
	"related articles", "you may also like", "more stories",
	"follow us", "share this", "advertisement", "sponsored content",
	"recommended", "read more", "watch:", "photo:", "video:",
}

var titleSuffixRe = regexp.MustCompile(`\s+[–\-—|•·]\s+.*$`)

// Article 抽取得到的文章草稿；Language 由上层分类器填充
type Article struct {
	URL          string
	Source       string
	Title        string
	Body         string
	PublishedAt  *time.Time
	RawPublished string
	FetchedAt    time.Time
	Extractor    string
}

// Extract 把一个原始页面解析成文章草稿。
// 站点模板命中时优先用站点抽取器，未命中或抽不到正文时退回通用启发式。
func Extract(page *collector.Page) (*Article, error) {
	if len(page.HTML) == 0 {
		return nil, ErrEmptyContent
	}
	if !utf8.Valid(page.HTML) {
		return nil, fmt.Errorf("%w: invalid encoding", ErrMalformedMarkup)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.HTML))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMarkup, err)
	}

	name := "generic"
	var title, body string
	if se := siteExtractorFor(page.Site); se != nil {
		name = se.name
		title, body = se.extract(doc)
	}
	if body == "" {
		gTitle, gBody := extractGeneric(doc)
		if title == "" {
			title = gTitle
		}
		body = gBody
		name = "generic"
	}

	title = cleanTitle(title)
	body = strings.TrimSpace(body)

	if title == "" && body == "" {
		return nil, ErrEmptyContent
	}
	if len(strings.Fields(title)) < minTitleWords {
		return nil, fmt.Errorf("%w: title too short", ErrEmptyContent)
	}
	if len(body) < minBodyLen {
		return nil, fmt.Errorf("%w: body too short", ErrEmptyContent)
	}

	published, raw := parsePublished(doc, page.URL)

	return &Article{
		URL:          page.URL,
		Source:       page.Site,
		Title:        title,
		Body:         body,
		PublishedAt:  published,
		RawPublished: raw,
		FetchedAt:    page.FetchedAt,
		Extractor:    name,
	}, nil
}

// extractGeneric 在全文里找“最像正文”的容器，按段落密度打分
func extractGeneric(doc *goquery.Document) (string, string) {
	title := extractTitle(doc)

	var paras []string
	if container := findBestContainer(doc); container != nil {
		paras = paragraphsFrom(container)
	}

	// 兜底：全文里找足够长的 <p>
	if len(paras) == 0 {
		doc.Find("p").EachWithBreak(func(_ int, p *goquery.Selection) bool {
			if t := cleanText(p.Text()); len(t) > longParaLen {
				paras = append(paras, t)
			}
			return len(paras) < maxParas
		})
	}

	body := strings.Join(paras, " ")
	if len(paras) < 2 || len(body) < minBodyLen {
		return title, ""
	}
	return title, body
}

// scoreContainer 正文容器打分：段落总长 ×(1+ln(1+段落数)) − 30×链接数。
// 链接扣分用来压掉导航区与推荐位。
func scoreContainer(el *goquery.Selection) float64 {
	ps := el.Find("p")
	if ps.Length() == 0 {
		return 0
	}
	var total int
	ps.Each(func(_ int, p *goquery.Selection) {
		total += len(cleanText(p.Text()))
	})
	numA := el.Find("a").Length()
	return float64(total)*(1+math.Log1p(float64(ps.Length()))) - float64(numA*30)
}

func findBestContainer(doc *goquery.Document) *goquery.Selection {
	var best *goquery.Selection
	var bestScore float64
	doc.Find("article, main, section, div").Each(func(_ int, el *goquery.Selection) {
		if s := scoreContainer(el); s > bestScore {
			bestScore = s
			best = el
		}
	})
	if bestScore < minContainerScore {
		return nil
	}
	return best
}

func paragraphsFrom(el *goquery.Selection) []string {
	var paras []string
	el.Find("p").EachWithBreak(func(_ int, p *goquery.Selection) bool {
		text := cleanText(p.Text())
		if len(text) < minParaLen {
			return true
		}
		if hasBadPhrase(text) {
			return true
		}
		// 形如 "In pictures:" 的小节引导行
		if len(strings.Fields(text)) <= 6 && strings.HasSuffix(text, ":") {
			return true
		}
		paras = append(paras, text)
		return len(paras) < maxParas
	})
	return paras
}

func hasBadPhrase(text string) bool {
	low := strings.ToLower(text)
	for _, bad := range badPhrases {
		if strings.Contains(low, bad) {
			return true
		}
	}
	return false
}

// extractTitle 标题来源优先级：h1 > og:title > twitter:title > <title>
func extractTitle(doc *goquery.Document) string {
	if h1 := cleanText(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	for _, sel := range []string{`meta[property="og:title"]`, `meta[name="twitter:title"]`} {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return cleanText(v)
		}
	}
	return cleanText(doc.Find("title").First().Text())
}

// cleanTitle 压缩空白并去掉 " – 站点名" 之类的尾巴
func cleanTitle(s string) string {
	s = cleanText(s)
	return strings.TrimSpace(titleSuffixRe.ReplaceAllString(s, ""))
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
