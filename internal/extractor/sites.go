package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// siteExtractor 按站点家族定制的抽取器；domain 用子串匹配，兼容地区镜像域名
type siteExtractor struct {
	domain  string
	name    string
	extract func(doc *goquery.Document) (title, body string)
}

var siteExtractors = []siteExtractor{
	{domain: "bbc.co", name: "bbc", extract: extractBBC},
	{domain: "theguardian.com", name: "guardian", extract: extractGuardian},
	{domain: "aljazeera", name: "aljazeera", extract: extractAlJazeera},
}

func siteExtractorFor(site string) *siteExtractor {
	for i := range siteExtractors {
		if strings.Contains(site, siteExtractors[i].domain) {
			return &siteExtractors[i]
		}
	}
	return nil
}

func selectParagraphs(doc *goquery.Document, selector string, minLen int) string {
	var paras []string
	seen := make(map[string]struct{})
	doc.Find(selector).Each(func(_ int, p *goquery.Selection) {
		t := cleanText(p.Text())
		if len(t) <= minLen {
			return
		}
		// 组合选择器可能对同一段命中多次
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		paras = append(paras, t)
	})
	return strings.Join(paras, " ")
}

func extractBBC(doc *goquery.Document) (string, string) {
	body := selectParagraphs(doc, "article p, .ssrcss-uf6wea-RichTextComponentWrapper p, .story-body__inner p", minParaLen)
	return extractTitle(doc), body
}

func extractGuardian(doc *goquery.Document) (string, string) {
	body := selectParagraphs(doc, "div[itemprop='articleBody'] p, article p, .content__article-body p", 30)
	return extractTitle(doc), body
}

func extractAlJazeera(doc *goquery.Document) (string, string) {
	body := selectParagraphs(doc, "div.wysiwyg p, article p", 30)
	return extractTitle(doc), body
}
