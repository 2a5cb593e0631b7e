package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"time"
)

// FetchPage 抓取单个文章页，带重试；直接请求全部失败且配置了渲染服务时走兜底
func (c *Collector) FetchPage(ctx context.Context, site SiteConfig, pageURL string) (*Page, error) {
	var lastErr error
	for attempt := 0; attempt <= maxFetchRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryBaseDelay + time.Duration(rand.Intn(500))*time.Millisecond):
			}
		}

		html, err := c.fetchOnce(ctx, pageURL)
		if err != nil {
			lastErr = err
			continue
		}
		return &Page{
			Site:      site.Name,
			URL:       pageURL,
			HTML:      html,
			FetchedAt: time.Now().UTC(),
		}, nil
	}

	if c.browserURL != "" {
		page, err := c.fetchViaBrowser(ctx, site, pageURL)
		if err == nil {
			return page, nil
		}
		log.Printf("browser fallback for %s failed: %v", pageURL, err)
	}

	return nil, fmt.Errorf("fetch %s: %w", pageURL, lastErr)
}

func (c *Collector) fetchOnce(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", pickUserAgent())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
}

// browser-scraper 服务的请求/响应结构，见 cmd/browser-scraper
type renderRequest struct {
	URL string `json:"url"`
}

type renderResponse struct {
	OK    bool   `json:"ok"`
	HTML  string `json:"html,omitempty"`
	Error string `json:"error,omitempty"`
}

func (c *Collector) fetchViaBrowser(ctx context.Context, site SiteConfig, pageURL string) (*Page, error) {
	body, err := json.Marshal(renderRequest{URL: pageURL})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.browserURL+"/render", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	// 渲染比直接抓取慢得多，用独立的宽松超时
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rendered renderResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPageBytes)).Decode(&rendered); err != nil {
		return nil, fmt.Errorf("decode render response: %w", err)
	}
	if !rendered.OK {
		return nil, fmt.Errorf("render failed: %s", rendered.Error)
	}

	return &Page{
		Site:      site.Name,
		URL:       pageURL,
		HTML:      []byte(rendered.HTML),
		FetchedAt: time.Now().UTC(),
	}, nil
}
