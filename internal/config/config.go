package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// 默认抓取站点列表，可通过 SITES 环境变量覆盖
var defaultSites = []string{
	"https://www.independent.co.uk",
	"https://www.chinadaily.com.cn",
	"https://www.japantimes.co.jp",
	"https://www.france24.com",
	"https://www.dw.com",
	"https://www.haaretz.com",
	"https://www.scmp.com",
	"https://www.lemonde.fr",
	"https://www.latimes.com",
	"https://www.timesofindia.com",
}

type Config struct {
	AppPort string

	PostgresDSN string
	RedisAddr   string

	// CronSpec 定时采集的 cron 表达式，默认每天 08:00 执行一轮
	CronSpec string

	// Sites 站点首页 URL 列表；条目可写成 "https://example.com=5" 指定单站上限
	Sites []string

	// PerSiteLimit 每轮每个站点最多入库的文章数
	PerSiteLimit int

	// FetchTimeout 单次页面请求的超时时间
	FetchTimeout time.Duration

	// BrowserScraperURL 可选的 headless 渲染服务地址，直接抓取失败时兜底
	BrowserScraperURL string

	BasicAuthUser string
	BasicAuthPass string
}

func Load() *Config {
	cfg := &Config{
		AppPort:           getEnv("APP_PORT", "9000"),
		PostgresDSN:       getEnv("POSTGRES_DSN", "host=localhost user=insightbot password=insightbot dbname=insightbot port=5432 sslmode=disable TimeZone=UTC"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6380"),
		CronSpec:          getEnv("CRON_SPEC", "0 8 * * *"),
		Sites:             splitList(getEnv("SITES", "")),
		PerSiteLimit:      getEnvInt("PER_SITE_LIMIT", 3),
		FetchTimeout:      getEnvDuration("FETCH_TIMEOUT", 10*time.Second),
		BrowserScraperURL: getEnv("BROWSER_SCRAPER_URL", ""),
		BasicAuthUser:     getEnv("APP_BASIC_USER", ""),
		BasicAuthPass:     getEnv("APP_BASIC_PASS", ""),
	}
	if len(cfg.Sites) == 0 {
		cfg.Sites = defaultSites
	}

	log.Printf("config loaded: port=%s cron=%s sites=%d per_site=%d", cfg.AppPort, cfg.CronSpec, len(cfg.Sites), cfg.PerSiteLimit)
	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		log.Printf("warn: invalid %s=%q, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil || d <= 0 {
		log.Printf("warn: invalid %s=%q, using default %s", key, v, def)
		return def
	}
	return d
}

// splitList 按逗号拆分并去掉空白项
func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
