package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/LJTian/InsightBot/internal/collector"
	"github.com/LJTian/InsightBot/internal/config"
	"github.com/LJTian/InsightBot/internal/scheduler"
	"github.com/LJTian/InsightBot/internal/storage"
)

// 一个仅执行一轮采集的命令行入口：适合手动触发或 cron 外部调度
func main() {
	perSite := flag.Int("per-site", 0, "max articles per site for this run (0 = config default)")
	flag.Parse()

	cfg := config.Load()

	store, err := storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr)
	if err != nil {
		log.Fatalf("init store failed: %v", err)
	}

	coll := collector.New(cfg.FetchTimeout, cfg.BrowserScraperURL)
	sites := collector.SitesFromList(cfg.Sites)
	if len(sites) == 0 {
		log.Fatalf("no valid sites configured")
	}

	s, err := scheduler.New(cfg.CronSpec, coll, store, sites, cfg.PerSiteLimit)
	if err != nil {
		log.Fatalf("init scheduler failed: %v", err)
	}

	// 只执行一轮采集后退出，汇总以 JSON 打到标准输出
	summary, err := s.RunManual(context.Background(), *perSite)
	if err != nil {
		log.Fatalf("run collect cycle failed: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		log.Fatalf("encode summary failed: %v", err)
	}
}
