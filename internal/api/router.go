package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/LJTian/InsightBot/internal/scheduler"
	"github.com/LJTian/InsightBot/internal/storage"
)

// ArticleLister 查询侧依赖，由 storage.Store 实现
type ArticleLister interface {
	ListArticles(ctx context.Context, f storage.Filters) ([]storage.Article, error)
	ListLanguages(ctx context.Context) ([]string, error)
}

// RunTrigger 手动触发一轮采集，由 scheduler.Scheduler 实现
type RunTrigger interface {
	RunManual(ctx context.Context, perSiteLimit int) (*scheduler.RunSummary, error)
}

type Server struct {
	store   ArticleLister
	trigger RunTrigger
}

func NewServer(store ArticleLister, trigger RunTrigger) *Server {
	return &Server{store: store, trigger: trigger}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/articles", s.listArticles)
		v1.GET("/languages", s.listLanguages)
		v1.POST("/scrape", s.triggerScrape)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listArticles(c *gin.Context) {
	limitStr := c.DefaultQuery("limit", "20")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		limit = 20
	}

	f := storage.Filters{
		Language: c.Query("lang"),
		Source:   c.Query("source"),
		Date:     c.Query("date"),
		Limit:    limit,
	}

	items, err := s.store.ListArticles(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "internal server error",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    items,
	})
}

func (s *Server) listLanguages(c *gin.Context) {
	langs, err := s.store.ListLanguages(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "internal server error",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    langs,
	})
}

type scrapeRequest struct {
	PerSiteLimit int `json:"perSiteLimit"`
}

// triggerScrape 同步执行一轮采集并返回汇总；运行中重复触发返回 409
func (s *Server) triggerScrape(c *gin.Context) {
	var req scrapeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "bad_request",
				"message": "invalid request body",
			})
			return
		}
	}

	summary, err := s.trigger.RunManual(c.Request.Context(), req.PerSiteLimit)
	if err != nil {
		if errors.Is(err, scheduler.ErrCycleAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{
				"code":    "cycle_running",
				"message": "a collect cycle is already running",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "internal server error",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    summary,
	})
}
