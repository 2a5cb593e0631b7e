package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrStoreUnavailable 存储层不可用（连接断开等）。调用方据此中止当前批次，
// 下一轮调度会从头重试。
var ErrStoreUnavailable = errors.New("store unavailable")

// Article 持久化的文章记录。入库后不再变更，language 在入库前由分类器填好。
type Article struct {
	ID          string            `gorm:"primaryKey;size:40" json:"id"` // 规范化 URL 的 sha1
	URL         string            `gorm:"size:1024;uniqueIndex" json:"url"`
	Source      string            `gorm:"size:128;index" json:"source"`
	Title       string            `gorm:"size:512" json:"title"`
	Body        string            `gorm:"type:text" json:"body"`
	Language    string            `gorm:"size:20;index" json:"language"`
	Fingerprint string            `gorm:"size:40;index" json:"fingerprint"`
	PublishedAt *time.Time        `gorm:"index" json:"publishedAt"`
	FetchedAt   time.Time         `gorm:"index" json:"fetchedAt"`
	ExtraData   datatypes.JSONMap `gorm:"type:jsonb" json:"extraData"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Store struct {
	DB    *gorm.DB
	Redis *redis.Client
}

func NewStore(dsn, redisAddr string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&Article{}); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("warn: redis ping failed: %v", err)
	}

	return &Store{DB: db, Redis: rdb}, nil
}

// toValidUTF8 将字符串规范为合法 UTF-8，避免 PostgreSQL invalid byte sequence 错误
func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "�")
}

// truncateRunesDB 按 rune 数截断，确保不超过数据库字段长度
func truncateRunesDB(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	s = strings.TrimSpace(s)
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}

// Insert 插入一篇文章。URL 冲突时什么都不做并返回 false，
// 唯一性由数据库的 unique 索引保证，对并发插入同样成立。
func (s *Store) Insert(ctx context.Context, a *Article) (bool, error) {
	a.Title = truncateRunesDB(toValidUTF8(a.Title), 512)
	a.Body = toValidUTF8(a.Body)

	tx := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "url"}},
			DoNothing: true,
		}).
		Create(a)
	if tx.Error != nil {
		return false, storeErr("insert", tx.Error)
	}
	return tx.RowsAffected > 0, nil
}

// Exists 查询某个规范化 URL 是否已入库
func (s *Store) Exists(ctx context.Context, url string) (bool, error) {
	var n int64
	if err := s.DB.WithContext(ctx).Model(&Article{}).Where("url = ?", url).Count(&n).Error; err != nil {
		return false, storeErr("exists", err)
	}
	return n > 0, nil
}

// ExistsByFingerprint 查询内容指纹是否已入库
func (s *Store) ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	var n int64
	if err := s.DB.WithContext(ctx).Model(&Article{}).Where("fingerprint = ?", fingerprint).Count(&n).Error; err != nil {
		return false, storeErr("exists_by_fingerprint", err)
	}
	return n > 0, nil
}

// Filters 查询条件，供外部展示层使用
type Filters struct {
	Language string
	Source   string
	Date     string // YYYY-MM-DD，按抓取日期（UTC）筛选
	Limit    int
}

// ListArticles 按条件返回文章列表，Redis 做 5 分钟的读穿缓存。
// 不做按 key 通配删除，完全依赖短 TTL 自然过期。
func (s *Store) ListArticles(ctx context.Context, f Filters) ([]Article, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 20
	}

	cacheKey := fmt.Sprintf("articles:list:%s:%s:%s:%d", f.Language, f.Source, f.Date, f.Limit)
	if s.Redis != nil {
		if bs, err := s.Redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached []Article
			if err := json.Unmarshal(bs, &cached); err == nil {
				return cached, nil
			}
		}
	}

	db := s.DB.WithContext(ctx).Model(&Article{})
	if f.Language != "" {
		db = db.Where("language = ?", f.Language)
	}
	if f.Source != "" {
		db = db.Where("source = ?", f.Source)
	}
	if f.Date != "" {
		db = db.Where("to_char(fetched_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') = ?", f.Date)
	}

	var list []Article
	if err := db.Order("fetched_at DESC").Limit(f.Limit).Find(&list).Error; err != nil {
		return nil, storeErr("list", err)
	}

	const listCacheTTL = 5 * time.Minute
	if s.Redis != nil && len(list) > 0 {
		if bs, err := json.Marshal(list); err == nil {
			_ = s.Redis.Set(ctx, cacheKey, bs, listCacheTTL).Err()
		}
	}

	return list, nil
}

// ListLanguages 返回库里出现过的语言标签，供展示层做筛选项；结果缓存 5 分钟
func (s *Store) ListLanguages(ctx context.Context) ([]string, error) {
	const cacheKey = "articles:languages"
	if s.Redis != nil {
		if bs, err := s.Redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached []string
			if err := json.Unmarshal(bs, &cached); err == nil {
				return cached, nil
			}
		}
	}

	var langs []string
	err := s.DB.WithContext(ctx).Model(&Article{}).
		Distinct("language").
		Where("language <> ''").
		Order("language").
		Pluck("language", &langs).Error
	if err != nil {
		return nil, storeErr("list_languages", err)
	}

	if s.Redis != nil && len(langs) > 0 {
		if bs, err := json.Marshal(langs); err == nil {
			_ = s.Redis.Set(ctx, cacheKey, bs, 5*time.Minute).Err()
		}
	}
	return langs, nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
