// Package processor 负责文章的规范化与去重判定。
// URL 是主去重键，内容指纹是次级启发式；两者冲突时以 URL 为准。
package processor

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Decision 去重判定结果
type Decision int

const (
	New Decision = iota
	Duplicate
)

func (d Decision) String() string {
	if d == Duplicate {
		return "duplicate"
	}
	return "new"
}

// 常见的跟踪参数，规范化时整个丢弃；utm_ 前缀另行处理
var trackingParams = map[string]struct{}{
	"fbclid": {}, "gclid": {}, "msclkid": {}, "mc_cid": {}, "mc_eid": {},
	"ref": {}, "source": {}, "cmpid": {}, "ito": {}, "ocid": {}, "ns_campaign": {},
}

func isTrackingParam(key string) bool {
	if strings.HasPrefix(key, "utm_") {
		return true
	}
	_, ok := trackingParams[strings.ToLower(key)]
	return ok
}

// CanonicalURL 把文章 URL 规范化成去重键：小写 scheme/host、去 fragment、
// 丢弃跟踪参数、剩余参数按 key 排序、去掉末尾斜杠。
func CanonicalURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("canonicalize %q: %w", raw, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("canonicalize %q: unsupported scheme", raw)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("canonicalize %q: missing host", raw)
	}

	parsed.Scheme = scheme
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.Path = strings.TrimRight(parsed.Path, "/")

	if parsed.RawQuery != "" {
		params := parsed.Query()
		keys := make([]string, 0, len(params))
		for k := range params {
			if isTrackingParam(k) {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf strings.Builder
		for i, k := range keys {
			vals := params[k]
			sort.Strings(vals)
			for j, v := range vals {
				if i > 0 || j > 0 {
					buf.WriteByte('&')
				}
				buf.WriteString(url.QueryEscape(k))
				buf.WriteByte('=')
				buf.WriteString(url.QueryEscape(v))
			}
		}
		parsed.RawQuery = buf.String()
	}

	return parsed.String(), nil
}

// Fingerprint 内容指纹：标题+正文统一小写、压缩空白后哈希。
// 用于识别换了 URL 的转载/镜像文章。
func Fingerprint(title, body string) string {
	norm := normalizeText(title) + "\n" + normalizeText(body)
	return sha1Hex(norm)
}

// HashURL 规范化 URL 的哈希，作为文章主键 ID
func HashURL(canonical string) string {
	return sha1Hex(canonical)
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func sha1Hex(s string) string {
	h := sha1.New()
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}

// StoreIndex 去重需要的存量查询能力，由 storage.Store 实现
type StoreIndex interface {
	Exists(ctx context.Context, url string) (bool, error)
	ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error)
}

// Dedup 单轮采集的去重状态：本轮已接受的 URL/指纹集合 + 存量库。
// Check 不做内部加锁，调用方必须保证串行调用（见 scheduler）。
type Dedup struct {
	store   StoreIndex
	seenURL map[string]struct{}
	seenFP  map[string]struct{}
}

func NewDedup(store StoreIndex) *Dedup {
	return &Dedup{
		store:   store,
		seenURL: make(map[string]struct{}),
		seenFP:  make(map[string]struct{}),
	}
}

// Check 判定候选文章是新文章还是重复。URL 命中优先于指纹命中。
// 判定为 New 的文章立即登记进本轮集合，同一轮里的后续候选能看到它。
func (d *Dedup) Check(ctx context.Context, canonicalURL, fingerprint string) (Decision, error) {
	if _, ok := d.seenURL[canonicalURL]; ok {
		return Duplicate, nil
	}
	exists, err := d.store.Exists(ctx, canonicalURL)
	if err != nil {
		return Duplicate, err
	}
	if exists {
		return Duplicate, nil
	}

	if _, ok := d.seenFP[fingerprint]; ok {
		return Duplicate, nil
	}
	exists, err = d.store.ExistsByFingerprint(ctx, fingerprint)
	if err != nil {
		return Duplicate, err
	}
	if exists {
		return Duplicate, nil
	}

	d.seenURL[canonicalURL] = struct{}{}
	d.seenFP[fingerprint] = struct{}{}
	return New, nil
}
