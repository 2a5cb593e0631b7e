// Package language 给文章文本打语言标签。
// 基于 whatlanggo 的 trigram 模型，纯函数、无网络依赖，相同输入结果恒定。
package language

import (
	"strings"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
)

// Unknown 置信度不足时的标签；是合法的入库值，不是错误
const Unknown = "unknown"

// 文本太短时 trigram 统计不可靠，直接放弃
const minDetectRunes = 20

// Detect 返回文本的 ISO-639-1 语言码，识别不了返回 Unknown
func Detect(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minDetectRunes {
		return Unknown
	}

	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return Unknown
	}

	tag := info.Lang.Iso6391()
	if tag == "" {
		return Unknown
	}
	return tag
}
