// Package reconcile 把流式输出中不完整的 JSON 文本合并进模板实例。
//
// 文本能完整解析为 JSON 对象时直接整体替换；否则用正则提取 "key": "value"
// 键值对，用扫描器找出数组及其中的对象（包括仍未闭合的最后一个数组和最后一个对象），
// 再按模板结构回填。整个过程不会返回错误，也不会修改调用方传入的实例。
package reconcile

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/feichai0017/document-extractor/internal/template"
)

var (
	pairPattern       = regexp.MustCompile(`"((?:[^"\\]|\\.)+)"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	arrayStartPattern = regexp.MustCompile(`"((?:[^"\\]|\\.)+)"\s*:\s*\[`)
)

// Reconcile 用累积文本更新实例，返回新的实例
func Reconcile(instance any, text string) any {
	if obj, ok := parseObject(text); ok {
		return obj
	}

	ex := extract(text)
	out := clone(instance)
	merge(out, ex)
	return out
}

// parseObject 严格解析，只接受 JSON 对象
func parseObject(text string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || trimmed[0] != '{' {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return nil, false
	}
	return obj, obj != nil
}

type extraction struct {
	pairs  map[string]string
	arrays map[string][]map[string]string
}

func extract(text string) *extraction {
	ex := &extraction{
		pairs:  extractPairs(text),
		arrays: make(map[string][]map[string]string),
	}

	for _, loc := range arrayStartPattern.FindAllStringSubmatchIndex(text, -1) {
		key := unquote(text[loc[2]:loc[3]])
		open := loc[1] - 1
		closeIdx := matchingClose(text, open)

		if closeIdx >= 0 {
			// 完整数组：只取其中完整的对象
			objs, _ := scanObjects(text[open+1 : closeIdx])
			if len(objs) > 0 {
				ex.arrays[key] = objs
			}
			continue
		}

		// 未闭合的数组：一直取到文本末尾，并尝试恢复最后一个未闭合对象
		if _, done := ex.arrays[key]; done {
			continue
		}
		objs, trailing := scanObjects(text[open+1:])
		if trailing != "" {
			if pairs := extractPairs(trailing); len(pairs) > 0 {
				objs = append(objs, pairs)
			}
		}
		if len(objs) > 0 {
			ex.arrays[key] = objs
		}
	}
	return ex
}

func extractPairs(text string) map[string]string {
	pairs := make(map[string]string)
	for _, m := range pairPattern.FindAllStringSubmatch(text, -1) {
		pairs[unquote(m[1])] = unquote(m[2])
	}
	return pairs
}

// scanObjects 从数组内容中依次读取顶层对象。
// 遇到没有闭合的对象时返回其 { 之后的文本；遇到既不是 , 也不是 ] 的分隔符时停止。
func scanObjects(content string) (objs []map[string]string, trailing string) {
	i := skipSpace(content, 0)
	for i < len(content) && content[i] == '{' {
		end := matchingClose(content, i)
		if end < 0 {
			return objs, content[i+1:]
		}
		if pairs := extractPairs(content[i+1 : end]); len(pairs) > 0 {
			objs = append(objs, pairs)
		}

		i = skipSpace(content, end+1)
		if i >= len(content) || content[i] != ',' {
			break
		}
		i = skipSpace(content, i+1)
	}
	return objs, ""
}

// matchingClose 返回与 text[open] 处的 [ 或 { 匹配的位置，跳过字符串字面量；未闭合返回 -1
func matchingClose(text string, open int) int {
	depth := 0
	inString, escaped := false, false
	for i := open; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func skipSpace(s string, i int) int {
	for i < len(s) {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return i
		}
	}
	return i
}

// unquote 处理 JSON 转义，无法解码时保留原文
func unquote(raw string) string {
	if !strings.Contains(raw, `\`) {
		return raw
	}
	var s string
	if err := json.Unmarshal([]byte(`"`+raw+`"`), &s); err != nil {
		return raw
	}
	return s
}

func merge(node any, ex *extraction) {
	obj, ok := node.(map[string]any)
	if !ok {
		return
	}

	for key, val := range obj {
		switch v := val.(type) {
		case map[string]any:
			merge(v, ex)
		case []any:
			if items, ok := ex.arrays[key]; ok && len(v) > 0 {
				obj[key] = rebuild(v[0], items)
				continue
			}
			for _, item := range v {
				merge(item, ex)
			}
		default:
			if s, ok := ex.pairs[key]; ok {
				obj[key] = s
			}
		}
	}
}

// rebuild 每个提取到的对象对应一个空白示例元素的副本，只覆盖出现过的字段
func rebuild(example any, items []map[string]string) []any {
	proto := template.Blank(example)
	out := make([]any, 0, len(items))
	for _, data := range items {
		item := clone(proto)
		if fields, ok := item.(map[string]any); ok {
			for field := range fields {
				if s, ok := data[field]; ok {
					fields[field] = s
				}
			}
		}
		out = append(out, item)
	}
	return out
}

func clone(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = clone(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = clone(child)
		}
		return out
	default:
		return val
	}
}
