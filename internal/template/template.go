// Package template 管理文档分析使用的 JSON 模板。
//
// 模板是字段名到中文说明的映射，数组字段只给出一个示例元素。
// 原始文本（含注释）直接写入系统提示词，解析后的树用于生成空白实例。
package template

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultName 未知模板名回退到的空模板
const DefaultName = "none"

// Template 一个命名模板，创建后只读
type Template struct {
	Name string
	Raw  string
	tree any
}

// Parse 解析模板文本，忽略 // 注释
func Parse(name, raw string) (*Template, error) {
	var tree any
	if err := json.Unmarshal([]byte(stripComments(raw)), &tree); err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	if _, ok := tree.(map[string]any); !ok {
		return nil, fmt.Errorf("template %s must be a JSON object", name)
	}
	return &Template{Name: name, Raw: raw, tree: tree}, nil
}

// Blank 返回一个新的空白实例，调用方可以任意修改
func (t *Template) Blank() any {
	return Blank(t.tree)
}

// Blank 按模板形状生成空值：字符串叶子置空，数组只保留一个空白示例元素
func Blank(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = Blank(child)
		}
		return out
	case []any:
		if len(val) == 0 {
			return []any{}
		}
		return []any{Blank(val[0])}
	default:
		return ""
	}
}

// stripComments 删除字符串字面量之外的 // 行注释
func stripComments(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	inString, escaped := false, false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inString {
			b.WriteByte(c)
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
		if c == '/' && i+1 < len(raw) && raw[i+1] == '/' {
			for i < len(raw) && raw[i] != '\n' {
				i++
			}
			if i < len(raw) {
				b.WriteByte('\n')
			}
			continue
		}
		if c == '"' {
			inString = true
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Registry 模板注册表，构建完成后并发只读
type Registry struct {
	templates map[string]*Template
}

// NewRegistry 加载全部内置模板
func NewRegistry() (*Registry, error) {
	r := &Registry{templates: make(map[string]*Template, len(builtin))}
	for name, raw := range builtin {
		if err := r.Register(name, raw); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register 注册或覆盖一个模板
func (r *Registry) Register(name, raw string) error {
	t, err := Parse(name, raw)
	if err != nil {
		return err
	}
	r.templates[name] = t
	return nil
}

// LoadDir 从目录加载 *.json 模板，文件名即模板名
func (r *Registry) LoadDir(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return fmt.Errorf("failed to list templates in %s: %w", dir, err)
	}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read template %s: %w", file, err)
		}
		name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		if err := r.Register(name, string(data)); err != nil {
			return err
		}
	}
	return nil
}

// Lookup 按名称查找模板，找不到时返回空模板
func (r *Registry) Lookup(name string) *Template {
	if t, ok := r.templates[name]; ok {
		return t
	}
	return r.templates[DefaultName]
}

// Has 是否注册了该名称
func (r *Registry) Has(name string) bool {
	_, ok := r.templates[name]
	return ok
}

// Names 按字母序返回所有模板名
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
