package backend

import (
	"encoding/json"
	"sort"
	"strings"
)

// Document 一条记录的快照
type Document struct {
	Collection string
	Key        string
	Seq        int64 // 创建顺序，List 按此排序
	Fields     map[string]json.RawMessage
}

// Clone 深拷贝字段表
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{Collection: d.Collection, Key: d.Key, Seq: d.Seq, Fields: make(map[string]json.RawMessage, len(d.Fields))}
	for k, v := range d.Fields {
		out.Fields[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Has 判断字段是否存在
func (d *Document) Has(field string) bool {
	_, ok := d.Fields[field]
	return ok
}

// Int 读取整数字段，缺省或非整数返回 0
func (d *Document) Int(field string) int64 {
	n, _ := DecodeInt(d.Fields[field])
	return n
}

// String 读取字符串字段
func (d *Document) String(field string) string {
	var s string
	if raw, ok := d.Fields[field]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

// Strings 读取字符串数组字段
func (d *Document) Strings(field string) []string {
	var out []string
	if raw, ok := d.Fields[field]; ok {
		_ = json.Unmarshal(raw, &out)
	}
	return out
}

// Decode 将记录解码到结构体，"a.b" 形式的字段会展开为嵌套对象
func (d *Document) Decode(v any) error {
	data, err := json.Marshal(expand(d.Fields))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Merge 将已编码的 patch 合并到字段表
// 写入 "a" 会覆盖已有的 "a.*" 子字段，写入 "a.b" 不影响其他子字段
func Merge(fields map[string]json.RawMessage, patch map[string]json.RawMessage) {
	for name := range patch {
		prefix := name + "."
		for existing := range fields {
			if strings.HasPrefix(existing, prefix) {
				delete(fields, existing)
			}
		}
	}
	for name, raw := range patch {
		fields[name] = raw
	}
}

func expand(fields map[string]json.RawMessage) map[string]any {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	// 父字段排在子字段之前，子字段覆盖父字段
	sort.Strings(names)

	root := make(map[string]any, len(fields))
	for _, name := range names {
		parts := strings.Split(name, ".")
		node := root
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[p] = child
			}
			node = child
		}
		leaf := parts[len(parts)-1]
		if _, nested := node[leaf].(map[string]any); nested {
			continue
		}
		node[leaf] = fields[name]
	}
	return root
}
