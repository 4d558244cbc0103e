package query

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"zenoo/domain"
	"zenoo/transport"
)

// CompiledQuery 编译后的查询，缓存键的原料
//
// 相同的逻辑查询必须得到逐字节相同的 Canonical()：
// 条件顺序保留，投影字段排序去重，Limit/Offset 为 0 表示不限制。
type CompiledQuery struct {
	Model  string
	Domain domain.Domain
	Order  string
	Limit  int
	Offset int
	Fields []string
}

// canonicalQuery 固定字段顺序的序列化形式
type canonicalQuery struct {
	Model  string          `json:"model"`
	Domain json.RawMessage `json:"domain"`
	Order  string          `json:"order"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
	Fields []string        `json:"fields"`
}

// Canonical 返回规范化 JSON
func (c *CompiledQuery) Canonical() ([]byte, error) {
	d, err := c.Domain.JSON()
	if err != nil {
		return nil, err
	}
	fields := c.Fields
	if fields == nil {
		fields = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(canonicalQuery{
		Model:  c.Model,
		Domain: d,
		Order:  c.Order,
		Limit:  c.Limit,
		Offset: c.Offset,
		Fields: fields,
	}); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Fingerprint 规范化 JSON 的 sha256 摘要（十六进制）
func (c *CompiledQuery) Fingerprint() (string, error) {
	data, err := c.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Key 返回某个终结方法的缓存键
//
// 同一查询的 search_read 与 search_count 结果不同，键必须区分方法。
func (c *CompiledQuery) Key(method string) (string, error) {
	fp, err := c.Fingerprint()
	if err != nil {
		return "", err
	}
	return c.Model + ":" + method + ":" + fp, nil
}

// Request 构造远端调用
func (c *CompiledQuery) Request(method string) transport.Request {
	d := c.Domain
	if d == nil {
		d = domain.Domain{}
	}
	req := transport.Request{
		Model:  c.Model,
		Method: method,
		Args:   []any{[]any(d)},
		Kwargs: map[string]any{},
	}

	switch method {
	case transport.MethodSearchRead:
		if len(c.Fields) > 0 {
			req.Kwargs["fields"] = append([]string(nil), c.Fields...)
		}
		c.paging(req.Kwargs)
	case transport.MethodSearch:
		c.paging(req.Kwargs)
	}
	if len(req.Kwargs) == 0 {
		req.Kwargs = nil
	}
	return req
}

func (c *CompiledQuery) paging(kwargs map[string]any) {
	if c.Order != "" {
		kwargs["order"] = c.Order
	}
	if c.Limit > 0 {
		kwargs["limit"] = c.Limit
	}
	if c.Offset > 0 {
		kwargs["offset"] = c.Offset
	}
}

// normalizeFields 排序去重
func normalizeFields(fields []string) []string {
	if len(fields) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}
