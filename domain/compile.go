package domain

import (
	"bytes"
	"encoding/json"

	"zenoo/errors"
)

// Domain 编译后的远端 domain：元素为逻辑标记（string）或三元组（[]any）
type Domain []any

// JSON 返回不做 HTML 转义的紧凑 JSON（"&" 保持原样）
func (d Domain) JSON() ([]byte, error) {
	if d == nil {
		d = Domain{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode([]any(d)); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// String 返回 JSON 表示，便于日志与调试
func (d Domain) String() string {
	data, err := d.JSON()
	if err != nil {
		return "<invalid domain>"
	}
	return string(data)
}

// Compile 编译条件列表，条件之间隐式 AND
//
// 条件顺序保留：远端语法对逻辑标记是位置敏感的，排序会改变语义。
// 空列表编译为空 domain（匹配全部记录）。
func Compile(conds []Condition) (Domain, error) {
	nodes := make([]Node, len(conds))
	for i, c := range conds {
		nodes[i] = c
	}
	return CompileNodes(nodes)
}

// CompileNodes 编译节点列表，节点之间隐式 AND
func CompileNodes(nodes []Node) (Domain, error) {
	if len(nodes) == 0 {
		return Domain{}, nil
	}
	c := &compiler{}
	if len(nodes) == 1 {
		if err := c.emit(nodes[0]); err != nil {
			return nil, err
		}
		return c.out, nil
	}
	if err := c.emit(And(nodes...)); err != nil {
		return nil, err
	}
	return c.out, nil
}

// CompileNode 编译单个节点
func CompileNode(n Node) (Domain, error) {
	return CompileNodes([]Node{n})
}

type compiler struct {
	out Domain
}

func (c *compiler) emit(n Node) error {
	switch v := n.(type) {
	case Condition:
		t, err := v.tuple()
		if err != nil {
			return err
		}
		c.out = append(c.out, t)
		return nil

	case *Group:
		if v == nil {
			return errors.NewValidationError("分组不能为 nil")
		}
		switch v.kind {
		case groupNot:
			c.out = append(c.out, MarkerNot)
			return c.emit(v.children[0])
		case groupAnd, groupOr:
			if len(v.children) == 0 {
				return errors.NewValidationError("逻辑分组至少需要一个条件")
			}
			marker := MarkerAnd
			if v.kind == groupOr {
				marker = MarkerOr
			}
			for i := 0; i < len(v.children)-1; i++ {
				c.out = append(c.out, marker)
			}
			for _, child := range v.children {
				if err := c.emit(child); err != nil {
					return err
				}
			}
			return nil
		}
	case nil:
		return errors.NewValidationError("过滤节点不能为 nil")
	}
	return errors.NewValidationError("未知的过滤节点类型 %T", n)
}
