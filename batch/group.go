package batch

import (
	"encoding/json"
)

// WriteGroup 值相同的一组 write，可以合并为一次远端调用
type WriteGroup struct {
	IDs  []int64
	Vals map[string]any
}

// GroupWrites 按值合并 write 负载，保持首次出现的顺序
//
// 值无法序列化的负载单独成组。
func GroupWrites(payloads []any) []WriteGroup {
	groups := make([]WriteGroup, 0, len(payloads))
	index := make(map[string]int, len(payloads))
	for _, p := range payloads {
		item, ok := p.(WriteItem)
		if !ok {
			continue
		}
		// encoding/json 按键排序输出 map，相同的值得到相同的键
		key, err := json.Marshal(item.Vals)
		if err != nil {
			groups = append(groups, WriteGroup{IDs: append([]int64(nil), item.IDs...), Vals: item.Vals})
			continue
		}
		if i, found := index[string(key)]; found {
			groups[i].IDs = append(groups[i].IDs, item.IDs...)
			continue
		}
		index[string(key)] = len(groups)
		groups = append(groups, WriteGroup{IDs: append([]int64(nil), item.IDs...), Vals: item.Vals})
	}
	return groups
}
