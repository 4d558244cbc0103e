package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"zenoo/query"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeValue json 格式输出 v，text 格式输出 text
func writeValue(w io.Writer, format string, v any, text string) error {
	if format == "json" {
		return writeJSON(w, v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}

// writeRecords text 格式每条记录一行：id 后跟按字段名排序的 field=value
func writeRecords(w io.Writer, format string, records []*query.Record) error {
	if format == "json" {
		rows := make([]map[string]any, len(records))
		for i, r := range records {
			rows[i] = r.Values()
		}
		return writeJSON(w, rows)
	}
	for _, r := range records {
		var b strings.Builder
		fmt.Fprintf(&b, "%d", r.ID())
		for _, name := range r.FieldNames() {
			if name == "id" {
				continue
			}
			v, _ := r.Value(name)
			fmt.Fprintf(&b, "\t%s=%s", name, formatValue(v))
		}
		if _, err := fmt.Fprintln(w, b.String()); err != nil {
			return err
		}
	}
	return nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []any:
		// many2one 读取格式 [id, name]
		if len(x) == 2 {
			if name, ok := x[1].(string); ok {
				return fmt.Sprintf("%v:%s", x[0], name)
			}
		}
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = formatValue(e)
		}
		return "[" + strings.Join(parts, ",") + "]"
	}
	return fmt.Sprint(v)
}
