package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"zenoo/errors"
	"zenoo/model"
	"zenoo/query"
)

// QueryOptions 查询类命令的参数
type QueryOptions struct {
	*RootOptions
	Filters []string
	Fields  []string
	Order   string
	Limit   int
	Offset  int
}

func (o *QueryOptions) bindFilters(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&o.Filters, "filter", "f", nil, "过滤条件 field__lookup=value，可重复")
}

// NewSearchCommand search 命令
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search <model>",
		Short: "按条件查询记录",
		Long: `按条件查询记录，结果经过缓存。

Example:
  zenoo search res.partner -f name__ilike=acme -f active=true --fields name,email --order "name desc" --limit 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closeFn, err := connect(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer closeFn()

			q, err := applyFilters(c.Model(args[0]), opts.Filters)
			if err != nil {
				return err
			}
			q = applyOrder(q, opts.Order).Fields(opts.Fields...).Limit(opts.Limit).Offset(opts.Offset)
			records, err := q.All(cmd.Context())
			if err != nil {
				return err
			}
			return writeRecords(cmd.OutOrStdout(), opts.Format, records)
		},
	}

	opts.bindFilters(cmd)
	cmd.Flags().StringSliceVar(&opts.Fields, "fields", nil, "返回字段，逗号分隔")
	cmd.Flags().StringVar(&opts.Order, "order", "", "排序，如 \"name desc, id\"")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "返回条数上限")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "偏移量")

	return cmd
}

// NewCountCommand count 命令
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "count <model>",
		Short: "统计满足条件的记录数",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closeFn, err := connect(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer closeFn()

			q, err := applyFilters(c.Model(args[0]), opts.Filters)
			if err != nil {
				return err
			}
			n, err := q.Count(cmd.Context())
			if err != nil {
				return err
			}
			return writeValue(cmd.OutOrStdout(), opts.Format, map[string]any{"count": n}, strconv.FormatInt(n, 10))
		},
	}

	opts.bindFilters(cmd)
	return cmd
}

// NewGetCommand get 命令
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	var fields []string

	cmd := &cobra.Command{
		Use:   "get <model> <id>",
		Short: "按 id 读取一条记录",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || id <= 0 {
				return errors.NewValidationError("id 必须是正整数: %s", args[1])
			}
			c, closeFn, err := connect(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer closeFn()

			rec, err := c.Model(args[0]).Fields(fields...).Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return writeRecords(cmd.OutOrStdout(), rootOpts.Format, []*query.Record{rec})
		},
	}

	cmd.Flags().StringSliceVar(&fields, "fields", nil, "返回字段，逗号分隔")
	return cmd
}

// NewFieldsCommand fields 命令：读取模型字段元信息
func NewFieldsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fields <model>",
		Short: "列出模型字段",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closeFn, err := connect(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer closeFn()

			meta, err := c.LoadModel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			names := meta.FieldNames()
			fields := make([]*model.FieldMeta, 0, len(names))
			for _, name := range names {
				f, _ := meta.Field(name)
				fields = append(fields, f)
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), fields)
			}
			for _, f := range fields {
				line := fmt.Sprintf("%s\t%s", f.Name, f.Type)
				if f.Relation != "" {
					line += "\t-> " + f.Relation
				}
				if f.Required {
					line += "\trequired"
				}
				if !f.Writable() {
					line += "\treadonly"
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}
