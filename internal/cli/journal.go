package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewJournalCommand journal 命令：查看与修复回滚失败的事务
//
// 只有配置了持久化事务日志（journal.driver）时跨进程可见。
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "事务日志维护",
	}
	cmd.AddCommand(newJournalFailedCommand(rootOpts))
	cmd.AddCommand(newJournalRepairCommand(rootOpts))
	return cmd
}

func newJournalFailedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "failed",
		Short: "列出回滚失败、等待修复的事务",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closeFn, err := connect(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer closeFn()

			states, err := c.FailedTransactions(cmd.Context())
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), states)
			}
			for _, s := range states {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tpending=%d\t%s\n",
					s.ScopeID, s.UpdatedAt.Format("2006-01-02 15:04:05"), len(s.Operations), s.Error)
			}
			return nil
		},
	}
}

func newJournalRepairCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "repair <scope-id>",
		Short: "重新执行失败事务剩余的逆操作",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closeFn, err := connect(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := c.RepairTransaction(cmd.Context(), args[0]); err != nil {
				return err
			}
			return writeValue(cmd.OutOrStdout(), rootOpts.Format,
				map[string]any{"scope_id": args[0], "repaired": true}, "repaired "+args[0])
		},
	}
}
