// Package cli 实现 zenoo 命令行：按配置连接远端，执行查询与事务日志维护
package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"zenoo/client"
	"zenoo/config"
	"zenoo/logging"
	"zenoo/transport"
	"zenoo/transport/jsonrpc"
)

// ValidFormats 允许的输出格式
var ValidFormats = []string{"text", "json"}

// DialFunc 按配置创建传输
type DialFunc func(cfg *config.Config, logger logging.Logger) (transport.ITransport, error)

// RootOptions 全局参数
type RootOptions struct {
	ConfigPath string
	Format     string

	// Dial 为空时使用 JSON-RPC 传输
	Dial DialFunc
}

// NewRootCommand 创建根命令
func NewRootCommand(opts *RootOptions) *cobra.Command {
	if opts == nil {
		opts = &RootOptions{}
	}

	cmd := &cobra.Command{
		Use:           "zenoo",
		Short:         "zenoo - 远端 ORM 服务客户端",
		Long:          "zenoo 通过 JSON-RPC 访问远端 ORM 服务，带结果缓存、重试熔断与补偿式事务日志。",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML 配置文件路径")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "输出格式 (text|json)")

	cmd.AddCommand(NewSearchCommand(opts))
	cmd.AddCommand(NewCountCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewFieldsCommand(opts))
	cmd.AddCommand(NewJournalCommand(opts))

	return cmd
}

// connect 加载配置并创建会话；返回的 close 释放运行时持有的连接
func connect(ctx context.Context, opts *RootOptions) (*client.Client, func(), error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	rt, err := client.NewRuntimeFromConfig(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	dial := opts.Dial
	if dial == nil {
		dial = dialJSONRPC
	}
	tr, err := dial(cfg, rt.Logger())
	if err != nil {
		_ = rt.Close()
		return nil, nil, err
	}

	closeFn := func() {
		if err := rt.Close(); err != nil {
			rt.Logger().Warn(ctx, "关闭运行时失败", logging.Error(err))
		}
	}
	return client.New(rt, tr), closeFn, nil
}

func dialJSONRPC(cfg *config.Config, logger logging.Logger) (transport.ITransport, error) {
	return jsonrpc.New(jsonrpc.Config{
		URL:       cfg.Server.URL,
		Database:  cfg.Server.Database,
		Username:  cfg.Server.Username,
		Password:  cfg.Server.Password,
		UID:       cfg.Server.UID,
		Timeout:   cfg.Server.Timeout,
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
		Logger:    logging.Component(logger, "transport.jsonrpc"),
	})
}
