package main

import (
	"context"
	"fmt"
	"log"
	"net"

	"github.com/spf13/cobra"

	"github.com/arman-khosravi/tabletalk/config"
	"github.com/arman-khosravi/tabletalk/internal/capability"
	"github.com/arman-khosravi/tabletalk/internal/mcp"
	"github.com/arman-khosravi/tabletalk/internal/tools/db"
)

// mcpCMD runs the tool server: it owns the database adapter and exposes its
// tools over the wire protocol for remote orchestrators.
func mcpCMD() *cobra.Command {
	var cfgPath string
	var listen string
	var cmd = &cobra.Command{
		Use:   "mcp",
		Short: "Run the tool protocol server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if listen == "" {
				listen = cfg.MCP.Listen
			}
			if cfg.Tools.DB.DSN == "" {
				return fmt.Errorf("tools.db.dsn is required for the tool server")
			}

			ctx := context.Background()
			adapter, err := db.Open(ctx, cfg.Tools.DB.DSN, cfg.Tools.DB.Name, db.Config{
				MaxConcurrent: cfg.Tools.DB.MaxConcurrent,
				MaxRows:       cfg.Tools.DB.MaxRows,
			})
			if err != nil {
				return fmt.Errorf("db adapter: %w", err)
			}

			registry := capability.NewRegistry(cfg.Tools.Signing.Secret)
			for _, tool := range adapter.Tools() {
				if err := registry.Register(tool); err != nil {
					return err
				}
			}

			lis, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("listen %s: %w", listen, err)
			}
			logger := log.New(log.Writer(), "[MCP] ", log.LstdFlags)
			logger.Printf("serving %d tools on %s", len(registry.List()), listen)
			server := mcp.NewServer(registry, mcp.ServerConfig{CallTimeout: cfg.MCP.CallTimeout}, logger)
			return server.Serve(lis)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return cmd
}
