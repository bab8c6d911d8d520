package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arman-khosravi/tabletalk/config"
	"github.com/arman-khosravi/tabletalk/internal/agent"
	"github.com/arman-khosravi/tabletalk/internal/budget"
	"github.com/arman-khosravi/tabletalk/internal/llm"
	srv "github.com/arman-khosravi/tabletalk/internal/server"
	"github.com/arman-khosravi/tabletalk/internal/session"
	"github.com/arman-khosravi/tabletalk/internal/tools/searchctx"
)

// chatCMD runs a single local session on stdin/stdout, without the HTTP
// server or persistence. Useful for poking at a database interactively.
func chatCMD() *cobra.Command {
	var cfgPath string
	var cmd = &cobra.Command{
		Use:   "chat",
		Short: "Interactive local session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			corpus := searchctx.NewCorpus()
			registry, err := srv.BuildRegistry(ctx, cfg, corpus)
			if err != nil {
				return err
			}
			provider, err := llm.NewProvider(llm.Config{
				Provider:        cfg.LLM.Provider,
				APIKey:          cfg.LLM.APIKey,
				BaseURL:         cfg.LLM.BaseURL,
				Model:           cfg.LLM.Model,
				Temperature:     cfg.LLM.Temperature,
				MaxTokens:       cfg.LLM.MaxTokens,
				Timeout:         cfg.LLM.Timeout,
				CostPer1KInput:  cfg.LLM.CostPer1KInput,
				CostPer1KOutput: cfg.LLM.CostPer1KOutput,
			})
			if err != nil {
				return err
			}

			var logger *log.Logger
			if cfg.General.Debug {
				logger = log.New(os.Stderr, "[CHAT] ", log.LstdFlags)
			}
			orch := agent.New(registry, provider, nil, corpus, nil, agent.Config{
				Budget: budget.Config{
					MaxToolCalls:      cfg.Agent.MaxToolCalls,
					MaxReasoningLoops: cfg.Agent.MaxReasoningLoops,
				},
				Debug: cfg.General.Debug,
			}, logger)

			sess := session.New("", "local")
			fmt.Printf("session %s; %d tools available. Ctrl-D to quit.\n", sess.ID(), len(registry.List()))

			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					break
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				answer, err := orch.HandleMessage(ctx, sess, line)
				if err != nil {
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
					if sess.Status() != session.StatusActive {
						return nil
					}
					continue
				}
				fmt.Println(answer)
			}
			orch.End(context.WithoutCancel(ctx), sess)
			return scanner.Err()
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return cmd
}
