package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alaotach/foxxy-ai/internal/agent"
	"github.com/alaotach/foxxy-ai/internal/config"
	"github.com/alaotach/foxxy-ai/internal/gateway"
	"github.com/alaotach/foxxy-ai/internal/observability"
	"github.com/alaotach/foxxy-ai/internal/service"
)

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Launch a browser and pursue a goal, serve the control channel, or both",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("gateway.enabled", cmd.Flags().Lookup("serve")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return fmt.Errorf("finalize configuration: %w", err)
			}

			goal, _ := cmd.Flags().GetString("goal")
			startURL, _ := cmd.Flags().GetString("url")
			if goal == "" && !cfg.Gateway.Enabled {
				return fmt.Errorf("nothing to do: pass --goal, or --serve to wait for control-channel clients")
			}

			// The gateway doubles as the prompter when it is serving;
			// otherwise prompts go to the terminal.
			var prompter agent.Prompter = &stdinPrompter{}
			var gw *gateway.Server

			auto, err := service.NewAutomation(ctx, cfg, nil, logger)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := auto.Close(); closeErr != nil {
					logger.Warn("Browser shutdown failed.", zap.Error(closeErr))
				}
			}()

			if cfg.Gateway.Enabled {
				gw = gateway.NewServer(auto, cfg.Gateway, logger)
				prompter = gw
				auto.SetNotifier(gw)
			}
			auto.SetPrompter(prompter)

			if startURL != "" {
				if err := auto.Navigate(ctx, startURL); err != nil {
					return fmt.Errorf("open start page %s: %w", startURL, err)
				}
			}

			group, groupCtx := errgroup.WithContext(ctx)
			if gw != nil {
				group.Go(func() error { return gw.Run(groupCtx) })
			}
			if goal != "" {
				group.Go(func() error {
					outcome := auto.RunGoal(groupCtx, goal)
					reportOutcome(cmd, outcome.State, outcome.FinalMessage, outcome.Steps)
					if gw == nil {
						// Goal-only invocations exit once the goal ends.
						return context.Canceled
					}
					return nil
				})
			}

			if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	runCmd.Flags().String("goal", "", "natural-language goal to pursue")
	runCmd.Flags().String("url", "", "page to open before the goal starts")
	runCmd.Flags().Bool("serve", false, "serve the websocket control channel")
	runCmd.Flags().Bool("headless", true, "run the browser headless")
	return runCmd
}

func reportOutcome(cmd *cobra.Command, state, message string, steps int) {
	cmd.Printf("goal %s after %d step(s): %s\n", state, steps, message)
}

// stdinPrompter collects prompt_user values from the terminal. An empty
// line declines.
type stdinPrompter struct{}

func (stdinPrompter) Prompt(ctx context.Context, prompt string) (string, bool, error) {
	fmt.Fprintf(os.Stderr, "\n%s (empty line to decline): ", prompt)

	lines := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			errs <- err
			return
		}
		lines <- strings.TrimSpace(line)
	}()

	select {
	case line := <-lines:
		return line, line != "", nil
	case err := <-errs:
		return "", false, err
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}
