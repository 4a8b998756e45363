package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"auto_content_pipeline/config"
	"auto_content_pipeline/pipeline"
	"auto_content_pipeline/server"
)

var configPath string

// serve 收到信号后等待任务结束的上限，超时的任务会被取消
const shutdownGrace = 30 * time.Second

func main() {
	klogFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(klogFlags)
	defer klog.Flush()

	rootCmd := &cobra.Command{
		Use:           "pipeline",
		Short:         "Depth-based multi-draft content generation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config.yaml")
	rootCmd.PersistentFlags().AddGoFlagSet(klogFlags)

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(purgeCmd())

	if err := rootCmd.Execute(); err != nil {
		klog.Errorf("%v", err)
		klog.Flush()
		os.Exit(1)
	}
}

func loadRunner() (*config.Config, *pipeline.Runner, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	runner, err := pipeline.NewFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, runner, nil
}

func runCmd() *cobra.Command {
	var (
		req       pipeline.RunRequest
		inputPath string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate one stage for one unit and write it to the output dir",
		Long: `Generate one stage for one unit.

Examples:
  pipeline run --stage blog --unit vosslab/repoX --input activity.json --depth 3
  pipeline run --stage bluesky --input summary.json --refresh`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputPath != "" {
				data, err := os.ReadFile(inputPath)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(data, &req.Inputs); err != nil {
					return fmt.Errorf("parse %s: %w", inputPath, err)
				}
			}
			_, runner, err := loadRunner()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := runner.Run(ctx, req)
			if err != nil {
				return err
			}
			fmt.Println(report.Files.Text)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Stage, "stage", "", "stage to run (outline, blog, bluesky, podcast)")
	cmd.Flags().StringVar(&req.Unit, "unit", "", "logical unit, e.g. owner/repo (default global)")
	cmd.Flags().StringVar(&inputPath, "input", "", "JSON file with the stage inputs")
	cmd.Flags().IntVar(&req.Depth, "depth", 0, "generation depth 1-4 (default from config)")
	cmd.Flags().IntVar(&req.SizeHint, "size", 0, "target length override for this run")
	cmd.Flags().BoolVar(&req.Refresh, "refresh", false, "ignore cached drafts and regenerate")
	_ = cmd.MarkFlagRequired("stage")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, runner, err := loadRunner()
			if err != nil {
				return err
			}
			srv, err := server.New(runner, cfg.RunTimeout)
			if err != nil {
				return err
			}
			listen := cfg.ServerAddr
			if addr != "" {
				listen = addr
			}
			if listen == "" {
				listen = ":8080"
			}

			gin.SetMode(gin.ReleaseMode)
			httpSrv := &http.Server{Addr: listen, Handler: srv.Routes()}
			errCh := make(chan error, 1)
			go func() {
				klog.Infof("Starting web server on %s", listen)
				errCh <- httpSrv.ListenAndServe()
			}()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			klog.Info("shutting down, waiting for running jobs")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "http listen address (overrides config server_addr)")
	return cmd
}

func purgeCmd() *cobra.Command {
	var stage, unit string
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete cached drafts for a stage or one unit of it",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, runner, err := loadRunner()
			if err != nil {
				return err
			}
			n, err := runner.PurgeCache(stage, unit)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d cached drafts\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "stage whose drafts to delete")
	cmd.Flags().StringVar(&unit, "unit", "", "only this unit")
	_ = cmd.MarkFlagRequired("stage")
	return cmd
}
