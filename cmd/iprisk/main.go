// Command iprisk runs the high-risk IP detection pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/riskforge/iprisk/pkg/calibrate"
	"github.com/riskforge/iprisk/pkg/config"
	"github.com/riskforge/iprisk/pkg/explain"
	"github.com/riskforge/iprisk/pkg/io"
	"github.com/riskforge/iprisk/pkg/io/clientapi"
	csvio "github.com/riskforge/iprisk/pkg/io/csv"
	pcapio "github.com/riskforge/iprisk/pkg/io/pcap"
	"github.com/riskforge/iprisk/pkg/logging"
	"github.com/riskforge/iprisk/pkg/pipeline"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "iprisk",
		Short:         "Score per-IP traffic aggregates for anomalies",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file")

	root.AddCommand(newDetectCmd(&cfgPath))
	root.AddCommand(newClientsCmd(&cfgPath))
	return root
}

func newDetectCmd(cfgPath *string) *cobra.Command {
	var (
		input  string
		output string
		full   bool
	)

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run one batch detection pass and write the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if input != "" {
				cfg.Source.Path = input
			}
			if output != "" {
				cfg.Output.Path = output
			}
			if cmd.Flags().Changed("full") {
				cfg.Output.Full = full
			}

			log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			var src io.Source
			switch cfg.Source.Type {
			case config.SourcePCAP:
				src = pcapio.NewSource(cfg.Source.Path)
			default:
				src = csvio.NewSource(cfg.Source.Path)
			}
			sink := csvio.NewSink(cfg.Output.Path)

			p := pipeline.New(pipelineConfig(cfg), src, sink, log)
			rep, err := p.Run(cmd.Context())
			if err != nil {
				log.Error("run failed", zap.Error(err))
				return err
			}

			log.Info("run complete",
				zap.Int("rows", len(rep.Rows)),
				zap.String("output", cfg.Output.Path))
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "override source.path")
	cmd.Flags().StringVar(&output, "output", "", "override output.path")
	cmd.Flags().BoolVar(&full, "full", false, "emit every row, not just flagged ones")
	return cmd
}

func newClientsCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clients",
		Short: "Fetch and print the active client list",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			fetcher := clientapi.New(clientapi.Config{
				URL:     cfg.Source.ClientAPI.URL,
				Auth:    cfg.Source.ClientAPI.Auth,
				Exclude: cfg.Source.ClientAPI.Exclude,
				Timeout: cfg.Source.ClientAPI.Timeout,
			}, log)

			clients, err := fetcher.ActiveClients(cmd.Context())
			if err != nil {
				return err
			}
			for _, c := range clients {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		},
	}
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		Contamination: cfg.Model.Contamination,
		Seed:          cfg.Model.Seed,
		Workers:       cfg.Model.Workers,
		Trees:         cfg.Model.Trees,
		SampleSize:    cfg.Model.SampleSize,
		Columns:       cfg.Features.Columns,
		Method:        calibrate.Method(cfg.Calibration.Method),
		TopK:          cfg.Evidence.TopK,
		Style:         explain.Style(cfg.Evidence.Style),
		FullReport:    cfg.Output.Full,
	}
}
