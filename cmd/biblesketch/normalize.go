package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"biblesketch/internal/config"
	"biblesketch/internal/imaging"

	"github.com/spf13/cobra"
)

type normalizeOptions struct {
	input    string
	output   string
	margin   float64
	lossless bool
}

func normalizeCmd(configPath *string) *cobra.Command {
	var opts normalizeOptions

	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "把本地文件或 URL 的图片转成黑白涂色 PNG",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger := newLogger(&config.LogConfig{Level: cfg.Log.Level, Format: "text"})
			return runNormalize(cmd.Context(), cfg.Imaging, opts, logger)
		},
	}
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "输入文件路径、http(s) URL 或 data URI")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "输出 PNG 路径")
	cmd.Flags().Float64Var(&opts.margin, "margin", imaging.PrintMargin, "打印边距比例，0 表示不加边距")
	cmd.Flags().BoolVar(&opts.lossless, "lossless", false, "只合成白底转 PNG，不做黑白化")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func runNormalize(ctx context.Context, cfg config.ImagingConfig, opts normalizeOptions, logger *slog.Logger) error {
	src := opts.input
	if !isRemoteSource(src) {
		data, err := os.ReadFile(src)
		if err != nil {
			return fmt.Errorf("读取输入文件失败: %w", err)
		}
		src = imaging.SourceFromBytes(data)
	}

	n := imaging.NewNormalizer(cfg, nil, logger)
	var res imaging.Result
	if opts.lossless {
		res = n.Lossless(ctx, src)
	} else {
		res = n.Threshold(ctx, src, opts.margin)
	}

	switch res.Outcome {
	case imaging.OutcomeFallback:
		return fmt.Errorf("图片处理失败: %w", res.Err)
	case imaging.OutcomeDegraded:
		logger.Warn("只完成了边距处理", "error", res.Err)
	}

	data, err := imaging.FromDataURI(res.DataURI)
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.output, data, 0o644); err != nil {
		return fmt.Errorf("写入输出文件失败: %w", err)
	}
	logger.Info("已写入", "output", opts.output, "outcome", res.Outcome, "bytes", len(data))
	return nil
}

func isRemoteSource(s string) bool {
	return strings.HasPrefix(s, "data:") || strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
