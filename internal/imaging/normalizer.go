package imaging

import (
	"context"
	"errors"
	"image"
	"log/slog"

	"biblesketch/internal/config"
	"biblesketch/internal/metrics"
)

const (
	opLossless  = "lossless"
	opThreshold = "threshold"
)

// Normalizer 组合来源读取、解码、变换和编码
type Normalizer struct {
	fetcher   *Fetcher
	maxPixels int64
	metrics   *metrics.Metrics
	logger    *slog.Logger
	encode    func(image.Image) ([]byte, error)
}

func NewNormalizer(cfg config.ImagingConfig, m *metrics.Metrics, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		fetcher:   NewFetcher(cfg),
		maxPixels: cfg.MaxPixels,
		metrics:   m,
		logger:    logger,
		encode:    EncodePNG,
	}
}

// Lossless 合成白底并转为 PNG
func (n *Normalizer) Lossless(ctx context.Context, src string) Result {
	img, err := n.load(ctx, src)
	if err != nil {
		return n.fallback(opLossless, src, err)
	}
	data, err := n.encode(Flatten(img))
	if err != nil {
		return n.fallback(opLossless, src, err)
	}
	return n.finish(opLossless, Result{DataURI: ToDataURI(data), Outcome: OutcomeOK})
}

// Threshold 加边距并二值化；二值化结果无法编码时退回只加边距的图
func (n *Normalizer) Threshold(ctx context.Context, src string, margin float64) Result {
	if err := validateMargin(margin); err != nil {
		return n.fallback(opThreshold, src, err)
	}
	img, err := n.load(ctx, src)
	if err != nil {
		return n.fallback(opThreshold, src, err)
	}
	composed, err := Compose(img, margin)
	if err != nil {
		return n.fallback(opThreshold, src, err)
	}

	data, err := n.encode(Binarize(composed))
	if err == nil {
		return n.finish(opThreshold, Result{DataURI: ToDataURI(data), Outcome: OutcomeOK})
	}

	partial, partialErr := n.encode(composed)
	if partialErr != nil {
		return n.fallback(opThreshold, src, errors.Join(err, partialErr))
	}
	n.logger.Warn("二值化失败，返回只加边距的图片", "error", err)
	return n.finish(opThreshold, Result{DataURI: ToDataURI(partial), Outcome: OutcomeDegraded, Err: err})
}

// ToLosslessFormat 失败时返回原输入
func (n *Normalizer) ToLosslessFormat(ctx context.Context, src string) string {
	return n.Lossless(ctx, src).DataURI
}

// ThresholdToBlackAndWhite 失败时返回尽可能好的结果，不返回错误
func (n *Normalizer) ThresholdToBlackAndWhite(ctx context.Context, src string, margin float64) string {
	return n.Threshold(ctx, src, margin).DataURI
}

func (n *Normalizer) load(ctx context.Context, src string) (image.Image, error) {
	data, err := n.fetcher.Load(ctx, src)
	if err != nil {
		return nil, err
	}
	return Decode(data, n.maxPixels)
}

func (n *Normalizer) fallback(op, src string, err error) Result {
	n.logger.Warn("图片规范化失败，返回原图", "op", op, "error", err)
	return n.finish(op, Result{DataURI: src, Outcome: OutcomeFallback, Err: err})
}

func (n *Normalizer) finish(op string, res Result) Result {
	n.metrics.ObserveImageNormalize(op, string(res.Outcome))
	return res
}
