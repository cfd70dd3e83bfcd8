package imaging

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"biblesketch/internal/config"
	"biblesketch/internal/metrics"
	"biblesketch/internal/testutil"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/draw"
)

func newTestNormalizer() (*Normalizer, *metrics.Metrics) {
	m := metrics.New(prometheus.NewRegistry())
	n := NewNormalizer(config.ImagingConfig{
		FetchTimeout:         time.Second,
		MaxSourceBytes:       8 << 20,
		MaxPixels:            4_000_000,
		AllowPrivateNetworks: true,
	}, m, testutil.DiscardLogger())
	return n, m
}

func decodeResult(t *testing.T, uri string) *image.NRGBA {
	t.Helper()
	data, err := FromDataURI(uri)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	// 不透明的图会被编码成 RGB，解码回来是 *image.RGBA
	out := image.NewNRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
	return out
}

func TestNormalizer_Lossless(t *testing.T) {
	n, m := newTestNormalizer()
	src := ToDataURI(pngBytes(t, 8, 8, color.NRGBA{10, 20, 30, 0}))

	res := n.Lossless(context.Background(), src)
	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeOK, res.Outcome)
	assertAllPixels(t, decodeResult(t, res.DataURI), color.NRGBA{255, 255, 255, 255})
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ImageNormalize().WithLabelValues("lossless", "ok")))
}

func TestNormalizer_LosslessFallback(t *testing.T) {
	n, m := newTestNormalizer()
	src := "data:image/png;base64,bm90IGFuIGltYWdl"

	res := n.Lossless(context.Background(), src)
	assert.Equal(t, OutcomeFallback, res.Outcome)
	assert.Equal(t, src, res.DataURI)
	assert.ErrorIs(t, res.Err, ErrDecodeFailed)
	assert.Equal(t, src, n.ToLosslessFormat(context.Background(), src))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.ImageNormalize().WithLabelValues("lossless", "fallback")))
}

func TestNormalizer_ThresholdFromURL(t *testing.T) {
	data := pngBytes(t, 200, 200, color.NRGBA{128, 128, 128, 255})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	n, _ := newTestNormalizer()
	res := n.Threshold(context.Background(), srv.URL+"/page.png", PrintMargin)
	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeOK, res.Outcome)

	out := decodeResult(t, res.DataURI)
	assert.Equal(t, color.NRGBA{255, 255, 255, 255}, out.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{255, 255, 255, 255}, out.NRGBAAt(14, 100))
	assert.Equal(t, color.NRGBA{0, 0, 0, 255}, out.NRGBAAt(15, 15))
	assert.Equal(t, color.NRGBA{0, 0, 0, 255}, out.NRGBAAt(100, 100))
	assert.Equal(t, color.NRGBA{255, 255, 255, 255}, out.NRGBAAt(185, 185))
}

func TestNormalizer_ThresholdIsDeterministic(t *testing.T) {
	n, _ := newTestNormalizer()
	data, err := EncodePNG(gradient(90, 60))
	require.NoError(t, err)
	src := ToDataURI(data)

	first := n.ThresholdToBlackAndWhite(context.Background(), src, 0)
	second := n.ThresholdToBlackAndWhite(context.Background(), src, 0)
	assert.Equal(t, first, second)

	again := n.ThresholdToBlackAndWhite(context.Background(), first, 0)
	assert.Equal(t, first, again)
}

func TestNormalizer_ThresholdFallback(t *testing.T) {
	n, m := newTestNormalizer()
	ctx := context.Background()

	src := ToDataURI(pngBytes(t, 4, 4, color.NRGBA{0, 0, 0, 255}))
	res := n.Threshold(ctx, src, 1.2)
	assert.Equal(t, OutcomeFallback, res.Outcome)
	assert.Equal(t, src, res.DataURI)
	assert.ErrorIs(t, res.Err, ErrInvalidMargin)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	res = n.Threshold(ctx, srv.URL, 0)
	assert.Equal(t, OutcomeFallback, res.Outcome)
	assert.Equal(t, srv.URL, res.DataURI)
	assert.ErrorIs(t, res.Err, ErrFetchFailed)

	assert.Equal(t, 2.0, promtest.ToFloat64(m.ImageNormalize().WithLabelValues("threshold", "fallback")))
}

func TestNormalizer_InternalURLFallsBack(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes(t, 4, 4, color.NRGBA{0, 0, 0, 255}))
	}))
	defer srv.Close()

	m := metrics.New(prometheus.NewRegistry())
	n := NewNormalizer(config.ImagingConfig{
		FetchTimeout:   time.Second,
		MaxSourceBytes: 8 << 20,
		MaxPixels:      4_000_000,
	}, m, testutil.DiscardLogger())

	src := srv.URL + "/internal-admin"
	res := n.Threshold(context.Background(), src, 0)
	assert.Equal(t, OutcomeFallback, res.Outcome)
	assert.Equal(t, src, res.DataURI)
	assert.ErrorIs(t, res.Err, ErrFetchFailed)
	assert.ErrorIs(t, res.Err, ErrBlockedAddress)
	assert.Zero(t, hits.Load(), "internal endpoint must not be contacted")
}

func TestNormalizer_ThresholdDegraded(t *testing.T) {
	n, m := newTestNormalizer()
	encodeErr := errors.New("encoder unavailable")
	calls := 0
	n.encode = func(img image.Image) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, encodeErr
		}
		return EncodePNG(img)
	}

	src := ToDataURI(pngBytes(t, 100, 100, color.NRGBA{128, 128, 128, 255}))
	res := n.Threshold(context.Background(), src, PrintMargin)
	assert.Equal(t, OutcomeDegraded, res.Outcome)
	assert.ErrorIs(t, res.Err, encodeErr)

	out := decodeResult(t, res.DataURI)
	assert.Equal(t, color.NRGBA{255, 255, 255, 255}, out.NRGBAAt(0, 0), "margin is applied")
	mid := out.NRGBAAt(50, 50)
	assert.NotEqual(t, uint8(0), mid.R, "content is not binarized")
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ImageNormalize().WithLabelValues("threshold", "degraded")))
}

func TestNormalizer_ThresholdEncodeFailsTwice(t *testing.T) {
	n, _ := newTestNormalizer()
	n.encode = func(image.Image) ([]byte, error) { return nil, errors.New("boom") }

	src := ToDataURI(pngBytes(t, 4, 4, color.NRGBA{0, 0, 0, 255}))
	res := n.Threshold(context.Background(), src, 0)
	assert.Equal(t, OutcomeFallback, res.Outcome)
	assert.Equal(t, src, res.DataURI)
}

func TestNormalizer_PixelBudget(t *testing.T) {
	n, _ := newTestNormalizer()
	n.maxPixels = 100

	src := ToDataURI(pngBytes(t, 20, 20, color.NRGBA{0, 0, 0, 255}))
	res := n.Threshold(context.Background(), src, 0)
	assert.Equal(t, OutcomeFallback, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrSourceTooLarge)
}
