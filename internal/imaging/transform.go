package imaging

import (
	"bytes"
	"image"
	"image/png"
	"math"

	"golang.org/x/image/draw"
)

// lumaThreshold 把 0.299R + 0.587G + 0.114B < 160 换成整数比较，结果完全一致
const lumaThreshold = LuminanceThreshold * 1000

func isDark(r, g, b uint8) bool {
	return 299*int(r)+587*int(g)+114*int(b) < lumaThreshold
}

func validateMargin(margin float64) error {
	if math.IsNaN(margin) || margin < 0 || margin >= 1 {
		return ErrInvalidMargin
	}
	return nil
}

func newCanvas(b image.Rectangle) *image.NRGBA {
	return image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
}

// Flatten 合成到不透明白底上
func Flatten(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := newCanvas(b)
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

// Compose 按边距比例生成画布，尺寸与输入相同
//
// margin 为 0 时原样拷贝，不填充背景，透明度保持不变。
// margin 大于 0 时先填白，再把原图缩放到 round(W*(1-margin)) x round(H*(1-margin)) 居中绘制；
// 两侧边框宽度差奇数像素时多出的一列/行放在右侧/底部。
func Compose(img image.Image, margin float64) (*image.NRGBA, error) {
	if err := validateMargin(margin); err != nil {
		return nil, err
	}

	b := img.Bounds()
	dst := newCanvas(b)
	if margin == 0 {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst, nil
	}

	w, h := b.Dx(), b.Dy()
	dw := max(1, int(math.Round(float64(w)*(1-margin))))
	dh := max(1, int(math.Round(float64(h)*(1-margin))))
	x0, y0 := (w-dw)/2, (h-dh)/2

	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, image.Rect(x0, y0, x0+dw, y0+dh), img, b, draw.Over, nil)
	return dst, nil
}

// Binarize 返回新图：每个像素 RGB 变为 0 或 255，alpha 不变
func Binarize(img *image.NRGBA) *image.NRGBA {
	b := img.Bounds()
	dst := newCanvas(b)
	for y := 0; y < b.Dy(); y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+b.Dx()*4]
		out := dst.Pix[y*dst.Stride : y*dst.Stride+b.Dx()*4]
		for i := 0; i < len(src); i += 4 {
			v := uint8(255)
			if isDark(src[i], src[i+1], src[i+2]) {
				v = 0
			}
			out[i], out[i+1], out[i+2], out[i+3] = v, v, v, src[i+3]
		}
	}
	return dst
}

// Threshold 加边距后二值化
func Threshold(img image.Image, margin float64) (*image.NRGBA, error) {
	composed, err := Compose(img, margin)
	if err != nil {
		return nil, err
	}
	return Binarize(composed), nil
}

// EncodePNG 无损编码，同一输入总是得到相同字节
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
