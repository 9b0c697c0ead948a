package thumbnail

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

// jpegQuality はJPEGサムネイルのエンコード品質。
const jpegQuality = 85

// maxSourcePixels はデコードを許可する元画像の最大画素数。
// デコード後のメモリ使用量はおおよそ画素数×4バイトになる。
const maxSourcePixels = 40_000_000

// ErrUnsupportedFormat はデコードできない画像形式を表す。
var ErrUnsupportedFormat = errors.New("unsupported image format")

// ErrImageTooLarge は画素数がmaxSourcePixelsを超える画像を表す。
var ErrImageTooLarge = errors.New("image dimensions too large")

// Decode は画像dataをデコードし、画像と形式名を返す。
// ヘッダーで宣言された寸法を先に検査し、上限を超える画像は本体をデコードせずに拒否する。
func Decode(data []byte) (image.Image, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, "", ErrUnsupportedFormat
		}
		return nil, "", fmt.Errorf("failed to decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", errors.New("empty image")
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxSourcePixels {
		return nil, "", fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return src, format, nil
}

// Scale はデコード済みの画像srcを幅widthに縮小（または拡大）し、formatでエンコードして返す。
// 高さはアスペクト比を保って決定し、最小1pxとする。
func Scale(src image.Image, format string, width int) ([]byte, error) {
	if width <= 0 {
		return nil, fmt.Errorf("invalid width %d", width)
	}

	bounds := src.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, errors.New("empty image")
	}
	height := max(bounds.Dy()*width/bounds.Dx(), 1)

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)

	var (
		buf bytes.Buffer
		err error
	)
	switch format {
	case "png":
		err = png.Encode(&buf, dst)
	case "jpeg":
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality})
	case "gif":
		err = gif.Encode(&buf, dst, nil)
	default:
		return nil, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// Resize は画像dataをデコードして幅widthのサムネイルを返す。
func Resize(data []byte, width int) ([]byte, error) {
	if width <= 0 {
		return nil, fmt.Errorf("invalid width %d", width)
	}
	src, format, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Scale(src, format, width)
}
