package generation

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	"image/png"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"z-pixel-ai-api/internal/domain/entity"
	"z-pixel-ai-api/pkg/utils"
)

// applyWatermark 在图像右下角叠加标识文字，返回 PNG data URI。
// 源图解码失败时原样返回，水印不应让已成功的生成失败。
func applyWatermark(imageURL, label string) (string, error) {
	if label == "" {
		return imageURL, nil
	}

	_, data, err := utils.DecodeDataURI(imageURL)
	if err != nil {
		return "", fmt.Errorf("failed to decode image for watermark: %w", err)
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decode image for watermark: %w", err)
	}

	bounds := src.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, src, bounds.Min, draw.Src)

	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, label).Ceil()
	const pad = 6
	boxW := textWidth + pad*2
	boxH := face.Metrics().Height.Ceil() + pad*2

	boxMin := image.Pt(bounds.Max.X-boxW-pad, bounds.Max.Y-boxH-pad)
	if boxMin.X < bounds.Min.X {
		boxMin.X = bounds.Min.X
	}
	if boxMin.Y < bounds.Min.Y {
		boxMin.Y = bounds.Min.Y
	}
	box := image.Rectangle{Min: boxMin, Max: image.Pt(boxMin.X+boxW, boxMin.Y+boxH)}

	// 半透明底色保证文字在任意画面上可读
	draw.Draw(canvas, box, image.NewUniform(color.RGBA{0, 0, 0, 128}), image.Point{}, draw.Over)

	drawer := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(color.RGBA{255, 255, 255, 230}),
		Face: face,
		Dot: fixed.Point26_6{
			X: fixed.I(box.Min.X + pad),
			Y: fixed.I(box.Min.Y + pad + face.Metrics().Ascent.Ceil()),
		},
	}
	drawer.DrawString(label)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return "", fmt.Errorf("failed to encode watermarked image: %w", err)
	}
	return utils.EncodeDataURI("image/png", buf.Bytes()), nil
}

// resizeToMatch 将参考图缩放到目标图的尺寸，返回 PNG 编码的图像数据。
// 尺寸已一致时原样返回。
func resizeToMatch(ref *entity.ImageData, target *entity.ImageData) (*entity.ImageData, error) {
	refImg, _, err := image.Decode(bytes.NewReader(ref.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode reference image: %w", err)
	}
	targetImg, _, err := image.Decode(bytes.NewReader(target.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode target image: %w", err)
	}

	want := targetImg.Bounds()
	if refImg.Bounds().Dx() == want.Dx() && refImg.Bounds().Dy() == want.Dy() {
		return ref, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, want.Dx(), want.Dy()))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), refImg, refImg.Bounds(), xdraw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}
	return &entity.ImageData{MimeType: "image/png", Data: buf.Bytes()}, nil
}
