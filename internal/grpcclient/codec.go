package grpcclient

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	"github.com/GriffinCanCode/deepwatch/internal/audio"
)

// Binary payloads travel as base64 strings inside the Struct messages:
// images as PNG, audio as little-endian float32.

func encodeImage(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func decodeMask(s string) (*image.Gray, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode mask: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode mask png: %w", err)
	}
	if g, ok := img.(*image.Gray); ok {
		return g, nil
	}
	g := image.NewGray(img.Bounds())
	draw.Draw(g, g.Bounds(), img, img.Bounds().Min, draw.Src)
	return g, nil
}

func encodeSamples(samples []float32) string {
	return base64.StdEncoding.EncodeToString(audio.Float32ToBytes(samples))
}

func decodeSamples(s string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(raw)%audio.BytesPerFloat32 != 0 {
		return nil, fmt.Errorf("sample payload of %d bytes is not float32 aligned", len(raw))
	}
	return audio.BytesToFloat32(raw), nil
}
