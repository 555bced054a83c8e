package whatsapp

import (
	"fmt"
	"io"

	"github.com/mdp/qrterminal/v3"
	"github.com/skip2/go-qrcode"

	"wabridge/pkg/config"
)

// DefaultQRSize is the PNG edge length in pixels.
const DefaultQRSize = 512

// EncodePNG renders a pairing code as a PNG image.
func EncodePNG(code string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultQRSize
	}
	png, err := qrcode.Encode(code, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode pairing code: %w", err)
	}
	return png, nil
}

// qrRenderer shows each new pairing code to the operator.
type qrRenderer struct {
	terminal  io.Writer
	imagePath string
}

func (r qrRenderer) render(code string) error {
	if r.terminal != nil {
		qrterminal.GenerateHalfBlock(code, qrterminal.L, r.terminal)
	}
	if r.imagePath == "" {
		return nil
	}
	if err := config.EnsureDir(r.imagePath); err != nil {
		return err
	}
	if err := qrcode.WriteFile(code, qrcode.Medium, DefaultQRSize, r.imagePath); err != nil {
		return fmt.Errorf("write pairing code image: %w", err)
	}
	return nil
}
