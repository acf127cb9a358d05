// Package qr renders session payloads as QR images for the instructor
// screen.
package qr

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

const defaultSize = 256

// EncodePNG renders the payload as a PNG of size x size pixels.
func EncodePNG(payload string, size int) ([]byte, error) {
	if size <= 0 {
		size = defaultSize
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("qr: encode failed: %w", err)
	}
	return png, nil
}
