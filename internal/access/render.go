package access

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// RenderFormat selects how an issued token is delivered to the client.
type RenderFormat string

const (
	// RenderRaw returns the sealed blob as-is.
	RenderRaw RenderFormat = "raw"
	// RenderPNG returns a QR code image of the blob.
	RenderPNG RenderFormat = "png"
	// RenderDataURL returns the QR code as a data: URL for direct embedding.
	RenderDataURL RenderFormat = "data-url"
)

const qrSizePixels = 256

// Render encodes an issued token in the requested format. PNG and data-url
// formats wrap the blob in a QR code so it can be scanned at the vehicle.
func Render(token IssuedToken, format RenderFormat) (contentType string, body []byte, err error) {
	switch format {
	case RenderRaw, "":
		return "text/plain; charset=utf-8", []byte(token.Blob), nil
	case RenderPNG:
		png, err := qrcode.Encode(token.Blob, qrcode.Medium, qrSizePixels)
		if err != nil {
			return "", nil, fmt.Errorf("access: qr encoding failed: %w", err)
		}
		return "image/png", png, nil
	case RenderDataURL:
		png, err := qrcode.Encode(token.Blob, qrcode.Medium, qrSizePixels)
		if err != nil {
			return "", nil, fmt.Errorf("access: qr encoding failed: %w", err)
		}
		url := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
		return "text/plain; charset=utf-8", []byte(url), nil
	default:
		return "", nil, fmt.Errorf("access: unknown render format %q", format)
	}
}
