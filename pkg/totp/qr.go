package totp

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"

	"github.com/pquerna/otp"
)

// WriteQRCode renders the provisioning URI as a PNG at the given path.
// The containing directory is created on demand and an existing image is
// overwritten, so repeated calls for the same user are idempotent.
func WriteQRCode(uri, path string, size int) error {
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return fmt.Errorf("failed to parse otpauth uri: %w", err)
	}

	img, err := key.Image(size, size)
	if err != nil {
		return fmt.Errorf("failed to render qr code: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create qr code directory: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create qr code file: %w", err)
	}

	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to encode qr code png: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close qr code file: %w", err)
	}

	// Atomic rename so readers never see a half-written image
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename qr code file: %w", err)
	}

	return nil
}
