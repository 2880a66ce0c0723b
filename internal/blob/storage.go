package blob

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// Storage uploads attachment binaries and returns a locator for them.
type Storage interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

const (
	thumbnailWidth  = 200
	thumbnailHeight = 200
)

// ObjectKey builds a collision-free key for a file uploaded into a room.
func ObjectKey(roomID int64, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("attachments/%d/%s%s", roomID, uuid.NewString(), ext)
}

// ThumbnailKey derives the thumbnail key from an attachment key.
func ThumbnailKey(key string) string {
	return strings.TrimSuffix(key, path.Ext(key)) + "_thumb.jpg"
}

// Thumbnail decodes an image and returns a JPEG cropped to fill 200x200.
func Thumbnail(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	thumb := imaging.Fill(src, thumbnailWidth, thumbnailHeight, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
