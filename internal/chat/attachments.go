package chat

import (
	"fmt"
	"mime"
	"path"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// File categories accepted for attachments.
const (
	FileImage    = "image"
	FileVideo    = "video"
	FileAudio    = "audio"
	FileDocument = "document"
	FileOther    = "file"
)

const mb = 1024 * 1024

var maxFileSize = map[string]int64{
	FileImage:    10 * mb,
	FileVideo:    50 * mb,
	FileAudio:    20 * mb,
	FileDocument: 10 * mb,
	FileOther:    25 * mb,
}

// a category missing here accepts any extension
var allowedExtensions = map[string][]string{
	FileImage:    {"jpg", "jpeg", "png", "gif", "webp"},
	FileVideo:    {"mp4", "avi", "mov", "wmv", "flv", "webm"},
	FileAudio:    {"mp3", "wav", "ogg", "aac", "m4a"},
	FileDocument: {"pdf", "doc", "docx", "txt", "rtf", "odt"},
}

func extension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
}

// ValidateAttachment enforces the per-category size limit and extension list.
func ValidateAttachment(fileType, filename string, size int64) error {
	limit, ok := maxFileSize[fileType]
	if !ok {
		return invalid(fmt.Sprintf("Unsupported file type: %s", fileType))
	}
	if size <= 0 {
		return invalid("File is empty")
	}
	if size > limit {
		return invalid(fmt.Sprintf("File size exceeds %dMB limit for %s files", limit/mb, fileType))
	}
	if allowed, ok := allowedExtensions[fileType]; ok && !slices.Contains(allowed, extension(filename)) {
		return invalid(fmt.Sprintf("File extension .%s is not allowed for %s files", extension(filename), fileType))
	}
	return nil
}

// MimeFromName guesses a MIME type from the file extension.
func MimeFromName(filename string) string {
	if t := mime.TypeByExtension(path.Ext(filename)); t != "" {
		mediaType, _, err := mime.ParseMediaType(t)
		if err == nil {
			return mediaType
		}
		return t
	}
	return "application/octet-stream"
}

// Classify picks the attachment category from detected content, falling
// back to the extension for documents.
func Classify(filename string, detected *mimetype.MIME) string {
	for m := detected; m != nil; m = m.Parent() {
		switch {
		case strings.HasPrefix(m.String(), "image/"):
			return FileImage
		case strings.HasPrefix(m.String(), "video/"):
			return FileVideo
		case strings.HasPrefix(m.String(), "audio/"):
			return FileAudio
		}
	}
	if slices.Contains(allowedExtensions[FileDocument], extension(filename)) {
		return FileDocument
	}
	return FileOther
}
