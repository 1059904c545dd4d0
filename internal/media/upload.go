package media

import (
	"fmt"
	"mime"
	"strings"
)

// uploadExtensions maps accepted upload content types to file extensions.
var uploadExtensions = map[string]string{
	"audio/mpeg":      ".mp3",
	"audio/mp3":       ".mp3",
	"audio/wav":       ".wav",
	"audio/x-wav":     ".wav",
	"audio/mp4":       ".m4a",
	"audio/m4a":       ".m4a",
	"audio/aac":       ".aac",
	"audio/ogg":       ".ogg",
	"audio/flac":      ".flac",
	"audio/webm":      ".webm",
	"video/mp4":       ".mp4",
	"video/mpeg":      ".mpeg",
	"video/webm":      ".webm",
	"video/x-m4v":     ".m4v",
	"video/quicktime": ".mov",
}

// ExtForContentType validates an upload content type against the allow-list
// and returns the extension to store the artifact under. Parameters such as
// charset are ignored.
func ExtForContentType(contentType string) (string, error) {
	parsed, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		parsed = strings.ToLower(strings.TrimSpace(contentType))
	}
	if ext, ok := uploadExtensions[parsed]; ok {
		return ext, nil
	}
	return "", fmt.Errorf("unsupported media content type %q", contentType)
}
