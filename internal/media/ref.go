package media

import (
	"fmt"
	"net/url"
	"strings"
)

// Platform classifies where a media reference points. The captions fast
// path only ever applies to YouTube.
type Platform string

const (
	PlatformYouTube Platform = "youtube"
	PlatformSocial  Platform = "social"
	PlatformGeneric Platform = "generic"
	PlatformUpload  Platform = "upload"
)

// Ref identifies the media to transcribe. Exactly one of URL or UploadPath
// is set; UploadPath points to a file already saved locally.
type Ref struct {
	URL        string `json:"url,omitempty"`
	UploadPath string `json:"upload_path,omitempty"`
}

func (r Ref) Platform() Platform {
	if r.UploadPath != "" {
		return PlatformUpload
	}
	if IsYouTubeURL(r.URL) {
		return PlatformYouTube
	}
	if IsSocialURL(r.URL) {
		return PlatformSocial
	}
	return PlatformGeneric
}

// Key returns a stable identity for dedupe and probe caching.
func (r Ref) Key() string {
	if r.UploadPath != "" {
		return "upload:" + r.UploadPath
	}
	return "url:" + r.URL
}

var youtubeHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
	"youtu.be":          true,
}

var socialHosts = []string{
	"tiktok.com",
	"twitter.com",
	"x.com",
	"instagram.com",
	"facebook.com",
	"reddit.com",
}

func IsYouTubeURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return youtubeHosts[strings.ToLower(u.Host)]
}

func IsSocialURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	for _, known := range socialHosts {
		if host == known || strings.HasSuffix(host, "."+known) {
			return true
		}
	}
	return false
}

// ExtractVideoID pulls the 11-character video id out of the supported
// YouTube URL shapes: watch?v=, youtu.be/, embed/, shorts/.
func ExtractVideoID(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || !IsYouTubeURL(raw) {
		return "", fmt.Errorf("not a YouTube URL: %q", raw)
	}

	var id string
	switch {
	case strings.EqualFold(u.Host, "youtu.be"):
		id = strings.Trim(u.Path, "/")
	case strings.HasPrefix(u.Path, "/embed/"):
		id = strings.TrimPrefix(u.Path, "/embed/")
	case strings.HasPrefix(u.Path, "/shorts/"):
		id = strings.TrimPrefix(u.Path, "/shorts/")
	default:
		id = u.Query().Get("v")
	}
	id = strings.Trim(id, "/")
	if idx := strings.IndexAny(id, "/?&"); idx >= 0 {
		id = id[:idx]
	}

	if !isValidVideoID(id) {
		return "", fmt.Errorf("no video id in URL: %q", raw)
	}
	return id, nil
}

func isValidVideoID(id string) bool {
	if len(id) != 11 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
