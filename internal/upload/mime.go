package upload

import "strings"

// ExtForContentType maps an audio content type to a file extension.
func ExtForContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "" {
		return ".bin"
	}
	base := strings.TrimSpace(strings.Split(ct, ";")[0])
	switch base {
	case "audio/webm":
		return ".webm"
	case "audio/ogg", "application/ogg":
		return ".ogg"
	case "audio/mp4", "video/mp4":
		return ".m4a"
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}

// MimeForFilename guesses a content type from the file extension.
func MimeForFilename(fn string) string {
	fn = strings.ToLower(fn)
	switch {
	case strings.HasSuffix(fn, ".webm"):
		return "audio/webm"
	case strings.HasSuffix(fn, ".ogg"):
		return "audio/ogg"
	case strings.HasSuffix(fn, ".m4a"), strings.HasSuffix(fn, ".mp4"):
		return "audio/mp4"
	case strings.HasSuffix(fn, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(fn, ".wav"):
		return "audio/wav"
	case strings.HasSuffix(fn, ".flac"):
		return "audio/flac"
	case strings.HasSuffix(fn, ".png"):
		return "image/png"
	case strings.HasSuffix(fn, ".jpg"), strings.HasSuffix(fn, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(fn, ".pdf"):
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// BaseContentType strips parameters such as codecs from ct.
func BaseContentType(ct string) string {
	return strings.TrimSpace(strings.Split(ct, ";")[0])
}
