package attachment

import (
	"crypto/rand"
	"math"
	"mime"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// headerLen is how many leading bytes content sniffing needs.
const headerLen = 8

var blockedExtensions = setOf(
	"exe", "bat", "cmd", "com", "scr", "vbs", "js", "jar",
	"sh", "app", "deb", "rpm", "dmg", "pkg", "msi",
)

var allowedExtensions = setOf(
	"jpg", "jpeg", "png", "gif", "webp", "svg",
	"pdf", "doc", "docx", "xls", "xlsx", "ppt", "pptx",
	"txt", "md", "csv",
	"mp4", "mov", "avi", "mp3", "wav",
)

var allowedMIMETypes = setOf(
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"image/svg+xml",
	"video/mp4",
	"video/quicktime",
	"video/x-msvideo",
	"video/webm",
	"audio/mpeg",
	"audio/wav",
	"audio/ogg",
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.ms-powerpoint",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"text/plain",
	"text/csv",
	"text/markdown",
)

// magicNumbers maps a declared type to its leading bytes; -1 matches any byte.
var magicNumbers = map[string][]int{
	"image/jpeg":      {0xFF, 0xD8, 0xFF},
	"image/png":       {0x89, 0x50, 0x4E, 0x47},
	"image/gif":       {0x47, 0x49, 0x46},
	"application/pdf": {0x25, 0x50, 0x44, 0x46},
	"video/mp4":       {0x00, 0x00, 0x00, -1, 0x66, 0x74, 0x79, 0x70},
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Extension returns the lower-cased text after the last dot, or "".
func Extension(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(name[idx+1:])
}

// NormalizeMIME drops parameters and lower-cases the media type.
func NormalizeMIME(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}

// ValidateFile checks the file name, the declared content type and, for
// types with a known signature, the leading bytes of the content.
func ValidateFile(name, contentType string, header []byte) error {
	ext := Extension(name)
	if ext == "" {
		return &ValidationError{Message: "No file extension found"}
	}
	if blockedExtensions[ext] {
		return &ValidationError{Message: "File type not allowed for security reasons"}
	}
	if !allowedExtensions[ext] {
		return &ValidationError{Message: "Invalid file type"}
	}

	mediaType := NormalizeMIME(contentType)
	if !allowedMIMETypes[mediaType] {
		return &ValidationError{Message: "File type not supported"}
	}

	if !matchesMagic(magicNumbers[mediaType], header) {
		return &ValidationError{Message: "File content does not match declared type (possible fake extension)"}
	}
	return nil
}

func matchesMagic(signature []int, header []byte) bool {
	if len(header) < len(signature) {
		return false
	}
	for i, want := range signature {
		if want >= 0 && header[i] != byte(want) {
			return false
		}
	}
	return true
}

// GenerateFileName builds "<unix ms>-<random>-<sanitized base>.<ext>".
func GenerateFileName(original string, now time.Time) string {
	base := path.Base(strings.ReplaceAll(original, `\`, "/"))
	ext := Extension(base)
	stem := base
	if idx := strings.LastIndex(base, "."); idx >= 0 {
		stem = base[:idx]
	}
	stem = unsafeNameChars.ReplaceAllString(stem, "-")

	random := strings.ToLower(rand.Text())[:12]
	name := strconv.FormatInt(now.UnixMilli(), 10) + "-" + random + "-" + stem
	if ext != "" {
		name += "." + unsafeNameChars.ReplaceAllString(ext, "")
	}
	return name
}

// ContentTypeFor guesses a response type from a stored file name.
func ContentTypeFor(name string) string {
	if ext := Extension(name); ext != "" {
		if ctype := mime.TypeByExtension("." + ext); ctype != "" {
			return ctype
		}
	}
	return "application/octet-stream"
}

// FormatSize renders a byte count the way upload limits are shown to users.
func FormatSize(n int64) string {
	if n <= 0 {
		return "0 Bytes"
	}
	units := []string{"Bytes", "KB", "MB", "GB"}
	value := float64(n)
	i := 0
	for value >= 1024 && i < len(units)-1 {
		value /= 1024
		i++
	}
	return strconv.FormatFloat(math.Round(value*100)/100, 'f', -1, 64) + " " + units[i]
}

func setOf(values ...string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
