package constants

// DefaultMimeType is the fallback MIME type for unknown media kinds
const DefaultMimeType = "application/octet-stream"

// KindMimeTypes is the content type assumed for inline payloads of each
// media kind.
var KindMimeTypes = map[string]string{
	"image":    "image/jpeg",
	"audio":    "audio/mpeg",
	"document": "application/pdf",
}

// ContentTypeToExtension maps content types to file extensions
var ContentTypeToExtension = map[string]string{
	"audio/ogg":  "ogg",
	"audio/mpeg": "mp3",
	"audio/mp3":  "mp3",
	"audio/aac":  "aac",
	"audio/mp4":  "m4a",
	"audio/wav":  "wav",

	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",

	"application/pdf":    "pdf",
	"application/msword": "doc",
	"text/plain":         "txt",

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "docx",
}

// ExtensionFor returns the file extension for a content type, or "bin".
func ExtensionFor(contentType string) string {
	if ext, ok := ContentTypeToExtension[contentType]; ok {
		return ext
	}
	return "bin"
}
