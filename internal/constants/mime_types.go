package constants

// DefaultImageExtension is used when a download carries no recognizable content type.
const DefaultImageExtension = ".jpg"

// DefaultMimeType is the fallback MIME type for unknown uploads
const DefaultMimeType = "application/octet-stream"

// ContentTypeToExtension maps provider content types to stored file extensions
var ContentTypeToExtension = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// ImageMimeTypes maps upload extensions to the MIME types accepted by the provider
var ImageMimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".jfif": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}
