package analysis

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

var (
	ErrNoImage         = errors.New("no image supplied")
	ErrUnsupportedType = errors.New("unsupported image type")
)

// IsInputError reports whether err was caused by the uploaded artifact rather
// than by the model.
func IsInputError(err error) bool {
	return errors.Is(err, ErrNoImage) || errors.Is(err, ErrUnsupportedType)
}

const (
	MimePNG  = "image/png"
	MimeJPEG = "image/jpeg"
)

// AllowedExtensions are the upload extensions accepted by every front-end.
var AllowedExtensions = []string{".png", ".jpg", ".jpeg"}

// ImageArtifact is one uploaded image, held only for the duration of a request.
type ImageArtifact struct {
	Name     string
	MimeType string
	Data     []byte
}

func (a ImageArtifact) Empty() bool {
	return len(a.Data) == 0
}

// NewImageArtifact resolves the MIME type of data and checks it is PNG or
// JPEG. declaredMime (e.g. a multipart Content-Type) wins when it is usable;
// otherwise the content is sniffed, then the file extension is consulted.
func NewImageArtifact(data []byte, name, declaredMime string) (ImageArtifact, error) {
	if len(data) == 0 {
		return ImageArtifact{}, ErrNoImage
	}

	if ext := strings.ToLower(filepath.Ext(name)); ext != "" && !allowedExtension(ext) {
		return ImageArtifact{}, fmt.Errorf("%w: extension %s", ErrUnsupportedType, ext)
	}

	mimeType := normalizeMime(declaredMime)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = normalizeMime(http.DetectContentType(data))
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimeFromExtension(name)
	}

	if mimeType != MimePNG && mimeType != MimeJPEG {
		return ImageArtifact{}, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}

	artifact := ImageArtifact{MimeType: mimeType, Data: data}
	if name != "" {
		artifact.Name = filepath.Base(name)
	}
	return artifact, nil
}

func normalizeMime(value string) string {
	value = strings.TrimSpace(value)
	if strings.Contains(value, ";") {
		value = strings.TrimSpace(strings.SplitN(value, ";", 2)[0])
	}
	value = strings.ToLower(value)
	if value == "image/jpg" || value == "image/pjpeg" {
		value = MimeJPEG
	}
	return value
}

func mimeFromExtension(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return MimePNG
	case ".jpg", ".jpeg":
		return MimeJPEG
	}
	return ""
}

func allowedExtension(ext string) bool {
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}
