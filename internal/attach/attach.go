// Package attach stages attachment binaries for offline-queued mutations.
// Bodies live in the store's blob bucket, never inside queue snapshots,
// and are capped in size so a queued video cannot exhaust local storage.
package attach

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	apperrors "github.com/timberline/fleetsync/internal/errors"
	"github.com/timberline/fleetsync/internal/logging"
	"github.com/timberline/fleetsync/internal/models"
	"github.com/timberline/fleetsync/internal/store"
)

const (
	// DefaultMaxBytes caps a staged attachment body.
	DefaultMaxBytes = 8 << 20 // 8 MiB

	// Oversized images are downscaled to fit this bounding box and
	// re-encoded before the size ceiling is enforced.
	resizeBound   = 1600
	resizeQuality = 80
)

// Stager stores attachment bodies in the local blob bucket and returns
// references for the queue to carry.
type Stager struct {
	store    *store.Store
	maxBytes int64
}

// NewStager creates a Stager. A maxBytes of zero uses DefaultMaxBytes.
func NewStager(s *store.Store, maxBytes int64) *Stager {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Stager{store: s, maxBytes: maxBytes}
}

// Stage classifies, bounds, and persists one attachment body. Oversized
// images are downscaled to fit the ceiling; anything else over the ceiling
// is rejected.
func (st *Stager) Stage(name string, data []byte) (models.Attachment, error) {
	if len(data) == 0 {
		return models.Attachment{}, apperrors.New(apperrors.ErrInvalid, "empty attachment body")
	}

	class := classify(mimetype.Detect(data))

	if int64(len(data)) > st.maxBytes {
		if class != models.AttachmentImage {
			return models.Attachment{}, apperrors.New(apperrors.ErrAttachmentTooLarge,
				fmt.Sprintf("attachment %q is %d bytes, limit is %d", name, len(data), st.maxBytes))
		}

		shrunk, err := shrinkImage(data)
		if err != nil {
			return models.Attachment{}, apperrors.Wrap(apperrors.ErrAttachmentUnsupported,
				fmt.Sprintf("failed to downscale image %q", name), err)
		}
		if int64(len(shrunk)) > st.maxBytes {
			return models.Attachment{}, apperrors.New(apperrors.ErrAttachmentTooLarge,
				fmt.Sprintf("image %q still exceeds %d bytes after downscaling", name, st.maxBytes))
		}

		logging.Info("Downscaled oversized image attachment",
			map[string]interface{}{"name": name, "original": len(data), "stored": len(shrunk)})
		data = shrunk
	}

	att := models.Attachment{
		ID:    uuid.New().String(),
		Name:  name,
		Class: class,
		Size:  int64(len(data)),
	}

	if err := st.store.PutBlob(att.ID, att.Name, data); err != nil {
		return models.Attachment{}, err
	}

	return att, nil
}

// Load returns a staged attachment body by reference.
func (st *Stager) Load(att models.Attachment) ([]byte, error) {
	return st.store.GetBlob(att.ID)
}

// Discard removes staged bodies that will never be uploaded.
func (st *Stager) Discard(atts []models.Attachment) error {
	ids := make([]string, 0, len(atts))
	for _, a := range atts {
		ids = append(ids, a.ID)
	}
	return st.store.DeleteBlobs(ids)
}

// classify maps a sniffed content type onto the upload classes the remote
// service distinguishes.
func classify(mt *mimetype.MIME) models.AttachmentClass {
	switch {
	case strings.HasPrefix(mt.String(), "image/"):
		return models.AttachmentImage
	case strings.HasPrefix(mt.String(), "video/"):
		return models.AttachmentVideo
	default:
		return models.AttachmentFile
	}
}

// shrinkImage decodes, fits the image into the resize bounding box, and
// re-encodes as JPEG.
func shrinkImage(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}

	fitted := imaging.Fit(img, resizeBound, resizeBound, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, fitted, &jpeg.Options{Quality: resizeQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
