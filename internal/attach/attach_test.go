package attach

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	apperrors "github.com/timberline/fleetsync/internal/errors"
	"github.com/timberline/fleetsync/internal/models"
	"github.com/timberline/fleetsync/internal/store"
)

func newTestStager(t *testing.T, maxBytes int64) (*Stager, *store.Store) {
	t.Helper()

	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return NewStager(s, maxBytes), s
}

// encodePNG renders a solid-color PNG of the given dimensions.
func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 100, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func TestStageClassifiesImage(t *testing.T) {
	st, s := newTestStager(t, 0)

	att, err := st.Stage("inspection.png", encodePNG(t, 16, 16))
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}

	if att.Class != models.AttachmentImage {
		t.Errorf("Expected image class, got %s", att.Class)
	}
	if att.ID == "" {
		t.Error("Expected attachment id")
	}

	body, err := s.GetBlob(att.ID)
	if err != nil {
		t.Fatalf("Expected staged body in blob bucket: %v", err)
	}
	if int64(len(body)) != att.Size {
		t.Errorf("Size mismatch: ref says %d, body is %d", att.Size, len(body))
	}
}

func TestStageClassifiesGenericFile(t *testing.T) {
	st, _ := newTestStager(t, 0)

	att, err := st.Stage("service-manual.txt", []byte("torque spec: 110 Nm"))
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if att.Class != models.AttachmentFile {
		t.Errorf("Expected file class, got %s", att.Class)
	}
}

func TestStageRejectsOversizedNonImage(t *testing.T) {
	st, _ := newTestStager(t, 64)

	_, err := st.Stage("dump.bin", bytes.Repeat([]byte{0x42}, 200))
	if !apperrors.Is(err, apperrors.ErrAttachmentTooLarge) {
		t.Errorf("Expected ATTACHMENT_TOO_LARGE, got %v", err)
	}
}

func TestStageDownscalesOversizedImage(t *testing.T) {
	// A ceiling small enough to force the PNG through the shrink path but
	// large enough to hold the re-encoded JPEG.
	original := encodePNG(t, 400, 400)
	st, _ := newTestStager(t, int64(len(original))-1)

	att, err := st.Stage("big.png", original)
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}

	if att.Size >= int64(len(original)) {
		t.Errorf("Expected downscaled body smaller than original %d, got %d", len(original), att.Size)
	}
	if att.Class != models.AttachmentImage {
		t.Errorf("Expected image class, got %s", att.Class)
	}
}

func TestStageRejectsEmptyBody(t *testing.T) {
	st, _ := newTestStager(t, 0)

	_, err := st.Stage("empty", nil)
	if !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("Expected INVALID_INPUT, got %v", err)
	}
}

func TestLoadAndDiscard(t *testing.T) {
	st, _ := newTestStager(t, 0)

	att, err := st.Stage("note.txt", []byte("greased all zerks"))
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}

	body, err := st.Load(att)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(body) != "greased all zerks" {
		t.Errorf("Unexpected body %q", body)
	}

	if err := st.Discard([]models.Attachment{att}); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}

	if _, err := st.Load(att); !apperrors.Is(err, apperrors.ErrAttachmentMissing) {
		t.Errorf("Expected missing blob after discard, got %v", err)
	}
}
