package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/paperfold/fortuneteller/internal/filesource"
	"github.com/paperfold/fortuneteller/internal/workflow"
)

// formOverhead leaves room for multipart boundaries and the other form fields
const formOverhead = 1 << 20

// formSource reads the first file posted under the "file" field. Any further
// files are left unread, so only the first of a multi-file drop is validated.
func (h *Handler) formSource(w http.ResponseWriter, r *http.Request) (filesource.Source, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+formOverhead)
	if err := r.ParseMultipartForm(h.maxUploadBytes + formOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w (max %d bytes)", filesource.ErrTooLarge, h.maxUploadBytes)
		}
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, workflow.ErrNoFile
		}
		return nil, fmt.Errorf("failed to parse upload: %w", err)
	}

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		return nil, workflow.ErrNoFile
	}
	src, err := filesource.FromMultipart(headers[0], h.maxUploadBytes)
	if err != nil {
		return nil, err
	}
	return src, nil
}
