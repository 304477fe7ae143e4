package upload

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// UploadResponse is the body of a 201 answer.
type UploadResponse struct {
	Filename string `json:"filename"`
}

// HandleUpload serves POST /<store>/upload?name=<name>. The raw request body
// is the file content. idleTimeout bounds how long the body may stall between
// reads; zero disables it.
func HandleUpload(c *Controller, idleTimeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := io.Reader(r.Body)
		if idleTimeout > 0 {
			rc := http.NewResponseController(w)
			body = &idleReader{r: r.Body, rc: rc, timeout: idleTimeout}
			defer func() { _ = rc.SetReadDeadline(time.Time{}) }()
		}

		blob, err := c.Admit(r.Context(), r.URL.Query().Get("name"), r.ContentLength, body)
		if err != nil {
			http.Error(w, errorText(c.policy, err), statusOf(err))
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, UploadResponse{Filename: blob.Name})
	}
}

// HandleList serves GET /files: a JSON array of stored names.
func HandleList(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := store.Names(r.Context())
		if err != nil {
			logrus.WithError(err).WithField("path", store.Dir()).Error("Failed to list files")
			http.Error(w, "Failed to list files", http.StatusInternalServerError)
			return
		}
		render.JSON(w, r, names)
	}
}

func statusOf(err error) int {
	var ae *AdmissionError
	if errors.As(err, &ae) {
		return ae.Status()
	}
	return http.StatusInternalServerError
}

func errorText(p Policy, err error) string {
	switch KindOf(err) {
	case KindBadRequest:
		if errors.Is(err, ErrNameTooLong) {
			return "Filename too long"
		}
		return "Missing filename"
	case KindConflict:
		return "File already exists"
	case KindPayloadTooLarge:
		return p.TooLargeText
	default:
		return p.FailureText
	}
}

// idleReader pushes the connection read deadline forward before every read,
// so a stalled body fails instead of holding the upload open forever.
type idleReader struct {
	r        io.Reader
	rc       *http.ResponseController
	timeout  time.Duration
	disabled bool
}

func (ir *idleReader) Read(p []byte) (int, error) {
	if !ir.disabled {
		if err := ir.rc.SetReadDeadline(time.Now().Add(ir.timeout)); err != nil {
			// Recorders and some wrappers cannot set deadlines.
			ir.disabled = true
		}
	}
	return ir.r.Read(p)
}
