package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-resty/resty/v2"

	"github.com/fieldhq/fieldsync/internal/errors"
)

// ProgressFunc receives upload progress as a whole percentage, 0 to 100.
type ProgressFunc func(percent int)

// PhotoUpload describes one outbound photo binary. TaskServerID is the
// owning task's server identifier; uploads are only attempted once the
// parent task has been pushed.
type PhotoUpload struct {
	TaskServerID string
	FilePath     string
	MimeType     string
	Latitude     *float64
	Longitude    *float64
}

// UploadPhoto sends a photo as multipart form data and returns the
// server's handle for the stored binary. Connectivity failures keep
// their ErrRemoteUnreachable code; every other failure is an
// ErrUploadFailed.
func (c *Client) UploadPhoto(ctx context.Context, upload PhotoUpload, progress ProgressFunc) (*UploadResult, error) {
	f, err := os.Open(upload.FilePath)
	if err != nil {
		return nil, errors.Wrap(errors.ErrUploadFailed, "cannot open photo file", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(errors.ErrUploadFailed, "cannot stat photo file", err)
	}

	reader := &progressReader{r: f, total: info.Size(), report: progress}

	form := map[string]string{
		"task_id": upload.TaskServerID,
	}
	if upload.MimeType != "" {
		form["mime_type"] = upload.MimeType
	}
	if upload.Latitude != nil {
		form["latitude"] = strconv.FormatFloat(*upload.Latitude, 'f', -1, 64)
	}
	if upload.Longitude != nil {
		form["longitude"] = strconv.FormatFloat(*upload.Longitude, 'f', -1, 64)
	}

	var result UploadResult
	err = c.request(ctx, http.MethodPost, "/files/upload", func(req *resty.Request) {
		req.SetFileReader("file", filepath.Base(upload.FilePath), reader)
		req.SetFormData(form)
	}, &result)
	if err != nil {
		if errors.Is(err, errors.ErrRemoteUnreachable) {
			return nil, err
		}
		return nil, errors.Wrap(errors.ErrUploadFailed, fmt.Sprintf("upload rejected for task %s", upload.TaskServerID), err)
	}

	// Terminal tick, covering empty files and rounding shortfalls.
	if progress != nil && reader.last != 100 {
		progress(100)
	}
	return &result, nil
}

// progressReader reports consumption of the wrapped reader as a whole
// percentage. The multipart body is built by draining the reader, so the
// callback tracks read progress rather than bytes on the wire.
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	last   int
	report ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		p.tick()
	}
	return n, err
}

func (p *progressReader) tick() {
	if p.report == nil || p.total <= 0 {
		return
	}
	percent := int(p.read * 100 / p.total)
	if percent > 100 {
		percent = 100
	}
	if percent != p.last {
		p.last = percent
		p.report(percent)
	}
}
