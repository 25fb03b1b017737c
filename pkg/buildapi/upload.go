package buildapi

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
)

const (
	// uploadBatchLimit caps the summed file size of one upload batch. A
	// single object larger than the limit still ships, alone.
	uploadBatchLimit = 4 << 20

	// uploadBlockSize is the read block used while streaming a file into
	// the request body, bounding peak memory regardless of object size.
	uploadBlockSize = 64 << 10
)

// UploadFile names one local file to transmit under a remote part name. The
// underlying handle is opened lazily when its batch is actually sent.
type UploadFile struct {
	Name string
	Path string
	Size int64
}

// NewUploadFile stats path and pairs it with its remote name.
func NewUploadFile(name, path string) (UploadFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return UploadFile{}, fmt.Errorf("stat upload file: %w", err)
	}
	return UploadFile{Name: name, Path: path, Size: info.Size()}, nil
}

// UploadObjects packs files into byte-bounded batches and sends them in
// order, one network exchange per batch. Before a file that would push the
// pending batch over the limit, the batch is flushed first; a failed batch
// is retried whole by the retry layer.
func (c *Client) UploadObjects(ctx context.Context, buildURL string, files []UploadFile) error {
	var pending []UploadFile
	var pendingSize int64

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		err := c.uploadBatch(ctx, buildURL, pending)
		pending = pending[:0]
		pendingSize = 0
		return err
	}

	for _, f := range files {
		if len(pending) > 0 && pendingSize+f.Size > uploadBatchLimit {
			if err := flush(); err != nil {
				return err
			}
		}
		pending = append(pending, f)
		pendingSize += f.Size
	}
	return flush()
}

func (c *Client) uploadBatch(ctx context.Context, buildURL string, batch []UploadFile) error {
	reqURL := buildURL + "/upload"
	c.logger.Debug("uploading batch", "files", len(batch))

	// A fresh pipe per attempt: the body is produced while the request is
	// in flight, so a retry rebuilds it from the source files.
	build := func(ctx context.Context) (*http.Request, error) {
		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		go func() {
			pw.CloseWithError(writeBatch(mw, batch))
		}()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, pr)
		if err != nil {
			pr.Close()
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		c.applyAuth(req)
		return req, nil
	}

	res, err := doWithRetry(ctx, c.httpClient, build, c.budget, nil)
	if err != nil {
		return err
	}
	if res.status != http.StatusOK {
		return newAPIError(reqURL, res)
	}
	return nil
}

// writeBatch streams every file of a batch into the multipart body in
// fixed-size blocks. Each handle is opened just before its first block and
// closed right after its last.
func writeBatch(mw *multipart.Writer, batch []UploadFile) error {
	for _, f := range batch {
		part, err := mw.CreateFormFile("file", f.Name)
		if err != nil {
			return err
		}
		if err := streamFile(part, f.Path); err != nil {
			return fmt.Errorf("send %s: %w", f.Name, err)
		}
	}
	return mw.Close()
}

func streamFile(dst io.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}

	buf := make([]byte, uploadBlockSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				src.Close()
				return werr
			}
		}
		if rerr == io.EOF {
			return src.Close()
		}
		if rerr != nil {
			src.Close()
			return rerr
		}
	}
}
