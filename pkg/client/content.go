package client

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/fruitsalade/storeclient/internal/metrics"
	"github.com/fruitsalade/storeclient/pkg/protocol"
)

// FilePayload is file content sent by Create and Update.
type FilePayload struct {
	// Filename is reported in the multipart part. Defaults to the node name.
	Filename string
	// ContentType of the data part. Defaults to application/octet-stream.
	ContentType string
	Reader      io.Reader
}

// ContentInfo describes a content response.
type ContentInfo struct {
	Filename   string
	Mimetype   string
	Size       int64 // -1 when the server sent no length
	Attachment bool
}

// ParseContentInfo reads the content headers of a Content response.
func ParseContentInfo(resp *http.Response) ContentInfo {
	info := ContentInfo{
		Size:     resp.ContentLength,
		Mimetype: resp.Header.Get("Content-Type"),
	}
	if info.Size < 0 {
		if n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil {
			info.Size = n
		}
	}
	if mt, _, err := mime.ParseMediaType(info.Mimetype); err == nil {
		info.Mimetype = mt
	}

	cd := strings.TrimSpace(resp.Header.Get("Content-Disposition"))
	if cd == "" {
		return info
	}
	disposition, params, err := mime.ParseMediaType(cd)
	if err != nil {
		// Some stores send only "filename=..." without a disposition type.
		disposition, params, err = mime.ParseMediaType("inline; " + cd)
	}
	if err == nil {
		info.Attachment = disposition == "attachment"
		info.Filename = params["filename"]
		return info
	}

	lower := strings.ToLower(cd)
	info.Attachment = strings.HasPrefix(lower, "attachment")
	if i := strings.Index(lower, "filename="); i >= 0 {
		info.Filename = strings.Trim(strings.TrimSpace(cd[i+len("filename="):]), `"`)
	}
	return info
}

// multipartBody builds a multipart form. The name field is written first
// when non-empty, then the data part.
func multipartBody(name string, file *FilePayload) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)

	if name != "" {
		if err := mw.WriteField(protocol.FieldName, name); err != nil {
			return nil, "", err
		}
	}

	filename := file.Filename
	if filename == "" {
		filename = name
	}
	if filename == "" {
		filename = "data"
	}
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		protocol.FieldData, escapeQuotes(filename)))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if file.Reader != nil {
		n, err := io.Copy(part, file.Reader)
		if err != nil {
			return nil, "", fmt.Errorf("read file payload: %w", err)
		}
		metrics.RecordContentUpload(n)
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf, mw.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// countingBody records downloaded bytes when the body is closed.
type countingBody struct {
	io.ReadCloser
	n int64
}

func (c *countingBody) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingBody) Close() error {
	metrics.RecordContentDownload(c.n)
	c.n = 0
	return c.ReadCloser.Close()
}
