package transport

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"exchanged/internal/message"
	"exchanged/internal/model"
	"exchanged/internal/uri"
)

const (
	headerContentLength    = message.HeaderParamPrefix + "CONTENT_LENGTH"
	headerTransferEncoding = message.HeaderParamPrefix + "TRANSFER_ENCODING"
)

// spool tracks what an exchange left on disk.
type spool struct {
	paths []string
	form  *multipart.Form
}

func (s *spool) cleanup() {
	for _, p := range s.paths {
		_ = os.Remove(p)
	}
	if s.form != nil {
		_ = s.form.RemoveAll()
	}
}

// snapshot extracts everything message.NewRequest needs from c. The returned
// spool is never nil and must be cleaned up once the exchange is over.
func (a *Adapter) snapshot(c echo.Context) (message.Snapshot, *spool, error) {
	r := c.Request()
	sp := &spool{}

	snap := message.Snapshot{
		Query:      queryParams(r),
		Server:     serverParams(r),
		Cookies:    cookieParams(r),
		Attributes: attributes(c),
		Body:       r.Body,
	}

	if r.Method != http.MethodPost {
		return snap, sp, nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get(echo.HeaderContentType))
	switch mediaType {
	case echo.MIMEApplicationForm:
		if err := r.ParseForm(); err != nil {
			return snap, sp, fmt.Errorf("parse form: %w", err)
		}
	case echo.MIMEMultipartForm:
		if err := r.ParseMultipartForm(a.opts.MaxMemory); err != nil {
			return snap, sp, fmt.Errorf("parse multipart form: %w", err)
		}
		sp.form = r.MultipartForm
		snap.Files = a.spoolFiles(r.MultipartForm.File, sp)
	default:
		return snap, sp, nil
	}

	snap.Form = lastValues(r.PostForm)
	snap.Body = http.NoBody
	return snap, sp, nil
}

// queryParams decodes the raw query with the same rules as uri.URI so both
// views of the request agree.
func queryParams(r *http.Request) map[string]string {
	if r.URL.RawQuery == "" {
		return nil
	}
	return uri.URI{}.WithQuery(r.URL.RawQuery).QueryParams()
}

func serverParams(r *http.Request) map[string]string {
	server := map[string]string{
		message.ServerRequestMethod: r.Method,
		message.ServerRequestURI:    r.URL.RequestURI(),
		message.ServerProtocol:      r.Proto,
		message.ServerHTTPHost:      r.Host,
	}
	if r.TLS != nil {
		server[message.ServerHTTPS] = "on"
	}
	if host, _, err := net.SplitHostPort(r.Host); err == nil {
		server[message.ServerName] = host
	} else {
		server[message.ServerName] = r.Host
	}

	if la, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		if host, port, err := net.SplitHostPort(la.String()); err == nil {
			server[message.ServerAddr] = host
			server[message.ServerPort] = port
		}
	}

	if host, port, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		server[message.ServerRemoteAddr] = host
		server[message.ServerRemotePort] = port
	} else if r.RemoteAddr != "" {
		server[message.ServerRemoteAddr] = r.RemoteAddr
	}

	if user, pass, ok := r.BasicAuth(); ok {
		server[message.ServerAuthUser] = user
		server[message.ServerAuthPassword] = pass
	}

	for name, values := range r.Header {
		key := message.HeaderParamPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		server[key] = strings.Join(values, ", ")
	}
	// net/http moves framing out of the header map.
	switch {
	case r.ContentLength > 0:
		server[headerContentLength] = strconv.FormatInt(r.ContentLength, 10)
	case r.ContentLength < 0:
		server[headerTransferEncoding] = "chunked"
	}
	return server
}

// cookieParams keeps the first cookie of each name; browsers send the most
// specific path first.
func cookieParams(r *http.Request) map[string]string {
	cookies := r.Cookies()
	if len(cookies) == 0 {
		return nil
	}
	out := make(map[string]string, len(cookies))
	for _, ck := range cookies {
		if _, ok := out[ck.Name]; !ok {
			out[ck.Name] = ck.Value
		}
	}
	return out
}

// attributes exposes route parameters and the request id to the pipeline.
func attributes(c echo.Context) map[string]any {
	attrs := make(map[string]any)
	values := c.ParamValues()
	for i, name := range c.ParamNames() {
		if i < len(values) {
			attrs[name] = values[i]
		}
	}
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		attrs[AttrRequestID] = id
	}
	return attrs
}

func lastValues(v map[string][]string) map[string]string {
	if len(v) == 0 {
		return nil
	}
	out := make(map[string]string, len(v))
	for k, vals := range v {
		if len(vals) > 0 {
			out[k] = vals[len(vals)-1]
		}
	}
	return out
}

// spoolFiles copies every uploaded part into the upload directory. A field
// takes the multi-file shape when it carries more than one file or its name
// ends in "[]".
func (a *Adapter) spoolFiles(fields map[string][]*multipart.FileHeader, sp *spool) map[string]model.FileEntry {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]model.FileEntry, len(fields))
	for field, headers := range fields {
		if len(headers) == 0 {
			continue
		}
		name := strings.TrimSuffix(field, "[]")
		files := make([]model.UploadedFile, 0, len(headers))
		for _, fh := range headers {
			files = append(files, a.spoolFile(fh, sp))
		}
		if len(files) > 1 || name != field {
			out[name] = model.MultipleFiles(files...)
		} else {
			out[name] = model.SingleFile(files[0])
		}
	}
	return out
}

func (a *Adapter) spoolFile(fh *multipart.FileHeader, sp *spool) model.UploadedFile {
	f := model.UploadedFile{
		Name: fh.Filename,
		Type: fh.Header.Get(echo.HeaderContentType),
		Size: fh.Size,
	}
	if fh.Filename == "" && fh.Size == 0 {
		f.Error = model.UploadNoFile
		return f
	}

	f.Error = a.copyUpload(fh, &f, sp)

	outcome := "ok"
	if f.Error != model.UploadOK {
		outcome = "error"
		a.logger.Warn("upload spool failed", "file", fh.Filename, "code", f.Error)
	}
	if a.metrics != nil {
		a.metrics.UploadedFiles.WithLabelValues(outcome).Inc()
	}
	return f
}

func (a *Adapter) copyUpload(fh *multipart.FileHeader, f *model.UploadedFile, sp *spool) int {
	src, err := fh.Open()
	if err != nil {
		return model.UploadPartial
	}
	defer func() { _ = src.Close() }()

	dst, err := os.CreateTemp(a.opts.TempDir, "upload-*")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.UploadNoTmpDir
		}
		return model.UploadCantWrite
	}
	sp.paths = append(sp.paths, dst.Name())

	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return model.UploadCantWrite
	}

	f.TmpName = dst.Name()
	f.Size = n
	return model.UploadOK
}
