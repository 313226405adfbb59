package httpconn

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/yourusername/reactorhttpd/internal/buffer"
	"github.com/yourusername/reactorhttpd/internal/mimetype"
)

var codeStatus = map[int]string{
	200: "OK",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
}

var codePath = map[int]string{
	400: "/400.html",
	403: "/403.html",
	404: "/404.html",
}

// Response assembles the status line, headers, and body for one request
// onto a buffer.Buffer, mapping the served file privately into memory so
// its bytes never cross into user space through a syscall copy.
type Response struct {
	Code        int
	Path        string
	SrcDir      string
	IsKeepAlive bool

	mmapRegion []byte // owns an OS mapping; released by Unmap
}

// NewResponse mirrors the source's Init: code == -1 means "undetermined,
// let MakeResponse decide".
func NewResponse(srcDir, path string, keepAlive bool, code int) *Response {
	return &Response{Code: code, Path: path, SrcDir: srcDir, IsKeepAlive: keepAlive}
}

// Unmap releases the memory-mapped file region, if any. Safe to call
// multiple times.
func (r *Response) Unmap() {
	if r.mmapRegion != nil {
		unix.Munmap(r.mmapRegion)
		r.mmapRegion = nil
	}
}

// FileRegion returns the mapped file bytes to be written as iov[1], or nil
// if the response body was inlined into buf instead.
func (r *Response) FileRegion() []byte { return r.mmapRegion }

// MakeResponse implements spec.md §4.D's makeResponse contract: stat,
// classify 404/403/200, substitute canonical error pages, then append the
// status line, headers, and either the mmap'd file or an inline error body.
func (r *Response) MakeResponse(buf *buffer.Buffer) {
	full := filepath.Join(r.SrcDir, r.Path)
	st, err := os.Stat(full)
	switch {
	case err != nil || st.IsDir():
		r.Code = 404
	case st.Mode().Perm()&0004 == 0:
		r.Code = 403
	case r.Code == -1:
		r.Code = 200
	}

	r.substituteErrorPage()
	r.addStatusLine(buf)
	r.addHeaders(buf)
	r.addContent(buf)
}

// MakeErrorResponse serves a protocol-level error (400 malformed, 413 too
// large) detected before any request path could be resolved, so there is
// nothing meaningful to stat. It skips MakeResponse's stat-driven
// classification and goes straight to the canonical-error-page
// substitution, status line, headers, and content — addContent's open()
// failure against a srcDir lacking e.g. 400.html is what produces the
// inline HTML fallback body.
func (r *Response) MakeErrorResponse(buf *buffer.Buffer) {
	r.substituteErrorPage()
	r.addStatusLine(buf)
	r.addHeaders(buf)
	r.addContent(buf)
}

// substituteErrorPage re-resolves Path to the canonical error page for
// codes in {400, 403, 404}; MakeResponse re-stats implicitly on its next
// call to addContent via os.Open/os.Stat against the new Path.
func (r *Response) substituteErrorPage() {
	if p, ok := codePath[r.Code]; ok {
		r.Path = p
	}
}

func (r *Response) addStatusLine(buf *buffer.Buffer) {
	status, ok := codeStatus[r.Code]
	if !ok {
		r.Code = 400
		status = codeStatus[400]
	}
	buf.AppendString(fmt.Sprintf("HTTP/1.1 %d %s\r\n", r.Code, status))
}

func (r *Response) addHeaders(buf *buffer.Buffer) {
	buf.AppendString("Connection: ")
	if r.IsKeepAlive {
		buf.AppendString("keep-alive\r\n")
		buf.AppendString("keep-alive: max=6, timeout=120\r\n")
	} else {
		buf.AppendString("close\r\n")
	}
	buf.AppendString("Content-type: " + mimetype.ForPath(r.Path) + "\r\n")
}

func (r *Response) addContent(buf *buffer.Buffer) {
	full := filepath.Join(r.SrcDir, r.Path)
	f, err := os.Open(full)
	if err != nil {
		r.errorContent(buf, "File NotFound!")
		return
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil || st.Size() == 0 {
		r.errorContent(buf, "File NotFound!")
		return
	}

	region, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		r.errorContent(buf, "File NotFound!")
		return
	}
	r.mmapRegion = region
	buf.AppendString("Content-length: " + strconv.FormatInt(st.Size(), 10) + "\r\n\r\n")
}

// errorContent builds the inline HTML fallback body used when even the
// canonical error page cannot be opened or mapped.
func (r *Response) errorContent(buf *buffer.Buffer, message string) {
	status, ok := codeStatus[r.Code]
	if !ok {
		status = "Bad Request"
	}
	body := fmt.Sprintf(
		"<html><title>Error</title><body bgcolor=\"ffffff\">%d : %s\n<p>%s</p><hr><em>reactorhttpd</em></body></html>",
		r.Code, status, message,
	)
	buf.AppendString("Content-length: " + strconv.Itoa(len(body)) + "\r\n\r\n")
	buf.AppendString(body)
}
