// Package archivetest serves an in-memory kernel archive for tests.
// Directory URLs render Apache-style indexes and file URLs honour
// conditional GETs, like the NAIF server.
package archivetest

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// Root is the archive path prefix, mirroring /pub/naif/.
const Root = "/pub/naif/"

// ModTime is the Last-Modified time of every file.
var ModTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

// GenericFiles mirrors the generic_kernels folders, including files the
// built-in catalog must not select.
var GenericFiles = []string{
	"generic_kernels/lsk/naif0012.tls",
	"generic_kernels/lsk/naif0012.tls.pc",
	"generic_kernels/lsk/latest_leapseconds.tls",
	"generic_kernels/lsk/aareadme.txt",
	"generic_kernels/pck/pck00011.tpc",
	"generic_kernels/pck/pck00010.tpc",
	"generic_kernels/spk/planets/de440s.bsp",
	"generic_kernels/spk/planets/de440s.bsp.lbl",
	"generic_kernels/spk/satellites/jup365.bsp",
	"generic_kernels/spk/satellites/sat441.bsp",
	"generic_kernels/spk/satellites/ura111.bsp",
}

// VoyagerFiles is the VOYAGER spk folder.
var VoyagerFiles = []string{
	"VOYAGER/kernels/spk/Voyager_1.a54206u_V0.2_merged.bsp",
	"VOYAGER/kernels/spk/Voyager_2.m05016u.merged.bsp",
	"VOYAGER/kernels/spk/vgr1_jup230.bsp",
}

// Voyager returns GenericFiles plus VoyagerFiles.
func Voyager() []string {
	out := append([]string{}, GenericFiles...)
	return append(out, VoyagerFiles...)
}

// Archive is a running fake archive.
type Archive struct {
	mu       sync.Mutex
	files    map[string][]byte
	requests map[string]int
	srv      *httptest.Server
}

// New starts an archive holding files (paths relative to Root). It is
// closed when the test ends.
func New(t testing.TB, files ...string) *Archive {
	t.Helper()
	a := &Archive{files: map[string][]byte{}, requests: map[string]int{}}
	for _, f := range files {
		a.files[Root+f] = []byte("KPL/" + f)
	}
	a.srv = httptest.NewServer(http.HandlerFunc(a.serve))
	t.Cleanup(a.srv.Close)
	return a
}

// BaseURL is the archive root URL, ending in a slash.
func (a *Archive) BaseURL() string { return a.srv.URL + Root }

// Client returns an HTTP client for the archive.
func (a *Archive) Client() *http.Client { return a.srv.Client() }

// Count returns how many requests hit path (relative to Root).
func (a *Archive) Count(path string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests[Root+path]
}

// Total returns the number of requests served.
func (a *Archive) Total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.requests {
		n += c
	}
	return n
}

func (a *Archive) serve(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	a.requests[r.URL.Path]++
	data, isFile := a.files[r.URL.Path]
	var children []string
	if strings.HasSuffix(r.URL.Path, "/") {
		for p := range a.files {
			rest, ok := strings.CutPrefix(p, r.URL.Path)
			if ok && !strings.Contains(rest, "/") {
				children = append(children, rest)
			}
		}
	}
	a.mu.Unlock()

	if isFile {
		http.ServeContent(w, r, r.URL.Path, ModTime, bytes.NewReader(data))
		return
	}
	if len(children) == 0 {
		http.NotFound(w, r)
		return
	}
	sort.Strings(children)
	var b strings.Builder
	b.WriteString(`<html><body><h1>Index</h1><pre><a href="?C=N;O=D">Name</a> <a href="../">Parent Directory</a>` + "\n")
	for _, c := range children {
		fmt.Fprintf(&b, "<a href=%q>%s</a>\n", c, c)
	}
	b.WriteString("</pre></body></html>")
	w.Header().Set("Content-Type", "text/html;charset=UTF-8")
	_, _ = w.Write([]byte(b.String()))
}
