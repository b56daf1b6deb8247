package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulmenhq/metakernel/pkg/remote"
	"github.com/fulmenhq/metakernel/pkg/safeio"
)

// kernelServer serves fixed files with real conditional-GET semantics and
// counts full-body responses.
type kernelServer struct {
	mu        sync.Mutex
	files     map[string][]byte
	modtime   map[string]time.Time
	transfers int
	srv       *httptest.Server
}

func newKernelServer(t *testing.T) *kernelServer {
	t.Helper()
	ks := &kernelServer{files: map[string][]byte{}, modtime: map[string]time.Time{}}
	ks.srv = httptest.NewServer(http.HandlerFunc(ks.serve))
	t.Cleanup(ks.srv.Close)
	return ks
}

func (ks *kernelServer) put(name string, data []byte, mod time.Time) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.files[name] = data
	ks.modtime[name] = mod
}

func (ks *kernelServer) serve(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/kernels/")
	ks.mu.Lock()
	data, ok := ks.files[name]
	mod := ks.modtime[name]
	ks.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	http.ServeContent(rec, r, name, mod, bytes.NewReader(data))
	if rec.status == http.StatusOK {
		ks.mu.Lock()
		ks.transfers++
		ks.mu.Unlock()
	}
}

func (ks *kernelServer) count() int {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.transfers
}

func (ks *kernelServer) base() string { return ks.srv.URL + "/kernels/" }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

var remoteMod = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func newTestFetcher(srv *httptest.Server, progress ProgressFunc) *Fetcher {
	return New(Options{HTTP: remote.NewRealHTTPFetcher(srv.Client()), Timeout: 5 * time.Second, Progress: progress})
}

func assertNoPartFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return
	}
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".part"), "leftover temp file %s", e.Name())
	}
}

func TestFetchDownloadsAndPreservesRemoteMtime(t *testing.T) {
	ks := newKernelServer(t)
	ks.put("naif0012.tls", []byte("KPL/LSK\n"), remoteMod)
	dir := filepath.Join(t.TempDir(), "generic", "kernels", "lsk")

	res, err := newTestFetcher(ks.srv, nil).Fetch(context.Background(), Request{BaseURL: ks.base(), Name: "naif0012.tls", Dir: dir})
	require.NoError(t, err)

	assert.Equal(t, Downloaded, res.Action)
	assert.Equal(t, int64(8), res.Bytes)
	assert.Equal(t, filepath.Join(dir, "naif0012.tls"), res.Path)
	content, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "KPL/LSK\n", string(content))

	st, err := os.Stat(res.Path)
	require.NoError(t, err)
	assert.True(t, st.ModTime().Equal(remoteMod), "mtime %v, want %v", st.ModTime(), remoteMod)
	assertNoPartFiles(t, dir)
}

func TestFetchCreatesDirectoryWithDirMode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX permissions")
	}
	ks := newKernelServer(t)
	ks.put("pck00011.tpc", []byte("KPL/PCK\n"), remoteMod)
	dir := filepath.Join(t.TempDir(), "generic", "kernels", "pck")

	_, err := newTestFetcher(ks.srv, nil).Fetch(context.Background(), Request{BaseURL: ks.base(), Name: "pck00011.tpc", Dir: dir})
	require.NoError(t, err)
	st, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, safeio.DirMode, st.Mode().Perm())
}

func TestFetchTwiceTransfersOnce(t *testing.T) {
	ks := newKernelServer(t)
	ks.put("de440s.bsp", []byte("DAF/SPK"), remoteMod)
	dir := t.TempDir()
	f := newTestFetcher(ks.srv, nil)
	req := Request{BaseURL: ks.base(), Name: "de440s.bsp", Dir: dir}

	first, err := f.Fetch(context.Background(), req)
	require.NoError(t, err)
	second, err := f.Fetch(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, Downloaded, first.Action)
	assert.Equal(t, UpToDate, second.Action)
	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, 1, ks.count())
}

func TestFetchForceAlwaysTransfers(t *testing.T) {
	ks := newKernelServer(t)
	ks.put("pck00011.tpc", []byte("KPL/PCK"), remoteMod)
	dir := t.TempDir()
	f := newTestFetcher(ks.srv, nil)
	req := Request{BaseURL: ks.base(), Name: "pck00011.tpc", Dir: dir}

	_, err := f.Fetch(context.Background(), req)
	require.NoError(t, err)

	req.Force = true
	for i := 0; i < 2; i++ {
		res, err := f.Fetch(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, Downloaded, res.Action)
	}
	assert.Equal(t, 3, ks.count())
}

func TestFetchRemoteNewerTransfersAgain(t *testing.T) {
	ks := newKernelServer(t)
	ks.put("juno_v12.tf", []byte("v1"), remoteMod)
	dir := t.TempDir()
	f := newTestFetcher(ks.srv, nil)
	req := Request{BaseURL: ks.base(), Name: "juno_v12.tf", Dir: dir}

	_, err := f.Fetch(context.Background(), req)
	require.NoError(t, err)

	ks.put("juno_v12.tf", []byte("v2"), remoteMod.Add(24*time.Hour))
	res, err := f.Fetch(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, Downloaded, res.Action)
	content, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(content))
	assert.Equal(t, 2, ks.count())
}

func TestFetchServerIgnoringConditionalHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", remoteMod.Format(http.TimeFormat))
		_, _ = w.Write([]byte("remote copy"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	local := filepath.Join(dir, "sat441.bsp")
	require.NoError(t, os.WriteFile(local, []byte("local copy"), 0o644))
	newer := remoteMod.Add(time.Hour)
	require.NoError(t, os.Chtimes(local, newer, newer))

	res, err := newTestFetcher(srv, nil).Fetch(context.Background(), Request{BaseURL: srv.URL + "/spk/satellites/", Name: "sat441.bsp", Dir: dir})
	require.NoError(t, err)

	assert.Equal(t, UpToDate, res.Action)
	content, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "local copy", string(content))
}

func TestFetchErrorStatusIsTransferError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("access denied\n"))
	}))
	defer srv.Close()
	dir := t.TempDir()

	_, err := newTestFetcher(srv, nil).Fetch(context.Background(), Request{BaseURL: srv.URL + "/fk/", Name: "cas_dyn_v03.tf", Dir: dir})
	require.Error(t, err)

	var te *TransferError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusForbidden, te.StatusCode)
	assert.Equal(t, "access denied", te.Body)
	assert.Equal(t, srv.URL+"/fk/cas_dyn_v03.tf", te.URL)
	assert.True(t, IsTransferError(err))
	_, statErr := os.Stat(filepath.Join(dir, "cas_dyn_v03.tf"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetchProgressIsMonotonic(t *testing.T) {
	ks := newKernelServer(t)
	payload := bytes.Repeat([]byte("k"), 3*copyBufferSize+17)
	ks.put("big.bsp", payload, remoteMod)

	var mu sync.Mutex
	var dones []int64
	var totals []int64
	progress := func(name string, done, total int64) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "big.bsp", name)
		dones = append(dones, done)
		totals = append(totals, total)
	}

	_, err := newTestFetcher(ks.srv, progress).Fetch(context.Background(), Request{BaseURL: ks.base(), Name: "big.bsp", Dir: t.TempDir()})
	require.NoError(t, err)

	require.NotEmpty(t, dones)
	assert.Equal(t, int64(0), dones[0])
	assert.Equal(t, int64(len(payload)), dones[len(dones)-1])
	for i := 1; i < len(dones); i++ {
		assert.GreaterOrEqual(t, dones[i], dones[i-1])
	}
	for _, total := range totals {
		assert.Equal(t, int64(len(payload)), total)
	}
}

func TestFetchProgressFallbackTotal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		_, _ = w.Write(bytes.Repeat([]byte("x"), 25))
	}))
	defer srv.Close()

	var lastDone, lastTotal int64
	var firstTotal int64 = -1
	f := New(Options{
		HTTP:         remote.NewRealHTTPFetcher(srv.Client()),
		FallbackSize: 10,
		Progress: func(_ string, done, total int64) {
			if firstTotal < 0 {
				firstTotal = total
			}
			lastDone, lastTotal = done, total
		},
	})

	_, err := f.Fetch(context.Background(), Request{BaseURL: srv.URL + "/", Name: "stream.bsp", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, int64(10), firstTotal)
	assert.Equal(t, int64(25), lastDone)
	assert.Equal(t, int64(25), lastTotal)
}

func TestFetchCanceledMidTransfer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(bytes.Repeat([]byte("a"), 4096))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := New(Options{
		HTTP: remote.NewRealHTTPFetcher(srv.Client()),
		Progress: func(_ string, done, _ int64) {
			if done > 0 {
				cancel()
			}
		},
	})
	dir := t.TempDir()

	_, err := f.Fetch(ctx, Request{BaseURL: srv.URL + "/", Name: "huge.bsp", Dir: dir})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(filepath.Join(dir, "huge.bsp"))
	assert.True(t, os.IsNotExist(statErr))
	assertNoPartFiles(t, dir)
}

func TestFetchRejectsEscapingNames(t *testing.T) {
	f := New(Options{HTTP: remote.NewMockHTTPFetcher()})
	_, err := f.Fetch(context.Background(), Request{BaseURL: "https://example.test/spk/", Name: "../evil.bsp", Dir: t.TempDir()})
	assert.Error(t, err)
}

func TestFileURL(t *testing.T) {
	got, err := FileURL("https://naif.jpl.nasa.gov/pub/naif/VOYAGER/kernels/spk", "Voyager_1.a54206u_V0.2_merged.bsp")
	require.NoError(t, err)
	assert.Equal(t, "https://naif.jpl.nasa.gov/pub/naif/VOYAGER/kernels/spk/Voyager_1.a54206u_V0.2_merged.bsp", got)

	got, err = FileURL("https://example.test/a/", "with space.bsp")
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/a/with%20space.bsp", got)
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "downloaded", Downloaded.String())
	assert.Equal(t, "up to date", UpToDate.String())
	assert.Equal(t, "unknown", Action(9).String())
}
