package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fulmenhq/metakernel/pkg/logger"
	"github.com/fulmenhq/metakernel/pkg/remote"
	"github.com/fulmenhq/metakernel/pkg/safeio"
)

const (
	defaultTransferTimeout = 30 * time.Minute
	// DefaultFallbackSize is the progress total assumed when the server
	// omits Content-Length.
	DefaultFallbackSize int64 = 1 << 20
	copyBufferSize            = 64 << 10
)

// ProgressFunc receives the running byte count of one transfer. done never
// decreases; total is the advertised length or the fallback size, raised to
// done if the body turns out longer.
type ProgressFunc func(name string, done, total int64)

// Action tells what Fetch decided for one file.
type Action int

const (
	Downloaded Action = iota
	UpToDate
)

func (a Action) String() string {
	switch a {
	case Downloaded:
		return "downloaded"
	case UpToDate:
		return "up to date"
	default:
		return "unknown"
	}
}

// Options configures a Fetcher
type Options struct {
	HTTP         remote.HTTPFetcher
	Timeout      time.Duration // Per-transfer deadline
	FallbackSize int64
	Progress     ProgressFunc
}

// Request names one remote file and where it goes locally.
type Request struct {
	BaseURL string // Remote folder URL
	Name    string // File name inside BaseURL
	Dir     string // Local destination directory
	Force   bool   // Transfer even when the local copy looks current
}

// Result describes the outcome of a successful Fetch.
type Result struct {
	Path          string
	Action        Action
	Bytes         int64
	RemoteModTime time.Time
}

// Fetcher downloads single files, skipping transfers whose local copy is no
// older than the remote one.
type Fetcher struct {
	http         remote.HTTPFetcher
	timeout      time.Duration
	fallbackSize int64
	progress     ProgressFunc
}

// New creates a Fetcher
func New(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTransferTimeout
	}
	if opts.FallbackSize <= 0 {
		opts.FallbackSize = DefaultFallbackSize
	}
	return &Fetcher{
		http:         opts.HTTP,
		timeout:      opts.Timeout,
		fallbackSize: opts.FallbackSize,
		progress:     opts.Progress,
	}
}

// Fetch brings req.Name into req.Dir. Without Force an existing local file
// is revalidated with If-Modified-Since and kept when the server answers 304
// or reports a Last-Modified that is not newer. The body is streamed into a
// temporary file in req.Dir and renamed into place only once complete, so a
// failed transfer never leaves a truncated kernel under the final name.
// After a transfer the file's mtime is set to the remote Last-Modified.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (Result, error) {
	dest, err := safeio.JoinContained(req.Dir, req.Name)
	if err != nil {
		return Result{}, err
	}
	fileURL, err := FileURL(req.BaseURL, req.Name)
	if err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(req.Dir, safeio.DirMode); err != nil {
		return Result{}, fmt.Errorf("failed to create directory %s: %w", req.Dir, err)
	}

	var localMod time.Time
	if !req.Force {
		if st, err := os.Stat(dest); err == nil && st.Mode().IsRegular() {
			localMod = st.ModTime().Truncate(time.Second)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to build request for %s: %w", fileURL, err)
	}
	if !localMod.IsZero() {
		httpReq.Header.Set("If-Modified-Since", localMod.UTC().Format(http.TimeFormat))
	}

	resp, err := f.http.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("failed to download %s: %w", fileURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	uptodate := Result{Path: dest, Action: UpToDate}

	if resp.StatusCode == http.StatusNotModified {
		if localMod.IsZero() {
			return Result{}, &TransferError{URL: fileURL, StatusCode: resp.StatusCode}
		}
		logger.Debug("kernel up to date", logger.String("file", req.Name))
		return uptodate, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Result{}, &TransferError{
			URL:        fileURL,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	remoteMod, _ := http.ParseTime(resp.Header.Get("Last-Modified"))
	if !localMod.IsZero() && !remoteMod.IsZero() && !remoteMod.After(localMod) {
		// server ignored If-Modified-Since
		logger.Debug("kernel up to date", logger.String("file", req.Name), logger.String("remote_mtime", remoteMod.UTC().Format(time.RFC3339)))
		uptodate.RemoteModTime = remoteMod
		return uptodate, nil
	}

	start := time.Now()
	n, err := f.download(ctx, resp, dest, req.Name, remoteMod)
	if err != nil {
		return Result{}, fmt.Errorf("failed to download %s: %w", fileURL, err)
	}

	logger.Info("kernel downloaded",
		logger.String("file", req.Name),
		logger.Int64("bytes", n),
		logger.Duration("took", time.Since(start)))
	return Result{Path: dest, Action: Downloaded, Bytes: n, RemoteModTime: remoteMod}, nil
}

func (f *Fetcher) download(ctx context.Context, resp *http.Response, dest, name string, remoteMod time.Time) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+name+".*.part")
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(err error) (int64, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return 0, err
	}

	total := resp.ContentLength
	if total <= 0 {
		total = f.fallbackSize
	}
	n, err := f.copyWithProgress(ctx, tmp, resp.Body, name, total)
	if err != nil {
		return fail(fmt.Errorf("failed to write file: %w", err))
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return fail(fmt.Errorf("short body: got %d of %d bytes", n, resp.ContentLength))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("failed to close file: %w", err)
	}
	if !remoteMod.IsZero() {
		if err := os.Chtimes(tmpName, time.Now(), remoteMod); err != nil {
			_ = os.Remove(tmpName)
			return 0, fmt.Errorf("failed to set modification time: %w", err)
		}
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("failed to move file: %w", err)
	}
	return n, nil
}

func (f *Fetcher) copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, name string, total int64) (int64, error) {
	var done int64
	f.report(name, done, total)
	buf := make([]byte, copyBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			done += int64(nw)
			if werr != nil {
				return done, werr
			}
			if nw != nr {
				return done, io.ErrShortWrite
			}
			if done > total {
				total = done
			}
			f.report(name, done, total)
		}
		if rerr == io.EOF {
			return done, nil
		}
		if rerr != nil {
			return done, rerr
		}
	}
}

func (f *Fetcher) report(name string, done, total int64) {
	if f.progress != nil {
		f.progress(name, done, total)
	}
}

// FileURL joins a folder URL and a file name, escaping the name.
func FileURL(baseURL, name string) (string, error) {
	base, err := remote.NormalizeDirURL(baseURL)
	if err != nil {
		return "", err
	}
	ref := &url.URL{Path: name}
	return base.ResolveReference(ref).String(), nil
}
