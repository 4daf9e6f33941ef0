package downloader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/gaiadb/pkg/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func payload(n int) []byte {
	r := rand.New(rand.NewSource(42))
	b := make([]byte, n)
	_, _ = r.Read(b)
	return b
}

func newTestDownloader(t *testing.T, attempts int) *Downloader {
	t.Helper()
	d, err := New(Config{
		TempDir:        t.TempDir(),
		Parallelism:    2,
		MaxAttempts:    attempts,
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		RequestTimeout: 5 * time.Second,
		UserAgent:      "gaiadb-test",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// recorder counts requests and remembers their Range headers.
type recorder struct {
	mu     sync.Mutex
	ranges []string
}

func (r *recorder) record(req *http.Request) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ranges = append(r.ranges, req.Header.Get("Range"))
	return len(r.ranges)
}

func (r *recorder) requests() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ranges...)
}

func serve(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func serveContent(content []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "file.csv.gz", time.Time{}, bytes.NewReader(content))
	}
}

func TestDownloadFile(t *testing.T) {
	content := payload(256 * 1024)
	rec := &recorder{}
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		assert.Equal(t, "gaiadb-test", r.Header.Get("User-Agent"))
		serveContent(content)(w, r)
	})
	d := newTestDownloader(t, 3)
	ctx := context.Background()

	path, err := d.DownloadFile(ctx, srv.URL+"/gdr3/GaiaSource_000000-003111.csv.gz")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(d.TempDir(), "GaiaSource_000000-003111.csv.gz"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.NoFileExists(t, path+PartSuffix)

	p, ok := d.Progress(srv.URL + "/gdr3/GaiaSource_000000-003111.csv.gz")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, int64(len(content)), p.BytesDownloaded)
	assert.Equal(t, 1, p.Attempts)

	// complete file on disk: no request
	_, err = d.DownloadFile(ctx, srv.URL+"/gdr3/GaiaSource_000000-003111.csv.gz")
	require.NoError(t, err)
	assert.Len(t, rec.requests(), 1)
}

func TestDownloadResumesPartialFile(t *testing.T) {
	content := payload(100 * 1024)
	rec := &recorder{}
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		serveContent(content)(w, r)
	})
	d := newTestDownloader(t, 3)
	url := srv.URL + "/a.csv.gz"

	local, err := d.LocalPath(url)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(local+PartSuffix, content[:40000], 0o644))

	path, err := d.DownloadFile(context.Background(), url)
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, []string{"bytes=40000-"}, rec.requests())
}

func TestDownloadRestartsOnUnsatisfiableRange(t *testing.T) {
	content := payload(10 * 1024)
	rec := &recorder{}
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		serveContent(content)(w, r)
	})
	d := newTestDownloader(t, 1)
	url := srv.URL + "/b.csv.gz"

	local, _ := d.LocalPath(url)
	require.NoError(t, os.WriteFile(local+PartSuffix, payload(20*1024), 0o644))

	path, err := d.DownloadFile(context.Background(), url)
	require.NoError(t, err, "restart must not consume the only attempt")
	got, _ := os.ReadFile(path)
	assert.Equal(t, content, got)
	assert.Equal(t, []string{"bytes=20480-", ""}, rec.requests())
}

func TestDownloadRestartsOnMismatchedContentRange(t *testing.T) {
	content := payload(10 * 1024)
	rec := &recorder{}
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		if r.Header.Get("Range") != "" {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-9/%d", len(content)))
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write(content[:10])
			return
		}
		serveContent(content)(w, r)
	})
	d := newTestDownloader(t, 1)
	url := srv.URL + "/c.csv.gz"

	local, _ := d.LocalPath(url)
	require.NoError(t, os.WriteFile(local+PartSuffix, content[:500], 0o644))

	path, err := d.DownloadFile(context.Background(), url)
	require.NoError(t, err)
	got, _ := os.ReadFile(path)
	assert.Equal(t, content, got)
	assert.Len(t, rec.requests(), 2)
}

func TestDownloadRewritesWhenRangeIgnored(t *testing.T) {
	content := payload(10 * 1024)
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		_, _ = w.Write(content)
	})
	d := newTestDownloader(t, 1)
	url := srv.URL + "/d.csv.gz"

	local, _ := d.LocalPath(url)
	require.NoError(t, os.WriteFile(local+PartSuffix, payload(3000), 0o644))

	path, err := d.DownloadFile(context.Background(), url)
	require.NoError(t, err)
	got, _ := os.ReadFile(path)
	assert.Equal(t, content, got)
}

func TestDownloadRetriesTransientFailures(t *testing.T) {
	content := payload(64 * 1024)
	rec := &recorder{}
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		n := rec.record(r)
		switch n {
		case 1:
			panic(http.ErrAbortHandler)
		case 2:
			// headers and a third of the body, then a dropped connection
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			_, _ = w.Write(content[:len(content)/3])
			w.(http.Flusher).Flush()
			panic(http.ErrAbortHandler)
		}
		serveContent(content)(w, r)
	})
	d := newTestDownloader(t, 3)
	url := srv.URL + "/e.csv.gz"

	path, err := d.DownloadFile(context.Background(), url)
	require.NoError(t, err)
	got, _ := os.ReadFile(path)
	assert.Equal(t, content, got)
	assert.Equal(t, []string{"", "", fmt.Sprintf("bytes=%d-", len(content)/3)}, rec.requests())

	p, _ := d.Progress(url)
	assert.Equal(t, 3, p.Attempts)
}

func TestDownloadExhaustsAttempts(t *testing.T) {
	rec := &recorder{}
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		panic(http.ErrAbortHandler)
	})
	d := newTestDownloader(t, 2)
	url := srv.URL + "/f.csv.gz"

	_, err := d.DownloadFile(context.Background(), url)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection), "got %v", err)
	assert.Len(t, rec.requests(), 2)

	p, _ := d.Progress(url)
	assert.Equal(t, StatusFailed, p.Status)
	assert.NotEmpty(t, p.LastError)
}

func TestDownloadDoesNotRetryHTTPErrors(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusForbidden, http.StatusServiceUnavailable} {
		t.Run(strconv.Itoa(status), func(t *testing.T) {
			rec := &recorder{}
			srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
				rec.record(r)
				w.WriteHeader(status)
			})
			d := newTestDownloader(t, 5)

			_, err := d.DownloadFile(context.Background(), srv.URL+"/missing.csv.gz")
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeHTTP))
			assert.False(t, errors.IsRetryable(err))
			assert.Len(t, rec.requests(), 1)
		})
	}
}

func TestDownloadRejectsInvalidURLs(t *testing.T) {
	d := newTestDownloader(t, 5)
	for _, u := range []string{"ftp://host/file.gz", "http://host/", "://bad"} {
		_, err := d.DownloadFile(context.Background(), u)
		require.Error(t, err, u)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation), u)
	}
}

func TestDownloadHonorsCancellation(t *testing.T) {
	srv := serve(t, serveContent(payload(10)))
	d := newTestDownloader(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.DownloadFile(ctx, srv.URL+"/g.csv.gz")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDownloadBatch(t *testing.T) {
	content := payload(8 * 1024)
	var inflight, maxInflight int32
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		cur := atomic.AddInt32(&inflight, 1)
		defer atomic.AddInt32(&inflight, -1)
		for {
			prev := atomic.LoadInt32(&maxInflight)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxInflight, prev, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		if r.URL.Path == "/missing.csv.gz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		serveContent(content)(w, r)
	})
	d := newTestDownloader(t, 2)

	urls := []string{
		srv.URL + "/1.csv.gz",
		srv.URL + "/missing.csv.gz",
		srv.URL + "/3.csv.gz",
		srv.URL + "/4.csv.gz",
		srv.URL + "/5.csv.gz",
	}
	results := d.DownloadBatch(context.Background(), urls)
	require.Len(t, results, len(urls))
	for i, res := range results {
		assert.Equal(t, urls[i], res.URL)
		if i == 1 {
			assert.Error(t, res.Err)
			assert.Empty(t, res.Path)
			continue
		}
		require.NoError(t, res.Err)
		assert.Equal(t, filepath.Base(urls[i]), filepath.Base(res.Path))
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&maxInflight), int32(2))
	assert.Len(t, d.AllProgress(), len(urls))

	d.ClearProgress()
	assert.Empty(t, d.AllProgress())
}

func TestStreamDownloadResumesMidBody(t *testing.T) {
	content := payload(300 * 1024)
	rec := &recorder{}
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if rec.record(r) == 1 {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			_, _ = w.Write(content[:len(content)/3])
			w.(http.Flusher).Flush()
			panic(http.ErrAbortHandler)
		}
		serveContent(content)(w, r)
	})
	d := newTestDownloader(t, 3)
	url := srv.URL + "/s.csv.gz"

	body, err := d.StreamDownload(context.Background(), url)
	require.NoError(t, err)
	got, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())

	assert.Equal(t, content, got)
	assert.Equal(t, []string{"", fmt.Sprintf("bytes=%d-", len(content)/3)}, rec.requests())
	p, _ := d.Progress(url)
	assert.Equal(t, StatusCompleted, p.Status)
}

func TestStreamDownloadDiscardsPrefixWhenRangeIgnored(t *testing.T) {
	content := payload(200 * 1024)
	rec := &recorder{}
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		n := rec.record(r)
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		if n == 1 {
			_, _ = w.Write(content[:len(content)/2])
			w.(http.Flusher).Flush()
			panic(http.ErrAbortHandler)
		}
		_, _ = w.Write(content)
	})
	d := newTestDownloader(t, 3)

	body, err := d.StreamDownload(context.Background(), srv.URL+"/t.csv.gz")
	require.NoError(t, err)
	defer body.Close()
	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestStreamDownloadGivesUpAfterAttempts(t *testing.T) {
	content := payload(64 * 1024)
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			_, _ = w.Write(content[:1000])
			w.(http.Flusher).Flush()
		}
		panic(http.ErrAbortHandler)
	})
	d := newTestDownloader(t, 2)

	body, err := d.StreamDownload(context.Background(), srv.URL+"/u.csv.gz")
	require.NoError(t, err)
	defer body.Close()
	_, err = io.ReadAll(body)
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
}

func TestStreamBatchOrder(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad.csv.gz" {
			w.WriteHeader(http.StatusGone)
			return
		}
		_, _ = w.Write([]byte(r.URL.Path))
	})
	d := newTestDownloader(t, 1)

	urls := []string{srv.URL + "/x.csv.gz", srv.URL + "/bad.csv.gz", srv.URL + "/y.csv.gz"}
	results := d.StreamBatch(context.Background(), urls)
	require.Len(t, results, 3)
	assert.Error(t, results[1].Err)
	assert.Nil(t, results[1].Body)
	for _, i := range []int{0, 2} {
		require.NoError(t, results[i].Err)
		got, err := io.ReadAll(results[i].Body)
		require.NoError(t, err)
		require.NoError(t, results[i].Body.Close())
		assert.Equal(t, "/"+filepath.Base(urls[i]), string(got))
	}
}

func TestListRemoteFiles(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/Gaia/gdr3/gaia_source/":
			_, _ = io.WriteString(w, `<html><body><pre>
<a href="?C=N;O=D">Name</a>
<a href="../">Parent Directory</a>
<a href="GaiaSource_000000-003111.csv.gz">GaiaSource_000000-003111.csv.gz</a>
<a href="/Gaia/gdr3/gaia_source/GaiaSource_003112-005263.csv.gz">GaiaSource_003112-005263.csv.gz</a>
<a href="GaiaSource_000000-003111.csv.gz#dup">duplicate</a>
<a href="_MD5SUM.txt">_MD5SUM.txt</a>
<a href="https://mirror.example.org/other/GaiaSource_999999-999999.csv.gz">mirror</a>
</pre></body></html>`)
		case "/2MASS/allsky/":
			_, _ = io.WriteString(w, `<a href="psc_aab.gz">b</a><a href="psc_aaa.gz">a</a>`+
				`<a href="xsc_aaa.gz">x</a><a href="psc_readme.txt">r</a>`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	d := newTestDownloader(t, 2)
	ctx := context.Background()

	urls, err := d.ListRemoteFiles(ctx, srv.URL+"/Gaia/gdr3/gaia_source/", ".csv.gz")
	require.NoError(t, err)
	assert.Equal(t, []string{
		srv.URL + "/Gaia/gdr3/gaia_source/GaiaSource_000000-003111.csv.gz",
		srv.URL + "/Gaia/gdr3/gaia_source/GaiaSource_003112-005263.csv.gz",
		"https://mirror.example.org/other/GaiaSource_999999-999999.csv.gz",
	}, urls)

	urls, err = d.ListRemoteFilesWithPrefix(ctx, srv.URL+"/2MASS/allsky/", "psc_", ".gz")
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL + "/2MASS/allsky/psc_aaa.gz", srv.URL + "/2MASS/allsky/psc_aab.gz"}, urls)

	_, err = d.ListRemoteFiles(ctx, srv.URL+"/nowhere/", ".gz")
	assert.True(t, errors.IsType(err, errors.ErrorTypeHTTP))
}

func TestParseContentRange(t *testing.T) {
	start, end, total, ok := parseContentRange("bytes 100-199/1000")
	require.True(t, ok)
	assert.Equal(t, []int64{100, 199, 1000}, []int64{start, end, total})

	_, _, total, ok = parseContentRange("bytes 5-9/*")
	require.True(t, ok)
	assert.Equal(t, int64(-1), total)

	for _, bad := range []string{"", "bytes */1000", "bytes 9-5/100", "bytes 0-99/50", "items 0-1/2"} {
		_, _, _, ok := parseContentRange(bad)
		assert.False(t, ok, bad)
	}
}

func TestRetryDelay(t *testing.T) {
	rp := NewRetryPolicy(5, 2*time.Second, 5*time.Second)
	assert.Equal(t, 2*time.Second, rp.GetDelay(0))
	assert.Equal(t, 4*time.Second, rp.GetDelay(1))
	assert.Equal(t, 5*time.Second, rp.GetDelay(2))
}

func TestRetryCancellationIsTyped(t *testing.T) {
	rp := NewRetryPolicy(5, time.Millisecond, 5*time.Millisecond)
	transient := errors.New(errors.ErrorTypeConnection, "connection reset")

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := rp.Execute(ctx, zaptest.NewLogger(t), "fetch", func(int) error {
		calls++
		cancel()
		return transient
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Contains(t, err.Error(), "fetch cancelled")

	expired, cancelExpired := context.WithTimeout(context.Background(), -time.Second)
	defer cancelExpired()
	err = rp.Execute(expired, zaptest.NewLogger(t), "fetch", func(int) error { return transient })
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
