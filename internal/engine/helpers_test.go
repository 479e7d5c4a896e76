package engine

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"sync"
	"testing"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/stretchr/testify/require"
)

// makeSegment builds a minimal fMP4 media segment whose tfdt carries the
// given decode time.
func makeSegment(t testing.TB, decodeTime uint64) []byte {
	t.Helper()

	frag, err := mp4.CreateFragment(1, 1)
	require.NoError(t, err)

	payload := []byte{0x00, 0x00, 0x00, 0x02, 0x09, 0xf0}
	frag.AddFullSample(mp4.FullSample{
		Sample: mp4.Sample{
			Dur:  2000,
			Size: uint32(len(payload)),
		},
		DecodeTime: decodeTime,
		Data:       payload,
	})

	var buf bytes.Buffer
	require.NoError(t, frag.Encode(&buf))
	return buf.Bytes()
}

var segPathRe = regexp.MustCompile(`seg-(\d+)\.(m4[va])$`)

// fakeOrigin serves segments addressed as .../seg-<t>.m4v or .m4a and logs
// every probed timestamp.
type fakeOrigin struct {
	mu       sync.Mutex
	segments map[string][]byte
	requests []int64
}

func newFakeOrigin() *fakeOrigin {
	return &fakeOrigin{segments: make(map[string][]byte)}
}

func segKey(ext string, ts int64) string {
	return ext + "-" + strconv.FormatInt(ts, 10)
}

// add registers a segment at timestamp ts with decode time pts.
func (o *fakeOrigin) add(t testing.TB, ext string, ts int64, pts uint64) {
	o.segments[segKey(ext, ts)] = makeSegment(t, pts)
}

// addGrid registers segments at every step from lo to hi, decode time equal
// to the timestamp.
func (o *fakeOrigin) addGrid(t testing.TB, ext string, lo, hi, step int64) {
	for ts := lo; ts <= hi; ts += step {
		o.add(t, ext, ts, uint64(ts))
	}
}

func (o *fakeOrigin) remove(ext string, ts int64) {
	delete(o.segments, segKey(ext, ts))
}

func (o *fakeOrigin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m := segPathRe.FindStringSubmatch(r.URL.Path)
	if m == nil {
		http.NotFound(w, r)
		return
	}
	ts, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	o.mu.Lock()
	o.requests = append(o.requests, ts)
	data, ok := o.segments[segKey(m[2], ts)]
	o.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Write(data)
}

func (o *fakeOrigin) requested() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int64(nil), o.requests...)
}

func (o *fakeOrigin) serve(t testing.TB) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(o)
	t.Cleanup(srv.Close)
	return srv
}

// httptestServerWith serves the same body on every path.
func httptestServerWith(t testing.TB, body []byte) *httptest.Server {
	return httptestServerFunc(t, func() []byte { return body })
}

// httptestServerFunc serves whatever body returns, once per request.
func httptestServerFunc(t testing.TB, body func() []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body())
	}))
	t.Cleanup(srv.Close)
	return srv
}

// recordSink captures progress output from a loop under test.
type recordSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *recordSink) SetMessage(msg string) {}

func (s *recordSink) Tick() {}

func (s *recordSink) Println(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

func (s *recordSink) FinishWithMessage(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, msg)
}

func (s *recordSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}
