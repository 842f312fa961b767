package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanki/edge/internal/config"
)

func newProxy(t *testing.T, cfg config.NotesConfig) *Notes {
	t.Helper()
	p, err := NewNotes(cfg, nil)
	require.NoError(t, err)
	return p
}

func TestForwardPreservesRequest(t *testing.T) {
	var got *http.Request
	var gotBody []byte
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(r.Context())
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("X-Backend", "notes")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":"n1"}`)
	}))
	defer backend.Close()

	p := newProxy(t, config.NotesConfig{URL: backend.URL, Timeout: time.Second})

	req := httptest.NewRequest(http.MethodPost, "/v1/api/notes?tag=work", strings.NewReader(`{"title":"t"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", "edge.session=secret")
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/v1/api/notes", got.URL.Path)
	assert.Equal(t, "tag=work", got.URL.RawQuery)
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, `{"title":"t"}`, string(gotBody))

	// Browser credentials never reach the backend.
	assert.Empty(t, got.Header.Get("Cookie"))
	assert.Empty(t, got.Header.Get("Authorization"))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "notes", rec.Header().Get("X-Backend"))
	assert.Equal(t, `{"id":"n1"}`, rec.Body.String())
}

func TestBackendErrorsPassThrough(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "note not found", http.StatusNotFound)
	}))
	defer backend.Close()

	p := newProxy(t, config.NotesConfig{URL: backend.URL, Timeout: time.Second})

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/api/notes/missing", nil))

	// A backend 4xx is a real answer, not an outage: no fallback.
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "note not found\n", rec.Body.String())
}

func TestServerErrorTriggersFallback(t *testing.T) {
	var calls atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer backend.Close()

	p := newProxy(t, config.NotesConfig{URL: backend.URL, Timeout: time.Second})

	t.Run("GET gets placeholder", func(t *testing.T) {
		calls.Store(0)
		rec := httptest.NewRecorder()
		p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/api/notes", nil))

		// The 500 never reaches the client; one retry was attempted first.
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "currently unavailable")
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("POST gets 503", func(t *testing.T) {
		rec := httptest.NewRecorder()
		p.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/api/notes", strings.NewReader("{}")))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.NotContains(t, rec.Body.String(), "boom")
	})
}

func TestServerErrorRecoversViaAlternate(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer broken.Close()
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "recovered")
	}))
	defer healthy.Close()

	p := newProxy(t, config.NotesConfig{
		URL:          broken.URL,
		AlternateURL: healthy.URL,
		Timeout:      time.Second,
	})

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/api/notes", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "recovered", rec.Body.String())
}

func TestRetryAgainstAlternate(t *testing.T) {
	alternate := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "from alternate")
	}))
	defer alternate.Close()

	// Primary refuses connections.
	dead := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	dead.Close()

	p := newProxy(t, config.NotesConfig{
		URL:          dead.URL,
		AlternateURL: alternate.URL,
		Timeout:      time.Second,
	})

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/api/notes", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "from alternate", rec.Body.String())
}

func TestRetryReplaysBody(t *testing.T) {
	var calls atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Drop the first attempt mid-flight.
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	}))
	defer backend.Close()

	p := newProxy(t, config.NotesConfig{URL: backend.URL, Timeout: time.Second})

	req := httptest.NewRequest(http.MethodPost, "/v1/api/notes", strings.NewReader(`{"title":"retry"}`))
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"title":"retry"}`, rec.Body.String())
	assert.Equal(t, int32(2), calls.Load())
}

func TestFallbackWhenAllUpstreamsFail(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	dead.Close()

	p := newProxy(t, config.NotesConfig{URL: dead.URL, Timeout: 200 * time.Millisecond})

	t.Run("GET gets placeholder", func(t *testing.T) {
		rec := httptest.NewRecorder()
		p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/api/notes", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "currently unavailable")
	})

	t.Run("POST gets 503", func(t *testing.T) {
		rec := httptest.NewRecorder()
		p.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/api/notes", strings.NewReader("{}")))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestTimeoutTriggersFallback(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	p := newProxy(t, config.NotesConfig{URL: slow.URL, Timeout: 100 * time.Millisecond})

	start := time.Now()
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/api/notes", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "currently unavailable")
	// Two attempts, each bounded by the per-attempt deadline.
	assert.Less(t, time.Since(start), time.Second)
}

func TestNewNotesRejectsRelativeURL(t *testing.T) {
	_, err := NewNotes(config.NotesConfig{URL: "/not-absolute"}, nil)
	assert.Error(t, err)
}
