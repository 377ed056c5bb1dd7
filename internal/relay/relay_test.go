package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSettings struct {
	s Settings
}

func (p staticSettings) RelaySettings(context.Context) (Settings, error) {
	return p.s, nil
}

func newTestResolver(s Settings, client *http.Client) *Resolver {
	return NewResolver(staticSettings{s}, client, zerolog.Nop())
}

func TestResolveDisabledNoNetworkCall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	r := newTestResolver(Settings{Enabled: false, BaseURL: srv.URL, Username: "u", Password: "p"}, srv.Client())
	_, err := r.Resolve(context.Background(), "1234")
	assert.ErrorIs(t, err, ErrDisabled)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestResolveMisconfigured(t *testing.T) {
	for _, s := range []Settings{
		{Enabled: true, Username: "u", Password: "p"},
		{Enabled: true, BaseURL: "http://relay", Password: "p"},
		{Enabled: true, BaseURL: "http://relay", Username: "u"},
	} {
		r := newTestResolver(s, http.DefaultClient)
		_, err := r.Resolve(context.Background(), "1234")
		assert.ErrorIs(t, err, ErrMisconfigured)
	}
}

func TestResolveFollowsRedirects(t *testing.T) {
	var mux http.ServeMux
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	mux.HandleFunc("/user/pass/1234", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method, "resolver must use GET, not HEAD")
		http.Redirect(w, r, "/hop", http.StatusFound)
	})
	mux.HandleFunc("/hop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final/stream.m3u8", http.StatusFound)
	})
	mux.HandleFunc("/final/stream.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Trailing slash on the base URL must be trimmed.
	r := newTestResolver(Settings{Enabled: true, BaseURL: srv.URL + "/", Username: "user", Password: "pass"}, srv.Client())
	got, err := r.Resolve(context.Background(), "1234")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/final/stream.m3u8", got)
}

func TestResolveDoesNotReadBody(t *testing.T) {
	// The handler would block forever on body writes if the client kept
	// reading; writing the header and a flush is enough for resolution.
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		// Simulate an endless live stream.
		for {
			select {
			case <-done:
				return
			case <-r.Context().Done():
				return
			default:
			}
			if _, err := w.Write(make([]byte, 4096)); err != nil {
				return
			}
		}
	}))
	defer func() {
		close(done)
		srv.Close()
	}()

	r := newTestResolver(Settings{Enabled: true, BaseURL: srv.URL, Username: "u", Password: "p"}, srv.Client())
	got, err := r.Resolve(context.Background(), "live-1")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/u/p/live-1", got)
}

func TestResolveBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	r := newTestResolver(Settings{Enabled: true, BaseURL: srv.URL, Username: "u", Password: "p"}, srv.Client())
	_, err := r.Resolve(context.Background(), "1234")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 403")
}

func TestResolveTooManyRedirects(t *testing.T) {
	var mux http.ServeMux
	srv := httptest.NewServer(&mux)
	defer srv.Close()
	for i := 0; i < 10; i++ {
		next := fmt.Sprintf("/r%d", i+1)
		if i == 0 {
			mux.HandleFunc("/u/p/loop", func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "/r1", http.StatusFound)
			})
			continue
		}
		path := fmt.Sprintf("/r%d", i)
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, next, http.StatusFound)
		})
	}

	r := newTestResolver(Settings{Enabled: true, BaseURL: srv.URL, Username: "u", Password: "p"}, nil)
	_, err := r.Resolve(context.Background(), "loop")
	assert.Error(t, err)
}

func TestResolveUnreachable(t *testing.T) {
	r := newTestResolver(Settings{Enabled: true, BaseURL: "http://127.0.0.1:1", Username: "u", Password: "p"}, nil)
	_, err := r.Resolve(context.Background(), "1234")
	assert.Error(t, err)
}

func TestResolveErrorHidesCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := newTestResolver(Settings{Enabled: true, BaseURL: srv.URL, Username: "topsecretuser", Password: "topsecretpass"}, srv.Client())
	_, err := r.Resolve(context.Background(), "1234")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "topsecretuser")
	assert.NotContains(t, err.Error(), "topsecretpass")
}
