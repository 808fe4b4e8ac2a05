package vulntest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huntplane/huntplane/internal/config"
	"github.com/huntplane/huntplane/internal/core"
	"github.com/huntplane/huntplane/internal/logger"
	"github.com/huntplane/huntplane/internal/ratelimit"
	"github.com/huntplane/huntplane/internal/scope"
	"github.com/huntplane/huntplane/pkg/types"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	log, err := logger.New(config.LoggerConfig{Level: "error", Format: "json"})
	require.NoError(t, err)

	cfg := config.TestingConfig{
		Timeout:      5 * time.Second,
		UserAgent:    "Security-Research-Bot/1.0 (+security-research)",
		MaxRedirects: 3,
	}
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerSecond: 100,
		BurstSize:         10,
		MinDelay:          time.Millisecond,
	})
	return NewExecutor(cfg, limiter, scope.NewValidator(nil), log)
}

func localTarget() *types.Target {
	return &types.Target{ID: "t1", Name: "local", Domain: "127.0.0.1", Enabled: true}
}

func TestExecute_GetInjectsQueryParam(t *testing.T) {
	var gotQuery map[string][]string
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("hello"))
	}))
	defer server.Close()

	e := newTestExecutor(t)
	snapshot, err := e.Execute(context.Background(), localTarget(), server.URL+"/search?q=orig&page=2", "GET", "q", "<payload>")
	require.NoError(t, err)

	assert.True(t, snapshot.Success)
	assert.Equal(t, 200, snapshot.ResponseStatus)
	assert.Equal(t, "hello", snapshot.ResponseBody)
	assert.Equal(t, []string{"<payload>"}, gotQuery["q"])
	assert.Equal(t, []string{"2"}, gotQuery["page"])
	assert.Equal(t, "Security-Research-Bot/1.0 (+security-research)", gotUA)
	assert.GreaterOrEqual(t, snapshot.ResponseTimeMs, 0)
}

func TestExecute_PostSendsFormBody(t *testing.T) {
	var gotParam string
	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotParam = r.PostFormValue("comment")
		gotContentType = r.Header.Get("Content-Type")
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	e := newTestExecutor(t)
	snapshot, err := e.Execute(context.Background(), localTarget(), server.URL+"/submit", "POST", "comment", "payload value")
	require.NoError(t, err)

	assert.True(t, snapshot.Success)
	assert.Equal(t, "payload value", gotParam)
	assert.Equal(t, "application/x-www-form-urlencoded", gotContentType)
}

func TestExecute_OutOfScopeRefused(t *testing.T) {
	e := newTestExecutor(t)
	_, err := e.Execute(context.Background(), localTarget(), "https://unrelated.example/page", "GET", "q", "x")

	var oos *core.OutOfScopeError
	require.ErrorAs(t, err, &oos)
}

func TestExecute_UnsupportedMethod(t *testing.T) {
	e := newTestExecutor(t)
	_, err := e.Execute(context.Background(), localTarget(), "http://127.0.0.1/api", "DELETE", "q", "x")

	var unsupported *core.UnsupportedMethodError
	require.ErrorAs(t, err, &unsupported)
}

func TestExecute_NetworkFailureReturnsSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	e := newTestExecutor(t)
	snapshot, err := e.Execute(context.Background(), localTarget(), url+"/down", "GET", "q", "x")
	require.NoError(t, err)

	assert.False(t, snapshot.Success)
	assert.NotEmpty(t, snapshot.Error)
}

func TestExecute_BodyCapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		big := make([]byte, maxBodyCapture+10000)
		for i := range big {
			big[i] = 'a'
		}
		w.Write(big)
	}))
	defer server.Close()

	e := newTestExecutor(t)
	snapshot, err := e.Execute(context.Background(), localTarget(), server.URL+"/big", "GET", "q", "x")
	require.NoError(t, err)

	assert.True(t, snapshot.Success)
	assert.Len(t, snapshot.ResponseBody, maxBodyCapture)
}
