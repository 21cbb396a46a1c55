package prometheus

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	logTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokenscopelabs/tokenscope/runtime"
)

var _ = runtime.Service(&Service{})

type mockService struct {
	status error
}

func (m *mockService) Start() {}

func (m *mockService) Stop() error {
	return nil
}

func (m *mockService) Status() error {
	return m.status
}

func requireLogContains(t *testing.T, hook *logTest.Hook, want string) {
	t.Helper()
	for _, e := range hook.AllEntries() {
		if strings.Contains(e.Message, want) {
			return
		}
	}
	t.Fatalf("log entry %q not found", want)
}

func TestLifecycle(t *testing.T) {
	hook := logTest.NewGlobal()
	s := NewService("127.0.0.1:0", runtime.NewServiceRegistry())

	s.Start()
	requireLogContains(t, hook, "Starting service")

	require.NoError(t, s.Stop())
	requireLogContains(t, hook, "Stopping service")
	require.NoError(t, s.Status())
}

func TestStatus_FailingListener(t *testing.T) {
	s := NewService("127.0.0.1:0", nil)
	require.NoError(t, s.Status())

	wedged := errors.New("listen tcp: address already in use")
	s.failStatus = wedged
	require.Equal(t, wedged, s.Status())
}

func TestHealthz(t *testing.T) {
	registry := runtime.NewServiceRegistry()
	m := &mockService{}
	require.NoError(t, registry.RegisterService(m))
	s := NewService("127.0.0.1:0", registry)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	s.healthzHandler(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "*prometheus.mockService: OK")

	m.status = errors.New("something really bad has happened")
	rr = httptest.NewRecorder()
	s.healthzHandler(rr, req)

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "*prometheus.mockService: ERROR something really bad has happened")
}

func TestHealthz_JSON(t *testing.T) {
	registry := runtime.NewServiceRegistry()
	m := &mockService{status: errors.New("scanner wedged")}
	require.NoError(t, registry.RegisterService(m))
	s := NewService("127.0.0.1:0", registry)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Accept", contentTypeJSON)
	rr := httptest.NewRecorder()
	s.healthzHandler(rr, req)

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, contentTypeJSON, rr.Header().Get("Content-Type"))
	body := rr.Body.String()
	assert.Contains(t, body, `"service":"*prometheus.mockService"`)
	assert.Contains(t, body, `"status":false`)
	assert.Contains(t, body, `"error":"scanner wedged"`)
}

func TestGoroutinez(t *testing.T) {
	s := NewService("127.0.0.1:0", nil)

	req := httptest.NewRequest(http.MethodGet, "/goroutinez", nil)
	rr := httptest.NewRecorder()
	s.goroutinezHandler(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "goroutine")
}

func TestAdditionalHandlers(t *testing.T) {
	called := false
	s := NewService("127.0.0.1:0", nil, Handler{
		Path: "/custom",
		Handler: func(w http.ResponseWriter, _ *http.Request) {
			called = true
			w.WriteHeader(http.StatusTeapot)
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/custom", nil)
	rr := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rr, req)

	require.True(t, called)
	require.Equal(t, http.StatusTeapot, rr.Code)
}
