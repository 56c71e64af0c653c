package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerWritesEventWithFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := Wrap(zap.New(core))

	logger.Error("rate_limit_store_fault", map[string]any{
		"key":   "auth:login:1.2.3.4",
		"error": errors.New("boom"),
	})

	entries := logs.FilterMessage("rate_limit_store_fault").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)

	fields := entries[0].ContextMap()
	assert.Equal(t, "auth:login:1.2.3.4", fields["key"])
	assert.Equal(t, "boom", fields["error"])
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	assert.NotPanics(t, func() {
		logger.Info("anything", map[string]any{"a": 1})
		logger.Sync()
	})
}

func TestClientIPIgnoresHeadersFromUntrustedPeer(t *testing.T) {
	proxies, err := ParseTrustedProxies(nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.50:40000"
	req.Header.Set("CF-Connecting-IP", "9.9.9.9")
	req.Header.Set("X-Forwarded-For", "10.0.0.7")
	req.Header.Set("X-Real-IP", "3.3.3.3")

	assert.Equal(t, "192.0.2.50", proxies.Resolve(req))
}

func TestClientIPBehindTrustedProxy(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", " 192.0.2.9 ", ""})
	require.NoError(t, err)

	cases := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "cloudflare", headers: map[string]string{"CF-Connecting-IP": "9.9.9.9", "X-Forwarded-For": "1.1.1.1"}, remote: "10.0.0.1:5000", want: "9.9.9.9"},
		{name: "rightmost untrusted hop", headers: map[string]string{"X-Forwarded-For": "6.6.6.6, 1.1.1.1, 10.1.1.1"}, remote: "10.0.0.1:5000", want: "1.1.1.1"},
		{name: "all hops trusted", headers: map[string]string{"X-Forwarded-For": "10.2.2.2, 10.1.1.1"}, remote: "192.0.2.9:5000", want: "10.2.2.2"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "3.3.3.3"}, remote: "10.0.0.1:5000", want: "3.3.3.3"},
		{name: "no headers", remote: "10.0.0.1:5000", want: "10.0.0.1"},
		{name: "untrusted peer", headers: map[string]string{"X-Forwarded-For": "1.1.1.1"}, remote: "11.0.0.1:5000", want: "11.0.0.1"},
		{name: "remote without port", remote: "11.0.0.1", want: "11.0.0.1"},
		{name: "nothing", remote: "", want: "unknown"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			for key, value := range tc.headers {
				req.Header.Set(key, value)
			}
			assert.Equal(t, tc.want, proxies.Resolve(req))
		})
	}
}

func TestParseTrustedProxiesRejectsGarbage(t *testing.T) {
	_, err := ParseTrustedProxies([]string{"10.0.0.0/33"})
	assert.Error(t, err)
	_, err = ParseTrustedProxies([]string{"proxy.internal"})
	assert.Error(t, err)
}

func TestClientIPMiddlewareStoresResolvedAddress(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.1"})
	require.NoError(t, err)

	var seen string
	handler := ClientIPMiddleware(proxies)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClientIP(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:443"
	req.Header.Set("X-Forwarded-For", "8.8.8.8")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "8.8.8.8", seen)

	bare := httptest.NewRequest(http.MethodGet, "/", nil)
	bare.RemoteAddr = "172.16.0.4:1234"
	bare.Header.Set("X-Forwarded-For", "8.8.8.8")
	assert.Equal(t, "172.16.0.4", ClientIP(bare))
}

func TestRequestLoggingMiddlewareRecordsStatus(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := RequestLoggingMiddleware(Wrap(zap.New(core)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ideas", nil))

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/api/ideas", fields["path"])
	assert.EqualValues(t, http.StatusTeapot, fields["status"])
}

func TestRecoverMiddlewareReturnsJSON500(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := RecoverMiddleware(Wrap(zap.New(core)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
	assert.Equal(t, 1, logs.FilterMessage("panic_recovered").Len())
}
