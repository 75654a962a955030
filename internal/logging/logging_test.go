package logging

import (
	"bytes"
	"encoding/json"
	stdlog "log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupBridgesStdlib(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter(Config{Level: "info"}, &buf)
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	stdlog.Print("from stdlib")
	if !strings.Contains(buf.String(), `"source":"stdlog"`) || !strings.Contains(buf.String(), "from stdlib") {
		t.Fatalf("stdlib output not bridged: %s", buf.String())
	}

	buf.Reset()
	log.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug logged at info level: %s", buf.String())
	}
}

func TestGinMiddlewareRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	SetupWriter(Config{Level: "info"}, &buf)

	r := gin.New()
	r.Use(GinMiddleware())
	var seen string
	r.GET("/ping", func(c *gin.Context) {
		seen = RequestID(c)
		c.Set(ContextUserID, "u1")
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	id := w.Header().Get(HeaderRequestID)
	if id == "" || id != seen {
		t.Fatalf("request id %q not exposed to handler (%q)", id, seen)
	}

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("log line not JSON: %v (%s)", err, buf.String())
	}
	if line["request_id"] != id || line["user_id"] != "u1" || line["status"] != float64(http.StatusNoContent) {
		t.Fatalf("unexpected log line %v", line)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderRequestID, "upstream-id")
	r.ServeHTTP(w, req)
	if w.Header().Get(HeaderRequestID) != "upstream-id" {
		t.Fatalf("upstream request id not kept")
	}
}
