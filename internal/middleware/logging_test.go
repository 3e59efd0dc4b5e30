package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/logging"
)

func TestLoggerOmitsQueryString(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	router := gin.New()
	router.Use(Logger(logging.New(zerolog.New(&buf))))
	router.GET("/media/*path", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/media/a/master.m3u8?sig=abc&expires=1", nil))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "/media/a/master.m3u8", entry["path"])
	assert.Equal(t, float64(http.StatusNoContent), entry["status"])
	assert.NotContains(t, buf.String(), "sig=abc")
}
