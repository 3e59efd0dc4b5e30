package signedlink

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, link string) (string, string, string) {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	return u.Path, u.Query().Get("sig"), u.Query().Get("expires")
}

func reason(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

func TestSignVerifyRoundTrip(t *testing.T) {
	link := New().Sign("/videos/course_1/lesson_1/master.m3u8", "S", time.Hour)
	path, sig, expires := parse(t, link)

	assert.Equal(t, "/videos/course_1/lesson_1/master.m3u8", path)
	assert.NotContains(t, sig, "=")
	assert.NotContains(t, sig, "+")
	assert.NotContains(t, sig, "/")
	assert.NoError(t, New().Verify(path, sig, expires, "S"))
}

func TestVerifyRejectsDifferentPath(t *testing.T) {
	link := New().Sign("/videos/course_1/lesson_1/master.m3u8", "S", 3600*time.Second)
	_, sig, expires := parse(t, link)

	err := New().Verify("/videos/other_course/master.m3u8", sig, expires, "S")
	require.Error(t, err)
	assert.Equal(t, ReasonSignatureMismatch, reason(err))
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	path, sig, expires := parse(t, New().Sign("/videos/a/master.m3u8", "S", time.Hour))

	assert.Equal(t, ReasonSignatureMismatch, reason(New().Verify(path, sig, expires, "other")))
}

func TestVerifyExpired(t *testing.T) {
	path, sig, expires := parse(t, New().Sign("/videos/a/master.m3u8", "S", -100*time.Second))

	// signature itself is consistent for that timestamp
	exp, _ := time.Parse(time.RFC3339, "2000-01-01T00:00:00Z")
	past := NewWithClock(func() time.Time { return exp })
	assert.NoError(t, past.Verify(path, sig, expires, "S"))

	assert.Equal(t, ReasonExpired, reason(New().Verify(path, sig, expires, "S")))
}

func TestVerifyMissingParams(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		sig     string
		expires string
	}{
		{"no sig", "/a", "", "123"},
		{"no expires", "/a", "abc", ""},
		{"no path", "", "abc", "123"},
		{"garbage expires", "/a", "abc", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, ReasonMissingParams, reason(New().Verify(tt.path, tt.sig, tt.expires, "S")))
		})
	}
}

func TestSignUsesClock(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewWithClock(func() time.Time { return now })

	link := s.Sign("/media/x.ts", "secret", time.Minute)
	assert.True(t, strings.HasPrefix(link, "/media/x.ts?sig="))
	assert.True(t, strings.HasSuffix(link, "&expires=1700000060"))

	path, sig, expires := parse(t, link)
	assert.NoError(t, s.Verify(path, sig, expires, "secret"))

	later := NewWithClock(func() time.Time { return now.Add(61 * time.Second) })
	assert.Equal(t, ReasonExpired, reason(later.Verify(path, sig, expires, "secret")))
}

func TestSignUntilSharesExpiry(t *testing.T) {
	s := NewWithClock(func() time.Time { return time.Unix(1700000000, 0) })

	link := SignUntil("/media/a/720p/playlist.m3u8", "S", 1700000100)
	assert.True(t, strings.HasSuffix(link, "&expires=1700000100"))

	sig := strings.TrimPrefix(strings.Split(link, "&")[0], "/media/a/720p/playlist.m3u8?sig=")
	assert.NoError(t, s.Verify("/media/a/720p/playlist.m3u8", sig, "1700000100", "S"))
}
