package access

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/hlsvault/internal/signedlink"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/storage"
	"github.com/therealutkarshpriyadarshi/hlsvault/pkg/models"
)

// ServeSignedMedia streams a file addressed by a signed media link.
// requestPath is the exact URL path that was signed, media prefix included.
// Manifests are returned with their relative URIs re-signed under the same expiry.
func (g *Gateway) ServeSignedMedia(ctx context.Context, requestPath, sig, expires string) (*Media, error) {
	key, videoID, err := g.mediaKey(requestPath)
	if err != nil {
		return nil, err
	}

	video, err := g.video(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(key, video.OutputPrefix()+"/") {
		return nil, fmt.Errorf("%w: path is outside video %s", models.ErrAccessDenied, videoID)
	}

	if err := g.signer.Verify(requestPath, sig, expires, video.SigningSecret); err != nil {
		var linkErr *signedlink.Error
		if errors.As(err, &linkErr) {
			g.logger.WithVideoID(videoID).WithField("reason", linkErr.Reason).Debug("Signed link rejected")
		}
		return nil, fmt.Errorf("%w: %v", models.ErrAccessDenied, err)
	}

	backend, err := g.providers.ForVideo(video)
	if err != nil {
		return nil, err
	}

	body, err := backend.GetStream(ctx, key)
	if err != nil {
		return nil, err
	}

	media := &Media{Body: body, ContentType: storage.ContentType(key)}
	if path.Ext(key) != ".m3u8" {
		return media, nil
	}

	defer body.Close()
	exp, _ := strconv.ParseInt(expires, 10, 64)
	playlist, err := signPlaylist(body, path.Dir(requestPath), video.SigningSecret, exp)
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest %s: %v", models.ErrStorage, key, err)
	}
	media.Body = io.NopCloser(bytes.NewReader(playlist))
	return media, nil
}

// mediaKey strips the media prefix and finds the video id following "videos"
func (g *Gateway) mediaKey(requestPath string) (string, string, error) {
	prefix := strings.TrimSuffix(g.opts.MediaPathPrefix, "/") + "/"
	if !strings.HasPrefix(requestPath, prefix) {
		return "", "", fmt.Errorf("%w: not a media path", models.ErrNotFound)
	}

	key := strings.TrimPrefix(requestPath, prefix)
	if path.Clean("/"+key) != "/"+key {
		return "", "", fmt.Errorf("%w: media path is not canonical", models.ErrInvalidParameter)
	}

	parts := strings.Split(key, "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "videos" && parts[i+1] != "" {
			return key, parts[i+1], nil
		}
	}
	return "", "", fmt.Errorf("%w: no video in media path", models.ErrNotFound)
}

// signPlaylist rewrites relative URI lines so players can follow them
func signPlaylist(r io.Reader, dir, secret string, expires int64) ([]byte, error) {
	var out bytes.Buffer
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") && !isAbsoluteURI(trimmed) {
			line = signedlink.SignUntil(path.Join(dir, trimmed), secret, expires)
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func isAbsoluteURI(s string) bool {
	return strings.HasPrefix(s, "/") || strings.Contains(s, "://")
}
