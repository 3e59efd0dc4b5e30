package transcoder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/therealutkarshpriyadarshi/hlsvault/pkg/models"
)

// Codec tags advertised in the master playlist
const (
	codecTagH264 = "avc1.640028"
	codecTagH265 = "hvc1.1.6.L120.90"
	codecTagAAC  = "mp4a.40.2"
)

// Variant is one entry of the master playlist
type Variant struct {
	Rendition Rendition
	Bandwidth int64
	Codec     models.Codec
	HasAudio  bool
}

// CodecString returns the CODECS attribute for a variant
func CodecString(codec models.Codec, hasAudio bool) string {
	video := codecTagH264
	if codec == models.CodecH265 {
		video = codecTagH265
	}
	if hasAudio {
		return video + "," + codecTagAAC
	}
	return video
}

// BuildMasterPlaylist renders the top-level playlist
func BuildMasterPlaylist(variants []Variant) string {
	var content strings.Builder

	content.WriteString("#EXTM3U\n")
	content.WriteString("#EXT-X-VERSION:3\n")

	for _, v := range variants {
		content.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,CODECS=\"%s\"\n",
			v.Bandwidth,
			v.Rendition.Width,
			v.Rendition.Height,
			CodecString(v.Codec, v.HasAudio),
		))
		content.WriteString(v.Rendition.Name + "/" + models.VariantManifestName + "\n")
	}

	return content.String()
}

// WriteMasterPlaylist writes master.m3u8 into dir
func WriteMasterPlaylist(dir string, variants []Variant) error {
	p := filepath.Join(dir, models.MasterManifestName)
	return renameio.WriteFile(p, []byte(BuildMasterPlaylist(variants)), 0644)
}

// WriteKeyInfo writes the encoder's key-info descriptor: the URI players
// fetch the key from, then the absolute local key path.
func WriteKeyInfo(path, keyURI, keyPath string) error {
	return os.WriteFile(path, []byte(keyURI+"\n"+keyPath+"\n"), 0600)
}

// KeyURI builds the player-facing key URL for a video
func KeyURI(uriBase, videoID string) string {
	sep := "?"
	if strings.Contains(uriBase, "?") {
		sep = "&"
	}
	return uriBase + sep + "id=" + videoID
}

// RenditionOutput summarizes the files written for one rendition
type RenditionOutput struct {
	TotalBytes          int64
	LargestSegmentBytes int64
}

// EstimateBandwidth returns the peak bits per second for the BANDWIDTH attribute:
// the larger of the average rate and the rate of the biggest segment over the
// target segment duration. Without a usable duration it falls back to a
// pixel-count heuristic.
func EstimateBandwidth(out RenditionOutput, durationSeconds, segmentSeconds float64, r Rendition, hasAudio bool) int64 {
	if out.TotalBytes > 0 && durationSeconds > 0 {
		bw := int64(float64(out.TotalBytes*8) / durationSeconds)
		if segmentSeconds > 0 && out.LargestSegmentBytes > 0 {
			window := segmentSeconds
			if durationSeconds < window {
				window = durationSeconds
			}
			if peak := int64(float64(out.LargestSegmentBytes*8) / window); peak > bw {
				bw = peak
			}
		}
		return bw
	}

	bw := int64(r.Width) * int64(r.Height) * 3
	if hasAudio {
		bw += 128000
	}
	return bw
}

// measureRendition sizes the files in a rendition directory
func measureRendition(dir string) (RenditionOutput, error) {
	var out RenditionOutput
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out.TotalBytes += info.Size()
		if filepath.Ext(p) == ".ts" && info.Size() > out.LargestSegmentBytes {
			out.LargestSegmentBytes = info.Size()
		}
		return nil
	})
	return out, err
}

// dirSize sums the sizes of regular files under dir
func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
