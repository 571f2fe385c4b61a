package http

import (
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"transcode-pipeline/ddd/domain/gateway"
	"transcode-pipeline/pkg/config"
	"transcode-pipeline/pkg/logger"
	"transcode-pipeline/pkg/restapi"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/MP2T"
	segmentCacheControl = "public, max-age=31536000"
)

var segmentLineRe = regexp.MustCompile(`^segment\d+\.ts$`)

// HLSController streams the generated HLS trees out of the private
// bucket. Playlists are rewritten on the fly so every URI a player
// follows comes back through this proxy; segments are passed through
// without buffering.
type HLSController struct {
	store gateway.ObjectStore
	base  string
}

func NewHLSController(store gateway.ObjectStore, cfg *config.Config) *HLSController {
	if cfg == nil {
		cfg = config.GetGlobalConfig()
	}
	return &HLSController{
		store: store,
		base:  strings.TrimRight(cfg.Public.APIBaseURL, "/"),
	}
}

// Serve dispatches /hls/*object by suffix.
func (c *HLSController) Serve(ctx *gin.Context) {
	objectPath := strings.TrimPrefix(ctx.Param("object"), "/")
	switch {
	case strings.HasSuffix(objectPath, "/master.m3u8"):
		prefix := strings.TrimSuffix(objectPath, "/master.m3u8")
		c.serveMaster(ctx, prefix)
	case strings.HasSuffix(objectPath, "/playlist.m3u8"):
		variantDir := strings.TrimSuffix(objectPath, "/playlist.m3u8")
		c.serveVariant(ctx, variantDir)
	case strings.HasSuffix(objectPath, ".ts"):
		c.serveSegment(ctx, objectPath)
	default:
		ctx.JSON(http.StatusNotFound, restapi.ErrorBody{Error: "Not found"})
	}
}

func (c *HLSController) serveMaster(ctx *gin.Context, prefix string) {
	body, err := c.fetchPlaylist(ctx, prefix+"/master.m3u8")
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	rewritten := c.rewriteMaster(body, prefix)
	c.writePlaylist(ctx, rewritten)
}

func (c *HLSController) serveVariant(ctx *gin.Context, variantDir string) {
	// Stored as index.m3u8; the proxy exposes it as playlist.m3u8.
	body, err := c.fetchPlaylist(ctx, variantDir+"/index.m3u8")
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	rewritten := c.rewriteVariant(body, variantDir)
	c.writePlaylist(ctx, rewritten)
}

func (c *HLSController) fetchPlaylist(ctx *gin.Context, key string) (string, error) {
	stream, _, err := c.store.GetStream(ctx.Request.Context(), key)
	if err != nil {
		return "", err
	}
	defer stream.Close()
	raw, err := io.ReadAll(stream)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (c *HLSController) writePlaylist(ctx *gin.Context, body string) {
	ctx.Header("Cache-Control", "no-cache")
	ctx.Data(http.StatusOK, playlistContentType, []byte(body))
}

// rewriteMaster turns each relative variant URI "{tag}/index.m3u8" into
// an absolute proxy URL. Absolute URIs pass through untouched, so
// rewriting an already-rewritten playlist is a no-op.
func (c *HLSController) rewriteMaster(body, prefix string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || isAbsoluteURI(trimmed) {
			continue
		}
		tag := strings.SplitN(trimmed, "/", 2)[0]
		lines[i] = fmt.Sprintf("%s/hls/%s/%s/playlist.m3u8", c.base, prefix, tag)
	}
	return strings.Join(lines, "\n")
}

// rewriteVariant turns each bare "segmentNNN.ts" line into an absolute
// proxy URL. #EXT tags are preserved verbatim.
func (c *HLSController) rewriteVariant(body, variantDir string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !segmentLineRe.MatchString(trimmed) {
			continue
		}
		lines[i] = fmt.Sprintf("%s/hls/%s/%s", c.base, variantDir, trimmed)
	}
	return strings.Join(lines, "\n")
}

func isAbsoluteURI(line string) bool {
	return strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://")
}

func (c *HLSController) serveSegment(ctx *gin.Context, key string) {
	reqCtx := ctx.Request.Context()

	info, err := c.store.Stat(reqCtx, key)
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}

	ctx.Header("Accept-Ranges", "bytes")
	ctx.Header("Cache-Control", segmentCacheControl)
	if !info.LastModified.IsZero() {
		ctx.Header("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
	}

	start, end, hasRange, ok := parseRange(ctx.GetHeader("Range"), info.Size)
	if !ok {
		ctx.Header("Content-Range", fmt.Sprintf("bytes */%d", info.Size))
		ctx.Status(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	var stream io.ReadCloser
	if hasRange {
		stream, _, err = c.store.GetRange(reqCtx, key, start, end)
	} else {
		stream, _, err = c.store.GetStream(reqCtx, key)
	}
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	defer stream.Close()

	ctx.Header("Content-Type", segmentContentType)
	if hasRange {
		ctx.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, info.Size))
		ctx.Header("Content-Length", strconv.FormatInt(end-start+1, 10))
		ctx.Status(http.StatusPartialContent)
	} else {
		ctx.Header("Content-Length", strconv.FormatInt(info.Size, 10))
		ctx.Status(http.StatusOK)
	}

	// Direct copy, no buffering; a client disconnect cancels reqCtx and
	// aborts the upstream read.
	if _, err := io.Copy(ctx.Writer, stream); err != nil {
		logger.Debug("Segment stream aborted", map[string]interface{}{
			"object_key": key,
			"error":      err.Error(),
		})
	}
}

// parseRange handles the single-range form "bytes=a-b" / "bytes=a-" /
// "bytes=-n". Returns hasRange=false for an absent header and ok=false
// for an unsatisfiable one.
func parseRange(header string, size int64) (start, end int64, hasRange, ok bool) {
	if header == "" {
		return 0, 0, false, true
	}
	spec, found := strings.CutPrefix(header, "bytes=")
	if !found || strings.Contains(spec, ",") {
		return 0, 0, false, true
	}
	from, to, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, false, true
	}

	if from == "" {
		// Suffix form: last n bytes.
		n, err := strconv.ParseInt(to, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false, false
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, true, true
	}

	start, err := strconv.ParseInt(from, 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false, false
	}
	end = size - 1
	if to != "" {
		end, err = strconv.ParseInt(to, 10, 64)
		if err != nil || end < start {
			return 0, 0, false, false
		}
		if end >= size {
			end = size - 1
		}
	}
	return start, end, true, true
}
