// Package assets turns transient generation results into durable objects.
package assets

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"archgen/internal/cache"
	"archgen/internal/infra"
	"archgen/internal/metrics"
	"archgen/internal/storage"
)

const (
	defaultMaxDimension = 2048
	defaultMaxBytes     = 200 << 20
	defaultMaxPixels    = 100_000_000
	cacheControlYear    = "31536000"
)

var (
	errUnsupportedSource = errors.New("assets: unsupported source")
	errUnsupportedType   = errors.New("assets: unsupported content type")
	errTooManyPixels     = errors.New("assets: image dimensions exceed pixel budget")
)

// Options configures a Persister.
type Options struct {
	Store        storage.ObjectStore
	Blobs        *cache.BlobCache
	HTTPClient   *http.Client
	ProxyBaseURL string
	MaxDimension int
	MaxBytes     int64
	// MaxPixels bounds width*height before a decode is attempted.
	MaxPixels    int64
	Logger       infra.Logger
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

// Persister copies data URIs, session blobs and remote URLs into the object
// store under the owner's namespace.
type Persister struct {
	store     storage.ObjectStore
	blobs     *cache.BlobCache
	client    *http.Client
	proxyBase string
	maxDim    int
	maxBytes  int64
	maxPixels int64
	marker    string
	logger    infra.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func New(opts Options) *Persister {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	maxDim := opts.MaxDimension
	if maxDim <= 0 {
		maxDim = defaultMaxDimension
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	maxPixels := opts.MaxPixels
	if maxPixels <= 0 {
		maxPixels = defaultMaxPixels
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	p := &Persister{
		store:     opts.Store,
		blobs:     opts.Blobs,
		client:    client,
		proxyBase: strings.TrimRight(opts.ProxyBaseURL, "/"),
		maxDim:    maxDim,
		maxBytes:  maxBytes,
		maxPixels: maxPixels,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		now:       now,
	}
	if opts.Store != nil {
		p.marker = opts.Store.PublicURL("")
	}
	return p
}

// IsDurable reports whether source already lives in the object store.
func (p *Persister) IsDurable(source string) bool {
	return p.marker != "" && strings.HasPrefix(source, p.marker)
}

// Persist stores source under ownerID and returns its public URL. Durable
// URLs are returned unchanged. Failures are logged and reported as false;
// callers keep using the original reference.
func (p *Persister) Persist(ctx context.Context, ownerID, source string) (string, bool) {
	source = strings.TrimSpace(source)
	if source == "" {
		return "", false
	}
	if p.IsDurable(source) {
		p.metrics.AssetPersisted("skipped")
		return source, true
	}
	publicURL, err := p.persist(ctx, ownerID, source)
	if err != nil {
		p.metrics.AssetPersisted("failed")
		p.logger.Warn().
			Err(err).
			Str("user_id", ownerID).
			Str("source", describeSource(source)).
			Msg("assets: persist failed; keeping original reference")
		return "", false
	}
	p.metrics.AssetPersisted("stored")
	return publicURL, true
}

type payload struct {
	data        []byte
	contentType string
	origin      string
}

type encoded struct {
	data        []byte
	contentType string
	ext         string
}

func (p *Persister) persist(ctx context.Context, ownerID, source string) (string, error) {
	if p.store == nil {
		return "", errors.New("assets: no object store configured")
	}
	if strings.TrimSpace(ownerID) == "" {
		return "", errors.New("assets: owner id is required")
	}
	in, err := p.load(ctx, source)
	if err != nil {
		return "", err
	}
	out, err := p.transform(in)
	if err != nil {
		return "", err
	}
	key := p.objectKey(ownerID, out.ext)
	err = p.store.Upload(ctx, key, out.data, storage.UploadOptions{
		ContentType:  out.contentType,
		CacheControl: cacheControlYear,
		Upsert:       false,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	p.logger.Debug().
		Str("user_id", ownerID).
		Str("key", key).
		Int("bytes", len(out.data)).
		Msg("assets: stored object")
	return p.store.PublicURL(key), nil
}

func (p *Persister) load(ctx context.Context, source string) (payload, error) {
	switch {
	case strings.HasPrefix(source, "data:"):
		return decodeDataURI(source)
	case strings.HasPrefix(source, cache.BlobPrefix):
		if p.blobs == nil {
			return payload{}, errors.New("assets: blob cache not configured")
		}
		blob, ok := p.blobs.Get(source)
		if !ok {
			return payload{}, fmt.Errorf("assets: blob %s expired or unknown", source)
		}
		return payload{data: blob.Data, contentType: blob.ContentType}, nil
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return p.fetchRemote(ctx, source)
	default:
		return payload{}, errUnsupportedSource
	}
}

// fetchRemote tries the URL directly and then once through the proxy.
func (p *Persister) fetchRemote(ctx context.Context, source string) (payload, error) {
	in, err := p.fetch(ctx, source)
	if err == nil {
		in.origin = source
		return in, nil
	}
	if p.proxyBase == "" || ctx.Err() != nil {
		return payload{}, err
	}
	p.logger.Debug().Err(err).Str("source", describeSource(source)).Msg("assets: direct fetch failed; retrying through proxy")
	proxied := p.proxyBase + "/proxy-download?url=" + url.QueryEscape(source)
	in, proxyErr := p.fetch(ctx, proxied)
	if proxyErr != nil {
		return payload{}, fmt.Errorf("direct: %v; proxy: %w", err, proxyErr)
	}
	in.origin = source
	return in, nil
}

func (p *Persister) fetch(ctx context.Context, target string) (payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return payload{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return payload{}, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return payload{}, fmt.Errorf("fetch status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return payload{}, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > p.maxBytes {
		return payload{}, fmt.Errorf("assets: body exceeds %d bytes", p.maxBytes)
	}
	if len(data) == 0 {
		return payload{}, errors.New("assets: empty body")
	}
	return payload{data: data, contentType: resp.Header.Get("Content-Type")}, nil
}

func (p *Persister) transform(in payload) (encoded, error) {
	contentType := mediaType(in.contentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mediaType(mimetype.Detect(in.data).String())
	}
	suffix := strings.ToLower(path.Ext(urlPath(in.origin)))

	switch {
	case strings.HasPrefix(contentType, "video/") || suffix == ".mp4" || suffix == ".mov":
		if contentType == "video/quicktime" || (suffix == ".mov" && !strings.HasPrefix(contentType, "video/")) {
			return encoded{data: in.data, contentType: "video/quicktime", ext: "mov"}, nil
		}
		return encoded{data: in.data, contentType: "video/mp4", ext: "mp4"}, nil
	case strings.HasPrefix(contentType, "image/"):
		data, err := p.reencode(in.data)
		if err != nil {
			return encoded{}, err
		}
		return encoded{data: data, contentType: "image/jpeg", ext: "jpg"}, nil
	default:
		return encoded{}, fmt.Errorf("%w: %q", errUnsupportedType, contentType)
	}
}

// reencode flattens the image onto white, bounds it to maxDim on the long
// side and writes it as a maximum quality JPEG.
func (p *Persister) reencode(data []byte) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > p.maxPixels {
		return nil, fmt.Errorf("%w: %dx%d", errTooManyPixels, cfg.Width, cfg.Height)
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	w, h := fitWithin(src.Bounds().Dx(), src.Bounds().Dy(), p.maxDim)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	if w == src.Bounds().Dx() && h == src.Bounds().Dy() {
		draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 100}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func (p *Persister) objectKey(ownerID, ext string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s/jobs/%d_%s.%s", ownerID, p.now().UnixMilli(), suffix, ext)
}

// fitWithin scales w x h down, preserving aspect ratio, so neither side
// exceeds limit.
func fitWithin(w, h, limit int) (int, int) {
	if limit <= 0 || (w <= limit && h <= limit) {
		return w, h
	}
	if w >= h {
		return limit, max(1, h*limit/w)
	}
	return max(1, w*limit/h), limit
}

func decodeDataURI(source string) (payload, error) {
	header, body, ok := strings.Cut(strings.TrimPrefix(source, "data:"), ",")
	if !ok {
		return payload{}, errors.New("assets: malformed data uri")
	}
	if !strings.HasSuffix(header, ";base64") {
		return payload{}, errors.New("assets: data uri is not base64")
	}
	data, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return payload{}, fmt.Errorf("decode data uri: %w", err)
	}
	return payload{data: data, contentType: strings.TrimSuffix(header, ";base64")}, nil
}

func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

func urlPath(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Path
}

// describeSource trims inline payloads so they stay out of the logs.
func describeSource(source string) string {
	if strings.HasPrefix(source, "data:") {
		header, _, _ := strings.Cut(source, ",")
		return header + ",..."
	}
	if len(source) > 256 {
		return source[:256] + "..."
	}
	return source
}
