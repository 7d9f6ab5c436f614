package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/marginalia/internal/apperr"
)

// MaxImageSize bounds captured image payloads.
const MaxImageSize = 10 << 20

const (
	fetchTimeout = 30 * time.Second
	maxRedirects = 5
	svgSniffLen  = 1024
)

// imageExt maps accepted image media types to the extension stored on disk.
var imageExt = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
}

var unsafeNameRe = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

func extForType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return imageExt[mt]
}

func canonicalExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext == ".jpeg" {
		return ".jpg"
	}
	return ext
}

// LoadImage resolves an image source: a base64 data URI or an http(s) URL.
// The returned extension comes from the declared media type and may be empty
// for downloads without one.
func LoadImage(ctx context.Context, src string) ([]byte, string, error) {
	if strings.HasPrefix(src, "data:") {
		return decodeDataURI(src)
	}
	return fetchHTTP(ctx, src)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("capture: "+format+": %w", append(args, apperr.ErrInvalidInput)...)
}

// decodeDataURI parses data:<type>;base64,<payload>.
func decodeDataURI(uri string) ([]byte, string, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, "", invalid("data URI has no payload")
	}
	mediaType, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return nil, "", invalid("data URI is not base64")
	}
	ext := extForType(mediaType)
	if ext == "" {
		return nil, "", invalid("unsupported media type %q", mediaType)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(payload); err != nil {
			return nil, "", invalid("bad base64 payload")
		}
	}
	return data, ext, nil
}

// fetchHTTP downloads an image, refusing loopback, link-local and metadata
// hosts on the first request and on every redirect.
func fetchHTTP(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", invalid("bad URL %q", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", invalid("unsupported scheme %q", u.Scheme)
	}
	if err := checkBlockedHost(u.Hostname()); err != nil {
		return nil, "", err
	}

	client := &http.Client{
		Timeout: fetchTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.New("too many redirects")
			}
			return checkBlockedHost(req.URL.Hostname())
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("capture: fetch %s: %w", rawURL, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("capture: fetch %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("capture: fetch %s: status %d", rawURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("capture: fetch %s: %w", rawURL, err)
	}
	if len(data) > MaxImageSize {
		return nil, "", invalid("image exceeds %d bytes", MaxImageSize)
	}
	return data, extForType(resp.Header.Get("Content-Type")), nil
}

// checkBlockedHost rejects hosts that resolve to loopback or link-local
// addresses, which covers the 169.254.169.254 metadata endpoint.
func checkBlockedHost(host string) error {
	if strings.EqualFold(host, "metadata.google.internal") {
		return invalid("blocked host %s", host)
	}
	ips := []net.IP{net.ParseIP(host)}
	if ips[0] == nil {
		resolved, err := net.LookupIP(host)
		if err != nil {
			// DNS failures surface from the request itself.
			return nil
		}
		ips = resolved
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return invalid("blocked host %s", host)
		}
	}
	return nil
}

// FilenameFromURL returns the last path element of src when it looks like a
// file name, otherwise a random name with fallbackExt (default .png).
func FilenameFromURL(src, fallbackExt string) string {
	if fallbackExt == "" {
		fallbackExt = ".png"
	}
	if !strings.HasPrefix(src, "data:") {
		if u, err := url.Parse(src); err == nil {
			if base := path.Base(u.Path); strings.Contains(base, ".") && base != "." {
				return base
			}
		}
	}
	return uuid.NewString() + fallbackExt
}

// sanitizeFilename keeps the base name and replaces anything outside
// [a-zA-Z0-9._-] with an underscore.
func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeNameRe.ReplaceAllString(name, "_")
	if strings.Trim(name, "._") == "" {
		return uuid.NewString()
	}
	return name
}

// validateImage checks that ext is an accepted image type and that data
// looks like it.
func validateImage(data []byte, ext string) error {
	want := canonicalExt(ext)
	accepted := false
	for _, e := range imageExt {
		if e == want {
			accepted = true
			break
		}
	}
	if !accepted {
		return invalid("unsupported image extension %q", ext)
	}

	if want == ".svg" {
		head := data[:min(len(data), svgSniffLen)]
		if !bytes.Contains(head, []byte("<svg")) {
			return invalid("content is not an SVG")
		}
		return nil
	}
	detected := http.DetectContentType(data)
	if extForType(detected) != want {
		return invalid("content does not match %s (detected %s)", ext, detected)
	}
	return nil
}
