// Package preprocess implements the multimodal preprocessor (§4.1): it
// rewrites every message-content list so no local file path or downloadable
// URL remains, inlining local images as base64 and deferring remote image
// fetches to a second pass. Grounded on the teacher's common/image package
// (MIME sniffing from extension, data: URL construction, and registering
// golang.org/x/image/webp as a blank-import decoder alongside the stdlib
// image codecs so webp content can be verified, not just trusted by
// extension).
package preprocess

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	_ "image/gif"  // format registration for image.DecodeConfig sniffing
	_ "image/jpeg" // format registration for image.DecodeConfig sniffing
	_ "image/png"  // format registration for image.DecodeConfig sniffing
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "golang.org/x/image/webp" // format registration: .webp is in supportedMIME but unhandled by stdlib

	"github.com/Laisky/errors/v2"

	"github.com/modelgate/modelgate/internal/apperrors"
	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/domain"
)

// sniffableFormat maps an image.DecodeConfig format name back to the MIME
// type it corresponds to, for cross-checking the extension/content-type a
// caller claims against what the bytes actually decode as. SVG and TIFF have
// no registered Go decoder and are trusted on claim alone.
var sniffableFormat = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// verifyImageBytes confirms data actually decodes as an image matching
// claimedMIME when a decoder is registered for it (§4.1: the proxy inlines
// only real images, not arbitrary files wearing an image extension).
// Formats without a registered decoder (svg, bmp, tiff) pass through
// unchecked.
func verifyImageBytes(claimedMIME string, data []byte) error {
	needsCheck := false
	for _, m := range sniffableFormat {
		if m == claimedMIME {
			needsCheck = true
			break
		}
	}
	if !needsCheck {
		return nil
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "decode image header")
	}
	if sniffableFormat[format] != claimedMIME {
		return errors.Errorf("image content (%s) does not match claimed type %s", format, claimedMIME)
	}
	return nil
}

// supportedMIME is the closed set of image MIME types the proxy will inline,
// keyed by file extension (§4.1).
var supportedMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
	".svg":  "image/svg+xml",
}

// Preprocessor normalizes canonical request content. FetchClient is the HTTP
// client used for the deferred remote-image pass; ReadFile and StatFile
// abstract local filesystem access so tests can avoid touching disk.
type Preprocessor struct {
	FetchClient *http.Client
	ReadFile    func(path string) ([]byte, error)
	StatFile    func(path string) (bool, error)
}

// New constructs a Preprocessor backed by the real filesystem and client.
func New(client *http.Client) *Preprocessor {
	return &Preprocessor{
		FetchClient: client,
		ReadFile:    os.ReadFile,
		StatFile: func(path string) (bool, error) {
			_, err := os.Stat(path)
			if err == nil {
				return true, nil
			}
			if os.IsNotExist(err) {
				return false, nil
			}
			return false, err
		},
	}
}

// Process rewrites req.Messages in place, normalizing every image_url part.
// Validation runs first over the whole request so a malformed part fails
// fast before any file is read or any remote image is fetched (§4.1).
func (p *Preprocessor) Process(ctx context.Context, req *domain.ChatRequest) error {
	for i := range req.Messages {
		parts, err := req.Messages[i].ContentParts()
		if err != nil {
			return err
		}
		if parts == nil {
			continue
		}
		if err := validateParts(parts, p.StatFile); err != nil {
			return err
		}
		req.Messages[i].Content = parts
	}

	// First pass: handle data: URLs (no-op) and local files; collect remote
	// URLs for the deferred fetch pass.
	type pending struct {
		msgIdx, partIdx int
	}
	var toFetch []pending

	for mi := range req.Messages {
		parts, ok := req.Messages[mi].Content.([]domain.ContentPart)
		if !ok {
			continue
		}
		for pi := range parts {
			part := &parts[pi]
			if part.Type != "image_url" || part.ImageURL == nil {
				continue
			}
			url := part.ImageURL.URL
			switch {
			case strings.HasPrefix(url, "data:"):
				// already encoded
			case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
				toFetch = append(toFetch, pending{mi, pi})
			default:
				dataURL, err := p.inlineLocalFile(url)
				if err != nil {
					return err
				}
				part.ImageURL.URL = dataURL
			}
		}
		req.Messages[mi].Content = parts
	}

	if len(toFetch) == 0 {
		return nil
	}

	// Second pass: fetch remote images concurrently; a fetch failure
	// downgrades to keeping the original URL rather than failing the
	// request (§4.1).
	var wg sync.WaitGroup
	for _, pos := range toFetch {
		pos := pos
		wg.Add(1)
		go func() {
			defer wg.Done()
			parts := req.Messages[pos.msgIdx].Content.([]domain.ContentPart)
			url := parts[pos.partIdx].ImageURL.URL
			dataURL, err := p.fetchRemoteImage(ctx, url)
			if err == nil {
				parts[pos.partIdx].ImageURL.URL = dataURL
			}
		}()
	}
	wg.Wait()
	return nil
}

func validateParts(parts []domain.ContentPart, statFile func(path string) (bool, error)) error {
	for _, part := range parts {
		if part.Type != "image_url" {
			continue
		}
		if part.ImageURL == nil || part.ImageURL.URL == "" {
			return apperrors.ValidationError("image_url part must have a non-empty url")
		}
		url := part.ImageURL.URL
		if strings.HasPrefix(url, "data:") || strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
			continue
		}
		if exists, err := statFile(url); err != nil || !exists {
			return apperrors.ValidationError("image_url %q is neither a data/http(s) url nor a resolvable local path", url)
		}
	}
	return nil
}

func (p *Preprocessor) inlineLocalFile(path string) (string, error) {
	exists, err := p.StatFile(path)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindValidation, err, "stat local image path")
	}
	if !exists {
		return "", apperrors.ValidationError("local image path does not exist: %s", path)
	}
	mime, ok := supportedMIME[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return "", apperrors.ValidationError("unsupported image extension for %s", path)
	}
	data, err := p.ReadFile(path)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindValidation, err, "read local image")
	}
	if err := verifyImageBytes(mime, data); err != nil {
		return "", apperrors.Wrap(apperrors.KindValidation, err, "verify local image content")
	}
	return buildDataURL(mime, data), nil
}

func (p *Preprocessor) fetchRemoteImage(ctx context.Context, url string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, config.ImageFetchTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.Wrap(err, "build image fetch request")
	}
	resp, err := p.FetchClient.Do(httpReq)
	if err != nil {
		return "", errors.Wrap(err, "fetch image")
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") || !mimeSupported(contentType) {
		return "", errors.Errorf("unsupported or missing content type: %s", contentType)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "read image body")
	}
	mime := strings.TrimSpace(strings.Split(contentType, ";")[0])
	if err := verifyImageBytes(mime, data); err != nil {
		return "", errors.Wrap(err, "verify remote image content")
	}
	return buildDataURL(mime, data), nil
}

func mimeSupported(contentType string) bool {
	base := strings.TrimSpace(strings.Split(contentType, ";")[0])
	for _, m := range supportedMIME {
		if m == base {
			return true
		}
	}
	return false
}

func buildDataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
