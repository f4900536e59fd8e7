package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/willianmendesf/whatsapp-sender/internal/constants"
	apperrors "github.com/willianmendesf/whatsapp-sender/internal/errors"
	"github.com/willianmendesf/whatsapp-sender/internal/models"
	"github.com/willianmendesf/whatsapp-sender/internal/validation"
	"github.com/willianmendesf/whatsapp-sender/pkg/whatsapp/types"
)

// ErrUnsupportedMediaKind is matched by errors for media kinds the
// transport cannot send.
var ErrUnsupportedMediaKind = apperrors.New(apperrors.ErrCodeUnsupportedMedia, "unsupported media kind")

// MediaResolver turns caller media specs into transport media objects.
type MediaResolver struct {
	httpClient *http.Client
	maxBytes   int64
	logger     *logrus.Logger
}

// NewMediaResolver creates a resolver. Remote payloads larger than
// maxDownloadMB are rejected.
func NewMediaResolver(config models.MediaConfig, logger *logrus.Logger) *MediaResolver {
	maxMB := config.MaxDownloadMB
	if maxMB <= 0 {
		maxMB = constants.DefaultMaxDownloadMB
	}
	timeout := time.Duration(config.DownloadTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(constants.DefaultMediaDownloadTimeoutS) * time.Second
	}

	return &MediaResolver{
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   int64(maxMB) * constants.BytesPerMegabyte,
		logger:     logger,
	}
}

// Resolve fetches or decodes the payload of spec. Video is rejected.
func (r *MediaResolver) Resolve(ctx context.Context, spec *models.MediaSpec) (*types.MediaObject, error) {
	if spec == nil {
		return nil, nil
	}

	switch spec.Kind {
	case models.MediaImage, models.MediaAudio, models.MediaDocument:
	default:
		return nil, apperrors.Wrap(ErrUnsupportedMediaKind, apperrors.ErrCodeUnsupportedMedia,
			fmt.Sprintf("media kind %q cannot be sent", spec.Kind)).
			WithContext(LogFieldMediaType, string(spec.Kind))
	}

	var (
		obj *types.MediaObject
		err error
	)
	if validation.IsURL(spec.Data) {
		obj, err = r.fetch(ctx, spec)
	} else {
		obj, err = r.decodeInline(spec)
	}
	if err != nil {
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		LogFieldMediaType: obj.Kind,
		LogFieldFileName:  obj.Filename,
		"mimetype":        obj.Mimetype,
	}).Debug("Media resolved")
	return obj, nil
}

func (r *MediaResolver) decodeInline(spec *models.MediaSpec) (*types.MediaObject, error) {
	declared, payload, err := validation.ParseInlineData(spec.Data)
	if err != nil {
		return nil, apperrors.NewMediaError("decode", string(spec.Kind), err)
	}

	mimeType := declared
	if mimeType == "" {
		mimeType = kindMimeType(spec.Kind)
	}

	return &types.MediaObject{
		Kind:     string(spec.Kind),
		Mimetype: mimeType,
		Filename: filenameFor(spec, "", mimeType),
		Data:     payload,
	}, nil
}

func (r *MediaResolver) fetch(ctx context.Context, spec *models.MediaSpec) (*types.MediaObject, error) {
	mediaURL := strings.TrimSpace(spec.Data)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, apperrors.NewMediaError("download", string(spec.Kind), err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		appErr := apperrors.NewMediaError("download", string(spec.Kind), err)
		appErr.Retryable = true
		return nil, appErr
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		appErr := apperrors.NewMediaError("download", string(spec.Kind),
			fmt.Errorf("unexpected status %d from media host", resp.StatusCode)).
			WithContext(LogFieldStatusCode, resp.StatusCode)
		appErr.Retryable = resp.StatusCode >= 500
		return nil, appErr
	}

	if resp.ContentLength > r.maxBytes {
		return nil, apperrors.NewMediaError("download", string(spec.Kind),
			fmt.Errorf("media is %d bytes, limit is %d", resp.ContentLength, r.maxBytes))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, apperrors.NewMediaError("download", string(spec.Kind), err)
	}
	if int64(len(body)) > r.maxBytes {
		return nil, apperrors.NewMediaError("download", string(spec.Kind),
			fmt.Errorf("media exceeds %d bytes", r.maxBytes))
	}
	if len(body) == 0 {
		return nil, apperrors.NewMediaError("download", string(spec.Kind), fmt.Errorf("media host returned an empty body"))
	}

	mimeType := ""
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if parsed, _, err := mime.ParseMediaType(ct); err == nil {
			mimeType = parsed
		}
	}
	if mimeType == "" || mimeType == constants.DefaultMimeType {
		if sniffed, _, err := mime.ParseMediaType(http.DetectContentType(body)); err == nil && sniffed != constants.DefaultMimeType {
			mimeType = sniffed
		}
	}
	if mimeType == "" || mimeType == constants.DefaultMimeType {
		mimeType = kindMimeType(spec.Kind)
	}

	return &types.MediaObject{
		Kind:     string(spec.Kind),
		Mimetype: mimeType,
		Filename: filenameFor(spec, mediaURL, mimeType),
		Data:     base64.StdEncoding.EncodeToString(body),
	}, nil
}

func kindMimeType(kind models.MediaKind) string {
	if mt, ok := constants.KindMimeTypes[string(kind)]; ok {
		return mt
	}
	return constants.DefaultMimeType
}

// filenameFor prefers the caller's filename, then the last URL segment when
// it carries an extension, then "<kind>.<ext>".
func filenameFor(spec *models.MediaSpec, mediaURL, mimeType string) string {
	if name := strings.TrimSpace(spec.Filename); name != "" {
		return path.Base(name)
	}

	if mediaURL != "" {
		if u, err := url.Parse(mediaURL); err == nil {
			base := path.Base(u.Path)
			if path.Ext(base) != "" && base != "." && base != "/" {
				return base
			}
		}
	}

	return string(spec.Kind) + "." + constants.ExtensionFor(mimeType)
}
