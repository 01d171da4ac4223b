package bridge

import (
	"context"
	"log/slog"

	"github.com/zq940222/openclaw-feishu/internal/artifact"
)

// MediaPayload is the raw download result for one media reference.
type MediaPayload struct {
	Data        []byte
	ContentType string
	Name        string
}

// Downloader fetches platform-hosted media by message id and resource key.
// All media kinds go through this single contract.
type Downloader interface {
	Download(ctx context.Context, messageID, key string, kind MediaKind) (MediaPayload, error)
}

// MediaResolver downloads the media references of an event and persists them
// as local artifacts. Resolution is best-effort per item: a failed download
// drops that item instead of failing the event.
type MediaResolver struct {
	downloader Downloader
	store      *artifact.Store
	maxBytes   int64
	logger     *slog.Logger
}

// NewMediaResolver creates a resolver persisting into store with the given
// per-item byte ceiling.
func NewMediaResolver(log *slog.Logger, downloader Downloader, store *artifact.Store, maxBytes int64) *MediaResolver {
	if log == nil {
		log = slog.Default()
	}
	return &MediaResolver{
		downloader: downloader,
		store:      store,
		maxBytes:   maxBytes,
		logger:     log.With(slog.String("component", "media_resolver")),
	}
}

// Resolve downloads and persists every media reference on the event. The
// returned slice preserves input order; a failed item is dropped entirely.
// Resolve itself never returns an error for per-item failures.
func (r *MediaResolver) Resolve(ctx context.Context, in InboundContext) []ResolvedMedia {
	if len(in.Media) == 0 {
		return nil
	}
	resolved := make([]ResolvedMedia, 0, len(in.Media))
	for _, ref := range in.Media {
		payload, err := r.downloader.Download(ctx, in.MessageID, ref.Key, ref.Kind)
		if err != nil {
			r.logger.Warn("media download failed",
				slog.String("message_id", in.MessageID),
				slog.String("kind", string(ref.Kind)),
				slog.String("error", err.Error()),
			)
			continue
		}
		art, err := r.store.Persist(ctx, artifact.PersistInput{
			Data:        payload.Data,
			ContentType: payload.ContentType,
			Direction:   artifact.DirectionInbound,
			Name:        payload.Name,
			MaxBytes:    r.maxBytes,
		})
		if err != nil {
			r.logger.Warn("media persist failed",
				slog.String("message_id", in.MessageID),
				slog.String("kind", string(ref.Kind)),
				slog.String("error", err.Error()),
			)
			continue
		}
		resolved = append(resolved, ResolvedMedia{
			Path:        art.Path,
			ContentType: art.ContentType,
			Placeholder: Placeholder(ref.Kind),
		})
	}
	return resolved
}

// Placeholder returns the inline token substituted for a media item in the
// envelope text.
func Placeholder(kind MediaKind) string {
	switch kind {
	case MediaImage:
		return "<media:image>"
	case MediaFile:
		return "<media:file>"
	case MediaAudio:
		return "<media:audio>"
	case MediaVideo:
		return "<media:video>"
	case MediaSticker:
		return "<media:sticker>"
	default:
		return "<media>"
	}
}
