// Package artwork maintains media-server imagery for streamers: the show
// poster from the Twitch profile image, fanart from the offline banner, a
// generated banner strip, and the live preview frame used for episode
// thumbnails.
package artwork

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"golang.org/x/image/draw"

	"github.com/jmylchreest/vodarr/internal/httpclient"
	"github.com/jmylchreest/vodarr/internal/layout"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/observability"
	"github.com/jmylchreest/vodarr/internal/queue"
	"github.com/jmylchreest/vodarr/internal/recerr"
	"github.com/jmylchreest/vodarr/internal/repository"
	"github.com/jmylchreest/vodarr/internal/twitch"
)

// maxImageBytes bounds a single artwork download.
const maxImageBytes = 20 << 20

// Banner strip dimensions, matching what Kodi/Jellyfin skins expect.
const (
	bannerWidth  = 1000
	bannerHeight = 185
)

// previewWidth/Height select the Twitch live preview rendition.
const (
	previewWidth  = 1280
	previewHeight = 720
)

// TwitchAPI is the slice of the Helix client the fetcher needs.
type TwitchAPI interface {
	GetUsersByID(ctx context.Context, ids ...string) ([]twitch.User, error)
	GetStream(ctx context.Context, userID string) (*twitch.Stream, error)
}

// Fetcher downloads and derives artwork files under the recordings root.
type Fetcher struct {
	api       TwitchAPI
	http      *httpclient.Client
	layout    *layout.Layout
	streamers repository.StreamerRepository
	log       *slog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(api TwitchAPI, hc *httpclient.Client, l *layout.Layout, streamers repository.StreamerRepository, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		api:       api,
		http:      hc,
		layout:    l,
		streamers: streamers,
		log:       observability.WithComponent(log, "artwork"),
	}
}

// Register binds the periodic refresh to the task queue.
func (f *Fetcher) Register(executor *queue.Executor) {
	executor.Register(models.TaskKindArtworkRefresh, queue.HandlerFunc(f.runRefresh))
}

func (f *Fetcher) runRefresh(ctx context.Context, task *models.Task, progress queue.ProgressFunc) (string, error) {
	streamers, err := f.streamers.GetAll(ctx)
	if err != nil {
		return "", err
	}
	refreshed := 0
	for i, streamer := range streamers {
		if err := f.Refresh(ctx, streamer); err != nil {
			f.log.Warn("artwork refresh failed", "streamer", streamer.Login, "error", err)
			continue
		}
		refreshed++
		progress(float64(i+1)/float64(len(streamers)+1), streamer.Login)
	}
	return fmt.Sprintf("refreshed artwork for %d/%d streamers", refreshed, len(streamers)), nil
}

// Refresh re-reads the streamer's Helix record and re-derives the artwork
// set when the source images changed or files are missing.
func (f *Fetcher) Refresh(ctx context.Context, streamer *models.Streamer) error {
	users, err := f.api.GetUsersByID(ctx, streamer.TwitchID)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		return recerr.New(recerr.KindTwitchAPI, "artwork.refresh",
			"twitch user %s no longer exists", streamer.TwitchID)
	}
	user := users[0]

	posterPath := f.layout.PosterPath(streamer.Login)
	if user.ProfileImageURL != "" &&
		(user.ProfileImageURL != streamer.ProfileImageURL || !fileExists(posterPath)) {
		img, err := f.downloadImage(ctx, user.ProfileImageURL)
		if err != nil {
			return err
		}
		if err := writeJPEG(posterPath, img); err != nil {
			return err
		}
		if err := writeJPEG(f.layout.BannerPath(streamer.Login), bannerFrom(img)); err != nil {
			return err
		}
	}

	fanartPath := f.layout.FanartPath(streamer.Login)
	if user.OfflineImageURL != "" &&
		(user.OfflineImageURL != streamer.OfflineImageURL || !fileExists(fanartPath)) {
		img, err := f.downloadImage(ctx, user.OfflineImageURL)
		if err != nil {
			return err
		}
		if err := writeJPEG(fanartPath, img); err != nil {
			return err
		}
	}

	if user.ProfileImageURL != streamer.ProfileImageURL ||
		user.OfflineImageURL != streamer.OfflineImageURL {
		streamer.ProfileImageURL = user.ProfileImageURL
		streamer.OfflineImageURL = user.OfflineImageURL
		if err := f.streamers.Update(ctx, streamer); err != nil {
			return err
		}
	}
	return nil
}

// FetchPreview downloads the current live preview frame for a broadcaster
// into dest. Fails when the channel is not live.
func (f *Fetcher) FetchPreview(ctx context.Context, twitchID, dest string) error {
	stream, err := f.api.GetStream(ctx, twitchID)
	if err != nil {
		return err
	}
	if stream == nil || !stream.IsLive() {
		return recerr.New(recerr.KindTwitchAPI, "artwork.preview",
			"channel %s is not live", twitchID)
	}
	data, err := f.download(ctx, stream.PreviewURL(previewWidth, previewHeight))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(dest, data, 0o644)
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	resp, err := f.http.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image fetch %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (f *Fetcher) downloadImage(ctx context.Context, url string) (image.Image, error) {
	data, err := f.download(ctx, url)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("image decode %s: %w", url, err)
	}
	return img, nil
}

// bannerFrom scales the source into a wide strip, cropping a horizontal band
// out of the middle so the face stays centred.
func bannerFrom(src image.Image) image.Image {
	bounds := src.Bounds()
	bandHeight := bounds.Dx() * bannerHeight / bannerWidth
	if bandHeight > bounds.Dy() {
		bandHeight = bounds.Dy()
	}
	top := bounds.Min.Y + (bounds.Dy()-bandHeight)/2
	band := image.Rect(bounds.Min.X, top, bounds.Max.X, top+bandHeight)

	dst := image.NewRGBA(image.Rect(0, 0, bannerWidth, bannerHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, band, draw.Over, nil)
	return dst
}

func writeJPEG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return err
	}
	return renameio.WriteFile(path, buf.Bytes(), 0o644)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
