package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/wapuda/tg-autosort/internal/sortq"
)

// Downloader fetches Telegram files into DATA_DIR/downloads/<id>/<name> and
// removes them again once the queue lets go of them.
type Downloader struct {
	bot      *tgbotapi.BotAPI
	root     string
	client   *http.Client
	endpoint string
	newID    func() string
}

type DownloaderOption func(*Downloader)

// WithFileEndpoint overrides tgbotapi.FileEndpoint ("…/file/bot%s/%s").
func WithFileEndpoint(ep string) DownloaderOption { return func(d *Downloader) { d.endpoint = ep } }

func WithHTTPClient(c *http.Client) DownloaderOption { return func(d *Downloader) { d.client = c } }

func NewDownloader(bot *tgbotapi.BotAPI, dataDir string, newID func() string, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		bot:      bot,
		root:     filepath.Join(dataDir, "downloads"),
		client:   http.DefaultClient,
		endpoint: tgbotapi.FileEndpoint,
		newID:    newID,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Download stores the file under name and returns its local path and size.
func (d *Downloader) Download(ctx context.Context, fileID, name string) (string, int64, error) {
	f, err := d.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return "", 0, fmt.Errorf("get file: %w", Classify(err))
	}
	if name = safeName(name); name == "" {
		name = safeName(filepath.Base(f.FilePath))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(d.endpoint, d.bot.Token, f.FilePath), nil)
	if err != nil {
		return "", 0, err
	}

	dir := filepath.Join(d.root, d.newID())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, err
	}
	dst := filepath.Join(dir, name)
	resp, err := d.client.Do(req)
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", 0, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_ = os.RemoveAll(dir)
		return "", 0, fmt.Errorf("download: status %s", resp.Status)
	}

	out, err := os.Create(dst)
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", 0, err
	}
	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", 0, fmt.Errorf("download: %w", err)
	}
	return dst, n, nil
}

// Release removes a downloaded file, its thumbnail and their per-download
// directories. Paths outside the download root are left alone.
func (d *Downloader) Release(m sortq.MediaRef) {
	for _, p := range []string{m.Path, m.Thumb} {
		d.remove(p)
	}
}

func (d *Downloader) remove(path string) {
	if path == "" {
		return
	}
	dir := filepath.Dir(path)
	if filepath.Dir(dir) != d.root {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("cleanup failed")
	}
}

func safeName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if name == "." || name == ".." {
		return ""
	}
	return name
}
