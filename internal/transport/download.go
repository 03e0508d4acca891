package transport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"moderation-bot/pkg/telegoapi"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// Downloader saves Telegram files to the local disk.
type Downloader struct {
	api   telegoapi.BotAPI
	fetch func(url string) ([]byte, error)
}

// NewDownloader creates a downloader using api to resolve file paths.
func NewDownloader(api telegoapi.BotAPI) *Downloader {
	return &Downloader{api: api, fetch: tu.DownloadFile}
}

// Download fetches fileID and writes it to dest. The file appears at dest only
// once it is complete.
func (d *Downloader) Download(ctx context.Context, fileID, dest string) error {
	file, err := d.api.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return fmt.Errorf("failed to get file info for %s: %w", fileID, err)
	}
	if file.FilePath == "" {
		return fmt.Errorf("file %s has no download path", fileID)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := d.fetch(d.api.FileDownloadURL(file.FilePath))
	if err != nil {
		return fmt.Errorf("failed to download file %s: %w", fileID, err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dest, err)
	}
	tmp := dest + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", dest, err)
	}
	return nil
}
