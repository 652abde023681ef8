// Package upload stores chat media (images, voice notes) on local disk.
package upload

import (
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"astro_chat_server/internal/dto/respond"
	"astro_chat_server/pkg/errorx"
	"astro_chat_server/pkg/util/snowflake"
)

// allowedPrefixes are the media families a chat message can reference.
var allowedPrefixes = []string{"image/", "audio/"}

type uploadService struct {
	dir     string
	baseURL string
	maxSize int64
}

// NewUploadService saves into dir and returns urls under baseURL + "/static/".
func NewUploadService(dir, baseURL string, maxSize int64) *uploadService {
	return &uploadService{dir: dir, baseURL: strings.TrimRight(baseURL, "/"), maxSize: maxSize}
}

// Save sniffs the content type from the bytes, not the client's header,
// and writes the file under a snowflake name.
func (u *uploadService) Save(fileHeader *multipart.FileHeader) (*respond.UploadRespond, error) {
	if u.maxSize > 0 && fileHeader.Size > u.maxSize {
		return nil, errorx.Newf(errorx.CodeInvalidParam, "file larger than %d bytes", u.maxSize)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return nil, errorx.Wrap(err, errorx.CodeInvalidParam, "cannot read upload")
	}
	defer src.Close()

	mtype, err := mimetype.DetectReader(src)
	if err != nil {
		return nil, errorx.Wrap(err, errorx.CodeInvalidParam, "cannot detect file type")
	}
	if !allowed(mtype.String()) {
		return nil, errorx.Newf(errorx.CodeInvalidParam, "file type %s not allowed", mtype.String())
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, errorx.Wrap(err, errorx.CodeServerBusy, "rewind upload")
	}

	if err := os.MkdirAll(u.dir, 0o755); err != nil {
		zap.L().Error("create upload dir", zap.String("dir", u.dir), zap.Error(err))
		return nil, errorx.ErrServerBusy
	}
	name := snowflake.GenerateIDString() + mtype.Extension()
	dst := filepath.Join(u.dir, name)

	out, err := os.Create(dst)
	if err != nil {
		zap.L().Error("create upload file", zap.String("path", dst), zap.Error(err))
		return nil, errorx.ErrServerBusy
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		zap.L().Error("write upload file", zap.String("path", dst), zap.Error(err))
		return nil, errorx.ErrServerBusy
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return nil, errorx.ErrServerBusy
	}

	zap.L().Info("upload saved", zap.String("file", name), zap.String("mime", mtype.String()), zap.Int64("size", fileHeader.Size))
	return &respond.UploadRespond{
		Ok:           true,
		Url:          u.baseURL + "/static/" + name,
		OriginalName: filepath.Base(fileHeader.Filename),
		MimeType:     mtype.String(),
	}, nil
}

func allowed(mime string) bool {
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(mime, p) {
			return true
		}
	}
	return false
}
