package handler

import (
	"net/http"

	"astro_chat_server/internal/service"
	"astro_chat_server/pkg/errorx"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type UploadHandler struct {
	uploadSvc service.UploadService
}

func NewUploadHandler(uploadSvc service.UploadService) *UploadHandler {
	return &UploadHandler{uploadSvc: uploadSvc}
}

// Upload POST /upload, multipart field "file".
// Answers {ok, url, originalName, mimeType} without the /api envelope.
func (h *UploadHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "file is required"})
		return
	}

	res, err := h.uploadSvc.Save(fileHeader)
	if err != nil {
		switch errorx.GetCode(err) {
		case errorx.CodeInvalidParam:
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": errorx.GetMsg(err)})
		default:
			zap.L().Error("upload failed", zap.String("name", fileHeader.Filename), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "upload failed"})
		}
		return
	}
	c.JSON(http.StatusOK, res)
}
