package handler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/wandertune/api/internal/model"
	"github.com/wandertune/api/pkg/response"
)

var allowedImageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

type UploadHandler struct {
	uploadDir   string
	maxFileSize int64
}

func NewUploadHandler(uploadDir string, maxFileSize int64) *UploadHandler {
	return &UploadHandler{
		uploadDir:   uploadDir,
		maxFileSize: maxFileSize,
	}
}

// UploadImages handles POST /api/uploads/images
// @Summary      Upload images
// @Description  Upload one or more images to be referenced by a generation task
// @Tags         Uploads
// @Accept       multipart/form-data
// @Produce      json
// @Param        images formData file true "Image files"
// @Success      201 {object} model.UploadImagesResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/uploads/images [post]
func (h *UploadHandler) UploadImages(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return response.ValidationError(c, "Invalid multipart form", nil)
	}

	files := form.File["images"]
	if len(files) == 0 {
		return response.ValidationError(c, "No image files provided", nil)
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return response.ServiceError(c, "Failed to prepare upload directory")
	}

	var saved []string
	cleanup := func() {
		for _, p := range saved {
			os.Remove(p)
		}
	}

	for _, file := range files {
		ext := strings.ToLower(filepath.Ext(file.Filename))
		if !allowedImageExtensions[ext] {
			cleanup()
			return response.ValidationError(c,
				fmt.Sprintf("File type not allowed: %s", file.Filename), nil)
		}
		if h.maxFileSize > 0 && file.Size > h.maxFileSize {
			cleanup()
			return response.ValidationError(c,
				fmt.Sprintf("File too large: %s", file.Filename), nil)
		}

		dest := filepath.Join(h.uploadDir, uuid.New().String()+ext)
		if err := c.SaveFile(file, dest); err != nil {
			cleanup()
			return response.ServiceError(c, "Failed to save uploaded file")
		}
		saved = append(saved, dest)
	}

	return response.Created(c, model.UploadImagesResponse{
		ImagePaths: saved,
		Count:      len(saved),
	})
}
