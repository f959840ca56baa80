package handler

import (
	"context"
	"database/sql"
	"errors"
	"mime/multipart"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"tagme/internal/config"
	"tagme/internal/service"
)

const (
	maxTitleLen       = 255
	maxDescriptionLen = 1000
)

// allowedPhotoMIME is the declared-content-type allow-list for uploads.
// The imaging layer re-sniffs the actual bytes, so this is a fast reject
// only, not the security boundary.
var allowedPhotoMIME = map[string]bool{
	"image/jpg":  true,
	"image/jpeg": true,
	"image/png":  true,
}

// successPayload is the envelope for mutating operations.
type successPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// HealthCheck returns a handler that verifies database connectivity.
func HealthCheck(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe returns a simple liveness handler.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// ListItems handles GET /items/pagination with page, limit and an optional
// case-insensitive title filter.
func ListItems(itemSvc service.ItemService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		page, err := strconv.Atoi(c.Query("page", "1"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_PAGE", "invalid page")
		}
		limit, err := strconv.Atoi(c.Query("limit", "10"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}

		res, err := itemSvc.Paginate(c.UserContext(), service.PageRequest{
			Page:  page,
			Limit: limit,
			Title: c.Query("title"),
		})
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(res)
	}
}

// FindItemByID handles GET /items/findById/:id.
func FindItemByID(itemSvc service.ItemService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		item, err := itemSvc.FindByID(c.UserContext(), id)
		if err != nil {
			if errors.Is(err, service.ErrNotFound) {
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "item not found")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(item)
	}
}

// GetItemPhoto handles GET /items/:photo, streaming stored image bytes.
func GetItemPhoto(itemSvc service.ItemService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		filename := c.Params("photo")
		rc, info, err := itemSvc.GetPhoto(c.UserContext(), filename)
		if err != nil {
			if errors.Is(err, service.ErrInvalidFilename) {
				return writeError(c, fiber.StatusBadRequest, "INVALID_FILENAME", "invalid photo filename")
			}
			if errors.Is(err, service.ErrPhotoNotFound) {
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "photo not found")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}

		if info.ContentType != "" {
			c.Set(fiber.HeaderContentType, info.ContentType)
		} else {
			c.Set(fiber.HeaderContentType, "image/jpeg")
		}
		// fasthttp closes the stream if it implements io.Closer.
		return c.SendStream(rc, int(info.Size))
	}
}

// CreateItem handles POST /items/create (multipart: title, description, photo).
func CreateItem(itemSvc service.ItemService, up config.UploadConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		title := c.FormValue("title")
		if msg := validateTitle(title, true); msg != "" {
			return writeError(c, fiber.StatusBadRequest, "VALIDATION_ERROR", msg)
		}
		description := c.FormValue("description")
		if msg := validateDescription(description, true); msg != "" {
			return writeError(c, fiber.StatusBadRequest, "VALIDATION_ERROR", msg)
		}

		fh, err := c.FormFile("photo")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "PHOTO_REQUIRED", "photo is required")
		}
		if status, code, msg := validatePhotoHeader(fh, up); status != 0 {
			return writeError(c, status, code, msg)
		}

		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "PHOTO_OPEN_ERROR", "cannot open uploaded photo")
		}
		defer f.Close()

		item, err := itemSvc.Create(c.UserContext(), service.CreateItemInput{
			Title:       title,
			Description: description,
			Photo:       f,
		})
		if err != nil {
			if errors.Is(err, service.ErrPhotoInvalid) {
				return writeError(c, fiber.StatusBadRequest, "IMAGE_PROCESSING_FAILED", "failed to process image")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.Status(fiber.StatusCreated).JSON(successPayload{
			Success: true,
			Message: "item created",
			Data:    item,
		})
	}
}

// UpdateItem handles PUT /items/:id (multipart, every field optional).
// Omitted fields keep their current values; provided fields must still pass
// validation.
func UpdateItem(itemSvc service.ItemService, up config.UploadConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}

		var in service.UpdateItemInput

		if title, ok := formValue(c, "title"); ok {
			if msg := validateTitle(title, false); msg != "" {
				return writeError(c, fiber.StatusBadRequest, "VALIDATION_ERROR", msg)
			}
			in.Title = &title
		}
		if description, ok := formValue(c, "description"); ok {
			if msg := validateDescription(description, false); msg != "" {
				return writeError(c, fiber.StatusBadRequest, "VALIDATION_ERROR", msg)
			}
			in.Description = &description
		}

		if fh, err := c.FormFile("photo"); err == nil && fh != nil {
			if status, code, msg := validatePhotoHeader(fh, up); status != 0 {
				return writeError(c, status, code, msg)
			}
			f, err := fh.Open()
			if err != nil {
				return writeError(c, fiber.StatusBadRequest, "PHOTO_OPEN_ERROR", "cannot open uploaded photo")
			}
			defer f.Close()
			in.Photo = f
		}

		item, err := itemSvc.Update(c.UserContext(), id, in)
		if err != nil {
			if errors.Is(err, service.ErrNotFound) {
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "item not found")
			}
			if errors.Is(err, service.ErrPhotoInvalid) {
				return writeError(c, fiber.StatusBadRequest, "IMAGE_PROCESSING_FAILED", "failed to process image")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(successPayload{
			Success: true,
			Message: "item updated",
			Data:    item,
		})
	}
}

// DeleteItem handles DELETE /items/:id.
func DeleteItem(itemSvc service.ItemService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		if err := itemSvc.Delete(c.UserContext(), id); err != nil {
			if errors.Is(err, service.ErrNotFound) {
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "item not found")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(successPayload{
			Success: true,
			Message: "item deleted",
		})
	}
}

// formValue reports whether the multipart field was supplied at all,
// distinguishing "omitted" from "provided empty".
func formValue(c *fiber.Ctx, key string) (string, bool) {
	form, err := c.MultipartForm()
	if err != nil || form == nil {
		return "", false
	}
	vals, ok := form.Value[key]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

func validateTitle(title string, required bool) string {
	if title == "" {
		if required {
			return "title is required"
		}
		return "title must not be empty"
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return "title must be at most 255 characters"
	}
	return ""
}

func validateDescription(description string, required bool) string {
	if description == "" {
		if required {
			return "description is required"
		}
		return "description must not be empty"
	}
	if utf8.RuneCountInString(description) > maxDescriptionLen {
		return "description must be at most 1000 characters"
	}
	return ""
}

// validatePhotoHeader checks the declared MIME type and size ceiling of an
// uploaded photo. Returns a zero status when the header is acceptable.
func validatePhotoHeader(fh *multipart.FileHeader, up config.UploadConfig) (int, string, string) {
	ct := strings.ToLower(strings.TrimSpace(fh.Header.Get("Content-Type")))
	if !allowedPhotoMIME[ct] {
		return fiber.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "only jpg, jpeg and png images are allowed"
	}
	if up.MaxBytes > 0 && fh.Size > up.MaxBytes {
		return fiber.StatusRequestEntityTooLarge, "PHOTO_TOO_LARGE", "photo exceeds the size limit"
	}
	return 0, "", ""
}
