package keepsake

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// envelope is the uniform JSON response shape.
type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Count   *int        `json:"count,omitempty"`
}

func ok(c echo.Context, code int, msg string, data interface{}) error {
	return c.JSON(code, envelope{Success: true, Message: msg, Data: data})
}

func okList(c echo.Context, images []Image) error {
	n := len(images)
	return c.JSON(http.StatusOK, envelope{Success: true, Data: images, Count: &n})
}

func fail(c echo.Context, code int, msg string) error {
	return c.JSON(code, envelope{Success: false, Message: msg})
}

// flexDate accepts RFC 3339 timestamps, plain YYYY-MM-DD dates, and null.
type flexDate struct {
	t *time.Time
}

func (d *flexDate) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "" {
		d.t = nil
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			d.t = &t
			return nil
		}
	}
	return fmt.Errorf("unrecognized date %q", s)
}

// --- Auth ---

func (a *App) handleLogin(c echo.Context) error {
	if !a.loginLimiter.Check(c.RealIP()) {
		return fail(c, http.StatusTooManyRequests, "Too many login attempts. Try again later.")
	}

	var body struct {
		Password string `json:"password"`
	}
	if err := c.Bind(&body); err != nil || body.Password == "" {
		return fail(c, http.StatusBadRequest, "Password is required")
	}

	token, err := a.Tokens.Issue(body.Password)
	if err != nil {
		a.loginLimiter.Record(c.RealIP())
		return fail(c, http.StatusUnauthorized, "Invalid credentials")
	}

	expiresAt := time.Now().Add(a.Config.TokenTTL).UTC()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":   true,
		"message":   "Login successful",
		"token":     token,
		"expiresAt": expiresAt.Format(time.RFC3339),
	})
}

// handleVerify always answers 200; the payload carries validity and expiry.
func (a *App) handleVerify(c echo.Context) error {
	var body struct {
		Token string `json:"token"`
	}
	if err := c.Bind(&body); err != nil || body.Token == "" {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success": false,
			"valid":   false,
			"message": "Token is required",
		})
	}

	claims, err := a.Tokens.Verify(body.Token)
	if err != nil {
		msg := "Token is not valid"
		if err == ErrTokenExpired {
			msg = "Token has expired"
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success": false,
			"valid":   false,
			"message": msg,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":   true,
		"valid":     true,
		"message":   "Token is valid",
		"expiresAt": claims.ExpiresAtTime().UTC().Format(time.RFC3339),
	})
}

func (a *App) handleMe(c echo.Context) error {
	claims := ClaimsFrom(c)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":       true,
		"authenticated": true,
		"loginTime":     claims.LoginTime.Format(time.RFC3339),
		"expiresAt":     claims.ExpiresAtTime().UTC().Format(time.RFC3339),
	})
}

// --- Images ---

// handleGallery returns the list handler for one fixed category.
func (a *App) handleGallery(cat Category) echo.HandlerFunc {
	return func(c echo.Context) error {
		images, err := a.Store.ListByCategory(c.Request().Context(), cat)
		if err != nil {
			return err
		}
		return okList(c, images)
	}
}

func (a *App) handleLetter(c echo.Context) error {
	letter, err := a.Store.GetLetter(c.Request().Context())
	if err != nil {
		return err
	}
	// No letter seeded yet is a valid outcome, not a 404.
	return c.JSON(http.StatusOK, envelope{Success: true, Data: letter})
}

func (a *App) handleGetImage(c echo.Context) error {
	img, err := a.Store.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, "", img)
}

func (a *App) handleCreateImage(c echo.Context) error {
	file, err := c.FormFile("image")
	if err != nil {
		return fail(c, http.StatusBadRequest, "No image file provided")
	}
	if file.Size > a.Config.MaxUploadBytes {
		return fail(c, http.StatusBadRequest, "File too large")
	}
	if !AllowedImageFile(file.Filename, file.Header.Get(echo.HeaderContentType)) {
		return fail(c, http.StatusBadRequest, "Only image files are allowed")
	}

	category := Category(c.FormValue("category"))
	if !category.Valid() {
		return fail(c, http.StatusBadRequest, "Valid category is required (primary-gallery, moments-gallery, or letter)")
	}

	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}

	// The record filename falls back to the uploaded file's original name.
	filename := strings.TrimSpace(c.FormValue("filename"))
	if filename == "" {
		filename = file.Filename
	}

	img := &Image{
		Filename:    filename,
		Description: c.FormValue("description"),
		Category:    category,
	}
	if raw := strings.TrimSpace(c.FormValue("date")); raw != "" {
		var d flexDate
		if err := d.UnmarshalJSON([]byte(raw)); err != nil {
			return fail(c, http.StatusBadRequest, "Invalid date format. Use YYYY-MM-DD")
		}
		img.Date = d.t
	}

	mimeType := MimeTypeForFile(file.Filename)
	if err := a.Blobs.Save(img, file.Filename, mimeType, data); err != nil {
		return err
	}
	if err := a.Store.Create(c.Request().Context(), img); err != nil {
		// The record never landed; do not leave orphaned bytes behind.
		a.Blobs.Remove(img)
		return err
	}
	return ok(c, http.StatusCreated, "Image uploaded successfully", img)
}

// bulkImageInput is one element of a bulk insert, typically produced by the
// seeding tool.
type bulkImageInput struct {
	Filename    string   `json:"filename"`
	Description string   `json:"description"`
	Date        flexDate `json:"date"`
	ImageURL    string   `json:"imageUrl"`
	ImageData   string   `json:"imageData"`
	Category    Category `json:"category"`
	Order       int      `json:"order"`
}

func (a *App) handleBulkCreate(c echo.Context) error {
	var body struct {
		Images json.RawMessage `json:"images"`
	}
	if err := c.Bind(&body); err != nil || len(body.Images) == 0 {
		return fail(c, http.StatusBadRequest, "Images array is required")
	}
	var inputs []bulkImageInput
	if err := json.Unmarshal(body.Images, &inputs); err != nil {
		return fail(c, http.StatusBadRequest, "Images array is required")
	}
	// An empty array is a valid batch; report it without touching the store.
	if len(inputs) == 0 {
		zero := 0
		return c.JSON(http.StatusCreated, envelope{
			Success: true,
			Message: "0 images added",
			Count:   &zero,
		})
	}

	images := make([]Image, len(inputs))
	for i, in := range inputs {
		images[i] = Image{
			Filename:    in.Filename,
			Description: in.Description,
			Date:        in.Date.t,
			ImageURL:    in.ImageURL,
			ImageData:   in.ImageData,
			Category:    in.Category,
			Order:       in.Order,
		}
	}

	count, err := a.Store.BulkCreate(c.Request().Context(), images)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, envelope{
		Success: true,
		Message: fmt.Sprintf("%d images added", count),
		Count:   &count,
	})
}

func (a *App) handleUpdateImage(c echo.Context) error {
	var body struct {
		Filename    *string   `json:"filename"`
		Description *string   `json:"description"`
		Date        *flexDate `json:"date"`
		Order       *int      `json:"order"`
	}
	if err := c.Bind(&body); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body")
	}

	upd := ImageUpdate{
		Filename:    body.Filename,
		Description: body.Description,
		Order:       body.Order,
	}
	if body.Date != nil {
		upd.Date = body.Date.t
	}

	img, err := a.Store.Update(c.Request().Context(), c.Param("id"), upd)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, "Image updated successfully", img)
}

func (a *App) handleDeleteImage(c echo.Context) error {
	img, err := a.Store.Delete(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	// Best-effort file cleanup; a missing file never fails the delete.
	a.Blobs.Remove(img)
	return ok(c, http.StatusOK, "Image deleted successfully", nil)
}

// handleHealth is a liveness probe with no data dependency.
func (a *App) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"message": "keepsake API is running",
	})
}

// handleHealthDB reports whether the cached database handle answers. It
// never connects: a cold handle reads as disconnected until the first
// repository request warms it.
func (a *App) handleHealthDB(c echo.Context) error {
	connected := a.Conn.Ping(c.Request().Context()) == nil
	status, code := "ok", http.StatusOK
	if !connected {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]interface{}{
		"status":   status,
		"database": connected,
	})
}
