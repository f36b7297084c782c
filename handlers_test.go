package keepsake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sort"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// fakeStore is an in-memory Store for handler tests. It mirrors the sort
// contract of the MongoDB implementation: ascending date with undated
// records first, then ascending order.
type fakeStore struct {
	images []Image
	err    error // when set, every call fails with it
}

func (f *fakeStore) ListByCategory(_ context.Context, cat Category) ([]Image, error) {
	if f.err != nil {
		return nil, f.err
	}
	if !cat.Valid() {
		return nil, validationErr("category", "unknown category")
	}
	var out []Image
	for _, img := range f.images {
		if img.Category == cat {
			out = append(out, img)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.Date == nil && b.Date != nil:
			return true
		case a.Date != nil && b.Date == nil:
			return false
		case a.Date != nil && b.Date != nil && !a.Date.Equal(*b.Date):
			return a.Date.Before(*b.Date)
		}
		return a.Order < b.Order
	})
	return out, nil
}

func (f *fakeStore) GetLetter(context.Context) (*Image, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.images {
		if f.images[i].Category == CategoryLetter {
			return &f.images[i], nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetByID(_ context.Context, id string) (*Image, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.images {
		if f.images[i].ID.Hex() == id {
			return &f.images[i], nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeStore) Create(_ context.Context, img *Image) error {
	if f.err != nil {
		return f.err
	}
	if err := validateImage(img); err != nil {
		return err
	}
	img.ID = primitive.NewObjectID()
	now := time.Now().UTC()
	img.CreatedAt, img.UpdatedAt = now, now
	f.images = append(f.images, *img)
	return nil
}

func (f *fakeStore) BulkCreate(_ context.Context, imgs []Image) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	for i := range imgs {
		if err := validateImage(&imgs[i]); err != nil {
			return 0, err
		}
	}
	for i := range imgs {
		imgs[i].ID = primitive.NewObjectID()
		f.images = append(f.images, imgs[i])
	}
	return len(imgs), nil
}

func (f *fakeStore) Update(_ context.Context, id string, upd ImageUpdate) (*Image, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.images {
		if f.images[i].ID.Hex() != id {
			continue
		}
		img := &f.images[i]
		if upd.Filename != nil {
			if *upd.Filename == "" {
				return nil, validationErr("filename", "must not be empty")
			}
			img.Filename = *upd.Filename
		}
		if upd.Description != nil {
			img.Description = *upd.Description
		}
		if upd.Date != nil {
			img.Date = upd.Date
		}
		if upd.Order != nil {
			img.Order = *upd.Order
		}
		img.UpdatedAt = time.Now().UTC()
		return img, nil
	}
	return nil, ErrNotFound
}

func (f *fakeStore) Delete(_ context.Context, id string) (*Image, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.images {
		if f.images[i].ID.Hex() == id {
			img := f.images[i]
			f.images = append(f.images[:i], f.images[i+1:]...)
			return &img, nil
		}
	}
	return nil, ErrNotFound
}

func newTestApp(t *testing.T) (*App, *fakeStore) {
	t.Helper()
	cfg := &Config{
		MongoURI:       "mongodb://127.0.0.1:27017",
		JWTSecret:      "test-signing-key",
		SecretPassword: "communication",
		StorageMode:    StorageInline,
	}
	app := New(cfg)
	store := &fakeStore{}
	app.Store = store
	return app, store
}

func date(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func seedImage(cat Category, filename string, d *time.Time, order int) Image {
	return Image{
		ID:        primitive.NewObjectID(),
		Filename:  filename,
		Date:      d,
		ImageData: "data:image/jpeg;base64,aGk=",
		Category:  cat,
		Order:     order,
	}
}

func doJSON(app *App, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	app.Echo.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return out
}

func loginToken(t *testing.T, app *App) string {
	t.Helper()
	token, err := app.Tokens.Issue("communication")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func TestHealth(t *testing.T) {
	app, _ := newTestApp(t)

	rec := doJSON(app, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeEnvelope(t, rec)
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestHealthDBColdHandle(t *testing.T) {
	app, _ := newTestApp(t)

	// The handle never connected, so the deep probe reports unavailable.
	rec := doJSON(app, http.MethodGet, "/api/health/db", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	body := decodeEnvelope(t, rec)
	if body["database"] != false {
		t.Errorf("database = %v, want false", body["database"])
	}
}

func TestLoginSuccess(t *testing.T) {
	app, _ := newTestApp(t)

	rec := doJSON(app, http.MethodPost, "/api/auth/login", "", map[string]string{"password": "COMMUNICATION"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	body := decodeEnvelope(t, rec)
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("expected a token in the response")
	}
	if _, err := app.Tokens.Verify(token); err != nil {
		t.Errorf("issued token does not verify: %v", err)
	}
}

func TestLoginMissingPassword(t *testing.T) {
	app, _ := newTestApp(t)

	rec := doJSON(app, http.MethodPost, "/api/auth/login", "", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	app, _ := newTestApp(t)

	rec := doJSON(app, http.MethodPost, "/api/auth/login", "", map[string]string{"password": "nope"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if body := decodeEnvelope(t, rec); body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}
}

func TestLoginRateLimited(t *testing.T) {
	app, _ := newTestApp(t)
	app.loginLimiter = NewLoginLimiter(2, time.Minute)

	for i := 0; i < 2; i++ {
		doJSON(app, http.MethodPost, "/api/auth/login", "", map[string]string{"password": "nope"})
	}
	rec := doJSON(app, http.MethodPost, "/api/auth/login", "", map[string]string{"password": "communication"})
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
}

// A negative validity window still has to answer cleanly: the token is born
// expired, but login itself must not crash or 500.
func TestLoginWithMisconfiguredTTL(t *testing.T) {
	cfg := &Config{
		MongoURI:       "mongodb://127.0.0.1:27017",
		JWTSecret:      "test-signing-key",
		SecretPassword: "communication",
		TokenTTL:       -time.Minute,
	}
	app := New(cfg)
	app.Store = &fakeStore{}

	rec := doJSON(app, http.MethodPost, "/api/auth/login", "", map[string]string{"password": "communication"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	body := decodeEnvelope(t, rec)
	if token, _ := body["token"].(string); token == "" {
		t.Error("expected a token in the response")
	}
	if expiresAt, _ := body["expiresAt"].(string); expiresAt == "" {
		t.Error("expected an expiresAt in the response")
	}
}

func TestVerifyEndpoint(t *testing.T) {
	app, _ := newTestApp(t)
	token := loginToken(t, app)

	rec := doJSON(app, http.MethodPost, "/api/auth/verify", "", map[string]string{"token": token})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decodeEnvelope(t, rec); body["valid"] != true {
		t.Errorf("valid = %v, want true", body["valid"])
	}

	// Invalid tokens still answer 200; the payload carries the verdict.
	rec = doJSON(app, http.MethodPost, "/api/auth/verify", "", map[string]string{"token": "garbage"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decodeEnvelope(t, rec); body["valid"] != false {
		t.Errorf("valid = %v, want false", body["valid"])
	}
}

func TestMe(t *testing.T) {
	app, _ := newTestApp(t)

	rec := doJSON(app, http.MethodGet, "/api/auth/me", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}

	rec = doJSON(app, http.MethodGet, "/api/auth/me", loginToken(t, app), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if body := decodeEnvelope(t, rec); body["authenticated"] != true {
		t.Errorf("authenticated = %v, want true", body["authenticated"])
	}
}

func TestGalleryListSorted(t *testing.T) {
	app, store := newTestApp(t)
	store.images = []Image{
		seedImage(CategoryPrimary, "march-second", date("2025-03-02"), 0),
		seedImage(CategoryPrimary, "undated-late", nil, 5),
		seedImage(CategoryPrimary, "march-first-b", date("2025-03-01"), 2),
		seedImage(CategoryMoments, "other-category", date("2025-01-01"), 0),
		seedImage(CategoryPrimary, "undated-early", nil, 1),
		seedImage(CategoryPrimary, "march-first-a", date("2025-03-01"), 1),
	}

	rec := doJSON(app, http.MethodGet, "/api/images/primary-gallery", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Success bool    `json:"success"`
		Count   int     `json:"count"`
		Data    []Image `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 5 {
		t.Fatalf("count = %d, want 5", body.Count)
	}
	want := []string{"undated-early", "undated-late", "march-first-a", "march-first-b", "march-second"}
	for i, name := range want {
		if body.Data[i].Filename != name {
			t.Errorf("position %d = %q, want %q", i, body.Data[i].Filename, name)
		}
	}
	for _, img := range body.Data {
		if img.Category != CategoryPrimary {
			t.Errorf("record %q has category %q", img.Filename, img.Category)
		}
	}
}

func TestGalleryListWithToken(t *testing.T) {
	app, store := newTestApp(t)
	store.images = []Image{seedImage(CategoryPrimary, "one", nil, 0)}

	rec := doJSON(app, http.MethodGet, "/api/images/primary-gallery", loginToken(t, app), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestLetterAbsent(t *testing.T) {
	app, _ := newTestApp(t)

	rec := doJSON(app, http.MethodGet, "/api/images/letter", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decodeEnvelope(t, rec); body["success"] != true {
		t.Errorf("success = %v, want true", body["success"])
	}
}

func TestLetterPresent(t *testing.T) {
	app, store := newTestApp(t)
	store.images = []Image{seedImage(CategoryLetter, "the-letter", nil, 0)}

	rec := doJSON(app, http.MethodGet, "/api/images/letter", "", nil)
	body := decodeEnvelope(t, rec)
	data, _ := body["data"].(map[string]interface{})
	if data == nil || data["filename"] != "the-letter" {
		t.Errorf("data = %v, want the seeded letter", body["data"])
	}
}

func TestGetImageByID(t *testing.T) {
	app, store := newTestApp(t)
	img := seedImage(CategoryMoments, "findable", nil, 0)
	store.images = []Image{img}

	rec := doJSON(app, http.MethodGet, "/api/images/"+img.ID.Hex(), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	rec = doJSON(app, http.MethodGet, "/api/images/"+primitive.NewObjectID().Hex(), "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("bogus id status = %d, want 404", rec.Code)
	}
}

func multipartUpload(t *testing.T, fields map[string]string, fileField, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = w.WriteField(k, v)
	}
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fileField, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	_ = w.Close()
	return &buf, w.FormDataContentType()
}

func postMultipart(app *App, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/images", body)
	req.Header.Set("Content-Type", contentType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	app.Echo.ServeHTTP(rec, req)
	return rec
}

func TestCreateImage(t *testing.T) {
	app, store := newTestApp(t)
	token := loginToken(t, app)

	body, ct := multipartUpload(t,
		map[string]string{"category": "primary-gallery", "description": "a test"},
		"image", "holiday snap.png", "image/png", []byte("pngbytes"))

	rec := postMultipart(app, token, body, ct)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if len(store.images) != 1 {
		t.Fatalf("stored %d images, want 1", len(store.images))
	}
	img := store.images[0]
	// No explicit filename given: the uploaded file's name is used.
	if img.Filename != "holiday snap.png" {
		t.Errorf("filename = %q, want original upload name", img.Filename)
	}
	if img.ImageData == "" || img.ImageURL != "" {
		t.Errorf("inline deployment should populate only imageData, got url=%q data=%q", img.ImageURL, img.ImageData)
	}
}

func TestCreateImageRejectsBadCategory(t *testing.T) {
	app, store := newTestApp(t)

	body, ct := multipartUpload(t,
		map[string]string{"category": "random"},
		"image", "pic.jpg", "image/jpeg", []byte("jpg"))

	rec := postMultipart(app, loginToken(t, app), body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if len(store.images) != 0 {
		t.Errorf("nothing should have been stored")
	}
}

func TestCreateImageRequiresFile(t *testing.T) {
	app, _ := newTestApp(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("category", "primary-gallery")
	_ = w.Close()

	rec := postMultipart(app, loginToken(t, app), &buf, w.FormDataContentType())
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateImageRequiresAuth(t *testing.T) {
	app, _ := newTestApp(t)

	body, ct := multipartUpload(t,
		map[string]string{"category": "primary-gallery"},
		"image", "pic.jpg", "image/jpeg", []byte("jpg"))

	rec := postMultipart(app, "", body, ct)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestBulkCreate(t *testing.T) {
	app, store := newTestApp(t)
	token := loginToken(t, app)

	payload := map[string]interface{}{
		"images": []map[string]interface{}{
			{"filename": "a", "category": "primary-gallery", "imageData": "data:image/jpeg;base64,YQ==", "date": "2025-01-02"},
			{"filename": "b", "category": "letter", "imageData": "data:image/jpeg;base64,Yg=="},
		},
	}
	rec := doJSON(app, http.MethodPost, "/api/images/bulk", token, payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	body := decodeEnvelope(t, rec)
	if body["count"] != float64(2) {
		t.Errorf("count = %v, want 2", body["count"])
	}
	if len(store.images) != 2 {
		t.Errorf("stored %d, want 2", len(store.images))
	}
	if store.images[0].Date == nil {
		t.Errorf("first record should carry its parsed date")
	}
}

func TestBulkCreateEmptyArray(t *testing.T) {
	app, store := newTestApp(t)

	rec := doJSON(app, http.MethodPost, "/api/images/bulk", loginToken(t, app),
		map[string]interface{}{"images": []interface{}{}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	body := decodeEnvelope(t, rec)
	if body["count"] != float64(0) {
		t.Errorf("count = %v, want 0", body["count"])
	}
	if len(store.images) != 0 {
		t.Errorf("stored %d, want 0", len(store.images))
	}
}

func TestBulkCreateRejectsNonArray(t *testing.T) {
	app, _ := newTestApp(t)
	token := loginToken(t, app)

	for _, payload := range []interface{}{
		map[string]interface{}{"images": "not-an-array"},
		map[string]interface{}{},
	} {
		rec := doJSON(app, http.MethodPost, "/api/images/bulk", token, payload)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("payload %v: status = %d, want 400", payload, rec.Code)
		}
	}
}

func TestUpdateImage(t *testing.T) {
	app, store := newTestApp(t)
	img := seedImage(CategoryPrimary, "before", date("2025-01-01"), 0)
	store.images = []Image{img}
	token := loginToken(t, app)

	rec := doJSON(app, http.MethodPut, "/api/images/"+img.ID.Hex(), token,
		map[string]interface{}{"filename": "after", "order": 3})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	got := store.images[0]
	if got.Filename != "after" || got.Order != 3 {
		t.Errorf("update not applied: %+v", got)
	}
	if got.Date == nil || !got.Date.Equal(*img.Date) {
		t.Errorf("untouched date should survive a partial update")
	}
}

func TestUpdateImageNotFound(t *testing.T) {
	app, _ := newTestApp(t)

	rec := doJSON(app, http.MethodPut, "/api/images/"+primitive.NewObjectID().Hex(),
		loginToken(t, app), map[string]interface{}{"filename": "x"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDeleteImage(t *testing.T) {
	app, store := newTestApp(t)
	img := seedImage(CategoryMoments, "doomed", nil, 0)
	store.images = []Image{img}
	token := loginToken(t, app)

	rec := doJSON(app, http.MethodDelete, "/api/images/"+img.ID.Hex(), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(store.images) != 0 {
		t.Errorf("record should be gone")
	}

	// Deleting a nonexistent id is a 404, never a 500.
	rec = doJSON(app, http.MethodDelete, "/api/images/"+primitive.NewObjectID().Hex(), token, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestConnectionFailureIs500(t *testing.T) {
	app, store := newTestApp(t)
	store.err = fmt.Errorf("%w: server selection timeout", ErrConnection)

	rec := doJSON(app, http.MethodGet, "/api/images/primary-gallery", "", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if body := decodeEnvelope(t, rec); body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}
}

func TestRoutesOnEveryBasePath(t *testing.T) {
	cfg := &Config{
		MongoURI:       "mongodb://127.0.0.1:27017",
		JWTSecret:      "test-signing-key",
		BasePaths:      []string{"/api", "/.netlify/functions/api"},
		SecretPassword: "communication",
	}
	app := New(cfg)
	app.Store = &fakeStore{}

	for _, base := range cfg.BasePaths {
		rec := doJSON(app, http.MethodGet, base+"/health", "", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s/health = %d, want 200", base, rec.Code)
		}
	}
}
