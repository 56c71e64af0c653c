package attachment

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
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idea-tracker/internal/auth"
	"idea-tracker/internal/blob"
	"idea-tracker/internal/db"
	"idea-tracker/internal/db/dbtest"
	"idea-tracker/internal/observability"
	"idea-tracker/internal/quota"
)

type fixture struct {
	conn    *db.Conn
	blobs   *blob.Local
	quotas  *quota.Service
	service *Service
	router  http.Handler
}

func newFixture(t *testing.T, limits quota.Limits) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	dbtest.SeedUser(t, conn, "u1", "one@example.com")
	dbtest.SeedUser(t, conn, "u2", "two@example.com")
	seedIdea(t, conn, "i1", "u1")
	seedIdea(t, conn, "i2", "u2")

	blobs, err := blob.NewLocal(t.TempDir())
	require.NoError(t, err)
	logger := observability.NewNop()
	quotas := quota.NewService(quota.NewRepository(conn), limits, logger)
	service := NewService(NewRepository(conn), blobs, quotas, logger).
		WithPublicBaseURL("https://ideas.example.com/").
		WithMaxUploadBytes(1024)

	handler := NewHandler(service, logger)
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(asUser)
		r.Get("/api/attachments/file/{name}", handler.GetFile)
		r.Post("/api/attachments/add-url", handler.AddURL)
		r.Post("/api/attachments/upload", handler.Upload)
		r.Get("/api/attachments/storage", handler.Storage)
		r.Delete("/api/attachments/{id}", handler.Delete)
	})

	return &fixture{conn: conn, blobs: blobs, quotas: quotas, service: service, router: r}
}

// asUser authenticates requests as the user named in the X-Test-User header.
func asUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.WithIdentity(r.Context(), auth.Identity{UserID: r.Header.Get("X-Test-User")})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func fileRequest(user, name string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/attachments/file/"+name, nil)
	req.Header.Set("X-Test-User", user)
	return req
}

func seedIdea(t *testing.T, conn *db.Conn, id, userID string) {
	t.Helper()
	_, err := conn.ExecContext(context.Background(), `
		INSERT INTO ideas (id, user_id, title, status, created_at, updated_at)
		VALUES ($1, $2, 'idea', 'draft', 0, 0)
	`, id, userID)
	require.NoError(t, err)
}

func uploadRequest(t *testing.T, user, ideaID, fileName, contentType string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("idea_id", ideaID))

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/attachments/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Test-User", user)
	return req
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeAttachment(t *testing.T, rec *httptest.ResponseRecorder) Attachment {
	t.Helper()
	var body struct {
		Attachment Attachment `json:"attachment"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Attachment
}

func TestUploadStoresBlobAndTracksQuota(t *testing.T) {
	f := newFixture(t, quota.DefaultLimits())
	content := append([]byte{0x89, 0x50, 0x4E, 0x47}, []byte("....png-body")...)

	rec := f.do(uploadRequest(t, "u1", "i1", "diagram.png", "image/png", content))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decodeAttachment(t, rec)
	assert.Equal(t, "diagram.png", created.FileName)
	assert.Equal(t, TypeFile, created.Type)
	assert.Equal(t, int64(len(content)), created.Size)
	assert.True(t, strings.HasPrefix(created.FileURL, "https://ideas.example.com/api/attachments/file/"))

	name := created.FileURL[strings.LastIndex(created.FileURL, "/")+1:]
	fileRec := f.do(fileRequest("u1", name))
	require.Equal(t, http.StatusOK, fileRec.Code)
	assert.Equal(t, content, fileRec.Body.Bytes())
	assert.Equal(t, "image/png", fileRec.Header().Get("Content-Type"))
	assert.Equal(t, "private, max-age=31536000, immutable", fileRec.Header().Get("Cache-Control"))

	other := f.do(fileRequest("u2", name))
	assert.Equal(t, http.StatusNotFound, other.Code)
	assert.JSONEq(t, `{"error":"File not found"}`, other.Body.String())

	info := f.quotas.Info(context.Background(), "u1")
	assert.Equal(t, int64(len(content)), info.TotalSize)
	assert.Equal(t, int64(1), info.FileCount)
}

func TestUploadRejections(t *testing.T) {
	f := newFixture(t, quota.DefaultLimits())
	pdf := []byte("%PDF-1.7 body")

	cases := []struct {
		name   string
		req    *http.Request
		status int
		errMsg string
	}{
		{"other users idea", uploadRequest(t, "u1", "i2", "doc.pdf", "application/pdf", pdf), http.StatusNotFound, "Idea not found or access denied"},
		{"missing idea", uploadRequest(t, "u1", "", "doc.pdf", "application/pdf", pdf), http.StatusBadRequest, "idea_id is required"},
		{"blocked extension", uploadRequest(t, "u1", "i1", "run.sh", "text/plain", []byte("echo")), http.StatusBadRequest, "File type not allowed for security reasons"},
		{"fake pdf", uploadRequest(t, "u1", "i1", "doc.pdf", "application/pdf", []byte("MZ......")), http.StatusBadRequest, "File content does not match declared type (possible fake extension)"},
		{"too large", uploadRequest(t, "u1", "i1", "big.txt", "text/plain", bytes.Repeat([]byte("a"), 2048)), http.StatusBadRequest, "File size exceeds 1 KB limit"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(tc.req)
			assert.Equal(t, tc.status, rec.Code)
			assert.JSONEq(t, fmt.Sprintf(`{"error":%q}`, tc.errMsg), rec.Body.String())
		})
	}

	info := f.quotas.Info(context.Background(), "u1")
	assert.Zero(t, info.FileCount)
}

func TestUploadEnforcesPerIdeaLimit(t *testing.T) {
	f := newFixture(t, quota.Limits{MaxBytes: 1 << 20, MaxFiles: 10, MaxFilesPerIdea: 2})

	for i := 0; i < 2; i++ {
		rec := f.do(uploadRequest(t, "u1", "i1", "n.txt", "text/plain", []byte("note")))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := f.do(uploadRequest(t, "u1", "i1", "n.txt", "text/plain", []byte("note")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Maximum 2 files per idea"}`, rec.Body.String())
}

func TestUploadEnforcesUserQuota(t *testing.T) {
	f := newFixture(t, quota.Limits{MaxBytes: 10, MaxFiles: 10, MaxFilesPerIdea: 10})

	rec := f.do(uploadRequest(t, "u1", "i1", "n.txt", "text/plain", []byte("0123456789a")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Storage quota exceeded")
}

func TestAddURL(t *testing.T) {
	f := newFixture(t, quota.DefaultLimits())

	post := func(user, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/attachments/add-url", strings.NewReader(body))
		req.Header.Set("X-Test-User", user)
		return f.do(req)
	}

	rec := post("u1", `{"idea_id":"i1","url":"https://go.dev/doc","title":"Docs"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeAttachment(t, rec)
	assert.Equal(t, "Docs", created.FileName)
	assert.Equal(t, TypeURL, created.Type)
	assert.Zero(t, created.Size)

	rec = post("u1", `{"idea_id":"i1","url":"https://go.dev/blog"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "https://go.dev/blog", decodeAttachment(t, rec).FileName)

	rec = post("u1", `{"idea_id":"i1","url":"not a url"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid URL format"}`, rec.Body.String())

	rec = post("u1", `{"idea_id":"i1","url":"ftp://example.com/x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post("u2", `{"idea_id":"i1","url":"https://go.dev"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Zero(t, f.quotas.Info(context.Background(), "u1").FileCount)
}

func TestDeleteChecksOwnershipAndReleasesQuota(t *testing.T) {
	f := newFixture(t, quota.DefaultLimits())
	rec := f.do(uploadRequest(t, "u1", "i1", "n.txt", "text/plain", []byte("note")))
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeAttachment(t, rec)

	del := func(user, id string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodDelete, "/api/attachments/"+id, nil)
		req.Header.Set("X-Test-User", user)
		return f.do(req)
	}

	assert.Equal(t, http.StatusForbidden, del("u2", created.ID).Code)
	assert.Equal(t, http.StatusOK, del("u1", created.ID).Code)
	assert.Equal(t, http.StatusNotFound, del("u1", created.ID).Code)

	key := created.FileURL[strings.LastIndex(created.FileURL, "/")+1:]
	_, err := f.blobs.Open(context.Background(), key)
	assert.ErrorIs(t, err, blob.ErrNotFound)

	info := f.quotas.Info(context.Background(), "u1")
	assert.Zero(t, info.TotalSize)
	assert.Zero(t, info.FileCount)
}

func TestPurgeIdea(t *testing.T) {
	f := newFixture(t, quota.DefaultLimits())
	ctx := context.Background()

	uploaded, err := f.service.Upload(ctx, "u1", UploadInput{
		IdeaID:      "i1",
		FileName:    "n.txt",
		ContentType: "text/plain",
		Size:        4,
		Body:        strings.NewReader("note"),
	})
	require.NoError(t, err)
	_, err = f.service.AddURL(ctx, "u1", AddURLInput{IdeaID: "i1", URL: "https://go.dev"})
	require.NoError(t, err)

	require.NoError(t, f.service.PurgeIdea(ctx, "u1", "i1"))

	remaining, err := f.service.ListByIdea(ctx, "i1")
	require.NoError(t, err)
	assert.Empty(t, remaining)

	_, err = f.blobs.Open(ctx, uploaded.BlobKey)
	assert.ErrorIs(t, err, blob.ErrNotFound)
	assert.Zero(t, f.quotas.Info(ctx, "u1").TotalSize)
}

func TestStorageAndMissingFile(t *testing.T) {
	f := newFixture(t, quota.DefaultLimits())

	req := httptest.NewRequest(http.MethodGet, "/api/attachments/storage", nil)
	req.Header.Set("X-Test-User", "u1")
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var info quota.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, quota.DefaultMaxBytes, info.MaxSize)
	assert.True(t, info.CanUpload)

	rec = f.do(fileRequest("u1", "missing.txt"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.JSONEq(t, `{"error":"File not found"}`, string(body))
}
