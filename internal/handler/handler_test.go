package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onera/studio/internal/auth"
	"github.com/onera/studio/internal/model"
	"github.com/onera/studio/internal/service"
)

type fakeRenderJobs struct {
	err      error
	received *model.RenderRequest
	statuses map[string]*model.JobStatusResponse
}

func (f *fakeRenderJobs) StartRender(_ context.Context, req *model.RenderRequest) (*model.RenderResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.received = req
	return &model.RenderResponse{JobID: "job-1", Status: model.JobStatusQueued}, nil
}

func (f *fakeRenderJobs) GetStatus(_ context.Context, id string) (*model.JobStatusResponse, error) {
	if s, ok := f.statuses[id]; ok {
		return s, nil
	}
	return nil, service.ErrJobNotFound
}

type fakeSigner struct{ err error }

func (f fakeSigner) Sign(_ context.Context, req *model.AssetSignRequest) (*model.AssetSignResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.AssetSignResponse{
		UploadURL: "https://upload.example.com/" + req.Filename,
		PublicURL: "https://cdn.example.com/" + req.Filename,
	}, nil
}

func newTestApp(jobs RenderJobs, signer service.AssetSigner) *fiber.App {
	v := validator.New()
	app := fiber.New()
	rh := NewRenderHandler(jobs, v)
	ah := NewAssetHandler(signer, v)
	app.Post("/api/render", rh.Submit)
	app.Get("/api/jobs/:id", rh.Status)
	app.Post("/api/assets/sign", ah.Sign)
	return app
}

func send(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp.StatusCode, out
}

func TestSubmitQueuesRender(t *testing.T) {
	jobs := &fakeRenderJobs{}
	app := newTestApp(jobs, fakeSigner{})

	status, body := send(t, app, http.MethodPost, "/api/render",
		`{"layers":[{"id":"a","type":"media","subtype":"video","src":"a.mp4","start":0,"end":4,"trimStart":1}],"canvas":{"width":1280,"height":720}}`)
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "job-1", body["jobId"])
	assert.Equal(t, "queued", body["status"])

	require.NotNil(t, jobs.received)
	require.Len(t, jobs.received.Layers, 1)
	assert.Equal(t, 1.0, jobs.received.Layers[0].TrimStart)
	assert.Equal(t, 1280, jobs.received.Canvas.Width)
}

func TestSubmitAcceptsEmptyLayerArray(t *testing.T) {
	app := newTestApp(&fakeRenderJobs{}, fakeSigner{})
	status, _ := send(t, app, http.MethodPost, "/api/render", `{"layers":[]}`)
	assert.Equal(t, http.StatusAccepted, status)
}

func TestSubmitRejectsBadPayloads(t *testing.T) {
	app := newTestApp(&fakeRenderJobs{}, fakeSigner{})
	cases := map[string]string{
		"missing layers":   `{}`,
		"null layers":      `{"layers":null}`,
		"layers object":    `{"layers":{"id":"a"}}`,
		"layers string":    `{"layers":"a"}`,
		"not json":         `layers`,
		"end before start": `{"layers":[{"id":"a","type":"text","start":3,"end":1}]}`,
		"unknown kind":     `{"layers":[{"id":"a","type":"sticker","start":0,"end":1}]}`,
		"duplicate ids":    `{"layers":[{"id":"a","type":"text","start":0,"end":1},{"id":"a","type":"text","start":1,"end":2}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			status, resp := send(t, app, http.MethodPost, "/api/render", body)
			assert.Equal(t, http.StatusBadRequest, status)
			errObj, ok := resp["error"].(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, "VALIDATION_ERROR", errObj["code"])
		})
	}
}

func TestSubmitQueueFailure(t *testing.T) {
	app := newTestApp(&fakeRenderJobs{err: errors.New("redis: connection refused")}, fakeSigner{})
	status, body := send(t, app, http.MethodPost, "/api/render", `{"layers":[]}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "SERVICE_ERROR", body["error"].(map[string]interface{})["code"])
}

func TestJobStatus(t *testing.T) {
	progress := 40
	jobs := &fakeRenderJobs{statuses: map[string]*model.JobStatusResponse{
		"running": {Status: model.JobStatusPending, Progress: &progress},
		"done":    {Status: model.JobStatusCompleted, Result: &model.JobResult{VideoURL: "https://cdn.example.com/renders/done.mp4"}},
		"broken":  {Status: model.JobStatusFailed, Error: "media sync failed"},
	}}
	app := newTestApp(jobs, fakeSigner{})

	status, body := send(t, app, http.MethodGet, "/api/jobs/running", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, 40.0, body["progress"])

	_, body = send(t, app, http.MethodGet, "/api/jobs/done", "")
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "https://cdn.example.com/renders/done.mp4", body["result"].(map[string]interface{})["videoUrl"])

	_, body = send(t, app, http.MethodGet, "/api/jobs/broken", "")
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "media sync failed", body["error"])

	status, body = send(t, app, http.MethodGet, "/api/jobs/unknown", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body["error"].(map[string]interface{})["code"])
}

func TestSignAsset(t *testing.T) {
	app := newTestApp(&fakeRenderJobs{}, fakeSigner{})

	status, body := send(t, app, http.MethodPost, "/api/assets/sign", `{"filename":"clip.mp4","contentType":"video/mp4"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "https://upload.example.com/clip.mp4", body["uploadUrl"])
	assert.Equal(t, "https://cdn.example.com/clip.mp4", body["publicUrl"])

	status, _ = send(t, app, http.MethodPost, "/api/assets/sign", `{"filename":"clip.mp4"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	failing := newTestApp(&fakeRenderJobs{}, fakeSigner{err: service.ErrStorageNotConfigured})
	status, _ = send(t, failing, http.MethodPost, "/api/assets/sign", `{"filename":"clip.mp4","contentType":"video/mp4"}`)
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestVerify(t *testing.T) {
	app := fiber.New()
	app.Get("/auth/verify", NewAuthHandler(auth.NewAuthenticator(nil, "verify-secret")).Verify)

	tok, err := auth.IssueLegacyToken("verify-secret", "user-9", "n@example.com", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/auth/verify", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "user-9", resp.Header.Get("X-User-Id"))

	req = httptest.NewRequest(http.MethodGet, "/auth/verify", nil)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
