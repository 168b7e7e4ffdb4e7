package handlers

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperfold/fortuneteller/internal/models"
	"github.com/paperfold/fortuneteller/internal/processing"
	"github.com/paperfold/fortuneteller/internal/storage"
	"github.com/paperfold/fortuneteller/internal/workflow"
)

// fakeService stands in for the remote processing service
type fakeService struct {
	mu        sync.Mutex
	calls     map[string]int
	filenames []string
	cleaned   []string
	fail      bool
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[r.URL.Path]++

	if strings.HasPrefix(r.URL.Path, "/api/cleanup/") {
		f.cleaned = append(f.cleaned, strings.TrimPrefix(r.URL.Path, "/api/cleanup/"))
		_, _ = w.Write([]byte(`{"status":"success"}`))
		return
	}
	if f.fail {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"segmentation failed"}`))
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	switch r.URL.Path {
	case "/api/process":
		f.filenames = append(f.filenames, r.MultipartForm.File["file"][0].Filename)
		_, _ = w.Write([]byte(`{"session_id":"proc-1","segments":{"big_diamond":"data:image/png;base64,AA==","flap_A":"data:image/png;base64,AA=="}}`))
	case "/api/reconstruct_from_composites":
		for _, fh := range r.MultipartForm.File["files"] {
			f.filenames = append(f.filenames, fh.Filename)
		}
		_, _ = w.Write([]byte(`{"session_id":"rec-1","image":"data:image/png;base64,BB=="}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeService) uploaded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.filenames...)
}

func (f *fakeService) cleanedUp() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cleaned...)
}

func (f *fakeService) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

type testEnv struct {
	server  *httptest.Server
	client  *http.Client
	service *fakeService
	store   *storage.WorkspaceStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	service := &fakeService{calls: map[string]int{}}
	remote := httptest.NewServer(service)
	t.Cleanup(remote.Close)

	store := storage.New(processing.NewClient(remote.URL))
	h, err := New(store, WithMaxUploadBytes(1<<20))
	require.NoError(t, err)

	server := httptest.NewServer(h.Routes())
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testEnv{
		server:  server,
		client:  &http.Client{Jar: jar},
		service: service,
		store:   store,
	}
}

func pngData(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 3, 2))))
	return buf.Bytes()
}

func (e *testEnv) post(t *testing.T, path string, files map[string][]byte, fields map[string]string, asJSON bool) *http.Response {
	t.Helper()
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	for name, data := range files {
		part, err := writer.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())

	req, err := http.NewRequest(http.MethodPost, e.server.URL+path, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if asJSON {
		req.Header.Set("Accept", "application/json")
	}
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := e.client.Get(e.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (e *testEnv) state(t *testing.T) WorkspaceState {
	t.Helper()
	resp, body := e.get(t, "/api/state")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var s WorkspaceState
	require.NoError(t, json.Unmarshal([]byte(body), &s))
	return s
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	var payload map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload["error"]
}

func TestIndexAndTabs(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Process an image")
	assert.NotContains(t, body, "Reconstruct from composites")
	assert.Equal(t, 1, env.store.Len())

	_, body = env.get(t, "/?tab=reconstruct")
	assert.Contains(t, body, "Reconstruct from composites")
	assert.Contains(t, body, "Options 1 &amp; 6 pair")
	assert.Contains(t, body, "Center diamond")

	// unknown tabs leave the current one visible
	_, body = env.get(t, "/?tab=history")
	assert.Contains(t, body, "Reconstruct from composites")
	assert.Equal(t, 1, env.store.Len())
}

func TestReconstructFlow(t *testing.T) {
	env := newTestEnv(t)
	data := pngData(t)

	for i, slot := range models.Slots() {
		fields := map[string]string{"via": "picker"}
		if i%2 == 1 {
			fields["via"] = "drop"
		}
		resp := env.post(t, "/reconstruct/slots/"+string(slot.ID), map[string][]byte{"upload.png": data}, fields, true)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	s := env.state(t)
	assert.True(t, s.Reconstruct.Ready)
	assert.True(t, s.Reconstruct.CanSubmit)
	assert.Empty(t, s.Reconstruct.Missing)

	resp := env.post(t, "/reconstruct/submit", nil, nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		return env.state(t).Reconstruct.State == workflow.StateSucceeded
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 1, env.service.count("/api/reconstruct_from_composites"))
	assert.ElementsMatch(t, []string{
		"combo_opt_1_6.png", "combo_opt_2_5.png", "combo_opt_3_8.png",
		"combo_opt_4_7.png", "combo_flaps.png", "combo_diamond.png",
	}, env.service.uploaded())

	// results survive switching tabs
	env.get(t, "/?tab=process")
	_, body := env.get(t, "/?tab=reconstruct")
	assert.Contains(t, body, "data:image/png;base64,BB==")
	assert.Equal(t, "data:image/png;base64,BB==", env.state(t).Reconstruct.Image)
}

func TestReconstructIncomplete(t *testing.T) {
	env := newTestEnv(t)
	data := pngData(t)

	for _, slot := range models.Slots()[:5] {
		resp := env.post(t, "/reconstruct/slots/"+string(slot.ID), map[string][]byte{"a.png": data}, nil, true)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := env.post(t, "/reconstruct/submit", nil, nil, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decodeError(t, resp), "six")

	s := env.state(t)
	assert.Equal(t, workflow.StateIdle, s.Reconstruct.State)
	assert.Equal(t, []models.SlotID{models.SlotDiamond}, s.Reconstruct.Missing)
	assert.Equal(t, 0, env.service.count("/api/reconstruct_from_composites"))
}

func TestRemoveSlot(t *testing.T) {
	env := newTestEnv(t)
	data := pngData(t)

	resp := env.post(t, "/reconstruct/slots/combo_flaps", map[string][]byte{"a.png": data}, nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.post(t, "/reconstruct/slots/combo_diamond", map[string][]byte{"b.png": data}, nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.post(t, "/reconstruct/slots/combo_flaps/remove", nil, nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body := env.get(t, "/?tab=reconstruct")
	assert.Contains(t, body, `class="btn btn-danger" formaction="/reconstruct/slots/combo_diamond/remove"`)
	assert.NotContains(t, body, `formaction="/reconstruct/slots/combo_flaps/remove"`)

	s := env.state(t)
	assert.Len(t, s.Reconstruct.Missing, 5)
	for _, slot := range s.Reconstruct.Slots {
		if slot.ID == models.SlotDiamond {
			require.NotNil(t, slot.File)
			assert.Equal(t, "b.png", slot.File.Name)
		}
	}
}

func TestAttachErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		path     string
		files    map[string][]byte
		wantCode int
	}{
		{name: "unknown slot", path: "/reconstruct/slots/combo_nope", files: map[string][]byte{"a.png": pngData(t)}, wantCode: http.StatusNotFound},
		{name: "no file", path: "/reconstruct/slots/combo_flaps", wantCode: http.StatusBadRequest},
		{name: "not an image", path: "/reconstruct/slots/combo_flaps", files: map[string][]byte{"notes.png": []byte("plain text")}, wantCode: http.StatusUnsupportedMediaType},
		{name: "too large", path: "/reconstruct/slots/combo_flaps", files: map[string][]byte{"big.png": make([]byte, 3<<19)}, wantCode: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.post(t, tt.path, tt.files, nil, true)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			assert.NotEmpty(t, decodeError(t, resp))
		})
	}
	assert.Len(t, env.state(t).Reconstruct.Missing, 6)
}

func TestDropUsesFirstFileOnly(t *testing.T) {
	env := newTestEnv(t)

	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("via", "drop"))
	for _, f := range []struct {
		name string
		data []byte
	}{
		{"first.png", pngData(t)},
		{"second.txt", []byte("not an image at all")},
		{"third.png", make([]byte, 600<<10)},
	} {
		part, err := writer.CreateFormFile("file", f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/reconstruct/slots/combo_flaps", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	resp, err := env.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for _, slot := range env.state(t).Reconstruct.Slots {
		if slot.ID == models.SlotFlaps {
			require.NotNil(t, slot.File)
			assert.Equal(t, "first.png", slot.File.Name)
		}
	}
}

func TestProcessFlowWithForms(t *testing.T) {
	env := newTestEnv(t)
	env.client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	resp := env.post(t, "/process/submit", nil, nil, false)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/?tab=process", resp.Header.Get("Location"))
	_, body := env.get(t, "/?tab=process")
	assert.Contains(t, body, "Please choose an image first.")
	assert.Equal(t, 0, env.service.count("/api/process"))

	resp = env.post(t, "/process/file", map[string][]byte{"fortune.png": pngData(t)}, nil, false)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	s := env.state(t)
	require.NotNil(t, s.Process.File)
	assert.Equal(t, workflow.StateIdle, s.Process.State)
	assert.True(t, s.Process.CanSubmit)

	resp = env.post(t, "/process/submit", nil, nil, false)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	require.Eventually(t, func() bool {
		return env.state(t).Process.State == workflow.StateSucceeded
	}, 5*time.Second, 20*time.Millisecond)

	s = env.state(t)
	require.Len(t, s.Process.Segments, 2)
	assert.Equal(t, "big_diamond", s.Process.Segments[0].Name)
	assert.Equal(t, "proc-1", s.Process.SessionID)
	assert.Equal(t, []string{"fortune.png"}, env.service.uploaded())

	_, body = env.get(t, "/?tab=process")
	assert.Contains(t, body, "flap_A")
}

func TestProcessFailure(t *testing.T) {
	env := newTestEnv(t)
	env.service.fail = true

	resp := env.post(t, "/process/file", map[string][]byte{"fortune.png": pngData(t)}, nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.post(t, "/process/submit", nil, nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		return env.state(t).Process.State == workflow.StateFailed
	}, 5*time.Second, 20*time.Millisecond)

	s := env.state(t)
	assert.Equal(t, workflow.ProcessFailedMessage, s.Process.Error)
	assert.NotNil(t, s.Process.File)
	assert.True(t, s.Process.CanSubmit)

	_, body := env.get(t, "/")
	assert.Contains(t, body, workflow.ProcessFailedMessage)
}

func TestResetCleansRemoteSessions(t *testing.T) {
	env := newTestEnv(t)

	env.post(t, "/process/file", map[string][]byte{"fortune.png": pngData(t)}, nil, true)
	env.post(t, "/process/submit", nil, nil, true)
	require.Eventually(t, func() bool {
		return env.state(t).Process.State == workflow.StateSucceeded
	}, 5*time.Second, 20*time.Millisecond)
	before := env.state(t).Workspace

	resp := env.post(t, "/workspace/reset", nil, nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	after := env.state(t)
	assert.NotEqual(t, before, after.Workspace)
	assert.Nil(t, after.Process.File)
	assert.Equal(t, []string{"proc-1"}, env.service.cleanedUp())
	assert.Equal(t, 1, env.store.Len())
}

func TestHealthcheckAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/healthcheck")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", body)

	resp, body = env.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "fortuneteller_active_workspaces")

	resp, _ = env.get(t, "/static/app.js")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.get(t, "/ws")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
