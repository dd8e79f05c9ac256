package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixeldeck/pixeldeck/internal/core"
	"github.com/pixeldeck/pixeldeck/internal/domain/model"
)

// fakeProvider records requests and serves canned responses in the reference
// provider's shape.
type fakeProvider struct {
	mu        sync.Mutex
	auths     []string
	paths     []string
	generated []map[string]any

	registerStatus int
	imagesPerCall  []any
}

func (f *fakeProvider) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if f.registerStatus != 0 {
			w.WriteHeader(f.registerStatus)
			return
		}
		writeDoc(w, map[string]any{"job_id": "prov-1"})
	})
	mux.HandleFunc("POST /v1/jobs/{id}/images", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.generated = append(f.generated, req)
		var images any = []any{}
		if len(f.imagesPerCall) > 0 {
			images = f.imagesPerCall[0]
			f.imagesPerCall = f.imagesPerCall[1:]
		}
		f.mu.Unlock()
		writeDoc(w, map[string]any{"images": images})
	})
	mux.HandleFunc("POST /v1/images/retry", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeDoc(w, map[string]any{"success": true, "final_path": "/out/retried.png"})
	})
	return mux
}

func (f *fakeProvider) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auths = append(f.auths, r.Header.Get("Authorization"))
	f.paths = append(f.paths, r.URL.Path)
}

func writeDoc(w http.ResponseWriter, doc any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

func newTestClient(t *testing.T, provider *fakeProvider) *Client {
	t.Helper()
	server := httptest.NewServer(provider.handler())
	t.Cleanup(server.Close)

	client, err := NewClient(Options{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
	})
	require.NoError(t, err)
	return client
}

func runSettings() model.ConfigurationSettings {
	return model.ConfigurationSettings{
		Provider:    "stability",
		Model:       "sd3-large",
		ImageCount:  2,
		Prompts:     []string{"a lighthouse at dusk"},
		Credentials: map[string]string{"stability": "sk-live-secret"},
	}
}

func collectResults(t *testing.T, handle *core.ProcessHandle) []core.ProcessorResult {
	t.Helper()
	var out []core.ProcessorResult
	deadline := time.After(5 * time.Second)
	for {
		select {
		case res, ok := <-handle.Results:
			if !ok {
				return out
			}
			out = append(out, res)
		case <-deadline:
			t.Fatal("timed out waiting for result stream to close")
		}
	}
}

func TestClient_Process_StreamsImages(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{
		imagesPerCall: []any{
			[]any{
				map[string]any{"path": "/tmp/a.png", "seed": float64(42), "status": "approved",
					"metadata": map[string]any{"title": "Lighthouse"}},
				map[string]any{"path": "/tmp/b.png", "status": "qc_failed"},
			},
		},
	}
	client := newTestClient(t, provider)

	handle, err := client.Process(context.Background(), core.ProcessorRunOptions{
		ExecutionID: "exec-1",
		Settings:    runSettings(),
	})
	require.NoError(t, err)
	assert.Equal(t, "prov-1", handle.JobID)

	results := collectResults(t, handle)
	require.Len(t, results, 2)

	first := results[0]
	assert.Equal(t, "a lighthouse at dusk", first.Prompt)
	require.NotNil(t, first.TempPath)
	assert.Equal(t, "/tmp/a.png", *first.TempPath)
	require.NotNil(t, first.Seed)
	assert.Equal(t, int64(42), *first.Seed)
	assert.Equal(t, model.QCStatusApproved, first.QCStatus)
	assert.JSONEq(t, `{"title":"Lighthouse"}`, string(first.Metadata))

	second := results[1]
	require.NotNil(t, second.TempPath)
	assert.Equal(t, model.QCStatusQCFailed, second.QCStatus)
	assert.Nil(t, second.Seed)

	// Every request carries the credential as a bearer token only.
	for _, auth := range provider.auths {
		assert.Equal(t, "Bearer sk-live-secret", auth)
	}
	require.Len(t, provider.generated, 1)
	assert.Equal(t, float64(2), provider.generated[0]["count"])
	assert.NotContains(t, provider.generated[0], "credentials")
}

func TestClient_Process_NoCredential(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, &fakeProvider{})

	settings := runSettings()
	settings.Credentials = nil

	_, err := client.Process(context.Background(), core.ProcessorRunOptions{
		ExecutionID: "exec-1",
		Settings:    settings,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no credential resolved for provider "stability"`)
}

func TestClient_Process_RegistrationFailure(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, &fakeProvider{registerStatus: http.StatusBadGateway})

	_, err := client.Process(context.Background(), core.ProcessorRunOptions{
		ExecutionID: "exec-1",
		Settings:    runSettings(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "register job")
}

func TestClient_Process_EmptyImageListYieldsErrResult(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{imagesPerCall: []any{[]any{}}}
	client := newTestClient(t, provider)

	handle, err := client.Process(context.Background(), core.ProcessorRunOptions{
		ExecutionID: "exec-1",
		Settings:    runSettings(),
	})
	require.NoError(t, err)

	results := collectResults(t, handle)
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	assert.Contains(t, results[0].Err.Error(), "no images")
}

func TestClient_Process_CancellationClosesStream(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/jobs" {
			writeDoc(w, map[string]any{"job_id": "prov-1"})
			return
		}
		<-release
		writeDoc(w, map[string]any{"images": []any{}})
	}))
	t.Cleanup(slow.Close)
	t.Cleanup(func() { close(release) })

	client, err := NewClient(Options{BaseURL: slow.URL, HTTPClient: slow.Client()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	handle, err := client.Process(ctx, core.ProcessorRunOptions{
		ExecutionID: "exec-1",
		Settings:    runSettings(),
	})
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-awaitClosed(handle.Results):
		assert.False(t, ok, "stream must close after cancellation")
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not close after cancellation")
	}
}

// awaitClosed drains the channel until it closes and relays the closed state.
func awaitClosed(ch <-chan core.ProcessorResult) <-chan core.ProcessorResult {
	out := make(chan core.ProcessorResult)
	go func() {
		for range ch {
		}
		close(out)
	}()
	return out
}

func TestClient_Retry(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{}
	client := newTestClient(t, provider)

	tempPath := "/tmp/failing.png"
	applied := json.RawMessage(`{"removeBg":true}`)
	res, err := client.Retry(context.Background(), core.RetryRunOptions{
		Image: &model.GeneratedImage{
			ID:       "img-1",
			Prompt:   "a red bicycle",
			TempPath: &tempPath,
			QCStatus: model.QCStatusProcessing,
		},
		Settings: applied,
		Provider: "stability",
		Secret:   "sk-live-secret",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.NotNil(t, res.FinalPath)
	assert.Equal(t, "/out/retried.png", *res.FinalPath)
	assert.JSONEq(t, string(applied), string(res.AppliedSettings))

	// The retry endpoint is authenticated exactly like job registration.
	require.Len(t, provider.auths, 1)
	assert.Equal(t, "Bearer sk-live-secret", provider.auths[0])
}

func TestClient_Retry_NoCredential(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, &fakeProvider{})

	_, err := client.Retry(context.Background(), core.RetryRunOptions{
		Image:    &model.GeneratedImage{ID: "img-1"},
		Provider: "stability",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no credential resolved for provider "stability"`)
}

func TestClient_Retry_FallsBackToImageSettings(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, &fakeProvider{})

	recorded := json.RawMessage(`{"sharpening":40}`)
	res, err := client.Retry(context.Background(), core.RetryRunOptions{
		Image: &model.GeneratedImage{
			ID:                 "img-1",
			ProcessingSettings: recorded,
		},
		Provider: "stability",
		Secret:   "sk-live-secret",
	})
	require.NoError(t, err)
	assert.JSONEq(t, string(recorded), string(res.AppliedSettings))
}

func TestNewClient_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Options{})
	require.Error(t, err)

	_, err = NewClient(Options{
		BaseURL:     "http://localhost",
		Expressions: &Expressions{JobID: "job_id", Images: "[invalid", Path: "p", Seed: "s", Status: "st", Metadata: "m"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile expression")
}
