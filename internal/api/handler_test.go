package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonkalabs/opendeid/internal/catalog"
	"github.com/gonkalabs/opendeid/internal/deid"
	"github.com/gonkalabs/opendeid/internal/session"
	"github.com/gonkalabs/opendeid/internal/storage"
	"github.com/gonkalabs/opendeid/internal/upstream"
)

type fakeService struct {
	resp deid.Response
	err  error
}

func (f *fakeService) Anonymize(context.Context, upstream.Request) (deid.Response, error) {
	return f.resp, f.err
}

func str(s string) *string { return &s }

func newServer(t *testing.T, svc session.Anonymizer) *httptest.Server {
	t.Helper()
	sess := session.New(context.Background(), catalog.Default(), storage.NewMemory(), svc)
	mux := http.NewServeMux()
	New(sess, true).Register(mux)
	srv := httptest.NewServer(Instrument(mux))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealth(t *testing.T) {
	srv := newServer(t, &fakeService{})
	resp, body := do(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestServeUI(t *testing.T) {
	srv := newServer(t, &fakeService{})

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	resp, err = http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCatalog(t *testing.T) {
	srv := newServer(t, &fakeService{})
	resp, body := do(t, srv, http.MethodGet, "/api/catalog", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "en", body["language"])
	assert.Len(t, body["models"], 4)
	assert.Len(t, body["entityTypes"], 62)
}

func TestAnonymizeFlow(t *testing.T) {
	svc := &fakeService{resp: deid.Response{
		Entities: []deid.EntitySpan{{EntityType: "PERSON", Start: deid.At(0), End: deid.At(4), Score: deid.ScoreOf(0.9)}},
		Items:    []deid.Item{{Start: deid.At(0), End: deid.At(4), EntityType: "PERSON", Text: str("<PERSON>")}},
	}}
	srv := newServer(t, svc)

	resp, body := do(t, srv, http.MethodPost, "/api/anonymize", `{"text":"John went to Paris"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "&lt;PERSON&gt; went to Paris", body["displayHtml"])
	assert.Equal(t, "<PERSON> went to Paris", body["plainText"])
	findings := body["findings"].([]any)
	require.Len(t, findings, 1)
	id := findings[0].(map[string]any)["id"].(string)
	assert.Equal(t, "PERSON-0-0", id)

	resp, body = do(t, srv, http.MethodPut, "/api/findings/"+id, `{"included":false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "John went to Paris", body["displayHtml"])

	resp, body = do(t, srv, http.MethodPut, "/api/findings", `{"included":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["selection"].(map[string]any)["all"])

	res, err := http.Get(srv.URL + "/api/export/text")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Contains(t, res.Header.Get("Content-Type"), "text/plain")
}

func TestAnonymizeErrors(t *testing.T) {
	srv := newServer(t, &fakeService{err: &upstream.StatusError{Code: 500, Body: "analyzer down"}})

	resp, body := do(t, srv, http.MethodPost, "/api/anonymize", `{"text":"   "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, session.MsgEmptyText, body["error"])

	resp, body = do(t, srv, http.MethodPost, "/api/anonymize", `{"text":"John"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "analyzer down", body["error"])

	_, body = do(t, srv, http.MethodGet, "/api/state", "")
	assert.Equal(t, session.MsgFailed, body["errorMessage"])
	assert.Equal(t, false, body["isSubmitting"])
}

func TestBadInput(t *testing.T) {
	srv := newServer(t, &fakeService{})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"malformed settings", http.MethodPatch, "/api/settings", `{`, http.StatusBadRequest},
		{"finding without included", http.MethodPut, "/api/findings/x", `{}`, http.StatusBadRequest},
		{"sort without key", http.MethodPost, "/api/findings/sort", `{}`, http.StatusBadRequest},
		{"unknown entity type", http.MethodPut, "/api/entity-types/NOPE", `{"enabled":true}`, http.StatusNotFound},
		{"bad preset id", http.MethodPost, "/api/presets/abc/load", ``, http.StatusBadRequest},
		{"missing preset", http.MethodPost, "/api/presets/42/load", ``, http.StatusNotFound},
		{"delete missing preset", http.MethodDelete, "/api/presets/42", ``, http.StatusNotFound},
		{"empty preset name", http.MethodPost, "/api/presets", `{"name":"  "}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestSettingsAndSort(t *testing.T) {
	srv := newServer(t, &fakeService{})

	resp, body := do(t, srv, http.MethodPatch, "/api/settings", `{"threshold":"0.8","deidentificationType":"mask","maskCharCount":"abc"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0.8, body["threshold"])
	assert.Equal(t, "mask", body["deidentificationType"])
	assert.Equal(t, float64(15), body["maskCharCount"])

	_, body = do(t, srv, http.MethodPost, "/api/findings/sort", `{"key":"position"}`)
	assert.Equal(t, map[string]any{"key": "position", "direction": "desc"}, body["findingsSort"])

	_, body = do(t, srv, http.MethodPut, "/api/sections/mode", `{"open":true}`)
	assert.Contains(t, body["openFilters"], "mode")

	_, body = do(t, srv, http.MethodPut, "/api/entity-types/PERSON", `{"enabled":false}`)
	assert.Equal(t, float64(61), body["selectedEntityTypeCount"])

	_, body = do(t, srv, http.MethodPost, "/api/entity-types/toggle-all", "")
	assert.Equal(t, true, body["allEntityTypesSelected"])
}

func TestPresets(t *testing.T) {
	srv := newServer(t, &fakeService{})

	do(t, srv, http.MethodPatch, "/api/settings", `{"threshold":0.7}`)
	resp, body := do(t, srv, http.MethodPost, "/api/presets", `{"name":"Contracts"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "Contracts", body["name"])
	id := strconv.FormatInt(int64(body["id"].(float64)), 10)

	do(t, srv, http.MethodPatch, "/api/settings", `{"threshold":0.2}`)
	resp, body = do(t, srv, http.MethodPost, "/api/presets/"+id+"/load", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0.7, body["threshold"])
	assert.Equal(t, `Loaded preset "Contracts".`, body["presetStatusMessage"])

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/presets/"+id, nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var presets []session.Preset
	require.NoError(t, json.NewDecoder(res.Body).Decode(&presets))
	assert.Empty(t, presets)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newServer(t, &fakeService{})
	do(t, srv, http.MethodGet, "/health", "")

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
