package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonkalabs/opendeid/internal/deid"
	"github.com/gonkalabs/opendeid/internal/session"
	"github.com/gonkalabs/opendeid/internal/upstream"
)

const personBody = `{
	"entities": [{"entity_type": "PERSON", "start": 0, "end": 4, "score": 0.9,
		"analysis_explanation": {"recognizer": "SpacyRecognizer"}}],
	"items": [{"start": 0, "end": 4, "entity_type": "PERSON", "text": "<PERSON>", "anonymizer": "replace"}],
	"anonymizedText": "<PERSON> went to Paris"
}`

type fakeService struct {
	mu     sync.Mutex
	reqs   []upstream.Request
	status int
	body   string
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req upstream.Request
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.status != 0 {
		w.WriteHeader(f.status)
	}
	_, _ = io.WriteString(w, f.body)
}

// resetFlags restores every flag of cmd and its children to its default.
func resetFlags(t *testing.T, cmd *cobra.Command) {
	t.Helper()
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			require.NoError(t, sv.Replace(nil))
		} else {
			require.NoError(t, f.Value.Set(f.DefValue))
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(t, c)
	}
}

// run executes the command line against a fresh environment rooted in dir.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(t, rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(bytes.NewReader(nil))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func setup(t *testing.T, svc *fakeService) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	srv := httptest.NewServer(svc)
	t.Cleanup(srv.Close)

	t.Setenv("ANONYMIZER_URL", srv.URL)
	t.Setenv("ANONYMIZER_SIGNING_KEY", "")
	t.Setenv("STORAGE_BACKEND", "sqlite")
	t.Setenv("STORAGE_DSN", filepath.Join(dir, "prefs.db"))
	t.Setenv("OPENDEID_LOG_FILE", "")
	t.Setenv("OPENDEID_LOG_LEVEL", "ERROR")

	input := filepath.Join(dir, "letter.txt")
	require.NoError(t, os.WriteFile(input, []byte("John went to Paris"), 0o600))
	return input
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "opendeid "+Version+"\n", out)
}

func TestAnonymize(t *testing.T) {
	svc := &fakeService{body: personBody}
	input := setup(t, svc)

	out, err := run(t, "anonymize", input)
	require.NoError(t, err)
	assert.Equal(t, "<PERSON> went to Paris\n", out)

	out, err = run(t, "anonymize", input, "--format", "html", "--mode", "highlight")
	require.NoError(t, err)
	assert.Equal(t, "<mark>John</mark> went to Paris\n", out)

	out, err = run(t, "anonymize", input, "--format", "findings", "--output", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "entity_type: PERSON")
	assert.Contains(t, out, "position: 0-4")
	assert.Contains(t, out, "recognizer: SpacyRecognizer")

	out, err = run(t, "anonymize", input, "--format", "findings",
		"--threshold", "0.9", "--types", "person", "--allow", "Paris")
	require.NoError(t, err)
	var rows []findingRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "90%", rows[0].Confidence)

	require.Len(t, svc.reqs, 4)
	last := svc.reqs[3]
	assert.Equal(t, 0.9, last.Threshold)
	assert.Equal(t, []string{"PERSON"}, last.EntityTypes)
	assert.Equal(t, "Paris", last.Allowlist)
	assert.Equal(t, "replace", svc.reqs[0].DeidentificationType)
	assert.Equal(t, "highlight", svc.reqs[1].DeidentificationType)

	// Overrides are not persisted.
	_, err = run(t, "presets", "save", "Default settings")
	require.NoError(t, err)
	out, err = run(t, "presets", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "- Default settings [en_core_web_lg, threshold 0.50, 62 types]")
}

func TestAnonymize_Errors(t *testing.T) {
	svc := &fakeService{status: http.StatusInternalServerError, body: "analyzer down"}
	input := setup(t, svc)

	_, err := run(t, "anonymize", input)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analyzer down")

	empty := filepath.Join(filepath.Dir(input), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o600))
	_, err = run(t, "anonymize", empty)
	assert.EqualError(t, err, session.MsgEmptyText)

	tests := [][]string{
		{"anonymize", input, "--format", "pdf"},
		{"anonymize", input, "--output", "xml"},
		{"anonymize", input, "--mode", "shred"},
		{"anonymize", input, "--model", "xx_core"},
		{"anonymize", input, "--types", "NOPE"},
		{"anonymize", filepath.Join(filepath.Dir(input), "missing.txt")},
	}
	for _, args := range tests {
		_, err := run(t, args...)
		assert.Error(t, err, args)
	}
	assert.Len(t, svc.reqs, 1)
}

func TestPresets(t *testing.T) {
	setup(t, &fakeService{})

	out, err := run(t, "presets", "list")
	require.NoError(t, err)
	assert.Equal(t, "No presets saved.\n", out)

	_, err = run(t, "presets", "save", "  ")
	assert.EqualError(t, err, session.MsgPresetName)

	out, err = run(t, "presets", "save", "Contracts")
	require.NoError(t, err)
	assert.Equal(t, "Saved preset \"Contracts\".\n", out)

	out, err = run(t, "presets", "load", "contracts")
	require.NoError(t, err)
	assert.Equal(t, "Loaded preset \"Contracts\".\n", out)

	_, err = run(t, "presets", "delete", "Invoices")
	assert.Error(t, err)

	out, err = run(t, "presets", "delete", "Contracts")
	require.NoError(t, err)
	assert.Equal(t, "Deleted preset \"Contracts\".\n", out)

	out, err = run(t, "presets")
	require.NoError(t, err)
	assert.Equal(t, "No presets saved.\n", out)
}

func TestResolvePreset(t *testing.T) {
	presets := []session.Preset{
		{ID: 1700000000000, Name: "Contracts"},
		{ID: 42, Name: "contracts"},
		{ID: 7, Name: "1700000000000"},
	}
	tests := []struct {
		ref  string
		want int64
		ok   bool
	}{
		{"1700000000000", 1700000000000, true},
		{"contracts", 42, true},
		{"CONTRACTS", 1700000000000, true},
		{"7", 7, true},
		{"Invoices", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			p, ok := resolvePreset(presets, tt.ref)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, p.ID)
		})
	}
}

func TestWriteResult(t *testing.T) {
	view := session.View{
		Findings: []deid.Finding{{ID: "PERSON-0-0", EntityType: "PERSON", Text: "John",
			PositionLabel: "0-4", Count: 1, Confidence: deid.Score{}}},
		PlainText: "<PERSON> went to Paris",
	}
	view.DisplayHTML = "&lt;PERSON&gt; went to Paris"

	var buf bytes.Buffer
	require.NoError(t, writeResult(&buf, view, "html", "json"))
	assert.Equal(t, "&lt;PERSON&gt; went to Paris\n", buf.String())

	buf.Reset()
	require.NoError(t, writeResult(&buf, view, "findings", "json"))
	assert.JSONEq(t, `[{"id":"PERSON-0-0","entityType":"PERSON","text":"John","position":"0-4","count":1,"confidence":"--"}]`, buf.String())
}
