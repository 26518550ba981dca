package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePresets_Normalizes(t *testing.T) {
	raw := `[
		{"id": 1700000000000, "name": "  Legal  ", "nerModel": "nl_core_news_lg", "threshold": 0.8,
		 "allowlist": "ACME", "denylist": "", "entityTypes": ["PERSON", 3, null, "EMAIL_ADDRESS"]},
		{"name": "", "threshold": "high", "allowlist": 12},
		"garbage"
	]`
	got := ParsePresets(raw, "en_core_web_lg")
	require.Len(t, got, 3)

	assert.Equal(t, Preset{
		ID: 1700000000000, Name: "Legal", NerModel: "nl_core_news_lg", Threshold: 0.8,
		Allowlist: "ACME", EntityTypes: []string{"PERSON", "EMAIL_ADDRESS"},
	}, got[0])

	assert.Equal(t, int64(2), got[1].ID)
	assert.Equal(t, "Untitled preset", got[1].Name)
	assert.Equal(t, "en_core_web_lg", got[1].NerModel)
	assert.Equal(t, DefaultThreshold, got[1].Threshold)
	assert.Equal(t, "", got[1].Allowlist)
	assert.Equal(t, []string{}, got[1].EntityTypes)

	assert.Equal(t, int64(3), got[2].ID)

	assert.Empty(t, ParsePresets(`{"not":"a list"}`, "en_core_web_lg"))
	assert.Empty(t, ParsePresets(`[broken`, "en_core_web_lg"))
}

func TestSortPresets(t *testing.T) {
	in := []Preset{{ID: 1, Name: "Émile"}, {ID: 2, Name: "beta"}, {ID: 3, Name: "Alpha"}, {ID: 4, Name: "delta"}}
	got := SortPresets(in)
	names := make([]string, len(got))
	for i, p := range got {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"Alpha", "beta", "delta", "Émile"}, names)
	assert.Equal(t, "Émile", in[0].Name)
}

func TestAddRemovePreset(t *testing.T) {
	s := State{}
	s = AddPreset(s, Preset{ID: 2, Name: "zeta"})
	s = AddPreset(s, Preset{ID: 1, Name: "alpha"})
	require.Len(t, s.Presets, 2)
	assert.Equal(t, "alpha", s.Presets[0].Name)

	s, ok := RemovePreset(s, 2)
	assert.True(t, ok)
	assert.Len(t, s.Presets, 1)

	_, ok = RemovePreset(s, 99)
	assert.False(t, ok)
}

func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"ACME", "Contoso", "file"}, Terms("ACME,\n Contoso ,,\n\nﬁle"))
	assert.Equal(t, 0, CountTerms(" ,\n "))
	assert.Equal(t, 2, CountTerms("a\nb"))
	assert.Equal(t, "a\nb", JoinTerms([]string{"a", "b"}))
}
