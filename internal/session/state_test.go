package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonkalabs/opendeid/internal/catalog"
	"github.com/gonkalabs/opendeid/internal/deid"
)

func strPtr(s string) *string { return &s }

func numPtr(s string) *NumberInput {
	n := NumberInput(s)
	return &n
}

func TestApply_InvalidInputKeepsLastGood(t *testing.T) {
	cat := catalog.Default()
	s := Defaults(cat)
	s.Threshold = 0.7
	s.MaskCharCount = 9

	tests := []struct {
		name  string
		patch Patch
		check func(t *testing.T, got State)
	}{
		{"non-numeric threshold", Patch{Threshold: numPtr("abc")}, func(t *testing.T, got State) {
			assert.Equal(t, 0.7, got.Threshold)
		}},
		{"threshold clamped", Patch{Threshold: numPtr("1.5")}, func(t *testing.T, got State) {
			assert.Equal(t, 1.0, got.Threshold)
		}},
		{"numeric threshold", Patch{Threshold: Num(0.35)}, func(t *testing.T, got State) {
			assert.Equal(t, 0.35, got.Threshold)
		}},
		{"zero mask count", Patch{MaskCharCount: numPtr("0")}, func(t *testing.T, got State) {
			assert.Equal(t, 9, got.MaskCharCount)
		}},
		{"leading digits mask count", Patch{MaskCharCount: numPtr("12abc")}, func(t *testing.T, got State) {
			assert.Equal(t, 12, got.MaskCharCount)
		}},
		{"mask char keeps first rune", Patch{MaskChar: strPtr("é#")}, func(t *testing.T, got State) {
			assert.Equal(t, "é", got.MaskChar)
		}},
		{"empty mask char", Patch{MaskChar: strPtr("")}, func(t *testing.T, got State) {
			assert.Equal(t, DefaultMaskChar, got.MaskChar)
		}},
		{"unknown mode", Patch{Mode: strPtr("shred")}, func(t *testing.T, got State) {
			assert.Equal(t, deid.ModeReplace, got.Mode)
		}},
		{"known mode", Patch{Mode: strPtr("Highlight")}, func(t *testing.T, got State) {
			assert.Equal(t, deid.ModeHighlight, got.Mode)
		}},
		{"unknown model", Patch{NerModel: strPtr("xx_core")}, func(t *testing.T, got State) {
			assert.Equal(t, "en_core_web_lg", got.NerModel)
		}},
		{"empty encrypt key", Patch{EncryptKey: strPtr("")}, func(t *testing.T, got State) {
			assert.Equal(t, DefaultEncryptKey, got.EncryptKey)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, Apply(s, tt.patch, cat))
		})
	}
}

func TestApply_MergesMaps(t *testing.T) {
	cat := catalog.Default()
	s := Defaults(cat)
	s.EntityToggles = map[string]bool{"PERSON-0-0": true, "EMAIL_ADDRESS-9-1": true}

	got := Apply(s, Patch{
		EntityTypeSelection: map[string]bool{"PERSON": false},
		EntityToggles:       map[string]bool{"PERSON-0-0": false},
		AllowlistText:       strPtr("ACME, Contoso"),
	}, cat)

	assert.False(t, got.EntityTypeSelection["PERSON"])
	assert.True(t, got.EntityTypeSelection["LOCATION"])
	assert.Equal(t, map[string]bool{"PERSON-0-0": false, "EMAIL_ADDRESS-9-1": true}, got.EntityToggles)
	assert.Equal(t, "ACME, Contoso", got.AllowlistText)

	// input untouched
	assert.True(t, s.EntityTypeSelection["PERSON"])
	assert.True(t, s.EntityToggles["PERSON-0-0"])
}

func TestNumberInput_Unmarshal(t *testing.T) {
	var p Patch
	require.NoError(t, json.Unmarshal([]byte(`{"threshold": 0.25, "maskCharCount": "7"}`), &p))
	assert.Equal(t, NumberInput("0.25"), *p.Threshold)
	assert.Equal(t, NumberInput("7"), *p.MaskCharCount)
}

func withResults(cat *catalog.Catalog) State {
	s := Defaults(cat)
	resp := deid.Response{Entities: []deid.EntitySpan{
		{EntityType: "PERSON", Start: deid.At(0), End: deid.At(4), Score: deid.ScoreOf(0.9)},
		{EntityType: "LOCATION", Start: deid.At(13), End: deid.At(18), Score: deid.ScoreOf(0.8)},
	}}
	sub := Editor{HTML: "<p>John went to Paris</p>", Text: "John went to Paris"}
	return ApplyResponse(s, sub, deid.ModeReplace, resp, cat)
}

func TestSetFindingToggle_Rerenders(t *testing.T) {
	cat := catalog.Default()
	s := withResults(cat)
	assert.Equal(t, "<p>&lt;PERSON&gt; went to &lt;LOCATION&gt;</p>", s.DisplayHTML)

	s = SetFindingToggle(s, "PERSON-0-0", false, cat)
	assert.Equal(t, "<p>John went to &lt;LOCATION&gt;</p>", s.DisplayHTML)

	s = SetAllFindingToggles(s, false, cat)
	assert.Equal(t, "<p>John went to Paris</p>", s.DisplayHTML)
	assert.Equal(t, map[string]bool{"PERSON-0-0": false, "LOCATION-13-1": false}, s.EntityToggles)

	s = SetAllFindingToggles(s, true, cat)
	assert.Equal(t, "<p>&lt;PERSON&gt; went to &lt;LOCATION&gt;</p>", s.DisplayHTML)
}

func TestRerender_FollowsModelLanguage(t *testing.T) {
	cat := catalog.Default()
	s := withResults(cat)
	s = Apply(s, Patch{NerModel: strPtr("nl_core_news_lg")}, cat)
	assert.Equal(t, "<p>&lt;PERSOON&gt; went to &lt;LOCATIE&gt;</p>", s.DisplayHTML)

	s = Apply(s, Patch{Mode: strPtr("highlight")}, cat)
	assert.Equal(t, "<p><mark>John</mark> went to <mark>Paris</mark></p>", s.DisplayHTML)
}

func TestRender_RedactWithoutItems(t *testing.T) {
	cat := catalog.Default()
	s := withResults(cat)
	s = Apply(s, Patch{Mode: strPtr("redact")}, cat)
	assert.Equal(t, "<p> went to </p>", s.DisplayHTML)

	s = SetFindingToggle(s, "LOCATION-13-1", false, cat)
	assert.Equal(t, "<p> went to Paris</p>", s.DisplayHTML)
}

func TestSetSection(t *testing.T) {
	s := Defaults(catalog.Default())
	s = SetSection(s, "lists", true)
	s = SetSection(s, "lists", true)
	assert.Equal(t, []string{"ner-model", "lists"}, s.OpenFilters)

	s = SetSection(s, "ner-model", false)
	assert.Equal(t, []string{"lists"}, s.OpenFilters)
}

func TestEntityTypeSelection(t *testing.T) {
	cat := catalog.Default()
	s := Defaults(cat)
	require.True(t, AllEntityTypesSelected(s, cat))

	s = ToggleAllEntityTypes(s, cat)
	assert.Empty(t, cat.Selected(s.EntityTypeSelection))

	s = SetEntityType(s, "PERSON", true, cat)
	assert.Equal(t, []string{"PERSON"}, cat.Selected(s.EntityTypeSelection))

	s = ToggleAllEntityTypes(s, cat)
	assert.True(t, AllEntityTypesSelected(s, cat))

	before := s
	s = SetEntityType(s, "NOT_A_TYPE", false, cat)
	assert.Equal(t, before.EntityTypeSelection, s.EntityTypeSelection)
}

func TestReset(t *testing.T) {
	cat := catalog.Default()
	s := withResults(cat)
	s.Threshold = 0.9
	s.AllowlistText = "ACME"
	s.NerModel = "nl_core_news_lg"
	s.Mode = deid.ModeMask
	s.EntityTypeSelection["PERSON"] = false
	s.Presets = []Preset{{ID: 1, Name: "keep"}}

	s = Reset(s, cat)
	assert.Empty(t, s.Results.Entities)
	assert.Empty(t, s.EntityToggles)
	assert.Empty(t, s.DisplayHTML)
	assert.Empty(t, s.StatusMessage)
	assert.Equal(t, DefaultThreshold, s.Threshold)
	assert.Empty(t, s.AllowlistText)
	assert.Equal(t, "en_core_web_lg", s.NerModel)
	assert.True(t, AllEntityTypesSelected(s, cat))
	assert.Equal(t, deid.ModeMask, s.Mode)
	assert.Len(t, s.Presets, 1)
}

func TestApplyResponse(t *testing.T) {
	cat := catalog.Default()
	anonymized := "<PERSON> went to Paris"
	resp := deid.Response{
		Entities:       []deid.EntitySpan{{EntityType: "PERSON", Start: deid.At(0), End: deid.At(4)}},
		AnonymizedText: &anonymized,
	}
	s := Defaults(cat)
	s.EntityToggles = map[string]bool{"stale-1-1": false}
	sub := Editor{HTML: "<p>John went to Paris</p>", Text: "John went to Paris"}

	got := ApplyResponse(s, sub, deid.ModeReplace, resp, cat)
	assert.Equal(t, "<PERSON> went to Paris", got.Results.AnonymizedText)
	assert.Equal(t, map[string]bool{"PERSON-0-0": true}, got.EntityToggles)
	assert.Equal(t, MsgDone, got.StatusMessage)

	got = ApplyResponse(s, sub, deid.ModeRedact, resp, cat)
	assert.Equal(t, " went to Paris", got.Results.AnonymizedText)

	got = ApplyResponse(s, sub, deid.ModeReplace, deid.Response{}, cat)
	assert.Equal(t, "John went to Paris", got.Results.AnonymizedText)
}
