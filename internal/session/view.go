package session

import (
	"github.com/gonkalabs/opendeid/internal/catalog"
	"github.com/gonkalabs/opendeid/internal/deid"
)

// EntityTypeOption is a localized entity type with its selection state.
type EntityTypeOption struct {
	catalog.Option
	Enabled bool `json:"enabled"`
}

// View is State plus everything derived from it for display.
type View struct {
	State
	Language                string             `json:"language"`
	Findings                []deid.Finding     `json:"findings"`
	Selection               deid.Selection     `json:"selection"`
	AnonymizedText          string             `json:"anonymizedText"`
	PlainText               string             `json:"plainText"`
	EntityTypes             []EntityTypeOption `json:"entityTypes"`
	ShowMoreEntityTypes     bool               `json:"showMoreEntityTypes"`
	AllEntityTypesSelected  bool               `json:"allEntityTypesSelected"`
	SelectedEntityTypeCount int                `json:"selectedEntityTypeCount"`
	AllowlistCount          int                `json:"allowlistCount"`
	DenylistCount           int                `json:"denylistCount"`
}

// BuildView derives the findings table, localized result text, plain-text
// export and entity type list from st.
func BuildView(st State, cat *catalog.Catalog) View {
	lang := cat.Language(st.NerModel)
	names := cat.DisplayNames(lang)

	findings := deid.SortFindings(
		deid.ProjectFindings(st.Results.Entities, st.Results.Items, st.LastSubmittedText, names),
		st.Sort,
	)

	anonymized := st.Results.AnonymizedText
	if len(st.Results.Entities) > 0 {
		anonymized = deid.LocalizePlaceholders(anonymized, names)
	}

	filtered := catalog.Filter(cat.Localized(lang), st.EntityTypeFilter)
	shown, more := cat.Visible(filtered, st.MoreEntityOptions)
	options := make([]EntityTypeOption, 0, len(shown))
	for _, o := range shown {
		on, ok := st.EntityTypeSelection[o.Value]
		options = append(options, EntityTypeOption{Option: o, Enabled: !ok || on})
	}
	selected := len(cat.Selected(st.EntityTypeSelection))

	return View{
		State:                   st,
		Language:                lang,
		Findings:                findings,
		Selection:               deid.Summarize(findings, st.EntityToggles),
		AnonymizedText:          anonymized,
		PlainText:               deid.PlainTextFromHTML(st.DisplayHTML),
		EntityTypes:             options,
		ShowMoreEntityTypes:     more,
		AllEntityTypesSelected:  selected == len(cat.EntityTypes),
		SelectedEntityTypeCount: selected,
		AllowlistCount:          CountTerms(st.AllowlistText),
		DenylistCount:           CountTerms(st.DenylistText),
	}
}
