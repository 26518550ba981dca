package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gonkalabs/opendeid/internal/catalog"
	"github.com/gonkalabs/opendeid/internal/deid"
	"github.com/gonkalabs/opendeid/internal/metrics"
	"github.com/gonkalabs/opendeid/internal/storage"
	"github.com/gonkalabs/opendeid/internal/upstream"
)

// User-facing messages.
const (
	MsgEmptyText    = "Please provide some text first."
	MsgContacting   = "Contacting anonymization service..."
	MsgDone         = "Done!"
	MsgFailed       = "Anonymization failed. Ensure the anonymization service is reachable."
	MsgPresetName   = "Preset name cannot be empty."
	MsgSelectLoad   = "Select a preset to load."
	MsgSelectDelete = "Select a preset to delete."
)

var (
	ErrEmptyText      = errors.New("session: no text to anonymize")
	ErrPresetName     = errors.New("session: preset name is empty")
	ErrPresetNotFound = errors.New("session: preset not found")
)

// Anonymizer is the external service.
type Anonymizer interface {
	Anonymize(ctx context.Context, req upstream.Request) (deid.Response, error)
}

// Session serializes updates to one State and persists preferences after
// each change. It is safe for concurrent use.
type Session struct {
	mu    sync.Mutex
	state State

	// persistMu orders preference writes without holding mu during I/O.
	persistMu sync.Mutex

	cat    *catalog.Catalog
	kv     storage.KV
	client Anonymizer
	now    func() time.Time
}

// New loads stored preferences from kv and returns a ready session.
func New(ctx context.Context, cat *catalog.Catalog, kv storage.KV, client Anonymizer) *Session {
	return &Session{
		state:  LoadPrefs(ctx, kv, cat),
		cat:    cat,
		kv:     kv,
		client: client,
		now:    time.Now,
	}
}

// Catalog is the catalog the session validates against.
func (s *Session) Catalog() *catalog.Catalog { return s.cat }

// State returns a copy of the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// View returns the derived view of the current state.
func (s *Session) View() View {
	return BuildView(s.State(), s.cat)
}

// update applies fn under the lock, then persists changed preferences
// after releasing it. Writes happen in the order updates were applied.
func (s *Session) update(ctx context.Context, fn func(State) State) State {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	prev := s.state
	s.state = fn(prev)
	next := s.state.clone()
	s.mu.Unlock()

	PersistPrefs(ctx, s.kv, s.cat, prev, next)
	return next
}

// SetEditor replaces the editor content. An empty html is derived from text.
func (s *Session) SetEditor(ctx context.Context, html, text string) {
	s.update(ctx, func(st State) State {
		if html == "" && text != "" {
			html = deid.PlainTextToHTML(text)
		}
		st.Editor = Editor{HTML: html, Text: text}
		return st
	})
}

// Update applies a bulk patch.
func (s *Session) Update(ctx context.Context, p Patch) State {
	return s.update(ctx, func(st State) State { return Apply(st, p, s.cat) })
}

// SetFindingToggle includes or excludes one finding.
func (s *Session) SetFindingToggle(ctx context.Context, id string, included bool) State {
	metrics.FindingToggles.WithLabelValues("one", fmt.Sprint(included)).Inc()
	return s.update(ctx, func(st State) State { return SetFindingToggle(st, id, included, s.cat) })
}

// SetAllFindingToggles includes or excludes every finding.
func (s *Session) SetAllFindingToggles(ctx context.Context, included bool) State {
	metrics.FindingToggles.WithLabelValues("all", fmt.Sprint(included)).Inc()
	return s.update(ctx, func(st State) State { return SetAllFindingToggles(st, included, s.cat) })
}

// SortBy clicks the findings column header for key.
func (s *Session) SortBy(ctx context.Context, key deid.SortKey) State {
	return s.update(ctx, func(st State) State {
		st.Sort = st.Sort.Toggle(key)
		return st
	})
}

// SetSection opens or closes a settings section.
func (s *Session) SetSection(ctx context.Context, key string, open bool) State {
	return s.update(ctx, func(st State) State { return SetSection(st, key, open) })
}

// SetEntityType enables or disables an entity type. It reports false for
// a type the catalog does not know.
func (s *Session) SetEntityType(ctx context.Context, entityType string, enabled bool) (State, bool) {
	if !s.cat.Known(entityType) {
		return s.State(), false
	}
	return s.update(ctx, func(st State) State { return SetEntityType(st, entityType, enabled, s.cat) }), true
}

// ToggleAllEntityTypes selects all types, or none when all are selected.
func (s *Session) ToggleAllEntityTypes(ctx context.Context) State {
	return s.update(ctx, func(st State) State { return ToggleAllEntityTypes(st, s.cat) })
}

// Reset clears the submission and restores the default recognition
// settings.
func (s *Session) Reset(ctx context.Context) State {
	return s.update(ctx, func(st State) State { return Reset(st, s.cat) })
}

// Presets returns the saved presets sorted by name.
func (s *Session) Presets() []Preset {
	return s.State().Presets
}

// SavePreset stores the current recognition settings under name.
func (s *Session) SavePreset(ctx context.Context, name string) (Preset, error) {
	name = strings.TrimSpace(name)
	var saved Preset
	var err error
	s.update(ctx, func(st State) State {
		if name == "" {
			st.PresetStatusMessage = ""
			st.PresetErrorMessage = MsgPresetName
			err = ErrPresetName
			return st
		}
		id := s.now().UnixMilli()
		for {
			if _, taken := FindPreset(st.Presets, id); !taken {
				break
			}
			id++
		}
		saved = Preset{
			ID:          id,
			Name:        name,
			NerModel:    st.NerModel,
			Threshold:   st.Threshold,
			Allowlist:   st.AllowlistText,
			Denylist:    st.DenylistText,
			EntityTypes: s.cat.Selected(st.EntityTypeSelection),
		}
		st = AddPreset(st, saved)
		st.PresetErrorMessage = ""
		st.PresetStatusMessage = `Saved preset "` + saved.Name + `".`
		return st
	})
	return saved, err
}

// LoadPreset applies the preset with id.
func (s *Session) LoadPreset(ctx context.Context, id int64) (Preset, error) {
	var found Preset
	var err error
	s.update(ctx, func(st State) State {
		p, ok := FindPreset(st.Presets, id)
		if !ok {
			st.PresetStatusMessage = ""
			st.PresetErrorMessage = MsgSelectLoad
			err = ErrPresetNotFound
			return st
		}
		found = p
		return ApplyPreset(st, p, s.cat)
	})
	return found, err
}

// DeletePreset removes the preset with id.
func (s *Session) DeletePreset(ctx context.Context, id int64) error {
	var err error
	s.update(ctx, func(st State) State {
		p, ok := FindPreset(st.Presets, id)
		if !ok {
			st.PresetStatusMessage = ""
			st.PresetErrorMessage = MsgSelectDelete
			err = ErrPresetNotFound
			return st
		}
		st, _ = RemovePreset(st, id)
		st.PresetErrorMessage = ""
		st.PresetStatusMessage = `Deleted preset "` + p.Name + `".`
		return st
	})
	return err
}

// Submit sends the editor text to the service and applies the result.
// The lock is not held during the call; overlapping submissions are not
// fenced and the last response to arrive wins.
func (s *Session) Submit(ctx context.Context) error {
	var (
		sub  Editor
		req  upstream.Request
		mode deid.Mode
	)
	s.mu.Lock()
	st := s.state.clone()
	if strings.TrimSpace(st.Editor.Text) == "" {
		s.state.ErrorMessage = MsgEmptyText
		s.mu.Unlock()
		return ErrEmptyText
	}
	sub = st.Editor
	if sub.HTML == "" {
		sub.HTML = deid.PlainTextToHTML(sub.Text)
	}
	mode = st.Mode
	req = BuildRequest(st, s.cat)
	s.state.Submitting = true
	s.state.ErrorMessage = ""
	s.state.ErrorDetail = ""
	s.state.StatusMessage = MsgContacting
	s.mu.Unlock()

	resp, err := s.client.Anonymize(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Submitting = false
	if err != nil {
		slog.Error("session: anonymization failed", "err", err)
		s.state.ErrorMessage = MsgFailed
		s.state.ErrorDetail = upstream.Detail(err)
		s.state.StatusMessage = ""
		return fmt.Errorf("session: submit: %w", err)
	}

	for _, e := range resp.Entities {
		metrics.EntitiesReceived.WithLabelValues(entityLabel(s.cat, e.EntityType)).Inc()
	}
	s.state = ApplyResponse(s.state, sub, mode, resp, s.cat)
	return nil
}

// entityLabel bounds the metric label to catalog types.
func entityLabel(cat *catalog.Catalog, entityType string) string {
	if cat.Known(entityType) {
		return entityType
	}
	return "other"
}

// BuildRequest assembles the service request for the current settings.
func BuildRequest(st State, cat *catalog.Catalog) upstream.Request {
	return upstream.Request{
		Text:                 st.Editor.Text,
		Language:             cat.Language(st.NerModel),
		NerModel:             st.NerModel,
		Threshold:            st.Threshold,
		Allowlist:            st.AllowlistText,
		Denylist:             st.DenylistText,
		EntityTypes:          cat.Selected(st.EntityTypeSelection),
		DeidentificationType: string(st.Mode),
		MaskCharCount:        st.MaskCharCount,
		MaskChar:             st.MaskChar,
		EncryptKey:           st.EncryptKey,
	}
}

// ApplyResponse installs a successful response for submission sub made in
// mode. Toggles are reset so every new finding starts included.
func ApplyResponse(st State, sub Editor, mode deid.Mode, resp deid.Response, cat *catalog.Catalog) State {
	st = st.clone()
	anonymized := sub.Text
	switch {
	case mode == deid.ModeRedact:
		anonymized = deid.RedactTextByEntities(sub.Text, resp.Entities)
	case resp.AnonymizedText != nil:
		anonymized = *resp.AnonymizedText
	}
	st.Results = Results{
		AnonymizedText: anonymized,
		Entities:       resp.Entities,
		Items:          resp.Items,
	}
	st.LastSubmittedText = sub.Text
	st.LastSubmittedHTML = sub.HTML
	st.EntityToggles = make(map[string]bool, len(resp.Entities))
	for i, e := range resp.Entities {
		st.EntityToggles[deid.EntityID(e, i)] = true
	}
	st.StatusMessage = MsgDone
	st.ErrorMessage = ""
	st.ErrorDetail = ""
	return Rerender(st, cat)
}
