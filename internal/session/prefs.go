package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/gonkalabs/opendeid/internal/catalog"
	"github.com/gonkalabs/opendeid/internal/deid"
	"github.com/gonkalabs/opendeid/internal/metrics"
	"github.com/gonkalabs/opendeid/internal/storage"
)

// Preference keys.
const (
	KeyTheme         = "anonymizerTheme"
	KeyNerModel      = "preferredNerModel"
	KeyEntityTypes   = "preferredEntityTypes"
	KeyMode          = "preferredDeidentificationType"
	KeyMaskCharCount = "preferredMaskCharCount"
	KeyMaskChar      = "preferredMaskChar"
	KeyEncryptKey    = "preferredEncryptKey"
	KeyPresets       = "anonymizerPresets"
	KeyOpenFilters   = "openFilters"
	KeyFindingsSort  = "findingsSort"
)

// LoadPrefs overlays the stored preferences on the defaults. A missing,
// unreadable or invalid value keeps its default; read failures are logged.
func LoadPrefs(ctx context.Context, kv storage.KV, cat *catalog.Catalog) State {
	s := Defaults(cat)
	get := func(key string) (string, bool) {
		v, err := kv.Get(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			return "", false
		}
		if err != nil {
			metrics.StorageErrors.WithLabelValues("get").Inc()
			slog.Warn("session: read preference failed", "key", key, "err", err)
			return "", false
		}
		return v, v != ""
	}

	if v, ok := get(KeyTheme); ok {
		s.Theme = ParseTheme(v)
	}
	if v, ok := get(KeyNerModel); ok && cat.Model(v).Value == v {
		s.NerModel = v
	}
	if v, ok := get(KeyEntityTypes); ok {
		s.EntityTypeSelection = parseEntityTypes(v, cat)
	}
	if v, ok := get(KeyMode); ok {
		s.Mode = deid.ParseMode(v, s.Mode)
	}
	if v, ok := get(KeyMaskCharCount); ok {
		s.MaskCharCount = ParseMaskCharCount(v, s.MaskCharCount)
	}
	if v, ok := get(KeyMaskChar); ok {
		s.MaskChar = ParseMaskChar(v, s.MaskChar)
	}
	if v, ok := get(KeyEncryptKey); ok {
		s.EncryptKey = v
	}
	if v, ok := get(KeyPresets); ok {
		s.Presets = SortPresets(ParsePresets(v, s.NerModel))
	}
	if v, ok := get(KeyOpenFilters); ok {
		var open []string
		if err := json.Unmarshal([]byte(v), &open); err == nil && open != nil {
			s.OpenFilters = dedupe(open)
		} else {
			slog.Warn("session: ignoring stored open sections", "value", v)
		}
	}
	if v, ok := get(KeyFindingsSort); ok {
		s.Sort = deid.ParseSortConfig(v)
	}
	return s
}

// parseEntityTypes restores a stored selection. The stored value lists the
// enabled types; an empty or invalid list means all types.
func parseEntityTypes(raw string, cat *catalog.Catalog) map[string]bool {
	var stored []json.RawMessage
	if json.Unmarshal([]byte(raw), &stored) != nil {
		return cat.DefaultSelection()
	}
	allowed := make(map[string]bool, len(stored))
	for _, e := range stored {
		var v string
		if json.Unmarshal(e, &v) == nil {
			if v = strings.ToUpper(strings.TrimSpace(v)); v != "" {
				allowed[v] = true
			}
		}
	}
	if len(allowed) == 0 {
		return cat.DefaultSelection()
	}
	sel := make(map[string]bool, len(cat.EntityTypes))
	for _, t := range cat.EntityTypes {
		sel[t.Value] = allowed[t.Value]
	}
	return sel
}

// PersistPrefs writes the preferences that differ between prev and next.
// Failures are logged and do not stop the remaining writes.
func PersistPrefs(ctx context.Context, kv storage.KV, cat *catalog.Catalog, prev, next State) {
	set := func(key, value string) {
		if err := kv.Set(ctx, key, value); err != nil {
			metrics.StorageErrors.WithLabelValues("set").Inc()
			slog.Warn("session: write preference failed", "key", key, "err", err)
		}
	}
	setJSON := func(key string, v any) {
		b, err := json.Marshal(v)
		if err != nil {
			slog.Warn("session: encode preference failed", "key", key, "err", err)
			return
		}
		set(key, string(b))
	}

	if prev.Theme != next.Theme {
		set(KeyTheme, next.Theme)
	}
	if prev.NerModel != next.NerModel {
		set(KeyNerModel, next.NerModel)
	}
	if before, after := cat.Selected(prev.EntityTypeSelection), cat.Selected(next.EntityTypeSelection); !slices.Equal(before, after) {
		setJSON(KeyEntityTypes, after)
	}
	if prev.Mode != next.Mode {
		set(KeyMode, string(next.Mode))
	}
	if prev.MaskCharCount != next.MaskCharCount {
		set(KeyMaskCharCount, strconv.Itoa(next.MaskCharCount))
	}
	if prev.MaskChar != next.MaskChar {
		set(KeyMaskChar, next.MaskChar)
	}
	if prev.EncryptKey != next.EncryptKey {
		set(KeyEncryptKey, next.EncryptKey)
	}
	if !slices.EqualFunc(prev.Presets, next.Presets, presetEqual) {
		setJSON(KeyPresets, next.Presets)
	}
	if !slices.Equal(prev.OpenFilters, next.OpenFilters) {
		setJSON(KeyOpenFilters, next.OpenFilters)
	}
	if prev.Sort != next.Sort {
		setJSON(KeyFindingsSort, next.Sort)
	}
}

func presetEqual(a, b Preset) bool {
	return a.ID == b.ID && a.Name == b.Name && a.NerModel == b.NerModel &&
		a.Threshold == b.Threshold && a.Allowlist == b.Allowlist &&
		a.Denylist == b.Denylist && slices.Equal(a.EntityTypes, b.EntityTypes)
}
