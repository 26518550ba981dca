package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gonkalabs/opendeid/internal/catalog"
	"github.com/gonkalabs/opendeid/internal/session"
)

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "Manage saved recognition presets",
	Long: `Manage recognition presets: NER model, threshold, allow and deny
lists and the selected entity types, saved under a name.

Examples:
  opendeid presets list
  opendeid presets save "Contracts"
  opendeid presets load "Contracts"
  opendeid presets delete "Contracts"`,
	RunE: runPresetsList,
}

var presetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List presets",
	Args:  cobra.NoArgs,
	RunE:  runPresetsList,
}

var presetsSaveCmd = &cobra.Command{
	Use:   "save <name>",
	Short: "Save the current settings as a preset",
	Args:  cobra.ExactArgs(1),
	RunE:  runPresetsSave,
}

var presetsLoadCmd = &cobra.Command{
	Use:   "load <name|id>",
	Short: "Make a preset the current settings",
	Args:  cobra.ExactArgs(1),
	RunE:  runPresetsLoad,
}

var presetsDeleteCmd = &cobra.Command{
	Use:   "delete <name|id>",
	Short: "Delete a preset",
	Args:  cobra.ExactArgs(1),
	RunE:  runPresetsDelete,
}

func init() {
	presetsCmd.AddCommand(presetsListCmd)
	presetsCmd.AddCommand(presetsSaveCmd)
	presetsCmd.AddCommand(presetsLoadCmd)
	presetsCmd.AddCommand(presetsDeleteCmd)
}

// openSession is a session over the preference store without a service.
func openSession(cmd *cobra.Command) *session.Session {
	return session.New(cmd.Context(), catalog.Default(), kv, nil)
}

func runPresetsList(cmd *cobra.Command, args []string) error {
	presets := openSession(cmd).Presets()
	out := cmd.OutOrStdout()
	if len(presets) == 0 {
		fmt.Fprintln(out, "No presets saved.")
		return nil
	}

	fmt.Fprintf(out, "Presets (%d):\n\n", len(presets))
	for _, p := range presets {
		fmt.Fprintf(out, "- %s [%s, threshold %.2f, %d types]\n", p.Name, p.NerModel, p.Threshold, len(p.EntityTypes))
		if verbose {
			fmt.Fprintf(out, "  id: %d\n", p.ID)
			if session.CountTerms(p.Allowlist) > 0 {
				fmt.Fprintf(out, "  allowlist: %s\n", strings.Join(session.Terms(p.Allowlist), ", "))
			}
			if session.CountTerms(p.Denylist) > 0 {
				fmt.Fprintf(out, "  denylist: %s\n", strings.Join(session.Terms(p.Denylist), ", "))
			}
		}
	}
	return nil
}

func runPresetsSave(cmd *cobra.Command, args []string) error {
	p, err := openSession(cmd).SavePreset(cmd.Context(), args[0])
	if err != nil {
		return errors.New(session.MsgPresetName)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved preset %q.\n", p.Name)
	return nil
}

func runPresetsLoad(cmd *cobra.Command, args []string) error {
	sess := openSession(cmd)
	p, ok := resolvePreset(sess.Presets(), args[0])
	if !ok {
		return fmt.Errorf("preset not found: %s", args[0])
	}
	if _, err := sess.LoadPreset(cmd.Context(), p.ID); err != nil {
		return fmt.Errorf("load preset: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Loaded preset %q.\n", p.Name)
	return nil
}

func runPresetsDelete(cmd *cobra.Command, args []string) error {
	sess := openSession(cmd)
	p, ok := resolvePreset(sess.Presets(), args[0])
	if !ok {
		return fmt.Errorf("preset not found: %s", args[0])
	}
	if err := sess.DeletePreset(cmd.Context(), p.ID); err != nil {
		return fmt.Errorf("delete preset: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted preset %q.\n", p.Name)
	return nil
}

// resolvePreset finds a preset by id, then by exact name, then by
// case-insensitive name.
func resolvePreset(presets []session.Preset, ref string) (session.Preset, bool) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if p, ok := session.FindPreset(presets, id); ok {
			return p, true
		}
	}
	for _, p := range presets {
		if p.Name == ref {
			return p, true
		}
	}
	for _, p := range presets {
		if strings.EqualFold(p.Name, ref) {
			return p, true
		}
	}
	return session.Preset{}, false
}
