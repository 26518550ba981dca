package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/gonkalabs/opendeid/internal/catalog"
	"github.com/gonkalabs/opendeid/internal/clipboard"
	"github.com/gonkalabs/opendeid/internal/deid"
	"github.com/gonkalabs/opendeid/internal/session"
	"github.com/gonkalabs/opendeid/internal/storage"
)

var (
	anonHTML      bool
	anonMode      string
	anonModel     string
	anonThreshold string
	anonAllow     []string
	anonDeny      []string
	anonTypes     []string
	anonFormat    string
	anonOutput    string
	anonCopy      bool
)

var anonymizeCmd = &cobra.Command{
	Use:   "anonymize <file>",
	Short: "Anonymize a file and print the result",
	Long: `Send a file to the anonymization service and print the result.

Stored preferences are used as defaults; flags override them for this run
only. Use "-" to read from stdin.

Formats:
  text      plain text of the rendered result (default)
  html      rendered HTML
  findings  the findings table, as JSON or YAML (--output)

Examples:
  opendeid anonymize letter.txt
  opendeid anonymize page.html --html --mode highlight --format html
  opendeid anonymize notes.txt --types PERSON,EMAIL_ADDRESS --format findings --output yaml
  cat notes.txt | opendeid anonymize - --mode redact --copy`,
	Args: cobra.ExactArgs(1),
	RunE: runAnonymize,
}

func init() {
	anonymizeCmd.Flags().BoolVar(&anonHTML, "html", false, "input is HTML")
	anonymizeCmd.Flags().StringVarP(&anonMode, "mode", "m", "", "replace|redact|mask|hash|encrypt|highlight")
	anonymizeCmd.Flags().StringVar(&anonModel, "model", "", "NER model")
	anonymizeCmd.Flags().StringVarP(&anonThreshold, "threshold", "t", "", "confidence threshold between 0 and 1")
	anonymizeCmd.Flags().StringSliceVar(&anonAllow, "allow", nil, "never treat these terms as sensitive")
	anonymizeCmd.Flags().StringSliceVar(&anonDeny, "deny", nil, "always treat these terms as sensitive")
	anonymizeCmd.Flags().StringSliceVar(&anonTypes, "types", nil, "only detect these entity types")
	anonymizeCmd.Flags().StringVarP(&anonFormat, "format", "f", "text", "html|text|findings")
	anonymizeCmd.Flags().StringVarP(&anonOutput, "output", "o", "json", "json|yaml for --format findings")
	anonymizeCmd.Flags().BoolVar(&anonCopy, "copy", false, "copy the result to the clipboard")
}

// readOnly keeps command-line overrides out of the stored preferences.
type readOnly struct{ storage.KV }

func (readOnly) Set(context.Context, string, string) error { return nil }

func runAnonymize(cmd *cobra.Command, args []string) error {
	switch anonFormat {
	case "html", "text", "findings":
	default:
		return fmt.Errorf("unknown format %q", anonFormat)
	}
	switch anonOutput {
	case "json", "yaml":
	default:
		return fmt.Errorf("unknown output %q", anonOutput)
	}

	input, err := readInput(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}

	cat := catalog.Default()
	patch, err := anonymizePatch(cmd, cat)
	if err != nil {
		return err
	}

	client, err := newClient()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess := session.New(ctx, cat, readOnly{kv}, client)
	sess.Update(ctx, patch)
	if anonHTML {
		sess.SetEditor(ctx, input, deid.PlainTextFromHTML(input))
	} else {
		sess.SetEditor(ctx, "", input)
	}
	if err := sess.Submit(ctx); err != nil {
		st := sess.State()
		if st.ErrorDetail != "" {
			return fmt.Errorf("%s (%s)", strings.TrimSuffix(st.ErrorMessage, "."), st.ErrorDetail)
		}
		return errors.New(st.ErrorMessage)
	}

	view := sess.View()
	out := cmd.OutOrStdout()
	if err := writeResult(out, view, anonFormat, anonOutput); err != nil {
		return err
	}

	if anonCopy {
		content := clipboard.Content{Text: view.PlainText}
		if anonFormat == "html" {
			content.HTML = view.DisplayHTML
		}
		var tty io.Writer
		if term.IsTerminal(int(os.Stderr.Fd())) {
			tty = os.Stderr
		}
		used, err := clipboard.Default(tty, func(path string) {
			fmt.Fprintf(cmd.ErrOrStderr(), "No clipboard available; result written to %s\n", path)
		}).Copy(ctx, content)
		if err != nil {
			return fmt.Errorf("copy: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Copied via %s.\n", used)
	}
	return nil
}

func readInput(stdin io.Reader, path string) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(b), nil
}

// anonymizePatch turns the flags that were set into a settings patch.
func anonymizePatch(cmd *cobra.Command, cat *catalog.Catalog) (session.Patch, error) {
	var p session.Patch
	flags := cmd.Flags()
	if flags.Changed("mode") {
		if deid.ParseMode(anonMode, "") == "" {
			return p, fmt.Errorf("unknown mode %q", anonMode)
		}
		p.Mode = &anonMode
	}
	if flags.Changed("model") {
		if cat.Model(anonModel).Value != anonModel {
			return p, fmt.Errorf("unknown model %q", anonModel)
		}
		p.NerModel = &anonModel
	}
	if flags.Changed("threshold") {
		n := session.NumberInput(anonThreshold)
		p.Threshold = &n
	}
	if flags.Changed("allow") {
		text := session.JoinTerms(anonAllow)
		p.AllowlistText = &text
	}
	if flags.Changed("deny") {
		text := session.JoinTerms(anonDeny)
		p.DenylistText = &text
	}
	if flags.Changed("types") {
		sel := make(map[string]bool, len(cat.EntityTypes))
		for _, t := range cat.EntityTypes {
			sel[t.Value] = false
		}
		for _, t := range anonTypes {
			t = strings.ToUpper(strings.TrimSpace(t))
			if !cat.Known(t) {
				return p, fmt.Errorf("unknown entity type %q", t)
			}
			sel[t] = true
		}
		p.EntityTypeSelection = sel
	}
	return p, nil
}

// findingRow is the printable form of a finding.
type findingRow struct {
	ID          string `json:"id" yaml:"id"`
	EntityType  string `json:"entityType" yaml:"entity_type"`
	Text        string `json:"text" yaml:"text"`
	Position    string `json:"position" yaml:"position"`
	Count       int    `json:"count" yaml:"count"`
	Confidence  string `json:"confidence" yaml:"confidence"`
	Recognizer  string `json:"recognizer,omitempty" yaml:"recognizer,omitempty"`
	Replacement string `json:"replacement,omitempty" yaml:"replacement,omitempty"`
}

func findingRows(findings []deid.Finding) []findingRow {
	rows := make([]findingRow, len(findings))
	for i, f := range findings {
		rows[i] = findingRow{
			ID:          f.ID,
			EntityType:  f.EntityType,
			Text:        f.Text,
			Position:    f.PositionLabel,
			Count:       f.Count,
			Confidence:  deid.FormatConfidence(f.Confidence),
			Recognizer:  f.Recognizer,
			Replacement: f.Replacement,
		}
	}
	return rows
}

func writeResult(w io.Writer, view session.View, format, output string) error {
	switch format {
	case "html":
		_, err := fmt.Fprintln(w, view.DisplayHTML)
		return err
	case "text":
		_, err := fmt.Fprintln(w, view.PlainText)
		return err
	}

	rows := findingRows(view.Findings)
	if output == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(rows)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}
