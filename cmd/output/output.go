// Package output provides functions to print messages with optional color formatting
package output

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/oar-cd/bubble/domain"
	"github.com/oar-cd/bubble/gitstore"
	"github.com/oar-cd/bubble/target"
)

const (
	Plain   = color.FgWhite
	Success = color.FgGreen
	Warning = color.FgYellow
	Error   = color.FgRed
)

const timeFormat = "2006-01-02 15:04:05"

var maybeColorize func(kind color.Attribute, tmpl string, a ...any) string

// InitColors sets up color functions based on environment
func InitColors(isColorDisabled bool) {
	if color.NoColor || isColorDisabled {
		maybeColorize = func(kind color.Attribute, tmpl string, a ...any) string {
			return fmt.Sprintf(tmpl, a...)
		}
	} else {
		maybeColorize = func(kind color.Attribute, tmpl string, a ...any) string {
			return color.New(kind).SprintfFunc()(tmpl, a...)
		}
	}
}

// PrintMessage formats a message with color (if enabled) and a trailing newline
func PrintMessage(kind color.Attribute, tmpl string, a ...any) string {
	if maybeColorize == nil || kind == Plain {
		return fmt.Sprintf(tmpl+"\n", a...)
	}
	return fmt.Sprintln(maybeColorize(kind, tmpl, a...))
}

// FprintPlain writes an uncolored message to the command's stdout
func FprintPlain(cmd *cobra.Command, tmpl string, a ...any) error {
	_, err := fmt.Fprint(cmd.OutOrStdout(), PrintMessage(Plain, tmpl, a...))
	return err
}

func FprintSuccess(cmd *cobra.Command, tmpl string, a ...any) error {
	_, err := fmt.Fprint(cmd.OutOrStdout(), PrintMessage(Success, tmpl, a...))
	return err
}

// FprintWarning writes to the command's stderr
func FprintWarning(cmd *cobra.Command, tmpl string, a ...any) error {
	_, err := fmt.Fprint(cmd.ErrOrStderr(), PrintMessage(Warning, tmpl, a...))
	return err
}

// FprintError writes to the command's stderr
func FprintError(cmd *cobra.Command, tmpl string, a ...any) error {
	_, err := fmt.Fprint(cmd.ErrOrStderr(), PrintMessage(Error, tmpl, a...))
	return err
}

func PrintTable(header []string, data [][]string) (string, error) {
	buf := strings.Builder{}

	table := tablewriter.NewTable(
		&buf,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines: tw.Lines{
					ShowHeaderLine: tw.Off,
				},
				Separators: tw.Separators{
					BetweenColumns: tw.Off,
				},
			},
		})),
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Alignment: tw.CellAlignment{PerColumn: []tw.Align{tw.AlignRight, tw.AlignLeft}},
			},
		}))

	if len(header) > 0 {
		table.Header(header)
	}

	if err := table.Bulk(data); err != nil {
		return "", fmt.Errorf("bulk adding data to table: %w", err)
	}

	if err := table.Render(); err != nil {
		return "", fmt.Errorf("rendering table: %w", err)
	}

	return buf.String(), nil
}

// PrintBubbleDetails renders one bubble as a two-column table
func PrintBubbleDetails(b *domain.Bubble, status domain.ContainerStatus) (string, error) {
	data := [][]string{
		{"Name", b.Name},
		{"Target", b.Target.String()},
		{"State", b.State.String()},
		{"Container", status.String()},
	}
	if b.Image != "" {
		data = append(data, []string{"Image", b.Image})
	}
	if b.Hook != "" {
		data = append(data, []string{"Hook", b.Hook})
	}
	if b.Toolchain != "" {
		data = append(data, []string{"Toolchain", b.Toolchain})
	}
	if b.Commit != "" {
		data = append(data, []string{"Commit", shortCommit(b.Commit)})
	}
	if b.Branch != "" {
		data = append(data, []string{"Branch", b.Branch})
	}
	if len(b.NetworkDomains) > 0 {
		data = append(data, []string{"Network", strings.Join(b.NetworkDomains, "\n")})
	}
	if a := b.Archive; a != nil {
		data = append(data, []string{"Archived At", a.ArchivedAt.Local().Format(timeFormat)})
		if a.SessionState != "" {
			data = append(data, []string{"Session", "saved"})
		}
	}
	data = append(data,
		[]string{"Created At", b.CreatedAt.Local().Format(timeFormat)},
		[]string{"Updated At", b.UpdatedAt.Local().Format(timeFormat)},
	)

	table, err := PrintTable([]string{}, data)
	if err != nil {
		return "", fmt.Errorf("printing bubble details table: %w", err)
	}
	return table, nil
}

// PrintBubbleList renders bubbles as a table. clean maps names to their
// clean check; a nil map leaves the column out.
func PrintBubbleList(bubbles []*domain.Bubble, clean map[string]domain.CleanStatus) (string, error) {
	if len(bubbles) == 0 {
		return PrintMessage(Plain, "No bubbles found."), nil
	}

	header := []string{"Name", "State", "Target", "Updated At"}
	if clean != nil {
		header = append(header, "Clean")
	}

	var data [][]string
	for _, b := range bubbles {
		row := []string{
			b.Name,
			b.State.String(),
			b.Target.String(),
			b.UpdatedAt.Local().Format(timeFormat),
		}
		if clean != nil {
			status, ok := clean[b.Name]
			switch {
			case !ok:
				row = append(row, "-")
			case status.Clean:
				row = append(row, "yes")
			default:
				row = append(row, status.Summary())
			}
		}
		data = append(data, row)
	}

	table, err := PrintTable(header, data)
	if err != nil {
		return "", fmt.Errorf("printing bubble list table: %w", err)
	}
	return table, nil
}

// PrintRelayRequests renders audited relay decisions, newest first
func PrintRelayRequests(requests []*domain.RelayRequest) (string, error) {
	if len(requests) == 0 {
		return PrintMessage(Plain, "No relay requests recorded."), nil
	}

	header := []string{"Time", "Outcome", "Container", "Target", "Detail"}
	var data [][]string
	for _, r := range requests {
		detail := r.Reason
		if r.Outcome == domain.RelayOutcomeAccepted {
			detail = r.BubbleName
		}
		data = append(data, []string{
			r.CreatedAt.Local().Format(timeFormat),
			r.Outcome.String(),
			r.ContainerName,
			r.Target,
			detail,
		})
	}

	table, err := PrintTable(header, data)
	if err != nil {
		return "", fmt.Errorf("printing relay requests table: %w", err)
	}
	return table, nil
}

// PrintMirrorList renders the mirror store contents
func PrintMirrorList(mirrors []*gitstore.Mirror) (string, error) {
	if len(mirrors) == 0 {
		return PrintMessage(Plain, "No mirrors found."), nil
	}

	header := []string{"Repository", "Last Refreshed", "Path"}
	var data [][]string
	for _, m := range mirrors {
		refreshed := "never"
		if !m.LastRefreshed.IsZero() {
			refreshed = m.LastRefreshed.Local().Format(timeFormat)
		}
		data = append(data, []string{m.OrgRepo(), refreshed, m.Path})
	}

	table, err := PrintTable(header, data)
	if err != nil {
		return "", fmt.Errorf("printing mirror list table: %w", err)
	}
	return table, nil
}

func PrintAliasList(entries []target.AliasEntry) (string, error) {
	if len(entries) == 0 {
		return PrintMessage(Plain, "No aliases found."), nil
	}

	header := []string{"Name", "Repository", "Source"}
	var data [][]string
	for _, e := range entries {
		repo := e.Target
		if len(e.Ambiguous) > 0 {
			repo = "ambiguous: " + strings.Join(e.Ambiguous, ", ")
		}
		source := "learned"
		if e.Builtin {
			source = "built-in"
		}
		data = append(data, []string{e.Name, repo, source})
	}

	table, err := PrintTable(header, data)
	if err != nil {
		return "", fmt.Errorf("printing alias list table: %w", err)
	}
	return table, nil
}

func shortCommit(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}

// CLI flag for disabling color output

// NoColor is a flag that can be used to disable colored output in the CLI.
var NoColor = &noColorFlag{set: false}

type noColorFlag struct {
	set bool
}

var _ pflag.Value = (*noColorFlag)(nil)

func (f *noColorFlag) Set(value string) error {
	// This is a boolean flag, so we ignore the value and just mark it as set
	f.set = true
	return nil
}

func (f *noColorFlag) String() string {
	if f.set {
		return "true"
	}
	return "false"
}

func (f *noColorFlag) Type() string {
	return "bool"
}

// IsSet returns true if the --no-color flag was explicitly set
func (f *noColorFlag) IsSet() bool {
	return f.set
}

// IsBoolFlag tells pflag this is a boolean flag (no argument required)
func (f *noColorFlag) IsBoolFlag() bool {
	return true
}
