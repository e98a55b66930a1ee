package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/kingrea/reflweb/internal/calc"
	"github.com/kingrea/reflweb/internal/editor"
	"github.com/kingrea/reflweb/internal/filetree"
	"github.com/kingrea/reflweb/internal/instrument"
	"github.com/kingrea/reflweb/internal/instrument/refl"
	"github.com/kingrea/reflweb/internal/ranges"
	"github.com/kingrea/reflweb/internal/template"
	"github.com/kingrea/reflweb/internal/tui"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <template|->",
		Short: "Check a template's wires against the instrument's modules",
		Long:  "Check a template's wires against the instrument's modules. Use - to read the template from stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(opts)
			if err != nil {
				return err
			}
			defer rt.Close()
			tpl, err := readTemplate(cmd, args[0])
			if err != nil {
				return err
			}
			instrumentID := tpl.Instrument
			if opts.instrument != "" || instrumentID == "" {
				instrumentID = rt.instrumentID(opts)
			}
			reg, err := rt.loadRegistry(cmd.Context(), instrumentID)
			if err != nil {
				return err
			}
			if err := tpl.Validate(reg); err != nil {
				return err
			}
			for idx, m := range tpl.Modules {
				if _, err := reg.ModuleDef(m.Module); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: module %d: %v\n", idx, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d modules, %d wires ok\n", tpl.Name, len(tpl.Modules), len(tpl.Wires))
			return nil
		},
	}
}

type calcFlags struct {
	node       int
	terminal   string
	returnType string
	overrides  string
	out        string
}

func newCalcCmd(opts *rootOptions) *cobra.Command {
	flags := &calcFlags{}
	cmd := &cobra.Command{
		Use:   "calc <template>",
		Short: "Evaluate one module terminal",
		Long: `Evaluate one module terminal of a template.

Example:
  reflweb calc reduction.json --node 3 --terminal output --return export
  reflweb calc reduction.json --node 1 --config '{"1": {"scale": 2}}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(opts)
			if err != nil {
				return err
			}
			defer rt.Close()
			tpl, err := template.LoadFile(args[0])
			if err != nil {
				return err
			}
			req := calc.Request{
				Template:   tpl,
				Node:       flags.node,
				Terminal:   flags.terminal,
				ReturnType: calc.ReturnType(flags.returnType),
			}
			if strings.TrimSpace(flags.overrides) != "" {
				if err := json.Unmarshal([]byte(flags.overrides), &req.Config); err != nil {
					return fmt.Errorf("reflweb: --config: %w", err)
				}
			}
			res, err := rt.client.Calc(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeOutput(cmd, flags.out, func(w io.Writer) error {
				return printResult(w, rt, tpl.Instrument, res)
			})
		},
	}
	cmd.Flags().IntVarP(&flags.node, "node", "n", 0, "module index")
	cmd.Flags().StringVarP(&flags.terminal, "terminal", "t", "output", "terminal id")
	cmd.Flags().StringVarP(&flags.returnType, "return", "r", string(calc.ReturnMetadata), "metadata, plottable or export")
	cmd.Flags().StringVar(&flags.overrides, "config", "", `per-module overrides as JSON, e.g. {"0": {"field": 1}}`)
	cmd.Flags().StringVarP(&flags.out, "out", "o", "", "write to a file instead of stdout")
	return cmd
}

func newReplayCmd(opts *rootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "replay <export-file>",
		Short: "Re-run the request recorded in an export header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(opts)
			if err != nil {
				return err
			}
			defer rt.Close()
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reflweb: read %s: %w", args[0], err)
			}
			header, _, err := calc.ParseExport(string(data))
			if err != nil {
				return err
			}
			res, err := rt.client.Calc(cmd.Context(), header.Request())
			if err != nil {
				return err
			}
			text, err := res.Export()
			if err != nil {
				return err
			}
			return writeOutput(cmd, out, func(w io.Writer) error {
				_, err := io.WriteString(w, text+"\n")
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to a file instead of stdout")
	return cmd
}

func newConfigureCmd(opts *rootOptions) *cobra.Command {
	var out, named, files string
	cmd := &cobra.Command{
		Use:   "configure [template]",
		Short: "Configure module fields interactively",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(opts)
			if err != nil {
				return err
			}
			defer rt.Close()
			session, err := editor.Open(cmd.Context(), editor.Deps{
				Source:  rt.source,
				Client:  rt.client,
				Catalog: rt.catalog,
				Logger:  rt.log,
			}, rt.instrumentID(opts))
			if err != nil {
				return err
			}
			switch {
			case len(args) == 1:
				tpl, err := template.LoadFile(args[0])
				if err != nil {
					return err
				}
				if err := session.LoadTemplate(tpl); err != nil {
					return err
				}
				if out == "" {
					out = args[0]
				}
			case named != "":
				if err := session.LoadNamedTemplate(named); err != nil {
					return err
				}
			}
			if len(session.Template().Modules) == 0 {
				return fmt.Errorf("reflweb: no template to configure")
			}
			appOpts := []tui.AppOption{tui.WithContext(cmd.Context()), tui.WithLogger(rt.log)}
			if files != "" {
				refs, err := readFileList(files, refl.SourceNCNR)
				if err != nil {
					return err
				}
				appOpts = append(appOpts, tui.WithFiles(refs))
			}
			app := tui.NewApp(session, appOpts...)
			if _, err := tea.NewProgram(app, tea.WithAltScreen()).Run(); err != nil {
				return fmt.Errorf("reflweb: run TUI: %w", err)
			}
			if out == "" {
				out = session.Template().Name + ".json"
			}
			if err := template.Save(out, session.Template()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "where to save the template (default: the input file)")
	cmd.Flags().StringVar(&named, "template", "", "start from one of the instrument's predefined templates")
	cmd.Flags().StringVar(&files, "files", "", "file list offered to file fields (press f in a module panel)")
	return cmd
}

func newDecorateCmd(opts *rootOptions) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "decorate <file-list>",
		Short: "Group data files into a tree and annotate it",
		Long: `Load metadata for each listed file, group the entries with the
instrument's categorizers and run its decorators (axis ranges, sample
descriptions, viewer links).

The file list is a JSON array of {"source", "path", "mtime"} objects, or a
text file with one "path mtime" pair per line.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(opts)
			if err != nil {
				return err
			}
			defer rt.Close()
			refs, err := readFileList(args[0], source)
			if err != nil {
				return err
			}
			instrumentID := rt.instrumentID(opts)
			plugin, err := rt.catalog.Lookup(instrumentID)
			if err != nil {
				return err
			}
			tree, err := instrument.BuildTree(cmd.Context(), plugin, refs, rt.log)
			if err != nil {
				return err
			}
			if err := instrument.Decorate(cmd.Context(), plugin, tree, rt.log); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			printTree(cmd.OutOrStdout(), tree)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", refl.SourceNCNR, "data source for plain-text file lists")
	return cmd
}

func newUseCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "use <instrument>",
		Short: "Set the instrument loaded at startup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(opts)
			if err != nil {
				return err
			}
			defer rt.Close()
			reg, err := rt.loadRegistry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := rt.cfg.SetInstrument(reg.InstrumentID()); err != nil {
				return err
			}
			if _, err := rt.catalog.Lookup(reg.InstrumentID()); errors.Is(err, instrument.ErrNoPlugin) {
				fmt.Fprintf(cmd.ErrOrStderr(), "note: %s has no plug-in; plots and file trees are unavailable\n", reg.InstrumentID())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "instrument set to %s (%d modules)\n", reg.InstrumentID(), len(reg.ModuleIDs()))
			return nil
		},
	}
}

func readTemplate(cmd *cobra.Command, path string) (template.Template, error) {
	if path == "-" {
		return template.LoadReader(cmd.InOrStdin())
	}
	return template.LoadFile(path)
}

var (
	treeNameStyle  = lipgloss.NewStyle().Bold(true)
	treeRangeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#CD5C5C"))
	treeNoteStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

func printTree(w io.Writer, tree *filetree.Memory) {
	tree.Walk(func(n filetree.Node, depth int) {
		line := strings.Repeat("  ", depth) + treeNameStyle.Render(n.Text)
		if ind, ok := n.Attrs[ranges.AttrIndicator].(ranges.Indicator); ok {
			line += " " + treeRangeStyle.Render(ind.Bar(20))
		}
		if lo, ok := n.Attrs[ranges.AttrXMin].(float64); ok {
			hi, _ := n.Attrs[ranges.AttrXMax].(float64)
			line += treeNoteStyle.Render(fmt.Sprintf(" [%g, %g]", lo, hi))
		}
		if title, ok := n.Attrs[refl.AttrTitle].(string); ok && n.IsLeaf() {
			line += treeNoteStyle.Render(" " + title)
		}
		if link, ok := n.Attrs[refl.AttrViewerLink].(string); ok {
			line += "\n" + strings.Repeat("  ", depth+1) + treeNoteStyle.Render(link)
		}
		fmt.Fprintln(w, line)
	})
}

func readFileList(path, source string) ([]template.FileRef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reflweb: read %s: %w", path, err)
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var refs []template.FileRef
		if err := json.Unmarshal([]byte(trimmed), &refs); err != nil {
			return nil, fmt.Errorf("reflweb: parse %s: %w", path, err)
		}
		return refs, nil
	}
	var refs []template.FileRef
	for lineNo, line := range strings.Split(trimmed, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		ref := template.FileRef{Source: source, Path: fields[0]}
		if len(fields) > 1 {
			if _, err := fmt.Sscan(fields[1], &ref.Mtime); err != nil {
				return nil, fmt.Errorf("reflweb: %s:%d: bad mtime %q", path, lineNo+1, fields[1])
			}
		}
		refs = append(refs, ref)
	}
	if len(refs) == 0 {
		return nil, errors.New("reflweb: file list is empty")
	}
	return refs, nil
}

func writeOutput(cmd *cobra.Command, path string, write func(io.Writer) error) error {
	if path == "" {
		return write(cmd.OutOrStdout())
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("reflweb: create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// printResult writes a result in the form its return type asks for.
func printResult(w io.Writer, rt *runtime, instrumentID string, res *calc.Result) error {
	switch res.Request.ReturnType {
	case calc.ReturnExport:
		text, err := res.Export()
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, text+"\n")
		return err
	case calc.ReturnPlottable:
		plugin, err := rt.catalog.Lookup(instrumentID)
		if err != nil {
			return err
		}
		r := &jsonRenderer{w: w}
		kind, err := instrument.Dispatch(res, plugin, r)
		if err != nil {
			return err
		}
		if kind == "" {
			fmt.Fprintf(w, "%s has no plot\n", res.Datatype)
		}
		return nil
	default:
		values, err := res.Metadata()
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"datatype": res.Datatype, "values": values})
	}
}

// jsonRenderer writes plottables as indented JSON.
type jsonRenderer struct {
	w io.Writer
}

func (r *jsonRenderer) encode(kind instrument.Kind, v any) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"kind": kind, "plot": v})
}

func (r *jsonRenderer) Render1D(p instrument.Plot1D) error { return r.encode(instrument.Kind1D, p) }

func (r *jsonRenderer) Render2D(p instrument.Plot2D) error { return r.encode(instrument.Kind2D, p) }

func (r *jsonRenderer) RenderParams(p instrument.Params) error {
	return r.encode(instrument.KindParams, p)
}
