package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"casegrid/internal/adapters/exports"
	"casegrid/internal/blob"
	"casegrid/internal/workbook"
)

func newImportCmd(flags *globalFlags) *cobra.Command {
	var archive bool
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Parse a case workbook, validate it and save it as the current grid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read workbook: %w", err)
			}
			rt, err := openRuntime(ctx, flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.close()

			res, err := rt.session.Import(ctx, data, nil)
			if err != nil {
				return fmt.Errorf("import %s: %w", args[0], err)
			}
			if err := rt.session.Save(ctx); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			d := res.Diagnostics
			fmt.Fprintf(out, "imported %d rows\n", len(res.Rows))
			if d.DroppedRows > 0 {
				fmt.Fprintf(out, "dropped rows: %d\n", d.DroppedRows)
			}
			if d.DroppedColumnsTotal > 0 {
				fmt.Fprintf(out, "dropped columns: %d\n", d.DroppedColumnsTotal)
			}
			if len(d.MissingOptional) > 0 {
				fmt.Fprintf(out, "missing optional columns: %s\n", strings.Join(d.MissingOptional, ", "))
			}
			if d.MissingOnset {
				fmt.Fprintln(out, "symptom onset column not found")
			}
			if d.PatientColumnDefaulted {
				fmt.Fprintln(out, "patient flag column defaulted")
			}
			fmt.Fprintf(out, "validation errors: %d\n", rt.session.Validation().Count())

			if archive {
				key, err := archiveSource(ctx, rt, args[0], data)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "archived source: %s\n", key)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&archive, "archive", false, "copy the source workbook into the artifact store")
	return cmd
}

func archiveSource(ctx context.Context, rt *runtime, path string, data []byte) (string, error) {
	store, err := blob.Open(ctx, rt.cfg.BlobConfig())
	if err != nil {
		return "", fmt.Errorf("open artifact store: %w", err)
	}
	key := fmt.Sprintf("imports/%s/%s", uuid.NewString(), filepath.Base(path))
	info, err := store.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{
		ContentType: workbook.FormatXLSX.ContentType(),
		Metadata:    map[string]string{"owner": rt.cfg.Owner},
	})
	if err != nil {
		return "", fmt.Errorf("archive source: %w", err)
	}
	return info.Key, nil
}

func newExportCmd(flags *globalFlags) *cobra.Command {
	var (
		out     string
		format  string
		async   bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the saved grid as a workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !async && out == "" {
				return fmt.Errorf("--out is required unless --async is set")
			}
			rt, err := openRuntime(ctx, flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.close()
			if err := rt.loadSnapshot(ctx); err != nil {
				return err
			}
			if async {
				return exportToStore(ctx, cmd, rt, exports.Format(format), timeout)
			}
			data, err := rt.session.Export(ctx, workbook.Format(format))
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d rows to %s\n", len(rt.session.Dataset().Rows), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output file")
	cmd.Flags().StringVar(&format, "format", string(workbook.FormatXLSX), "output format: xlsx|tsv (json with --async)")
	cmd.Flags().BoolVar(&async, "async", false, "render through the export worker into the artifact store")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "how long to wait for an async export")
	return cmd
}

func exportToStore(ctx context.Context, cmd *cobra.Command, rt *runtime, format exports.Format, timeout time.Duration) error {
	store, err := blob.Open(ctx, rt.cfg.BlobConfig())
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}
	audit := &exports.MemoryAuditLog{}
	worker := exports.NewWorker(rt.session, store, audit)
	worker.Start()
	defer func() { _ = worker.Stop(context.Background()) }()

	record, err := worker.EnqueueExport(ctx, exports.ExportInput{
		Formats:     []exports.Format{format},
		RequestedBy: rt.cfg.Owner,
		Reason:      "cli export",
	})
	if err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	record, err = worker.Wait(waitCtx, record.ID)
	if err != nil {
		return fmt.Errorf("wait for export %s: %w", record.ID, err)
	}
	for _, e := range audit.Entries() {
		rt.log.Debug("export audit", "export", e.ExportID, "status", e.Status)
	}
	if record.Status == exports.ExportStatusFailed {
		return fmt.Errorf("export %s failed: %s", record.ID, record.Error)
	}
	w := cmd.OutOrStdout()
	for _, a := range record.Artifacts {
		fmt.Fprintf(w, "%s\t%s\t%d bytes", a.Format, a.Key, a.SizeBytes)
		if a.URL != "" {
			fmt.Fprintf(w, "\t%s", a.URL)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func newValidateCmd(flags *globalFlags) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Re-run every rule over the saved grid and list invalid cells",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.close()
			if err := rt.loadSnapshot(ctx); err != nil {
				return err
			}
			if err := rt.session.Revalidate(ctx); err != nil {
				return err
			}
			if err := rt.session.Save(ctx); err != nil {
				return err
			}
			errs := rt.session.Validation().Snapshot()
			keys := make([]string, 0, len(errs))
			for k := range errs {
				keys = append(keys, k)
			}
			sort.Slice(keys, func(i, j int) bool { return lessErrorKey(keys[i], keys[j]) })
			w := cmd.OutOrStdout()
			for _, k := range keys {
				row, col := splitErrorKey(k)
				fmt.Fprintf(w, "row %s\t%s\t%s\n", row, col, errs[k].Message)
			}
			fmt.Fprintf(w, "validation errors: %d\n", len(errs))
			if strict && len(errs) > 0 {
				return fmt.Errorf("%d invalid cells", len(errs))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any cell is invalid")
	return cmd
}

// splitErrorKey separates "{row}_{columnKey}".
func splitErrorKey(k string) (string, string) {
	row, col, _ := strings.Cut(k, "_")
	return row, col
}

func lessErrorKey(a, b string) bool {
	ra, ca := splitErrorKey(a)
	rb, cb := splitErrorKey(b)
	ia, errA := strconv.Atoi(ra)
	ib, errB := strconv.Atoi(rb)
	if errA == nil && errB == nil && ia != ib {
		return ia < ib
	}
	if ra != rb {
		return ra < rb
	}
	return ca < cb
}
