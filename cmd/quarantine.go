package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-mirror/pkg/config"
	"github.com/paulschiretz/pgl-mirror/pkg/hints"
	"github.com/paulschiretz/pgl-mirror/pkg/pathcompression"
	"github.com/paulschiretz/pgl-mirror/pkg/pathsync"
	"github.com/paulschiretz/pgl-mirror/pkg/planner"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/quarantine"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

func newQuarantineCmd(a *app) *cobra.Command {
	qCmd := &cobra.Command{
		Use:   "quarantine",
		Short: "Inspect, purge, restore and export quarantined files",
	}

	listCmd := &cobra.Command{
		Use:   "list <job>",
		Short: "List quarantined files of a job, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunQuarantineList(cmd.Context(), a.cfg, args[0], cmd.OutOrStdout())
		},
	}

	var purgeRoot string
	purgeCmd := &cobra.Command{
		Use:   "purge <job> | --root <dir>",
		Short: "Erase quarantined files older than the grace period",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case purgeRoot != "" && len(args) == 0:
				return RunQuarantinePurgeRoot(cmd.Context(), a.cfg, purgeRoot)
			case purgeRoot == "" && len(args) == 1:
				return RunQuarantinePurge(cmd.Context(), a.cfg, args[0])
			default:
				return fmt.Errorf("specify either a job name or --root")
			}
		},
	}
	purgeCmd.Flags().StringVar(&purgeRoot, "root", "", "Purge this quarantine directory instead of a job's")

	var overwrite bool
	restoreCmd := &cobra.Command{
		Use:   "restore <job> <path>",
		Short: "Move the newest quarantined copy of a path back to where it was deleted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunQuarantineRestore(cmd.Context(), a.cfg, args[0], args[1], overwrite)
		},
	}
	restoreCmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace a file that exists at the original path")

	var output, format, level string
	exportCmd := &cobra.Command{
		Use:   "export <job>",
		Short: "Pack a job's quarantine into a single archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := pathcompression.ParseFormat(format)
			if err != nil {
				return err
			}
			l, err := pathcompression.ParseLevel(level)
			if err != nil {
				return err
			}
			return RunQuarantineExport(cmd.Context(), a.cfg, args[0], output, f, l)
		},
	}
	exportCmd.Flags().StringVarP(&output, "output", "o", "", "Archive path (default ./<job>-quarantine-<timestamp>.<format>)")
	exportCmd.Flags().StringVar(&format, "format", pathcompression.TarZst.String(), "Archive format: 'tar.gz' or 'tar.zst'")
	exportCmd.Flags().StringVar(&level, "level", pathcompression.Default.String(), "Compression level: 'default', 'fastest', 'better' or 'best'")

	qCmd.AddCommand(listCmd, purgeCmd, restoreCmd, exportCmd)
	return qCmd
}

func quarantineRootOf(cfg config.Config, jobName string) (string, error) {
	job, err := cfg.Job(jobName)
	if err != nil {
		return "", err
	}
	return planner.QuarantineRootFor(job)
}

// RunQuarantineList prints the quarantine entries of a job.
func RunQuarantineList(ctx context.Context, cfg config.Config, jobName string, w io.Writer) error {
	root, err := quarantineRootOf(cfg, jobName)
	if err != nil {
		return err
	}
	entries, err := quarantine.List(ctx, root)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintf(w, "Quarantine of %s is empty (%s).\n", jobName, root)
		return nil
	}

	now := time.Now()
	grace := time.Duration(cfg.Quarantine.GracePeriodDays) * 24 * time.Hour
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DELETED\tDIRECTION\tSIZE\tPURGE\tPATH")
	for _, e := range entries {
		purgeIn := "due"
		if remaining := grace - e.Age(now); remaining > 0 {
			purgeIn = humanize.RelTime(now.Add(remaining), now, "ago", "from now")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			humanize.Time(e.SidecarModTime),
			e.Meta.Direction,
			humanize.IBytes(uint64(e.Meta.OriginalSize)),
			purgeIn,
			e.Meta.OriginalRelPath,
		)
	}
	return tw.Flush()
}

// RunQuarantinePurge erases the expired entries of a job's quarantine.
func RunQuarantinePurge(ctx context.Context, cfg config.Config, jobName string) error {
	root, err := quarantineRootOf(cfg, jobName)
	if err != nil {
		return err
	}
	return purgeQuarantineRoot(ctx, cfg, root, "job", jobName)
}

// RunQuarantinePurgeRoot erases the expired entries of any quarantine
// directory, whether or not a registered job owns it.
func RunQuarantinePurgeRoot(ctx context.Context, cfg config.Config, root string) error {
	absRoot, err := util.ExpandedAbsPath(root)
	if err != nil {
		return err
	}
	return purgeQuarantineRoot(ctx, cfg, absRoot)
}

func purgeQuarantineRoot(ctx context.Context, cfg config.Config, root string, logArgs ...any) error {
	graceDays := cfg.Quarantine.GracePeriodDays
	logArgs = append(logArgs, "root", root)

	if cfg.Runtime.DryRun {
		entries, err := quarantine.List(ctx, root)
		if err != nil {
			return err
		}
		cutoff := time.Duration(graceDays) * 24 * time.Hour
		for _, e := range entries {
			if e.Age(time.Now()) > cutoff {
				plog.Notice("[DRY RUN] PURGE", "path", e.DataPath)
			}
		}
		return nil
	}

	purged, err := quarantine.Purge(ctx, root, graceDays)
	if err != nil {
		if hints.Is(err, quarantine.ErrNothingToPurge) {
			plog.Info("Nothing to purge", logArgs...)
			return nil
		}
		return err
	}
	plog.Info("Quarantine purged", append(logArgs, "removed", purged, "grace_days", graceDays)...)
	return nil
}

// RunQuarantineRestore moves the most recently quarantined copy of relPath
// back to its original location.
func RunQuarantineRestore(ctx context.Context, cfg config.Config, jobName, relPath string, overwrite bool) error {
	root, err := quarantineRootOf(cfg, jobName)
	if err != nil {
		return err
	}
	entries, err := quarantine.List(ctx, root)
	if err != nil {
		return err
	}

	relKey := util.NormalizePath(relPath)
	var match *quarantine.Entry
	for i := range entries {
		if entries[i].Meta.OriginalRelPath == relKey {
			match = &entries[i] // oldest first, so the last match is the newest
		}
	}
	if match == nil {
		return fmt.Errorf("no quarantined copy of %s in job %s", relKey, jobName)
	}

	if cfg.Runtime.DryRun {
		plog.Notice("[DRY RUN] RESTORE", "path", match.Meta.OriginalPath, "from", match.DataPath)
		return nil
	}

	copier := pathsync.NewCopier(cfg.Sync.RetryCount, time.Duration(cfg.Sync.RetryWaitSeconds)*time.Second)
	return quarantine.NewManager(root, jobName, copier).Restore(ctx, *match, overwrite)
}

// RunQuarantineExport writes a job's whole quarantine into one archive.
func RunQuarantineExport(ctx context.Context, cfg config.Config, jobName, output string, format pathcompression.Format, level pathcompression.Level) error {
	root, err := quarantineRootOf(cfg, jobName)
	if err != nil {
		return err
	}
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return fmt.Errorf("quarantine of %s does not exist: %s", jobName, root)
	}

	if output == "" {
		output = fmt.Sprintf("%s-quarantine-%s%s", jobName, time.Now().Format("20060102_150405"), format.Extension())
	}
	if output, err = util.ExpandedAbsPath(output); err != nil {
		return err
	}
	if filepath.Ext(output) == "" {
		output += format.Extension()
	}

	res, err := pathcompression.NewExporter(pathsync.DefaultBufferSize, cfg.Runtime.DryRun).Export(ctx, root, output, format, level)
	if err != nil {
		return err
	}
	plog.Info("Quarantine exported", "job", jobName, "archive", output, "files", res.Files, "size", humanize.IBytes(uint64(res.Bytes)))
	return nil
}
