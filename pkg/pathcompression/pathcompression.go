// Package pathcompression packs a directory tree into a single tar archive,
// compressed with parallel gzip or zstd. It backs the quarantine export.
package pathcompression

import (
	"archive/tar"
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/pool"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// ExportResult summarizes a written archive.
type ExportResult struct {
	Files int
	Bytes int64
}

type Exporter struct {
	ioBufferPool *pool.FixedBufferPool
	ioBufferSize int64
	dryRun       bool
}

// NewExporter creates an Exporter that copies file content through buffers of
// bufferSize bytes. With dryRun set, Export only counts what it would write.
func NewExporter(bufferSize int64, dryRun bool) *Exporter {
	return &Exporter{
		ioBufferPool: pool.NewFixedBuffer(bufferSize),
		ioBufferSize: bufferSize,
		dryRun:       dryRun,
	}
}

// Export writes every regular file and directory below absSourcePath into a
// new archive at absArchiveFilePath. Entry names are relative to the source
// and use forward slashes. The archive appears atomically or not at all.
func (e *Exporter) Export(ctx context.Context, absSourcePath, absArchiveFilePath string, format Format, level Level) (res ExportResult, retErr error) {
	if _, ok := formatToString[format]; !ok {
		return res, fmt.Errorf("unsupported export format: %s", format)
	}
	info, err := os.Stat(absSourcePath)
	if err != nil {
		return res, fmt.Errorf("cannot read export source: %w", err)
	}
	if !info.IsDir() {
		return res, fmt.Errorf("export source %s is not a directory", absSourcePath)
	}
	if util.IsSubPath(absSourcePath, absArchiveFilePath) {
		return res, fmt.Errorf("archive %s must not be inside the exported directory", absArchiveFilePath)
	}

	plog.Notice("EXPORT", "source", absSourcePath, "archive", absArchiveFilePath, "format", format)

	if e.dryRun {
		err := walkTree(ctx, absSourcePath, func(_ string, _ string, d fs.DirEntry, fi fs.FileInfo) error {
			if d.Type().IsRegular() {
				res.Files++
				res.Bytes += fi.Size()
			}
			return nil
		})
		plog.Notice("[DRY RUN] EXPORT", "files", res.Files)
		return res, err
	}

	if err := os.MkdirAll(filepath.Dir(absArchiveFilePath), util.UserWritableDirPerms); err != nil {
		return res, fmt.Errorf("failed to create archive directory: %w", err)
	}
	trgF, err := os.CreateTemp(filepath.Dir(absArchiveFilePath), "pgl-mirror-*.tmp")
	if err != nil {
		return res, fmt.Errorf("failed to create temp archive: %w", err)
	}
	tempTrgPath := trgF.Name()

	// Ensure cleanup on error
	defer func() {
		if retErr != nil {
			trgF.Close()
			os.Remove(tempTrgPath)
		}
	}()

	res, err = e.writeTar(ctx, trgF, absSourcePath, format, level)
	if err != nil {
		return res, err
	}
	if err := trgF.Close(); err != nil {
		return res, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tempTrgPath, absArchiveFilePath); err != nil {
		return res, fmt.Errorf("failed to rename temp archive to final path: %w", err)
	}
	return res, nil
}

func (e *Exporter) writeTar(ctx context.Context, w io.Writer, absSourcePath string, format Format, level Level) (res ExportResult, retErr error) {
	bufWriter := bufio.NewWriterSize(w, int(e.ioBufferSize))

	compressedWriter, err := newCompressedWriter(bufWriter, format, level)
	if err != nil {
		return res, err
	}
	tw := tar.NewWriter(compressedWriter)

	defer func() {
		if err := tw.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("tar writer close failed: %w", err)
		}
		if err := compressedWriter.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("compressed writer close failed: %w", err)
		}
		if err := bufWriter.Flush(); err != nil && retErr == nil {
			retErr = fmt.Errorf("buffer flush failed: %w", err)
		}
	}()

	bufPtr := e.ioBufferPool.Get()
	defer e.ioBufferPool.Put(bufPtr)

	err = walkTree(ctx, absSourcePath, func(absPath, relKey string, d fs.DirEntry, fi fs.FileInfo) error {
		header, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return fmt.Errorf("failed to create tar header for %s: %w", relKey, err)
		}
		header.Name = relKey
		if d.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write tar header for %s: %w", relKey, err)
		}
		if d.IsDir() {
			return nil
		}

		f, err := os.Open(absPath)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", absPath, err)
		}
		defer f.Close()
		n, err := io.CopyBuffer(tw, io.LimitReader(f, fi.Size()), *bufPtr)
		if err != nil {
			return fmt.Errorf("failed to write %s to archive: %w", relKey, err)
		}
		res.Files++
		res.Bytes += n
		return nil
	})
	return res, err
}

func newCompressedWriter(w io.Writer, format Format, level Level) (io.WriteCloser, error) {
	if format == TarZst {
		zstdWriter, err := zstd.NewWriter(w, zstd.WithEncoderLevel(level.zstdLevel()))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		return zstdWriter, nil
	}
	pgzipWriter, err := pgzip.NewWriterLevel(w, level.gzipLevel())
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	return pgzipWriter, nil
}

// walkTree calls fn for every directory and regular file below root, in
// lexical order, skipping root itself and anything that is not one of the two.
func walkTree(ctx context.Context, root string, fn func(absPath, relKey string, d fs.DirEntry, fi fs.FileInfo) error) error {
	return filepath.WalkDir(root, func(absPath string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			return walkErr
		}
		if absPath == root {
			return nil
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			plog.Debug("Skipping non-regular file in export", "path", absPath)
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, absPath)
		if err != nil {
			return err
		}
		return fn(absPath, util.NormalizePath(rel), d, fi)
	})
}
