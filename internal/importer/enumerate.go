package importer

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"

	"github.com/desertwitch/minixfs/internal/queue"
)

// Enumerate walks hostDir and returns one job per directory and regular
// file below it, mapped under imageDir. Symbolic links, devices and other
// special files are skipped.
func (im *Importer) Enumerate(hostDir, imageDir string) ([]*queue.Job, error) {
	info, err := im.osOps.Stat(hostDir)
	if err != nil {
		return nil, fmt.Errorf("(import-enum) %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("(import-enum) %w: %s", ErrNotDirectory, hostDir)
	}

	imageDir = path.Clean("/" + imageDir)

	var jobs []*queue.Job

	err = im.osOps.WalkDir(hostDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("Skipped unreadable path", "path", p, "err", err)

			if d != nil && d.IsDir() {
				return fs.SkipDir
			}

			return nil
		}

		rel, err := filepath.Rel(hostDir, p)
		if err != nil {
			return err //nolint:wrapcheck
		}

		if rel == "." && imageDir == "/" {
			return nil
		}

		if !d.IsDir() && !d.Type().IsRegular() {
			slog.Warn("Skipped special file", "path", p, "type", d.Type().String())

			return nil
		}

		fi, err := d.Info()
		if err != nil {
			slog.Warn("Skipped unreadable path", "path", p, "err", err)

			return nil
		}

		jobs = append(jobs, &queue.Job{
			HostPath:  p,
			ImagePath: path.Join(imageDir, filepath.ToSlash(rel)),
			Dir:       d.IsDir(),
			Mode:      uint16(fi.Mode().Perm()),
			Size:      fi.Size(),
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("(import-enum) %w", err)
	}

	slog.Debug("Enumerated host directory", "path", hostDir, "jobs", len(jobs))

	return jobs, nil
}
