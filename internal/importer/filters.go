package importer

import (
	"cmp"
	"log/slog"
	"path"
	"slices"
	"strings"

	"github.com/desertwitch/minixfs/internal/layout"
	"github.com/desertwitch/minixfs/internal/processors"
	"github.com/desertwitch/minixfs/internal/queue"
	"github.com/gosimple/slug"
)

// NewPipeline returns the filters every enumerated job passes before it is
// queued. With ascii set, the names below imageDir are first transliterated
// to lowercase ASCII.
func NewPipeline(imageDir string, ascii bool) *processors.Pipeline[*queue.Job] {
	p := &processors.Pipeline[*queue.Job]{}

	if ascii {
		p.AddBatch(asciiNames(imageDir))
	}

	p.AddBatch(truncateNames).
		AddBatch(dropCollisions).
		AddBatch(parentsFirst).
		Add(fitsFile)

	return p
}

// asciiNames returns a filter rewriting every path component below
// imageDir with [slug.Make], keeping file extensions.
func asciiNames(imageDir string) processors.BatchFilter[*queue.Job] {
	prefix := 0
	if clean := path.Clean("/" + imageDir); clean != "/" {
		prefix = strings.Count(clean, "/")
	}

	return func(jobs []*queue.Job) ([]*queue.Job, bool) {
		for _, job := range jobs {
			parts := strings.Split(job.ImagePath, "/")

			for i := prefix + 1; i < len(parts); i++ {
				parts[i] = asciiName(parts[i])
			}

			job.ImagePath = strings.Join(parts, "/")
		}

		return jobs, true
	}
}

func asciiName(name string) string {
	ext := path.Ext(name)
	base := slug.Make(strings.TrimSuffix(name, ext))

	if ext != "" {
		if e := slug.Make(ext[1:]); e != "" {
			base += "." + e
		}
	}

	if base == "" || base[0] == '.' {
		return name
	}

	return base
}

// truncateNames cuts every path component to what a directory entry holds.
func truncateNames(jobs []*queue.Job) ([]*queue.Job, bool) {
	for _, job := range jobs {
		parts := strings.Split(job.ImagePath, "/")
		cut := false

		for i, part := range parts {
			if len(part) > layout.NameLen {
				parts[i] = part[:layout.NameLen]
				cut = true
			}
		}

		if cut {
			short := strings.Join(parts, "/")
			slog.Warn("Truncated long name", "path", job.HostPath, "image", short)
			job.ImagePath = short
		}
	}

	return jobs, true
}

// dropCollisions keeps the first job of every image path.
func dropCollisions(jobs []*queue.Job) ([]*queue.Job, bool) {
	seen := make(map[string]struct{}, len(jobs))
	kept := jobs[:0]

	for _, job := range jobs {
		if _, ok := seen[job.ImagePath]; ok {
			slog.Warn("Skipped colliding name", "path", job.HostPath, "image", job.ImagePath)

			continue
		}

		seen[job.ImagePath] = struct{}{}
		kept = append(kept, job)
	}

	return kept, true
}

// parentsFirst orders jobs so that every directory precedes its contents.
func parentsFirst(jobs []*queue.Job) ([]*queue.Job, bool) {
	slices.SortStableFunc(jobs, func(a, b *queue.Job) int {
		da := strings.Count(path.Clean(a.ImagePath), "/")
		db := strings.Count(path.Clean(b.ImagePath), "/")

		return cmp.Or(cmp.Compare(da, db), cmp.Compare(a.ImagePath, b.ImagePath))
	})

	return jobs, true
}

// fitsFile drops files larger than the largest file an image can hold.
func fitsFile(job *queue.Job) bool {
	if !job.Dir && job.Size > layout.MaxFileSize {
		slog.Warn("Skipped file too large for the image", "path", job.HostPath, "size", job.Size)

		return false
	}

	return true
}
