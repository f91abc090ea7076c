// Package importer copies a host directory tree into a filesystem image
// through the kernel and verifies every copied file by reading it back.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/desertwitch/minixfs/internal/kernel"
	"github.com/desertwitch/minixfs/internal/namei"
	"github.com/desertwitch/minixfs/internal/queue"
	"golang.org/x/sync/errgroup"
)

type osProvider interface {
	Open(name string) (*os.File, error)
	Stat(name string) (os.FileInfo, error)
	WalkDir(root string, fn fs.WalkDirFunc) error
}

// Importer copies host files into an image as one task.
type Importer struct {
	osOps osProvider
	k     *kernel.Kernel
	task  *kernel.Task

	// Workers is how many files are copied or verified at once.
	Workers int

	// ASCIINames transliterates imported names to lowercase ASCII.
	ASCIINames bool
}

// New returns a pointer to a new [Importer].
func New(osOps osProvider, k *kernel.Kernel, task *kernel.Task, workers int) *Importer {
	return &Importer{
		osOps:   osOps,
		k:       k,
		task:    task,
		Workers: max(workers, 1),
	}
}

// Prepare enumerates hostDir, filters the jobs and queues them on m.
func (im *Importer) Prepare(m *queue.Manager, hostDir, imageDir string) error {
	jobs, err := im.Enumerate(hostDir, imageDir)
	if err != nil {
		return err
	}

	jobs, ok := NewPipeline(imageDir, im.ASCIINames).Run(jobs)
	if !ok {
		return fmt.Errorf("(import-prepare) %w", ErrFiltered)
	}

	m.Enqueue(jobs...)

	return nil
}

// Run creates the queued directories in order, copies the queued files
// concurrently and then verifies every copied file. It returns an error if
// ctx ends, any item failed or a verification did not match.
func (im *Importer) Run(ctx context.Context, m *queue.Manager) error {
	if err := m.Directories.Process(ctx, im.mkdir); err != nil {
		return fmt.Errorf("(import-run) %w", err)
	}

	if err := m.Files.ProcessConc(ctx, im.Workers, func(job *queue.Job) queue.Decision {
		return im.copy(ctx, m.Files, job)
	}); err != nil {
		return fmt.Errorf("(import-run) %w", err)
	}

	m.Verify.Enqueue(m.Files.Successful()...)

	if err := im.verifyAll(ctx, m.Verify); err != nil {
		return fmt.Errorf("(import-run) %w", err)
	}

	failed := len(m.Directories.Failed()) + len(m.Files.Failed())
	if failed > 0 {
		return fmt.Errorf("(import-run) %d items failed", failed)
	}

	slog.Info("Import complete", "dirs", len(m.Directories.Successful()), "files", len(m.Files.Successful()))

	return nil
}

func (im *Importer) mkdir(job *queue.Job) queue.Decision {
	err := im.k.Mkdir(im.task, job.ImagePath, job.Mode)
	if err == nil {
		slog.Debug("Created directory", "image", job.ImagePath)

		return queue.DecisionSuccess
	}

	if errors.Is(err, namei.ErrExists) {
		if st, serr := im.k.Stat(im.task, job.ImagePath); serr == nil && st.IsDir() {
			return queue.DecisionSkipped
		}
	}

	slog.Error("Failed to create directory", "image", job.ImagePath, "err", err)

	return queue.DecisionFailed
}

func (im *Importer) copy(ctx context.Context, q *queue.Queue[*queue.Job], job *queue.Job) queue.Decision {
	if err := im.copyFile(ctx, q, job); err != nil {
		slog.Error("Failed to copy file", "path", job.HostPath, "image", job.ImagePath, "err", err)

		return queue.DecisionFailed
	}

	slog.Debug("Copied file", "path", job.HostPath, "image", job.ImagePath, "size", job.Size)

	return queue.DecisionSuccess
}

func (im *Importer) copyFile(ctx context.Context, q *queue.Queue[*queue.Job], job *queue.Job) error {
	src, err := im.osOps.Open(job.HostPath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	dst, err := im.k.Open(im.task, job.ImagePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, job.Mode)
	if err != nil {
		return fmt.Errorf("failed to open image file: %w", err)
	}

	sum, n, err := Sum(ctx, io.TeeReader(src, im.k.Writer(dst)))
	q.AddBytes(uint64(max(n, 0)))

	if cerr := im.k.Close(dst); cerr != nil && err == nil {
		err = cerr
	}

	if err != nil {
		return fmt.Errorf("failed to copy file: %w", err)
	}

	job.Digest = sum
	job.Size = n

	return nil
}

func (im *Importer) verifyAll(ctx context.Context, q *queue.Queue[*queue.Job]) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.Workers)

	for gctx.Err() == nil {
		job, ok := q.Dequeue()
		if !ok {
			break
		}

		g.Go(func() error {
			err := im.verify(gctx, q, job)
			if err != nil {
				q.Settle(job, queue.DecisionFailed)

				return err
			}

			q.Settle(job, queue.DecisionSuccess)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err //nolint:wrapcheck
	}

	return ctx.Err() //nolint:wrapcheck
}

func (im *Importer) verify(ctx context.Context, q *queue.Queue[*queue.Job], job *queue.Job) error {
	sum, n, err := SumImage(ctx, im.k, im.task, job.ImagePath)
	q.AddBytes(uint64(max(n, 0)))

	if err != nil {
		return fmt.Errorf("(import-verify) %s: %w", job.ImagePath, err)
	}

	if sum != job.Digest || n != job.Size {
		return fmt.Errorf("(import-verify) %w: %s: %s (host) != %s (image)",
			ErrDigestMismatch, job.ImagePath, Hex(job.Digest), Hex(sum))
	}

	return nil
}
