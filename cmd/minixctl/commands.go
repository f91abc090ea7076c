package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strconv"
	"text/tabwriter"

	"github.com/desertwitch/minixfs/internal/configuration"
	"github.com/desertwitch/minixfs/internal/device"
	"github.com/desertwitch/minixfs/internal/importer"
	"github.com/desertwitch/minixfs/internal/layout"
	"github.com/desertwitch/minixfs/internal/mkfs"
	"github.com/desertwitch/minixfs/internal/schema"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
)

var (
	errUsage = errors.New("wrong number of arguments")
	errIsDir = errors.New("is a directory (use import)")
)

func commands(logs *SlogManager) []*cli.Command {
	modeFlag := &cli.StringFlag{
		Name:  "mode",
		Value: "0777",
		Usage: "octal permission bits before the umask",
	}

	return []*cli.Command{
		{
			Name:      "mkfs",
			Usage:     "create an empty filesystem on the image",
			ArgsUsage: " ",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "blocks", Usage: "filesystem size in 1 KiB blocks (default: image size)"},
				&cli.IntFlag{Name: "inodes", Usage: "number of inodes (default: a third of the blocks)"},
			},
			Action: cmdMkfs,
		},
		{
			Name:      "ls",
			Usage:     "list a directory",
			ArgsUsage: "[dir]",
			Action:    cmdLs,
		},
		{
			Name:      "cat",
			Usage:     "print a file",
			ArgsUsage: "<file>",
			Action:    cmdCat,
		},
		{
			Name:      "put",
			Usage:     "copy a host file into the image",
			ArgsUsage: "<hostfile> <file>",
			Action:    cmdPut,
		},
		{
			Name:      "get",
			Usage:     "copy a file out of the image",
			ArgsUsage: "<file> <hostfile>",
			Action:    cmdGet,
		},
		{
			Name:      "mkdir",
			Usage:     "create a directory",
			ArgsUsage: "<dir>",
			Flags:     []cli.Flag{modeFlag},
			Action:    cmdMkdir,
		},
		{
			Name:      "rmdir",
			Usage:     "remove an empty directory",
			ArgsUsage: "<dir>",
			Action:    cmdRmdir,
		},
		{
			Name:      "rm",
			Usage:     "remove a directory entry",
			ArgsUsage: "<file>",
			Action:    cmdRm,
		},
		{
			Name:      "ln",
			Usage:     "create a hard link",
			ArgsUsage: "<existing> <new>",
			Action:    cmdLn,
		},
		{
			Name:      "stat",
			Usage:     "show an inode",
			ArgsUsage: "<path>",
			Action:    cmdStat,
		},
		{
			Name:   "df",
			Usage:  "show zone, inode and cache usage",
			Action: cmdDf,
		},
		{
			Name:      "digest",
			Usage:     "print the BLAKE3 digest of files in the image",
			ArgsUsage: "<file>...",
			Action:    cmdDigest,
		},
		{
			Name:   "env",
			Usage:  "print the effective configuration as a dotenv file",
			Action: cmdEnv,
		},
		importCommand(logs),
	}
}

func args(c *cli.Context, lo, hi int) error {
	if n := c.NArg(); n < lo || n > hi {
		return fmt.Errorf("%s: %w", c.Command.Name, errUsage)
	}

	return nil
}

func cmdMkfs(c *cli.Context) error {
	if err := args(c, 0, 0); err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Image == "" {
		return errNoImage
	}

	blocks := c.Int("blocks")
	if blocks < 0 || blocks > mkfs.MaxBlocks {
		return fmt.Errorf("%w: blocks %d", configuration.ErrInvalidValue, blocks)
	}

	disk, err := device.OpenFileDisk(&schema.OS{}, &schema.Unix{}, cfg.Image, int64(blocks)*layout.BlockSize, true)
	if err != nil {
		return err
	}
	defer disk.Close()

	sb, err := mkfs.Format(c.Context, disk, mkfs.Options{Blocks: blocks, Inodes: c.Int("inodes")})
	if err != nil {
		return err
	}

	if err := disk.Sync(); err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "%s: %d blocks, %d inodes (%s)\n",
		cfg.Image, sb.Zones, sb.Inodes, humanize.IBytes(uint64(sb.Zones)*layout.BlockSize))

	return nil
}

func cmdLs(c *cli.Context) error {
	if err := args(c, 0, 1); err != nil {
		return err
	}

	dir := c.Args().First()
	if dir == "" {
		dir = "."
	}

	return withSession(c, func(s *session) error {
		entries, err := s.k.ReadDir(s.task, dir)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(c.App.Writer, 0, 0, 1, ' ', tabwriter.AlignRight)
		for _, e := range entries {
			st, err := s.k.Stat(s.task, path.Join(dir, e.Name))
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\t%s\t %s\n",
				e.Inode, fileMode(st.Mode), st.Nlinks, st.UID, st.GID, st.Size,
				st.MTime.Format("Jan _2 15:04"), e.Name)
		}

		return tw.Flush()
	})
}

func cmdCat(c *cli.Context) error {
	if err := args(c, 1, 1); err != nil {
		return err
	}

	return withSession(c, func(s *session) error {
		f, err := s.k.Open(s.task, c.Args().First(), os.O_RDONLY, 0)
		if err != nil {
			return err
		}
		defer s.k.Close(f) //nolint:errcheck

		_, err = io.Copy(c.App.Writer, s.k.Reader(f))

		return err
	})
}

func cmdPut(c *cli.Context) error {
	if err := args(c, 2, 2); err != nil {
		return err
	}

	host, info, err := openSource(&schema.OS{}, c.Args().Get(0))
	if err != nil {
		return err
	}
	defer host.Close()

	return withSession(c, func(s *session) error {
		f, err := s.k.Open(s.task, c.Args().Get(1), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, uint16(info.Mode().Perm()))
		if err != nil {
			return err
		}

		n, err := io.Copy(s.k.Writer(f), host)
		if cerr := s.k.Close(f); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(c.App.Writer, "%s: %s written\n", c.Args().Get(1), humanize.IBytes(uint64(n)))

		return nil
	})
}

func cmdGet(c *cli.Context) error {
	if err := args(c, 2, 2); err != nil {
		return err
	}

	return withSession(c, func(s *session) error {
		f, err := s.k.Open(s.task, c.Args().Get(0), os.O_RDONLY, 0)
		if err != nil {
			return err
		}
		defer s.k.Close(f) //nolint:errcheck

		st, err := s.k.Fstat(f)
		if err != nil {
			return err
		}

		host, err := createTarget(&schema.OS{}, c.Args().Get(1), st.Mode)
		if err != nil {
			return err
		}

		_, err = io.Copy(host, s.k.Reader(f))
		if cerr := host.Close(); err == nil {
			err = cerr
		}

		return err
	})
}

// hostFS is the part of [schema.OS] the copy commands use on the host side.
type hostFS interface {
	Open(name string) (*os.File, error)
	OpenFile(name string, flag int, perm os.FileMode) (*os.File, error)
}

// openSource opens a regular host file for copying into the image.
func openSource(osOps hostFS, name string) (*os.File, os.FileInfo, error) {
	host, err := osOps.Open(name)
	if err != nil {
		return nil, nil, err
	}

	info, err := host.Stat()
	if err != nil {
		host.Close()

		return nil, nil, err
	}
	if info.IsDir() {
		host.Close()

		return nil, nil, fmt.Errorf("%s: %w", info.Name(), errIsDir)
	}

	return host, info, nil
}

// createTarget creates or truncates a host file, keeping the permission
// bits of the image inode it is copied from.
func createTarget(osOps hostFS, name string, mode uint16) (*os.File, error) {
	return osOps.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fs.FileMode(mode&layout.PermMask))
}

func cmdMkdir(c *cli.Context) error {
	if err := args(c, 1, 1); err != nil {
		return err
	}

	mode, err := strconv.ParseUint(c.String("mode"), 8, 16)
	if err != nil {
		return fmt.Errorf("%w: mode %q", configuration.ErrInvalidValue, c.String("mode"))
	}

	return withSession(c, func(s *session) error {
		return s.k.Mkdir(s.task, c.Args().First(), uint16(mode))
	})
}

func cmdRmdir(c *cli.Context) error {
	if err := args(c, 1, 1); err != nil {
		return err
	}

	return withSession(c, func(s *session) error {
		return s.k.Rmdir(s.task, c.Args().First())
	})
}

func cmdRm(c *cli.Context) error {
	if err := args(c, 1, 1); err != nil {
		return err
	}

	return withSession(c, func(s *session) error {
		return s.k.Unlink(s.task, c.Args().First())
	})
}

func cmdLn(c *cli.Context) error {
	if err := args(c, 2, 2); err != nil {
		return err
	}

	return withSession(c, func(s *session) error {
		return s.k.Link(s.task, c.Args().Get(0), c.Args().Get(1))
	})
}

func cmdStat(c *cli.Context) error {
	if err := args(c, 1, 1); err != nil {
		return err
	}

	return withSession(c, func(s *session) error {
		st, err := s.k.Stat(s.task, c.Args().First())
		if err != nil {
			return err
		}

		w := c.App.Writer
		fmt.Fprintf(w, "  File: %s\n", c.Args().First())
		fmt.Fprintf(w, "  Size: %d (%s)\tLinks: %d\n", st.Size, humanize.IBytes(uint64(st.Size)), st.Nlinks)
		fmt.Fprintf(w, "Device: %d\tInode: %d\n", st.Dev, st.Inode)
		fmt.Fprintf(w, "Access: (%04o/%s)\tUid: %d\tGid: %d\n", st.Mode&^layout.IFMT, fileMode(st.Mode), st.UID, st.GID)
		fmt.Fprintf(w, "Modify: %s (%s)\n", st.MTime.Format("2006-01-02 15:04:05 -0700"), humanize.Time(st.MTime))
		fmt.Fprintf(w, " Zones: %v\n", st.Zones)

		return nil
	})
}

func cmdDf(c *cli.Context) error {
	if err := args(c, 0, 0); err != nil {
		return err
	}

	return withSession(c, func(s *session) error {
		st, err := s.k.StatFS()
		if err != nil {
			return err
		}

		usedZones := st.Zones - st.FreeZones
		usedInodes := st.Inodes - st.FreeInodes

		w := c.App.Writer
		fmt.Fprintf(w, "zones:  %d/%d used, %s free of %s\n", usedZones, st.Zones,
			humanize.IBytes(uint64(st.FreeZones*st.BlockSize)), humanize.IBytes(uint64(st.Zones*st.BlockSize)))
		fmt.Fprintf(w, "inodes: %d/%d used, %d free\n", usedInodes, st.Inodes, st.FreeInodes)
		fmt.Fprintf(w, "cache:  %d buffers, %d hits, %d misses, %d writes\n",
			st.Cache.Capacity, st.Cache.Hits, st.Cache.Misses, st.Cache.Writes)

		return nil
	})
}

func cmdDigest(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("%s: %w", c.Command.Name, errUsage)
	}

	return withSession(c, func(s *session) error {
		for _, p := range c.Args().Slice() {
			sum, n, err := importer.SumImage(c.Context, s.k, s.task, p)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%s  %s  %s\n", importer.Hex(sum), humanize.IBytes(uint64(n)), p)
		}

		return nil
	})
}

func cmdEnv(c *cli.Context) error {
	if err := args(c, 0, 0); err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	out, err := configuration.Marshal(cfg)
	if err != nil {
		return err
	}

	_, err = io.WriteString(c.App.Writer, out)

	return err
}

// fileMode converts an inode mode to an [fs.FileMode] for display.
func fileMode(mode uint16) fs.FileMode {
	m := fs.FileMode(mode & layout.PermMask)

	switch mode & layout.IFMT {
	case layout.IFDIR:
		m |= fs.ModeDir
	case layout.IFCHR:
		m |= fs.ModeDevice | fs.ModeCharDevice
	case layout.IFBLK:
		m |= fs.ModeDevice
	case layout.IFIFO:
		m |= fs.ModeNamedPipe
	}

	if mode&layout.ISUID != 0 {
		m |= fs.ModeSetuid
	}
	if mode&layout.ISGID != 0 {
		m |= fs.ModeSetgid
	}
	if mode&layout.ISVTX != 0 {
		m |= fs.ModeSticky
	}

	return m
}
