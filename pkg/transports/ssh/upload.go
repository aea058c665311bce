package ssh

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/sync/errgroup"
)

// TransferResult summarizes an upload.
type TransferResult struct {
	Files    int
	Bytes    int64
	Duration time.Duration
}

type transfer struct {
	local, remote string
	mode          fs.FileMode
}

// Upload copies the file or directory tree at local to remote. Files are
// sent in parallel, up to Config.Parallelism at a time, and keep their
// permission bits.
func (c *Client) Upload(ctx context.Context, local, remote string) (*TransferResult, error) {
	start := time.Now()

	conn, err := c.client("upload")
	if err != nil {
		return nil, err
	}
	sc, err := sftp.NewClient(conn)
	if err != nil {
		return nil, &TransportError{Op: "sftp", Kind: KindRemote, Err: err}
	}
	defer sc.Close()

	transfers, err := plan(sc, local, remote)
	if err != nil {
		return nil, &TransportError{Op: "upload", Kind: KindRemote, Err: err}
	}

	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Parallelism)
	for _, t := range transfers {
		g.Go(func() error {
			n, err := c.send(gctx, sc, t)
			total.Add(n)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &TransferResult{Files: len(transfers), Bytes: total.Load(), Duration: time.Since(start)}
	c.logger.Info().Str("remote", remote).Int("files", res.Files).Int64("bytes", res.Bytes).
		Dur("duration", res.Duration).Msg("upload finished")
	return res, nil
}

// plan lists the files under local and creates the remote directories.
func plan(sc *sftp.Client, local, remote string) ([]transfer, error) {
	info, err := os.Stat(local)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []transfer{{local: local, remote: remote, mode: info.Mode().Perm()}}, nil
	}

	var out []transfer
	err = filepath.WalkDir(local, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(local, p)
		if err != nil {
			return err
		}
		target := path.Join(remote, filepath.ToSlash(rel))
		if d.IsDir() {
			return sc.MkdirAll(target)
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, transfer{local: p, remote: target, mode: fi.Mode().Perm()})
		return nil
	})
	return out, err
}

func (c *Client) send(ctx context.Context, sc *sftp.Client, t transfer) (int64, error) {
	src, err := os.Open(t.local)
	if err != nil {
		return 0, &TransportError{Op: "upload", Kind: KindConfig, Err: err}
	}
	defer src.Close()

	if err := sc.MkdirAll(path.Dir(t.remote)); err != nil {
		return 0, &TransportError{Op: "upload", Kind: KindRemote, Err: err}
	}
	dst, err := sc.Create(t.remote)
	if err != nil {
		return 0, &TransportError{Op: "upload", Kind: KindRemote, Err: err}
	}
	defer dst.Close()

	n, err := io.Copy(dst, ctxReader{ctx: ctx, r: src})
	if err != nil {
		return n, &TransportError{Op: "upload", Kind: KindNetwork, Err: err}
	}
	if err := sc.Chmod(t.remote, t.mode); err != nil {
		c.logger.Warn().Err(err).Str("remote", t.remote).Msg("chmod failed")
	}
	return n, nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
