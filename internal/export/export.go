// Package export copies every file below a store folder into a Sink: a
// local directory or an S3 bucket.
package export

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fruitsalade/storeclient/internal/logging"
	"github.com/fruitsalade/storeclient/internal/metrics"
	"github.com/fruitsalade/storeclient/pkg/models"
	"github.com/fruitsalade/storeclient/pkg/tree"
)

// DefaultWorkers is the number of concurrent downloads.
const DefaultWorkers = 4

// Sink receives exported files. Keys are slash-separated paths relative to
// the exported folder.
type Sink interface {
	Name() string
	MkdirAll(ctx context.Context, key string) error
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Source is the part of the store client used by Export.
type Source interface {
	tree.Lister
	GetNode(ctx context.Context, id string) (*models.Node, error)
	Content(ctx context.Context, id string, download bool) (*http.Response, error)
}

// Options tune an export. Progress is logged through the logger carried by
// the context (see logging.WithLogger).
type Options struct {
	Workers      int
	SkipExisting bool
}

// Failure records a file that could not be exported.
type Failure struct {
	Path string
	Err  error
}

// Result summarises an export.
type Result struct {
	Folders int
	Files   int
	Skipped int
	Bytes   int64
	Failed  []Failure
}

// Export downloads every file below folder rootID into sink. A failing file
// is recorded in Result.Failed and the export continues; listing errors and
// cancellation stop it.
func Export(ctx context.Context, src Source, rootID string, sink Sink, opts Options) (*Result, error) {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	log := logging.WithContext(ctx, zap.NewNop()).With(
		zap.String("sink", sink.Name()),
		zap.String("root", rootID))

	root, err := src.GetNode(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	if !root.IsFolder {
		return nil, fmt.Errorf("export: %s is not a folder", rootID)
	}

	var (
		mu  sync.Mutex
		res = &Result{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	walkErr := tree.Walk(gctx, src, root, func(path string, n *models.Node) error {
		key := strings.TrimPrefix(path, "/")
		if n.IsFolder {
			if key == "" {
				return nil
			}
			mu.Lock()
			res.Folders++
			mu.Unlock()
			return sink.MkdirAll(gctx, key)
		}

		g.Go(func() error {
			written, skipped, err := exportFile(gctx, src, sink, key, n, opts.SkipExisting)
			metrics.RecordExport(sink.Name(), err == nil)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				log.Warn("export file failed", zap.String("path", path), zap.Error(err))
				res.Failed = append(res.Failed, Failure{Path: path, Err: err})
			case skipped:
				res.Skipped++
			default:
				log.Debug("exported file", zap.String("path", path), zap.Int64("bytes", written))
				res.Files++
				res.Bytes += written
			}
			return gctx.Err()
		})
		return nil
	})

	waitErr := g.Wait()
	if walkErr != nil {
		return res, fmt.Errorf("export: %w", walkErr)
	}
	if waitErr != nil {
		return res, fmt.Errorf("export: %w", waitErr)
	}
	log.Info("export finished",
		zap.Int("files", res.Files),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", len(res.Failed)),
		zap.Int64("bytes", res.Bytes))
	return res, nil
}

func exportFile(ctx context.Context, src Source, sink Sink, key string, n *models.Node, skipExisting bool) (int64, bool, error) {
	if skipExisting {
		ok, err := sink.Exists(ctx, key)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return 0, true, nil
		}
	}

	resp, err := src.Content(ctx, n.ID, true)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()

	counter := &countingReader{r: resp.Body}
	contentType := n.MimetypeOr(resp.Header.Get("Content-Type"))
	if err := sink.Put(ctx, key, counter, resp.ContentLength, contentType); err != nil {
		return 0, false, err
	}
	return counter.n, false, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
