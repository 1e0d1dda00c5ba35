package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/fruitsalade/storeclient/internal/export"
	"github.com/fruitsalade/storeclient/internal/logging"
	"github.com/fruitsalade/storeclient/pkg/client"
	"github.com/fruitsalade/storeclient/pkg/models"
	"github.com/fruitsalade/storeclient/pkg/retry"
	"github.com/fruitsalade/storeclient/pkg/tree"
)

// resolve turns a node argument into a node. Arguments starting with "/"
// are paths from the root; anything else is a node id.
func (a *app) resolve(ctx context.Context, arg string) (*models.Node, error) {
	if !strings.HasPrefix(arg, "/") {
		return retry.DoValue(ctx, a.retry, func(ctx context.Context) (*models.Node, error) {
			return a.client.GetNode(ctx, arg)
		})
	}
	root, err := retry.DoValue(ctx, a.retry, a.client.GetRoot)
	if err != nil {
		return nil, err
	}
	return tree.Resolve(ctx, a.client, root, arg)
}

// splitParent splits "/a/b/name" or "<id>/name" into its parent argument
// and the final name.
func splitParent(arg string) (parent, name string, err error) {
	arg = strings.TrimRight(arg, "/")
	i := strings.LastIndex(arg, "/")
	if i < 0 {
		return "", "", fmt.Errorf("expected <parent>/<name>, got %q", arg)
	}
	parent, name = arg[:i], arg[i+1:]
	if parent == "" {
		parent = "/"
	}
	if name == "" {
		return "", "", fmt.Errorf("missing name in %q", arg)
	}
	return parent, name, nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) printNodes(nodes []*models.Node) error {
	if a.jsonOut {
		return a.printJSON(nodes)
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSIZE\tMODIFIED\tNAME")
	for _, n := range nodes {
		kind, size := "file", fmt.Sprintf("%d", n.Size)
		if n.IsFolder {
			kind, size = "dir", "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", n.ID, kind, size, n.Modified.Format(time.RFC3339), n.Name)
	}
	return w.Flush()
}

func (a *app) printNode(n *models.Node) error {
	if a.jsonOut {
		return a.printJSON(n)
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", n.ID)
	fmt.Fprintf(w, "Name:\t%s\n", n.Name)
	fmt.Fprintf(w, "Parent:\t%s\n", n.Parent)
	fmt.Fprintf(w, "Type:\t%s\n", n.Type)
	if !n.IsFolder {
		fmt.Fprintf(w, "Mimetype:\t%s\n", n.MimetypeOr("-"))
		fmt.Fprintf(w, "Size:\t%d\n", n.Size)
	}
	fmt.Fprintf(w, "Created:\t%s\n", n.Created.Format(time.RFC3339))
	fmt.Fprintf(w, "Modified:\t%s\n", n.Modified.Format(time.RFC3339))
	return w.Flush()
}

func (a *app) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Query the store health probe",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := retry.DoValue(cmd.Context(), a.retry, a.client.GetHealth)
			if err != nil {
				return err
			}
			if h.JSON != nil {
				return a.printJSON(h.JSON)
			}
			fmt.Fprintln(a.out, h.Text)
			return nil
		},
	}
}

func (a *app) rootNodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "root",
		Short: "Show the root folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := retry.DoValue(cmd.Context(), a.retry, a.client.GetRoot)
			if err != nil {
				return err
			}
			return a.printNode(n)
		},
	}
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id|/path>",
		Short: "Show a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printNode(n)
		},
	}
}

func (a *app) lsCmd() *cobra.Command {
	var limit, offset int
	var all bool
	cmd := &cobra.Command{
		Use:   "ls [id|/path]",
		Short: "List the children of a folder",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			target := "/"
			if len(args) == 1 {
				target = args[0]
			}
			folder, err := a.resolve(ctx, target)
			if err != nil {
				return err
			}

			if all {
				nodes, err := tree.AllChildren(ctx, a.client, folder.ID)
				if err != nil {
					return err
				}
				return a.printNodes(nodes)
			}

			page, err := retry.DoValue(ctx, a.retry, func(ctx context.Context) (*models.Collection[*models.Node], error) {
				return a.client.ListChildren(ctx, folder.ID, limit, offset)
			})
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(page)
			}
			if err := a.printNodes(page.Values); err != nil {
				return err
			}
			if page.HasMore() {
				fmt.Fprintf(a.out, "\n%d of %d shown, next page: --offset %d\n", len(page.Values), page.Size, page.NextOffset())
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "page size (server default when 0)")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "follow pagination and list every child")
	return cmd
}

func (a *app) pathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path <id>",
		Short: "Show the ancestors of a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, err := retry.DoValue(cmd.Context(), a.retry, func(ctx context.Context) ([]*models.Node, error) {
				return a.client.GetPath(ctx, args[0])
			})
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(nodes)
			}
			fmt.Fprintln(a.out, tree.PathString(nodes))
			return nil
		},
	}
}

func (a *app) catCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "cat <id|/path>",
		Short: "Write the content of a file to stdout or a local file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			n, err := a.resolve(ctx, args[0])
			if err != nil {
				return err
			}
			resp, err := a.client.Content(ctx, n.ID, output != "")
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			var dst io.Writer = a.out
			if output != "" {
				if info, err := os.Stat(output); err == nil && info.IsDir() {
					name := client.ParseContentInfo(resp).Filename
					if name == "" {
						name = n.Name
					}
					output = filepath.Join(output, filepath.Base(name))
				}
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				dst = f
			}
			written, err := io.Copy(dst, resp.Body)
			if err != nil {
				return err
			}
			logging.WithContext(ctx, a.logger).Debug("content written", zap.String("id", n.ID), zap.Int64("bytes", written))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file or directory")
	return cmd
}

func (a *app) mkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <parent>/<name>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			parentArg, name, err := splitParent(args[0])
			if err != nil {
				return err
			}
			parent, err := a.resolve(ctx, parentArg)
			if err != nil {
				return err
			}
			loc, err := a.client.Create(ctx, parent.ID, name, nil)
			if err != nil {
				return err
			}
			a.printLocation(loc)
			return nil
		},
	}
}

func (a *app) printLocation(loc *string) {
	if loc != nil {
		fmt.Fprintln(a.out, *loc)
	}
}

func openPayload(localPath, contentType string) (*client.FilePayload, func() error, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, nil, err
	}
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(localPath))
	}
	return &client.FilePayload{
		Filename:    filepath.Base(localPath),
		ContentType: contentType,
		Reader:      f,
	}, f.Close, nil
}

func (a *app) putCmd() *cobra.Command {
	var contentType, name string
	cmd := &cobra.Command{
		Use:   "put <local-file> <parent>",
		Short: "Upload a new file into a folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			parent, err := a.resolve(ctx, args[1])
			if err != nil {
				return err
			}
			payload, closeFn, err := openPayload(args[0], contentType)
			if err != nil {
				return err
			}
			defer closeFn()
			if name == "" {
				name = payload.Filename
			}
			loc, err := a.client.Create(ctx, parent.ID, name, payload)
			if err != nil {
				return err
			}
			a.printLocation(loc)
			return nil
		},
	}
	cmd.Flags().StringVar(&contentType, "type", "", "content type (guessed from the extension when empty)")
	cmd.Flags().StringVar(&name, "name", "", "name in the store (local file name when empty)")
	return cmd
}

func (a *app) updateCmd() *cobra.Command {
	var contentType string
	cmd := &cobra.Command{
		Use:   "update <local-file> <parent>/<name>",
		Short: "Upload a new version of an existing file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			parentArg, name, err := splitParent(args[1])
			if err != nil {
				return err
			}
			parent, err := a.resolve(ctx, parentArg)
			if err != nil {
				return err
			}
			payload, closeFn, err := openPayload(args[0], contentType)
			if err != nil {
				return err
			}
			defer closeFn()
			return a.client.Update(ctx, parent.ID, name, payload)
		},
	}
	cmd.Flags().StringVar(&contentType, "type", "", "content type (guessed from the extension when empty)")
	return cmd
}

func (a *app) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <parent>/<name>",
		Short: "Delete a file or an empty folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			parentArg, name, err := splitParent(args[0])
			if err != nil {
				return err
			}
			parent, err := a.resolve(ctx, parentArg)
			if err != nil {
				return err
			}
			return a.client.Delete(ctx, parent.ID, name)
		},
	}
}

func (a *app) peersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List the neighbouring stores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := retry.DoValue(cmd.Context(), a.retry, a.client.GetNeighbours)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(list)
			}
			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tADDRESS\tFQDN")
			for _, n := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", n.ID, n.Name, n.Address, n.FQDN)
			}
			return w.Flush()
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the runtime status of the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := retry.DoValue(cmd.Context(), a.retry, a.client.GetStatus)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(st)
			}
			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Connected:\t%s\n", st.ConnectedID)
			fmt.Fprintf(w, "CPUs:\t%d\n", st.NbCPUs)
			fmt.Fprintf(w, "Memory:\t%d available / %d total / %d max\n", st.AvailableMemory, st.TotalMemory, st.MaxMemory)
			for k, v := range st.LatestMetrics {
				fmt.Fprintf(w, "%s:\t%g\n", k, v)
			}
			return w.Flush()
		},
	}
}

func (a *app) searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search the store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := strings.Join(args, " ")
			results, err := retry.DoValue(cmd.Context(), a.retry, func(ctx context.Context) ([]models.SearchResult, error) {
				return a.client.Search(ctx, q)
			})
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(results)
			}
			if len(results) == 0 {
				fmt.Fprintln(a.out, "no results")
				return nil
			}
			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tIDENTIFIER\tEXPLAIN")
			for _, r := range results {
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.Type, r.Identifier, r.Explain)
			}
			return w.Flush()
		},
	}
}

func (a *app) exportCmd() *cobra.Command {
	var (
		workers      int
		skipExisting bool
		toS3         bool
	)
	cmd := &cobra.Command{
		Use:   "export <id|/path> [local-dir]",
		Short: "Download every file below a folder to a local directory or S3",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			folder, err := a.resolve(ctx, args[0])
			if err != nil {
				return err
			}

			var sink export.Sink
			switch {
			case toS3:
				sink, err = export.NewS3Sink(ctx, a.cfg.S3)
			case len(args) == 2:
				sink, err = export.NewLocalSink(args[1])
			default:
				return errors.New("a local directory or --s3 is required")
			}
			if err != nil {
				return err
			}

			res, err := export.Export(ctx, a.client, folder.ID, sink, export.Options{
				Workers:      workers,
				SkipExisting: skipExisting,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%d files (%d bytes), %d folders, %d skipped, %d failed\n",
				res.Files, res.Bytes, res.Folders, res.Skipped, len(res.Failed))
			for _, f := range res.Failed {
				fmt.Fprintf(a.out, "  %s: %v\n", f.Path, f.Err)
			}
			if len(res.Failed) > 0 {
				logging.Warn("export incomplete",
					zap.String("sink", sink.Name()),
					zap.Int("failed", len(res.Failed)))
				return fmt.Errorf("%d files failed to export", len(res.Failed))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", export.DefaultWorkers, "concurrent downloads")
	cmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "keep files already present in the sink")
	cmd.Flags().BoolVar(&toS3, "s3", false, "export to the configured S3 bucket")
	return cmd
}

func (a *app) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Save a bearer token for later commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := a.readToken()
			if err != nil {
				return err
			}
			if token == "" {
				return client.ErrNoToken
			}

			tf := &client.TokenFile{
				Token:    token,
				Server:   a.client.BaseURL(),
				Username: a.cfg.Login,
			}
			if exp, ok := client.TokenExpiry(token); ok {
				if time.Now().After(exp) {
					return client.ErrTokenExpired
				}
				tf.ExpiresAt = exp
			}

			path := a.cfg.TokenFile
			if path == "" {
				path = client.TokenFilePath()
			}
			if err := client.SaveToken(path, tf); err != nil {
				return fmt.Errorf("save token: %w", err)
			}
			fmt.Fprintf(a.out, "Token saved to %s\n", path)
			if !tf.ExpiresAt.IsZero() {
				fmt.Fprintf(a.out, "Expires: %s\n", tf.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

// readToken prompts without echo on a terminal, otherwise reads one line.
func (a *app) readToken() (string, error) {
	if f, ok := a.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(a.out, "Token: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.out)
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(line), nil
}
