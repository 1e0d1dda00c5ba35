// Package tree provides helpers for walking a store's node hierarchy through
// its paginated children listing.
package tree

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fruitsalade/storeclient/pkg/models"
)

// PageSize is the number of children requested per page.
const PageSize = 100

var (
	// ErrNoSuchChild is returned when a name is absent from a folder.
	ErrNoSuchChild = errors.New("no such child")

	// SkipDir can be returned by a WalkFunc to skip the folder's children.
	SkipDir = errors.New("skip this directory")
)

// Lister lists one page of the children of a folder.
type Lister interface {
	ListChildren(ctx context.Context, id string, limit, offset int) (*models.Collection[*models.Node], error)
}

// AllChildren fetches every child of folder id, following pagination.
func AllChildren(ctx context.Context, l Lister, id string) ([]*models.Node, error) {
	var out []*models.Node
	offset := 0
	for {
		page, err := l.ListChildren(ctx, id, PageSize, offset)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Values...)
		if len(page.Values) == 0 || !page.HasMore() {
			break
		}
		offset = page.NextOffset()
	}
	if out == nil {
		out = []*models.Node{}
	}
	return out, nil
}

// FindChild returns the child of parentID called name.
func FindChild(ctx context.Context, l Lister, parentID, name string) (*models.Node, error) {
	children, err := AllChildren(ctx, l, parentID)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoSuchChild, name)
}

// Resolve follows a slash-separated path of names from root. "" and "/"
// resolve to root itself.
func Resolve(ctx context.Context, l Lister, root *models.Node, path string) (*models.Node, error) {
	cur := root
	for _, name := range strings.Split(strings.Trim(path, "/"), "/") {
		if name == "" || name == "." {
			continue
		}
		if !cur.IsFolder {
			return nil, fmt.Errorf("%s is not a folder", cur.Name)
		}
		next, err := FindChild(ctx, l, cur.ID, name)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// WalkFunc is called for every node visited by Walk, with the node's path
// relative to the walk root.
type WalkFunc func(path string, n *models.Node) error

// Walk visits root and its descendants depth first, folders before their
// children. Returning SkipDir from fn on a folder skips its children; any
// other error stops the walk.
func Walk(ctx context.Context, l Lister, root *models.Node, fn WalkFunc) error {
	err := walk(ctx, l, "/", root, fn)
	if errors.Is(err, SkipDir) {
		return nil
	}
	return err
}

func walk(ctx context.Context, l Lister, path string, n *models.Node, fn WalkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(path, n); err != nil {
		return err
	}
	if !n.IsFolder {
		return nil
	}

	children, err := AllChildren(ctx, l, n.ID)
	if err != nil {
		return fmt.Errorf("list %s: %w", path, err)
	}
	for _, c := range children {
		err := walk(ctx, l, BuildChildPath(path, c.Name), c, fn)
		if err != nil && !(errors.Is(err, SkipDir) && c.IsFolder) {
			return err
		}
	}
	return nil
}

// PathString renders an ancestor chain, as returned by GetPath, as a
// slash-separated path. The root contributes no name.
func PathString(nodes []*models.Node) string {
	var b strings.Builder
	for _, n := range nodes {
		if n.IsRoot() {
			continue
		}
		b.WriteString("/")
		b.WriteString(n.Name)
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

// BuildChildPath constructs a child path from parent + name.
func BuildChildPath(parentPath, name string) string {
	if parentPath == "/" {
		return "/" + name
	}
	return parentPath + "/" + name
}
