package tree

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/fruitsalade/storeclient/pkg/models"
)

// fakeLister serves children from memory, honouring limit and offset.
type fakeLister struct {
	children map[string][]*models.Node
	calls    int
}

func (f *fakeLister) ListChildren(_ context.Context, id string, limit, offset int) (*models.Collection[*models.Node], error) {
	f.calls++
	all, ok := f.children[id]
	if !ok {
		return nil, fmt.Errorf("node %s not found", id)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	values := []*models.Node{}
	if offset < len(all) {
		values = all[offset:end]
	}
	return &models.Collection[*models.Node]{Limit: limit, Offset: offset, Size: len(all), Values: values}, nil
}

func folder(id, parent, name string) *models.Node {
	return &models.Node{ID: id, Parent: parent, Name: name, IsFolder: true}
}

func file(id, parent, name string) *models.Node {
	return &models.Node{ID: id, Parent: parent, Name: name}
}

// sampleTree builds:
//
//	/
//	├── docs/
//	│   ├── a.txt
//	│   └── img/
//	│       └── b.png
//	└── readme.md
func sampleTree() (*models.Node, *fakeLister) {
	root := folder("root", "", "")
	docs := folder("docs", "root", "docs")
	img := folder("img", "docs", "img")
	return root, &fakeLister{children: map[string][]*models.Node{
		"root": {docs, file("readme", "root", "readme.md")},
		"docs": {file("a", "docs", "a.txt"), img},
		"img":  {file("b", "img", "b.png")},
	}}
}

func TestAllChildren_Paginates(t *testing.T) {
	var kids []*models.Node
	for i := 0; i < 250; i++ {
		kids = append(kids, file(fmt.Sprintf("f%d", i), "root", fmt.Sprintf("f%d", i)))
	}
	l := &fakeLister{children: map[string][]*models.Node{"root": kids}}

	got, err := AllChildren(context.Background(), l, "root")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 250 {
		t.Errorf("expected 250 children, got %d", len(got))
	}
	if l.calls != 3 {
		t.Errorf("expected 3 pages, got %d", l.calls)
	}
}

func TestAllChildren_EmptyFolder(t *testing.T) {
	l := &fakeLister{children: map[string][]*models.Node{"empty": nil}}
	got, err := AllChildren(context.Background(), l, "empty")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", got)
	}
}

func TestFindChild(t *testing.T) {
	_, l := sampleTree()
	n, err := FindChild(context.Background(), l, "docs", "img")
	if err != nil {
		t.Fatal(err)
	}
	if n.ID != "img" {
		t.Errorf("expected img, got %s", n.ID)
	}

	if _, err := FindChild(context.Background(), l, "docs", "nope"); !errors.Is(err, ErrNoSuchChild) {
		t.Errorf("expected ErrNoSuchChild, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	root, l := sampleTree()
	tests := []struct {
		path   string
		wantID string
	}{
		{"/", "root"},
		{"", "root"},
		{"/docs", "docs"},
		{"docs/img/b.png", "b"},
		{"/docs/./a.txt", "a"},
	}
	for _, tt := range tests {
		n, err := Resolve(context.Background(), l, root, tt.path)
		if err != nil {
			t.Errorf("Resolve(%q): %v", tt.path, err)
			continue
		}
		if n.ID != tt.wantID {
			t.Errorf("Resolve(%q) = %s, want %s", tt.path, n.ID, tt.wantID)
		}
	}

	if _, err := Resolve(context.Background(), l, root, "/readme.md/x"); err == nil {
		t.Error("expected error when descending into a file")
	}
}

func TestWalk(t *testing.T) {
	root, l := sampleTree()
	var paths []string
	err := Walk(context.Background(), l, root, func(path string, n *models.Node) error {
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "/,/docs,/docs/a.txt,/docs/img,/docs/img/b.png,/readme.md"
	if got := strings.Join(paths, ","); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestWalk_SkipDir(t *testing.T) {
	root, l := sampleTree()
	var paths []string
	err := Walk(context.Background(), l, root, func(path string, n *models.Node) error {
		paths = append(paths, path)
		if n.Name == "docs" {
			return SkipDir
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(paths, ","); got != "/,/docs,/readme.md" {
		t.Errorf("unexpected walk %s", got)
	}
}

func TestWalk_StopsOnError(t *testing.T) {
	root, l := sampleTree()
	stop := errors.New("stop")
	visited := 0
	err := Walk(context.Background(), l, root, func(path string, n *models.Node) error {
		visited++
		if path == "/docs/a.txt" {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected stop, got %v", err)
	}
	if visited != 3 {
		t.Errorf("expected 3 visits, got %d", visited)
	}
}

func TestPathString(t *testing.T) {
	root, _ := sampleTree()
	tests := []struct {
		nodes []*models.Node
		want  string
	}{
		{nil, "/"},
		{[]*models.Node{root}, "/"},
		{[]*models.Node{root, folder("docs", "root", "docs"), file("a", "docs", "a.txt")}, "/docs/a.txt"},
	}
	for _, tt := range tests {
		if got := PathString(tt.nodes); got != tt.want {
			t.Errorf("PathString = %q, want %q", got, tt.want)
		}
	}
}

func TestBuildChildPath(t *testing.T) {
	tests := []struct {
		parent, name, want string
	}{
		{"/", "file.txt", "/file.txt"},
		{"/dir", "file.txt", "/dir/file.txt"},
		{"/a/b", "c", "/a/b/c"},
	}
	for _, tt := range tests {
		got := BuildChildPath(tt.parent, tt.name)
		if got != tt.want {
			t.Errorf("BuildChildPath(%q, %q) = %q, want %q", tt.parent, tt.name, got, tt.want)
		}
	}
}
