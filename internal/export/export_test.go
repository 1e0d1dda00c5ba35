package export

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fruitsalade/storeclient/internal/logging"
	"github.com/fruitsalade/storeclient/pkg/client"
	"github.com/fruitsalade/storeclient/pkg/storetest"
)

func newStore(t *testing.T) (*client.Client, *storetest.Server) {
	t.Helper()
	store := storetest.New()
	ts := httptest.NewServer(store.Handler())
	t.Cleanup(ts.Close)

	c, err := client.New(client.Config{BaseURL: ts.URL, Tokens: client.StaticToken("t")})
	if err != nil {
		t.Fatal(err)
	}

	docs, _ := store.AddFolder(store.RootID(), "docs")
	store.AddFile(docs, "a.txt", "text/plain", []byte("alpha"))
	img, _ := store.AddFolder(docs, "img")
	store.AddFile(img, "b.png", "image/png", []byte("png-bytes"))
	store.AddFile(store.RootID(), "readme.md", "text/markdown", []byte("# hi"))
	store.AddFolder(store.RootID(), "empty")
	return c, store
}

func TestExport_LocalSink(t *testing.T) {
	c, store := newStore(t)
	dir := t.TempDir()
	sink, err := NewLocalSink(dir)
	if err != nil {
		t.Fatal(err)
	}

	res, err := Export(context.Background(), c, store.RootID(), sink, Options{Workers: 2})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res.Files != 3 || res.Folders != 3 || len(res.Failed) != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Bytes != int64(len("alpha")+len("png-bytes")+len("# hi")) {
		t.Errorf("unexpected byte count %d", res.Bytes)
	}

	got, err := os.ReadFile(filepath.Join(dir, "docs", "img", "b.png"))
	if err != nil || string(got) != "png-bytes" {
		t.Errorf("unexpected b.png content %q (%v)", got, err)
	}
	if info, err := os.Stat(filepath.Join(dir, "empty")); err != nil || !info.IsDir() {
		t.Errorf("empty folder should be created: %v", err)
	}
}

func TestExport_SkipExisting(t *testing.T) {
	c, store := newStore(t)
	dir := t.TempDir()
	sink, _ := NewLocalSink(dir)
	os.WriteFile(filepath.Join(dir, "readme.md"), []byte("local"), 0644)

	res, err := Export(context.Background(), c, store.RootID(), sink, Options{SkipExisting: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != 1 || res.Files != 2 {
		t.Errorf("unexpected result %+v", res)
	}
	got, _ := os.ReadFile(filepath.Join(dir, "readme.md"))
	if string(got) != "local" {
		t.Errorf("existing file was overwritten: %q", got)
	}
}

func TestExport_NotAFolder(t *testing.T) {
	c, store := newStore(t)
	id, _ := store.AddFile(store.RootID(), "single.txt", "text/plain", []byte("x"))
	sink, _ := NewLocalSink(t.TempDir())

	if _, err := Export(context.Background(), c, id, sink, Options{}); err == nil {
		t.Fatal("expected error exporting a file")
	}
}

func TestLocalSink_ConfinesKeys(t *testing.T) {
	dir := t.TempDir()
	sink, _ := NewLocalSink(dir)
	if err := sink.Put(context.Background(), "../../etc/passwd", strings.NewReader("x"), 1, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "etc", "passwd")); err != nil {
		t.Errorf("key should be confined to the sink root: %v", err)
	}
	if err := sink.Put(context.Background(), "/", strings.NewReader("x"), 1, ""); err == nil {
		t.Error("expected error for empty key")
	}
}

// fakeS3 records uploads in memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	created bool
	missing bool
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.missing && !f.created {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(context.Context, *s3.CreateBucketInput, ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.created = true
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Key] = data
	if in.ContentType != nil {
		f.types[*in.Key] = *in.ContentType
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[*in.Key]; ok {
		return &s3.HeadObjectOutput{}, nil
	}
	return nil, &types.NotFound{}
}

func TestExport_S3Sink(t *testing.T) {
	c, store := newStore(t)
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	sink := NewS3SinkWithClient(fake, "backup", "/alice/")

	res, err := Export(context.Background(), c, store.RootID(), sink, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Files != 3 {
		t.Errorf("expected 3 files, got %d", res.Files)
	}
	if string(fake.objects["alice/docs/a.txt"]) != "alpha" {
		t.Errorf("unexpected objects %v", fake.objects)
	}
	if fake.types["alice/docs/img/b.png"] != "image/png" {
		t.Errorf("expected image/png, got %q", fake.types["alice/docs/img/b.png"])
	}

	ok, err := sink.Exists(context.Background(), "readme.md")
	if err != nil || !ok {
		t.Errorf("expected readme.md to exist: %v", err)
	}
	ok, err = sink.Exists(context.Background(), "nope")
	if err != nil || ok {
		t.Errorf("expected nope to be absent: %v", err)
	}
}

func TestS3Sink_EnsureBucketCreates(t *testing.T) {
	fake := &fakeS3{missing: true}
	sink := NewS3SinkWithClient(fake, "b", "")
	if err := sink.ensureBucket(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !fake.created {
		t.Error("bucket should have been created")
	}
}

type failingSink struct {
	*LocalSink
	failKey string
}

func (s *failingSink) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if key == s.failKey {
		return errors.New("quota exceeded")
	}
	return s.LocalSink.Put(ctx, key, body, size, contentType)
}

func TestExport_LogsThroughContext(t *testing.T) {
	c, store := newStore(t)
	local, err := NewLocalSink(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	sink := &failingSink{LocalSink: local, failKey: "docs/a.txt"}

	core, logs := observer.New(zapcore.DebugLevel)
	ctx := logging.WithLogger(context.Background(), zap.New(core))

	res, err := Export(ctx, c, store.RootID(), sink, Options{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res.Files != 2 || len(res.Failed) != 1 || res.Failed[0].Path != "/docs/a.txt" {
		t.Fatalf("unexpected result %+v", res)
	}

	warned := logs.FilterMessage("export file failed").All()
	if len(warned) != 1 {
		t.Fatalf("expected 1 failure entry, got %d", len(warned))
	}
	if got := warned[0].ContextMap()["path"]; got != "/docs/a.txt" {
		t.Errorf("unexpected path field %v", got)
	}
	if logs.FilterMessage("export finished").Len() != 1 {
		t.Error("expected export summary entry")
	}
}
