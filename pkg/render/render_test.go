package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wafkaw/book-digger/internal/util"
	"github.com/wafkaw/book-digger/pkg/common"
	"github.com/wafkaw/book-digger/pkg/graph"
)

func testGraph(t *testing.T) (*graph.KnowledgeGraph, common.Book) {
	t.Helper()
	book := common.Book{
		ID:       "nietzsche-wept",
		Metadata: common.BookMetadata{Title: "When Nietzsche Wept", Author: "Irvin D. Yalom"},
	}
	rows := [][]common.Entity{
		{
			common.NewEntity("Free Will", 0.9, common.KindConcept),
			common.NewEntity("Nietzsche", 0.8, common.KindPerson),
			common.NewEntity("despair", 0.5, common.KindEmotion),
		},
		{
			common.NewEntity("free-will", 0.6, common.KindConcept),
			common.NewEntity("philosophy", 0.7, common.KindTheme),
			common.NewEntity("Nietzsche", 0.8, common.KindPerson),
		},
	}

	b := graph.NewBuilder(graph.NewBuilderParams{BookID: book.ID})
	for i, entities := range rows {
		h := common.Highlight{
			Content:      "Become who you are.\nSaid twice.",
			Location:     common.Location{Page: 10 + i, Position: i},
			Chapter:      "Chapter 1",
			SourceBookID: book.ID,
		}
		book.Highlights = append(book.Highlights, h)

		var r common.ExtractionResult
		for _, e := range entities {
			switch e.Kind {
			case common.KindConcept:
				r.Concepts = append(r.Concepts, e)
			case common.KindTheme:
				r.Themes = append(r.Themes, e)
			case common.KindPerson:
				r.People = append(r.People, e)
			case common.KindEmotion:
				r.Emotions = append(r.Emotions, e)
			}
		}
		if err := b.Ingest(h, r); err != nil {
			t.Fatalf("Ingest failed: %v", err)
		}
	}
	return b.Graph(), book
}

func byPath(docs []Document) map[string]string {
	out := make(map[string]string, len(docs))
	for _, d := range docs {
		out[d.Path] = d.Content
	}
	return out
}

func TestRender_LinksAreReciprocal(t *testing.T) {
	g, book := testGraph(t)
	docs := Render(g, book)
	if len(docs) != len(g.Nodes)+1 {
		t.Fatalf("expected one document per node plus index, got %d", len(docs))
	}

	links := paths(g)
	contents := byPath(docs)
	for _, e := range g.Edges {
		src, dst := links[e.SourceID], links[e.TargetID]
		if !strings.Contains(contents[src+".md"], "[["+dst+"|") {
			t.Fatalf("%s does not link to %s", src, dst)
		}
		if !strings.Contains(contents[dst+".md"], "[["+src+"|") {
			t.Fatalf("%s does not link back to %s", dst, src)
		}
	}
}

func TestRender_SlugCollisions(t *testing.T) {
	g, book := testGraph(t)
	contents := byPath(Render(g, book))

	for _, p := range []string{"concepts/free-will.md", "concepts/free-will-2.md", "people/nietzsche.md", "themes/philosophy.md", "emotions/despair.md"} {
		if _, ok := contents[p]; !ok {
			t.Fatalf("missing document %s; have %v", p, contents)
		}
	}
	if !strings.HasPrefix(contents["concepts/free-will.md"], "---\nid: \"concept:free will\"\n") {
		t.Fatalf("paths not assigned in id order:\n%s", contents["concepts/free-will.md"])
	}
}

func TestRender_NodeDocument(t *testing.T) {
	g, book := testGraph(t)
	doc := byPath(Render(g, book))["people/nietzsche.md"]

	for _, want := range []string{
		"# Nietzsche\n",
		"**Occurrences**: 2",
		"[[index|When Nietzsche Wept]]",
		"## Related",
		"## Highlights",
		"> Become who you are. Said twice.",
		"*Chapter 1 · Page 11 · Location 1*",
	} {
		if !strings.Contains(doc, want) {
			t.Fatalf("missing %q in:\n%s", want, doc)
		}
	}
}

func TestRender_Index(t *testing.T) {
	g, book := testGraph(t)
	index := byPath(Render(g, book))[IndexPath]

	for _, want := range []string{
		"# When Nietzsche Wept",
		"**Author**: Irvin D. Yalom",
		"**Highlights**: 2",
		"## Concepts",
		"## People",
		"[[people/nietzsche|Nietzsche]]",
		"### Top concepts",
		"(1×): [[emotions/despair|despair]], [[people/nietzsche|Nietzsche]]\n",
	} {
		if !strings.Contains(index, want) {
			t.Fatalf("missing %q in index:\n%s", want, index)
		}
	}
}

func TestRenderJSON(t *testing.T) {
	g, book := testGraph(t)
	doc, err := RenderJSON(g, book)
	if err != nil {
		t.Fatalf("RenderJSON failed: %v", err)
	}
	if doc.Path != GraphPath {
		t.Fatalf("unexpected path %s", doc.Path)
	}

	var decoded struct {
		BookID string       `json:"book_id"`
		Nodes  []graph.Node `json:"nodes"`
		Edges  []graph.Edge `json:"edges"`
		Stats  graph.Stats  `json:"stats"`
	}
	if err := json.Unmarshal([]byte(doc.Content), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded.BookID != book.ID || len(decoded.Nodes) != len(g.Nodes) || len(decoded.Edges) != len(g.Edges) {
		t.Fatalf("unexpected export %+v", decoded)
	}
	if decoded.Stats.Nodes != len(g.Nodes) {
		t.Fatalf("stats not exported")
	}
}

func TestWriteDir(t *testing.T) {
	dir := t.TempDir()
	docs := []Document{
		{Path: "index.md", Content: "# Index\n"},
		{Path: "concepts/free-will.md", Content: "# Free Will\n"},
	}
	if err := WriteDir(dir, docs); err != nil {
		t.Fatalf("WriteDir failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "concepts", "free-will.md"))
	if err != nil {
		t.Fatalf("document not written: %v", err)
	}
	if string(data) != "# Free Will\n" {
		t.Fatalf("unexpected content %q", data)
	}

	for _, bad := range []string{"../escape.md", "/etc/passwd", ""} {
		if err := WriteDir(dir, []Document{{Path: bad}}); !errors.Is(err, ErrUnsafePath) {
			t.Fatalf("expected ErrUnsafePath for %q, got %v", bad, err)
		}
	}
}

// fakeS3 keeps objects in memory and lists them in a single page.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string]string
	lists    int
	failPuts int
}

func (f *fakeS3) GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return nil, errors.New("not used")
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, in.Body); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPuts > 0 {
		f.failPuts--
		return nil, errors.New("slow down")
	}
	f.objects[aws.ToString(in.Key)] = buf.String()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	out := &s3.ListObjectsV2Output{}
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
		}
	}
	return out, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, obj := range in.Delete.Objects {
		delete(f.objects, aws.ToString(obj.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func TestS3Sink(t *testing.T) {
	g, book := testGraph(t)
	docs := Render(g, book)

	api := &fakeS3{objects: map[string]string{
		"runs/abc/concepts/stale.md": "old",
		"runs/abcd/index.md":         "neighbour",
	}}
	sink := S3Sink{Client: api, Bucket: "vaults", Prefix: "runs/abc", Replace: true}
	if err := sink.Write(context.Background(), docs); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, ok := api.objects["runs/abc/index.md"]; !ok {
		t.Fatalf("index not uploaded under prefix: %v", api.objects)
	}
	if _, ok := api.objects["runs/abc/concepts/stale.md"]; ok {
		t.Fatalf("stale object not removed")
	}
	if _, ok := api.objects["runs/abcd/index.md"]; !ok {
		t.Fatalf("object outside the prefix was removed")
	}
	if len(api.objects) != len(docs)+1 {
		t.Fatalf("expected %d objects, got %d", len(docs)+1, len(api.objects))
	}
	if api.lists != 1 {
		t.Fatalf("expected one listing, got %d", api.lists)
	}
}

func TestS3Sink_RetriesFailedUploads(t *testing.T) {
	api := &fakeS3{objects: map[string]string{}, failPuts: 2}
	sink := S3Sink{Client: api, Bucket: "vaults", Parallel: 1, Backoff: util.Backoff{Initial: time.Millisecond}}
	docs := []Document{{Path: "index.md", Content: "# Index\n"}}
	if err := sink.Write(context.Background(), docs); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if api.objects["index.md"] != "# Index\n" {
		t.Fatalf("upload not retried: %v", api.objects)
	}

	api.failPuts = uploadAttempts
	if err := sink.Write(context.Background(), docs); err == nil {
		t.Fatalf("expected an error once every attempt fails")
	}
}
