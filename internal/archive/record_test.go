package archive

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMerge_NonZeroScalarsOverwrite(t *testing.T) {
	t.Parallel()

	base := NewRecord("https://example.com")
	base.Status = "old"
	base.Folder = "base"

	in := NewRecord("")
	in.Status = "new"

	base.Merge(in)
	require.Equal(t, "https://example.com", base.URL, "zero URL must not overwrite")
	require.Equal(t, "new", base.Status)
	require.Equal(t, "base", base.Folder, "zero Folder must not overwrite")
}

func TestMerge_SuccessAndRearchivableAccumulate(t *testing.T) {
	t.Parallel()

	base := NewRecord("https://example.com")
	base.Success = true

	in := NewRecord("https://example.com")
	in.Rearchivable = true

	base.Merge(in)
	require.True(t, base.Success)
	require.True(t, base.Rearchivable)

	// A later merge with both false never clears them.
	base.Merge(NewRecord("https://example.com"))
	require.True(t, base.Success)
	require.True(t, base.Rearchivable)
}

func TestMerge_MediaDeduplicatesByIdentity(t *testing.T) {
	t.Parallel()

	shared := NewBufferMedia("page.html", []byte("x"))
	extra := NewBufferMedia("shot.png", []byte("y"))

	base := NewRecord("https://example.com")
	base.AddMedia(shared)

	in := NewRecord("https://example.com")
	in.AddMedia(shared, extra)

	base.Merge(in)
	require.Len(t, base.Media, 2)
	require.Same(t, shared, base.Media[0])
	require.Same(t, extra, base.Media[1])
}

func TestMerge_MediaWithoutIdentityIsNotCollapsed(t *testing.T) {
	t.Parallel()

	a := &Media{Filename: "a.html"}
	b := &Media{Filename: "b.html"}

	base := NewRecord("https://example.com")
	base.AddMedia(a)

	in := NewRecord("https://example.com")
	in.AddMedia(b)

	base.Merge(in)
	require.Len(t, base.Media, 2, "distinct ID-less media must both survive")

	// Merging the same pointers again still deduplicates.
	base.Merge(in.Clone())
	require.Len(t, base.Media, 2)
}

func TestMerge_SelfMergeIsIdempotent(t *testing.T) {
	t.Parallel()

	rec := NewRecord("https://example.com")
	rec.Status = "done"
	rec.Success = true
	rec.AddMedia(NewBufferMedia("page.html", []byte("x")))
	rec.SetMeta("title", "Example")

	rec.Merge(rec.Clone())

	require.Equal(t, "https://example.com", rec.URL)
	require.Equal(t, "done", rec.Status)
	require.True(t, rec.Success)
	require.Len(t, rec.Media, 1)
	title, ok := rec.Meta("title")
	require.True(t, ok)
	require.Equal(t, "Example", title)
}

func TestMerge_MetadataKeysOverwrite(t *testing.T) {
	t.Parallel()

	base := NewRecord("https://example.com")
	base.SetMeta("title", "Old")
	base.SetMeta("author", "Someone")

	in := NewRecord("https://example.com")
	in.SetMeta("title", "New")

	base.Merge(in)
	title, _ := base.Meta("title")
	require.Equal(t, "New", title)
	author, _ := base.Meta("author")
	require.Equal(t, "Someone", author)
}

func TestMerge_NilInputIsNoOp(t *testing.T) {
	t.Parallel()

	rec := NewRecord("https://example.com")
	require.Same(t, rec, rec.Merge(nil))
	require.Equal(t, "https://example.com", rec.URL)
}

func TestClone_IsolatesMediaSliceAndMetadata(t *testing.T) {
	t.Parallel()

	rec := NewRecord("https://example.com")
	rec.AddMedia(NewBufferMedia("page.html", []byte("x")))
	rec.SetMeta("title", "Example")

	cp := rec.Clone()
	cp.AddMedia(NewBufferMedia("extra.png", []byte("y")))
	cp.SetMeta("title", "Changed")

	require.Len(t, rec.Media, 1)
	title, _ := rec.Meta("title")
	require.Equal(t, "Example", title)
}
