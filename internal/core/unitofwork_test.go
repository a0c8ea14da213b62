package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackcore/internal/testmodel"
	"trackcore/pkg/domain"
)

func newTestUnitOfWork(t *testing.T, opts ...Option) (*UnitOfWork, *recordingStorage) {
	t.Helper()
	st := &recordingStorage{}
	u := NewForModel(testmodel.Model(), append([]Option{WithStorage(st)}, opts...)...)
	return u, st
}

func mustCell(t *testing.T, u *UnitOfWork, obj any) *Cell {
	t.Helper()
	c, ok := u.CellFor(obj)
	require.True(t, ok, "object %T not tracked", obj)
	return c
}

func TestAttachNewIsIdempotent(t *testing.T) {
	u, _ := newTestUnitOfWork(t)
	a := &testmodel.Article{Title: "x"}

	c1, err := u.Add(a)
	require.NoError(t, err)
	c2, err := u.Add(a)
	require.NoError(t, err)

	require.Same(t, c1, c2)
	require.Equal(t, 1, u.Len())
	require.Equal(t, StatusAdded, c1.Status())
	require.True(t, c1.IsRoot())
	_, hasKey := c1.Identity()
	require.False(t, hasKey, "generated identity is unknown before insert")
}

func TestAttachUnregisteredType(t *testing.T) {
	u, _ := newTestUnitOfWork(t)
	_, err := u.Add(&struct{ ID int }{})
	require.ErrorIs(t, err, domain.ErrUnregisteredType)
	require.Equal(t, 0, u.Len())
}

func TestAttachExistingWithoutIdentity(t *testing.T) {
	u, _ := newTestUnitOfWork(t)
	_, err := u.Track(&testmodel.Article{Title: "x"})
	require.ErrorIs(t, err, domain.ErrMissingIdentity)
}

func TestAttachExistingAssimilatesSecondInstance(t *testing.T) {
	u, _ := newTestUnitOfWork(t)
	tag := &testmodel.Tag{Name: "go"}
	x := &testmodel.ArticleTag{Tag: tag, Note: "x"}
	first := &testmodel.Article{ID: 7, Title: "a", Views: 7, Tags: []*testmodel.ArticleTag{x}}
	c1, err := u.Track(first)
	require.NoError(t, err)

	cat := &testmodel.Category{ID: 3}
	y := &testmodel.ArticleTag{Tag: tag, Note: "y"}
	second := &testmodel.Article{ID: 7, Title: "b", Views: 9, Summary: testmodel.Ptr("s"),
		Tags: []*testmodel.ArticleTag{y}, Category: cat}
	c2, err := u.Attach(second, false, false)
	require.NoError(t, err)

	require.Same(t, c1, c2)
	require.Equal(t, 1, u.Len())
	require.Same(t, first, c1.Object())
	assert.Equal(t, int64(9), first.Views, "differing attribute overwritten")
	assert.Equal(t, "b", first.Title)
	assert.Equal(t, []*testmodel.ArticleTag{x}, first.Tags, "populated association kept")
	assert.Same(t, cat, first.Category, "empty association filled")
	require.NotNil(t, first.Summary)
	assert.Equal(t, "s", *first.Summary)

	third := &testmodel.Article{ID: 7, Title: "b"}
	_, err = u.Attach(third, false, false)
	require.NoError(t, err)
	require.NotNil(t, first.Summary, "nil incoming value never clears tracked state")
	assert.Equal(t, "s", *first.Summary)
}

func TestAssimilateFillsAssociationsOnceAndOverwritesAttributes(t *testing.T) {
	u, _ := newTestUnitOfWork(t)
	tracked := &testmodel.Category{ID: 3}
	c, err := u.Track(tracked)
	require.NoError(t, err)

	x := &testmodel.Article{ID: 10, Title: "x"}
	_, err = u.Track(&testmodel.Category{ID: 3, Rank: testmodel.Ptr(7), Articles: []*testmodel.Article{x}})
	require.NoError(t, err)
	require.Equal(t, []*testmodel.Article{x}, tracked.Articles)
	require.NotNil(t, tracked.Rank)
	require.Equal(t, 7, *tracked.Rank)

	y := &testmodel.Article{ID: 11, Title: "y"}
	again, err := u.Track(&testmodel.Category{ID: 3, Rank: testmodel.Ptr(9), Articles: []*testmodel.Article{y}})
	require.NoError(t, err)
	require.Same(t, c, again)
	assert.Equal(t, []*testmodel.Article{x}, tracked.Articles, "association filled only once")
	require.NotNil(t, tracked.Rank)
	assert.Equal(t, 9, *tracked.Rank, "last non-nil attribute wins")
	assert.Equal(t, 1, u.Len())
}

func TestAttachExistingUpgradesRoot(t *testing.T) {
	u, _ := newTestUnitOfWork(t)
	tag := &testmodel.Tag{Name: "go"}
	c, err := u.Attach(tag, false, false)
	require.NoError(t, err)
	require.False(t, c.IsRoot())

	again, err := u.Track(&testmodel.Tag{Name: "go"})
	require.NoError(t, err)
	require.Same(t, c, again)
	require.True(t, c.IsRoot())
}

func TestConcurrentAttach(t *testing.T) {
	u, _ := newTestUnitOfWork(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := u.Track(&testmodel.Tag{Name: "go", Label: "shared"})
			assert.NoError(t, err)
			_, err = u.Add(&testmodel.Category{Name: fmt.Sprintf("c%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	require.Equal(t, 17, u.Len())
}

func TestDirtyCheckRoundTrip(t *testing.T) {
	u, st := newTestUnitOfWork(t)
	a := &testmodel.Article{ID: 1, Title: "t", Views: 5}
	_, err := u.Track(a)
	require.NoError(t, err)

	var viewsChanged, titleChanged bool
	var original any
	st.probe = func(cs domain.ChangeSet) {
		viewsChanged = cs.Changed(a, "Views")
		titleChanged = cs.Changed(a, "Title")
		original, _ = cs.Original(a, "Views")
	}

	a.Views = 7
	report, err := u.SaveChanges(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Modified, 1)
	require.Len(t, st.last().Modified, 1)
	assert.True(t, viewsChanged)
	assert.False(t, titleChanged)
	assert.Equal(t, int64(5), original)

	c := mustCell(t, u, a)
	require.Equal(t, StatusUnchanged, c.Status())
	require.Empty(t, c.ChangedAttributes())
	v, _ := c.OriginalValue("Views")
	require.Equal(t, int64(7), v)

	report, err = u.SaveChanges(context.Background())
	require.NoError(t, err)
	require.True(t, report.Empty())
	require.Equal(t, 1, st.saveCount(), "no storage call without changes")
}

func TestSnapshotDetachesScalarPointers(t *testing.T) {
	u, _ := newTestUnitOfWork(t)
	cat := &testmodel.Category{ID: 1, Name: "c", Rank: testmodel.Ptr(1)}
	c, err := u.Track(cat)
	require.NoError(t, err)

	*cat.Rank = 2
	c.DetectAttributeChange()
	require.Equal(t, StatusModified, c.Status())
	require.Equal(t, []string{"Rank"}, c.ChangedAttributes())
}

func TestDerivedAttributesAreNotCompared(t *testing.T) {
	u, _ := newTestUnitOfWork(t)
	a := &testmodel.Article{ID: 1, Title: "short"}
	c, err := u.Track(a)
	require.NoError(t, err)

	a.Title = "much longer"
	c.DetectAttributeChange()
	require.Equal(t, []string{"Title"}, c.ChangedAttributes())
	require.True(t, c.JudgeAttributeChanged("Title"))
	require.False(t, c.JudgeAttributeChanged("TitleLength"))
}

func TestDetectIgnoresAddedAndDeleted(t *testing.T) {
	u, _ := newTestUnitOfWork(t)
	added, err := u.Add(&testmodel.Tag{Name: "new"})
	require.NoError(t, err)
	added.DetectAttributeChange()
	require.Equal(t, StatusAdded, added.Status())
	require.True(t, added.JudgeAttributeChanged("Label"))

	gone := &testmodel.Tag{Name: "old"}
	c, err := u.Track(gone)
	require.NoError(t, err)
	require.NoError(t, c.MarkDeleted())
	gone.Label = "edited"
	c.DetectAttributeChange()
	require.Equal(t, StatusDeleted, c.Status())
	require.False(t, c.JudgeAttributeChanged("Label"))
}

func TestCategoryArticlesScenario(t *testing.T) {
	ctx := context.Background()
	u, st := newTestUnitOfWork(t)
	cat := &testmodel.Category{Name: "news"}
	a1 := &testmodel.Article{Title: "one", Category: cat}
	a2 := &testmodel.Article{Title: "two", Category: cat}
	cat.Articles = []*testmodel.Article{a1, a2}
	_, err := u.Add(cat)
	require.NoError(t, err)

	report, err := u.SaveChanges(ctx)
	require.NoError(t, err)
	require.Equal(t, BucketCounts{Added: 3}, report.Counts())
	require.Len(t, st.last().Added, 3)
	require.NotZero(t, cat.ID)
	require.NotZero(t, a1.ID)
	require.NotZero(t, a2.ID)
	require.Equal(t, 3, u.Len())
	for _, c := range u.Cells() {
		require.Equal(t, StatusUnchanged, c.Status())
		_, ok := c.Identity()
		require.True(t, ok)
	}

	require.NoError(t, u.Remove(cat))
	require.Equal(t, StatusDeleted, mustCell(t, u, cat).Status())
	require.Equal(t, StatusDeleted, mustCell(t, u, a1).Status())
	require.Equal(t, StatusDeleted, mustCell(t, u, a2).Status())

	report, err = u.SaveChanges(ctx)
	require.NoError(t, err)
	require.Equal(t, BucketCounts{Deleted: 3}, report.Counts())
	require.Equal(t, 0, u.Len())
}

func TestRemoveNewObjectOnlyDiscards(t *testing.T) {
	u, st := newTestUnitOfWork(t)
	cat := &testmodel.Category{Name: "draft"}
	_, err := u.Add(cat)
	require.NoError(t, err)

	require.NoError(t, u.Remove(cat))
	require.Equal(t, 0, u.Len())
	report, err := u.SaveChanges(context.Background())
	require.NoError(t, err)
	require.True(t, report.Empty())
	require.Zero(t, st.saveCount())
}

func TestRemoveUntracked(t *testing.T) {
	u, _ := newTestUnitOfWork(t)
	require.NoError(t, u.Remove(&testmodel.Category{ID: 5}))
	require.NoError(t, u.Remove(&testmodel.Category{}))
	require.Equal(t, 0, u.Len())
	require.ErrorIs(t, u.Remove(42), domain.ErrUnregisteredType)
}

func TestCascadeDeleteAttachesOwnedObjects(t *testing.T) {
	u, _ := newTestUnitOfWork(t)
	owned := &testmodel.Article{ID: 2, Title: "persisted"}
	fresh := &testmodel.Article{Title: "never saved"}
	cat := &testmodel.Category{ID: 1, Articles: []*testmodel.Article{owned, fresh}}
	_, err := u.Track(cat)
	require.NoError(t, err)

	require.NoError(t, u.Remove(cat))
	c := mustCell(t, u, owned)
	require.Equal(t, StatusDeleted, c.Status())
	require.False(t, c.IsRoot())
	_, tracked := u.CellFor(fresh)
	require.False(t, tracked)

	report, err := u.SaveChanges(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Deleted, 2)
	require.Equal(t, "category", report.Deleted[0].Type)
	require.Equal(t, "article", report.Deleted[1].Type)
}

func TestCascadeDeleteDiscardsOwnedNewObjects(t *testing.T) {
	u, _ := newTestUnitOfWork(t)
	fresh := &testmodel.Article{Title: "new"}
	cat := &testmodel.Category{ID: 1, Articles: []*testmodel.Article{fresh}}
	_, err := u.Track(cat)
	require.NoError(t, err)
	_, err = u.Add(fresh)
	require.NoError(t, err)

	require.NoError(t, u.Remove(cat))
	_, tracked := u.CellFor(fresh)
	require.False(t, tracked)
	require.Equal(t, 1, u.Len())
}

func TestDeletedCellsAreNotRetained(t *testing.T) {
	u, _ := newTestUnitOfWork(t)
	a := &testmodel.Article{ID: 2}
	cat := &testmodel.Category{ID: 1, Articles: []*testmodel.Article{a}}
	_, err := u.Track(cat)
	require.NoError(t, err)
	_, err = u.Attach(a, false, false)
	require.NoError(t, err)

	require.NoError(t, u.Remove(a))
	report, err := u.SaveChanges(context.Background())
	require.NoError(t, err)
	require.Equal(t, BucketCounts{Deleted: 1}, report.Counts())
	require.Equal(t, "article", report.Deleted[0].Type)
	require.Equal(t, 1, u.Len())
}

func TestClassificationCompleteness(t *testing.T) {
	u, _ := newTestUnitOfWork(t)
	modified := &testmodel.Tag{Name: "m"}
	unchanged := &testmodel.Tag{Name: "u"}
	deleted := &testmodel.Tag{Name: "d"}
	added := &testmodel.Tag{Name: "a"}
	for _, obj := range []any{modified, unchanged, deleted} {
		_, err := u.Track(obj)
		require.NoError(t, err)
	}
	_, err := u.Add(added)
	require.NoError(t, err)
	require.NoError(t, u.Remove(deleted))
	modified.Label = "changed"

	require.NoError(t, u.detect())
	cls := u.classify()
	require.Equal(t, BucketCounts{Added: 1, Modified: 1, Deleted: 1}, cls.counts())

	seen := map[*Cell]int{}
	for _, bucket := range [][]*Cell{cls.Added, cls.AddedCompanions, cls.Modified, cls.DeletedCompanions, cls.Deleted} {
		for _, c := range bucket {
			seen[c]++
		}
	}
	for _, c := range u.Cells() {
		if c.Status() == StatusUnchanged {
			require.Zero(t, seen[c])
			continue
		}
		require.Equal(t, 1, seen[c], "cell %s in exactly one bucket", c.Type().Name)
	}
}

func TestCompanionAssociationFollowsNewArticle(t *testing.T) {
	ctx := context.Background()
	u, st := newTestUnitOfWork(t)
	tag := &testmodel.Tag{Name: "go"}
	_, err := u.Track(tag)
	require.NoError(t, err)
	art := &testmodel.Article{Title: "x"}
	link := &testmodel.ArticleTag{Article: art, Tag: tag}
	art.Tags = []*testmodel.ArticleTag{link}
	_, err = u.Add(art)
	require.NoError(t, err)

	report, err := u.SaveChanges(ctx)
	require.NoError(t, err)
	require.Equal(t, BucketCounts{Added: 1, AddedCompanions: 1}, report.Counts())
	cs := st.last()
	require.Len(t, cs.AddedCompanions, 1)
	require.Same(t, link, cs.AddedCompanions[0].Object)

	c := mustCell(t, u, link)
	require.False(t, c.IsRoot())
	key, ok := c.Identity()
	require.True(t, ok)
	require.Equal(t, fmt.Sprintf("[%d \"go\"]", art.ID), key.String())
	require.Equal(t, 3, u.Len())

	art.Tags = nil
	report, err = u.SaveChanges(ctx)
	require.NoError(t, err)
	require.Equal(t, BucketCounts{DeletedCompanions: 1}, report.Counts())
	require.Equal(t, 2, u.Len())
}

func TestCompanionFollowsDeletedArticle(t *testing.T) {
	u, _ := newTestUnitOfWork(t)
	tag := &testmodel.Tag{Name: "go"}
	art := &testmodel.Article{ID: 1}
	link := &testmodel.ArticleTag{Article: art, Tag: tag}
	art.Tags = []*testmodel.ArticleTag{link}
	for _, obj := range []any{art, tag, link} {
		_, err := u.Track(obj)
		require.NoError(t, err)
	}

	require.NoError(t, u.Remove(art))
	report, err := u.SaveChanges(context.Background())
	require.NoError(t, err)
	require.Equal(t, BucketCounts{Deleted: 1, DeletedCompanions: 1}, report.Counts())
	require.Equal(t, 1, u.Len())
}

func TestCompanionBucketsFollowOwnStatusWhenCompanionUntouched(t *testing.T) {
	ctx := context.Background()
	u, st := newTestUnitOfWork(t)
	art := &testmodel.Article{ID: 1, Title: "x"}
	tag := &testmodel.Tag{Name: "go"}
	_, err := u.Track(art)
	require.NoError(t, err)
	_, err = u.Track(tag)
	require.NoError(t, err)
	link := &testmodel.ArticleTag{Article: art, Tag: tag}
	_, err = u.Add(link)
	require.NoError(t, err)

	report, err := u.SaveChanges(ctx)
	require.NoError(t, err)
	require.Equal(t, BucketCounts{AddedCompanions: 1}, report.Counts())
	require.Empty(t, st.last().Added)

	require.NoError(t, u.Remove(link))
	report, err = u.SaveChanges(ctx)
	require.NoError(t, err)
	require.Equal(t, BucketCounts{DeletedCompanions: 1}, report.Counts())
	require.Empty(t, st.last().Deleted)
}

func TestOrphanNeedsRetainedCompanion(t *testing.T) {
	u, _ := newTestUnitOfWork(t)
	tag := &testmodel.Tag{Name: "go"}
	art := &testmodel.Article{ID: 1}
	link := &testmodel.ArticleTag{Article: art, Tag: tag}
	_, err := u.Track(tag)
	require.NoError(t, err)
	_, err = u.Attach(art, false, false)
	require.NoError(t, err)
	_, err = u.Attach(link, false, false)
	require.NoError(t, err)

	report, err := u.SaveChanges(context.Background())
	require.NoError(t, err)
	require.True(t, report.Empty())
	require.Equal(t, StatusUnchanged, mustCell(t, u, link).Status())
}

func TestWalkReplacesUnchangedAssociationInstance(t *testing.T) {
	u, st := newTestUnitOfWork(t)
	tag := &testmodel.Tag{Name: "go"}
	art := &testmodel.Article{ID: 1}
	link1 := &testmodel.ArticleTag{Article: art, Tag: tag}
	_, err := u.Track(art)
	require.NoError(t, err)
	_, err = u.Attach(tag, false, false)
	require.NoError(t, err)
	c, err := u.Attach(link1, false, false)
	require.NoError(t, err)

	link2 := &testmodel.ArticleTag{Article: art, Tag: tag, Note: "n"}
	art.Tags = []*testmodel.ArticleTag{link2}
	report, err := u.SaveChanges(context.Background())
	require.NoError(t, err)

	require.Same(t, link2, c.Object())
	require.Equal(t, BucketCounts{Modified: 1}, report.Counts())
	require.Same(t, link2, st.last().Modified[0].Object)
}

func TestWalkAssimilatesEntityInstance(t *testing.T) {
	u, _ := newTestUnitOfWork(t)
	tracked := &testmodel.Article{ID: 2, Title: "old"}
	_, err := u.Attach(tracked, false, false)
	require.NoError(t, err)
	cat := &testmodel.Category{ID: 1, Articles: []*testmodel.Article{{ID: 2, Title: "new"}}}
	_, err = u.Track(cat)
	require.NoError(t, err)

	report, err := u.SaveChanges(context.Background())
	require.NoError(t, err)
	require.Equal(t, "new", tracked.Title)
	require.Equal(t, BucketCounts{Modified: 1}, report.Counts())
	require.Equal(t, 2, u.Len())
}

func TestReplaceErrors(t *testing.T) {
	u, _ := newTestUnitOfWork(t)
	art := &testmodel.Article{ID: 1}
	link := &testmodel.ArticleTag{Article: art, Tag: &testmodel.Tag{Name: "go"}}
	c, err := u.Track(link)
	require.NoError(t, err)

	err = c.Replace(&testmodel.ArticleTag{Article: art, Tag: &testmodel.Tag{Name: "rust"}})
	require.ErrorIs(t, err, domain.ErrIdentityMismatch)
	require.Same(t, link, c.Object())

	link.Note = "edited"
	c.DetectAttributeChange()
	err = c.Replace(&testmodel.ArticleTag{Article: art, Tag: &testmodel.Tag{Name: "go"}})
	require.ErrorIs(t, err, domain.ErrIdentityMismatch)
}

func TestStorageErrorsPropagate(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	u, st := newTestUnitOfWork(t, WithMetrics(metrics))
	st.saveErr = domain.DuplicateInsertionError{Type: "tag", Identity: `["go"]`}
	tag := &testmodel.Tag{Name: "go"}
	_, err := u.Add(tag)
	require.NoError(t, err)

	_, err = u.SaveChanges(context.Background())
	require.ErrorIs(t, err, domain.ErrDuplicateInsertion)
	var dup domain.DuplicateInsertionError
	require.True(t, errors.As(err, &dup))
	require.Equal(t, "tag", dup.Type)
	require.Equal(t, StatusAdded, mustCell(t, u, tag).Status())
	require.True(t, metrics.has("save_changes", false))
}

func TestIdentityCollisionOnInsertDropsCell(t *testing.T) {
	u, _ := newTestUnitOfWork(t)
	existing := &testmodel.Tag{Name: "go", Label: "tracked"}
	_, err := u.Track(existing)
	require.NoError(t, err)
	dup := &testmodel.Tag{Name: "go", Label: "new"}
	_, err = u.Add(dup)
	require.NoError(t, err)

	_, err = u.SaveChanges(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, u.Len())
	c := mustCell(t, u, dup)
	require.Same(t, existing, c.Object())
}
