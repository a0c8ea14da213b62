// Package testmodel hosts a small blog model (categories owning articles,
// tags linked through a companion association) shared by tests of the
// tracking core and the storage backends.
package testmodel

import (
	"reflect"

	"trackcore/pkg/domain"
)

// Category owns its articles.
type Category struct {
	ID       int64
	Name     string
	Rank     *int
	Articles []*Article
}

// Article belongs to a category and carries tag links.
type Article struct {
	ID       int64
	Title    string
	Views    int64
	Version  int64
	Summary  *string
	Category *Category
	Tags     []*ArticleTag
}

// Tag is keyed by its natural name.
type Tag struct {
	Name  string
	Label string
}

// ArticleTag links an article and a tag. The article end is the companion:
// links are written together with their article.
type ArticleTag struct {
	Article *Article
	Tag     *Tag
	Note    string
}

// Source defines the blog model.
type Source struct{}

// DefineModel implements domain.ModelSource.
func (Source) DefineModel(b *domain.ModelBuilder) error {
	b.Register(CategoryDescriptor())
	b.Register(ArticleDescriptor())
	b.Register(TagDescriptor())
	b.Register(ArticleTagDescriptor())
	return nil
}

// Model builds the blog model, panicking on descriptor errors.
func Model() *domain.Model {
	b := domain.NewModelBuilder()
	if err := (Source{}).DefineModel(b); err != nil {
		panic(err)
	}
	m, err := b.Build()
	if err != nil {
		panic(err)
	}
	return m
}

// CategoryDescriptor describes Category.
func CategoryDescriptor() *domain.TypeDescriptor {
	return &domain.TypeDescriptor{
		Name:              "category",
		Type:              reflect.TypeOf(&Category{}),
		Kind:              domain.KindEntity,
		Identity:          []string{"ID"},
		GeneratedIdentity: true,
		Attributes: []*domain.Attribute{
			{
				Name: "ID",
				Get:  func(o any) any { return o.(*Category).ID },
				Set:  func(o, v any) { o.(*Category).ID = toInt64(v) },
			},
			{
				Name: "Name",
				Get:  func(o any) any { return o.(*Category).Name },
				Set:  func(o, v any) { o.(*Category).Name, _ = v.(string) },
			},
			{
				Name: "Rank",
				Get:  func(o any) any { return o.(*Category).Rank },
				Set:  func(o, v any) { o.(*Category).Rank = toIntPtr(v) },
			},
		},
		Associations: []*domain.Association{
			{
				Name:       "Articles",
				Many:       true,
				Aggregated: true,
				Get:        func(o any) any { return o.(*Category).Articles },
				Set:        func(o, v any) { o.(*Category).Articles, _ = v.([]*Article) },
			},
		},
	}
}

// ArticleDescriptor describes Article.
func ArticleDescriptor() *domain.TypeDescriptor {
	return &domain.TypeDescriptor{
		Name:              "article",
		Type:              reflect.TypeOf(&Article{}),
		Kind:              domain.KindEntity,
		Identity:          []string{"ID"},
		GeneratedIdentity: true,
		Attributes: []*domain.Attribute{
			{
				Name: "ID",
				Get:  func(o any) any { return o.(*Article).ID },
				Set:  func(o, v any) { o.(*Article).ID = toInt64(v) },
			},
			{
				Name: "Title",
				Get:  func(o any) any { return o.(*Article).Title },
				Set:  func(o, v any) { o.(*Article).Title, _ = v.(string) },
			},
			{
				Name: "Views",
				Get:  func(o any) any { return o.(*Article).Views },
				Set:  func(o, v any) { o.(*Article).Views = toInt64(v) },
			},
			{
				Name:        "Version",
				Concurrency: true,
				Get:         func(o any) any { return o.(*Article).Version },
				Set:         func(o, v any) { o.(*Article).Version = toInt64(v) },
			},
			{
				Name: "Summary",
				Get:  func(o any) any { return o.(*Article).Summary },
				Set:  func(o, v any) { o.(*Article).Summary = toStringPtr(v) },
			},
			{
				Name:    "TitleLength",
				Derived: true,
				Get:     func(o any) any { return len(o.(*Article).Title) },
			},
		},
		Associations: []*domain.Association{
			{
				Name: "Category",
				Get:  func(o any) any { return o.(*Article).Category },
				Set:  func(o, v any) { o.(*Article).Category, _ = v.(*Category) },
			},
			{
				Name: "Tags",
				Many: true,
				Get:  func(o any) any { return o.(*Article).Tags },
				Set:  func(o, v any) { o.(*Article).Tags, _ = v.([]*ArticleTag) },
			},
		},
	}
}

// TagDescriptor describes Tag.
func TagDescriptor() *domain.TypeDescriptor {
	return &domain.TypeDescriptor{
		Name:     "tag",
		Type:     reflect.TypeOf(&Tag{}),
		Kind:     domain.KindEntity,
		Identity: []string{"Name"},
		Attributes: []*domain.Attribute{
			{
				Name: "Name",
				Get:  func(o any) any { return o.(*Tag).Name },
				Set:  func(o, v any) { o.(*Tag).Name, _ = v.(string) },
			},
			{
				Name: "Label",
				Get:  func(o any) any { return o.(*Tag).Label },
				Set:  func(o, v any) { o.(*Tag).Label, _ = v.(string) },
			},
		},
	}
}

// ArticleTagDescriptor describes ArticleTag.
func ArticleTagDescriptor() *domain.TypeDescriptor {
	return &domain.TypeDescriptor{
		Name:     "article_tag",
		Type:     reflect.TypeOf(&ArticleTag{}),
		Kind:     domain.KindAssociation,
		Identity: []string{"Article", "Tag"},
		Attributes: []*domain.Attribute{
			{
				Name: "Note",
				Get:  func(o any) any { return o.(*ArticleTag).Note },
				Set:  func(o, v any) { o.(*ArticleTag).Note, _ = v.(string) },
			},
		},
		Associations: []*domain.Association{
			{
				Name:      "Article",
				Companion: true,
				Get:       func(o any) any { return o.(*ArticleTag).Article },
				Set:       func(o, v any) { o.(*ArticleTag).Article, _ = v.(*Article) },
			},
			{
				Name: "Tag",
				Get:  func(o any) any { return o.(*ArticleTag).Tag },
				Set:  func(o, v any) { o.(*ArticleTag).Tag, _ = v.(*Tag) },
			},
		},
	}
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toIntPtr(v any) *int {
	switch n := v.(type) {
	case *int:
		return n
	case int:
		return &n
	case int64:
		i := int(n)
		return &i
	case float64:
		i := int(n)
		return &i
	default:
		return nil
	}
}

func toStringPtr(v any) *string {
	switch s := v.(type) {
	case *string:
		return s
	case string:
		return &s
	default:
		return nil
	}
}
