package graph

import (
	"context"
	"testing"

	"github.com/diwise/entity-sync/pkg/deferred"
	"github.com/diwise/entity-sync/pkg/entities"
	"github.com/diwise/entity-sync/pkg/identity"
	"github.com/matryer/is"
)

func TestCycleIsCutWithSentinel(t *testing.T) {
	is := is.New(t)

	user := entities.New("blog", "User", 1, entities.Attr("name", "Ada"))
	post := entities.New("blog", "Post", 10, entities.Attr("title", "Hello"), entities.Rel("user", entities.One(user)))
	user.SetRelationship("posts", entities.Many([]entities.Entity{post}))

	tree := Serialize(user)

	posts := tree["posts"].([]any)
	is.Equal(len(posts), 1)

	p := posts[0].(map[string]any)
	is.Equal(p["title"], "Hello")
	is.Equal(p["user"], map[string]any{"type": "User", "id": "1", "reason": CircularReference})
}

func TestMarshalCyclicGraph(t *testing.T) {
	is := is.New(t)

	user := entities.New("blog", "User", 1)
	post := entities.New("blog", "Post", 10, entities.Rel("user", entities.One(user)))
	user.SetRelationship("posts", entities.Many([]entities.Entity{post}))

	b, err := Marshal(post)
	is.NoErr(err)
	is.Equal(string(b), `{"id":"10","type":"Post","user":{"id":"1","posts":[{"id":"10","reason":"circular reference","type":"Post"}],"type":"User"}}`)
}

func TestSelfReference(t *testing.T) {
	is := is.New(t)

	user := entities.New("blog", "User", 1)
	user.SetRelationship("manager", entities.One(user))

	tree := Serialize(user)
	is.Equal(tree["manager"].(map[string]any)["reason"], CircularReference)
}

func TestRepeatedReferenceThatIsNotACycleIsExpanded(t *testing.T) {
	is := is.New(t)

	author := entities.New("blog", "User", 2, entities.Attr("name", "Grace"))
	a := entities.New("blog", "Comment", 100, entities.Rel("author", entities.One(author)))
	b := entities.New("blog", "Comment", 101, entities.Rel("author", entities.One(author)))
	post := entities.New("blog", "Post", 10, entities.Rel("comments", entities.Many([]entities.Entity{a, b})))

	comments := Serialize(post)["comments"].([]any)

	for _, c := range comments {
		is.Equal(c.(map[string]any)["author"], map[string]any{"type": "User", "id": "2", "name": "Grace"})
	}
}

func TestPlaceholdersAreWrittenAsUnresolved(t *testing.T) {
	is := is.New(t)

	fetcher := &countingFetcher{}
	idmap := identity.New()

	user := entities.New("blog", "User", 1)
	deferred.NewRelationship("blog", "Post", entities.Filter{"user": "1"}, fetcher, idmap).Bind(user, "posts")
	deferred.NewEntity(entities.NewKey("blog", "User", 7), fetcher, idmap).Bind(user, "manager")

	tree := Serialize(user)

	is.Equal(tree["manager"], map[string]any{"type": "User", "unresolved": true, "id": "7"})
	is.Equal(tree["posts"], map[string]any{
		"type":       "Post",
		"unresolved": true,
		"collection": true,
		"filter":     map[string]string{"user": "1"},
	})
	is.Equal(fetcher.calls, 0)
}

func TestAnonymousEntities(t *testing.T) {
	is := is.New(t)

	a := entities.New("blog", "Tag", nil, entities.Attr("label", "go"))
	b := entities.New("blog", "Tag", nil, entities.Attr("label", "sync"))
	a.SetRelationship("related", entities.One(b))
	b.SetRelationship("related", entities.One(a))

	tree := Serialize(a)
	_, hasID := tree["id"]
	is.True(!hasID)

	related := tree["related"].(map[string]any)
	is.Equal(related["label"], "sync")
	is.Equal(related["related"].(map[string]any)["reason"], CircularReference)
}

func TestNullRelationship(t *testing.T) {
	is := is.New(t)

	post := entities.New("blog", "Post", 10, entities.Rel("user", entities.Null()))

	tree := Serialize(post)
	v, ok := tree["user"]
	is.True(ok)
	is.Equal(v, nil)
}

type countingFetcher struct {
	calls int
}

func (f *countingFetcher) FetchByID(ctx context.Context, entityType, id string) (entities.Entity, error) {
	f.calls++
	return nil, nil
}

func (f *countingFetcher) FetchByFilter(ctx context.Context, entityType string, filter entities.Filter) ([]entities.Entity, error) {
	f.calls++
	return nil, nil
}
