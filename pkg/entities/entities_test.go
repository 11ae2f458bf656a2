package entities

import (
	"encoding/json"
	"testing"

	"github.com/matryer/is"
)

func TestKeyNormalizesScalarIDs(t *testing.T) {
	is := is.New(t)

	is.Equal(NewKey("blog", "User", 5), NewKey("blog", "User", "5"))
	is.Equal(NewKey("blog", "User", 5.0), NewKey("blog", "User", int64(5)))
	is.Equal(NewKey("blog", "User", 2.5).ID, "2.5")
	is.True(!NewKey("blog", "User", nil).HasID()) // nil id means no identity yet
}

func TestJSONMarshalling(t *testing.T) {
	is := is.New(t)

	user := New("blog", "User", 1, Attr("name", "Ada"))
	post := New("blog", "Post", 10,
		Attr("title", "Hello"),
		Rel("user", One(user)),
	)
	user.SetRelationship("posts", Many([]Entity{post}))

	b, err := json.Marshal(post)
	is.NoErr(err)
	is.Equal(string(b), `{"id":"10","title":"Hello","type":"Post","user":"1"}`)

	b, err = json.Marshal(user)
	is.NoErr(err)
	is.Equal(string(b), `{"id":"1","name":"Ada","posts":["10"],"type":"User"}`)
}

func TestRelationshipVariants(t *testing.T) {
	is := is.New(t)

	is.True(Null().IsNull())
	is.True(One(nil).IsNull()) // a nil entity is a null relationship

	e := New("blog", "User", 1)
	r := One(e)
	got, ok := r.Entity()
	is.True(ok)
	is.Equal(got, Entity(e))
	is.True(!r.IsPlaceholder())

	p := Deferred(&stubPlaceholder{collection: true})
	is.True(p.IsPlaceholder())
	is.Equal(p.Kind(), DeferredCollection)
	_, ok = p.Entities()
	is.True(!ok) // a placeholder is not a concrete collection
}

func TestFilterIsCanonicalAndMatches(t *testing.T) {
	is := is.New(t)

	a := Filter{"user": "5", "status": "published"}
	b := Filter{"status": "published", "user": "5"}
	is.Equal(a.String(), b.String())
	is.Equal(a.String(), "status=published&user=5")

	user := New("blog", "User", 5)
	post := New("blog", "Post", 1, Attr("status", "published"), Rel("user", One(user)))
	is.True(a.Matches(post))
	is.True(!Filter{"user": "6"}.Matches(post))
	is.True(!Filter{"missing": "x"}.Matches(post))
}

func TestForEachAttributeIsOrdered(t *testing.T) {
	is := is.New(t)

	e := New("blog", "User", 1, Attr("b", 2), Attr("a", 1), Attr("c", 3))

	names := []string{}
	e.ForEachAttribute(func(name string, _ any) {
		names = append(names, name)
	})

	is.Equal(names, []string{"a", "b", "c"})
}

type stubPlaceholder struct {
	collection bool
}

func (s *stubPlaceholder) TargetType() string       { return "Post" }
func (s *stubPlaceholder) IsCollection() bool       { return s.collection }
func (s *stubPlaceholder) IsResolved() bool         { return false }
func (s *stubPlaceholder) Describe() map[string]any { return map[string]any{} }
