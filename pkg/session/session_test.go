package session

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/diwise/entity-sync/internal/test"
	"github.com/diwise/entity-sync/pkg/entities"
	syncerrors "github.com/diwise/entity-sync/pkg/errors"
	"github.com/diwise/entity-sync/pkg/graph"
	"github.com/diwise/entity-sync/pkg/pager"
	"github.com/diwise/entity-sync/pkg/policy"
	"github.com/diwise/entity-sync/pkg/provider"
	"github.com/diwise/entity-sync/pkg/transport"
	"github.com/matryer/is"
)

func TestResolveLateReplacesPlaceholdersAfterLastPage(t *testing.T) {
	is, backend, s := testSetup(t, test.Blog())

	q, err := s.RunQuery(context.Background(), "blog", "User", provider.NewQuery(provider.IDs("ids", []string{"1"})), WithPolicy(policy.ResolveLate))
	is.NoErr(err)

	is.True(q.Next(context.Background()))
	user := q.Entity()

	posts, _ := user.Relationship("posts")
	is.True(posts.IsPlaceholder()) // posts are deferred until the stream is exhausted
	is.Equal(q.Pending(), 1)
	is.Equal(backend.RequestCount("/posts"), 0)

	is.True(!q.Next(context.Background()))
	is.NoErr(q.Err())

	posts, _ = user.Relationship("posts")
	is.True(!posts.IsPlaceholder())

	collection, ok := posts.Entities()
	is.True(ok)
	is.Equal(len(collection), 2)

	for _, p := range collection {
		r, _ := p.Relationship("user")
		owner, ok := r.Entity()
		is.True(ok)
		is.True(owner == user)
	}
}

func TestResolveEarlyHasConcreteEntitiesAtExtraction(t *testing.T) {
	is, _, s := testSetup(t, test.Blog())

	q, err := s.RunQuery(context.Background(), "blog", "User", provider.NewQuery(provider.IDs("ids", []string{"1"})), WithPolicy(policy.ResolveEarly))
	is.NoErr(err)

	is.True(q.Next(context.Background()))
	user := q.Entity()

	posts, _ := user.Relationship("posts")
	collection, ok := posts.Entities()
	is.True(ok)
	is.Equal(len(collection), 2)
	is.Equal(q.Pending(), 0)

	comments, _ := collection[0].Relationship("comments")
	c, ok := comments.Entities()
	is.True(ok)
	is.Equal(len(c), 2)

	author, _ := c[0].Relationship("author")
	grace, ok := author.Entity()
	is.True(ok)
	is.Equal(grace.ID(), "2")
}

func TestDoNotResolveLeavesPlaceholdersForTheCaller(t *testing.T) {
	is, backend, s := testSetup(t, test.Blog())

	q, err := s.RunQuery(context.Background(), "blog", "User", provider.NewQuery(provider.IDs("ids", []string{"1"})))
	is.NoErr(err)

	users, err := q.Collect(context.Background())
	is.NoErr(err)
	is.Equal(len(users), 1)

	posts, _ := users[0].Relationship("posts")
	is.True(posts.IsPlaceholder())
	is.Equal(backend.RequestCount("/posts"), 0)

	tree := graph.Serialize(users[0])
	is.Equal(tree["posts"].(map[string]any)["unresolved"], true)

	posts, err = Resolve(context.Background(), users[0], "posts")
	is.NoErr(err)

	collection, ok := posts.Entities()
	is.True(ok)
	is.Equal(len(collection), 2)
}

func TestResolvedGraphSerializesWithoutCycles(t *testing.T) {
	is, _, s := testSetup(t, test.Blog())

	q, err := s.RunQuery(context.Background(), "blog", "User", provider.NewQuery(provider.IDs("ids", []string{"1"})), WithPolicy(policy.ResolveLate))
	is.NoErr(err)

	users, err := q.Collect(context.Background())
	is.NoErr(err)

	tree := graph.Serialize(users[0])

	post := tree["posts"].([]any)[0].(map[string]any)
	is.Equal(post["user"], map[string]any{"type": "User", "id": "1", "reason": graph.CircularReference})
}

func TestQueryReadsEveryPage(t *testing.T) {
	is, backend, s := testSetup(t, test.Blog())

	q, err := s.RunQuery(context.Background(), "blog", "User", nil)
	is.NoErr(err)

	ids := []string{}
	for e, err := range q.All(context.Background()) {
		is.NoErr(err)
		ids = append(ids, e.ID())
	}

	is.Equal(ids, []string{"1", "2", "3", "4", "5"})
	is.Equal(backend.RequestCount("/users"), 3)
	is.Equal(s.Identities().Len(), 5)
}

func TestQueryWithPager(t *testing.T) {
	is, backend, s := testSetup(t, test.Blog())

	pg := pager.NewCursorPager(pager.CursorKey("page"), pager.PageSize(5, "limit"), pager.Start(1))

	q, err := s.RunQuery(context.Background(), "blog", "User", nil, WithPager(pg))
	is.NoErr(err)

	users, err := q.Collect(context.Background())
	is.NoErr(err)

	is.Equal(len(users), 5)
	is.Equal(backend.RequestCount("/users"), 2) // a full page of five is followed by an empty one
}

func TestQueriesShareInstances(t *testing.T) {
	is, _, s := testSetup(t, test.Blog())

	users, err := collect(s, "User", nil)
	is.NoErr(err)

	posts, err := collect(s, "Post", nil)
	is.NoErr(err)

	r, _ := posts[0].Relationship("user")
	owner, ok := r.Entity()
	is.True(ok) // the user was already known so no placeholder was needed
	is.True(owner == users[0])

	again, err := collect(s, "User", provider.NewQuery(provider.IDs("ids", []string{"1"})))
	is.NoErr(err)
	is.True(again[0] == users[0])
}

func TestStopIsCheckedBetweenPages(t *testing.T) {
	is, backend, s := testSetup(t, test.Blog())

	q, err := s.RunQuery(context.Background(), "blog", "User", nil)
	is.NoErr(err)

	is.True(q.Next(context.Background()))
	s.Stop()

	is.True(q.Next(context.Background())) // the rest of the page is still handed out
	is.True(!q.Next(context.Background()))
	is.True(errors.Is(q.Err(), syncerrors.ErrStopped))
	is.Equal(backend.RequestCount("/users"), 1)

	is.Equal(s.Restart("blog"), 2)
	is.True(!s.Stopped())
	is.Equal(s.Identities().Len(), 0)
}

func TestRunConcurrently(t *testing.T) {
	is, _, s := testSetup(t, test.Blog())

	var count atomic.Int32

	err := s.RunConcurrently(context.Background(), []QuerySpec{
		{ProviderID: "blog", EntityType: "User"},
		{ProviderID: "blog", EntityType: "Post"},
		{ProviderID: "blog", EntityType: "Comment"},
	}, func(spec QuerySpec, e entities.Entity) error {
		count.Add(1)
		return nil
	})

	is.NoErr(err)
	is.Equal(count.Load(), int32(10))
	is.Equal(s.Identities().Len(), 10)
}

func TestRunConcurrentlyReportsFailure(t *testing.T) {
	is, _, s := testSetup(t, test.Blog())

	err := s.RunConcurrently(context.Background(), []QuerySpec{
		{ProviderID: "blog", EntityType: "User"},
		{ProviderID: "shop", EntityType: "Order"},
	}, nil)

	is.True(errors.Is(err, syncerrors.ErrUnknownProvider))
}

func TestLateResolutionFailureKeepsInternedEntities(t *testing.T) {
	fixtures := test.Blog()
	fixtures["posts"] = append(fixtures["posts"], test.Record{"id": 13, "title": "Orphan", "user": 99})

	is, _, s := testSetup(t, fixtures)

	q, err := s.RunQuery(context.Background(), "blog", "Post", nil, WithPolicy(policy.ResolveLate))
	is.NoErr(err)

	_, err = q.Collect(context.Background())
	is.True(errors.Is(err, syncerrors.ErrResolution))

	_, ok := s.Identities().Lookup(entities.NewKey("blog", "User", 1))
	is.True(ok) // users found by the failing batch are kept
	_, ok = s.Identities().Lookup(entities.NewKey("blog", "Post", 13))
	is.True(ok)
}

func TestUnknownProviderAndType(t *testing.T) {
	is, _, s := testSetup(t, test.Blog())

	_, err := s.RunQuery(context.Background(), "shop", "Order", nil)
	is.True(errors.Is(err, syncerrors.ErrUnknownProvider))

	_, err = s.RunQuery(context.Background(), "blog", "Order", nil)
	is.True(errors.Is(err, syncerrors.ErrUnknownEntityType))
}

func collect(s *Session, entityType string, query transport.Query) ([]entities.Entity, error) {
	q, err := s.RunQuery(context.Background(), "blog", entityType, query)
	if err != nil {
		return nil, err
	}
	return q.Collect(context.Background())
}

func testSetup(t *testing.T, fixtures map[string][]test.Record) (*is.I, *test.Backend, *Session) {
	is := is.New(t)

	backend := test.NewBackend(fixtures)
	t.Cleanup(backend.Close)

	cfg, err := provider.LoadConfiguration(strings.NewReader(test.BlogConfig(backend.URL())))
	is.NoErr(err)

	providers, err := provider.NewFromConfig(cfg, transport.NewHTTPTransport())
	is.NoErr(err)

	s := New(WithSource(providers[0]))

	return is, backend, s
}
