package identity

import (
	"sync"
	"testing"

	"github.com/diwise/entity-sync/pkg/entities"
	"github.com/matryer/is"
)

func TestInternReturnsFirstCandidate(t *testing.T) {
	is := is.New(t)
	m := New()

	key := entities.NewKey("blog", "User", 1)
	a := entities.New("blog", "User", 1, entities.Attr("name", "first"))
	b := entities.New("blog", "User", 1, entities.Attr("name", "second"))

	first := m.Intern(key, a)
	second := m.Intern(key, b)

	is.True(first == entities.Entity(a))
	is.True(second == entities.Entity(a)) // the second candidate must be discarded

	name, _ := second.Attribute("name")
	is.Equal(name, "first") // no merging of candidate data
}

func TestInternWithoutIDNeverDeduplicates(t *testing.T) {
	is := is.New(t)
	m := New()

	key := entities.NewKey("blog", "Draft", nil)
	a := entities.New("blog", "Draft", nil)
	b := entities.New("blog", "Draft", nil)

	is.True(m.Intern(key, a) == entities.Entity(a))
	is.True(m.Intern(key, b) == entities.Entity(b))

	_, found := m.Lookup(key)
	is.True(!found) // entities without identity cannot be looked up
	is.Equal(m.Len(), 0)
	is.Equal(m.Forget("blog"), 0)
}

func TestForgetDropsOnlyOneProvider(t *testing.T) {
	is := is.New(t)
	m := New()

	m.Intern(entities.NewKey("blog", "User", 1), entities.New("blog", "User", 1))
	m.Intern(entities.NewKey("blog", "User", 2), entities.New("blog", "User", 2))
	m.Intern(entities.NewKey("blog", "Draft", nil), entities.New("blog", "Draft", nil))
	m.Intern(entities.NewKey("crm", "User", 1), entities.New("crm", "User", 1))

	is.Equal(m.Forget("blog"), 2) // entities without an id were never retained
	is.Equal(m.Len(), 1)

	_, found := m.Lookup(entities.NewKey("crm", "User", 1))
	is.True(found) // other providers are left alone

	fresh := entities.New("blog", "User", 1)
	is.True(m.Intern(entities.NewKey("blog", "User", 1), fresh) == entities.Entity(fresh))
}

func TestConcurrentInternAgreesOnOneInstance(t *testing.T) {
	is := is.New(t)
	m := New()
	key := entities.NewKey("blog", "User", 7)

	results := make([]entities.Entity, 32)

	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.Intern(key, entities.New("blog", "User", 7))
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		is.True(r == results[0]) // every caller must get the same instance
	}
}
