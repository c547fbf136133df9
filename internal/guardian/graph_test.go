package guardian

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCatalogDependencies(t *testing.T) {
	deps, err := normalizeCatalogDependencies(3, map[int][]int{2: {1, 0, 1}})
	require.NoError(t, err)
	assert.Equal(t, map[int][]int{2: {1, 0}}, deps)

	_, err = normalizeCatalogDependencies(2, map[int][]int{1: {1}})
	var catErr *CatalogError
	require.ErrorAs(t, err, &catErr)
	assert.Equal(t, 1, catErr.Index)
	assert.Equal(t, "dependencies", catErr.Field)
	assert.Equal(t, "catalog entry 1: dependencies: task cannot depend on itself", err.Error())
}

func TestValidateAcyclic(t *testing.T) {
	require.NoError(t, validateAcyclic(4, map[int][]int{1: {0}, 2: {0, 1}, 3: {2}}))

	err := validateAcyclic(3, map[int][]int{0: {1}, 1: {2}, 2: {0}})
	var cycle *DependencyCycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []int{0, 1, 2, 0}, cycle.Path)
	assert.Equal(t, "dependency cycle detected: #0 -> #1 -> #2 -> #0", err.Error())
}

func TestDependencyGraphReverseIndex(t *testing.T) {
	g := newDependencyGraph()
	g.set("c", []string{"a", "b"})
	g.set("d", []string{"a"})
	g.set("e", nil)

	assert.Equal(t, []string{"a", "b"}, g.prerequisitesOf("c"))
	assert.Equal(t, []string{"c", "d"}, g.dependentsOf("a"))
	assert.Empty(t, g.prerequisitesOf("e"))
}

func TestEventLogEvictsOldest(t *testing.T) {
	evicted := 0
	log, err := newEventLog(3, func(Event) { evicted++ })
	require.NoError(t, err)

	for _, id := range []string{"e1", "e2", "e3", "e4", "e5"} {
		log.append(Event{ID: id})
	}

	history := log.history()
	require.Len(t, history, 3)
	assert.Equal(t, "e3", history[0].ID)
	assert.Equal(t, "e5", history[2].ID)
	assert.Equal(t, 2, evicted)
}
