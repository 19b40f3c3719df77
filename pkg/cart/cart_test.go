package cart

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndItems(t *testing.T) {
	s := NewStore()

	s.Add("t1", Item{ProductID: "p1", Name: "Молоко 3.2%", Quantity: 2, Price: 89})
	s.Add("t1", Item{ProductID: "p2", Name: "Хлеб бородинский", Quantity: 1, Price: 45})

	items := s.Items("t1")
	require.Len(t, items, 2)
	assert.Equal(t, "p1", items[0].ProductID)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, "p2", items[1].ProductID)
}

func TestAddMergesByProductID(t *testing.T) {
	s := NewStore()

	s.Add("t1", Item{ProductID: "p1", Name: "Молоко", Quantity: 1})
	s.Add("t1", Item{ProductID: "p1", Quantity: 2})

	items := s.Items("t1")
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Quantity)
	assert.Equal(t, "Молоко", items[0].Name, "empty name does not erase the stored one")
}

func TestAddRefreshesNameAndPrice(t *testing.T) {
	s := NewStore()

	s.Add("t1", Item{ProductID: "p1", Name: "Молоко", Quantity: 1})
	s.Add("t1", Item{ProductID: "p1", Name: "Молоко 3.2%", Quantity: 1, Price: 89})

	items := s.Items("t1")
	require.Len(t, items, 1)
	assert.Equal(t, "Молоко 3.2%", items[0].Name)
	assert.Equal(t, 89.0, items[0].Price)
}

func TestAddDefaultsQuantityToOne(t *testing.T) {
	s := NewStore()

	s.Add("t1", Item{ProductID: "p1"})
	s.Add("t1", Item{ProductID: "p2", Quantity: -3})

	items := s.Items("t1")
	require.Len(t, items, 2)
	assert.Equal(t, 1, items[0].Quantity)
	assert.Equal(t, 1, items[1].Quantity)
}

func TestRemove(t *testing.T) {
	s := NewStore()

	s.Add("t1", Item{ProductID: "p1", Quantity: 1})
	s.Add("t1", Item{ProductID: "p2", Quantity: 1})

	assert.True(t, s.Remove("t1", "p1"))
	assert.False(t, s.Remove("t1", "p1"))

	items := s.Items("t1")
	require.Len(t, items, 1)
	assert.Equal(t, "p2", items[0].ProductID)
}

func TestTasksAreIsolated(t *testing.T) {
	s := NewStore()

	s.Add("t1", Item{ProductID: "p1", Quantity: 1})
	s.Add("t2", Item{ProductID: "p2", Quantity: 5})

	require.Len(t, s.Items("t1"), 1)
	require.Len(t, s.Items("t2"), 1)
	assert.Equal(t, "p1", s.Items("t1")[0].ProductID)
	assert.Equal(t, "p2", s.Items("t2")[0].ProductID)

	s.Clear("t1")
	assert.Empty(t, s.Items("t1"))
	assert.Len(t, s.Items("t2"), 1)
}

func TestTotal(t *testing.T) {
	s := NewStore()

	s.Add("t1", Item{ProductID: "p1", Quantity: 2, Price: 89})
	s.Add("t1", Item{ProductID: "p2", Quantity: 1, Price: 45})
	s.Add("t1", Item{ProductID: "p3", Quantity: 3})

	assert.Equal(t, 223.0, s.Total("t1"))
}

func TestItemsReturnsCopy(t *testing.T) {
	s := NewStore()

	s.Add("t1", Item{ProductID: "p1", Quantity: 1})

	items := s.Items("t1")
	items[0].Quantity = 100

	assert.Equal(t, 1, s.Items("t1")[0].Quantity)
}

func TestZeroValueReady(t *testing.T) {
	var s Store

	s.Add("t1", Item{ProductID: "p1", Quantity: 1})
	assert.Len(t, s.Items("t1"), 1)
}

func TestConcurrentAccess(t *testing.T) {
	s := NewStore()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			taskID := fmt.Sprintf("t%d", i%4)
			s.Add(taskID, Item{ProductID: fmt.Sprintf("p%d", i), Quantity: 1})
			s.Items(taskID)
			s.Total(taskID)
		})
	}
	wg.Wait()

	total := 0
	for _, taskID := range []string{"t0", "t1", "t2", "t3"} {
		total += len(s.Items(taskID))
	}
	assert.Equal(t, 20, total)
}
