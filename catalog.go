package main

import (
	"crypto/rand"
)

// Catalog maps theme categories to their candidate secret words.
// Categories keep a stable order so draws stay uniform across the map.
type Catalog struct {
	categories []string
	words      map[string][]string
}

func defaultCatalog() *Catalog {
	return &Catalog{
		categories: []string{
			"Animals",
			"Food",
			"Appliances",
			"Sports",
			"Places",
		},
		words: map[string][]string{
			"Animals":    {"Lion", "Elephant", "Panda", "Giraffe", "Dolphin", "Octopus"},
			"Food":       {"Apple", "Banana", "Curry", "Ramen", "Rice Ball"},
			"Appliances": {"Television", "Refrigerator", "Microwave", "Washing Machine", "Air Conditioner"},
			"Sports":     {"Soccer", "Basketball", "Baseball", "Tennis", "Badminton"},
			"Places":     {"Tokyo Tower", "Mount Fuji", "School", "Convenience Store", "Park"},
		},
	}
}

// Draw picks a category uniformly, then a word uniformly within it.
// The index picker is injectable so game logic stays deterministic in tests.
func (c *Catalog) Draw(pick func(n int) int) (string, string) {
	category := c.categories[pick(len(c.categories))]
	words := c.words[category]

	return category, words[pick(len(words))]
}

// randIndex returns a uniform-ish index in [0, n) using crypto/rand.
func randIndex(n int) int {
	if n <= 1 {
		return 0
	}

	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}

	return int(b[0]) % n
}

// shuffleIDs performs a Fisher-Yates shuffle using crypto/rand.
func shuffleIDs(ids []string) {
	for i := len(ids) - 1; i > 0; i-- {
		var b [1]byte
		if _, err := rand.Read(b[:]); err != nil {
			continue
		}
		j := int(b[0]) % (i + 1)
		ids[i], ids[j] = ids[j], ids[i]
	}
}
