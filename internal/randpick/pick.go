// Package randpick provides the uniform-random selection used to pick
// a problem out of a rating partition when a game starts.
package randpick

import "math/rand"

// One returns a uniformly random element of items. Panics on an empty
// slice; callers are expected to check InsufficientProblems themselves
// before calling.
func One[T any](items []T) T {
	return items[rand.Intn(len(items))]
}
