//go:build !race

package connect

func passwordHashCost() int {
	return 12
}
