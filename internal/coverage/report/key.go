package report

import (
	"github.com/zeebo/xxh3"
)

// MethodKey is a stable 64-bit hash of a method's module and qualified
// names, for matching methods across runs. Overloads share a key.
func MethodKey(module, typeName, method string) uint64 {
	return xxh3.HashString(module + "\x00" + typeName + "\x00" + method)
}
