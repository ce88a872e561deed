package lock

import "github.com/prn-tf/alexander-coord/internal/store"

// Key layout, per namespace (hash-tagged so all of a namespace's keys
// share one cluster slot):
//
//	{ns}:plock:<path>              lock token for <path>
//	{ns}:plock:descendants:<path>  count of locks held below <path>
//
// The formats are internal but stable: any instance must be able to
// release or refresh locks created by another.

func lockKey(namespace, path string) string {
	return store.HashTag(namespace) + ":plock:" + path
}

func descendantsKey(namespace, path string) string {
	return store.HashTag(namespace) + ":plock:descendants:" + path
}
