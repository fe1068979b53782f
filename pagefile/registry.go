package pagefile

import "sync"

// Open file registry. Mirrors the on-disk ownership rule: at teardown the
// buffer pool only writes back frames whose backing file is still open.
var (
	registryLock sync.Mutex
	openFiles    = make(map[string]int)
)

func registerOpen(path string) {
	registryLock.Lock()
	defer registryLock.Unlock()
	openFiles[path]++
}

func registerClose(path string) {
	registryLock.Lock()
	defer registryLock.Unlock()
	if openFiles[path] <= 1 {
		delete(openFiles, path)
		return
	}
	openFiles[path]--
}

func IsOpen(path string) bool {
	registryLock.Lock()
	defer registryLock.Unlock()
	return openFiles[path] > 0
}
