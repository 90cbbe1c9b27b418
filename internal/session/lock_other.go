//go:build !unix

package session

// On platforms without flock, cross-process exclusion is best-effort:
// the in-process mutex in Store still serializes goroutines, which
// covers the common single-agent case.
type fileLock struct{}

func acquireFileLock(dir string) (*fileLock, error) {
	return &fileLock{}, nil
}

func (l *fileLock) release() {}
