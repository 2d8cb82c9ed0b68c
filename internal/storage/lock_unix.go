//go:build unix

package storage

import (
	"context"
	"os"
	"syscall"
	"time"

	"trader/pkg/exception"

	"github.com/yanun0323/errors"
)

const _lockRetryInterval = 10 * time.Millisecond

// fileLock is an exclusive flock(2) on a sidecar file. It serializes writers
// across processes; goroutines in one process are serialized by the caller.
type fileLock struct {
	f *os.File
}

func acquireLock(ctx context.Context, path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open lock file")
	}

	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return &fileLock{f: f}, nil
		}
		if err != syscall.EWOULDBLOCK && err != syscall.EINTR {
			_ = f.Close()
			return nil, errors.Wrap(err, "flock")
		}

		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, errors.Wrap(exception.ErrStoreLocked, ctx.Err().Error())
		case <-time.After(_lockRetryInterval):
		}
	}
}

func (l *fileLock) release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	return err
}
