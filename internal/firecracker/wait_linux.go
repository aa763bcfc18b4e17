//go:build linux

package firecracker

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

const inotifyEventSize = 16 // sizeof(struct inotify_event) with zero-length name

// waitForFileCreation blocks until path exists, ctx is cancelled, or an
// inotify error occurs. It watches the containing directory rather than
// polling path directly, so it reacts the moment Firecracker creates it.
func waitForFileCreation(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)

	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK)
	if err != nil {
		return fmt.Errorf("inotify_init: %w", err)
	}
	defer unix.Close(fd)

	wd, err := unix.InotifyAddWatch(fd, dir, unix.IN_CREATE|unix.IN_MOVED_TO)
	if err != nil {
		return fmt.Errorf("inotify_add_watch %s: %w", dir, err)
	}
	defer unix.InotifyRmWatch(fd, uint32(wd))

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	defer unix.Close(epfd)

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}); err != nil {
		return fmt.Errorf("epoll_ctl: %w", err)
	}

	// a file may have been created between the Stat above and the watch
	// being armed; check once more now that we're watching.
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	buf := make([]byte, 4096)
	events := make([]unix.EpollEvent, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := unix.EpollWait(epfd, events, 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}
		if n == 0 {
			continue
		}

		nread, err := unix.Read(fd, buf)
		if err != nil || nread < inotifyEventSize {
			continue
		}

		offset := 0
		for offset+inotifyEventSize <= nread {
			nameLen := binary.LittleEndian.Uint32(buf[offset+12 : offset+16])
			nameStart := offset + inotifyEventSize
			nameEnd := nameStart + int(nameLen)
			if nameEnd > nread {
				break
			}
			raw := buf[nameStart:nameEnd]
			name := unsafe.String(&raw[0], len(raw))
			for i, c := range name {
				if c == 0 {
					name = name[:i]
					break
				}
			}
			if name == base {
				return nil
			}
			offset = nameEnd
		}
	}
}
