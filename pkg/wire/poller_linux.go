//go:build linux

package wire

import (
	"encoding/binary"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller implements Poller over epoll(7), with an eventfd(2) used as
// the wakeup channel so Wake never touches the watched descriptors.
type epollPoller struct {
	epfd   int
	wakefd int
	events []unix.EpollEvent
}

// NewPoller returns the platform poller. On Linux it is backed by epoll in
// level-triggered mode.
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, err
	}

	return &epollPoller{
		epfd:   epfd,
		wakefd: wakefd,
		events: make([]unix.EpollEvent, 128),
	}, nil
}

func (p *epollPoller) Register(fd int, interest Interest) error {
	var events uint32
	if interest&WantRead != 0 {
		events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest&WantWrite != 0 {
		events |= unix.EPOLLOUT
	}

	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	if err == unix.ENOENT {
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	}
	return err
}

func (p *epollPoller) Deregister(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	return err
}

func (p *epollPoller) Poll(timeout time.Duration) ([]Readiness, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
		if ms == 0 && timeout > 0 {
			ms = 1
		}
	}

	var n int
	var err error
	for {
		n, err = unix.EpollWait(p.epfd, p.events, ms)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	var ready []Readiness
	for i := 0; i < n; i++ {
		ev := p.events[i]
		if int(ev.Fd) == p.wakefd {
			p.drainWake()
			continue
		}
		ready = append(ready, Readiness{
			FD: int(ev.Fd),
			// Hangups and errors count as both conditions so the engine
			// discovers them on its next read or write attempt.
			Readable: ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			Writable: ev.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0,
		})
	}
	return ready, nil
}

func (p *epollPoller) Wake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(p.wakefd, buf[:])
	// The counter is saturated, a wakeup is already pending.
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *epollPoller) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakefd, buf[:]); err != nil {
			return
		}
	}
}

// Close releases the epoll instance. It must not be called while another
// goroutine is blocked in Poll.
func (p *epollPoller) Close() error {
	err := unix.Close(p.wakefd)
	if cerr := unix.Close(p.epfd); err == nil {
		err = cerr
	}
	return err
}
