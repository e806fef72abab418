// Package asio implements C11: the asynchronous I/O event backend that
// lets actors subscribe file descriptors for readability/writability
// notifications without blocking a scheduler thread.
//
// Grounded on
// _examples/original_source/src/libponyrt/asio/asio.c,
// _examples/original_source/src/libponyrt/asio/epoll.c, and
// _examples/original_source/src/libponyrt/asio/event.c, all read in
// full: a single dispatcher thread running one epoll instance, an
// eventfd used purely to break epoll_wait out of its wait so the
// thread can exit, edge-triggered (EPOLLET) subscriptions, and a
// noisy-subscription counter that gates whether the runtime is allowed
// to treat itself as quiescent (asio_noisy_add/asio_noisy_remove).
//
// Deliberate deviation: the original dispatches a triggered event by
// allocating an asio_msg_t and calling pony_sendv to the owning actor,
// so the actual I/O handling always runs on that actor's own
// scheduler thread. Subscribe here instead takes a callback invoked
// directly on the dispatcher goroutine; nothing in this package sends a
// message to an actor, so the handling runs on that goroutine.
// Separately,
// Linux's epoll_event only carries an int32 fd (no arbitrary pointer
// slot the way the C union abuses epoll_event.data.ptr), so
// subscriptions are looked up by fd in a map instead of recovered
// from the kernel event itself.
package asio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Flags identifies which directions a subscription is interested in
// and which direction fired, mirroring ASIO_READ/ASIO_WRITE.
type Flags uint32

const (
	Read Flags = 1 << iota
	Write
)

// Subscription is one fd registered with a Backend, the Go analogue
// of asio_event_t (minus the actor-message fields, since delivery
// here is a direct callback).
type Subscription struct {
	fd      int
	flags   Flags
	noisy   bool
	onEvent func(Flags)
}

// Backend owns one epoll instance and its single dispatcher goroutine,
// the analogue of asio_base_t plus epoll.c's asio_backend_t.
type Backend struct {
	epfd   int
	wakeFD int

	noisyCount atomic.Int64

	mu   sync.Mutex
	subs map[int]*Subscription

	wg sync.WaitGroup
}

// New creates an epoll instance and its wakeup eventfd, the Go
// analogue of asio_backend_init.
func New() (*Backend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("asio: epoll_create1: %w", err)
	}

	wakeFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("asio: eventfd: %w", err)
	}

	b := &Backend{epfd: epfd, wakeFD: wakeFD, subs: make(map[int]*Subscription)}

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD,
		&unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFD)}); err != nil {
		unix.Close(wakeFD)
		unix.Close(epfd)
		return nil, fmt.Errorf("asio: epoll_ctl(wakeup): %w", err)
	}

	return b, nil
}

// Start launches the dispatcher goroutine, the analogue of asio_start.
func (b *Backend) Start() {
	b.wg.Add(1)
	go b.dispatch()
}

// Stop requests the dispatcher goroutine to exit and waits for it to
// do so, refusing while any noisy subscription remains active —
// mirrors asio_stop's noisy_count guard exactly.
func (b *Backend) Stop() bool {
	if b.noisyCount.Load() > 0 {
		return false
	}

	var one [8]byte
	one[0] = 1
	unix.Write(b.wakeFD, one[:])

	b.wg.Wait()
	return true
}

func (b *Backend) dispatch() {
	defer b.wg.Done()

	events := make([]unix.EpollEvent, 64) // MAX_EVENTS

	for {
		n, err := unix.EpollWait(b.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			fd := int(ev.Fd)

			if fd == b.wakeFD {
				unix.Close(b.epfd)
				unix.Close(b.wakeFD)
				return
			}

			b.mu.Lock()
			sub := b.subs[fd]
			b.mu.Unlock()
			if sub == nil {
				continue
			}

			var flags Flags
			if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				flags |= Read
			}
			if ev.Events&unix.EPOLLOUT != 0 {
				flags |= Write
			}

			sub.onEvent(flags)
		}
	}
}

// Subscribe registers fd for the given flags, invoking onEvent from
// the dispatcher goroutine whenever it fires. A noisy subscription
// prevents the runtime from considering itself quiescent while it is
// active. Mirrors asio_event_subscribe.
func (b *Backend) Subscribe(fd int, flags Flags, noisy bool, onEvent func(Flags)) *Subscription {
	sub := &Subscription{fd: fd, flags: flags, noisy: noisy, onEvent: onEvent}

	b.mu.Lock()
	b.subs[fd] = sub
	b.mu.Unlock()

	if noisy {
		b.noisyCount.Add(1)
	}

	var events uint32
	if flags&Read != 0 {
		events |= unix.EPOLLIN
	}
	if flags&Write != 0 {
		events |= unix.EPOLLOUT
	}
	events |= unix.EPOLLRDHUP | unix.EPOLLET

	unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: events, Fd: int32(fd)})

	return sub
}

// Unsubscribe deregisters sub, the analogue of asio_event_unsubscribe.
func (b *Backend) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub.fd)
	b.mu.Unlock()

	if sub.noisy {
		b.noisyCount.Add(-1)
	}

	unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, sub.fd, nil)
}

// NoisyCount reports the current count of active noisy subscriptions,
// the value asio_stop checks against zero before allowing shutdown.
func (b *Backend) NoisyCount() int64 {
	return b.noisyCount.Load()
}
