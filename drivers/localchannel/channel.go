// Package localchannel is an in-process NotificationChannel driver (spec
// §6.2) built on buffered Go channels, grounded on the teacher's corpus's
// LocalProvider messaging pattern. It is useful for single-process
// deployments and tests where cross-process notification delivery isn't
// required but the Scheduler facade should still exercise the full
// publish/subscribe contract.
package localchannel

import (
	"errors"
	"sync"

	"github.com/dnovik/scheduler"
)

const defaultBufSize = 256

// ErrClosed is returned by Publish/PublishState once Disconnect has run.
var ErrClosed = errors.New("localchannel: channel is closed")

// Channel is an in-process scheduler.NotificationChannel implementation.
type Channel struct {
	mu sync.RWMutex

	jobs   chan scheduler.JobNotification
	states chan scheduler.JobStateNotification

	jobListeners   []func(scheduler.JobNotification)
	stateListeners []func(scheduler.JobStateNotification)

	onStateChange []func(scheduler.ChannelState)
	onError       []func(error)

	state  scheduler.ChannelState
	closed bool
}

// New constructs a disconnected Channel.
func New() *Channel {
	return &Channel{state: scheduler.ChannelDisconnected}
}

// Connect opens the internal channels and starts the dispatch goroutines.
func (c *Channel) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.jobs = make(chan scheduler.JobNotification, defaultBufSize)
	c.states = make(chan scheduler.JobStateNotification, defaultBufSize)
	c.setState(scheduler.ChannelConnected)
	jobs, states := c.jobs, c.states
	c.mu.Unlock()

	go c.dispatchJobs(jobs)
	go c.dispatchStates(states)
	return nil
}

// Disconnect closes the internal channels; dispatch goroutines exit once drained.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.jobs != nil {
		close(c.jobs)
	}
	if c.states != nil {
		close(c.states)
	}
	c.setState(scheduler.ChannelDisconnected)
	return nil
}

// State reports the channel's current connection state.
func (c *Channel) State() scheduler.ChannelState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Channel) setState(s scheduler.ChannelState) {
	c.state = s
	for _, fn := range c.onStateChange {
		go fn(s)
	}
}

// Publish enqueues a JobNotification for delivery to subscribers.
func (c *Channel) Publish(n scheduler.JobNotification) (err error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrClosed
	}
	dest := c.jobs
	c.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			err = ErrClosed
		}
	}()
	select {
	case dest <- n:
		return nil
	default:
		c.reportError(errors.New("localchannel: job notification buffer full, dropping"))
		return nil
	}
}

// Subscribe registers a handler invoked for every published JobNotification.
func (c *Channel) Subscribe(handler func(scheduler.JobNotification)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobListeners = append(c.jobListeners, handler)
	return nil
}

// PublishState enqueues a JobStateNotification for delivery to subscribers.
func (c *Channel) PublishState(n scheduler.JobStateNotification) (err error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrClosed
	}
	dest := c.states
	c.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			err = ErrClosed
		}
	}()
	select {
	case dest <- n:
		return nil
	default:
		c.reportError(errors.New("localchannel: state notification buffer full, dropping"))
		return nil
	}
}

// SubscribeState registers a handler invoked for every published JobStateNotification.
func (c *Channel) SubscribeState(handler func(scheduler.JobStateNotification)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateListeners = append(c.stateListeners, handler)
	return nil
}

// OnStateChange registers a handler invoked whenever the channel's connection
// state transitions.
func (c *Channel) OnStateChange(handler func(scheduler.ChannelState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = append(c.onStateChange, handler)
}

// OnError registers a handler invoked when internal delivery fails (e.g. a
// full buffer silently dropping a message).
func (c *Channel) OnError(handler func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = append(c.onError, handler)
}

func (c *Channel) reportError(err error) {
	c.mu.RLock()
	handlers := c.onError
	c.mu.RUnlock()
	for _, h := range handlers {
		go h(err)
	}
}

func (c *Channel) dispatchJobs(ch chan scheduler.JobNotification) {
	for n := range ch {
		c.mu.RLock()
		snapshot := make([]func(scheduler.JobNotification), len(c.jobListeners))
		copy(snapshot, c.jobListeners)
		c.mu.RUnlock()
		for _, fn := range snapshot {
			go fn(n)
		}
	}
}

func (c *Channel) dispatchStates(ch chan scheduler.JobStateNotification) {
	for n := range ch {
		c.mu.RLock()
		snapshot := make([]func(scheduler.JobStateNotification), len(c.stateListeners))
		copy(snapshot, c.stateListeners)
		c.mu.RUnlock()
		for _, fn := range snapshot {
			go fn(n)
		}
	}
}
