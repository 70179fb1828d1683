package live

import (
	"context"
	"sync"
	"time"

	"github.com/didcomm-mediator/mediator/apperr"
	"github.com/didcomm-mediator/mediator/dispatcher"
)

// registration is the coordinator's private record for one DID hash.
type registration struct {
	endpoint Endpoint
	active   bool
}

// command is the closed set of requests the single owning goroutine
// accepts; each carries its own reply channel so callers can treat the
// public methods below as synchronous calls despite the message-passing
// ownership model (spec §5: "ownership by a single task reached via
// message passing").
type command struct {
	kind     commandKind
	didHash  string
	endpoint Endpoint
	msg      PubSubMessage
	reply    chan error
	boolOut  chan bool
}

type commandKind int

const (
	cmdRegister commandKind = iota
	cmdStart
	cmdStop
	cmdDeregister
	cmdIsActive
	cmdPubSub
)

// Coordinator owns the registration map and the mediator's pub/sub
// subscription. Exactly one Coordinator exists per mediator instance,
// matching the session.Manager/Manager-owns-one-map shape used elsewhere
// in this codebase.
type Coordinator struct {
	pubsub  PubSub
	state   StateStore
	channel string

	cmds chan command
	done chan struct{}
	wg   sync.WaitGroup

	regs map[string]*registration // accessed only from the run loop
}

var _ dispatcher.Coordinator = (*Coordinator)(nil)

// NewCoordinator creates a coordinator bound to one mediator-instance pub/sub
// channel (`CHANNEL:<mediator_uuid>`, spec §4.9).
func NewCoordinator(pubsub PubSub, state StateStore, channel string) *Coordinator {
	return &Coordinator{
		pubsub:  pubsub,
		state:   state,
		channel: channel,
		cmds:    make(chan command, 64),
		done:    make(chan struct{}),
		regs:    make(map[string]*registration),
	}
}

// Start launches the command-processing loop and the pub/sub receive loop.
// Both run until ctx is cancelled or Close is called.
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.runCommands(ctx)
	go c.runSubscription(ctx)
}

// Close stops both loops and waits for them to exit.
func (c *Coordinator) Close() {
	close(c.done)
	c.wg.Wait()
}

// Register inserts or replaces the live endpoint for a DID hash. On
// replace, the previous endpoint receives Close("duplicate-channel").
func (c *Coordinator) Register(didHash string, endpoint Endpoint) error {
	return c.call(command{kind: cmdRegister, didHash: didHash, endpoint: endpoint})
}

// startDID flips a registration's active flag on, mirroring it to the shared
// state store.
func (c *Coordinator) startDID(didHash string) error {
	return c.call(command{kind: cmdStart, didHash: didHash})
}

// stopDID flips a registration's active flag off, mirroring it to the shared
// state store.
func (c *Coordinator) stopDID(didHash string) error {
	return c.call(command{kind: cmdStop, didHash: didHash})
}

// SetActive implements dispatcher.Coordinator: active maps to Start/Stop.
func (c *Coordinator) SetActive(didHash string, active bool) error {
	if active {
		return c.startDID(didHash)
	}
	return c.stopDID(didHash)
}

// Deregister removes a registration outright and clears the shared store
// entry.
func (c *Coordinator) Deregister(didHash string) error {
	return c.call(command{kind: cmdDeregister, didHash: didHash})
}

// IsActive reports whether a DID hash's registration is currently flagged
// active, consulted by the dispatcher's status reply (spec §4.4).
func (c *Coordinator) IsActive(didHash string) bool {
	out := make(chan bool, 1)
	select {
	case c.cmds <- command{kind: cmdIsActive, didHash: didHash, boolOut: out}:
	case <-c.done:
		return false
	}
	select {
	case active := <-out:
		return active
	case <-c.done:
		return false
	}
}

func (c *Coordinator) call(cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return apperr.New(apperr.KindInternalError, "coordinator is shutting down")
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-c.done:
		return apperr.New(apperr.KindInternalError, "coordinator is shutting down")
	}
}

func (c *Coordinator) runCommands(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case cmd := <-c.cmds:
			c.handle(ctx, cmd)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdRegister:
		if prev, ok := c.regs[cmd.didHash]; ok && prev.endpoint != nil {
			_ = prev.endpoint.Close("duplicate-channel")
		}
		c.regs[cmd.didHash] = &registration{endpoint: cmd.endpoint}
		cmd.reply <- nil
	case cmdStart:
		reg := c.regOrNew(cmd.didHash)
		reg.active = true
		cmd.reply <- c.state.SetActive(ctx, cmd.didHash, true)
	case cmdStop:
		reg := c.regOrNew(cmd.didHash)
		reg.active = false
		cmd.reply <- c.state.SetActive(ctx, cmd.didHash, false)
	case cmdDeregister:
		delete(c.regs, cmd.didHash)
		cmd.reply <- c.state.Clear(ctx, cmd.didHash)
	case cmdIsActive:
		reg, ok := c.regs[cmd.didHash]
		cmd.boolOut <- ok && reg.active
	case cmdPubSub:
		c.deliver(ctx, cmd.msg)
	}
}

func (c *Coordinator) regOrNew(didHash string) *registration {
	reg, ok := c.regs[didHash]
	if !ok {
		reg = &registration{}
		c.regs[didHash] = reg
	}
	return reg
}

// deliver implements spec §4.9's pub/sub record handling: send if active or
// forced, otherwise drop and clear the shared live-stream flag.
func (c *Coordinator) deliver(ctx context.Context, msg PubSubMessage) {
	reg, ok := c.regs[msg.DIDHash]
	if !ok || reg.endpoint == nil {
		return
	}
	if reg.active || msg.ForceDelivery {
		_ = reg.endpoint.Send(msg.Message)
		return
	}
	reg.active = false
	_ = c.state.SetActive(ctx, msg.DIDHash, false)
}

// runSubscription owns the pub/sub receive loop, reconnecting with a
// 1-second back-off whenever the subscription drops (spec §4.9).
func (c *Coordinator) runSubscription(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		ch, err := c.pubsub.Subscribe(ctx, c.channel)
		if err != nil {
			if !sleepOrDone(ctx, c.done, time.Second) {
				return
			}
			continue
		}
		c.drain(ctx, ch)
	}
}

func (c *Coordinator) drain(ctx context.Context, ch <-chan PubSubMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return // subscription dropped; runSubscription will back off and retry
			}
			select {
			case c.cmds <- command{kind: cmdPubSub, msg: msg}:
			case <-c.done:
				return
			}
		}
	}
}

func sleepOrDone(ctx context.Context, done chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-done:
		return false
	}
}
