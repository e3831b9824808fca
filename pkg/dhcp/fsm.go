package dhcp

import "time"

// Tick advances the timers of the current state. It runs from the
// network task with the lock held.
func (c *Client) Tick(now time.Time) {
	switch c.state {
	case StateInit:
		c.stateInit(now, StateSelecting)
	case StateSelecting:
		c.stateSelecting(now)
	case StateRequesting, StateRebooting:
		c.stateRequesting(now)
	case StateInitReboot:
		c.stateInit(now, StateRebooting)
	case StateBound:
		c.stateBound(now)
	case StateRenewing:
		c.stateRenewing(now)
	case StateRebinding:
		c.stateRebinding(now)
	}
}

func (c *Client) due(now time.Time) bool {
	return !now.Before(c.timestamp.Add(c.timeout))
}

func (c *Client) jitter() time.Duration {
	ms := int(RandFactor / time.Millisecond)
	return time.Duration(c.stack.RandRange(-ms, ms)) * time.Millisecond
}

// stateInit waits for the link, then moves on after a random delay that
// spreads out clients booting together.
func (c *Client) stateInit(now time.Time, next State) {
	if !c.running || !c.iface.LinkState() {
		return
	}
	delay := time.Duration(c.stack.RandRange(0, int(InitDelay/time.Millisecond))) * time.Millisecond
	c.configStartTime = now
	c.timeoutEventDone = false
	c.changeState(next, delay)
}

func (c *Client) stateSelecting(now time.Time) {
	if c.due(now) {
		if c.retransmitCount == 0 {
			c.xid = c.stack.RandUint32()
			c.retransmitRT = DiscoverInitRT
		} else {
			c.retransmitRT = min(c.retransmitRT*2, DiscoverMaxRT)
		}
		c.sendDiscover(now)
		c.timestamp = now
		c.timeout = c.retransmitRT + c.jitter()
		c.retransmitCount++
	}
	c.checkTimeout(now)
}

// stateRequesting covers REQUESTING and REBOOTING, which only differ in
// the request they send.
func (c *Client) stateRequesting(now time.Time) {
	if c.due(now) {
		if c.retransmitCount >= RequestMaxRC {
			c.log.Warn("dhcp request unanswered", map[string]any{"state": c.state.String()})
			c.changeState(StateInit, 0)
			return
		}
		if c.retransmitCount == 0 {
			if c.state == StateRebooting {
				c.xid = c.stack.RandUint32()
			}
			c.retransmitRT = RequestInitRT
		} else {
			c.retransmitRT = min(c.retransmitRT*2, RequestMaxRT)
		}
		c.sendRequest(now)
		c.timestamp = now
		c.timeout = c.retransmitRT + c.jitter()
		c.retransmitCount++
	}
	c.checkTimeout(now)
}

func (c *Client) stateBound(now time.Time) {
	if c.lease.Infinite {
		return
	}
	if !now.Before(c.lease.Obtained.Add(c.lease.T1)) {
		c.configStartTime = now
		c.changeState(StateRenewing, 0)
	}
}

func (c *Client) stateRenewing(now time.Time) {
	if !c.due(now) {
		return
	}
	t2 := c.lease.Obtained.Add(c.lease.T2)
	if !now.Before(t2) {
		c.changeState(StateRebinding, 0)
		return
	}
	if c.retransmitCount == 0 {
		c.xid = c.stack.RandUint32()
	}
	c.sendRequest(now)
	c.timestamp = now
	c.timeout = retransmitBefore(now, t2)
	c.retransmitCount++
}

func (c *Client) stateRebinding(now time.Time) {
	if !c.due(now) {
		return
	}
	expiry := c.lease.Obtained.Add(c.lease.LeaseTime)
	if !now.Before(expiry) {
		c.log.Warn("dhcp lease expired", map[string]any{"addr": c.lease.Addr.String()})
		c.resetConfig()
		c.changeState(StateInit, 0)
		return
	}
	if c.retransmitCount == 0 {
		c.xid = c.stack.RandUint32()
	}
	c.sendRequest(now)
	c.timestamp = now
	c.timeout = retransmitBefore(now, expiry)
	c.retransmitCount++
}

// retransmitBefore waits half of the time left until deadline, down to
// RequestMinDelay (RFC 2131 section 4.4.5).
func retransmitBefore(now, deadline time.Time) time.Duration {
	if deadline.Sub(now) > 2*RequestMinDelay {
		return deadline.Sub(now) / 2
	}
	return RequestMinDelay
}

// checkTimeout reports an acquisition that takes longer than configured,
// once per attempt.
func (c *Client) checkTimeout(now time.Time) {
	if c.settings.Timeout <= 0 || c.timeoutEventDone {
		return
	}
	if now.Sub(c.configStartTime) < c.settings.Timeout {
		return
	}
	c.timeoutEventDone = true
	c.log.Warn("dhcp configuration timeout", map[string]any{"state": c.state.String()})
	if cb := c.settings.TimeoutEvent; cb != nil {
		cb(c, c.iface)
	}
}
