package electrum

import (
	"context"
	"errors"
	"time"

	"github.com/vulpemventures/electrum-link/internal/core/domain"
)

// Ping sends server.ping, the server replies with a null result.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Request(ctx, methodPing)
	return err
}

// startKeepAlive starts the keep-alive goroutine of the connection with the
// given epoch. Runs in the loop.
func (c *Client) startKeepAlive(epoch uint64) {
	c.stopKeepAlive()

	chStop := make(chan struct{})
	c.chStopKeepAlive = chStop
	go c.keepAlive(epoch, chStop)
}

// stopKeepAlive runs in the loop.
func (c *Client) stopKeepAlive() {
	if c.chStopKeepAlive != nil {
		close(c.chStopKeepAlive)
		c.chStopKeepAlive = nil
	}
}

// keepAlive pings the server at every tick unless a request was sent within
// the last half interval. A failed ping drops the connection.
func (c *Client) keepAlive(epoch uint64, chStop chan struct{}) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-chStop:
			return
		case <-ticker.C:
		}

		var idle, stale bool
		c.exec(func() {
			if c.epoch != epoch {
				stale = true
				return
			}
			idle = time.Since(c.lastCall) >= c.interval/2
		})
		if stale {
			return
		}
		if !idle {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.interval/2)
		err := c.Ping(ctx)
		cancel()
		if err != nil {
			c.warn(err, "failed to keep connection alive")
			c.dropConnection(epoch)
			return
		}
	}
}

// dropConnection tears down the connection with the given epoch as if it was
// closed by the server.
func (c *Client) dropConnection(epoch uint64) {
	var socket Socket
	c.exec(func() {
		if c.epoch != epoch || c.status != StatusConnected {
			return
		}
		socket = c.teardown(domain.ErrConnectionClosed)
		if c.opts.Persistence.enabled() {
			c.startReconnect()
		}
	})
	if socket != nil {
		socket.Close()
	}
}

// startReconnect runs in the loop.
func (c *Client) startReconnect() {
	if c.cancelReconnect != nil {
		c.cancelReconnect()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelReconnect = cancel
	go c.reconnect(ctx)
}

// reconnect makes up to MaxRetry connection attempts with exponential
// backoff, then gives up. Close cancels ctx.
func (c *Client) reconnect(ctx context.Context) {
	policy := c.opts.Persistence
	backoff := policy.backoff()

	var err error
	for attempt := 1; attempt <= policy.MaxRetry; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		if _, err = c.Connect(ctx); err == nil {
			c.log("reconnected to %s after %d attempt(s)", c.url(), attempt)
			return
		}
		if errors.Is(err, domain.ErrAlreadyConnected) || ctx.Err() != nil {
			return
		}

		c.warn(
			err, "reconnect attempt %d/%d to %s failed",
			attempt, policy.MaxRetry, c.url(),
		)
		if backoff *= 2; backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}

	c.warn(err, "giving up reconnecting to %s", c.url())
	if policy.OnGiveUp != nil {
		policy.OnGiveUp(err)
	}
}
