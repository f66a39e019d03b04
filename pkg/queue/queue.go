// Package queue hands submitted test ids to the build and test agents
// through beanstalkd. The front end is a producer only; delivery
// ordering and at-least-once semantics are the broker's problem.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/beanstalkd/go-beanstalk"
	"github.com/sirupsen/logrus"
	"github.com/traceomatic/traceomatic/pkg/config"
)

const (
	// putPriority is the beanstalk priority for submitted jobs. All
	// jobs are equal; the tube choice is the only routing dimension.
	putPriority = 1024

	// putTTR gives an agent two minutes to touch or finish a reserved
	// job before the broker hands it to another agent. Matches the
	// device agent's per-run time limit.
	putTTR = 120 * time.Second
)

// Producer pushes test ids onto a named tube.
type Producer interface {
	Put(ctx context.Context, tube, testID string) error
	Close() error
}

// Compile-time interface check.
var _ Producer = (*producer)(nil)

type producer struct {
	log  logrus.FieldLogger
	addr string

	mu   sync.Mutex // beanstalk connections are not multiplexed
	conn *beanstalk.Conn
}

// NewProducer creates a beanstalkd producer. The connection is
// established lazily on first Put so the server can start while the
// broker is down.
func NewProducer(log logrus.FieldLogger, cfg *config.QueueConfig) Producer {
	return &producer{
		log:  log.WithField("component", "queue"),
		addr: cfg.Address,
	}
}

// Put pushes a test id onto the given tube. On a broker error the
// cached connection is dropped and one reconnect is attempted before
// giving up.
func (p *producer) Put(ctx context.Context, tube, testID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.put(tube, testID); err != nil {
		// The connection may be stale (broker restart, idle timeout);
		// retry once on a fresh one.
		p.reset()

		if err := p.put(tube, testID); err != nil {
			return fmt.Errorf("enqueueing to %q: %w", tube, err)
		}
	}

	p.log.WithField("test", testID).
		WithField("tube", tube).
		Info("Test enqueued")

	return nil
}

// put performs one enqueue attempt on the cached connection, dialing
// first if needed. Callers hold p.mu.
func (p *producer) put(tube, testID string) error {
	if p.conn == nil {
		conn, err := beanstalk.Dial("tcp", p.addr)
		if err != nil {
			return fmt.Errorf("connecting to beanstalkd at %s: %w", p.addr, err)
		}

		p.conn = conn
	}

	t := beanstalk.NewTube(p.conn, tube)

	_, err := t.Put([]byte(testID), putPriority, 0, putTTR)

	return err
}

// reset discards the cached connection. Callers hold p.mu.
func (p *producer) reset() {
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close releases the broker connection.
func (p *producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}

	err := p.conn.Close()
	p.conn = nil

	return err
}
