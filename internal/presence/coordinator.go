package presence

import "context"

// Coordinator turns counter updates into online/offline transitions for the
// connections of one worker.
type Coordinator struct {
	counter  Counter
	workerId string
}

func NewCoordinator(counter Counter, workerId string) *Coordinator {
	return &Coordinator{counter: counter, workerId: workerId}
}

func (c *Coordinator) WorkerId() string {
	return c.workerId
}

// AddConnection reports first=true when connId is the only live
// connection of userId in the pool.
func (c *Coordinator) AddConnection(ctx context.Context, userId, connId string) (bool, error) {
	n, added, err := c.counter.Add(ctx, c.workerId, userId, connId)
	if err != nil {
		return false, err
	}
	return added && n == 1, nil
}

// RemoveConnection reports last=true to exactly one caller: the one whose
// removal emptied the user's connection set.
func (c *Coordinator) RemoveConnection(ctx context.Context, userId, connId string) (bool, error) {
	n, removed, err := c.counter.Remove(ctx, c.workerId, userId, connId)
	if err != nil {
		return false, err
	}
	return removed && n == 0, nil
}

func (c *Coordinator) IsConnected(ctx context.Context, userId string) (bool, error) {
	n, err := c.counter.Count(ctx, userId)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Reap clears what a previous process with the same worker id left behind.
func (c *Coordinator) Reap(ctx context.Context) ([]string, error) {
	return c.counter.Reap(ctx, c.workerId)
}
