// Implements the FinalizeQueue, which holds commands that have run but not yet finalized.
// Commands are enqueued once their last tick commits

package sim

import (
	"fmt"
	"strings"
)

// FinalizeQueue is a FIFO of commands whose grid effects are committed but whose
// external effects (hardware, client replies) are still pending.
type FinalizeQueue struct {
	queue []Command
}

// Enqueue adds a command to the back of the queue.
func (fq *FinalizeQueue) Enqueue(c Command) {
	fq.queue = append(fq.queue, c)
}

func (fq *FinalizeQueue) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, c := range fq.queue {
		fmt.Fprintf(&sb, "%s%v", CommandName(c), c.OutputDroplets())
		if i < len(fq.queue)-1 {
			sb.WriteString(" ")
		}
	}
	sb.WriteString("]")
	return sb.String()
}

// Len returns the number of pending commands.
func (fq *FinalizeQueue) Len() int {
	return len(fq.queue)
}

// Peek returns the oldest pending command without removing it.
// Returns nil if the queue is empty.
func (fq *FinalizeQueue) Peek() Command {
	if len(fq.queue) == 0 {
		return nil
	}
	return fq.queue[0]
}

// Dequeue removes and returns the oldest pending command, or nil.
func (fq *FinalizeQueue) Dequeue() Command {
	if len(fq.queue) == 0 {
		return nil
	}
	c := fq.queue[0]
	fq.queue[0] = nil
	fq.queue = fq.queue[1:]
	return c
}
