package worker

// Trigger is a coalescing signal channel: any number of concurrent Fire
// calls collapse into at most one pending wakeup, so a burst of "rebuild
// requested" signals from several callers doesn't queue up redundant work.
type Trigger struct {
	ch chan struct{}
}

func NewTrigger() *Trigger {
	return &Trigger{ch: make(chan struct{}, 1)}
}

// Fire requests a wakeup. It never blocks: if one is already pending, this
// call is a no-op.
func (t *Trigger) Fire() {
	select {
	case t.ch <- struct{}{}:
	default:
	}
}

// C is the channel to select on to receive the coalesced wakeup.
func (t *Trigger) C() <-chan struct{} { return t.ch }
