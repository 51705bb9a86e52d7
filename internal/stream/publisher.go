package stream

// Publisher ties a sequencer, backlog and hub together into the
// producer side of one stream. Emit commits to the backlog before the
// hub so that subscribe-then-snapshot never misses a frame.
type Publisher struct {
	seq     Sequencer
	backlog *Backlog
	hub     *Hub
}

func NewPublisher() *Publisher {
	return &Publisher{
		backlog: NewBacklog(DefaultBacklogCap),
		hub:     NewHub(),
	}
}

// Emit assigns the next sequence number and publishes the frame.
func (p *Publisher) Emit(kind, data string) Frame {
	f := Frame{T: kind, Seq: p.seq.Next(), D: data}
	p.backlog.Push(f)
	p.hub.Send(f)
	return f
}

// EmitExit publishes the terminal exit frame and closes the hub.
// No frames may be emitted after this.
func (p *Publisher) EmitExit(code *int) {
	p.Emit(KindEvent, ExitData(code))
	p.hub.Close()
}

func (p *Publisher) LatestSeq() uint64 {
	return p.seq.Latest()
}

func (p *Publisher) Snapshot() []Frame {
	return p.backlog.Snapshot()
}

func (p *Publisher) Subscribe() (int, <-chan Frame) {
	return p.hub.Subscribe()
}

func (p *Publisher) Unsubscribe(id int) {
	p.hub.Unsubscribe(id)
}
