package console

// Pending is one in-flight console request, handed to the owner of the
// main event loop so it can be answered from main-thread state (spec §5
// "all in-memory state is main-thread private") instead of racing the
// accept goroutine's own stack.
type Pending struct {
	Req   Request
	reply chan Response
}

// Reply unblocks the accept goroutine waiting on this request.
func (p Pending) Reply(r Response) { p.reply <- r }

// Bridge decouples Server's per-connection goroutines from the
// single-threaded consumer that actually owns classifier/model state:
// Handler() is installed as the Server's Handler and blocks the calling
// goroutine until the main loop drains Pending() and replies.
type Bridge struct {
	ch chan Pending
}

func NewBridge() *Bridge { return &Bridge{ch: make(chan Pending)} }

func (b *Bridge) Handler() Handler {
	return func(req Request) Response {
		p := Pending{Req: req, reply: make(chan Response, 1)}
		b.ch <- p
		return <-p.reply
	}
}

// Pending is the channel the main loop selects on.
func (b *Bridge) Pending() <-chan Pending { return b.ch }
