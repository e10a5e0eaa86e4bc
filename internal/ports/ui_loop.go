package ports

// UILoop is the UI goroutine's hand-off primitive. Post never blocks and runs fn on the UI
// goroutine in FIFO order. Hold and Release keep the UI alive while a session runs.
type UILoop interface {
	Post(fn func())
	Hold()
	Release()
}
