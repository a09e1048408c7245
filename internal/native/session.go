package native

import (
	"github.com/clickedinc/axr/internal/address"
	"github.com/clickedinc/axr/internal/render"
)

// Session is the native session layer as the client sees it. Requests are
// asynchronous: their outcome arrives later as an event on the queue.
//
// Link requests return ErrNotLinked when no link is up. The Disconnected
// event for the lost link is then already queued, or about to be.
type Session interface {
	CheckMessageQueue() (source uint64, data []byte, ok bool)
	RemoveFirstMessage()

	RequestConnect(addr address.LinkAddress) error
	RequestDisconnect()
	RequestPlay() error
	RequestStop() error
	RequestSendUserData(data []byte) error
	PrepareRender() error
	EnableNetworkTimeWarp(enable bool)

	render.Renderer
	RenderThread() render.RenderThread

	Close() error
}
