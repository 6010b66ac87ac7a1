package reactor

import "errors"

var (
	// errNoSuchChannel is returned by a Poller when asked to update or
	// remove a descriptor it has never seen.
	errNoSuchChannel = errors.New("goreactor: no such channel")

	// errChannelStillInterested is the panic value when a Channel whose
	// interest mask is not empty is removed from its Poller.
	errChannelStillInterested = errors.New("goreactor: channel has non-empty interest, remove() requires disableAll() first")

	// errAlreadyListening guards Acceptor.Listen against being called twice.
	errAlreadyListening = errors.New("goreactor: acceptor is already listening")

	// errNotInLoopThread is the message used by assertInLoopThread before aborting.
	errNotInLoopThread = errors.New("goreactor: operation invoked from outside the owning loop's thread")
)
