package interfaces

// Observer receives per-operation measurements from queue pairs and
// completion queues. Implementations must be cheap and non-blocking: they
// are called from the posting and polling paths.
type Observer interface {
	// ObservePostSend is called once per PostSend with the number of work
	// requests accepted out of those requested.
	ObservePostSend(posted, requested int, latencyNs uint64, success bool)

	// ObservePostRecv is called once per PostRecv.
	ObservePostRecv(posted, requested int, latencyNs uint64, success bool)

	// ObservePoll is called once per Poll with the number of completions
	// returned and how many of them carried an error status.
	ObservePoll(completions, failed int, latencyNs uint64)

	// ObserveNotify is called each time the device is kicked. slow is true
	// when the command channel was used instead of a doorbell.
	ObserveNotify(slow bool)

	// ObserveInFlight is called after each post with the number of
	// descriptors the device currently owns on that queue.
	ObserveInFlight(depth uint32)
}
