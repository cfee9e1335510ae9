package server

// Client is one connected peer speaking the request/response protocol.
type Client interface {
	// ReadRequest blocks until the next message arrives. A malformed message
	// returns a non-nil request (possibly empty) along with the error, so the
	// caller can answer it; transport failures return a nil request.
	ReadRequest() (*Request, error)

	// WriteResponse sends a response.
	WriteResponse(resp *Response) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the client's address for logging.
	RemoteAddr() string
}
