package websocket

// Serve runs the pumps of an accepted client and blocks until the socket is
// gone. The write pump gets its own goroutine; reading happens on the
// caller's, so frames reach onFrame in the order the peer sent them.
func Serve(c *Client, onFrame func(frame []byte)) error {
	go c.WritePump()
	return c.ReadPump(onFrame)
}
