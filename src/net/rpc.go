package net

// RPCResponse pairs a handler's reply with the error it produced, if any.
// Both travel back to the remote caller together.
type RPCResponse struct {
	Response interface{}
	Error    error
}

// RPC is one inbound request as delivered on the transport's Consumer
// channel. The node agent answers through RespChan and the transport relays
// the answer over the wire.
type RPC struct {
	Command  interface{}
	RespChan chan<- RPCResponse
}

// Respond sends the reply back through the response channel.
func (r *RPC) Respond(resp interface{}, err error) {
	r.RespChan <- RPCResponse{resp, err}
}
