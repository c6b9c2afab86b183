// Package pingpong implements a single-shot TCP ping-pong exchange.
//
// The server side (Listen, Serve, Handle) reads once from each accepted
// connection, at most MaxReceive bytes, and replies with the received bytes
// followed by Suffix. The client side (RunClient) sends Ping, waits for one
// reply and reports the round-trip time.
//
// Wire format: raw bytes, no delimiter, no length prefix. One receive and at
// most one send per connection on the server; one send and at most one
// receive on the client.
package pingpong
