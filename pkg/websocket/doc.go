// Package websocket is a client-side implementation of the WebSocket
// protocol (RFC 6455). It dials ws:// and wss:// servers, performs the
// opening HTTP upgrade handshake, exchanges framed text/binary messages
// (with continuation, ping, pong and close control frames), and performs
// an orderly closing handshake.
//
// The package handles masking (required of clients by RFC 6455 section
// 5.3), automatic fragmentation of outbound messages above a configured
// size, incremental UTF-8 validation of inbound text, subprotocol
// negotiation, ping/pong keepalive with pong-timeout detection, and
// read/write rate limiting.
//
// Out of scope: server-side accept logic, protocol extensions such as
// permessage-deflate, and HTTP/2 or HTTP/3 transport.
package websocket
