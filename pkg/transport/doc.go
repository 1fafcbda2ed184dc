// Package transport provides the websocket transport for the streaming
// protocol: dial, connect handshake, keepalive pings and abnormal-close
// detection.
//
// A Conn is a single live websocket. It does not reconnect by itself;
// connection loss is reported to the Handler and the owner decides,
// typically through a connection.Manager. Close is cooperative and never
// counts as connection loss.
package transport
