// Package wire implements the text frame format of the tradewire protocol.
//
// All traffic on the streaming connection is carried as text frames:
//
//   - Handshake:    "connect <version> <json metadata>" answered by the
//     literal frame "connected".
//   - Subscribe:    "sub <id> <json>"
//   - Unsubscribe:  "unsub <id>"
//   - Inbound data: "<id> <code><payload>" where the code is a single
//     character (A=full, D=delta, C=complete, E=error) and the payload is
//     a full JSON document (A), a delta instruction sequence (D), empty
//     (C) or an error JSON (E).
//
// The package also defines ProtocolError, the error type raised whenever
// an inbound frame or delta instruction sequence violates the protocol.
// Protocol errors desynchronize a single subscription; they are never
// fatal to the connection.
package wire
