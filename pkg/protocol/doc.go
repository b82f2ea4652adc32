// Package protocol implements the qight relay wire protocol.
//
// # Protocol Overview
//
// Every exchange happens on its own bidirectional stream: the client writes
// exactly one request, half-closes its send side, and reads exactly one
// response. The server half-closes after writing the response. A stream
// never carries a second command.
//
// # Requests
//
// The first four bytes of a stream classify the request:
//   - "SEND": binary request. A 4-byte big-endian length L follows, then L
//     bytes of an encoded envelope (see package envelope).
//   - anything else: a text command line terminated by "\n".
//
// Text commands use one canonical grammar, the command token and a single
// argument separated by one space:
//
//	HELLO <client_id>\n
//	FETCH <recipient>\n
//
// The command token is matched case-insensitively.
//
// # Responses
//
//	HELLO   "Welcome, <client_id>!\n"
//	SEND    "OK\n", or an "ERROR: ...\n" line
//	FETCH   zero or more (4-byte BE length, encoded envelope) records,
//	        then a 4-byte zero terminator
//	other   "ERROR: Unknown command\n"
//
// # Limits
//
// SEND bodies and FETCH records larger than DefaultMaxPayloadSize are
// rejected before any buffer is allocated. Text lines are buffered up to
// DefaultMaxCommandLineSize bytes.
package protocol
