// Package link implements the duplex websocket connection to the remote
// transcription endpoint. It sends binary audio and text control frames and
// exposes inbound frames as a channel until the connection closes or errors.
package link
