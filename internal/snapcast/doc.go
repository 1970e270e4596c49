// Package snapcast talks to a Snapcast server over its JSON-RPC 2.0
// control port.
//
// The wire format is one JSON object per line over TCP (default port 1705).
// Client owns the connection: it correlates responses to requests by id,
// hands server notifications to a callback, and reconnects with
// exponential backoff when the connection drops. Calls made while
// disconnected fail fast with ErrNotConnected; there are no retries.
//
// ZoneController and ClientController adapt the connection to the
// zone.Controller and client.Controller interfaces. Zones map onto a
// Snapcast group (mute, membership) and a stream (transport, repeat,
// shuffle, seek); clients map onto a Snapcast client id.
//
// At startup, Status reads Server.GetStatus so live zone and client state
// can be rebuilt from the server; see ZoneSeed and ClientSeed.
package snapcast
