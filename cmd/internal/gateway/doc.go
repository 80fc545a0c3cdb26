// Package gateway routes SMS delivery requests to physically attached
// sending devices connected over WebSocket.
//
// The Gateway value owns both the device registry and the pending-request
// table behind one mutex. Every accepted request arms exactly one timer;
// whichever of {matching ack, timer} removes the pending entry first
// resolves the request, and the other becomes a no-op. Each Ticket therefore
// receives exactly one Resolution.
//
// Devices are unreliable: they connect and disconnect at will, may never
// ack, and may ack late. Late acks are dropped. A disconnect does not
// fail in-flight requests early; they resolve through their timers.
//
// Device status reports are optional, so a quiet connection is not closed
// for silence. Liveness comes from WebSocket pings sent every heartbeat
// interval: three consecutive failures close the connection. An idle read
// bound can be added with AUTOTM_GATEWAY_READ_IDLE_TIMEOUT.
package gateway
