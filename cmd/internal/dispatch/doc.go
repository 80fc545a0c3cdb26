// Package dispatch bridges issued one-time codes to the device gateway.
//
// The bridge renders the SMS text, hands it to the gateway under a fresh
// correlation id and records the outcome as the code's dispatch status.
// Dispatch status is informational; verification never reads it.
package dispatch
