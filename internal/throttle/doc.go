// Package throttle implements enet flow control: the loss-adaptive packet
// throttle that decides which unreliable commands are sent, and the
// bandwidth rules that size a peer's reliable window and cap its unreliable
// send rate.
package throttle
