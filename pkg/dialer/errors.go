package dialer

import "errors"

var (
	ErrNoTLSConfig  = errors.New("dialer: TlsConfig is required")
	ErrInvalidAddr  = errors.New("dialer: the address you provided is invalid")
	ErrHostNotFound = errors.New("dialer: no cluster member with that name")
	ErrGossipCreate = errors.New("dialer: could not start gossip membership")
	ErrGossipJoin   = errors.New("dialer: could not join gossip neighbours")
)
