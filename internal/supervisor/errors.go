package supervisor

import "errors"

// ErrClientDisconnected is returned by a supervised request body once the
// client has gone away.
var ErrClientDisconnected = errors.New("client disconnected")

// errDisconnectObserved is the watcher's signal that it saw a disconnect.
var errDisconnectObserved = errors.New("disconnect observed")
