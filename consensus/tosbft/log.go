package tosbft

import "github.com/inconshreveable/log15"

// log is the package-wide structured logger. Call sites follow the
// key-value convention log.Debug("message", "key", value, ...).
var log = log15.New("module", "tosbft")
