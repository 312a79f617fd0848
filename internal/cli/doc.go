// Package cli implements the fieldsync operator command line.
//
// Every command opens the local store named by the configuration, wires the
// engine services around it and closes everything before returning. The
// run command keeps the engine alive: connectivity probing, queue drain,
// storage cleanup and the photo directory watcher.
package cli
