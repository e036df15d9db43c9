// Command dporch launches one or more pipeline processes from JSON
// configuration files.
//
// Usage:
//
//	dporch config.json [config2.json ...]
//
// The first config path runs in this process; every additional path is
// spawned as its own worker subprocess. Ctrl-C (SIGINT) or SIGTERM
// triggers graceful cancellation of the in-process pipeline and signals
// every spawned worker to do the same.
package main
