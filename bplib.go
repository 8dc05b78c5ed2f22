// Package bplib holds the shared error and option vocabulary for the
// Bundle Protocol agent. The channel engine itself lives in pkg/channel;
// this package is the equivalent of the teacher's root canopen.go/errors.go
// pair, kept free of any component-specific logic.
package bplib
