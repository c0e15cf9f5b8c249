// Package cluster runs the HTTP service as one supervisor process and N
// worker processes.
//
// The supervisor re-executes its own binary once per worker. Each worker
// inherits three extra file descriptors:
//
//	fd 3  the shared TCP listener, so every worker accepts on one port
//	fd 4  the command pipe, supervisor -> worker
//	fd 5  the report pipe, worker -> supervisor
//
// Both pipes carry newline-delimited JSON envelopes (see Message). Workers
// send "metrics" and "health" reports; the supervisor sends "shutdown".
//
// A worker that exits on its own with a non-zero code, or is killed by a
// signal, is replaced at once. A worker that exits with code 0, or exits
// after the supervisor asked it to, is not.
package cluster
