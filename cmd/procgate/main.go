// Package main is the procgate command: it serves stored procedures as
// HTTP functions and offers operator commands around the same stack.
//
// Usage:
//
//	procgate [--config procgate.yaml] <command>
//
// Commands:
//   - serve: run the HTTP gateway
//   - call:  execute one function as a client, printing the response envelope
//   - token: mint a bearer token for a client or an admin
package main

func main() {
	Execute()
}
