// Package errors provides structured, actionable error messages for the
// realm command.
//
// Each registered error has a code (e.g., "R201") that maps to a short
// message, a longer explanation and, where one helps, a hint:
//
//	err := errors.New("R201").Wrap(listenErr)
//	errors.PrintError(os.Stderr, err)
//	// Output:
//	// ERROR R201: Could not listen on address
//	//
//	//   listen tcp :7171: bind: address already in use
//	//
//	//   The game listener could not bind its address.
//	//
//	//   Hint: Check that no other process uses the port, or pick another with --port
//
// Codes are grouped by category: R1xx config, R2xx network and R3xx cli.
package errors
