package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// Configuration errors (R100-R199)

	"R101": {
		Category:   CategoryConfig,
		Message:    "Configuration file could not be parsed",
		Detail:     "realm.json must be a JSON object. Durations are strings such as \"30s\" or \"50ms\".",
		Suggestion: "Check the file with a JSON linter",
	},
	"R102": {
		Category:   CategoryConfig,
		Message:    "Configuration file not found",
		Detail:     "No realm.json was found in this directory or any parent directory.",
		Suggestion: "Pass --config or run the command from the project directory",
	},
	"R103": {
		Category: CategoryConfig,
		Message:  "Invalid server configuration",
		Detail:   "One or more server settings are out of range.",
	},
	"R104": {
		Category:   CategoryConfig,
		Message:    "Invalid duration",
		Suggestion: "Use a Go duration string such as \"10s\" or \"250ms\"",
	},

	// Network errors (R200-R299)

	"R201": {
		Category:   CategoryNetwork,
		Message:    "Could not listen on address",
		Detail:     "The game listener could not bind its address.",
		Suggestion: "Check that no other process uses the port, or pick another with --port",
	},
	"R202": {
		Category:   CategoryNetwork,
		Message:    "Server unreachable",
		Detail:     "The TCP or WebSocket connection to the server could not be established.",
		Suggestion: "Check the address and that the server is running",
	},
	"R203": {
		Category: CategoryNetwork,
		Message:  "Handshake refused",
		Detail:   "The server closed the connection during the protocol handshake.",
	},
	"R204": {
		Category:   CategoryNetwork,
		Message:    "Admin server failed",
		Suggestion: "Pick another address with --admin-addr, or disable it with --admin-addr=off",
	},

	// CLI errors (R300-R399)

	"R301": {
		Category: CategoryCLI,
		Message:  "Invalid flag value",
	},
}

// Lookup returns the template for code.
func Lookup(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
