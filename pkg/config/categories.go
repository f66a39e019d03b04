package config

// DefaultTraceCategories is the Chromium trace category allow-list used
// when the config file does not provide its own. Categories prefixed with
// "disabled-by-default-" carry higher overhead and are grouped separately
// on the submission form.
var DefaultTraceCategories = []string{
	"blink",
	"blink.console",
	"blink.net",
	"blink.resource",
	"blink.user_timing",
	"browser",
	"devtools",
	"devtools.timeline",
	"ipc",
	"loading",
	"mojom",
	"navigation",
	"net",
	"netlog",
	"rail",
	"resources",
	"scheduler",
	"sequence_manager",
	"toplevel",
	"toplevel.flow",
	"v8",
	"v8.execute",
	"disabled-by-default-devtools.screenshot",
	"disabled-by-default-ipc.flow",
	"disabled-by-default-net",
	"disabled-by-default-network",
	"disabled-by-default-toplevel.flow",
}

// DefaultSelectedCategories are the categories pre-checked on the
// submission form.
var DefaultSelectedCategories = []string{
	"blink",
	"blink.user_timing",
	"browser",
	"devtools.timeline",
	"loading",
	"navigation",
	"net",
	"rail",
	"toplevel",
	"v8",
	"disabled-by-default-devtools.screenshot",
}
