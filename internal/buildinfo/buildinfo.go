// Package buildinfo carries values stamped in with -ldflags at release time.
package buildinfo

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

// UserAgentVersion is the protocol version advertised in outbound webhook
// requests. It changes only when the envelope or headers change, not per release.
const UserAgentVersion = "1.0"

func Info() map[string]string {
	return map[string]string{
		"version":          Version,
		"commit":           Commit,
		"builtAt":          BuiltAt,
		"webhookUserAgent": UserAgent(),
	}
}

// UserAgent is sent on every outbound webhook request.
func UserAgent() string {
	return "Deskhooks-Webhook/" + UserAgentVersion
}
