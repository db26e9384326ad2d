package session

import (
	"fmt"

	"github.com/mssola/useragent"
)

// DeviceName extracts a human-readable display name from a User-Agent
// string, e.g. "Chrome on Linux". Shown to end users in session listings.
func DeviceName(userAgentString string) string {
	if userAgentString == "" {
		return "Unknown Device"
	}

	ua := useragent.New(userAgentString)
	browser, _ := ua.Browser()
	os := ua.OS()

	if browser == "" && os == "" {
		return "Unknown Device"
	}
	if browser == "" {
		return os
	}
	if os == "" {
		return browser
	}
	return fmt.Sprintf("%s on %s", browser, os)
}
