package gateway

// originAllowed reports whether a browser Origin passes a key's allow-list.
// An empty list means the key has no origin restriction, and the single
// entry "*" is an explicit wildcard. Non-browser clients send no Origin
// header and are never checked.
func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}
