package logger

import "strings"

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactIP masks the host portion of an IPv4 address for safe logging.
// "10.20.30.40" → "10.20.x.x". Anything that does not look like IPv4 is
// fully masked.
func RedactIP(ip string) string {
	octets := strings.Split(ip, ".")
	if len(octets) != 4 {
		return "x.x.x.x"
	}
	return octets[0] + "." + octets[1] + ".x.x"
}
