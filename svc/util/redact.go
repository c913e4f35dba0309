package util

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/url"
	"regexp"
)

var (
	secretPattern   = regexp.MustCompile(`(?i)(password|secret|pass)=([^\s&]+)`)
	userinfoPattern = regexp.MustCompile(`://([^:/@\s]+):([^@\s]+)@`)
	mysqlDSN        = regexp.MustCompile(`^([^:/@\s]+):([^@\s]*)@(\w*\()`)
)

func RedactSecret(s string) string {
	s = secretPattern.ReplaceAllString(s, "$1=[REDACTED]")
	return userinfoPattern.ReplaceAllString(s, "://$1:[REDACTED]@")
}

// RedactDSN hides the password of a connection string in URL, key=value or
// user:pass@tcp(...) form.
func RedactDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
			return u.String()
		}
	}
	if mysqlDSN.MatchString(dsn) {
		return mysqlDSN.ReplaceAllString(dsn, "$1:[REDACTED]@$3")
	}
	return RedactSecret(dsn)
}
func RedactIP(ip string) string {
	host, _, err := net.SplitHostPort(ip)
	if err == nil {
		ip = host
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		hash := sha256.Sum256([]byte(ip))
		return "hash:" + hex.EncodeToString(hash[:8])
	}
	if ipv4 := parsed.To4(); ipv4 != nil {
		ipv4[3] = 0
		return ipv4.String()
	}
	ipv6 := parsed.To16()
	for i := 4; i < 16; i++ {
		ipv6[i] = 0
	}
	return ipv6.String()
}
