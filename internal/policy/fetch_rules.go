package policy

import (
	"errors"
	"net"
	"net/url"
	"strings"
)

var ErrFetchNotAllowed = errors.New("fetch target not allowed")

type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type FetchViolationError struct {
	URL       string
	Violation Violation
}

func (e *FetchViolationError) Error() string {
	return "fetch target not allowed: " + e.Violation.Message
}

func (e *FetchViolationError) Unwrap() error {
	return ErrFetchNotAllowed
}

// FetchRules decides which URLs the retrieval layer may request. Links come
// from chat users, so internal addresses are refused unless explicitly allowed.
type FetchRules struct {
	AllowPrivateNetworks bool
}

func (r FetchRules) Check(rawURL string) error {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return &FetchViolationError{URL: rawURL, Violation: Violation{Code: "invalid_url", Message: "url could not be parsed"}}
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return &FetchViolationError{URL: rawURL, Violation: Violation{Code: "unsupported_scheme", Message: "only http and https are fetched"}}
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return &FetchViolationError{URL: rawURL, Violation: Violation{Code: "missing_host", Message: "url has no host"}}
	}
	if r.AllowPrivateNetworks {
		return nil
	}

	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".internal") {
		return &FetchViolationError{URL: rawURL, Violation: Violation{Code: "private_host", Message: "host " + host + " is internal"}}
	}
	if ip := net.ParseIP(host); ip != nil && isPrivateIP(ip) {
		return &FetchViolationError{URL: rawURL, Violation: Violation{Code: "private_address", Message: "address " + host + " is not routable"}}
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast()
}
