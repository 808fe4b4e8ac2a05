package core

import "fmt"

// PolicyBlockedError is returned when a safety interlock (kill switch,
// disabled or paused target, unapproved candidate) refuses a job before
// any state is written.
type PolicyBlockedError struct {
	Reason string
}

func (e *PolicyBlockedError) Error() string {
	return fmt.Sprintf("blocked by policy: %s", e.Reason)
}

// OutOfScopeError is returned when a request URL falls outside the
// target's authorized scope. No network traffic is sent.
type OutOfScopeError struct {
	URL    string
	Domain string
}

func (e *OutOfScopeError) Error() string {
	return fmt.Sprintf("url %s is out of scope for target domain %s", e.URL, e.Domain)
}

// UnsupportedMethodError is returned for HTTP methods the executor
// does not know how to inject payloads into.
type UnsupportedMethodError struct {
	Method string
}

func (e *UnsupportedMethodError) Error() string {
	return fmt.Sprintf("unsupported http method for payload injection: %s", e.Method)
}
