// Package validate holds the identifier and URL validation rules shared
// by every component that accepts caller-supplied strings (spec §3, §6, §7).
package validate

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

var missionIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// ValidateMissionID checks a mission identifier against spec §7's rule:
// it must match [A-Za-z0-9-]+.
func ValidateMissionID(id string) error {
	if id == "" {
		return fmt.Errorf("mission id must not be empty")
	}
	if !missionIDPattern.MatchString(id) {
		return fmt.Errorf("mission id must match [A-Za-z0-9-]+")
	}
	return nil
}

// ValidateAgentID checks that an agent identifier is a well-formed UUID
// (spec §7: "agent id is a UUID").
func ValidateAgentID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("agent id must be a UUID: %w", err)
	}
	return nil
}

// workerURLPattern matches a DNS label, or a label:port pair: lowercase
// letters, digits, hyphens, with an optional numeric port. Schemes and
// paths are rejected (spec §4.1: "schemes and paths are not permitted in
// a stored URL and are added by callers").
var workerURLPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(:[0-9]{1,5})?$`)

// ValidateWorkerURL checks a worker base URL against the restrictive
// pattern of spec §4.1: a DNS label or label:port pair, no scheme, no path.
func ValidateWorkerURL(url string) error {
	if url == "" {
		return fmt.Errorf("worker url must not be empty")
	}
	if !workerURLPattern.MatchString(url) {
		return fmt.Errorf("worker url must be a bare DNS label or label:port, with no scheme or path")
	}
	if idx := indexByte(url, ':'); idx >= 0 {
		port := url[idx+1:]
		if len(port) == 0 || len(port) > 5 {
			return fmt.Errorf("worker url port must be 1-65535")
		}
		n := 0
		for _, c := range port {
			n = n*10 + int(c-'0')
		}
		if n < 1 || n > 65535 {
			return fmt.Errorf("worker url port must be 1-65535")
		}
	}
	return nil
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}
