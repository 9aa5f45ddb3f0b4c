package config

import (
	"fmt"
	"net/url"
	"strings"
)

const defaultArangoPort = "8529"

// ValidateEndpoint checks the endpoint scheme and port. A missing or
// non-default port is the most common cause of 401s against the database.
func ValidateEndpoint(endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("endpoint is empty")
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return fmt.Errorf("endpoint must start with http:// or https://")
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid endpoint format: %s", endpoint)
	}
	port := u.Port()
	if port == "" {
		return fmt.Errorf("endpoint is missing port number (expected %s://%s:%s)", u.Scheme, u.Hostname(), defaultArangoPort)
	}
	if port != defaultArangoPort {
		return fmt.Errorf("endpoint has non-standard port %s (expected %s://%s:%s)", port, u.Scheme, u.Hostname(), defaultArangoPort)
	}
	return nil
}

// CheckPassword lists formatting problems typically introduced by copy and paste.
func CheckPassword(password string) []string {
	if password == "" {
		return []string{"password is empty"}
	}
	var issues []string
	if strings.HasPrefix(password, " ") {
		issues = append(issues, "password has leading space(s)")
	}
	if strings.HasSuffix(password, " ") {
		issues = append(issues, "password has trailing space(s)")
	}
	if len(password) >= 2 {
		first, last := password[0], password[len(password)-1]
		if first == '"' && last == '"' {
			issues = append(issues, "password appears to be wrapped in quotes")
		}
		if first == '\'' && last == '\'' {
			issues = append(issues, "password appears to be wrapped in single quotes")
		}
	}
	return issues
}

// Report is the outcome of ValidateCredentials.
type Report struct {
	Endpoint    string
	Username    string
	PasswordSet bool
	Issues      []string
}

// Valid reports whether no issues were found.
func (r Report) Valid() bool {
	return len(r.Issues) == 0
}

// String renders the report for terminal output.
func (r Report) String() string {
	var b strings.Builder
	b.WriteString("Credential Validation Report\n")
	b.WriteString(strings.Repeat("=", 50) + "\n")
	if r.Valid() {
		b.WriteString("All credentials appear valid\n")
	} else {
		b.WriteString("Issues found:\n")
		for _, issue := range r.Issues {
			b.WriteString("  - " + issue + "\n")
		}
	}
	password := "NOT SET"
	if r.PasswordSet {
		password = "***MASKED***"
	}
	fmt.Fprintf(&b, "\nCurrent Configuration:\n  Endpoint: %s\n  Username: %s\n  Password: %s\n", r.Endpoint, r.Username, password)
	return b.String()
}

// ValidateCredentials checks the database credentials carried by cfg.
func ValidateCredentials(cfg Config) Report {
	report := Report{
		Endpoint:    cfg.ArangoEndpoint,
		Username:    cfg.ArangoUser,
		PasswordSet: cfg.ArangoPassword != "",
	}
	if cfg.ArangoEndpoint != "" {
		if err := ValidateEndpoint(cfg.ArangoEndpoint); err != nil {
			report.Issues = append(report.Issues, "endpoint issue: "+err.Error())
		}
	}
	if cfg.ArangoPassword != "" {
		for _, issue := range CheckPassword(cfg.ArangoPassword) {
			report.Issues = append(report.Issues, "password issue: "+issue)
		}
	}
	if cfg.ArangoUser != "" {
		if strings.TrimSpace(cfg.ArangoUser) == "" {
			report.Issues = append(report.Issues, "username is whitespace only")
		} else if strings.TrimSpace(cfg.ArangoUser) != cfg.ArangoUser {
			report.Issues = append(report.Issues, "username has leading/trailing spaces")
		}
	}
	return report
}
