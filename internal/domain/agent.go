// Package domain contains core domain types for the tutormesh application.
package domain

import (
	"fmt"
	"strings"
)

// Role identifies the kind of agent behind an address.
type Role string

const (
	RoleStudent      Role = "student"
	RoleTutor        Role = "tutor"
	RoleKnowledge    Role = "knowledge"
	RoleAIAssessment Role = "ai_assessment"
)

// Roles lists every agent role in startup order.
var Roles = []Role{RoleKnowledge, RoleAIAssessment, RoleTutor, RoleStudent}

// ParseRole accepts the role name in any case, with dashes or underscores.
func ParseRole(s string) (Role, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	switch normalized {
	case "student":
		return RoleStudent, nil
	case "tutor":
		return RoleTutor, nil
	case "knowledge":
		return RoleKnowledge, nil
	case "ai_assessment", "aiassessment", "assessment":
		return RoleAIAssessment, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// AgentIdentity is the published identity of a running agent.
type AgentIdentity struct {
	Role    Role   `json:"role"`
	Address string `json:"address"`
}

// Endpoint returns the host:port suffix of a remotely reachable address.
func (a AgentIdentity) Endpoint() (string, bool) {
	return EndpointOf(a.Address)
}

func (a AgentIdentity) String() string {
	return string(a.Role) + "(" + a.Address + ")"
}

// EndpointOf splits "<name>@host:port" and returns host:port.
func EndpointOf(address string) (string, bool) {
	i := strings.LastIndexByte(address, '@')
	if i < 0 || i == len(address)-1 {
		return "", false
	}
	return address[i+1:], true
}
