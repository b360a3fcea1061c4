package model

import "strings"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleCustomer:
		return RoleCustomer, true
	case RoleStaff:
		return RoleStaff, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return "", false
	}
}

// Actor is the authenticated caller of a lifecycle operation.
type Actor struct {
	ID   string
	Role Role
}

type Customer struct {
	ID            string
	Name          string
	LoyaltyPoints int
}

type Pet struct {
	ID         string
	CustomerID string
	Name       string
}

type Service struct {
	ID           string
	Name         string
	DurationMins int
}

type Staff struct {
	ID   string
	Name string
	Role Role
}
