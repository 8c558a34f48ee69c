package domain

import "time"

type SessionID string
type UserID string
type MessageID string

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Tier is the membership level used for daily quota enforcement.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Category classifies an agent within the hierarchy.
type Category string

const (
	CategoryManager    Category = "manager"
	CategoryDepartment Category = "department"
	CategorySpecialist Category = "specialist"
)

type Timestamp = time.Time
