package model

type UserRole string

const (
	RoleCandidate UserRole = "candidate"
	RoleTeacher   UserRole = "teacher"
	RoleAdmin     UserRole = "admin"
)

// IsObserver 是否允许注册为监考端
func (r UserRole) IsObserver() bool {
	return r == RoleAdmin || r == RoleTeacher
}

// swagger:model User
type User struct {
	BaseModel
	Name     string   `gorm:"size:100;not null" json:"name"`
	Email    string   `gorm:"size:100;unique;not null" json:"email"`
	Password string   `gorm:"size:100;not null" json:"-"`
	Role     UserRole `gorm:"size:20;default:'candidate'" json:"role"`
	Disabled bool     `gorm:"default:false" json:"disabled"`
}

func (User) TableName() string {
	return "users"
}
