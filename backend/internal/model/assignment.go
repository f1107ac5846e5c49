package model

import "gorm.io/gorm"

// Assignment 员工-站点-排班绑定，对应 assignments
// ScheduleID 为空表示“在站点工作但无排班”
type Assignment struct {
	AssignmentID string  `gorm:"type:uuid;primaryKey"                         json:"assignment_id"`
	EmployeeID   string  `gorm:"type:uuid;not null;index:idx_assignment_pair" json:"employee_id"`
	SiteID       string  `gorm:"type:uuid;not null;index:idx_assignment_pair" json:"site_id"`
	ScheduleID   *string `gorm:"type:uuid"                                    json:"schedule_id,omitempty"`
	IsActive     bool    `gorm:"not null"                                     json:"is_active"`
	BaseModel

	// 关联
	Schedule *Schedule `gorm:"foreignKey:ScheduleID;references:ScheduleID" json:"schedule,omitempty"`
}

// TableName 指定表名
func (Assignment) TableName() string { return "assignments" }

// BeforeCreate 分配主键
func (a *Assignment) BeforeCreate(*gorm.DB) error {
	ensureID(&a.AssignmentID)
	return nil
}

// Employee 员工，对应 employees（外部系统同步，引擎只读）
type Employee struct {
	EmployeeID string `gorm:"type:uuid;primaryKey"       json:"employee_id"`
	Name       string `gorm:"type:varchar(100);not null" json:"name"`
	IsActive   bool   `gorm:"not null"                   json:"is_active"`
	BaseModel
}

// TableName 指定表名
func (Employee) TableName() string { return "employees" }

// BeforeCreate 分配主键
func (e *Employee) BeforeCreate(*gorm.DB) error {
	ensureID(&e.EmployeeID)
	return nil
}
