package model

import "time"

// MissionStatus описывает состояние миссии.
type MissionStatus string

const (
	// MissionTemplate: миссия, опубликованная администратором. Участники отчитываются по ней.
	MissionTemplate MissionStatus = "template"
	MissionPending  MissionStatus = "pending"
	MissionApproved MissionStatus = "approved"
	MissionRejected MissionStatus = "rejected"
)

// Reviewable сообщает, может ли администратор выставить миссии этот статус.
func (s MissionStatus) Reviewable() bool {
	return s == MissionPending || s == MissionApproved || s == MissionRejected
}

// Mission описывает опубликованную миссию или отчёт участника о её выполнении.
type Mission struct {
	ID     int64
	UserID int64
	// TemplateID ссылается на опубликованную миссию, по которой составлен отчёт.
	TemplateID   *int64
	Title        string
	Description  string
	ProofText    string
	ProofImage   string
	RewardPoints int64
	Status       MissionStatus
	// RewardedAt выставляется при первом одобрении, награда начисляется только один раз.
	RewardedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Clone возвращает глубокую копию миссии.
func (m Mission) Clone() Mission {
	c := m
	if m.TemplateID != nil {
		id := *m.TemplateID
		c.TemplateID = &id
	}
	if m.RewardedAt != nil {
		t := *m.RewardedAt
		c.RewardedAt = &t
	}
	return c
}

// MissionReport описывает отчёт участника о выполнении опубликованной миссии.
type MissionReport struct {
	TemplateID int64
	ProofText  string
	ProofImage string
}
