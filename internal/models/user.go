package models

import (
	"time"
)

type User struct {
	ID          string    `json:"id" dynamodbav:"id"`
	PhoneNumber string    `json:"phone_number" dynamodbav:"phone_number"`
	Name        string    `json:"name,omitempty" dynamodbav:"name,omitempty"`
	CreatedAt   time.Time `json:"created_at" dynamodbav:"created_at"`
}

func (u *User) GetPK() string {
	return "USER#" + u.PhoneNumber
}

func (u *User) GetSK() string {
	return "METADATA"
}

// GetIDPK keys the mirror item that lets users be looked up by id.
func (u *User) GetIDPK() string {
	return "USERID#" + u.ID
}
