package models

import "errors"

type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Password string `json:"-"`
}

func NewUser(id, email, password string) *User {
	return &User{ID: id, Email: email, Password: password}
}

func ValidateUser(user *User) error {
	if user.Email == "" || user.Password == "" {
		return errors.New("empty fields detected")
	}
	return nil
}
