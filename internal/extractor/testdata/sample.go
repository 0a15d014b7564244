package sample

import (
	"fmt"
	str "strings"
)

// Base is a base struct.
type Base struct {
	ID int
}

// User is a complex struct.
type User struct {
	Base
	Name, Nickname string `json:"name"`
}

// Handler is an interface.
type Handler interface {
	fmt.Stringer
	Handle(ctx string, data interface{}) (int, error)
}

// Greet builds a greeting for u.
func Greet(u *User, sep string) string {
	return str.Join([]string{"hello", u.Label()}, sep)
}

// Label is a method.
func (u *User) Label() string {
	u.touch()
	fmt.Println(u.Name)
	_ = make([]int, 0)
	return Format(u.Name)
}

func (u *User) touch() {}

func Format(s string) string { return s }
