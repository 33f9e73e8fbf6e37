package models

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleAdmin
}

// Address is copied by value into an order, so later edits never touch past orders.
type Address struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Details   string `json:"details"`
	Pincode   string `json:"pincode"`
	IsDefault bool   `json:"is_default"`
}

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Addresses []Address `json:"addresses"`
}

func (u *User) Address(id string) (Address, bool) {
	for _, a := range u.Addresses {
		if a.ID == id {
			return a, true
		}
	}
	return Address{}, false
}

// DefaultAddress returns the address flagged default, else the first one.
func (u *User) DefaultAddress() (Address, bool) {
	for _, a := range u.Addresses {
		if a.IsDefault {
			return a, true
		}
	}
	if len(u.Addresses) > 0 {
		return u.Addresses[0], true
	}
	return Address{}, false
}
