package models

// AuthResponse is returned by login and register.
// Access is empty when the backend relies on cookies only.
type AuthResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	User    *User  `json:"user,omitempty"`
	Details string `json:"details,omitempty"`
}

// RefreshResponse is returned by the token refresh endpoint
type RefreshResponse struct {
	Access string `json:"access"`
}

// MessageResponse is the generic {"message": ...} body
type MessageResponse struct {
	Message string `json:"message"`
}
