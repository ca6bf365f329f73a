package domain

// IceServer is handed to clients so both peers gather candidates against the
// same STUN/TURN infrastructure.
type IceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}
