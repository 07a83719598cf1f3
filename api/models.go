package api

// ErrorResponse is the body of every non-login error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// LoginErrorResponse is returned from POST /pub/login on failure. Code is
// stable: 1 mismatch, 2 locked, 3 disabled, 4 not activated.
type LoginErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// LoginRequest is the JSON body for POST /pub/login. Armour is base64 of the
// secret encrypted with the key from GET /pub/steel.
type LoginRequest struct {
	Account string `json:"account"`
	Armour  string `json:"armour"`
}

// InitRequest is the JSON body for POST /pub/account/init.
type InitRequest struct {
	Account string `json:"account"`
	Name    string `json:"name"`
	Armour  string `json:"armour"`
}

// CountResponse is returned from GET /pub/account/count.
type CountResponse struct {
	Count int `json:"count"`
}
