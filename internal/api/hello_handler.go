package api

import (
	"net/http"

	"github.com/phrazzld/docsync-api/internal/api/shared"
)

// helloCode is the envelope code of the hello route.
const helloCode = 3020

// HelloResponse is the body of GET /api/.
type HelloResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Hello handles GET /api/ requests.
func Hello(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, HelloResponse{Code: helloCode, Msg: "hello"})
}
