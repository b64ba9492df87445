// ABOUTME: Device selection page
// ABOUTME: Serves the embedded HTML used to pick a receiver
package api

import (
	_ "embed"
	"net/http"
)

//go:embed cast.html
var castPage []byte

func (a *API) handleCastPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(castPage)
}
